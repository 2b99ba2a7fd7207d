package factory

import (
	"fmt"

	"github.com/mikey/phish-guard/internal/adapters/openai"
	"github.com/mikey/phish-guard/internal/core"
)

func (f *LLMFactory) createOpenAIClient() (core.LLMClient, error) {
	openaiCfg := f.cfg.GetOpenAI()
	if openaiCfg.APIKey == "" && openaiCfg.BaseURL == "" {
		return nil, fmt.Errorf("openai API key is required")
	}

	return openai.NewOpenAIClient(
		openaiCfg.APIKey,
		openaiCfg.BaseURL,
		openaiCfg.ModelName,
		openaiCfg.MaxTokens,
		openaiCfg.Temperature,
		openaiCfg.TopP,
		openaiCfg.MaxBodySize,
		f.logger,
		f.textProcessor,
	), nil
}
