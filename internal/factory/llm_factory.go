package factory

import (
	"fmt"

	"github.com/mikey/phish-guard/internal/config"
	"github.com/mikey/phish-guard/internal/core"
	"github.com/mikey/phish-guard/internal/utils"
	"go.uber.org/zap"
)

// LLMFactory creates LLM clients
type LLMFactory struct {
	cfg           *config.Config
	logger        *zap.Logger
	textProcessor *utils.TextProcessor
}

// NewLLMFactory creates a new LLM factory
func NewLLMFactory(cfg *config.Config, logger *zap.Logger) *LLMFactory {
	return &LLMFactory{
		cfg:           cfg,
		logger:        logger,
		textProcessor: utils.NewTextProcessor(logger),
	}
}

// CreateLLMClient creates a new LLM client for the configured provider
func (f *LLMFactory) CreateLLMClient() (core.LLMClient, error) {
	llmConfig := f.cfg.GetLLM()

	switch llmConfig.Provider {
	case "bedrock":
		return f.createBedrockClient()
	case "gemini":
		return f.createGeminiClient()
	case "openai":
		return f.createOpenAIClient()
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", llmConfig.Provider)
	}
}

// ModelName reports the model of the configured provider
func (f *LLMFactory) ModelName() string {
	switch f.cfg.GetLLM().Provider {
	case "bedrock":
		return f.cfg.GetBedrock().ModelID
	case "gemini":
		return f.cfg.GetGemini().ModelName
	case "openai":
		return f.cfg.GetOpenAI().ModelName
	default:
		return ""
	}
}
