package openai

import (
	"context"
	"fmt"

	"github.com/mikey/phish-guard/internal/adapters/llmprompt"
	"github.com/mikey/phish-guard/internal/core"
	"github.com/mikey/phish-guard/internal/utils"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// OpenAIClient asks an OpenAI chat model for a phishing verdict
type OpenAIClient struct {
	client        *openai.Client
	modelName     string
	maxTokens     int
	temperature   float32
	topP          float32
	maxBodySize   int
	logger        *zap.Logger
	textProcessor *utils.TextProcessor
}

// NewOpenAIClient creates a new OpenAI client; a non-empty baseURL targets a compatible endpoint
func NewOpenAIClient(
	apiKey string,
	baseURL string,
	modelName string,
	maxTokens int,
	temperature float32,
	topP float32,
	maxBodySize int,
	logger *zap.Logger,
	textProcessor *utils.TextProcessor,
) *OpenAIClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIClient{
		client:        openai.NewClientWithConfig(cfg),
		modelName:     modelName,
		maxTokens:     maxTokens,
		temperature:   temperature,
		topP:          topP,
		maxBodySize:   maxBodySize,
		logger:        logger,
		textProcessor: textProcessor,
	}
}

func (c *OpenAIClient) AnalyzeEmail(ctx context.Context, email *core.Email) (*core.LLMVerdict, error) {
	req := openai.ChatCompletionRequest{
		Model: c.modelName,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: llmprompt.System},
			{Role: openai.ChatMessageRoleUser, Content: llmprompt.Format(email, c.maxBodySize, c.textProcessor)},
		},
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
		TopP:        c.topP,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat completion with OpenAI: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("empty response from OpenAI")
	}

	c.logger.Debug("OpenAI verdict received",
		zap.String("model", c.modelName),
		zap.String("response_id", resp.ID),
		zap.Int("total_tokens", resp.Usage.TotalTokens))
	return llmprompt.ParseVerdict(resp.Choices[0].Message.Content, c.modelName)
}
