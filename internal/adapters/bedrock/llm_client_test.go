package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/mikey/phish-guard/internal/core"
	"github.com/mikey/phish-guard/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockRuntime struct {
	mock.Mock
}

func (m *mockRuntime) InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
	args := m.Called(ctx, params)
	out, _ := args.Get(0).(*bedrockruntime.InvokeModelOutput)
	return out, args.Error(1)
}

func newClient(rt *mockRuntime, model string) *BedrockClient {
	logger := zap.NewNop()
	return NewBedrockClient(rt, model, 500, 0.1, 0.9, 4096, logger, utils.NewTextProcessor(logger))
}

func TestAnalyzeEmail_Claude(t *testing.T) {
	// Arrange
	rt := &mockRuntime{}
	body := `{"content":[{"type":"text","text":"{\"is_phish\":true,\"score\":0.97,\"confidence\":0.9,\"explanation\":\"fake login\"}"}]}`
	rt.On("InvokeModel", mock.Anything, mock.MatchedBy(func(in *bedrockruntime.InvokeModelInput) bool {
		var req map[string]interface{}
		return json.Unmarshal(in.Body, &req) == nil && req["anthropic_version"] == "bedrock-2023-05-31"
	})).Return(&bedrockruntime.InvokeModelOutput{Body: []byte(body)}, nil)
	c := newClient(rt, "anthropic.claude-3-haiku-20240307-v1:0")

	// Act
	v, err := c.AnalyzeEmail(context.Background(), &core.Email{From: "x@y.tk", Subject: "Login", Body: "verify"})

	// Assert
	require.NoError(t, err)
	assert.True(t, v.IsPhish)
	assert.Equal(t, 0.97, v.Score)
	assert.Equal(t, "anthropic.claude-3-haiku-20240307-v1:0", v.ModelUsed)
	rt.AssertExpectations(t)
}

func TestAnalyzeEmail_Titan(t *testing.T) {
	rt := &mockRuntime{}
	body := `{"results":[{"outputText":"{\"is_phish\":false,\"score\":0.05}"}]}`
	rt.On("InvokeModel", mock.Anything, mock.Anything).Return(&bedrockruntime.InvokeModelOutput{Body: []byte(body)}, nil)

	v, err := newClient(rt, "amazon.titan-text-express-v1").AnalyzeEmail(context.Background(), &core.Email{})

	require.NoError(t, err)
	assert.False(t, v.IsPhish)
	assert.Equal(t, 0.05, v.Score)
}

func TestAnalyzeEmail_InvokeError(t *testing.T) {
	rt := &mockRuntime{}
	rt.On("InvokeModel", mock.Anything, mock.Anything).Return(nil, errors.New("throttled"))

	_, err := newClient(rt, "anthropic.claude-v2").AnalyzeEmail(context.Background(), &core.Email{})

	assert.ErrorContains(t, err, "throttled")
}
