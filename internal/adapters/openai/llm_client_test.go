package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mikey/phish-guard/internal/core"
	"github.com/mikey/phish-guard/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestAnalyzeEmail(t *testing.T) {
	// Arrange
	var gotModel string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&req)
		gotModel, _ = req["model"].(string)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"chatcmpl-1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"{\"is_phish\":true,\"score\":0.88,\"confidence\":0.7,\"explanation\":\"lookalike domain\"}"},"finish_reason":"stop"}],"usage":{"total_tokens":42}}`))
	}))
	defer srv.Close()
	logger := zap.NewNop()
	c := NewOpenAIClient("key", srv.URL+"/v1", "gpt-4o-mini", 300, 0, 1, 2048, logger, utils.NewTextProcessor(logger))

	// Act
	v, err := c.AnalyzeEmail(context.Background(), &core.Email{From: "it@examp1e.com", Subject: "Password expiry", Body: "reset here"})

	// Assert
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", gotModel)
	assert.True(t, v.IsPhish)
	assert.Equal(t, 0.88, v.Score)
	assert.Equal(t, "lookalike domain", v.Explanation)
}

func TestAnalyzeEmail_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
	}))
	defer srv.Close()
	logger := zap.NewNop()
	c := NewOpenAIClient("key", srv.URL+"/v1", "gpt-4o-mini", 300, 0, 1, 2048, logger, utils.NewTextProcessor(logger))

	_, err := c.AnalyzeEmail(context.Background(), &core.Email{})

	assert.Error(t, err)
}
