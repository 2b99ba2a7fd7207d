package scoring

import (
	"context"
	"fmt"

	"github.com/mikey/phish-guard/internal/core"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// LLMScorer asks a language model about each raw body request
type LLMScorer struct {
	client      core.LLMClient
	modelName   string
	concurrency int
	logger      *zap.Logger
}

// NewLLMScorer creates a scorer over client; concurrency bounds in-flight calls
func NewLLMScorer(client core.LLMClient, modelName string, concurrency int, logger *zap.Logger) *LLMScorer {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &LLMScorer{
		client:      client,
		modelName:   modelName,
		concurrency: concurrency,
		logger:      logger,
	}
}

func (s *LLMScorer) Mode() core.ScorerMode { return core.ScorerLLM }

func (s *LLMScorer) Version() string { return "llm:" + s.modelName }

func (s *LLMScorer) Ready() error {
	if s.client == nil {
		return fmt.Errorf("%w: no LLM client configured", core.ErrModelUnavailable)
	}
	return nil
}

// Close releases the client when it holds a connection
func (s *LLMScorer) Close() error {
	if closer, ok := s.client.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

// Score calls the model once per raw body request. Failed calls and
// structured requests get the safe default with Fallback set.
func (s *LLMScorer) Score(ctx context.Context, reqs []core.ScoreRequest) ([]core.Prediction, error) {
	if err := s.Ready(); err != nil {
		return nil, err
	}
	out := make([]core.Prediction, len(reqs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, req := range reqs {
		raw, ok := req.(core.RawBodyRequest)
		if !ok {
			out[i] = core.Prediction{Fallback: true}
			continue
		}
		i := i
		g.Go(func() error {
			out[i] = s.scoreOne(gctx, i, raw)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *LLMScorer) scoreOne(ctx context.Context, i int, req core.RawBodyRequest) core.Prediction {
	verdict, err := s.client.AnalyzeEmail(ctx, &core.Email{
		From:    req.Sender,
		Subject: req.Subject,
		Body:    req.EmailBody,
	})
	if err != nil {
		s.logger.Warn("LLM analysis failed, using safe default", zap.Int("index", i), zap.Error(err))
		return core.Prediction{Fallback: true}
	}
	p := clamp01(verdict.Score)
	label := 0
	if verdict.IsPhish && p > 0.5 {
		label = 1
	}
	return core.Prediction{Label: label, Probability: p}
}

func clamp01(v float64) float64 {
	switch {
	case v != v || v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
