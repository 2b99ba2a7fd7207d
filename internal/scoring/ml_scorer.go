package scoring

import (
	"context"
	"fmt"
	"time"

	"github.com/mikey/phish-guard/internal/core"
	"go.uber.org/zap"
)

// MLScorer runs the TF-IDF, scaler and boosted tree pipeline
type MLScorer struct {
	registry  *ModelRegistry
	batchSize int
	logger    *zap.Logger
}

// NewMLScorer creates a new ML scorer
func NewMLScorer(registry *ModelRegistry, batchSize int, logger *zap.Logger) *MLScorer {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &MLScorer{
		registry:  registry,
		batchSize: batchSize,
		logger:    logger,
	}
}

func (s *MLScorer) Mode() core.ScorerMode {
	return core.ScorerML
}

func (s *MLScorer) Version() string {
	if a := s.registry.Current(); a != nil {
		return a.Version
	}
	return ""
}

func (s *MLScorer) Ready() error {
	_, err := s.registry.Get(context.Background())
	return err
}

func (s *MLScorer) Reload(ctx context.Context) error {
	return s.registry.Reload(ctx)
}

// Score predicts every request in chunks of the batch size. Items that fail
// get the safe default (0, 0.0) with Fallback set.
func (s *MLScorer) Score(ctx context.Context, reqs []core.ScoreRequest) ([]core.Prediction, error) {
	arts, err := s.registry.Get(ctx)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	out := make([]core.Prediction, len(reqs))
	fallbacks := 0
	for lo := 0; lo < len(reqs); lo += s.batchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		hi := min(lo+s.batchSize, len(reqs))

		rows := make([][]float64, hi-lo)
		models := make([]*Ensemble, hi-lo)
		for i := lo; i < hi; i++ {
			rows[i-lo], models[i-lo], err = s.vectorize(arts, reqs[i])
			if err != nil {
				s.logger.Warn("Using safe default for unscorable request", zap.Int("index", i), zap.Error(err))
			}
		}
		for i := lo; i < hi; i++ {
			if models[i-lo] == nil {
				out[i] = core.Prediction{Fallback: true}
				fallbacks++
				continue
			}
			p, err := predictSafely(models[i-lo], rows[i-lo])
			if err != nil {
				s.logger.Warn("Using safe default after prediction failure", zap.Int("index", i), zap.Error(err))
				fallbacks++
			}
			out[i] = p
		}
	}

	elapsed := time.Since(start)
	s.logger.Debug("Batch scored",
		zap.Int("count", len(reqs)),
		zap.Int("fallbacks", fallbacks),
		zap.Duration("elapsed", elapsed))
	return out, nil
}

// vectorize turns one request into a model row; a nil model means the request cannot be scored
func (s *MLScorer) vectorize(arts *Artifacts, req core.ScoreRequest) (row []float64, model *Ensemble, err error) {
	defer func() {
		if r := recover(); r != nil {
			row, model, err = nil, nil, fmt.Errorf("vectorize panic: %v", r)
		}
	}()

	switch r := req.(type) {
	case core.RawBodyRequest:
		return arts.Scaler.Dense(arts.Vectorizer.Transform(r.EmailBody)), arts.TextModel, nil
	case core.StructuredFeaturesRequest:
		if arts.FeatureModel == nil {
			return nil, nil, fmt.Errorf("no structured feature model loaded")
		}
		if !r.Features.Finite() {
			return nil, nil, fmt.Errorf("structured features contain non-finite values")
		}
		return r.Features.Values(), arts.FeatureModel, nil
	default:
		return nil, nil, fmt.Errorf("unsupported request type %T", req)
	}
}

func predictSafely(model *Ensemble, row []float64) (p core.Prediction, err error) {
	defer func() {
		if r := recover(); r != nil {
			p, err = core.Prediction{Fallback: true}, fmt.Errorf("predict panic: %v", r)
		}
	}()
	label, prob := model.Predict(row)
	return core.Prediction{Label: label, Probability: prob}, nil
}
