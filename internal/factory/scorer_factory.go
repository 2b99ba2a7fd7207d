package factory

import (
	"context"
	"fmt"

	"github.com/mikey/phish-guard/internal/adapters/artifacts"
	"github.com/mikey/phish-guard/internal/config"
	"github.com/mikey/phish-guard/internal/core"
	"github.com/mikey/phish-guard/internal/scoring"
	"go.uber.org/zap"
)

// ScorerFactory selects the scorer variant at startup
type ScorerFactory struct {
	cfg    *config.Config
	llm    *LLMFactory
	logger *zap.Logger
}

// NewScorerFactory creates a new scorer factory
func NewScorerFactory(cfg *config.Config, llm *LLMFactory, logger *zap.Logger) *ScorerFactory {
	return &ScorerFactory{
		cfg:    cfg,
		llm:    llm,
		logger: logger,
	}
}

// CreateScorer builds the configured scorer. In ml mode the artifacts are
// loaded eagerly; a load failure is fatal unless the heuristic fallback is enabled.
func (f *ScorerFactory) CreateScorer(ctx context.Context) (core.Scorer, error) {
	scorerCfg, err := f.cfg.GetScorer()
	if err != nil {
		return nil, err
	}

	switch scorerCfg.Mode {
	case core.ScorerHeuristic:
		f.logger.Warn("Heuristic scorer selected, results are degraded")
		return scoring.NewHeuristicScorer(), nil
	case core.ScorerLLM:
		client, err := f.llm.CreateLLMClient()
		if err != nil {
			return nil, fmt.Errorf("failed to create LLM client: %w", err)
		}
		return scoring.NewLLMScorer(client, f.llm.ModelName(), f.cfg.GetLLM().Concurrency, f.logger), nil
	}

	source, err := f.createArtifactSource()
	if err != nil {
		return nil, err
	}
	registry := scoring.NewModelRegistry(f.cfg.GetModels().Dir, source, f.logger)
	if _, err := registry.Get(ctx); err != nil {
		if !scorerCfg.FallbackToHeuristic {
			return nil, err
		}
		f.logger.Warn("Model artifacts unavailable, falling back to heuristic scorer", zap.Error(err))
		return scoring.NewHeuristicScorer(), nil
	}
	return scoring.NewMLScorer(registry, scorerCfg.BatchSize, f.logger), nil
}

func (f *ScorerFactory) createArtifactSource() (core.ArtifactSource, error) {
	models := f.cfg.GetModels()
	if !models.S3.Enabled {
		return artifacts.LocalSource{}, nil
	}
	if models.S3.Bucket == "" {
		return nil, fmt.Errorf("models.s3.bucket is required when S3 artifacts are enabled")
	}
	return artifacts.NewS3Source(models.S3.Bucket, models.S3.Prefix, models.S3.Region, f.logger)
}
