package scoring

import (
	"context"

	"github.com/mikey/phish-guard/internal/core"
)

// HeuristicVersion is reported as the model version in heuristic mode
const HeuristicVersion = "heuristic"

// HeuristicScorer always predicts legitimate with zero probability, leaving the
// verdict to the header, URL and feature rules of the risk classifier.
type HeuristicScorer struct{}

func NewHeuristicScorer() *HeuristicScorer {
	return &HeuristicScorer{}
}

func (HeuristicScorer) Mode() core.ScorerMode { return core.ScorerHeuristic }

func (HeuristicScorer) Version() string { return HeuristicVersion }

func (HeuristicScorer) Ready() error { return nil }

func (HeuristicScorer) Score(ctx context.Context, reqs []core.ScoreRequest) ([]core.Prediction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return make([]core.Prediction, len(reqs)), nil
}
