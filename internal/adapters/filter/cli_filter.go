package filter

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/mikey/phish-guard/internal/core"
	"github.com/mikey/phish-guard/internal/ports"
	"go.uber.org/zap"
)

// CliFilter classifies a single message and prints a report
type CliFilter struct {
	classifier ports.Classifier
	logger     *zap.Logger
	out        io.Writer
	verbose    bool
}

// NewCliFilter creates a new CLI filter
func NewCliFilter(classifier ports.Classifier, logger *zap.Logger, out io.Writer, verbose bool) *CliFilter {
	return &CliFilter{
		classifier: classifier,
		logger:     logger,
		out:        out,
		verbose:    verbose,
	}
}

// ProcessEmail classifies email and writes the report
func (f *CliFilter) ProcessEmail(ctx context.Context, email *core.Email) (*core.ClassificationResult, error) {
	f.logger.Debug("Processing email", zap.String("sender", email.From))

	fmt.Fprintf(f.out, "\n=== Email Summary ===\n")
	fmt.Fprintf(f.out, "From: %s\n", email.From)
	fmt.Fprintf(f.out, "To: %s\n", email.To)
	fmt.Fprintf(f.out, "Subject: %s\n", email.Subject)
	fmt.Fprintf(f.out, "Body length: %d bytes\n", len(email.Body))
	if f.verbose {
		preview := email.Body
		if len(preview) > 500 {
			preview = preview[:500] + "..."
		}
		fmt.Fprintf(f.out, "\nBody preview:\n%s\n", preview)
	}

	start := time.Now()
	result, err := f.classifier.ClassifyOne(ctx, email, core.ClassifyOptions{ForceReprocess: true})
	if err != nil {
		f.logger.Error("Failed to classify email", zap.Error(err))
		fmt.Fprintf(f.out, "Error: %v\n", err)
		return nil, err
	}

	fmt.Fprintf(f.out, "\n=== Results ===\n")
	fmt.Fprintf(f.out, "Prediction: %s\n", result.Prediction)
	fmt.Fprintf(f.out, "Confidence: %.4f\n", result.ConfidenceScore)
	fmt.Fprintf(f.out, "Threat level: %s\n", result.ThreatLevel)
	fmt.Fprintf(f.out, "Quarantined: %t\n", result.Quarantined)
	fmt.Fprintf(f.out, "URLs found: %d\n", result.URLsFound)
	if result.HeaderAnalysis != nil && len(result.HeaderAnalysis.Indicators) > 0 {
		fmt.Fprintf(f.out, "Header indicators: %s\n", strings.Join(result.HeaderAnalysis.Indicators, ", "))
	}
	if result.URLAnalysis != nil && len(result.URLAnalysis.SuspiciousURLs) > 0 {
		fmt.Fprintf(f.out, "Suspicious URLs: %s\n", strings.Join(result.URLAnalysis.SuspiciousURLs, ", "))
	}
	fmt.Fprintf(f.out, "Scorer: %s (model %s)\n", result.ScorerMode, result.ModelVersion)
	if result.Degraded {
		fmt.Fprintf(f.out, "Degraded: results come from a fallback scorer\n")
	}
	fmt.Fprintf(f.out, "Processing time: %v\n", time.Since(start))

	return result, nil
}

// Start is a no-op for the CLI filter
func (f *CliFilter) Start() error {
	return nil
}

// Stop is a no-op for the CLI filter
func (f *CliFilter) Stop() error {
	return nil
}
