package ports

import (
	"context"

	"github.com/mikey/phish-guard/internal/core"
)

// Classifier is the slice of the detection service the mail front ends use
type Classifier interface {
	ClassifyOne(ctx context.Context, email *core.Email, opts core.ClassifyOptions) (*core.ClassificationResult, error)
}

// EmailFilter defines the interface for inbound mail front ends
type EmailFilter interface {
	// Start starts the email filter service
	Start() error

	// Stop stops the email filter service
	Stop() error
}
