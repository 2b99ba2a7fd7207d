package core

import (
	"context"
	"time"
)

// FeatureExtractor turns an email into a feature vector and its signals
type FeatureExtractor interface {
	Extract(ctx context.Context, email *Email) (FeatureVector, Signals, error)
}

// MessageParser decodes a raw RFC 5322 message into an email
type MessageParser interface {
	ParseRaw(raw []byte) *Email
}

// Scorer yields phishing probabilities for a batch of requests.
// Results keep the order of reqs and have the same length.
type Scorer interface {
	Score(ctx context.Context, reqs []ScoreRequest) ([]Prediction, error)
	Mode() ScorerMode
	Version() string
	// Ready reports whether the scorer can serve requests
	Ready() error
}

// ModelReloader is implemented by scorers backed by reloadable artifacts
type ModelReloader interface {
	Reload(ctx context.Context) error
}

// URLAnalyzer scores the aggregate risk of the links in an email
type URLAnalyzer interface {
	Analyze(urls []string, senderDomain string) URLAnalysis
}

// HeaderAnalyzer scores authentication and spoofing risk of the headers
type HeaderAnalyzer interface {
	Analyze(headers map[string][]string) HeaderAnalysis
}

// RiskClassifier fuses the sub-scores into a threat level
type RiskClassifier interface {
	Assess(probability float64, header HeaderAnalysis, url URLAnalysis, subject string, features FeatureVector) Assessment
}

// Verdict is everything the lifecycle manager needs to persist one classification
type Verdict struct {
	Email            *Email
	Prediction       Prediction
	Assessment       Assessment
	Header           HeaderAnalysis
	URL              URLAnalysis
	Features         FeatureVector
	URLs             []string
	ModelVersion     string
	ProcessingTimeMs float64
}

// Outcome is the persisted result of a verdict
type Outcome struct {
	EmailID      string
	Quarantined  bool
	QuarantineID string
}

// QuarantineManager decides, persists and releases held messages
type QuarantineManager interface {
	ShouldQuarantine(pred Prediction, level ThreatLevel, url URLAnalysis, header HeaderAnalysis) bool
	Record(ctx context.Context, v *Verdict) (*Outcome, error)
	Release(ctx context.Context, quarantineID, userID, reason string) (*ReleaseResult, error)
	BulkRelease(ctx context.Context, ids []string, userID, reason string) (*BulkReleaseResult, error)
	SweepExpired(ctx context.Context) (int, error)
}

// EmailQuery filters email records
type EmailQuery struct {
	UserID string
	Since  time.Time
}

// QuarantineQuery filters quarantine records; results are newest first
type QuarantineQuery struct {
	UserID string
	Since  time.Time
	Limit  int
}

// Store is the record store for emails, quarantines and analytics
type Store interface {
	// WithinTx runs fn against a transactional store; an error from fn rolls back
	WithinTx(ctx context.Context, fn func(tx Store) error) error
	CreateEmail(ctx context.Context, rec *EmailRecord) error
	CreateQuarantine(ctx context.Context, rec *QuarantineRecord) error
	// GetQuarantine returns ErrNotFound when no record matches; an empty userID matches any owner
	GetQuarantine(ctx context.Context, id, userID string) (*QuarantineRecord, error)
	// MarkReleased sets the release fields only while released is false and reports whether it did
	MarkReleased(ctx context.Context, id string, releasedAt time.Time, reason string) (bool, error)
	IncrementAnalytics(ctx context.Context, sample AnalyticsSample) error
	GetAnalytics(ctx context.Context, userID string, day string) (*UserAnalytics, error)
	ListEmails(ctx context.Context, q EmailQuery) ([]EmailRecord, error)
	ListQuarantines(ctx context.Context, q QuarantineQuery) ([]QuarantineRecord, error)
	// ListExpired returns unreleased quarantines past expiry not yet notified
	ListExpired(ctx context.Context, now time.Time, limit int) ([]QuarantineRecord, error)
	MarkExpiryNotified(ctx context.Context, ids []string) error
	Ping(ctx context.Context) error
}

// CacheEntry is a cached classification result keyed by content hash
type CacheEntry struct {
	Key       string
	Payload   []byte
	CreatedAt time.Time
	ExpiresAt time.Time
}

// CacheRepository defines the interface for caching classification results
type CacheRepository interface {
	// Get returns ErrCacheMiss for absent or expired keys
	Get(ctx context.Context, key string) (*CacheEntry, error)
	Set(ctx context.Context, entry *CacheEntry) error
	Delete(ctx context.Context, key string) error
	Cleanup(ctx context.Context) error
}

// LLMClient defines the interface for interacting with LLM services
type LLMClient interface {
	AnalyzeEmail(ctx context.Context, email *Email) (*LLMVerdict, error)
}

// EventPublisher publishes quarantine lifecycle events
type EventPublisher interface {
	Publish(ctx context.Context, event *Event) error
}

// ArtifactSource fetches model artifacts into a local directory
type ArtifactSource interface {
	Sync(ctx context.Context, dir string) error
}

// DomainAgeLookup resolves the age of a domain registration
type DomainAgeLookup interface {
	DomainAgeDays(ctx context.Context, domain string) (int, error)
}

// SPFLookup checks whether a domain publishes an SPF record
type SPFLookup interface {
	HasSPFRecord(ctx context.Context, domain string) (bool, error)
}
