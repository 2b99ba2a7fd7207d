package core

import (
	"time"
)

// Email represents an email message submitted for classification
type Email struct {
	From    string              `json:"sender"`
	To      string              `json:"recipient"`
	Subject string              `json:"subject"`
	Body    string              `json:"body"`
	Headers map[string][]string `json:"headers,omitempty"`
	UserID  string              `json:"user_id,omitempty"`
	// Attachments lists attachment filenames of a decoded MIME message.
	Attachments []string `json:"attachments,omitempty"`
	// Raw holds the original RFC 5322 message when one was received.
	Raw []byte `json:"-"`
	// EnvelopeFrom and EnvelopeTo carry the SMTP envelope; used only when
	// the message has no From or To header.
	EnvelopeFrom string `json:"-"`
	EnvelopeTo   string `json:"-"`
}

// ThreatLevel is the discrete risk band of a classified email
type ThreatLevel string

const (
	ThreatLow      ThreatLevel = "LOW"
	ThreatMedium   ThreatLevel = "MEDIUM"
	ThreatHigh     ThreatLevel = "HIGH"
	ThreatCritical ThreatLevel = "CRITICAL"
)

// ThreatLevels lists all levels from lowest to highest
var ThreatLevels = []ThreatLevel{ThreatLow, ThreatMedium, ThreatHigh, ThreatCritical}

// EmailStatus is the lifecycle state of a persisted email
type EmailStatus string

const (
	StatusProcessed   EmailStatus = "processed"
	StatusQuarantined EmailStatus = "quarantined"
	StatusReleased    EmailStatus = "released"
)

// Prediction labels
const (
	LabelLegit    = "legit"
	LabelPhish    = "phish"
	LabelReleased = "released"
	LabelError    = "error"
)

// LabelName maps a binary classifier output to its label
func LabelName(label int) string {
	if label == 1 {
		return LabelPhish
	}
	return LabelLegit
}

// ScorerMode identifies the scorer variant selected at startup
type ScorerMode string

const (
	ScorerML        ScorerMode = "ml"
	ScorerHeuristic ScorerMode = "heuristic"
	ScorerLLM       ScorerMode = "llm"
)

// Signals carries the raw observations gathered next to the feature vector
type Signals struct {
	URLs               []string `json:"urls"`
	Attachments        []string `json:"attachments,omitempty"`
	SenderDomain       string   `json:"sender_domain"`
	KeywordHits        []string `json:"keyword_hits,omitempty"`
	EnrichmentDegraded []string `json:"enrichment_degraded,omitempty"`
}

// URLAnalysis is the aggregate link risk of an email
type URLAnalysis struct {
	RiskScore      float64  `json:"risk_score"`
	SuspiciousURLs []string `json:"suspicious_urls"`
	ExternalLinks  int      `json:"external_links"`
}

// HeaderAnalysis is the authentication and spoofing risk of an email
type HeaderAnalysis struct {
	Indicators      []string `json:"suspicious_indicators"`
	RiskScore       float64  `json:"risk_score"`
	ChecksPerformed int      `json:"checks_performed"`
}

// Prediction is the raw scorer output for one request
type Prediction struct {
	Label       int     `json:"prediction"`
	Probability float64 `json:"probability"`
	// Fallback is set when the item could not be scored and holds the safe default.
	Fallback bool `json:"fallback,omitempty"`
}

// Assessment is the fused risk of one email
type Assessment struct {
	TotalRisk   float64     `json:"total_risk"`
	FeatureRisk float64     `json:"feature_risk"`
	Level       ThreatLevel `json:"threat_level"`
}

// ClassificationResult is the outcome returned for one email
type ClassificationResult struct {
	EmailID            string          `json:"email_id,omitempty"`
	Prediction         string          `json:"prediction"`
	ConfidenceScore    float64         `json:"confidence_score"`
	ThreatLevel        ThreatLevel     `json:"threat_level,omitempty"`
	ProcessingTimeMs   float64         `json:"processing_time_ms"`
	URLsFound          int             `json:"urls_found"`
	HeaderAnalysis     *HeaderAnalysis `json:"header_analysis,omitempty"`
	URLAnalysis        *URLAnalysis    `json:"url_analysis,omitempty"`
	ModelVersion       string          `json:"model_version,omitempty"`
	Quarantined        bool            `json:"quarantined"`
	QuarantineID       string          `json:"quarantine_id,omitempty"`
	ScorerMode         ScorerMode      `json:"scorer_mode,omitempty"`
	Degraded           bool            `json:"degraded"`
	EnrichmentDegraded []string        `json:"enrichment_degraded,omitempty"`
	Error              string          `json:"error,omitempty"`
}

// ClassifyOptions tunes a classification request
type ClassifyOptions struct {
	ForceReprocess bool
}

// BatchStatistics summarizes one classification request
type BatchStatistics struct {
	TotalProcessed            int     `json:"total_processed"`
	SuccessfulClassifications int     `json:"successful_classifications"`
	Errors                    int     `json:"errors"`
	PhishingDetected          int     `json:"phishing_detected"`
	EmailsQuarantined         int     `json:"emails_quarantined"`
	DetectionRate             float64 `json:"detection_rate"`
	TotalProcessingTimeMs     float64 `json:"total_processing_time_ms"`
	AvgProcessingTimeMs       float64 `json:"avg_processing_time_ms"`
}

// ClassifyResponse is returned for every classification request
type ClassifyResponse struct {
	Count      int                     `json:"count"`
	Results    []*ClassificationResult `json:"results"`
	Statistics BatchStatistics         `json:"statistics"`
}

// ReleaseStatus is the outcome of a release attempt
type ReleaseStatus string

const (
	ReleaseReleased        ReleaseStatus = "released"
	ReleaseAlreadyReleased ReleaseStatus = "already_released"
	ReleaseNotFound        ReleaseStatus = "not_found"
)

// ReleaseResult is the confirmation of a release attempt
type ReleaseResult struct {
	Status        ReleaseStatus `json:"status"`
	Message       string        `json:"message"`
	QuarantineID  string        `json:"quarantine_id"`
	EmailID       string        `json:"email_id,omitempty"`
	ReleaseReason string        `json:"release_reason,omitempty"`
	ReleasedAt    *time.Time    `json:"released_at,omitempty"`
}

// BulkReleaseError describes one failed id of a bulk release
type BulkReleaseError struct {
	QuarantineID string `json:"quarantine_id"`
	Error        string `json:"error"`
}

// BulkReleaseResult aggregates a bulk release
type BulkReleaseResult struct {
	Released     int                `json:"released"`
	Errors       int                `json:"errors"`
	Results      []*ReleaseResult   `json:"results"`
	ErrorDetails []BulkReleaseError `json:"error_details"`
}

// EventType names lifecycle events published to the broker
type EventType string

const (
	EventQuarantined       EventType = "email.quarantined"
	EventReleased          EventType = "email.released"
	EventQuarantineExpired EventType = "quarantine.expired"
)

// Event is a quarantine lifecycle notification
type Event struct {
	Type         EventType   `json:"type"`
	UserID       string      `json:"user_id"`
	EmailID      string      `json:"email_id,omitempty"`
	QuarantineID string      `json:"quarantine_id,omitempty"`
	ThreatLevel  ThreatLevel `json:"threat_level,omitempty"`
	Reason       string      `json:"reason,omitempty"`
	OccurredAt   time.Time   `json:"occurred_at"`
}

// LLMVerdict represents the result of an LLM phishing analysis
type LLMVerdict struct {
	IsPhish     bool
	Score       float64
	Confidence  float64
	Explanation string
	ModelUsed   string
}
