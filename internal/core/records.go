package core

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// EmailRecord is the persisted outcome of one processed message
type EmailRecord struct {
	ID               string         `gorm:"column:id;type:varchar(40);primaryKey" json:"id"`
	UserID           string         `gorm:"column:user_id;type:varchar(255);index:idx_emails_user_created" json:"user_id"`
	Sender           string         `gorm:"column:sender;type:varchar(255)" json:"sender"`
	Recipient        string         `gorm:"column:recipient;type:varchar(255)" json:"recipient"`
	Subject          string         `gorm:"column:subject;type:varchar(500)" json:"subject"`
	Body             string         `gorm:"column:body;type:text" json:"body"`
	Headers          HeaderMap      `gorm:"column:headers;type:text" json:"headers"`
	Prediction       string         `gorm:"column:prediction;type:varchar(20)" json:"prediction"`
	ConfidenceScore  float64        `gorm:"column:confidence_score" json:"confidence_score"`
	ThreatLevel      ThreatLevel    `gorm:"column:threat_level;type:varchar(20);index" json:"threat_level"`
	Status           EmailStatus    `gorm:"column:status;type:varchar(20);index" json:"status"`
	Features         FeatureSummary `gorm:"column:features;type:text" json:"features"`
	ModelVersion     string         `gorm:"column:model_version;type:varchar(50)" json:"model_version"`
	ProcessingTimeMs float64        `gorm:"column:processing_time_ms" json:"processing_time_ms"`
	URLsFound        StringList     `gorm:"column:urls_found;type:text" json:"urls_found"`
	ReleaseReason    string         `gorm:"column:release_reason;type:text" json:"release_reason,omitempty"`
	CreatedAt        time.Time      `gorm:"column:created_at;index:idx_emails_user_created" json:"created_at"`
	UpdatedAt        time.Time      `gorm:"column:updated_at" json:"updated_at"`
}

func (EmailRecord) TableName() string {
	return "emails"
}

// QuarantineRecord is a held message awaiting release or expiry
type QuarantineRecord struct {
	ID               string      `gorm:"column:id;type:varchar(40);primaryKey" json:"id"`
	UserID           string      `gorm:"column:user_id;type:varchar(255);index" json:"user_id"`
	EmailID          string      `gorm:"column:email_id;type:varchar(40);index" json:"email_id"`
	Sender           string      `gorm:"column:sender;type:varchar(255)" json:"sender"`
	Recipient        string      `gorm:"column:recipient;type:varchar(255)" json:"recipient"`
	Subject          string      `gorm:"column:subject;type:varchar(500)" json:"subject"`
	Body             string      `gorm:"column:body;type:text" json:"body"`
	Headers          HeaderMap   `gorm:"column:headers;type:text" json:"headers"`
	Reason           string      `gorm:"column:reason;type:text" json:"reason"`
	ThreatIndicators StringList  `gorm:"column:threat_indicators;type:text" json:"threat_indicators"`
	Prediction       string      `gorm:"column:prediction;type:varchar(20)" json:"prediction"`
	ConfidenceScore  float64     `gorm:"column:confidence_score" json:"confidence_score"`
	ThreatLevel      ThreatLevel `gorm:"column:threat_level;type:varchar(20)" json:"threat_level"`
	QuarantinedAt    time.Time   `gorm:"column:quarantined_at;index" json:"quarantined_at"`
	ExpiresAt        time.Time   `gorm:"column:expires_at;index" json:"expires_at"`
	Released         bool        `gorm:"column:released;default:false;index" json:"released"`
	ReleasedAt       *time.Time  `gorm:"column:released_at" json:"released_at,omitempty"`
	ReleaseReason    *string     `gorm:"column:release_reason;type:text" json:"release_reason,omitempty"`
	ExpiryNotified   bool        `gorm:"column:expiry_notified;default:false" json:"expiry_notified"`
}

func (QuarantineRecord) TableName() string {
	return "quarantines"
}

// UserAnalytics holds per-user daily counters
type UserAnalytics struct {
	ID                  uint      `gorm:"column:id;primaryKey;autoIncrement" json:"-"`
	UserID              string    `gorm:"column:user_id;type:varchar(255);uniqueIndex:idx_user_analytics_day" json:"user_id"`
	Day                 string    `gorm:"column:day;type:varchar(10);uniqueIndex:idx_user_analytics_day" json:"day"`
	EmailsProcessed     int64     `gorm:"column:emails_processed;default:0" json:"emails_processed"`
	EmailsQuarantined   int64     `gorm:"column:emails_quarantined;default:0" json:"emails_quarantined"`
	PhishingDetected    int64     `gorm:"column:phishing_detected;default:0" json:"phishing_detected"`
	AvgProcessingTimeMs float64   `gorm:"column:avg_processing_time_ms;default:0" json:"avg_processing_time_ms"`
	CreatedAt           time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt           time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (UserAnalytics) TableName() string {
	return "user_analytics"
}

// AnalyticsSample is one classification folded into the daily counters
type AnalyticsSample struct {
	UserID           string
	At               time.Time
	Quarantined      bool
	Phishing         bool
	ProcessingTimeMs float64
}

// DayKey returns the UTC calendar day of t
func DayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// Apply folds the sample into the counters using the weighted running mean
func (a *UserAnalytics) Apply(s AnalyticsSample) {
	n := float64(a.EmailsProcessed + 1)
	a.AvgProcessingTimeMs = (a.AvgProcessingTimeMs*(n-1) + s.ProcessingTimeMs) / n
	a.EmailsProcessed++
	if s.Quarantined {
		a.EmailsQuarantined++
	}
	if s.Phishing {
		a.PhishingDetected++
	}
}

// StringList is a string slice stored as a JSON column
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (l *StringList) Scan(value interface{}) error {
	return scanJSON(value, l)
}

// HeaderMap is a header mapping stored as a JSON column
type HeaderMap map[string][]string

func (h HeaderMap) Value() (driver.Value, error) {
	if h == nil {
		return "{}", nil
	}
	b, err := json.Marshal(h)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (h *HeaderMap) Scan(value interface{}) error {
	return scanJSON(value, h)
}

// FeatureSummary is the feature vector stored as a JSON column
type FeatureSummary map[string]float64

func (f FeatureSummary) Value() (driver.Value, error) {
	if f == nil {
		return "{}", nil
	}
	b, err := json.Marshal(f)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (f *FeatureSummary) Scan(value interface{}) error {
	return scanJSON(value, f)
}

func scanJSON(value interface{}, dest interface{}) error {
	switch v := value.(type) {
	case nil:
		return nil
	case []byte:
		if len(v) == 0 {
			return nil
		}
		return json.Unmarshal(v, dest)
	case string:
		if v == "" {
			return nil
		}
		return json.Unmarshal([]byte(v), dest)
	default:
		return fmt.Errorf("unsupported JSON column type %T", value)
	}
}
