package fusion

import (
	"math"
	"strings"

	"github.com/mikey/phish-guard/internal/core"
)

const (
	headerWeight  = 0.2
	urlWeight     = 0.3
	featureWeight = 0.1

	urgencyRisk    = 0.2
	attachmentRisk = 0.3
)

var urgencyWords = []string{"urgent", "immediate", "expires", "act now", "limited time"}

// Thresholds are the inclusive lower bounds of each threat level
type Thresholds struct {
	Low      float64 `mapstructure:"low"`
	Medium   float64 `mapstructure:"medium"`
	High     float64 `mapstructure:"high"`
	Critical float64 `mapstructure:"critical"`
}

// DefaultThresholds returns the standard banding
func DefaultThresholds() Thresholds {
	return Thresholds{Low: 0.3, Medium: 0.6, High: 0.8, Critical: 0.95}
}

// Classifier fuses the model probability with header and URL risk
type Classifier struct {
	thresholds Thresholds
}

// NewClassifier creates a classifier; zero thresholds take the defaults
func NewClassifier(t Thresholds) *Classifier {
	if t == (Thresholds{}) {
		t = DefaultThresholds()
	}
	return &Classifier{thresholds: t}
}

// Assess computes the total risk and its threat level
func (c *Classifier) Assess(probability float64, header core.HeaderAnalysis, url core.URLAnalysis, subject string, features core.FeatureVector) core.Assessment {
	featureRisk := FeatureRisk(subject, features)
	total := probability
	if header.RiskScore > 0 {
		total += header.RiskScore * headerWeight
	}
	if url.RiskScore > 0 {
		total += url.RiskScore * urlWeight
	}
	total += featureRisk * featureWeight
	total = math.Max(0, math.Min(total, 1.0))

	return core.Assessment{
		TotalRisk:   total,
		FeatureRisk: featureRisk,
		Level:       c.Level(total),
	}
}

// Level maps a total risk to its band
func (c *Classifier) Level(total float64) core.ThreatLevel {
	switch {
	case total >= c.thresholds.Critical:
		return core.ThreatCritical
	case total >= c.thresholds.High:
		return core.ThreatHigh
	case total >= c.thresholds.Medium:
		return core.ThreatMedium
	default:
		return core.ThreatLow
	}
}

// FeatureRisk adds urgency in the subject and suspicious attachments; the sum is not clamped
func FeatureRisk(subject string, features core.FeatureVector) float64 {
	var risk float64
	lower := strings.ToLower(subject)
	for _, w := range urgencyWords {
		if strings.Contains(lower, w) {
			risk += urgencyRisk
			break
		}
	}
	if features.HasSuspiciousAttachments > 0 {
		risk += attachmentRisk
	}
	return risk
}
