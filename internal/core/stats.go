package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/opentracing/opentracing-go"
)

// DetectionPerformance reports latency figures of the period
type DetectionPerformance struct {
	AvgProcessingTimeMs  float64 `json:"avg_processing_time_ms"`
	MaxProcessingTimeMs  float64 `json:"max_processing_time_ms"`
	TotalPredictionCalls int     `json:"total_prediction_calls"`
	ErrorCount           int     `json:"error_count"`
}

// DailyStats is one day of the detection breakdown
type DailyStats struct {
	Date             string  `json:"date"`
	TotalEmails      int     `json:"total_emails"`
	PhishingDetected int     `json:"phishing_detected"`
	DetectionRate    float64 `json:"detection_rate"`
}

// RecentActivity counts the last 24 hours
type RecentActivity struct {
	TotalEmails      int `json:"total_emails"`
	PhishingDetected int `json:"phishing_detected"`
}

// ModelInfo describes the active scorer
type ModelInfo struct {
	Version         string     `json:"version"`
	Mode            ScorerMode `json:"mode"`
	ArtifactsLoaded bool       `json:"artifacts_loaded"`
}

// DetectionStats is the dashboard summary of a period
type DetectionStats struct {
	PeriodDays               int                  `json:"period_days"`
	TotalEmailsProcessed     int                  `json:"total_emails_processed"`
	PhishingDetected         int                  `json:"phishing_detected"`
	EmailsQuarantined        int                  `json:"emails_quarantined"`
	EmailsReleased           int                  `json:"emails_released"`
	DetectionRatePercentage  float64              `json:"detection_rate_percentage"`
	QuarantineRatePercentage float64              `json:"quarantine_rate_percentage"`
	ReleaseRatePercentage    float64              `json:"release_rate_percentage"`
	Performance              DetectionPerformance `json:"performance"`
	ThreatDistribution       map[string]int       `json:"threat_distribution"`
	DailyBreakdown           []DailyStats         `json:"daily_breakdown"`
	RecentActivity24h        RecentActivity       `json:"recent_activity_24h"`
	ModelInfo                ModelInfo            `json:"model_info"`
}

// QuarantineSummary describes the quarantine of a period
type QuarantineSummary struct {
	PeriodDays              int            `json:"period_days"`
	TotalQuarantined        int            `json:"total_quarantined"`
	CurrentlyQuarantined    int            `json:"currently_quarantined"`
	ReleasedCount           int            `json:"released_count"`
	ExpiredCount            int            `json:"expired_count"`
	ReleaseRatePercentage   float64        `json:"release_rate_percentage"`
	TopQuarantineReasons    map[string]int `json:"top_quarantine_reasons"`
	ThreatLevelDistribution map[string]int `json:"threat_level_distribution"`
	PendingReview           int            `json:"pending_review"`
}

// Health states
const (
	HealthHealthy   = "healthy"
	HealthDegraded  = "degraded"
	HealthUnhealthy = "unhealthy"
)

// ComponentHealth is the probe result of one dependency
type ComponentHealth struct {
	Status       string `json:"status"`
	ModelVersion string `json:"model_version,omitempty"`
	Error        string `json:"error,omitempty"`
}

// HealthPerformance reports recent prediction latency
type HealthPerformance struct {
	AvgPredictionTimeMs float64 `json:"avg_prediction_time_ms"`
	TotalPredictions    int     `json:"total_predictions"`
	ErrorCount          int     `json:"error_count"`
	ErrorRate           float64 `json:"error_rate"`
}

// HealthReport is returned by the health probe
type HealthReport struct {
	Status      string                     `json:"status"`
	Timestamp   time.Time                  `json:"timestamp"`
	Components  map[string]ComponentHealth `json:"components"`
	Performance *HealthPerformance         `json:"performance,omitempty"`
}

// GetStats summarizes detections of the last days, optionally for one user
func (s *DetectionService) GetStats(ctx context.Context, userID string, days int) (*DetectionStats, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "DetectionService.GetStats")
	defer span.Finish()

	if days <= 0 {
		return nil, fmt.Errorf("%w: days must be positive", ErrInputInvalid)
	}
	now := s.now().UTC()
	since := now.Add(-time.Duration(days) * 24 * time.Hour)

	emails, err := s.store.ListEmails(ctx, EmailQuery{UserID: userID, Since: since})
	if err != nil {
		return nil, err
	}
	quarantines, err := s.store.ListQuarantines(ctx, QuarantineQuery{UserID: userID, Since: since})
	if err != nil {
		return nil, err
	}

	stats := &DetectionStats{
		PeriodDays:           days,
		TotalEmailsProcessed: len(emails),
		ThreatDistribution:   make(map[string]int, len(ThreatLevels)),
	}
	for _, level := range ThreatLevels {
		stats.ThreatDistribution[strings.ToLower(string(level))] = 0
	}

	last24h := now.Add(-24 * time.Hour)
	var totalTime float64
	for _, e := range emails {
		phish := e.Prediction == LabelPhish
		if phish {
			stats.PhishingDetected++
		}
		totalTime += e.ProcessingTimeMs
		if e.ProcessingTimeMs > stats.Performance.MaxProcessingTimeMs {
			stats.Performance.MaxProcessingTimeMs = e.ProcessingTimeMs
		}
		if key := strings.ToLower(string(e.ThreatLevel)); key != "" {
			if _, ok := stats.ThreatDistribution[key]; ok {
				stats.ThreatDistribution[key]++
			}
		}
		if !e.CreatedAt.Before(last24h) {
			stats.RecentActivity24h.TotalEmails++
			if phish {
				stats.RecentActivity24h.PhishingDetected++
			}
		}
	}
	for _, q := range quarantines {
		if q.Released {
			stats.EmailsReleased++
		} else {
			stats.EmailsQuarantined++
		}
	}

	if stats.TotalEmailsProcessed > 0 {
		total := float64(stats.TotalEmailsProcessed)
		stats.DetectionRatePercentage = round2(float64(stats.PhishingDetected) / total * 100)
		stats.QuarantineRatePercentage = round2(float64(stats.EmailsQuarantined) / total * 100)
		stats.Performance.AvgProcessingTimeMs = round2(totalTime / total)
	}
	if held := stats.EmailsQuarantined + stats.EmailsReleased; held > 0 {
		stats.ReleaseRatePercentage = round2(float64(stats.EmailsReleased) / float64(held) * 100)
	}

	calls, errs, _ := s.perf.snapshot()
	stats.Performance.TotalPredictionCalls = calls
	stats.Performance.ErrorCount = errs

	stats.DailyBreakdown = dailyBreakdown(emails, now, days)
	stats.ModelInfo = ModelInfo{
		Version:         s.scorer.Version(),
		Mode:            s.scorer.Mode(),
		ArtifactsLoaded: s.scorer.Ready() == nil,
	}
	return stats, nil
}

// dailyBreakdown buckets emails by UTC day, most recent day first
func dailyBreakdown(emails []EmailRecord, now time.Time, days int) []DailyStats {
	index := make(map[string]*DailyStats, days)
	out := make([]DailyStats, days)
	for i := 0; i < days; i++ {
		out[i].Date = DayKey(now.Add(-time.Duration(i) * 24 * time.Hour))
		index[out[i].Date] = &out[i]
	}
	for _, e := range emails {
		d, ok := index[DayKey(e.CreatedAt)]
		if !ok {
			continue
		}
		d.TotalEmails++
		if e.Prediction == LabelPhish {
			d.PhishingDetected++
		}
	}
	for i := range out {
		if out[i].TotalEmails > 0 {
			out[i].DetectionRate = round2(float64(out[i].PhishingDetected) / float64(out[i].TotalEmails) * 100)
		}
	}
	return out
}

// GetQuarantineSummary summarizes the quarantine of the last days, optionally for one user
func (s *DetectionService) GetQuarantineSummary(ctx context.Context, userID string, days int) (*QuarantineSummary, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "DetectionService.GetQuarantineSummary")
	defer span.Finish()

	if days <= 0 {
		return nil, fmt.Errorf("%w: days must be positive", ErrInputInvalid)
	}
	now := s.now().UTC()
	records, err := s.store.ListQuarantines(ctx, QuarantineQuery{
		UserID: userID,
		Since:  now.Add(-time.Duration(days) * 24 * time.Hour),
	})
	if err != nil {
		return nil, err
	}

	summary := &QuarantineSummary{
		PeriodDays:              days,
		TotalQuarantined:        len(records),
		TopQuarantineReasons:    map[string]int{},
		ThreatLevelDistribution: map[string]int{},
	}
	for _, q := range records {
		if q.Released {
			summary.ReleasedCount++
		} else {
			summary.CurrentlyQuarantined++
		}
		if q.ExpiresAt.Before(now) {
			summary.ExpiredCount++
		}
	}
	if summary.TotalQuarantined > 0 {
		summary.ReleaseRatePercentage = round2(float64(summary.ReleasedCount) / float64(summary.TotalQuarantined) * 100)
	}
	summary.PendingReview = summary.CurrentlyQuarantined - summary.ExpiredCount

	// reasons and levels over the latest 100 records; records arrive newest first
	recent := records
	if len(recent) > 100 {
		recent = recent[:100]
	}
	reasons := map[string]int{}
	for _, q := range recent {
		reason := q.Reason
		if reason == "" {
			reason = "Unknown"
		}
		reasons[strings.Split(reason, ";")[0]]++

		level := string(q.ThreatLevel)
		if level == "" {
			level = "UNKNOWN"
		}
		summary.ThreatLevelDistribution[level]++
	}
	for _, kv := range topCounts(reasons, 10) {
		summary.TopQuarantineReasons[kv.key] = kv.count
	}
	return summary, nil
}

type keyCount struct {
	key   string
	count int
}

func topCounts(m map[string]int, n int) []keyCount {
	out := make([]keyCount, 0, len(m))
	for k, v := range m {
		out = append(out, keyCount{k, v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].count != out[j].count {
			return out[i].count > out[j].count
		}
		return out[i].key < out[j].key
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// HealthCheck probes the scorer, the store and the cache
func (s *DetectionService) HealthCheck(ctx context.Context) *HealthReport {
	report := &HealthReport{
		Status:     HealthHealthy,
		Timestamp:  s.now().UTC(),
		Components: map[string]ComponentHealth{},
	}

	if err := s.scorer.Ready(); err != nil {
		report.Components["ml_models"] = ComponentHealth{Status: HealthUnhealthy, Error: err.Error()}
		report.Status = HealthDegraded
	} else {
		report.Components["ml_models"] = ComponentHealth{Status: HealthHealthy, ModelVersion: s.scorer.Version()}
	}

	if err := s.store.Ping(ctx); err != nil {
		report.Components["database"] = ComponentHealth{Status: HealthUnhealthy, Error: err.Error()}
		report.Status = HealthUnhealthy
	} else {
		report.Components["database"] = ComponentHealth{Status: HealthHealthy}
	}

	if s.opts.CacheEnabled && s.cache != nil {
		report.Components["cache"] = ComponentHealth{Status: HealthHealthy}
	}

	calls, errs, avg := s.perf.snapshot()
	if calls > 0 {
		report.Performance = &HealthPerformance{
			AvgPredictionTimeMs: round2(avg),
			TotalPredictions:    calls,
			ErrorCount:          errs,
			ErrorRate:           float64(errs) / float64(calls),
		}
	}
	return report
}

// performanceTracker keeps a window of recent prediction latencies
type performanceTracker struct {
	mu     sync.Mutex
	window []float64
	next   int
	filled bool
	total  int
	errors int
}

func newPerformanceTracker(size int) *performanceTracker {
	return &performanceTracker{window: make([]float64, size)}
}

func (p *performanceTracker) recordPrediction(ms float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.window[p.next] = ms
	p.next = (p.next + 1) % len(p.window)
	if p.next == 0 {
		p.filled = true
	}
	p.total++
}

func (p *performanceTracker) recordError() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errors++
}

// snapshot returns total predictions, errors and the mean of the window
func (p *performanceTracker) snapshot() (int, int, float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := p.next
	if p.filled {
		n = len(p.window)
	}
	if n == 0 {
		return p.total, p.errors, 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += p.window[i]
	}
	return p.total, p.errors, sum / float64(n)
}
