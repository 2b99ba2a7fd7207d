package core

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/mikey/phish-guard/internal/utils"
	"github.com/opentracing/opentracing-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	maxAddressLength = 255
	maxSubjectLength = 500
)

// ServiceOptions tunes the detection service
type ServiceOptions struct {
	CacheEnabled bool
	CacheTTL     time.Duration
	// Workers bounds concurrent feature extraction within a batch
	Workers int
}

// DetectionService is the core service for phishing detection
type DetectionService struct {
	extractor      FeatureExtractor
	parser         MessageParser
	scorer         Scorer
	urlAnalyzer    URLAnalyzer
	headerAnalyzer HeaderAnalyzer
	classifier     RiskClassifier
	quarantine     QuarantineManager
	store          Store
	cache          CacheRepository
	logger         *zap.Logger
	opts           ServiceOptions
	perf           *performanceTracker
	now            func() time.Time
}

// NewDetectionService creates a new detection service
func NewDetectionService(
	extractor FeatureExtractor,
	parser MessageParser,
	scorer Scorer,
	urlAnalyzer URLAnalyzer,
	headerAnalyzer HeaderAnalyzer,
	classifier RiskClassifier,
	quarantine QuarantineManager,
	store Store,
	cache CacheRepository,
	logger *zap.Logger,
	opts ServiceOptions,
) *DetectionService {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = time.Hour
	}
	return &DetectionService{
		extractor:      extractor,
		parser:         parser,
		scorer:         scorer,
		urlAnalyzer:    urlAnalyzer,
		headerAnalyzer: headerAnalyzer,
		classifier:     classifier,
		quarantine:     quarantine,
		store:          store,
		cache:          cache,
		logger:         logger,
		opts:           opts,
		perf:           newPerformanceTracker(100),
		now:            time.Now,
	}
}

// pending is one email travelling through a batch
type pending struct {
	email     *Email
	cacheKey  string
	features  FeatureVector
	signals   Signals
	result    *ClassificationResult
	err       error
	elapsedMs float64
	scoreIdx  int
	// dupOf points at an earlier item of the same batch with identical content
	dupOf *pending
}

// Classify runs the detection pipeline for one or more emails. The returned
// results always match the input in length and order; item failures are
// reported in the item's Error field.
func (s *DetectionService) Classify(ctx context.Context, emails []*Email, opts ClassifyOptions) (*ClassifyResponse, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "DetectionService.Classify")
	defer span.Finish()
	span.SetTag("batch_size", len(emails))

	if len(emails) == 0 {
		return nil, fmt.Errorf("%w: no emails to classify", ErrInputInvalid)
	}
	for i, e := range emails {
		if e == nil {
			return nil, fmt.Errorf("%w: email %d is empty", ErrInputInvalid, i)
		}
		if strings.TrimSpace(e.UserID) == "" {
			return nil, fmt.Errorf("%w: user_id is required for email classification", ErrInputInvalid)
		}
	}

	start := s.now()
	items := make([]*pending, len(emails))
	for i, e := range emails {
		items[i] = &pending{email: s.sanitize(e), scoreIdx: -1}
		items[i].cacheKey = contentKey(items[i].email)
	}

	if s.opts.CacheEnabled && s.cache != nil && !opts.ForceReprocess {
		first := make(map[string]*pending, len(items))
		for _, it := range items {
			if res, ok := s.lookupCache(ctx, it.cacheKey); ok {
				it.result = res
				continue
			}
			if f, ok := first[it.cacheKey]; ok {
				it.dupOf = f
				continue
			}
			first[it.cacheKey] = it
		}
	}

	if err := s.extractAll(ctx, items); err != nil {
		return nil, err
	}

	// one scorer call for every item still needing a prediction
	var reqs []ScoreRequest
	for _, it := range items {
		if it.result != nil || it.err != nil || it.dupOf != nil {
			continue
		}
		it.scoreIdx = len(reqs)
		reqs = append(reqs, RawBodyRequest{EmailBody: it.email.Body, Subject: it.email.Subject, Sender: it.email.From})
	}

	var preds []Prediction
	var inferenceShare float64
	if len(reqs) > 0 {
		inferStart := time.Now()
		var err error
		preds, err = s.scorer.Score(ctx, reqs)
		if err != nil {
			s.perf.recordError()
			s.logger.Error("Scoring failed", zap.Error(err), zap.Int("batch_size", len(reqs)))
			return nil, fmt.Errorf("failed to score emails: %w", err)
		}
		if len(preds) != len(reqs) {
			s.perf.recordError()
			return nil, fmt.Errorf("%w: scorer returned %d predictions for %d requests", ErrModelUnavailable, len(preds), len(reqs))
		}
		inferenceShare = msSince(inferStart) / float64(len(reqs))
	}

	for _, it := range items {
		if it.result != nil || it.dupOf != nil {
			continue
		}
		if it.err == nil {
			it.result, it.err = s.finalize(ctx, it, preds[it.scoreIdx], inferenceShare)
		}
		if it.err != nil {
			s.perf.recordError()
			s.logger.Error("Failed to classify email",
				zap.Error(it.err),
				zap.String("user_id", it.email.UserID),
				zap.String("sender", it.email.From))
			it.result = &ClassificationResult{
				Prediction:      LabelError,
				ConfidenceScore: 0,
				Quarantined:     false,
				Error:           it.err.Error(),
			}
			continue
		}
		s.perf.recordPrediction(it.result.ProcessingTimeMs)
		s.storeCache(ctx, it.cacheKey, it.result)
	}
	for _, it := range items {
		if it.dupOf != nil {
			res := *it.dupOf.result
			it.result = &res
		}
	}

	resp := &ClassifyResponse{
		Count:   len(items),
		Results: make([]*ClassificationResult, len(items)),
	}
	for i, it := range items {
		resp.Results[i] = it.result
	}
	resp.Statistics = batchStatistics(resp.Results, msSince(start))
	return resp, nil
}

// ClassifyOne classifies a single email and returns its error directly
func (s *DetectionService) ClassifyOne(ctx context.Context, email *Email, opts ClassifyOptions) (*ClassificationResult, error) {
	resp, err := s.Classify(ctx, []*Email{email}, opts)
	if err != nil {
		return nil, err
	}
	res := resp.Results[0]
	if res.Error != "" {
		return res, errors.New(res.Error)
	}
	return res, nil
}

// Predict runs the scorer on tagged requests without persisting anything
func (s *DetectionService) Predict(ctx context.Context, reqs []ScoreRequest) ([]Prediction, error) {
	if len(reqs) == 0 {
		return nil, fmt.Errorf("%w: no prediction requests", ErrInputInvalid)
	}
	start := time.Now()
	preds, err := s.scorer.Score(ctx, reqs)
	if err != nil {
		s.perf.recordError()
		return nil, err
	}
	share := msSince(start) / float64(len(reqs))
	for range preds {
		s.perf.recordPrediction(share)
	}
	return preds, nil
}

// Release releases a quarantined email on behalf of userID
func (s *DetectionService) Release(ctx context.Context, quarantineID, userID, reason string) (*ReleaseResult, error) {
	if strings.TrimSpace(quarantineID) == "" {
		return nil, fmt.Errorf("%w: quarantine id is required", ErrInputInvalid)
	}
	return s.quarantine.Release(ctx, quarantineID, userID, reason)
}

// BulkRelease releases several quarantined emails
func (s *DetectionService) BulkRelease(ctx context.Context, ids []string, userID, reason string) (*BulkReleaseResult, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: no quarantine ids", ErrInputInvalid)
	}
	return s.quarantine.BulkRelease(ctx, ids, userID, reason)
}

// ReloadModels swaps in fresh scoring artifacts when the scorer supports it
func (s *DetectionService) ReloadModels(ctx context.Context) (string, error) {
	reloader, ok := s.scorer.(ModelReloader)
	if !ok {
		return s.scorer.Version(), fmt.Errorf("%w: scorer mode %s does not load artifacts", ErrInputInvalid, s.scorer.Mode())
	}
	if err := reloader.Reload(ctx); err != nil {
		return s.scorer.Version(), err
	}
	s.logger.Info("Models reloaded", zap.String("model_version", s.scorer.Version()))
	return s.scorer.Version(), nil
}

func (s *DetectionService) sanitize(e *Email) *Email {
	out := *e
	if len(e.Raw) > 0 && s.parser != nil {
		parsed := s.parser.ParseRaw(e.Raw)
		if out.From == "" {
			out.From = parsed.From
		}
		if out.To == "" {
			out.To = parsed.To
		}
		if out.Subject == "" {
			out.Subject = parsed.Subject
		}
		if out.Body == "" {
			out.Body = parsed.Body
		}
		if len(out.Headers) == 0 {
			out.Headers = parsed.Headers
		}
	}
	if strings.TrimSpace(out.From) == "" {
		out.From = e.EnvelopeFrom
	}
	if strings.TrimSpace(out.To) == "" {
		out.To = e.EnvelopeTo
	}
	out.UserID = strings.TrimSpace(e.UserID)
	out.From = utils.ClipRunes(strings.TrimSpace(out.From), maxAddressLength)
	out.To = utils.ClipRunes(strings.TrimSpace(out.To), maxAddressLength)
	out.Subject = utils.ClipRunes(strings.TrimSpace(out.Subject), maxSubjectLength)
	out.Body = strings.TrimSpace(out.Body)
	if out.Headers == nil {
		out.Headers = map[string][]string{}
	}
	return &out
}

// contentKey namespaces the content hash by owner so results never leak across users
func contentKey(e *Email) string {
	sum := md5.Sum([]byte(e.From + e.Subject + e.Body))
	return e.UserID + ":" + hex.EncodeToString(sum[:])
}

func (s *DetectionService) lookupCache(ctx context.Context, key string) (*ClassificationResult, bool) {
	entry, err := s.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			s.logger.Warn("Cache lookup failed", zap.Error(err))
		}
		return nil, false
	}
	var res ClassificationResult
	if err := json.Unmarshal(entry.Payload, &res); err != nil {
		s.logger.Warn("Discarding unreadable cache entry", zap.Error(err))
		return nil, false
	}
	s.logger.Debug("Cache hit for email", zap.String("key", key))
	return &res, true
}

func (s *DetectionService) storeCache(ctx context.Context, key string, res *ClassificationResult) {
	if !s.opts.CacheEnabled || s.cache == nil {
		return
	}
	payload, err := json.Marshal(res)
	if err != nil {
		s.logger.Error("Failed to encode cache entry", zap.Error(err))
		return
	}
	now := s.now()
	entry := &CacheEntry{
		Key:       key,
		Payload:   payload,
		CreatedAt: now,
		ExpiresAt: now.Add(s.opts.CacheTTL),
	}
	if err := s.cache.Set(ctx, entry); err != nil {
		s.logger.Error("Failed to update cache", zap.Error(err))
	}
}

func (s *DetectionService) extractAll(ctx context.Context, items []*pending) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Workers)
	for _, it := range items {
		if it.result != nil || it.dupOf != nil {
			continue
		}
		it := it
		g.Go(func() error {
			start := time.Now()
			features, signals, err := s.extractor.Extract(gctx, it.email)
			it.elapsedMs += msSince(start)
			if err != nil {
				it.err = fmt.Errorf("failed to extract features: %w", err)
				return nil
			}
			it.features = features
			it.signals = signals
			return nil
		})
	}
	return g.Wait()
}

func (s *DetectionService) finalize(ctx context.Context, it *pending, pred Prediction, inferenceShare float64) (*ClassificationResult, error) {
	start := time.Now()
	e := it.email

	urlAnalysis := s.urlAnalyzer.Analyze(it.signals.URLs, it.signals.SenderDomain)
	headerAnalysis := s.headerAnalyzer.Analyze(e.Headers)
	assessment := s.classifier.Assess(pred.Probability, headerAnalysis, urlAnalysis, e.Subject, it.features)

	processingMs := round2(it.elapsedMs + inferenceShare + msSince(start))
	verdict := &Verdict{
		Email:            e,
		Prediction:       pred,
		Assessment:       assessment,
		Header:           headerAnalysis,
		URL:              urlAnalysis,
		Features:         it.features,
		URLs:             it.signals.URLs,
		ModelVersion:     s.scorer.Version(),
		ProcessingTimeMs: processingMs,
	}
	outcome, err := s.quarantine.Record(ctx, verdict)
	if err != nil {
		return nil, err
	}

	mode := s.scorer.Mode()
	res := &ClassificationResult{
		EmailID:            outcome.EmailID,
		Prediction:         LabelName(pred.Label),
		ConfidenceScore:    round4(pred.Probability),
		ThreatLevel:        assessment.Level,
		ProcessingTimeMs:   processingMs,
		URLsFound:          len(it.signals.URLs),
		HeaderAnalysis:     &headerAnalysis,
		URLAnalysis:        &urlAnalysis,
		ModelVersion:       s.scorer.Version(),
		Quarantined:        outcome.Quarantined,
		QuarantineID:       outcome.QuarantineID,
		ScorerMode:         mode,
		Degraded:           mode == ScorerHeuristic || pred.Fallback,
		EnrichmentDegraded: it.signals.EnrichmentDegraded,
	}

	s.logger.Info("Email classified",
		zap.String("user_id", e.UserID),
		zap.String("prediction", res.Prediction),
		zap.Float64("confidence", res.ConfidenceScore),
		zap.String("threat_level", string(res.ThreatLevel)),
		zap.Bool("quarantined", res.Quarantined),
		zap.Float64("processing_time_ms", processingMs))
	return res, nil
}

func batchStatistics(results []*ClassificationResult, totalMs float64) BatchStatistics {
	stats := BatchStatistics{TotalProcessed: len(results), TotalProcessingTimeMs: round2(totalMs)}
	for _, r := range results {
		if r.Error != "" {
			stats.Errors++
			continue
		}
		stats.SuccessfulClassifications++
		if r.Prediction == LabelPhish {
			stats.PhishingDetected++
		}
		if r.Quarantined {
			stats.EmailsQuarantined++
		}
	}
	if stats.SuccessfulClassifications > 0 {
		stats.DetectionRate = round2(float64(stats.PhishingDetected) / float64(stats.SuccessfulClassifications) * 100)
	}
	if len(results) > 0 {
		stats.AvgProcessingTimeMs = round2(totalMs / float64(len(results)))
	}
	return stats
}

func msSince(t time.Time) float64 {
	return float64(time.Since(t).Microseconds()) / 1000
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
