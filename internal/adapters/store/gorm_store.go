package store

import (
	"context"
	"fmt"
	"time"

	"github.com/mikey/phish-guard/internal/core"
	"github.com/mikey/phish-guard/internal/tracing"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Config selects and tunes the SQL backend
type Config struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	LogLevel        string
}

// Open connects to the configured database and applies the pool settings
func Open(cfg Config) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported store driver: %s", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(gormLogLevel(cfg.LogLevel)),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s database", cfg.Driver)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "failed to access connection pool")
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	return db, nil
}

func gormLogLevel(level string) logger.LogLevel {
	switch level {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "info":
		return logger.Info
	default:
		return logger.Warn
	}
}

// GormStore persists records through gorm
type GormStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewGormStore(db *gorm.DB, logger *zap.Logger) *GormStore {
	return &GormStore{db: db, logger: logger}
}

// Migrate creates or updates the tables
func (s *GormStore) Migrate(ctx context.Context) error {
	err := s.db.WithContext(ctx).AutoMigrate(&core.EmailRecord{}, &core.QuarantineRecord{}, &core.UserAnalytics{})
	if err != nil {
		return persistence(err, "failed to migrate schema")
	}
	return nil
}

func (s *GormStore) WithinTx(ctx context.Context, fn func(tx core.Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{db: tx, logger: s.logger})
	})
}

func (s *GormStore) CreateEmail(ctx context.Context, rec *core.EmailRecord) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "GormStore.CreateEmail")
	defer span.Finish()
	tracing.TagComponentRepository(span)
	tracing.TagEntity(span, rec.ID)

	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		tracing.TraceErr(span, err)
		return persistence(err, "failed to create email")
	}
	return nil
}

func (s *GormStore) CreateQuarantine(ctx context.Context, rec *core.QuarantineRecord) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "GormStore.CreateQuarantine")
	defer span.Finish()
	tracing.TagComponentRepository(span)
	tracing.TagEntity(span, rec.ID)

	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		tracing.TraceErr(span, err)
		return persistence(err, "failed to create quarantine")
	}
	return nil
}

func (s *GormStore) GetQuarantine(ctx context.Context, id, userID string) (*core.QuarantineRecord, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "GormStore.GetQuarantine")
	defer span.Finish()
	tracing.TagComponentRepository(span)
	tracing.TagEntity(span, id)

	query := s.db.WithContext(ctx).Where("id = ?", id)
	if userID != "" {
		query = query.Where("user_id = ?", userID)
	}
	var rec core.QuarantineRecord
	if err := query.First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, core.ErrNotFound
		}
		tracing.TraceErr(span, err)
		return nil, persistence(err, "failed to get quarantine")
	}
	return &rec, nil
}

// MarkReleased is a conditional update so concurrent releases of one record
// produce a single winner
func (s *GormStore) MarkReleased(ctx context.Context, id string, releasedAt time.Time, reason string) (bool, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "GormStore.MarkReleased")
	defer span.Finish()
	tracing.TagComponentRepository(span)
	tracing.TagEntity(span, id)

	result := s.db.WithContext(ctx).
		Model(&core.QuarantineRecord{}).
		Where("id = ? AND released = ?", id, false).
		Updates(map[string]interface{}{
			"released":       true,
			"released_at":    releasedAt,
			"release_reason": reason,
		})
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return false, persistence(result.Error, "failed to release quarantine")
	}
	return result.RowsAffected == 1, nil
}

// IncrementAnalytics upserts the daily row in one statement. The average is
// assigned first since MySQL applies assignments left to right.
func (s *GormStore) IncrementAnalytics(ctx context.Context, sample core.AnalyticsSample) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "GormStore.IncrementAnalytics")
	defer span.Finish()
	tracing.TagComponentRepository(span)
	tracing.TagUser(span, sample.UserID)

	at := sample.At.UTC()
	row := &core.UserAnalytics{
		UserID:              sample.UserID,
		Day:                 core.DayKey(at),
		EmailsProcessed:     1,
		EmailsQuarantined:   boolToInt(sample.Quarantined),
		PhishingDetected:    boolToInt(sample.Phishing),
		AvgProcessingTimeMs: sample.ProcessingTimeMs,
		CreatedAt:           at,
		UpdatedAt:           at,
	}
	table := row.TableName()
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "day"}},
		DoUpdates: clause.Set{
			{
				Column: clause.Column{Name: "avg_processing_time_ms"},
				Value: gorm.Expr(fmt.Sprintf("(%[1]s.avg_processing_time_ms * %[1]s.emails_processed + ?) / (%[1]s.emails_processed + 1)", table),
					sample.ProcessingTimeMs),
			},
			{Column: clause.Column{Name: "emails_processed"}, Value: gorm.Expr(table + ".emails_processed + 1")},
			{Column: clause.Column{Name: "emails_quarantined"}, Value: gorm.Expr(table+".emails_quarantined + ?", row.EmailsQuarantined)},
			{Column: clause.Column{Name: "phishing_detected"}, Value: gorm.Expr(table+".phishing_detected + ?", row.PhishingDetected)},
			{Column: clause.Column{Name: "updated_at"}, Value: at},
		},
	}).Create(row).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return persistence(err, "failed to update user analytics")
	}
	return nil
}

func (s *GormStore) GetAnalytics(ctx context.Context, userID, day string) (*core.UserAnalytics, error) {
	var rec core.UserAnalytics
	err := s.db.WithContext(ctx).Where("user_id = ? AND day = ?", userID, day).First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, core.ErrNotFound
		}
		return nil, persistence(err, "failed to get user analytics")
	}
	return &rec, nil
}

func (s *GormStore) ListEmails(ctx context.Context, q core.EmailQuery) ([]core.EmailRecord, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "GormStore.ListEmails")
	defer span.Finish()
	tracing.TagComponentRepository(span)

	query := s.db.WithContext(ctx).Model(&core.EmailRecord{})
	if q.UserID != "" {
		query = query.Where("user_id = ?", q.UserID)
	}
	if !q.Since.IsZero() {
		query = query.Where("created_at >= ?", q.Since)
	}
	var out []core.EmailRecord
	if err := query.Order("created_at desc").Find(&out).Error; err != nil {
		tracing.TraceErr(span, err)
		return nil, persistence(err, "failed to list emails")
	}
	return out, nil
}

func (s *GormStore) ListQuarantines(ctx context.Context, q core.QuarantineQuery) ([]core.QuarantineRecord, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "GormStore.ListQuarantines")
	defer span.Finish()
	tracing.TagComponentRepository(span)

	query := s.db.WithContext(ctx).Model(&core.QuarantineRecord{})
	if q.UserID != "" {
		query = query.Where("user_id = ?", q.UserID)
	}
	if !q.Since.IsZero() {
		query = query.Where("quarantined_at >= ?", q.Since)
	}
	if q.Limit > 0 {
		query = query.Limit(q.Limit)
	}
	var out []core.QuarantineRecord
	if err := query.Order("quarantined_at desc").Find(&out).Error; err != nil {
		tracing.TraceErr(span, err)
		return nil, persistence(err, "failed to list quarantines")
	}
	return out, nil
}

func (s *GormStore) ListExpired(ctx context.Context, now time.Time, limit int) ([]core.QuarantineRecord, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "GormStore.ListExpired")
	defer span.Finish()
	tracing.TagComponentRepository(span)

	query := s.db.WithContext(ctx).
		Where("released = ? AND expiry_notified = ? AND expires_at < ?", false, false, now).
		Order("expires_at")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var out []core.QuarantineRecord
	if err := query.Find(&out).Error; err != nil {
		tracing.TraceErr(span, err)
		return nil, persistence(err, "failed to list expired quarantines")
	}
	return out, nil
}

func (s *GormStore) MarkExpiryNotified(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).
		Model(&core.QuarantineRecord{}).
		Where("id IN ?", ids).
		Update("expiry_notified", true).Error
	if err != nil {
		return persistence(err, "failed to mark expiry notified")
	}
	return nil
}

func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return persistence(err, "failed to access connection pool")
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return persistence(err, "database ping failed")
	}
	return nil
}

// Close releases the connection pool
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// persistence marks err as a store failure while keeping the cause
func persistence(err error, msg string) error {
	return errors.Wrap(fmt.Errorf("%w: %v", core.ErrPersistence, err), msg)
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
