package cron

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mikey/phish-guard/internal/tracing"
	"github.com/opentracing/opentracing-go"
	cronv3 "github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const (
	JobExpirySweep = "quarantine_expiry_sweep"
	JobModelReload = "model_reload"

	jobTimeout = 10 * time.Minute
)

// Sweeper retires quarantine records past their retention
type Sweeper interface {
	SweepExpired(ctx context.Context) (int, error)
}

// Reloader swaps in fresh model artifacts
type Reloader interface {
	ReloadModels(ctx context.Context) (string, error)
}

// Schedules are cron specs or descriptors such as "@every 1h"; empty disables a job
type Schedules struct {
	ExpirySweep string
	ModelReload string
}

// CronManager runs the periodic maintenance jobs
type CronManager struct {
	logger    *zap.Logger
	schedules Schedules
	sweeper   Sweeper
	reloader  Reloader

	mu     sync.Mutex
	cron   *cronv3.Cron
	jobIDs map[string]cronv3.EntryID
}

// NewCronManager creates a manager; a nil reloader disables the reload job
func NewCronManager(schedules Schedules, sweeper Sweeper, reloader Reloader, logger *zap.Logger) *CronManager {
	return &CronManager{
		logger:    logger,
		schedules: schedules,
		sweeper:   sweeper,
		reloader:  reloader,
		jobIDs:    make(map[string]cronv3.EntryID),
	}
}

// Start registers the jobs and starts the scheduler
func (cm *CronManager) Start() error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	cl := cronLogger{cm.logger.Sugar()}
	c := cronv3.New(cronv3.WithChain(
		cronv3.SkipIfStillRunning(cl),
		cronv3.Recover(cl),
	))
	if err := cm.registerJobs(c); err != nil {
		return err
	}
	c.Start()
	cm.cron = c
	cm.logger.Info("Cron manager started", zap.Int("jobs", len(cm.jobIDs)))
	return nil
}

// Stop stops the scheduler and waits for running jobs
func (cm *CronManager) Stop() error {
	cm.mu.Lock()
	c := cm.cron
	cm.cron = nil
	cm.mu.Unlock()

	if c != nil {
		cm.logger.Info("Stopping cron manager")
		<-c.Stop().Done()
	}
	return nil
}

func (cm *CronManager) registerJobs(c *cronv3.Cron) error {
	if cm.schedules.ExpirySweep != "" && cm.sweeper != nil {
		id, err := c.AddFunc(cm.schedules.ExpirySweep, cm.runExpirySweep)
		if err != nil {
			return fmt.Errorf("could not add expiry sweep job: %w", err)
		}
		cm.jobIDs[JobExpirySweep] = id
		cm.logger.Info("Registered cron job", zap.String("job", JobExpirySweep), zap.String("schedule", cm.schedules.ExpirySweep))
	}
	if cm.schedules.ModelReload != "" && cm.reloader != nil {
		id, err := c.AddFunc(cm.schedules.ModelReload, cm.runModelReload)
		if err != nil {
			return fmt.Errorf("could not add model reload job: %w", err)
		}
		cm.jobIDs[JobModelReload] = id
		cm.logger.Info("Registered cron job", zap.String("job", JobModelReload), zap.String("schedule", cm.schedules.ModelReload))
	}
	return nil
}

func (cm *CronManager) runExpirySweep() {
	span, ctx := opentracing.StartSpanFromContext(context.Background(), "CronManager.runExpirySweep")
	defer span.Finish()
	tracing.TagComponentCronJob(span)
	ctx, cancel := context.WithTimeout(ctx, jobTimeout)
	defer cancel()

	n, err := cm.sweeper.SweepExpired(ctx)
	if err != nil {
		tracing.TraceErr(span, err)
		cm.logger.Error("Quarantine expiry sweep failed", zap.Int("expired", n), zap.Error(err))
		return
	}
	span.SetTag("expired", n)
	cm.logger.Info("Quarantine expiry sweep completed", zap.Int("expired", n))
}

func (cm *CronManager) runModelReload() {
	span, ctx := opentracing.StartSpanFromContext(context.Background(), "CronManager.runModelReload")
	defer span.Finish()
	tracing.TagComponentCronJob(span)
	ctx, cancel := context.WithTimeout(ctx, jobTimeout)
	defer cancel()

	version, err := cm.reloader.ReloadModels(ctx)
	if err != nil {
		tracing.TraceErr(span, err)
		cm.logger.Error("Scheduled model reload failed", zap.String("model_version", version), zap.Error(err))
		return
	}
	cm.logger.Info("Scheduled model reload completed", zap.String("model_version", version))
}

// cronLogger adapts zap to the scheduler's logger
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
