package cron

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type countingSweeper struct {
	calls atomic.Int32
	err   error
}

func (s *countingSweeper) SweepExpired(context.Context) (int, error) {
	s.calls.Add(1)
	return 3, s.err
}

type countingReloader struct {
	calls atomic.Int32
}

func (r *countingReloader) ReloadModels(context.Context) (string, error) {
	r.calls.Add(1)
	return "2.0.0", nil
}

func TestStart_RegistersJobs(t *testing.T) {
	cm := NewCronManager(Schedules{ExpirySweep: "@every 1h", ModelReload: "@every 6h"}, &countingSweeper{}, &countingReloader{}, zap.NewNop())

	require.NoError(t, cm.Start())
	defer cm.Stop()

	assert.Contains(t, cm.jobIDs, JobExpirySweep)
	assert.Contains(t, cm.jobIDs, JobModelReload)
	assert.Len(t, cm.cron.Entries(), 2)
}

func TestStart_NilReloaderSkipsReloadJob(t *testing.T) {
	cm := NewCronManager(Schedules{ExpirySweep: "@every 1h", ModelReload: "@every 6h"}, &countingSweeper{}, nil, zap.NewNop())

	require.NoError(t, cm.Start())
	defer cm.Stop()

	assert.NotContains(t, cm.jobIDs, JobModelReload)
}

func TestStart_InvalidSchedule(t *testing.T) {
	cm := NewCronManager(Schedules{ExpirySweep: "every hour please"}, &countingSweeper{}, nil, zap.NewNop())

	err := cm.Start()

	assert.ErrorContains(t, err, "expiry sweep")
}

func TestJobsCallThrough(t *testing.T) {
	sweeper := &countingSweeper{}
	reloader := &countingReloader{}
	cm := NewCronManager(Schedules{}, sweeper, reloader, zap.NewNop())

	cm.runExpirySweep()
	cm.runModelReload()
	sweeper.err = errors.New("db down")
	cm.runExpirySweep()

	assert.Equal(t, int32(2), sweeper.calls.Load())
	assert.Equal(t, int32(1), reloader.calls.Load())
}

func TestStop_Idempotent(t *testing.T) {
	cm := NewCronManager(Schedules{}, nil, nil, zap.NewNop())
	require.NoError(t, cm.Start())

	assert.NoError(t, cm.Stop())
	assert.NoError(t, cm.Stop())
}
