package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mikey/phish-guard/internal/core"
)

// Store operation names accepted by MemoryStore.Inject
const (
	OpCreateEmail        = "create_email"
	OpCreateQuarantine   = "create_quarantine"
	OpGetQuarantine      = "get_quarantine"
	OpMarkReleased       = "mark_released"
	OpIncrementAnalytics = "increment_analytics"
	OpList               = "list"
	OpPing               = "ping"
)

// FailureHook decides whether the call-th invocation (from 1) of an operation fails
type FailureHook func(call int) error

// MemoryStore is an in-process record store. Transactions stage the rows
// they write and merge them into the live set only when fn succeeds.
type MemoryStore struct {
	mu   sync.Mutex
	data *memData

	hookMu sync.Mutex
	hooks  map[string]FailureHook
	calls  map[string]int
}

type memData struct {
	emails      map[string]core.EmailRecord
	quarantines map[string]core.QuarantineRecord
	analytics   map[string]core.UserAnalytics
}

func newMemData() *memData {
	return &memData{
		emails:      make(map[string]core.EmailRecord),
		quarantines: make(map[string]core.QuarantineRecord),
		analytics:   make(map[string]core.UserAnalytics),
	}
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data:  newMemData(),
		hooks: make(map[string]FailureHook),
		calls: make(map[string]int),
	}
}

// Inject installs a failure hook for op
func (s *MemoryStore) Inject(op string, hook FailureHook) {
	s.hookMu.Lock()
	defer s.hookMu.Unlock()
	s.hooks[op] = hook
	s.calls[op] = 0
}

func (s *MemoryStore) fail(op string) error {
	s.hookMu.Lock()
	defer s.hookMu.Unlock()
	s.calls[op]++
	if hook, ok := s.hooks[op]; ok {
		return hook(s.calls[op])
	}
	return nil
}

// merge copies every staged row into d
func (d *memData) merge(staged *memData) {
	for k, v := range staged.emails {
		d.emails[k] = v
	}
	for k, v := range staged.quarantines {
		d.quarantines[k] = v
	}
	for k, v := range staged.analytics {
		d.analytics[k] = v
	}
}

func (s *MemoryStore) WithinTx(ctx context.Context, fn func(tx core.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{store: s, base: s.data, staged: newMemData()}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.data.merge(tx.staged)
	return nil
}

func (s *MemoryStore) run(fn func(tx *memTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&memTx{store: s, base: s.data})
}

func (s *MemoryStore) CreateEmail(ctx context.Context, rec *core.EmailRecord) error {
	return s.run(func(tx *memTx) error { return tx.CreateEmail(ctx, rec) })
}

func (s *MemoryStore) CreateQuarantine(ctx context.Context, rec *core.QuarantineRecord) error {
	return s.run(func(tx *memTx) error { return tx.CreateQuarantine(ctx, rec) })
}

func (s *MemoryStore) GetQuarantine(ctx context.Context, id, userID string) (rec *core.QuarantineRecord, err error) {
	err = s.run(func(tx *memTx) error {
		rec, err = tx.GetQuarantine(ctx, id, userID)
		return err
	})
	return rec, err
}

func (s *MemoryStore) MarkReleased(ctx context.Context, id string, releasedAt time.Time, reason string) (ok bool, err error) {
	err = s.run(func(tx *memTx) error {
		ok, err = tx.MarkReleased(ctx, id, releasedAt, reason)
		return err
	})
	return ok, err
}

func (s *MemoryStore) IncrementAnalytics(ctx context.Context, sample core.AnalyticsSample) error {
	return s.run(func(tx *memTx) error { return tx.IncrementAnalytics(ctx, sample) })
}

func (s *MemoryStore) GetAnalytics(ctx context.Context, userID, day string) (rec *core.UserAnalytics, err error) {
	err = s.run(func(tx *memTx) error {
		rec, err = tx.GetAnalytics(ctx, userID, day)
		return err
	})
	return rec, err
}

func (s *MemoryStore) ListEmails(ctx context.Context, q core.EmailQuery) (out []core.EmailRecord, err error) {
	err = s.run(func(tx *memTx) error {
		out, err = tx.ListEmails(ctx, q)
		return err
	})
	return out, err
}

func (s *MemoryStore) ListQuarantines(ctx context.Context, q core.QuarantineQuery) (out []core.QuarantineRecord, err error) {
	err = s.run(func(tx *memTx) error {
		out, err = tx.ListQuarantines(ctx, q)
		return err
	})
	return out, err
}

func (s *MemoryStore) ListExpired(ctx context.Context, now time.Time, limit int) (out []core.QuarantineRecord, err error) {
	err = s.run(func(tx *memTx) error {
		out, err = tx.ListExpired(ctx, now, limit)
		return err
	})
	return out, err
}

func (s *MemoryStore) MarkExpiryNotified(ctx context.Context, ids []string) error {
	return s.run(func(tx *memTx) error { return tx.MarkExpiryNotified(ctx, ids) })
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return s.fail(OpPing)
}

// memTx reads through staged writes to the live set; the owner holds the lock.
// Without a staged set writes go straight to the live set.
type memTx struct {
	store  *MemoryStore
	base   *memData
	staged *memData
}

func (t *memTx) writes() *memData {
	if t.staged != nil {
		return t.staged
	}
	return t.base
}

func (t *memTx) quarantine(id string) (core.QuarantineRecord, bool) {
	if t.staged != nil {
		if q, ok := t.staged.quarantines[id]; ok {
			return q, true
		}
	}
	q, ok := t.base.quarantines[id]
	return q, ok
}

func (t *memTx) analyticsRow(key string) (core.UserAnalytics, bool) {
	if t.staged != nil {
		if a, ok := t.staged.analytics[key]; ok {
			return a, true
		}
	}
	a, ok := t.base.analytics[key]
	return a, ok
}

func (t *memTx) eachEmail(fn func(core.EmailRecord)) {
	if t.staged != nil {
		for _, e := range t.staged.emails {
			fn(e)
		}
	}
	for id, e := range t.base.emails {
		if t.staged != nil {
			if _, ok := t.staged.emails[id]; ok {
				continue
			}
		}
		fn(e)
	}
}

func (t *memTx) eachQuarantine(fn func(core.QuarantineRecord)) {
	if t.staged != nil {
		for _, q := range t.staged.quarantines {
			fn(q)
		}
	}
	for id, q := range t.base.quarantines {
		if t.staged != nil {
			if _, ok := t.staged.quarantines[id]; ok {
				continue
			}
		}
		fn(q)
	}
}

func (t *memTx) WithinTx(ctx context.Context, fn func(tx core.Store) error) error {
	return fn(t)
}

func (t *memTx) CreateEmail(_ context.Context, rec *core.EmailRecord) error {
	if err := t.store.fail(OpCreateEmail); err != nil {
		return err
	}
	t.writes().emails[rec.ID] = *rec
	return nil
}

func (t *memTx) CreateQuarantine(_ context.Context, rec *core.QuarantineRecord) error {
	if err := t.store.fail(OpCreateQuarantine); err != nil {
		return err
	}
	t.writes().quarantines[rec.ID] = *rec
	return nil
}

func (t *memTx) GetQuarantine(_ context.Context, id, userID string) (*core.QuarantineRecord, error) {
	if err := t.store.fail(OpGetQuarantine); err != nil {
		return nil, err
	}
	q, ok := t.quarantine(id)
	if !ok || (userID != "" && q.UserID != userID) {
		return nil, core.ErrNotFound
	}
	return &q, nil
}

func (t *memTx) MarkReleased(_ context.Context, id string, releasedAt time.Time, reason string) (bool, error) {
	if err := t.store.fail(OpMarkReleased); err != nil {
		return false, err
	}
	q, ok := t.quarantine(id)
	if !ok || q.Released {
		return false, nil
	}
	q.Released = true
	q.ReleasedAt = &releasedAt
	q.ReleaseReason = &reason
	t.writes().quarantines[id] = q
	return true, nil
}

func (t *memTx) IncrementAnalytics(_ context.Context, sample core.AnalyticsSample) error {
	if err := t.store.fail(OpIncrementAnalytics); err != nil {
		return err
	}
	day := core.DayKey(sample.At)
	key := sample.UserID + "|" + day
	a, ok := t.analyticsRow(key)
	if !ok {
		a = core.UserAnalytics{UserID: sample.UserID, Day: day, CreatedAt: sample.At}
	}
	a.Apply(sample)
	a.UpdatedAt = sample.At
	t.writes().analytics[key] = a
	return nil
}

func (t *memTx) GetAnalytics(_ context.Context, userID, day string) (*core.UserAnalytics, error) {
	a, ok := t.analyticsRow(userID + "|" + day)
	if !ok {
		return nil, core.ErrNotFound
	}
	return &a, nil
}

func (t *memTx) ListEmails(_ context.Context, q core.EmailQuery) ([]core.EmailRecord, error) {
	if err := t.store.fail(OpList); err != nil {
		return nil, err
	}
	out := make([]core.EmailRecord, 0)
	t.eachEmail(func(e core.EmailRecord) {
		if q.UserID != "" && e.UserID != q.UserID {
			return
		}
		if !q.Since.IsZero() && e.CreatedAt.Before(q.Since) {
			return
		}
		out = append(out, e)
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (t *memTx) ListQuarantines(_ context.Context, q core.QuarantineQuery) ([]core.QuarantineRecord, error) {
	if err := t.store.fail(OpList); err != nil {
		return nil, err
	}
	out := make([]core.QuarantineRecord, 0)
	t.eachQuarantine(func(r core.QuarantineRecord) {
		if q.UserID != "" && r.UserID != q.UserID {
			return
		}
		if !q.Since.IsZero() && r.QuarantinedAt.Before(q.Since) {
			return
		}
		out = append(out, r)
	})
	sort.Slice(out, func(i, j int) bool { return out[i].QuarantinedAt.After(out[j].QuarantinedAt) })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (t *memTx) ListExpired(_ context.Context, now time.Time, limit int) ([]core.QuarantineRecord, error) {
	out := make([]core.QuarantineRecord, 0)
	t.eachQuarantine(func(r core.QuarantineRecord) {
		if !r.Released && !r.ExpiryNotified && r.ExpiresAt.Before(now) {
			out = append(out, r)
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (t *memTx) MarkExpiryNotified(_ context.Context, ids []string) error {
	for _, id := range ids {
		if q, ok := t.quarantine(id); ok {
			q.ExpiryNotified = true
			t.writes().quarantines[id] = q
		}
	}
	return nil
}

func (t *memTx) Ping(context.Context) error {
	return nil
}
