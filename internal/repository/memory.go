package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jamesl1500/taskispace.com-sub003/internal/domain"
)

// MemoryStore keeps subscriptions, processed events and usage counters in
// process memory. It implements SubscriptionStore and UsageStore with the same
// atomicity guarantees as the Postgres store, serialized by one mutex, and is
// meant for local development and tests.
type MemoryStore struct {
	mu        sync.Mutex
	subs      map[string]domain.Subscription // by user id
	processed map[string]time.Time
	counters  map[domain.CounterKey]domain.UsageCounter
	now       func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		subs:      make(map[string]domain.Subscription),
		processed: make(map[string]time.Time),
		counters:  make(map[domain.CounterKey]domain.UsageCounter),
		now:       time.Now,
	}
}

// SetClock overrides the time source used for updated_at stamps.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemoryStore) FindByUserID(_ context.Context, userID string) (*domain.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[userID]
	if !ok {
		return nil, nil
	}
	return &sub, nil
}

func (s *MemoryStore) CountByStatus(_ context.Context) (map[domain.Status]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[domain.Status]int)
	for _, sub := range s.subs {
		counts[sub.Status]++
	}
	return counts, nil
}

func (s *MemoryStore) PruneProcessed(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, at := range s.processed {
		if at.Before(cutoff) {
			delete(s.processed, id)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) Ping(_ context.Context) error {
	return nil
}

func (s *MemoryStore) InTx(ctx context.Context, fn func(tx SubscriptionTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memoryTx{
		store:     s,
		subs:      make(map[string]domain.Subscription),
		processed: make(map[string]time.Time),
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return domain.TransientStore(err)
	}

	for id, at := range tx.processed {
		s.processed[id] = at
	}
	for userID, sub := range tx.subs {
		s.subs[userID] = sub
	}
	return nil
}

// memoryTx stages writes until InTx commits them. The store mutex is held for
// the whole transaction.
type memoryTx struct {
	store     *MemoryStore
	subs      map[string]domain.Subscription
	processed map[string]time.Time
}

func (t *memoryTx) MarkProcessed(_ context.Context, meta domain.EventMeta) (bool, error) {
	if _, ok := t.store.processed[meta.ID]; ok {
		return false, nil
	}
	if _, ok := t.processed[meta.ID]; ok {
		return false, nil
	}
	t.processed[meta.ID] = t.store.now()
	return true, nil
}

func (t *memoryTx) ResolveUser(_ context.Context, target domain.Target) (string, error) {
	if target.UserID != "" {
		return target.UserID, nil
	}
	match := func(sub domain.Subscription) bool {
		if target.SubscriptionID != "" && sub.ExternalID == target.SubscriptionID {
			return true
		}
		return target.CustomerID != "" && sub.CustomerID == target.CustomerID
	}
	for userID, sub := range t.subs {
		if match(sub) {
			return userID, nil
		}
	}
	for userID, sub := range t.store.subs {
		if match(sub) {
			return userID, nil
		}
	}
	return "", nil
}

func (t *memoryTx) LockByUserID(_ context.Context, userID string) (*domain.Subscription, error) {
	if sub, ok := t.subs[userID]; ok {
		return &sub, nil
	}
	if sub, ok := t.store.subs[userID]; ok {
		return &sub, nil
	}
	return nil, nil
}

func (t *memoryTx) Save(_ context.Context, sub *domain.Subscription) error {
	if err := sub.Validate(); err != nil {
		return domain.StoreInvariant(err.Error())
	}
	t.subs[sub.UserID] = *sub
	return nil
}

func (s *MemoryStore) Reserve(_ context.Context, key domain.CounterKey, limit int64) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.counters[key]
	if !ok {
		c = domain.UsageCounter{UserID: key.UserID, Metric: key.Metric, Period: key.Period}
	}
	// A negative count is reported untouched, never raised back into range.
	if c.Count < 0 || c.Count >= limit {
		return c.Count, false, nil
	}
	c.Count++
	c.UpdatedAt = s.now()
	s.counters[key] = c
	return c.Count, true, nil
}

func (s *MemoryStore) Release(_ context.Context, key domain.CounterKey) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.counters[key]
	if !ok || c.Count <= 0 {
		return 0, false, nil
	}
	c.Count--
	c.UpdatedAt = s.now()
	s.counters[key] = c
	return c.Count, true, nil
}

func (s *MemoryStore) Count(_ context.Context, key domain.CounterKey) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters[key].Count, nil
}

func (s *MemoryStore) ListByUser(_ context.Context, userID string) ([]domain.UsageCounter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.UsageCounter
	for key, c := range s.counters {
		if key.UserID == userID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].Metric < out[j].Metric
	})
	return out, nil
}

func (s *MemoryStore) OpenPeriod(_ context.Context, userID string, period domain.PeriodKey) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var latest domain.PeriodKey
	var latestAt time.Time
	for key, c := range s.counters {
		if key.UserID != userID {
			continue
		}
		if key.Period == period {
			return 0, nil
		}
		if latest == "" || c.UpdatedAt.After(latestAt) {
			latest, latestAt = key.Period, c.UpdatedAt
		}
	}
	if latest == "" {
		return 0, nil
	}

	now := s.now()
	opened := 0
	for key := range s.counters {
		if key.UserID != userID || key.Period != latest {
			continue
		}
		next := domain.CounterKey{UserID: userID, Metric: key.Metric, Period: period}
		s.counters[next] = domain.UsageCounter{UserID: userID, Metric: key.Metric, Period: period, UpdatedAt: now}
		opened++
	}
	return opened, nil
}

// SetCount forces a counter value. Tests use it to simulate corrupted rows.
func (s *MemoryStore) SetCount(key domain.CounterKey, count int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[key] = domain.UsageCounter{UserID: key.UserID, Metric: key.Metric, Period: key.Period, Count: count, UpdatedAt: s.now()}
}
