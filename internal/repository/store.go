package repository

import (
	"context"
	"time"

	"github.com/jamesl1500/taskispace.com-sub003/internal/domain"
)

// SubscriptionStore persists subscriptions and the processed-event log.
type SubscriptionStore interface {
	// FindByUserID returns the user's subscription, or nil when there is none.
	FindByUserID(ctx context.Context, userID string) (*domain.Subscription, error)
	// CountByStatus returns the number of subscriptions in each status.
	CountByStatus(ctx context.Context) (map[domain.Status]int, error)
	// InTx runs fn in one transaction. Nothing fn wrote survives unless it
	// returns nil.
	InTx(ctx context.Context, fn func(tx SubscriptionTx) error) error
	// PruneProcessed deletes dedup records processed before cutoff and
	// returns how many were removed.
	PruneProcessed(ctx context.Context, cutoff time.Time) (int64, error)
	Ping(ctx context.Context) error
}

// SubscriptionTx is the set of operations available inside InTx.
type SubscriptionTx interface {
	// MarkProcessed records the event id. It returns false when the id was
	// already recorded.
	MarkProcessed(ctx context.Context, meta domain.EventMeta) (bool, error)
	// ResolveUser finds the owning user for target, or "" when unknown.
	ResolveUser(ctx context.Context, target domain.Target) (string, error)
	// LockByUserID serializes the transaction against every other
	// transaction for the same user and returns the current row (nil if none).
	LockByUserID(ctx context.Context, userID string) (*domain.Subscription, error)
	// Save inserts or replaces the user's subscription row.
	Save(ctx context.Context, sub *domain.Subscription) error
}

// UsageStore persists per-period usage counters.
type UsageStore interface {
	// Reserve increments the counter only if it is below limit, as one atomic
	// step. It returns the count after the increment, or the current count and
	// false when the limit was already reached. A negative counter is never
	// incremented; it comes back unchanged with false.
	Reserve(ctx context.Context, key domain.CounterKey, limit int64) (int64, bool, error)
	// Release decrements a counter above zero. It returns false when the
	// counter was missing or already zero.
	Release(ctx context.Context, key domain.CounterKey) (int64, bool, error)
	// Count returns the counter value, 0 when the counter does not exist.
	Count(ctx context.Context, key domain.CounterKey) (int64, error)
	// ListByUser returns every counter of the user, newest period first.
	ListByUser(ctx context.Context, userID string) ([]domain.UsageCounter, error)
	// OpenPeriod starts zero counters in period for the metrics the user had
	// in their most recent other period, if period has no counters yet. It
	// returns the number of counters opened.
	OpenPeriod(ctx context.Context, userID string, period domain.PeriodKey) (int, error)
}
