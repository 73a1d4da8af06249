package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jamesl1500/taskispace.com-sub003/internal/domain"
	"github.com/jamesl1500/taskispace.com-sub003/internal/metrics"
	"github.com/jamesl1500/taskispace.com-sub003/internal/repository"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type enforcerFixture struct {
	store    *repository.MemoryStore
	ledger   *UsageLedger
	enforcer *LimitEnforcer
	metrics  *metrics.Metrics
}

func newEnforcerFixture(t *testing.T) *enforcerFixture {
	t.Helper()
	store := repository.NewMemoryStore()
	m := metrics.New()
	ledger := NewUsageLedger(store, store, newTestCatalog(t))
	ledger.SetClock(func() time.Time { return t1 })
	return &enforcerFixture{
		store:    store,
		ledger:   ledger,
		enforcer: NewLimitEnforcer(ledger, store, m),
		metrics:  m,
	}
}

func TestCheckAndReserve_FreeLimit(t *testing.T) {
	f := newEnforcerFixture(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		res, err := f.enforcer.CheckAndReserve(ctx, "u1", metricAICalls)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, int64(i), res.Current)
		assert.Equal(t, domain.Limit(3), res.Limit)
		assert.Equal(t, domain.PeriodKey("2026-05"), res.Period)
	}

	res, err := f.enforcer.CheckAndReserve(ctx, "u1", metricAICalls)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, int64(3), res.Current)
	assert.Equal(t, domain.Limit(3), res.Limit)
	assert.Equal(t, "free", res.PlanID)
	assert.Contains(t, res.Reason, "ai_calls limit of 3 reached for the Free plan")

	n, err := f.ledger.GetUsage(ctx, "u1", metricAICalls)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n, "a denial does not consume")

	assert.Equal(t, 3.0, testutil.ToFloat64(f.metrics.Reservations.WithLabelValues(metricAICalls, metrics.OutcomeAllowed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Reservations.WithLabelValues(metricAICalls, metrics.OutcomeDenied)))
}

func TestCheckAndReserve_Concurrent(t *testing.T) {
	tests := []struct {
		name    string
		workers int
	}{
		{"more callers than slots", 40},
		{"fewer callers than slots", 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newEnforcerFixture(t)
			ctx := context.Background()

			var allowed atomic.Int64
			var wg sync.WaitGroup
			for i := 0; i < tt.workers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					res, err := f.enforcer.CheckAndReserve(ctx, "u1", metricAICalls)
					assert.NoError(t, err)
					if err == nil && res.Allowed {
						allowed.Add(1)
					}
				}()
			}
			wg.Wait()

			want := int64(min(tt.workers, 3))
			assert.Equal(t, want, allowed.Load())
			n, err := f.ledger.GetUsage(ctx, "u1", metricAICalls)
			require.NoError(t, err)
			assert.Equal(t, want, n)
		})
	}
}

func TestCheckAndReserve_Unlimited(t *testing.T) {
	f := newEnforcerFixture(t)
	ctx := context.Background()
	seedSubscription(t, f.store, domain.Subscription{
		ID: "s1", UserID: "u1", PlanID: "team", BillingPeriod: domain.PeriodMonthly,
		Status: domain.StatusActive, CurrentPeriodStart: t1, CurrentPeriodEnd: t1.AddDate(0, 1, 0),
	})

	for i := 0; i < 50; i++ {
		res, err := f.enforcer.CheckAndReserve(ctx, "u1", metricAICalls)
		require.NoError(t, err)
		require.True(t, res.Allowed)
		assert.True(t, res.Unlimited)
		assert.Equal(t, domain.Unlimited, res.Limit)
	}

	n, err := f.ledger.GetUsage(ctx, "u1", metricAICalls)
	require.NoError(t, err)
	assert.Zero(t, n, "unlimited metrics are not counted")
}

func TestCheckAndReserve_PlanLimitsFollowStatus(t *testing.T) {
	f := newEnforcerFixture(t)
	ctx := context.Background()
	sub := domain.Subscription{
		ID: "s1", UserID: "u1", PlanID: "pro", BillingPeriod: domain.PeriodMonthly,
		Status: domain.StatusPastDue, CurrentPeriodStart: t1, CurrentPeriodEnd: t1.AddDate(0, 1, 0),
	}
	seedSubscription(t, f.store, sub)

	res, err := f.enforcer.CheckAndReserve(ctx, "u1", metricAICalls)
	require.NoError(t, err)
	assert.Equal(t, "pro", res.PlanID)
	assert.Equal(t, domain.Limit(100), res.Limit)

	sub.Status = domain.StatusCanceled
	seedSubscription(t, f.store, sub)
	res, err = f.enforcer.CheckAndReserve(ctx, "u1", metricAICalls)
	require.NoError(t, err)
	assert.Equal(t, "free", res.PlanID)
	assert.Equal(t, domain.Limit(3), res.Limit)
}

func TestCheckAndReserve_Errors(t *testing.T) {
	f := newEnforcerFixture(t)
	ctx := context.Background()

	_, err := f.enforcer.CheckAndReserve(ctx, "", metricAICalls)
	assert.ErrorIs(t, err, domain.ErrNotAuthenticated)

	_, err = f.enforcer.CheckAndReserve(ctx, "u1", "")
	appErr, ok := domain.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, domain.KindBadRequest, appErr.Kind)
}

func TestCheckAndReserve_NegativeCounterIsInvariantViolation(t *testing.T) {
	for _, seeded := range []int64{-1, -5} {
		t.Run(fmt.Sprint(seeded), func(t *testing.T) {
			f := newEnforcerFixture(t)
			ctx := context.Background()
			key := domain.CounterKey{UserID: "u1", Metric: metricAICalls, Period: "2026-05"}
			f.store.SetCount(key, seeded)

			res, err := f.enforcer.CheckAndReserve(ctx, "u1", metricAICalls)
			assert.ErrorIs(t, err, domain.ErrStoreInvariant)
			assert.Nil(t, res)

			n, err := f.store.Count(ctx, key)
			require.NoError(t, err)
			assert.Equal(t, seeded, n, "counter is left as found")
		})
	}
}

func TestRelease(t *testing.T) {
	f := newEnforcerFixture(t)
	ctx := context.Background()

	res, err := f.enforcer.CheckAndReserve(ctx, "u1", metricAICalls)
	require.NoError(t, err)
	require.NoError(t, f.enforcer.Release(ctx, res))

	n, err := f.ledger.GetUsage(ctx, "u1", metricAICalls)
	require.NoError(t, err)
	assert.Zero(t, n)

	// The counter is already back at zero.
	assert.ErrorIs(t, f.enforcer.Release(ctx, res), domain.ErrStoreInvariant)

	// Denied and unlimited reservations hold nothing.
	assert.NoError(t, f.enforcer.Release(ctx, &domain.Reservation{Allowed: false}))
	assert.NoError(t, f.enforcer.Release(ctx, &domain.Reservation{Allowed: true, Unlimited: true}))
	assert.NoError(t, f.enforcer.Release(ctx, nil))
}

func TestGuard(t *testing.T) {
	ctx := context.Background()

	t.Run("action error releases the slot", func(t *testing.T) {
		f := newEnforcerFixture(t)
		boom := errors.New("upstream failed")
		_, err := f.enforcer.Guard(ctx, "u1", metricAICalls, func(context.Context) error { return boom })
		assert.ErrorIs(t, err, boom)

		n, err := f.ledger.GetUsage(ctx, "u1", metricAICalls)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("canceled context still releases", func(t *testing.T) {
		f := newEnforcerFixture(t)
		cctx, cancel := context.WithCancel(ctx)
		_, err := f.enforcer.Guard(cctx, "u1", metricAICalls, func(context.Context) error {
			cancel()
			return context.Canceled
		})
		assert.ErrorIs(t, err, context.Canceled)

		n, err := f.ledger.GetUsage(ctx, "u1", metricAICalls)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("release returns the slot to the period it was taken from", func(t *testing.T) {
		f := newEnforcerFixture(t)
		june := t1.AddDate(0, 1, 0)
		boom := errors.New("upstream failed")

		res, err := f.enforcer.Guard(ctx, "u1", metricAICalls, func(ctx context.Context) error {
			f.ledger.SetClock(func() time.Time { return june })
			next, err := f.enforcer.CheckAndReserve(ctx, "u1", metricAICalls)
			require.NoError(t, err)
			require.True(t, next.Allowed)
			return boom
		})
		assert.ErrorIs(t, err, boom)
		require.NotNil(t, res)
		assert.Equal(t, domain.PeriodKey("2026-05"), res.Period)

		may, err := f.store.Count(ctx, domain.CounterKey{UserID: "u1", Metric: metricAICalls, Period: "2026-05"})
		require.NoError(t, err)
		assert.Zero(t, may)
		n, err := f.ledger.GetUsage(ctx, "u1", metricAICalls)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n, "the new period keeps its own reservation")
	})

	t.Run("success keeps the slot", func(t *testing.T) {
		f := newEnforcerFixture(t)
		res, err := f.enforcer.Guard(ctx, "u1", metricAICalls, func(context.Context) error { return nil })
		require.NoError(t, err)
		assert.True(t, res.Allowed)

		n, err := f.ledger.GetUsage(ctx, "u1", metricAICalls)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})

	t.Run("denied does not run the action", func(t *testing.T) {
		f := newEnforcerFixture(t)
		f.store.SetCount(domain.CounterKey{UserID: "u1", Metric: metricAICalls, Period: "2026-05"}, 3)
		called := false
		res, err := f.enforcer.Guard(ctx, "u1", metricAICalls, func(context.Context) error {
			called = true
			return nil
		})
		require.NoError(t, err)
		assert.False(t, res.Allowed)
		assert.False(t, called)
	})
}
