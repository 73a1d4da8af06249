package service

import (
	"context"
	"testing"
	"time"

	"github.com/jamesl1500/taskispace.com-sub003/internal/domain"
	"github.com/jamesl1500/taskispace.com-sub003/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUsageLedger_PeriodRollover(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	ledger := NewUsageLedger(store, store, newTestCatalog(t))
	enforcer := NewLimitEnforcer(ledger, store, nil)

	now := t1
	ledger.SetClock(func() time.Time { return now })
	store.SetClock(func() time.Time { return now })

	for i := 0; i < 3; i++ {
		_, err := enforcer.CheckAndReserve(ctx, "u1", metricAICalls)
		require.NoError(t, err)
	}
	res, err := enforcer.CheckAndReserve(ctx, "u1", metricAICalls)
	require.NoError(t, err)
	require.False(t, res.Allowed)

	now = time.Date(2026, time.June, 2, 0, 0, 0, 0, time.UTC)

	n, err := ledger.GetUsage(ctx, "u1", metricAICalls)
	require.NoError(t, err)
	assert.Zero(t, n, "new period reads as zero before any write")

	rolled, err := ledger.ResetIfPeriodRolled(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, rolled)

	rolled, err = ledger.ResetIfPeriodRolled(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, rolled)

	res, err = enforcer.CheckAndReserve(ctx, "u1", metricAICalls)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, domain.PeriodKey("2026-06"), res.Period)

	// The closed period is kept for history.
	history, err := ledger.History(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, domain.PeriodKey("2026-06"), history[0].Period)
	assert.Equal(t, int64(1), history[0].Count)
	assert.Equal(t, domain.PeriodKey("2026-05"), history[1].Period)
	assert.Equal(t, int64(3), history[1].Count)
}

func TestUsageLedger_BillingPeriodWindow(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	ledger := NewUsageLedger(store, store, newTestCatalog(t))

	start := time.Date(2026, time.April, 15, 0, 0, 0, 0, time.UTC)
	seedSubscription(t, store, domain.Subscription{
		ID: "s1", UserID: "u1", PlanID: "pro", BillingPeriod: domain.PeriodMonthly,
		Status: domain.StatusActive, CurrentPeriodStart: start, CurrentPeriodEnd: start.AddDate(0, 1, 0),
	})

	ledger.SetClock(func() time.Time { return t1 })
	sub, err := store.FindByUserID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.PeriodKey("2026-04-15T00:00:00Z"), ledger.CurrentPeriodKey(sub))

	// Past the period end with no renewal yet.
	ledger.SetClock(func() time.Time { return time.Date(2026, time.May, 20, 0, 0, 0, 0, time.UTC) })
	assert.Equal(t, domain.PeriodKey("2026-05-15T00:00:00Z"), ledger.CurrentPeriodKey(sub))
}

func TestUsageLedger_Summary(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	ledger := NewUsageLedger(store, store, newTestCatalog(t))
	ledger.SetClock(func() time.Time { return t1 })
	enforcer := NewLimitEnforcer(ledger, store, nil)

	_, err := enforcer.CheckAndReserve(ctx, "u1", metricAICalls)
	require.NoError(t, err)
	// A counter for a metric the plan no longer limits.
	store.SetCount(domain.CounterKey{UserID: "u1", Metric: "uploads", Period: "2026-05"}, 4)

	summary, err := ledger.Summary(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "free", summary.PlanID)
	assert.Equal(t, domain.PeriodKey("2026-05"), summary.Period.Key)
	assert.False(t, summary.Rolled)

	// Plan metrics and used metrics, sorted by name.
	require.Len(t, summary.Usage, 2)
	assert.Equal(t, domain.MetricUsage{Metric: metricAICalls, Used: 1, Limit: 3}, summary.Usage[0])
	assert.Equal(t, "uploads", summary.Usage[1].Metric)
	assert.True(t, summary.Usage[1].Unlimited)
	assert.Equal(t, int64(4), summary.Usage[1].Used)
}

func TestUsageLedger_RequiresUser(t *testing.T) {
	store := repository.NewMemoryStore()
	ledger := NewUsageLedger(store, store, newTestCatalog(t))

	_, err := ledger.GetUsage(context.Background(), "", metricAICalls)
	assert.ErrorIs(t, err, domain.ErrNotAuthenticated)
	_, err = ledger.Summary(context.Background(), "")
	assert.ErrorIs(t, err, domain.ErrNotAuthenticated)
	_, err = ledger.History(context.Background(), "")
	assert.ErrorIs(t, err, domain.ErrNotAuthenticated)
}
