package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jamesl1500/taskispace.com-sub003/internal/domain"
	"github.com/jamesl1500/taskispace.com-sub003/internal/repository"
	"github.com/stretchr/testify/require"
)

const metricAICalls = "ai_calls"

var (
	t1 = time.Date(2026, time.May, 1, 10, 0, 0, 0, time.UTC)
	t2 = t1.Add(time.Hour)
	t3 = t2.Add(time.Hour)
)

// newTestCatalog has a free plan capped at 3 ai_calls, a pro plan capped at
// 100 and a team plan without a cap.
func newTestCatalog(t *testing.T) *domain.Catalog {
	t.Helper()
	c, err := domain.NewCatalog([]domain.Plan{
		{ID: "free", Name: "Free", Limits: map[string]domain.Limit{metricAICalls: 3}},
		{ID: "pro", Name: "Pro", MonthlyPriceCents: 1200, MonthlyPriceID: "price_pro_m", YearlyPriceID: "price_pro_y",
			Limits: map[string]domain.Limit{metricAICalls: 100}},
		{ID: "team", Name: "Team", MonthlyPriceCents: 2900, MonthlyPriceID: "price_team_m",
			Limits: map[string]domain.Limit{metricAICalls: domain.Unlimited}},
	}, "free")
	require.NoError(t, err)
	return c
}

// rawEvent builds a neutral event with data marshaled from fields.
func rawEvent(t *testing.T, id, typ string, ts time.Time, fields map[string]any) domain.RawEvent {
	t.Helper()
	data, err := json.Marshal(fields)
	require.NoError(t, err)
	return domain.RawEvent{ID: id, Type: typ, Timestamp: ts, Data: data}
}

// seedSubscription writes sub straight into the store.
func seedSubscription(t *testing.T, store *repository.MemoryStore, sub domain.Subscription) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.InTx(ctx, func(tx repository.SubscriptionTx) error {
		return tx.Save(ctx, &sub)
	}))
}
