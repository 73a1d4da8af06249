package service

import (
	"context"
	"testing"
	"time"

	"github.com/jamesl1500/taskispace.com-sub003/internal/domain"
	"github.com/jamesl1500/taskispace.com-sub003/internal/metrics"
	"github.com/jamesl1500/taskispace.com-sub003/internal/repository"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type reconcilerFixture struct {
	store      *repository.MemoryStore
	reconciler *Reconciler
	metrics    *metrics.Metrics
}

func newReconcilerFixture(t *testing.T) *reconcilerFixture {
	t.Helper()
	store := repository.NewMemoryStore()
	m := metrics.New()
	r := NewReconciler(store, newTestCatalog(t), m)
	r.SetClock(func() time.Time { return t3 })
	return &reconcilerFixture{store: store, reconciler: r, metrics: m}
}

func (f *reconcilerFixture) apply(t *testing.T, raw domain.RawEvent) *ApplyResult {
	t.Helper()
	res, err := f.reconciler.ApplyEvent(context.Background(), raw)
	require.NoError(t, err)
	return res
}

func (f *reconcilerFixture) subscription(t *testing.T, userID string) *domain.Subscription {
	t.Helper()
	sub, err := f.store.FindByUserID(context.Background(), userID)
	require.NoError(t, err)
	require.NotNil(t, sub)
	return sub
}

func checkoutEvent(t *testing.T, id string, ts time.Time, subID string) domain.RawEvent {
	return rawEvent(t, id, domain.EventCheckoutCompleted, ts, map[string]any{
		"userId":         "u1",
		"customerId":     "cus_1",
		"subscriptionId": subID,
		"planId":         "pro",
	})
}

func TestApplyEvent_CheckoutCreatesSubscription(t *testing.T) {
	f := newReconcilerFixture(t)

	res := f.apply(t, checkoutEvent(t, "evt_1", t1, "sub_1"))
	assert.Equal(t, OutcomeApplied, res.Outcome)
	assert.Equal(t, "u1", res.UserID)

	sub := f.subscription(t, "u1")
	assert.NotEmpty(t, sub.ID)
	assert.Equal(t, "pro", sub.PlanID)
	assert.Equal(t, domain.StatusActive, sub.Status)
	assert.Equal(t, domain.PeriodMonthly, sub.BillingPeriod)
	assert.Equal(t, "cus_1", sub.CustomerID)
	assert.Equal(t, "sub_1", sub.ExternalID)
	assert.Equal(t, t1, sub.CurrentPeriodStart)
	assert.Equal(t, t1.AddDate(0, 1, 0), sub.CurrentPeriodEnd)
	assert.Equal(t, "evt_1", sub.LastEventID)
	assert.Equal(t, t3, sub.CreatedAt)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.WebhookEvents.WithLabelValues(domain.EventCheckoutCompleted, string(OutcomeApplied))))
}

func TestApplyEvent_DuplicateIsNoop(t *testing.T) {
	f := newReconcilerFixture(t)
	raw := checkoutEvent(t, "evt_1", t1, "sub_1")

	f.apply(t, raw)
	before := f.subscription(t, "u1")

	res := f.apply(t, raw)
	assert.Equal(t, OutcomeDuplicate, res.Outcome)
	assert.Equal(t, before, f.subscription(t, "u1"))
}

func TestApplyEvent_OutOfOrderConverges(t *testing.T) {
	evt1 := func(t *testing.T) domain.RawEvent { return checkoutEvent(t, "evt_1", t1, "sub_1") }
	evt2 := func(t *testing.T) domain.RawEvent {
		return rawEvent(t, "evt_2", domain.EventSubscriptionUpdated, t2, map[string]any{
			"userId":         "u1",
			"subscriptionId": "sub_1",
			"status":         "canceled",
		})
	}

	t.Run("in order", func(t *testing.T) {
		f := newReconcilerFixture(t)
		assert.Equal(t, OutcomeApplied, f.apply(t, evt1(t)).Outcome)
		assert.Equal(t, OutcomeApplied, f.apply(t, evt2(t)).Outcome)
		assert.Equal(t, domain.StatusCanceled, f.subscription(t, "u1").Status)
	})

	t.Run("reversed", func(t *testing.T) {
		f := newReconcilerFixture(t)
		assert.Equal(t, OutcomeApplied, f.apply(t, evt2(t)).Outcome)
		assert.Equal(t, OutcomeStale, f.apply(t, evt1(t)).Outcome)

		sub := f.subscription(t, "u1")
		assert.Equal(t, domain.StatusCanceled, sub.Status)
		assert.Equal(t, "evt_2", sub.LastEventID)
		assert.Equal(t, t2, sub.LastEventAt)
	})
}

func TestApplyEvent_EqualTimestampsApply(t *testing.T) {
	f := newReconcilerFixture(t)
	f.apply(t, checkoutEvent(t, "evt_1", t1, "sub_1"))

	res := f.apply(t, rawEvent(t, "evt_2", domain.EventSubscriptionUpdated, t1, map[string]any{
		"subscriptionId": "sub_1",
		"planId":         "team",
	}))
	assert.Equal(t, OutcomeApplied, res.Outcome)
	assert.Equal(t, "team", f.subscription(t, "u1").PlanID)
}

func TestApplyEvent_CheckoutStatus(t *testing.T) {
	trialUpdate := func(t *testing.T, id string, ts time.Time) domain.RawEvent {
		return rawEvent(t, id, domain.EventSubscriptionUpdated, ts, map[string]any{
			"userId":         "u1",
			"subscriptionId": "sub_1",
			"status":         "trialing",
		})
	}

	t.Run("trial recorded first is kept", func(t *testing.T) {
		f := newReconcilerFixture(t)
		assert.Equal(t, OutcomeApplied, f.apply(t, trialUpdate(t, "evt_1", t1)).Outcome)
		assert.Equal(t, OutcomeApplied, f.apply(t, checkoutEvent(t, "evt_2", t1, "sub_1")).Outcome)

		sub := f.subscription(t, "u1")
		assert.Equal(t, domain.StatusTrialing, sub.Status)
		assert.Equal(t, "pro", sub.PlanID)
	})

	t.Run("trial reported by the checkout", func(t *testing.T) {
		f := newReconcilerFixture(t)
		f.apply(t, rawEvent(t, "evt_1", domain.EventCheckoutCompleted, t1, map[string]any{
			"userId":         "u1",
			"customerId":     "cus_1",
			"subscriptionId": "sub_1",
			"planId":         "pro",
			"status":         "trialing",
		}))
		assert.Equal(t, OutcomeApplied, f.apply(t, trialUpdate(t, "evt_2", t1)).Outcome)
		assert.Equal(t, domain.StatusTrialing, f.subscription(t, "u1").Status)
	})

	t.Run("incomplete checkout activates on update", func(t *testing.T) {
		f := newReconcilerFixture(t)
		f.apply(t, rawEvent(t, "evt_1", domain.EventCheckoutCompleted, t1, map[string]any{
			"userId":         "u1",
			"subscriptionId": "sub_1",
			"planId":         "pro",
			"status":         "incomplete",
		}))
		f.apply(t, rawEvent(t, "evt_2", domain.EventSubscriptionUpdated, t1, map[string]any{
			"subscriptionId": "sub_1",
			"status":         "active",
		}))
		assert.Equal(t, domain.StatusActive, f.subscription(t, "u1").Status)
	})

	t.Run("no status and no record means active", func(t *testing.T) {
		f := newReconcilerFixture(t)
		f.apply(t, checkoutEvent(t, "evt_1", t1, "sub_1"))
		assert.Equal(t, domain.StatusActive, f.subscription(t, "u1").Status)
	})
}

func TestApplyEvent_UnknownType(t *testing.T) {
	f := newReconcilerFixture(t)
	raw := rawEvent(t, "evt_9", "customer.created", t1, map[string]any{"customerId": "cus_1"})

	assert.Equal(t, OutcomeUnknown, f.apply(t, raw).Outcome)
	assert.Equal(t, OutcomeDuplicate, f.apply(t, raw).Outcome)

	sub, err := f.store.FindByUserID(context.Background(), "u1")
	require.NoError(t, err)
	assert.Nil(t, sub)
}

func TestApplyEvent_Malformed(t *testing.T) {
	f := newReconcilerFixture(t)
	_, err := f.reconciler.ApplyEvent(context.Background(), domain.RawEvent{ID: "evt_1", Type: domain.EventSubscriptionDeleted})
	assert.ErrorIs(t, err, domain.ErrMalformedEvent)
}

func TestApplyEvent_OrphanIsRedelivered(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()
	raw := rawEvent(t, "evt_5", domain.EventSubscriptionDeleted, t2, map[string]any{"subscriptionId": "sub_5"})

	_, err := f.reconciler.ApplyEvent(ctx, raw)
	assert.ErrorIs(t, err, domain.ErrSubscriptionUnknown)

	// The checkout arrives afterwards; the redelivered event then applies.
	f.apply(t, rawEvent(t, "evt_4", domain.EventCheckoutCompleted, t1, map[string]any{
		"userId":         "u5",
		"subscriptionId": "sub_5",
		"planId":         "pro",
	}))
	res := f.apply(t, raw)
	assert.Equal(t, OutcomeApplied, res.Outcome)
	assert.Equal(t, "u5", res.UserID)
	assert.Equal(t, domain.StatusCanceled, f.subscription(t, "u5").Status)
}

func TestApplyEvent_Payments(t *testing.T) {
	f := newReconcilerFixture(t)
	f.apply(t, checkoutEvent(t, "evt_1", t1, "sub_1"))

	res := f.apply(t, rawEvent(t, "evt_2", domain.EventInvoicePaymentFailed, t2, map[string]any{"subscriptionId": "sub_1"}))
	assert.Equal(t, OutcomeApplied, res.Outcome)
	assert.Equal(t, domain.StatusPastDue, f.subscription(t, "u1").Status)

	start := time.Date(2026, time.June, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)
	res = f.apply(t, rawEvent(t, "evt_3", domain.EventInvoicePaymentSucceeded, t3, map[string]any{
		"customerId":         "cus_1",
		"currentPeriodStart": start,
		"currentPeriodEnd":   end,
	}))
	assert.Equal(t, OutcomeApplied, res.Outcome)

	sub := f.subscription(t, "u1")
	assert.Equal(t, domain.StatusActive, sub.Status)
	assert.True(t, start.Equal(sub.CurrentPeriodStart))
	assert.True(t, end.Equal(sub.CurrentPeriodEnd))
}

func TestApplyEvent_PaymentFailedWithoutSubscriptionIsIgnored(t *testing.T) {
	f := newReconcilerFixture(t)
	res := f.apply(t, rawEvent(t, "evt_1", domain.EventInvoicePaymentFailed, t1, map[string]any{"userId": "u1"}))
	assert.Equal(t, OutcomeIgnored, res.Outcome)
}

func TestApplyEvent_CanceledIsTerminal(t *testing.T) {
	f := newReconcilerFixture(t)
	f.apply(t, checkoutEvent(t, "evt_1", t1, "sub_1"))
	f.apply(t, rawEvent(t, "evt_2", domain.EventSubscriptionDeleted, t2, map[string]any{"subscriptionId": "sub_1"}))
	require.Equal(t, domain.StatusCanceled, f.subscription(t, "u1").Status)

	tests := []struct {
		name string
		raw  domain.RawEvent
	}{
		{"update same subscription", rawEvent(t, "evt_3", domain.EventSubscriptionUpdated, t3, map[string]any{"subscriptionId": "sub_1", "status": "active"})},
		{"payment succeeded", rawEvent(t, "evt_4", domain.EventInvoicePaymentSucceeded, t3, map[string]any{"subscriptionId": "sub_1"})},
		{"payment failed", rawEvent(t, "evt_5", domain.EventInvoicePaymentFailed, t3, map[string]any{"subscriptionId": "sub_1"})},
		{"checkout replay", checkoutEvent(t, "evt_6", t3, "sub_1")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, OutcomeIgnored, f.apply(t, tt.raw).Outcome)
			assert.Equal(t, domain.StatusCanceled, f.subscription(t, "u1").Status)
		})
	}
}

func TestApplyEvent_Resubscribe(t *testing.T) {
	t.Run("new checkout replaces canceled subscription", func(t *testing.T) {
		f := newReconcilerFixture(t)
		f.apply(t, checkoutEvent(t, "evt_1", t1, "sub_1"))
		f.apply(t, rawEvent(t, "evt_2", domain.EventSubscriptionDeleted, t2, map[string]any{"subscriptionId": "sub_1"}))
		firstID := f.subscription(t, "u1").ID

		res := f.apply(t, checkoutEvent(t, "evt_3", t3, "sub_2"))
		assert.Equal(t, OutcomeApplied, res.Outcome)

		sub := f.subscription(t, "u1")
		assert.Equal(t, domain.StatusActive, sub.Status)
		assert.Equal(t, "sub_2", sub.ExternalID)
		assert.Equal(t, firstID, sub.ID, "one record per user")
	})

	t.Run("update for a new subscription revives", func(t *testing.T) {
		f := newReconcilerFixture(t)
		f.apply(t, checkoutEvent(t, "evt_1", t1, "sub_1"))
		f.apply(t, rawEvent(t, "evt_2", domain.EventSubscriptionDeleted, t2, map[string]any{"subscriptionId": "sub_1"}))

		res := f.apply(t, rawEvent(t, "evt_3", domain.EventSubscriptionUpdated, t3, map[string]any{
			"userId":         "u1",
			"subscriptionId": "sub_2",
			"status":         "active",
		}))
		assert.Equal(t, OutcomeApplied, res.Outcome)
		assert.Equal(t, domain.StatusActive, f.subscription(t, "u1").Status)
	})

	t.Run("late events for the replaced subscription are ignored", func(t *testing.T) {
		f := newReconcilerFixture(t)
		f.apply(t, checkoutEvent(t, "evt_1", t1, "sub_1"))
		f.apply(t, checkoutEvent(t, "evt_2", t2, "sub_2"))

		res := f.apply(t, rawEvent(t, "evt_3", domain.EventSubscriptionDeleted, t3, map[string]any{
			"userId":         "u1",
			"subscriptionId": "sub_1",
		}))
		assert.Equal(t, OutcomeIgnored, res.Outcome)
		assert.Equal(t, domain.StatusActive, f.subscription(t, "u1").Status)
	})
}

func TestApplyEvent_ConcurrentDeliveriesOfOneEvent(t *testing.T) {
	f := newReconcilerFixture(t)
	raw := checkoutEvent(t, "evt_1", t1, "sub_1")

	results := make(chan Outcome, 10)
	for i := 0; i < 10; i++ {
		go func() {
			res, err := f.reconciler.ApplyEvent(context.Background(), raw)
			if assert.NoError(t, err) {
				results <- res.Outcome
			} else {
				results <- ""
			}
		}()
	}

	counts := make(map[Outcome]int)
	for i := 0; i < 10; i++ {
		counts[<-results]++
	}
	assert.Equal(t, 1, counts[OutcomeApplied])
	assert.Equal(t, 9, counts[OutcomeDuplicate])
}
