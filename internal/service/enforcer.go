package service

import (
	"context"
	"fmt"

	"github.com/jamesl1500/taskispace.com-sub003/internal/domain"
	"github.com/jamesl1500/taskispace.com-sub003/internal/metrics"
	"github.com/jamesl1500/taskispace.com-sub003/internal/repository"
	"github.com/sirupsen/logrus"
)

// LimitEnforcer is the gate every usage-consuming action passes through. A
// check and the increment it allows are one atomic store operation.
type LimitEnforcer struct {
	ledger  *UsageLedger
	usage   repository.UsageStore
	metrics *metrics.Metrics
}

// NewLimitEnforcer creates a new LimitEnforcer. m may be nil.
func NewLimitEnforcer(ledger *UsageLedger, usage repository.UsageStore, m *metrics.Metrics) *LimitEnforcer {
	return &LimitEnforcer{ledger: ledger, usage: usage, metrics: m}
}

// CheckAndReserve consumes one unit of metric for userID if the user's plan
// still allows it. A denial is returned as a Reservation with Allowed false,
// never as an error.
func (e *LimitEnforcer) CheckAndReserve(ctx context.Context, userID, metric string) (*domain.Reservation, error) {
	if metric == "" {
		return nil, domain.ErrBadRequest("metric is required")
	}
	uc, err := e.ledger.resolve(ctx, userID)
	if err != nil {
		return nil, err
	}

	res := &domain.Reservation{
		Metric: metric,
		PlanID: uc.plan.ID,
		UserID: userID,
	}

	limit := uc.plan.LimitFor(metric)
	if limit.IsUnlimited() {
		res.Allowed = true
		res.Unlimited = true
		res.Limit = domain.Unlimited
		e.observe(metric, metrics.OutcomeUnlimited)
		return res, nil
	}

	key := domain.CounterKey{UserID: userID, Metric: metric, Period: uc.period.Key}
	res.Period = key.Period
	res.Limit = limit

	count, ok, err := e.usage.Reserve(ctx, key, int64(limit))
	if err != nil {
		e.observe(metric, metrics.OutcomeError)
		return nil, storeError("failed to reserve usage", err)
	}
	if count < 0 {
		e.observe(metric, metrics.OutcomeError)
		return nil, e.invariant(key, count, "negative usage counter")
	}

	res.Current = count
	if !ok {
		res.Reason = fmt.Sprintf("%s limit of %d reached for the %s plan (%d used this period)",
			metric, limit, uc.plan.Name, count)
		e.observe(metric, metrics.OutcomeDenied)
		return res, nil
	}

	res.Allowed = true
	e.observe(metric, metrics.OutcomeAllowed)
	return res, nil
}

// Release gives back a unit taken by an allowed reservation whose action
// failed. Unlimited and denied reservations hold nothing and are ignored.
// The unit goes back to the period it was reserved in, even if that period
// has closed since.
func (e *LimitEnforcer) Release(ctx context.Context, res *domain.Reservation) error {
	if res == nil || !res.Allowed || res.Unlimited {
		return nil
	}
	key := domain.CounterKey{UserID: res.UserID, Metric: res.Metric, Period: res.Period}

	_, ok, err := e.usage.Release(ctx, key)
	if err != nil {
		return storeError("failed to release usage", err)
	}
	if !ok {
		return e.invariant(key, 0, "release against empty usage counter")
	}
	e.observe(res.Metric, metrics.OutcomeReleased)
	return nil
}

// Guard reserves a unit of metric, runs fn, and releases the unit again if fn
// fails. fn is not called when the reservation is denied.
func (e *LimitEnforcer) Guard(ctx context.Context, userID, metric string, fn func(ctx context.Context) error) (*domain.Reservation, error) {
	res, err := e.CheckAndReserve(ctx, userID, metric)
	if err != nil || !res.Allowed {
		return res, err
	}

	if err := fn(ctx); err != nil {
		// The reservation was committed; give it back even if ctx is done.
		if relErr := e.Release(context.WithoutCancel(ctx), res); relErr != nil {
			logrus.WithError(relErr).WithFields(logrus.Fields{
				"user_id": userID,
				"metric":  metric,
				"period":  res.Period,
			}).Error("failed to release usage after action error")
		}
		return res, err
	}
	return res, nil
}

func (e *LimitEnforcer) invariant(key domain.CounterKey, count int64, msg string) error {
	logrus.WithFields(logrus.Fields{
		"user_id": key.UserID,
		"metric":  key.Metric,
		"period":  key.Period,
		"count":   count,
	}).Error(msg)
	return domain.StoreInvariant(fmt.Sprintf("%s (user %s, metric %s, period %s)", msg, key.UserID, key.Metric, key.Period))
}

func (e *LimitEnforcer) observe(metric, outcome string) {
	if e.metrics == nil {
		return
	}
	e.metrics.Reservations.WithLabelValues(metric, outcome).Inc()
}
