package service

import (
	"context"
	"time"

	"github.com/jamesl1500/taskispace.com-sub003/internal/domain"
	"github.com/jamesl1500/taskispace.com-sub003/internal/repository"
	"github.com/sirupsen/logrus"
)

// UsageLedger reads usage counters and rolls them into new periods.
type UsageLedger struct {
	subs    repository.SubscriptionStore
	usage   repository.UsageStore
	catalog *domain.Catalog
	now     func() time.Time
}

// NewUsageLedger creates a new UsageLedger.
func NewUsageLedger(subs repository.SubscriptionStore, usage repository.UsageStore, catalog *domain.Catalog) *UsageLedger {
	return &UsageLedger{subs: subs, usage: usage, catalog: catalog, now: time.Now}
}

// SetClock replaces the wall clock, for tests.
func (l *UsageLedger) SetClock(now func() time.Time) {
	l.now = now
}

// usageContext is everything a usage operation needs to know about a user
// at one instant.
type usageContext struct {
	sub    *domain.Subscription
	plan   domain.Plan
	period domain.UsagePeriod
}

func (l *UsageLedger) resolve(ctx context.Context, userID string) (*usageContext, error) {
	if userID == "" {
		return nil, domain.ErrNotAuthenticated
	}
	sub, err := l.subs.FindByUserID(ctx, userID)
	if err != nil {
		return nil, storeError("failed to load subscription", err)
	}
	return &usageContext{
		sub:    sub,
		plan:   l.catalog.EffectivePlan(sub),
		period: domain.CurrentPeriod(sub, l.now()),
	}, nil
}

// CurrentPeriodKey returns the key of the usage window sub is in now.
func (l *UsageLedger) CurrentPeriodKey(sub *domain.Subscription) domain.PeriodKey {
	return domain.CurrentPeriodKey(sub, l.now())
}

// GetUsage returns the user's count for metric in the current period. A
// period nobody has written to yet reads as 0.
func (l *UsageLedger) GetUsage(ctx context.Context, userID, metric string) (int64, error) {
	uc, err := l.resolve(ctx, userID)
	if err != nil {
		return 0, err
	}
	n, err := l.usage.Count(ctx, domain.CounterKey{UserID: userID, Metric: metric, Period: uc.period.Key})
	if err != nil {
		return 0, storeError("failed to read usage", err)
	}
	return n, nil
}

// ResetIfPeriodRolled opens zeroed counters for the current period when the
// user's last recorded counters belong to an earlier one. Earlier counters are
// left untouched for history. It reports whether a rollover happened.
func (l *UsageLedger) ResetIfPeriodRolled(ctx context.Context, userID string) (bool, error) {
	uc, err := l.resolve(ctx, userID)
	if err != nil {
		return false, err
	}
	return l.roll(ctx, userID, uc.period.Key)
}

func (l *UsageLedger) roll(ctx context.Context, userID string, period domain.PeriodKey) (bool, error) {
	opened, err := l.usage.OpenPeriod(ctx, userID, period)
	if err != nil {
		return false, storeError("failed to open usage period", err)
	}
	if opened > 0 {
		logrus.WithFields(logrus.Fields{
			"user_id":  userID,
			"period":   period,
			"counters": opened,
		}).Info("usage period rolled over")
	}
	return opened > 0, nil
}

// Summary reports usage against every limit of the user's plan for the
// current period, rolling the period first if needed.
func (l *UsageLedger) Summary(ctx context.Context, userID string) (*domain.UsageSummary, error) {
	uc, err := l.resolve(ctx, userID)
	if err != nil {
		return nil, err
	}
	rolled, err := l.roll(ctx, userID, uc.period.Key)
	if err != nil {
		return nil, err
	}

	counters, err := l.usage.ListByUser(ctx, userID)
	if err != nil {
		return nil, storeError("failed to list usage", err)
	}
	used := make(map[string]int64)
	for _, c := range counters {
		if c.Period == uc.period.Key {
			used[c.Metric] = c.Count
		}
	}

	summary := &domain.UsageSummary{
		PlanID: uc.plan.ID,
		Period: uc.period,
		Rolled: rolled,
		Usage:  make([]domain.MetricUsage, 0, len(uc.plan.Limits)),
	}
	for _, metric := range sortedMetrics(uc.plan.Limits, used) {
		limit := uc.plan.LimitFor(metric)
		summary.Usage = append(summary.Usage, domain.MetricUsage{
			Metric:    metric,
			Used:      used[metric],
			Limit:     limit,
			Unlimited: limit.IsUnlimited(),
		})
	}
	return summary, nil
}

// History returns all of the user's counters, newest first, including those
// of closed periods.
func (l *UsageLedger) History(ctx context.Context, userID string) ([]domain.UsageCounter, error) {
	if userID == "" {
		return nil, domain.ErrNotAuthenticated
	}
	counters, err := l.usage.ListByUser(ctx, userID)
	if err != nil {
		return nil, storeError("failed to list usage", err)
	}
	if counters == nil {
		counters = []domain.UsageCounter{}
	}
	return counters, nil
}
