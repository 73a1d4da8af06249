package domain

import "time"

// PeriodKey identifies the usage window a counter belongs to.
type PeriodKey string

// UsagePeriod is a resolved usage window.
type UsagePeriod struct {
	Key   PeriodKey `json:"key"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// CurrentPeriod derives the active usage window for sub at now.
//
// Entitled subscriptions use their billing period boundaries. When now has
// already passed current_period_end (the renewal event has not arrived yet)
// the window advances by whole billing periods from that end. Everyone else
// uses the UTC calendar month.
func CurrentPeriod(sub *Subscription, now time.Time) UsagePeriod {
	now = now.UTC()
	if sub == nil || !sub.Status.Entitled() || sub.CurrentPeriodStart.IsZero() || sub.CurrentPeriodEnd.IsZero() {
		return CalendarMonth(now)
	}

	start := sub.CurrentPeriodStart.UTC()
	end := sub.CurrentPeriodEnd.UTC()
	if !end.After(start) {
		return CalendarMonth(now)
	}

	if !now.Before(end) {
		period := sub.BillingPeriod
		if period == "" {
			period = PeriodMonthly
		}
		anchor := end
		k := 0
		for !now.Before(period.Advance(anchor, k+1)) {
			k++
		}
		start = period.Advance(anchor, k)
		end = period.Advance(anchor, k+1)
	}

	return UsagePeriod{
		Key:   PeriodKey(start.Format(time.RFC3339)),
		Start: start,
		End:   end,
	}
}

// CurrentPeriodKey is CurrentPeriod(sub, now).Key.
func CurrentPeriodKey(sub *Subscription, now time.Time) PeriodKey {
	return CurrentPeriod(sub, now).Key
}

// CalendarMonth returns the UTC calendar month containing t.
func CalendarMonth(t time.Time) UsagePeriod {
	t = t.UTC()
	start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	return UsagePeriod{
		Key:   PeriodKey(start.Format("2006-01")),
		Start: start,
		End:   start.AddDate(0, 1, 0),
	}
}

// CounterKey addresses one usage counter.
type CounterKey struct {
	UserID string
	Metric string
	Period PeriodKey
}

// UsageCounter is the consumption of one metric by one user within one period.
type UsageCounter struct {
	UserID    string    `json:"userId"`
	Metric    string    `json:"metric"`
	Period    PeriodKey `json:"period"`
	Count     int64     `json:"count"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Reservation is the outcome of an atomic check-and-increment. A denial is a
// normal result, not an error.
type Reservation struct {
	Allowed   bool      `json:"allowed"`
	Reason    string    `json:"reason,omitempty"`
	Metric    string    `json:"metric"`
	Period    PeriodKey `json:"period,omitempty"`
	Current   int64     `json:"current"`
	Limit     Limit     `json:"limit"`
	Unlimited bool      `json:"unlimited,omitempty"`
	PlanID    string    `json:"planId"`
	UserID    string    `json:"-"`
}

// MetricUsage is one row of a usage summary.
type MetricUsage struct {
	Metric    string `json:"metric"`
	Used      int64  `json:"used"`
	Limit     Limit  `json:"limit"`
	Unlimited bool   `json:"unlimited"`
}

// UsageSummary is a user's consumption for the current period.
type UsageSummary struct {
	PlanID string        `json:"planId"`
	Period UsagePeriod   `json:"period"`
	Rolled bool          `json:"rolled"`
	Usage  []MetricUsage `json:"usage"`
}
