package domain

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of a subscription.
type Status string

const (
	StatusTrialing   Status = "trialing"
	StatusActive     Status = "active"
	StatusPastDue    Status = "past_due"
	StatusCanceled   Status = "canceled"
	StatusIncomplete Status = "incomplete"
)

// ParseStatus validates a status string.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusTrialing, StatusActive, StatusPastDue, StatusCanceled, StatusIncomplete:
		return st, nil
	}
	return "", fmt.Errorf("unknown subscription status %q", s)
}

// Entitled reports whether the status grants the subscribed plan's limits.
// past_due keeps the paid plan while the processor retries the payment.
func (s Status) Entitled() bool {
	switch s {
	case StatusTrialing, StatusActive, StatusPastDue:
		return true
	}
	return false
}

// transitions lists the states reachable from each state. Staying in the same
// state is always allowed.
var transitions = map[Status][]Status{
	StatusIncomplete: {StatusTrialing, StatusActive, StatusPastDue, StatusCanceled},
	StatusTrialing:   {StatusActive, StatusPastDue, StatusCanceled},
	StatusActive:     {StatusPastDue, StatusCanceled},
	StatusPastDue:    {StatusActive, StatusCanceled},
	StatusCanceled:   {},
}

// CanTransition reports whether a subscription may move from s to next.
func (s Status) CanTransition(next Status) bool {
	if s == next {
		return true
	}
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// BillingPeriod is the billing interval of a paid subscription.
type BillingPeriod string

const (
	PeriodMonthly BillingPeriod = "monthly"
	PeriodYearly  BillingPeriod = "yearly"
)

// ParseBillingPeriod validates a billing period string.
func ParseBillingPeriod(s string) (BillingPeriod, error) {
	switch p := BillingPeriod(s); p {
	case PeriodMonthly, PeriodYearly:
		return p, nil
	}
	return "", InvalidPeriod(s)
}

// Advance moves t forward by n billing periods.
func (p BillingPeriod) Advance(t time.Time, n int) time.Time {
	if p == PeriodYearly {
		return t.AddDate(n, 0, 0)
	}
	return t.AddDate(0, n, 0)
}

// Subscription represents a user's subscription to a plan. It is written only
// by the webhook reconciler.
type Subscription struct {
	ID                 string        `json:"id"`
	UserID             string        `json:"userId"`
	PlanID             string        `json:"planId"`
	BillingPeriod      BillingPeriod `json:"billingPeriod"`
	CustomerID         string        `json:"customerId,omitempty"`
	ExternalID         string        `json:"externalId,omitempty"`
	Status             Status        `json:"status"`
	CurrentPeriodStart time.Time     `json:"currentPeriodStart"`
	CurrentPeriodEnd   time.Time     `json:"currentPeriodEnd"`
	LastEventID        string        `json:"-"`
	LastEventAt        time.Time     `json:"-"`
	CreatedAt          time.Time     `json:"createdAt"`
	UpdatedAt          time.Time     `json:"updatedAt"`
}

// Validate checks the record invariants before it is persisted.
func (s *Subscription) Validate() error {
	if s.UserID == "" {
		return fmt.Errorf("subscription without user")
	}
	if _, err := ParseStatus(string(s.Status)); err != nil {
		return err
	}
	if s.CurrentPeriodEnd.Before(s.CurrentPeriodStart) {
		return fmt.Errorf("current_period_end %s before current_period_start %s",
			s.CurrentPeriodEnd.Format(time.RFC3339), s.CurrentPeriodStart.Format(time.RFC3339))
	}
	return nil
}

// CreateCheckoutRequest is the input for starting a checkout.
type CreateCheckoutRequest struct {
	PlanID        string `json:"planId" validate:"required,max=64"`
	BillingPeriod string `json:"billingPeriod" validate:"required"`
}

// SessionResponse returns the URL to redirect the user to.
type SessionResponse struct {
	URL string `json:"url"`
}
