package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Processor-neutral event types accepted by the reconciler.
const (
	EventCheckoutCompleted       = "checkout.completed"
	EventSubscriptionUpdated     = "subscription.updated"
	EventSubscriptionDeleted     = "subscription.deleted"
	EventInvoicePaymentFailed    = "invoice.payment_failed"
	EventInvoicePaymentSucceeded = "invoice.payment_succeeded"
)

// RawEvent is a verified processor event before it is mapped to a variant.
type RawEvent struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// EventData is the payload shape shared by all recognized event types.
// Absent fields mean "unchanged".
type EventData struct {
	UserID             string     `json:"userId,omitempty"`
	CustomerID         string     `json:"customerId,omitempty"`
	SubscriptionID     string     `json:"subscriptionId,omitempty"`
	PlanID             string     `json:"planId,omitempty"`
	BillingPeriod      string     `json:"billingPeriod,omitempty"`
	Status             string     `json:"status,omitempty"`
	CurrentPeriodStart *time.Time `json:"currentPeriodStart,omitempty"`
	CurrentPeriodEnd   *time.Time `json:"currentPeriodEnd,omitempty"`
}

// Event is one of the closed set of event variants below.
type Event interface {
	Meta() EventMeta
	isEvent()
}

// EventMeta identifies an event and orders it against others.
type EventMeta struct {
	ID        string
	Type      string
	Timestamp time.Time
}

func (m EventMeta) Meta() EventMeta { return m }
func (EventMeta) isEvent()          {}

// Target names the subscription an event is about. Any one field may be
// enough to resolve the owning user.
type Target struct {
	UserID         string
	CustomerID     string
	SubscriptionID string
}

// Period is an optional billing window carried by an event.
type Period struct {
	Start time.Time
	End   time.Time
}

// IsZero reports whether the event carried no window.
func (p Period) IsZero() bool {
	return p.Start.IsZero() && p.End.IsZero()
}

type CheckoutCompleted struct {
	EventMeta
	Target
	PlanID        string
	BillingPeriod BillingPeriod
	Status        Status
	Period        Period
}

type SubscriptionUpdated struct {
	EventMeta
	Target
	PlanID        string
	BillingPeriod BillingPeriod
	Status        Status
	Period        Period
}

type SubscriptionDeleted struct {
	EventMeta
	Target
}

type InvoicePaymentFailed struct {
	EventMeta
	Target
}

type InvoicePaymentSucceeded struct {
	EventMeta
	Target
	Period Period
}

// UnknownEvent is any event type the reconciler does not understand.
type UnknownEvent struct {
	EventMeta
}

// ParseEvent maps a raw event into its variant, validating required fields.
func ParseEvent(raw RawEvent) (Event, error) {
	if raw.ID == "" {
		return nil, MalformedEvent("missing id")
	}
	if raw.Type == "" {
		return nil, MalformedEvent("missing type")
	}
	if raw.Timestamp.IsZero() {
		return nil, MalformedEvent("missing timestamp")
	}
	meta := EventMeta{ID: raw.ID, Type: raw.Type, Timestamp: raw.Timestamp.UTC()}

	switch raw.Type {
	case EventCheckoutCompleted, EventSubscriptionUpdated, EventSubscriptionDeleted,
		EventInvoicePaymentFailed, EventInvoicePaymentSucceeded:
	default:
		return UnknownEvent{EventMeta: meta}, nil
	}

	var data EventData
	if len(raw.Data) > 0 {
		if err := json.Unmarshal(raw.Data, &data); err != nil {
			return nil, MalformedEvent(fmt.Sprintf("invalid data: %v", err))
		}
	}
	target := Target{UserID: data.UserID, CustomerID: data.CustomerID, SubscriptionID: data.SubscriptionID}
	if target.UserID == "" && target.CustomerID == "" && target.SubscriptionID == "" {
		return nil, MalformedEvent("no user, customer or subscription identifier")
	}

	period, err := parsePeriod(data)
	if err != nil {
		return nil, err
	}
	var status Status
	if data.Status != "" {
		if status, err = ParseStatus(data.Status); err != nil {
			return nil, MalformedEvent(err.Error())
		}
	}
	var billing BillingPeriod
	if data.BillingPeriod != "" {
		if billing, err = ParseBillingPeriod(data.BillingPeriod); err != nil {
			return nil, MalformedEvent(err.Error())
		}
	}

	switch raw.Type {
	case EventCheckoutCompleted:
		if target.UserID == "" {
			return nil, MalformedEvent("checkout without user")
		}
		if data.PlanID == "" {
			return nil, MalformedEvent("checkout without plan")
		}
		if billing == "" {
			billing = PeriodMonthly
		}
		return CheckoutCompleted{EventMeta: meta, Target: target, PlanID: data.PlanID, BillingPeriod: billing, Status: status, Period: period}, nil
	case EventSubscriptionUpdated:
		return SubscriptionUpdated{EventMeta: meta, Target: target, PlanID: data.PlanID, BillingPeriod: billing, Status: status, Period: period}, nil
	case EventSubscriptionDeleted:
		return SubscriptionDeleted{EventMeta: meta, Target: target}, nil
	case EventInvoicePaymentFailed:
		return InvoicePaymentFailed{EventMeta: meta, Target: target}, nil
	default:
		return InvoicePaymentSucceeded{EventMeta: meta, Target: target, Period: period}, nil
	}
}

func parsePeriod(data EventData) (Period, error) {
	var p Period
	if data.CurrentPeriodStart != nil {
		p.Start = data.CurrentPeriodStart.UTC()
	}
	if data.CurrentPeriodEnd != nil {
		p.End = data.CurrentPeriodEnd.UTC()
	}
	if p.Start.IsZero() != p.End.IsZero() {
		return Period{}, MalformedEvent("period needs both start and end")
	}
	if p.End.Before(p.Start) {
		return Period{}, MalformedEvent("period ends before it starts")
	}
	return p, nil
}
