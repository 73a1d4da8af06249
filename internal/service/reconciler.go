package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jamesl1500/taskispace.com-sub003/internal/domain"
	"github.com/jamesl1500/taskispace.com-sub003/internal/metrics"
	"github.com/jamesl1500/taskispace.com-sub003/internal/repository"
	"github.com/sirupsen/logrus"
)

// Outcome says what applying one event did.
type Outcome string

const (
	// OutcomeApplied means the subscription was written.
	OutcomeApplied Outcome = "applied"
	// OutcomeDuplicate means the event id had been processed before.
	OutcomeDuplicate Outcome = "duplicate"
	// OutcomeStale means a newer event had already been applied.
	OutcomeStale Outcome = "stale"
	// OutcomeIgnored means the event is not a legal transition for the
	// current subscription, or refers to a subscription the user has replaced.
	OutcomeIgnored Outcome = "ignored"
	// OutcomeUnknown means the event type is not understood.
	OutcomeUnknown Outcome = "unknown"
)

// ApplyResult describes a processed event. Every outcome is acknowledged to
// the processor.
type ApplyResult struct {
	Outcome      Outcome              `json:"outcome"`
	EventID      string               `json:"eventId"`
	EventType    string               `json:"eventType"`
	UserID       string               `json:"userId,omitempty"`
	Subscription *domain.Subscription `json:"-"`
}

// Reconciler folds processor lifecycle events into the subscription record.
// It is the only writer of subscriptions.
type Reconciler struct {
	subs    repository.SubscriptionStore
	catalog *domain.Catalog
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewReconciler creates a new Reconciler. m may be nil.
func NewReconciler(subs repository.SubscriptionStore, catalog *domain.Catalog, m *metrics.Metrics) *Reconciler {
	return &Reconciler{subs: subs, catalog: catalog, metrics: m, now: time.Now}
}

// SetClock replaces the wall clock, for tests.
func (r *Reconciler) SetClock(now func() time.Time) {
	r.now = now
}

// ApplyEvent applies one verified event exactly once. The dedup record, the
// ordering check and the subscription write commit together or not at all,
// so a failed call is safe to repeat on redelivery.
func (r *Reconciler) ApplyEvent(ctx context.Context, raw domain.RawEvent) (*ApplyResult, error) {
	start := time.Now()
	defer func() {
		if r.metrics != nil {
			r.metrics.ApplyDuration.Observe(time.Since(start).Seconds())
		}
	}()

	ev, err := domain.ParseEvent(raw)
	if err != nil {
		r.observe(raw.Type, "malformed")
		logrus.WithError(err).WithFields(logrus.Fields{
			"event_id":   raw.ID,
			"event_type": raw.Type,
		}).Warn("rejected malformed event")
		return nil, err
	}
	meta := ev.Meta()

	var result *ApplyResult
	err = r.subs.InTx(ctx, func(tx repository.SubscriptionTx) error {
		result = &ApplyResult{EventID: meta.ID, EventType: meta.Type}

		fresh, err := tx.MarkProcessed(ctx, meta)
		if err != nil {
			return err
		}
		if !fresh {
			result.Outcome = OutcomeDuplicate
			return nil
		}
		if _, ok := ev.(domain.UnknownEvent); ok {
			result.Outcome = OutcomeUnknown
			return nil
		}

		userID, err := tx.ResolveUser(ctx, targetOf(ev))
		if err != nil {
			return err
		}
		if userID == "" {
			// Rolls back the dedup record so the redelivery is processed.
			return domain.ErrSubscriptionUnknown
		}
		result.UserID = userID

		current, err := tx.LockByUserID(ctx, userID)
		if err != nil {
			return err
		}
		if current != nil && current.LastEventAt.After(meta.Timestamp) {
			result.Outcome = OutcomeStale
			result.Subscription = current
			return nil
		}

		next, ok := r.transition(current, userID, ev)
		if !ok {
			result.Outcome = OutcomeIgnored
			result.Subscription = current
			return nil
		}

		now := r.now().UTC()
		next.LastEventID = meta.ID
		next.LastEventAt = meta.Timestamp
		next.UpdatedAt = now
		if next.ID == "" {
			next.ID = uuid.New().String()
			next.CreatedAt = now
		}
		if err := tx.Save(ctx, next); err != nil {
			return err
		}
		result.Outcome = OutcomeApplied
		result.Subscription = next
		return nil
	})

	fields := logrus.Fields{"event_id": meta.ID, "event_type": meta.Type}
	if result != nil && result.UserID != "" {
		fields["user_id"] = result.UserID
	}
	if err != nil {
		outcome := "error"
		if errors.Is(err, domain.ErrSubscriptionUnknown) {
			outcome = "unresolved"
			logrus.WithFields(fields).Warn("event for unknown subscription, awaiting redelivery")
		} else {
			logrus.WithError(err).WithFields(fields).Error("failed to apply event")
		}
		r.observe(meta.Type, outcome)
		return nil, storeError("failed to apply event", err)
	}

	entry := logrus.WithFields(fields).WithField("outcome", result.Outcome)
	switch result.Outcome {
	case OutcomeApplied:
		entry.WithField("status", result.Subscription.Status).Info("event applied")
	case OutcomeIgnored:
		entry.Warn("event ignored")
	default:
		entry.Info("event acknowledged without change")
	}
	r.observe(meta.Type, string(result.Outcome))
	return result, nil
}

// transition computes the subscription after ev. It returns false when ev
// must not change the record.
func (r *Reconciler) transition(current *domain.Subscription, userID string, ev domain.Event) (*domain.Subscription, bool) {
	var next domain.Subscription
	if current != nil {
		next = *current
	} else {
		next = domain.Subscription{
			UserID:        userID,
			PlanID:        r.catalog.Free().ID,
			BillingPeriod: domain.PeriodMonthly,
			Status:        domain.StatusIncomplete,
		}
	}

	switch e := ev.(type) {
	case domain.CheckoutCompleted:
		// A canceled subscription stays canceled; a new one replaces it.
		if current != nil && current.Status == domain.StatusCanceled &&
			e.SubscriptionID != "" && e.SubscriptionID == current.ExternalID {
			return nil, false
		}
		if _, err := r.catalog.GetPlan(e.PlanID); err != nil {
			logrus.WithFields(logrus.Fields{"event_id": e.ID, "plan_id": e.PlanID}).
				Warn("checkout for plan missing from catalog, limits fall back to free")
		}
		next.PlanID = e.PlanID
		next.BillingPeriod = e.BillingPeriod
		next.Status = checkoutStatus(current, e)
		setIdentifiers(&next, e.Target)
		if e.Period.IsZero() {
			next.CurrentPeriodStart = e.Timestamp
			next.CurrentPeriodEnd = e.BillingPeriod.Advance(e.Timestamp, 1)
		} else {
			next.CurrentPeriodStart, next.CurrentPeriodEnd = e.Period.Start, e.Period.End
		}
		return &next, true

	case domain.SubscriptionUpdated:
		replaced := current != nil && refersToOther(current, e.Target)
		revived := replaced && current.Status == domain.StatusCanceled
		if replaced && !revived {
			return nil, false
		}
		if e.Status != "" && !revived && !next.Status.CanTransition(e.Status) {
			return nil, false
		}
		if e.PlanID != "" {
			next.PlanID = e.PlanID
		}
		if e.BillingPeriod != "" {
			next.BillingPeriod = e.BillingPeriod
		}
		if e.Status != "" {
			next.Status = e.Status
		}
		setIdentifiers(&next, e.Target)
		if !e.Period.IsZero() {
			next.CurrentPeriodStart, next.CurrentPeriodEnd = e.Period.Start, e.Period.End
		}
		return &next, true

	case domain.SubscriptionDeleted:
		if current != nil && refersToOther(current, e.Target) {
			return nil, false
		}
		next.Status = domain.StatusCanceled
		setIdentifiers(&next, e.Target)
		return &next, true

	case domain.InvoicePaymentFailed:
		if current == nil || refersToOther(current, e.Target) {
			return nil, false
		}
		switch current.Status {
		case domain.StatusActive, domain.StatusTrialing, domain.StatusPastDue:
			next.Status = domain.StatusPastDue
			return &next, true
		}
		return nil, false

	case domain.InvoicePaymentSucceeded:
		if current == nil || refersToOther(current, e.Target) {
			return nil, false
		}
		switch current.Status {
		case domain.StatusPastDue, domain.StatusIncomplete:
			next.Status = domain.StatusActive
		case domain.StatusActive, domain.StatusTrialing:
		default:
			return nil, false
		}
		if !e.Period.IsZero() {
			next.CurrentPeriodStart, next.CurrentPeriodEnd = e.Period.Start, e.Period.End
		}
		return &next, true
	}
	return nil, false
}

// checkoutStatus picks the status a checkout leaves behind. Without one from
// the processor, a status already set by an event for the same processor
// subscription is kept, so a trial recorded first is not promoted to active.
func checkoutStatus(current *domain.Subscription, e domain.CheckoutCompleted) domain.Status {
	if e.Status != "" {
		return e.Status
	}
	if current != nil && current.Status != domain.StatusCanceled && !refersToOther(current, e.Target) {
		return current.Status
	}
	return domain.StatusActive
}

// refersToOther reports whether target names a processor subscription other
// than the one sub currently tracks.
func refersToOther(sub *domain.Subscription, target domain.Target) bool {
	return sub.ExternalID != "" && target.SubscriptionID != "" && target.SubscriptionID != sub.ExternalID
}

func setIdentifiers(sub *domain.Subscription, target domain.Target) {
	if target.CustomerID != "" {
		sub.CustomerID = target.CustomerID
	}
	if target.SubscriptionID != "" {
		sub.ExternalID = target.SubscriptionID
	}
}

func targetOf(ev domain.Event) domain.Target {
	switch e := ev.(type) {
	case domain.CheckoutCompleted:
		return e.Target
	case domain.SubscriptionUpdated:
		return e.Target
	case domain.SubscriptionDeleted:
		return e.Target
	case domain.InvoicePaymentFailed:
		return e.Target
	case domain.InvoicePaymentSucceeded:
		return e.Target
	}
	return domain.Target{}
}

func (r *Reconciler) observe(eventType, outcome string) {
	if r.metrics == nil {
		return
	}
	r.metrics.WebhookEvents.WithLabelValues(eventType, outcome).Inc()
}
