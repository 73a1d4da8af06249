package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jamesl1500/taskispace.com-sub003/internal/domain"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
	"github.com/stripe/stripe-go/v79/webhook"
)

const untrackedPrefix = "stripe."

// PlanResolver maps a processor price back to a catalog plan.
type PlanResolver interface {
	PlanForPrice(priceID string) (domain.Plan, domain.BillingPeriod, bool)
}

// StripeGateway implements Gateway on Stripe Checkout, the customer portal and
// signed Stripe webhooks.
type StripeGateway struct {
	client        *client.API
	webhookSecret string
	plans         PlanResolver
}

// NewStripeGateway creates a StripeGateway using its own API client rather
// than the package-level stripe.Key.
func NewStripeGateway(secretKey, webhookSecret string, plans PlanResolver) *StripeGateway {
	return &StripeGateway{
		client:        client.New(secretKey, nil),
		webhookSecret: webhookSecret,
		plans:         plans,
	}
}

func (g *StripeGateway) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (string, error) {
	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(req.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		ClientReferenceID: stripe.String(req.UserID),
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: req.metadata(),
		},
	}
	if req.CustomerID != "" {
		params.Customer = stripe.String(req.CustomerID)
	}
	for k, v := range req.metadata() {
		params.AddMetadata(k, v)
	}
	params.Context = ctx

	sess, err := g.client.CheckoutSessions.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe checkout session: %w", err)
	}
	return sess.URL, nil
}

func (g *StripeGateway) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}
	params.Context = ctx

	sess, err := g.client.BillingPortalSessions.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe portal session: %w", err)
	}
	return sess.URL, nil
}

func (g *StripeGateway) SignatureHeader() string {
	return "Stripe-Signature"
}

func (g *StripeGateway) ParseWebhook(payload []byte, signature string) (*domain.RawEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, g.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		if errors.Is(err, webhook.ErrNotSigned) || errors.Is(err, webhook.ErrInvalidHeader) ||
			errors.Is(err, webhook.ErrNoValidSignature) || errors.Is(err, webhook.ErrTooOld) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		}
		return nil, domain.MalformedEvent(err.Error())
	}

	// Untracked types are namespaced so they can never collide with a
	// neutral type name, which reuses some of Stripe's.
	raw := &domain.RawEvent{
		ID:        event.ID,
		Type:      untrackedPrefix + string(event.Type),
		Timestamp: time.Unix(event.Created, 0).UTC(),
	}
	if event.Data == nil {
		return raw, nil
	}

	var data *domain.EventData
	var neutral string
	switch event.Type {
	case "checkout.session.completed":
		data, err = g.checkoutData(event.Data.Raw)
		neutral = domain.EventCheckoutCompleted
	case "customer.subscription.created", "customer.subscription.updated":
		data, err = g.subscriptionData(event.Data.Raw)
		neutral = domain.EventSubscriptionUpdated
	case "customer.subscription.deleted":
		data, err = g.subscriptionData(event.Data.Raw)
		neutral = domain.EventSubscriptionDeleted
	case "invoice.payment_failed":
		data, err = invoiceData(event.Data.Raw, false)
		neutral = domain.EventInvoicePaymentFailed
	case "invoice.payment_succeeded":
		data, err = invoiceData(event.Data.Raw, true)
		neutral = domain.EventInvoicePaymentSucceeded
	default:
		return raw, nil
	}
	if err != nil {
		return nil, domain.MalformedEvent(err.Error())
	}
	if data == nil {
		return raw, nil
	}

	raw.Type = neutral
	raw.Data, err = json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode event data: %w", err)
	}
	return raw, nil
}

// checkoutData returns nil for sessions that did not start a subscription.
func (g *StripeGateway) checkoutData(obj json.RawMessage) (*domain.EventData, error) {
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(obj, &sess); err != nil {
		return nil, fmt.Errorf("invalid checkout session: %w", err)
	}
	if sess.Mode != stripe.CheckoutSessionModeSubscription {
		return nil, nil
	}

	data := &domain.EventData{
		UserID:        sess.ClientReferenceID,
		PlanID:        sess.Metadata[MetaPlanID],
		BillingPeriod: sess.Metadata[MetaBillingPeriod],
		Status:        string(checkoutStatus(sess.PaymentStatus)),
	}
	if data.UserID == "" {
		data.UserID = sess.Metadata[MetaUserID]
	}
	if sess.Customer != nil {
		data.CustomerID = sess.Customer.ID
	}
	if sess.Subscription != nil {
		data.SubscriptionID = sess.Subscription.ID
	}
	return data, nil
}

func (g *StripeGateway) subscriptionData(obj json.RawMessage) (*domain.EventData, error) {
	var sub stripe.Subscription
	if err := json.Unmarshal(obj, &sub); err != nil {
		return nil, fmt.Errorf("invalid subscription: %w", err)
	}

	data := &domain.EventData{
		UserID:         sub.Metadata[MetaUserID],
		SubscriptionID: sub.ID,
		PlanID:         sub.Metadata[MetaPlanID],
		BillingPeriod:  sub.Metadata[MetaBillingPeriod],
		Status:         string(mapStatus(sub.Status)),
	}
	if sub.Customer != nil {
		data.CustomerID = sub.Customer.ID
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
		if plan, period, ok := g.plans.PlanForPrice(sub.Items.Data[0].Price.ID); ok {
			data.PlanID = plan.ID
			data.BillingPeriod = string(period)
		}
	}
	if sub.CurrentPeriodStart > 0 && sub.CurrentPeriodEnd > 0 {
		data.CurrentPeriodStart = unixTime(sub.CurrentPeriodStart)
		data.CurrentPeriodEnd = unixTime(sub.CurrentPeriodEnd)
	}
	return data, nil
}

// invoiceData maps invoice events. Only a paid invoice carries the new
// billing window; it is taken from the first line item.
func invoiceData(obj json.RawMessage, withPeriod bool) (*domain.EventData, error) {
	var inv stripe.Invoice
	if err := json.Unmarshal(obj, &inv); err != nil {
		return nil, fmt.Errorf("invalid invoice: %w", err)
	}
	if inv.Subscription == nil || inv.Subscription.ID == "" {
		// One-off invoices have nothing to do with plan state.
		return nil, nil
	}

	data := &domain.EventData{SubscriptionID: inv.Subscription.ID}
	if inv.Customer != nil {
		data.CustomerID = inv.Customer.ID
	}
	if inv.SubscriptionDetails != nil {
		data.UserID = inv.SubscriptionDetails.Metadata[MetaUserID]
	}
	if withPeriod && inv.Lines != nil && len(inv.Lines.Data) > 0 {
		if p := inv.Lines.Data[0].Period; p != nil && p.Start > 0 && p.End > 0 {
			data.CurrentPeriodStart = unixTime(p.Start)
			data.CurrentPeriodEnd = unixTime(p.End)
		}
	}
	return data, nil
}

// mapStatus folds Stripe's statuses into the local lifecycle.
func mapStatus(s stripe.SubscriptionStatus) domain.Status {
	switch s {
	case stripe.SubscriptionStatusTrialing:
		return domain.StatusTrialing
	case stripe.SubscriptionStatusActive:
		return domain.StatusActive
	case stripe.SubscriptionStatusPastDue, stripe.SubscriptionStatusUnpaid, stripe.SubscriptionStatusPaused:
		return domain.StatusPastDue
	case stripe.SubscriptionStatusCanceled, stripe.SubscriptionStatusIncompleteExpired:
		return domain.StatusCanceled
	case stripe.SubscriptionStatusIncomplete:
		return domain.StatusIncomplete
	}
	return ""
}

// checkoutStatus maps a subscription session's payment status. A trial needs
// no payment up front; an unpaid session waits on its first invoice.
func checkoutStatus(s stripe.CheckoutSessionPaymentStatus) domain.Status {
	switch s {
	case stripe.CheckoutSessionPaymentStatusPaid:
		return domain.StatusActive
	case stripe.CheckoutSessionPaymentStatusNoPaymentRequired:
		return domain.StatusTrialing
	case stripe.CheckoutSessionPaymentStatusUnpaid:
		return domain.StatusIncomplete
	}
	return ""
}

func unixTime(sec int64) *time.Time {
	t := time.Unix(sec, 0).UTC()
	return &t
}
