package payment

import (
	"context"
	"errors"

	"github.com/jamesl1500/taskispace.com-sub003/internal/domain"
)

// ErrInvalidSignature is returned when a webhook payload fails verification.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// Gateway defines the interface for payment providers.
type Gateway interface {
	// CreateCheckoutSession starts a hosted checkout and returns its URL.
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (string, error)
	// CreatePortalSession opens the self-service billing portal for a customer.
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error)
	// SignatureHeader names the request header carrying the webhook signature.
	SignatureHeader() string
	// ParseWebhook verifies payload against signature and maps it to a
	// processor-neutral event. Event types the provider sends but the
	// reconciler does not track come back under a provider-prefixed name.
	ParseWebhook(payload []byte, signature string) (*domain.RawEvent, error)
}

// CheckoutRequest carries everything a provider needs to start a checkout.
type CheckoutRequest struct {
	UserID        string
	PlanID        string
	BillingPeriod domain.BillingPeriod
	PriceID       string
	// CustomerID is set when the user already has a processor customer.
	CustomerID string
	SuccessURL string
	CancelURL  string
}

// Metadata keys attached to checkout sessions and subscriptions so webhook
// events can be tied back to the local user.
const (
	MetaUserID        = "user_id"
	MetaPlanID        = "plan_id"
	MetaBillingPeriod = "billing_period"
)

func (r CheckoutRequest) metadata() map[string]string {
	return map[string]string{
		MetaUserID:        r.UserID,
		MetaPlanID:        r.PlanID,
		MetaBillingPeriod: string(r.BillingPeriod),
	}
}
