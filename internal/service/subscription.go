package service

import (
	"context"
	"strings"

	"github.com/jamesl1500/taskispace.com-sub003/internal/domain"
	"github.com/jamesl1500/taskispace.com-sub003/internal/repository"
	"github.com/jamesl1500/taskispace.com-sub003/pkg/payment"
	"github.com/sirupsen/logrus"
)

// SubscriptionService serves read access to subscriptions and issues
// checkout and portal sessions. It never writes subscriptions: plan changes
// arrive later through the Reconciler.
type SubscriptionService struct {
	subs    repository.SubscriptionStore
	catalog *domain.Catalog
	payment payment.Gateway
	appURL  string
}

// NewSubscriptionService creates a new SubscriptionService. appURL is the
// frontend base that checkout and portal redirect back to.
func NewSubscriptionService(subs repository.SubscriptionStore, catalog *domain.Catalog, gateway payment.Gateway, appURL string) *SubscriptionService {
	return &SubscriptionService{
		subs:    subs,
		catalog: catalog,
		payment: gateway,
		appURL:  strings.TrimRight(appURL, "/"),
	}
}

// ListPlans returns the catalog in display order.
func (s *SubscriptionService) ListPlans() []domain.Plan {
	return s.catalog.ListPlans()
}

// GetCurrentSubscription returns the user's subscription, or nil if none.
func (s *SubscriptionService) GetCurrentSubscription(ctx context.Context, userID string) (*domain.Subscription, error) {
	if userID == "" {
		return nil, domain.ErrNotAuthenticated
	}
	sub, err := s.subs.FindByUserID(ctx, userID)
	if err != nil {
		return nil, storeError("failed to load subscription", err)
	}
	return sub, nil
}

// StatusCounts returns the number of subscriptions per status.
func (s *SubscriptionService) StatusCounts(ctx context.Context) (map[domain.Status]int, error) {
	counts, err := s.subs.CountByStatus(ctx)
	if err != nil {
		return nil, storeError("failed to count subscriptions", err)
	}
	return counts, nil
}

// CreateCheckoutSession validates the requested plan and period and returns
// the processor's checkout URL.
func (s *SubscriptionService) CreateCheckoutSession(ctx context.Context, userID, planID, billingPeriod string) (*domain.SessionResponse, error) {
	if userID == "" {
		return nil, domain.ErrNotAuthenticated
	}

	// 1. Validate plan
	plan, err := s.catalog.GetPlan(planID)
	if err != nil || plan.ID == s.catalog.Free().ID {
		return nil, domain.InvalidPlan(planID)
	}

	// 2. Validate period
	period, err := domain.ParseBillingPeriod(billingPeriod)
	if err != nil {
		return nil, err
	}
	priceID, ok := plan.PriceID(period)
	if !ok {
		logrus.WithFields(logrus.Fields{"plan_id": plan.ID, "period": period}).
			Warn("plan has no processor price for period")
		return nil, domain.InvalidPlan(planID)
	}

	// 3. Reuse the processor customer if the user already has one
	sub, err := s.subs.FindByUserID(ctx, userID)
	if err != nil {
		return nil, storeError("failed to load subscription", err)
	}
	req := payment.CheckoutRequest{
		UserID:        userID,
		PlanID:        plan.ID,
		BillingPeriod: period,
		PriceID:       priceID,
		SuccessURL:    s.appURL + "/settings/billing?checkout=success&session_id={CHECKOUT_SESSION_ID}",
		CancelURL:     s.appURL + "/pricing?checkout=canceled",
	}
	if sub != nil {
		req.CustomerID = sub.CustomerID
	}

	// 4. Create session
	url, err := s.payment.CreateCheckoutSession(ctx, req)
	if err != nil {
		return nil, domain.ErrInternal("failed to create checkout session", err)
	}
	return &domain.SessionResponse{URL: url}, nil
}

// CreatePortalSession returns the processor's self-service billing URL.
func (s *SubscriptionService) CreatePortalSession(ctx context.Context, userID string) (*domain.SessionResponse, error) {
	sub, err := s.GetCurrentSubscription(ctx, userID)
	if err != nil {
		return nil, err
	}
	if sub == nil || sub.CustomerID == "" {
		return nil, domain.ErrNoSubscription
	}

	url, err := s.payment.CreatePortalSession(ctx, sub.CustomerID, s.appURL+"/settings/billing")
	if err != nil {
		return nil, domain.ErrInternal("failed to create portal session", err)
	}
	return &domain.SessionResponse{URL: url}, nil
}
