package domain

import (
	"fmt"
	"sort"
)

// Limit is the cap for one metric within a usage period. Negative values mean
// the metric is not capped.
type Limit int64

// Unlimited marks a metric with no cap.
const Unlimited Limit = -1

// IsUnlimited reports whether l imposes no cap.
func (l Limit) IsUnlimited() bool {
	return l < 0
}

// FreePlanID is the built-in plan every user without a paid subscription is on.
const FreePlanID = "free"

// Well-known metric names.
const (
	MetricJarvisConversations = "jarvisConversationsPerMonth"
	MetricJarvisMessages      = "jarvisMessagesPerMonth"
	MetricFileUploads         = "fileUploadsPerMonth"
)

// Plan represents a subscription plan and its metered limits.
type Plan struct {
	ID                string           `json:"id" yaml:"id"`
	Name              string           `json:"name" yaml:"name"`
	MonthlyPriceCents int              `json:"monthlyPriceCents" yaml:"monthlyPriceCents"`
	YearlyPriceCents  int              `json:"yearlyPriceCents" yaml:"yearlyPriceCents"`
	MonthlyPriceID    string           `json:"monthlyPriceId,omitempty" yaml:"monthlyPriceId"`
	YearlyPriceID     string           `json:"yearlyPriceId,omitempty" yaml:"yearlyPriceId"`
	Limits            map[string]Limit `json:"limits" yaml:"limits"`
	Popular           bool             `json:"popular" yaml:"popular"`
}

// LimitFor returns the cap for metric, or Unlimited when the plan defines none.
func (p Plan) LimitFor(metric string) Limit {
	l, ok := p.Limits[metric]
	if !ok || l.IsUnlimited() {
		return Unlimited
	}
	return l
}

// PriceID returns the processor price identifier for the given billing period.
func (p Plan) PriceID(period BillingPeriod) (string, bool) {
	switch period {
	case PeriodMonthly:
		return p.MonthlyPriceID, p.MonthlyPriceID != ""
	case PeriodYearly:
		return p.YearlyPriceID, p.YearlyPriceID != ""
	}
	return "", false
}

// Catalog is the read-only set of plans, ordered by ascending monthly price.
type Catalog struct {
	plans  []Plan
	byID   map[string]Plan
	freeID string
}

// NewCatalog builds a catalog. freePlanID must name one of the plans.
func NewCatalog(plans []Plan, freePlanID string) (*Catalog, error) {
	c := &Catalog{
		plans:  make([]Plan, 0, len(plans)),
		byID:   make(map[string]Plan, len(plans)),
		freeID: freePlanID,
	}
	for _, p := range plans {
		if p.ID == "" {
			return nil, fmt.Errorf("plan with empty id")
		}
		if _, dup := c.byID[p.ID]; dup {
			return nil, fmt.Errorf("duplicate plan id %q", p.ID)
		}
		c.byID[p.ID] = p
		c.plans = append(c.plans, p)
	}
	if _, ok := c.byID[freePlanID]; !ok {
		return nil, fmt.Errorf("free plan %q not in catalog", freePlanID)
	}

	sort.SliceStable(c.plans, func(i, j int) bool {
		if c.plans[i].MonthlyPriceCents != c.plans[j].MonthlyPriceCents {
			return c.plans[i].MonthlyPriceCents < c.plans[j].MonthlyPriceCents
		}
		return c.plans[i].ID < c.plans[j].ID
	})
	return c, nil
}

// ListPlans returns all plans in display order (ascending price).
func (c *Catalog) ListPlans() []Plan {
	out := make([]Plan, len(c.plans))
	copy(out, c.plans)
	return out
}

// GetPlan returns the plan for id.
func (c *Catalog) GetPlan(id string) (Plan, error) {
	p, ok := c.byID[id]
	if !ok {
		return Plan{}, ErrNotFound(fmt.Sprintf("plan %q not found", id))
	}
	return p, nil
}

// Free returns the built-in free plan.
func (c *Catalog) Free() Plan {
	return c.byID[c.freeID]
}

// LimitFor returns plan's cap for metric.
func (c *Catalog) LimitFor(plan Plan, metric string) Limit {
	return plan.LimitFor(metric)
}

// PlanForPrice maps a processor price identifier back to its plan and period.
func (c *Catalog) PlanForPrice(priceID string) (Plan, BillingPeriod, bool) {
	if priceID == "" {
		return Plan{}, "", false
	}
	for _, p := range c.plans {
		if p.MonthlyPriceID == priceID {
			return p, PeriodMonthly, true
		}
		if p.YearlyPriceID == priceID {
			return p, PeriodYearly, true
		}
	}
	return Plan{}, "", false
}

// EffectivePlan is the plan whose limits apply to sub. Users without a
// subscription, or whose subscription no longer entitles them, get the free plan.
// A subscription pointing at a plan the catalog no longer carries also falls back.
func (c *Catalog) EffectivePlan(sub *Subscription) Plan {
	if sub == nil || !sub.Status.Entitled() {
		return c.Free()
	}
	if p, ok := c.byID[sub.PlanID]; ok {
		return p
	}
	return c.Free()
}

// PriceIDs holds processor price identifiers for the built-in plans.
type PriceIDs struct {
	ProMonthly  string
	ProYearly   string
	TeamMonthly string
	TeamYearly  string
}

// DefaultPlans returns the built-in plan table.
func DefaultPlans(prices PriceIDs) []Plan {
	return []Plan{
		{
			ID:                FreePlanID,
			Name:              "Free",
			MonthlyPriceCents: 0,
			YearlyPriceCents:  0,
			Limits: map[string]Limit{
				MetricJarvisConversations: 10,
				MetricJarvisMessages:      200,
				MetricFileUploads:         25,
			},
		},
		{
			ID:                "pro",
			Name:              "Pro",
			MonthlyPriceCents: 1200, // $12/mo
			YearlyPriceCents:  12000,
			MonthlyPriceID:    prices.ProMonthly,
			YearlyPriceID:     prices.ProYearly,
			Limits: map[string]Limit{
				MetricJarvisConversations: 300,
				MetricJarvisMessages:      10000,
				MetricFileUploads:         1000,
			},
			Popular: true,
		},
		{
			ID:                "team",
			Name:              "Team",
			MonthlyPriceCents: 2900, // $29/mo
			YearlyPriceCents:  29000,
			MonthlyPriceID:    prices.TeamMonthly,
			YearlyPriceID:     prices.TeamYearly,
			Limits: map[string]Limit{
				MetricJarvisConversations: Unlimited,
				MetricJarvisMessages:      Unlimited,
				MetricFileUploads:         5000,
			},
		},
	}
}
