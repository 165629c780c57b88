package service

import (
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/qs3c/vpn_access_server/internal/model"
)

const (
	DefaultBillingUnit   = 720 * time.Hour
	DefaultMaxPlanMonths = 120
)

// BillingPeriod maps paid months to an access duration.
type BillingPeriod struct {
	Unit      time.Duration
	MaxMonths int
}

func NewBillingPeriod(unit time.Duration, maxMonths int) BillingPeriod {
	if unit <= 0 {
		unit = DefaultBillingUnit
	}
	if maxMonths <= 0 {
		maxMonths = DefaultMaxPlanMonths
	}
	return BillingPeriod{Unit: unit, MaxMonths: maxMonths}
}

// DurationOf returns months × Unit.
func (p BillingPeriod) DurationOf(months int) (time.Duration, error) {
	if months <= 0 || months > p.MaxMonths {
		return 0, fmt.Errorf("%w: months must be in 1..%d, got %d", ErrInvalidPlan, p.MaxMonths, months)
	}
	return time.Duration(months) * p.Unit, nil
}

// PlanCatalog is the set of purchasable plans. An empty catalog accepts any
// months value the billing period accepts.
type PlanCatalog struct {
	prices map[int]int64
}

func NewPlanCatalog(prices map[int]int64) *PlanCatalog {
	cp := make(map[int]int64, len(prices))
	for m, p := range prices {
		cp[m] = p
	}
	return &PlanCatalog{prices: cp}
}

// Check rejects months that are not offered.
func (c *PlanCatalog) Check(months int) error {
	if c == nil || len(c.prices) == 0 {
		return nil
	}
	if _, ok := c.prices[months]; !ok {
		return fmt.Errorf("%w: no plan for %d months", ErrInvalidPlan, months)
	}
	return nil
}

// Plans 按月数升序返回
func (c *PlanCatalog) Plans() []model.Plan {
	if c == nil {
		return nil
	}
	plans := make([]model.Plan, 0, len(c.prices))
	for m, p := range c.prices {
		plans = append(plans, model.Plan{Months: m, Price: p})
	}
	sort.Slice(plans, func(i, j int) bool { return plans[i].Months < plans[j].Months })
	return plans
}

var keyPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidateKey checks the external key before it reaches storage or a command line.
func ValidateKey(key string) error {
	if !keyPattern.MatchString(key) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}
