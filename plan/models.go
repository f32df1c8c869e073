package plan

import (
	"errors"
	"fmt"
	"time"

	"github.com/xraph/entitle/id"
	"github.com/xraph/entitle/types"
)

// Service is the key of a metered service.
type Service string

const (
	ServiceTryOn                 Service = "tryon"
	ServiceEmailAutomation       Service = "email_automation"
	ServiceCRMIntegration        Service = "crm_integration"
	ServiceSocialMedia           Service = "social_media"
	ServiceDocumentAutomation    Service = "document_automation"
	ServiceAppointmentManagement Service = "appointment_management"
)

// Valid reports whether s is a known service.
func (s Service) Valid() bool {
	switch s {
	case ServiceTryOn, ServiceEmailAutomation, ServiceCRMIntegration,
		ServiceSocialMedia, ServiceDocumentAutomation, ServiceAppointmentManagement:
		return true
	}
	return false
}

// BillingCycle is the length of one paid period.
type BillingCycle string

const (
	CycleMonthly BillingCycle = "monthly"
	CycleYearly  BillingCycle = "yearly"
)

// Duration returns the period length. Periods are fixed-length days,
// not calendar months.
func (c BillingCycle) Duration() time.Duration {
	switch c {
	case CycleYearly:
		return 365 * 24 * time.Hour
	default:
		return 30 * 24 * time.Hour
	}
}

// Valid reports whether c is a known cycle.
func (c BillingCycle) Valid() bool {
	return c == CycleMonthly || c == CycleYearly
}

// Unlimited is the usage limit value meaning "no cap".
const Unlimited int64 = -1

type Plan struct {
	types.Entity
	ID           id.PlanID   `json:"id"`
	Service      Service     `json:"service"`
	Name         string      `json:"name"`
	MonthlyPrice types.Money `json:"monthly_price"`
	YearlyPrice  types.Money `json:"yearly_price"`
	UsageLimit   int64       `json:"usage_limit"`
	Active       bool        `json:"active"`
}

// Price returns the charge for one period of cycle.
func (p *Plan) Price(cycle BillingCycle) types.Money {
	if cycle == CycleYearly {
		return p.YearlyPrice
	}
	return p.MonthlyPrice
}

// Validate checks the plan before it is stored.
func (p *Plan) Validate() error {
	if !p.Service.Valid() {
		return fmt.Errorf("plan: unknown service %q", p.Service)
	}
	if p.Name == "" {
		return errors.New("plan: name is required")
	}
	if p.UsageLimit < Unlimited {
		return fmt.Errorf("plan: usage limit %d is invalid", p.UsageLimit)
	}
	return nil
}
