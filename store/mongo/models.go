package mongo

import (
	"time"

	"github.com/xraph/grove"

	"github.com/xraph/entitle/demo"
	"github.com/xraph/entitle/id"
	"github.com/xraph/entitle/meter"
	"github.com/xraph/entitle/payment"
	"github.com/xraph/entitle/plan"
	"github.com/xraph/entitle/subscription"
	"github.com/xraph/entitle/token"
	"github.com/xraph/entitle/types"
)

// ==================== Plan models ====================

type planModel struct {
	grove.BaseModel `grove:"table:entitle_plans"`

	ID              string    `grove:"id,pk"            bson:"_id"`
	Service         string    `grove:"service"          bson:"service"`
	Name            string    `grove:"name"             bson:"name"`
	MonthlyAmount   int64     `grove:"monthly_amount"   bson:"monthly_amount"`
	MonthlyCurrency string    `grove:"monthly_currency" bson:"monthly_currency"`
	YearlyAmount    int64     `grove:"yearly_amount"    bson:"yearly_amount"`
	YearlyCurrency  string    `grove:"yearly_currency"  bson:"yearly_currency"`
	UsageLimit      int64     `grove:"usage_limit"      bson:"usage_limit"`
	Active          bool      `grove:"active"           bson:"active"`
	CreatedAt       time.Time `grove:"created_at"       bson:"created_at"`
	UpdatedAt       time.Time `grove:"updated_at"       bson:"updated_at"`
}

func toPlanModel(p *plan.Plan) *planModel {
	return &planModel{
		ID:              p.ID.String(),
		Service:         string(p.Service),
		Name:            p.Name,
		MonthlyAmount:   p.MonthlyPrice.Amount,
		MonthlyCurrency: p.MonthlyPrice.Currency,
		YearlyAmount:    p.YearlyPrice.Amount,
		YearlyCurrency:  p.YearlyPrice.Currency,
		UsageLimit:      p.UsageLimit,
		Active:          p.Active,
		CreatedAt:       p.CreatedAt,
		UpdatedAt:       p.UpdatedAt,
	}
}

func fromPlanModel(m *planModel) (*plan.Plan, error) {
	planID, err := id.ParsePlanID(m.ID)
	if err != nil {
		return nil, err
	}
	return &plan.Plan{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:           planID,
		Service:      plan.Service(m.Service),
		Name:         m.Name,
		MonthlyPrice: types.Money{Amount: m.MonthlyAmount, Currency: m.MonthlyCurrency},
		YearlyPrice:  types.Money{Amount: m.YearlyAmount, Currency: m.YearlyCurrency},
		UsageLimit:   m.UsageLimit,
		Active:       m.Active,
	}, nil
}

// ==================== Subscription models ====================

type subscriptionModel struct {
	grove.BaseModel `grove:"table:entitle_subscriptions"`

	ID             string     `grove:"id,pk"            bson:"_id"`
	SubscriberID   string     `grove:"subscriber_id"    bson:"subscriber_id"`
	Service        string     `grove:"service"          bson:"service"`
	PlanID         string     `grove:"plan_id"          bson:"plan_id"`
	Status         string     `grove:"status"           bson:"status"`
	BillingCycle   string     `grove:"billing_cycle"    bson:"billing_cycle"`
	StartAt        time.Time  `grove:"start_at"         bson:"start_at"`
	EndAt          time.Time  `grove:"end_at"           bson:"end_at"`
	AutoRenew      bool       `grove:"auto_renew"       bson:"auto_renew"`
	UsageCount     int64      `grove:"usage_count"      bson:"usage_count"`
	UsageLimit     int64      `grove:"usage_limit"      bson:"usage_limit"`
	LastResetAt    time.Time  `grove:"last_reset_at"    bson:"last_reset_at"`
	LastPaymentKey string     `grove:"last_payment_key" bson:"last_payment_key"`
	Version        int64      `grove:"version"          bson:"version"`
	CancelledAt    *time.Time `grove:"cancelled_at"     bson:"cancelled_at,omitempty"`
	CreatedAt      time.Time  `grove:"created_at"       bson:"created_at"`
	UpdatedAt      time.Time  `grove:"updated_at"       bson:"updated_at"`
}

func toSubscriptionModel(s *subscription.Subscription) *subscriptionModel {
	return &subscriptionModel{
		ID:             s.ID.String(),
		SubscriberID:   s.SubscriberID,
		Service:        string(s.Service),
		PlanID:         s.PlanID.String(),
		Status:         string(s.Status),
		BillingCycle:   string(s.BillingCycle),
		StartAt:        s.StartAt,
		EndAt:          s.EndAt,
		AutoRenew:      s.AutoRenew,
		UsageCount:     s.UsageCount,
		UsageLimit:     s.UsageLimit,
		LastResetAt:    s.LastResetAt,
		LastPaymentKey: s.LastPaymentKey,
		Version:        s.Version,
		CancelledAt:    s.CancelledAt,
		CreatedAt:      s.CreatedAt,
		UpdatedAt:      s.UpdatedAt,
	}
}

func fromSubscriptionModel(m *subscriptionModel) (*subscription.Subscription, error) {
	subID, err := id.ParseSubscriptionID(m.ID)
	if err != nil {
		return nil, err
	}
	planID, err := id.ParsePlanID(m.PlanID)
	if err != nil {
		return nil, err
	}
	return &subscription.Subscription{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:             subID,
		SubscriberID:   m.SubscriberID,
		Service:        plan.Service(m.Service),
		PlanID:         planID,
		Status:         subscription.Status(m.Status),
		BillingCycle:   plan.BillingCycle(m.BillingCycle),
		StartAt:        m.StartAt,
		EndAt:          m.EndAt,
		AutoRenew:      m.AutoRenew,
		UsageCount:     m.UsageCount,
		UsageLimit:     m.UsageLimit,
		LastResetAt:    m.LastResetAt,
		LastPaymentKey: m.LastPaymentKey,
		Version:        m.Version,
		CancelledAt:    m.CancelledAt,
	}, nil
}

// ==================== Usage models ====================

type usageEntryModel struct {
	grove.BaseModel `grove:"table:entitle_usage_log"`

	ID             string            `grove:"id,pk"           bson:"_id"`
	SubscriptionID string            `grove:"subscription_id" bson:"subscription_id"`
	SubjectID      string            `grove:"subject_id"      bson:"subject_id"`
	Service        string            `grove:"service"         bson:"service"`
	Amount         int64             `grove:"amount"          bson:"amount"`
	Metadata       map[string]string `grove:"metadata"        bson:"metadata,omitempty"`
	CreatedAt      time.Time         `grove:"created_at"      bson:"created_at"`
}

func toUsageEntryModel(e *meter.UsageEntry) *usageEntryModel {
	return &usageEntryModel{
		ID:             e.ID.String(),
		SubscriptionID: e.SubscriptionID.String(),
		SubjectID:      e.SubjectID,
		Service:        string(e.Service),
		Amount:         e.Amount,
		Metadata:       e.Metadata,
		CreatedAt:      e.CreatedAt,
	}
}

func fromUsageEntryModel(m *usageEntryModel) (*meter.UsageEntry, error) {
	entryID, err := id.ParseUsageEntryID(m.ID)
	if err != nil {
		return nil, err
	}
	subID, err := id.ParseSubscriptionID(m.SubscriptionID)
	if err != nil {
		return nil, err
	}
	return &meter.UsageEntry{
		ID:             entryID,
		SubscriptionID: subID,
		SubjectID:      m.SubjectID,
		Service:        plan.Service(m.Service),
		Amount:         m.Amount,
		Metadata:       m.Metadata,
		CreatedAt:      m.CreatedAt,
	}, nil
}

type serviceStatsModel struct {
	grove.BaseModel `grove:"table:entitle_service_stats"`

	Service       string    `grove:"service,pk"     bson:"_id"`
	TotalRequests int64     `grove:"total_requests" bson:"total_requests"`
	Successful    int64     `grove:"successful"     bson:"successful"`
	Failed        int64     `grove:"failed"         bson:"failed"`
	TotalCost     int64     `grove:"total_cost"     bson:"total_cost"`
	Currency      string    `grove:"currency"       bson:"currency"`
	UpdatedAt     time.Time `grove:"updated_at"     bson:"updated_at"`
}

func fromServiceStatsModel(m *serviceStatsModel) *meter.ServiceStats {
	return &meter.ServiceStats{
		Service:       plan.Service(m.Service),
		TotalRequests: m.TotalRequests,
		Successful:    m.Successful,
		Failed:        m.Failed,
		TotalCost:     types.Money{Amount: m.TotalCost, Currency: m.Currency},
		UpdatedAt:     m.UpdatedAt,
	}
}

// ==================== Token models ====================

type tokenModel struct {
	grove.BaseModel `grove:"table:entitle_tokens"`

	ID        string     `grove:"id,pk"      bson:"_id"`
	SubjectID string     `grove:"subject_id" bson:"subject_id"`
	Purpose   string     `grove:"purpose"    bson:"purpose"`
	NewEmail  string     `grove:"new_email"  bson:"new_email"`
	IsUsed    bool       `grove:"is_used"    bson:"is_used"`
	UsedAt    *time.Time `grove:"used_at"    bson:"used_at,omitempty"`
	ExpiresAt time.Time  `grove:"expires_at" bson:"expires_at"`
	CreatedAt time.Time  `grove:"created_at" bson:"created_at"`
}

func toTokenModel(t *token.Token) *tokenModel {
	return &tokenModel{
		ID:        t.ID,
		SubjectID: t.SubjectID,
		Purpose:   string(t.Purpose),
		NewEmail:  t.NewEmail,
		IsUsed:    t.IsUsed,
		UsedAt:    t.UsedAt,
		ExpiresAt: t.ExpiresAt,
		CreatedAt: t.CreatedAt,
	}
}

func fromTokenModel(m *tokenModel) *token.Token {
	return &token.Token{
		ID:        m.ID,
		SubjectID: m.SubjectID,
		Purpose:   token.Purpose(m.Purpose),
		NewEmail:  m.NewEmail,
		IsUsed:    m.IsUsed,
		UsedAt:    m.UsedAt,
		ExpiresAt: m.ExpiresAt,
		CreatedAt: m.CreatedAt,
	}
}

// ==================== Demo models ====================

type grantModel struct {
	grove.BaseModel `grove:"table:entitle_demo_grants"`

	Token         string     `grove:"token,pk"       bson:"_id"`
	CustomerName  string     `grove:"customer_name"  bson:"customer_name"`
	CustomerEmail string     `grove:"customer_email" bson:"customer_email"`
	Company       string     `grove:"company"        bson:"company"`
	Service       string     `grove:"service"        bson:"service"`
	MaxUsage      int64      `grove:"max_usage"      bson:"max_usage"`
	UsageCount    int64      `grove:"usage_count"    bson:"usage_count"`
	IsUsed        bool       `grove:"is_used"        bson:"is_used"`
	UsedAt        *time.Time `grove:"used_at"        bson:"used_at,omitempty"`
	ExpiresAt     time.Time  `grove:"expires_at"     bson:"expires_at"`
	CreatedBy     string     `grove:"created_by"     bson:"created_by"`
	CreatedAt     time.Time  `grove:"created_at"     bson:"created_at"`
	UpdatedAt     time.Time  `grove:"updated_at"     bson:"updated_at"`
}

func toGrantModel(g *demo.Grant) *grantModel {
	return &grantModel{
		Token:         g.Token,
		CustomerName:  g.CustomerName,
		CustomerEmail: g.CustomerEmail,
		Company:       g.Company,
		Service:       string(g.Service),
		MaxUsage:      g.MaxUsage,
		UsageCount:    g.UsageCount,
		IsUsed:        g.IsUsed,
		UsedAt:        g.UsedAt,
		ExpiresAt:     g.ExpiresAt,
		CreatedBy:     g.CreatedBy,
		CreatedAt:     g.CreatedAt,
		UpdatedAt:     g.UpdatedAt,
	}
}

func fromGrantModel(m *grantModel) *demo.Grant {
	return &demo.Grant{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		Token:         m.Token,
		CustomerName:  m.CustomerName,
		CustomerEmail: m.CustomerEmail,
		Company:       m.Company,
		Service:       plan.Service(m.Service),
		MaxUsage:      m.MaxUsage,
		UsageCount:    m.UsageCount,
		IsUsed:        m.IsUsed,
		UsedAt:        m.UsedAt,
		ExpiresAt:     m.ExpiresAt,
		CreatedBy:     m.CreatedBy,
	}
}

type demoAccessModel struct {
	grove.BaseModel `grove:"table:entitle_demo_access_log"`

	ID         string            `grove:"id,pk"       bson:"_id"`
	GrantToken string            `grove:"grant_token" bson:"grant_token"`
	Action     string            `grove:"action"      bson:"action"`
	Outcome    string            `grove:"outcome"     bson:"outcome"`
	IP         string            `grove:"ip"          bson:"ip"`
	UserAgent  string            `grove:"user_agent"  bson:"user_agent"`
	Metadata   map[string]string `grove:"metadata"    bson:"metadata,omitempty"`
	CreatedAt  time.Time         `grove:"created_at"  bson:"created_at"`
}

func toDemoAccessModel(l *demo.AccessLog) *demoAccessModel {
	return &demoAccessModel{
		ID:         l.ID.String(),
		GrantToken: l.GrantToken,
		Action:     l.Action,
		Outcome:    string(l.Outcome),
		IP:         l.IP,
		UserAgent:  l.UserAgent,
		Metadata:   l.Metadata,
		CreatedAt:  l.CreatedAt,
	}
}

func fromDemoAccessModel(m *demoAccessModel) (*demo.AccessLog, error) {
	logID, err := id.ParseDemoAccessID(m.ID)
	if err != nil {
		return nil, err
	}
	return &demo.AccessLog{
		ID:         logID,
		GrantToken: m.GrantToken,
		Action:     m.Action,
		Outcome:    demo.Outcome(m.Outcome),
		IP:         m.IP,
		UserAgent:  m.UserAgent,
		Metadata:   m.Metadata,
		CreatedAt:  m.CreatedAt,
	}, nil
}

// ==================== Payment models ====================

type paymentModel struct {
	grove.BaseModel `grove:"table:entitle_payments"`

	ID                string            `grove:"id,pk"               bson:"_id"`
	PaymentKey        string            `grove:"payment_key"         bson:"payment_key"`
	Provider          string            `grove:"provider"            bson:"provider"`
	Type              string            `grove:"type"                bson:"type"`
	Status            string            `grove:"status"              bson:"status"`
	Amount            int64             `grove:"amount"              bson:"amount"`
	Currency          string            `grove:"currency"            bson:"currency"`
	SubjectID         string            `grove:"subject_id"          bson:"subject_id"`
	SubscriptionID    string            `grove:"subscription_id"     bson:"subscription_id"`
	WorkflowID        string            `grove:"workflow_id"         bson:"workflow_id"`
	ProviderPaymentID string            `grove:"provider_payment_id" bson:"provider_payment_id"`
	ProviderEventID   string            `grove:"provider_event_id"   bson:"provider_event_id"`
	CheckoutURL       string            `grove:"checkout_url"        bson:"checkout_url"`
	Metadata          map[string]string `grove:"metadata"            bson:"metadata,omitempty"`
	PaidAt            *time.Time        `grove:"paid_at"             bson:"paid_at,omitempty"`
	CreatedAt         time.Time         `grove:"created_at"          bson:"created_at"`
	UpdatedAt         time.Time         `grove:"updated_at"          bson:"updated_at"`
}

func toPaymentModel(p *payment.Payment) *paymentModel {
	return &paymentModel{
		ID:                p.ID.String(),
		PaymentKey:        p.Key,
		Provider:          string(p.Provider),
		Type:              string(p.Type),
		Status:            string(p.Status),
		Amount:            p.Amount.Amount,
		Currency:          p.Amount.Currency,
		SubjectID:         p.SubjectID,
		SubscriptionID:    p.SubscriptionID.String(),
		WorkflowID:        p.WorkflowID,
		ProviderPaymentID: p.ProviderPaymentID,
		ProviderEventID:   p.ProviderEventID,
		CheckoutURL:       p.CheckoutURL,
		Metadata:          p.Metadata,
		PaidAt:            p.PaidAt,
		CreatedAt:         p.CreatedAt,
		UpdatedAt:         p.UpdatedAt,
	}
}

func fromPaymentModel(m *paymentModel) (*payment.Payment, error) {
	payID, err := id.ParsePaymentID(m.ID)
	if err != nil {
		return nil, err
	}
	subID, err := id.ParseOptional(m.SubscriptionID, id.PrefixSubscription)
	if err != nil {
		return nil, err
	}
	return &payment.Payment{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:                payID,
		Key:               m.PaymentKey,
		Provider:          payment.Provider(m.Provider),
		Type:              payment.Type(m.Type),
		Status:            payment.Status(m.Status),
		Amount:            types.Money{Amount: m.Amount, Currency: m.Currency},
		SubjectID:         m.SubjectID,
		SubscriptionID:    subID,
		WorkflowID:        m.WorkflowID,
		ProviderPaymentID: m.ProviderPaymentID,
		ProviderEventID:   m.ProviderEventID,
		CheckoutURL:       m.CheckoutURL,
		Metadata:          m.Metadata,
		PaidAt:            m.PaidAt,
	}, nil
}

type webhookEventModel struct {
	grove.BaseModel `grove:"table:entitle_webhook_events"`

	ID          string    `grove:"id,pk"        bson:"_id"`
	Provider    string    `grove:"provider"     bson:"provider"`
	EventID     string    `grove:"event_id"     bson:"event_id"`
	EventType   string    `grove:"event_type"   bson:"event_type"`
	PaymentKey  string    `grove:"payment_key"  bson:"payment_key"`
	Outcome     string    `grove:"outcome"      bson:"outcome"`
	Detail      string    `grove:"detail"       bson:"detail"`
	ProcessedAt time.Time `grove:"processed_at" bson:"processed_at"`
}

func toWebhookEventModel(e *payment.ProcessedEvent) *webhookEventModel {
	return &webhookEventModel{
		ID:          e.ID.String(),
		Provider:    string(e.Provider),
		EventID:     e.EventID,
		EventType:   e.EventType,
		PaymentKey:  e.PaymentKey,
		Outcome:     string(e.Outcome),
		Detail:      e.Detail,
		ProcessedAt: e.ProcessedAt,
	}
}

func fromWebhookEventModel(m *webhookEventModel) (*payment.ProcessedEvent, error) {
	evtID, err := id.ParseWebhookEventID(m.ID)
	if err != nil {
		return nil, err
	}
	return &payment.ProcessedEvent{
		ID:          evtID,
		Provider:    payment.Provider(m.Provider),
		EventID:     m.EventID,
		EventType:   m.EventType,
		PaymentKey:  m.PaymentKey,
		Outcome:     payment.Outcome(m.Outcome),
		Detail:      m.Detail,
		ProcessedAt: m.ProcessedAt,
	}, nil
}

type purchaseModel struct {
	grove.BaseModel `grove:"table:entitle_purchases"`

	ID         string    `grove:"id,pk"       bson:"_id"`
	SubjectID  string    `grove:"subject_id"  bson:"subject_id"`
	WorkflowID string    `grove:"workflow_id" bson:"workflow_id"`
	Amount     int64     `grove:"amount"      bson:"amount"`
	Currency   string    `grove:"currency"    bson:"currency"`
	PaymentKey string    `grove:"payment_key" bson:"payment_key"`
	CreatedAt  time.Time `grove:"created_at"  bson:"created_at"`
	UpdatedAt  time.Time `grove:"updated_at"  bson:"updated_at"`
}

func toPurchaseModel(p *payment.Purchase) *purchaseModel {
	return &purchaseModel{
		ID:         p.ID.String(),
		SubjectID:  p.SubjectID,
		WorkflowID: p.WorkflowID,
		Amount:     p.Price.Amount,
		Currency:   p.Price.Currency,
		PaymentKey: p.PaymentKey,
		CreatedAt:  p.CreatedAt,
		UpdatedAt:  p.UpdatedAt,
	}
}

func fromPurchaseModel(m *purchaseModel) (*payment.Purchase, error) {
	purID, err := id.ParsePurchaseID(m.ID)
	if err != nil {
		return nil, err
	}
	return &payment.Purchase{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:         purID,
		SubjectID:  m.SubjectID,
		WorkflowID: m.WorkflowID,
		Price:      types.Money{Amount: m.Amount, Currency: m.Currency},
		PaymentKey: m.PaymentKey,
	}, nil
}
