// Package memory is an in-process Store for tests and single-instance
// deployments. One mutex serializes writes, so every conditional update
// is trivially atomic. Records are copied on the way in and out.
package memory

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/xraph/entitle"
	"github.com/xraph/entitle/demo"
	"github.com/xraph/entitle/id"
	"github.com/xraph/entitle/meter"
	"github.com/xraph/entitle/payment"
	"github.com/xraph/entitle/plan"
	"github.com/xraph/entitle/store"
	"github.com/xraph/entitle/subscription"
	"github.com/xraph/entitle/token"
	"github.com/xraph/entitle/types"
)

var _ store.Store = (*Store)(nil)

type Store struct {
	mu sync.RWMutex

	plans         map[string]*plan.Plan
	subscriptions map[string]*subscription.Subscription
	// subscriptionKeys indexes subscriptions by subscriber and service.
	subscriptionKeys map[string]string
	tokens           map[string]*token.Token
	usage            []*meter.UsageEntry
	stats            map[plan.Service]*meter.ServiceStats
	grants           map[string]*demo.Grant
	demoAccess       []*demo.AccessLog
	payments         map[string]*payment.Payment
	events           map[string]*payment.ProcessedEvent
	purchases        map[string]*payment.Purchase
	// redeeming holds tokens whose redemption callback is running; the
	// channel closes when it settles.
	redeeming map[string]chan struct{}

	closed bool
}

func New() *Store {
	return &Store{
		plans:            make(map[string]*plan.Plan),
		subscriptions:    make(map[string]*subscription.Subscription),
		subscriptionKeys: make(map[string]string),
		tokens:           make(map[string]*token.Token),
		stats:            make(map[plan.Service]*meter.ServiceStats),
		grants:           make(map[string]*demo.Grant),
		payments:         make(map[string]*payment.Payment),
		events:           make(map[string]*payment.ProcessedEvent),
		purchases:        make(map[string]*payment.Purchase),
		redeeming:        make(map[string]chan struct{}),
	}
}

func subKey(subscriberID string, service plan.Service) string {
	return subscriberID + "\x00" + string(service)
}

func clonePlan(p *plan.Plan) *plan.Plan {
	c := *p
	return &c
}

func cloneSub(s *subscription.Subscription) *subscription.Subscription {
	c := *s
	if s.CancelledAt != nil {
		t := *s.CancelledAt
		c.CancelledAt = &t
	}
	return &c
}

func cloneToken(t *token.Token) *token.Token {
	c := *t
	c.Secret = ""
	if t.UsedAt != nil {
		u := *t.UsedAt
		c.UsedAt = &u
	}
	return &c
}

func cloneGrant(g *demo.Grant) *demo.Grant {
	c := *g
	if g.UsedAt != nil {
		u := *g.UsedAt
		c.UsedAt = &u
	}
	return &c
}

func clonePayment(p *payment.Payment) *payment.Payment {
	c := *p
	c.Metadata = maps.Clone(p.Metadata)
	if p.PaidAt != nil {
		t := *p.PaidAt
		c.PaidAt = &t
	}
	return &c
}

// ──────────────────────────────────────────────────
// Plan store
// ──────────────────────────────────────────────────

func (s *Store) CreatePlan(_ context.Context, p *plan.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.plans[p.ID.String()]; exists {
		return entitle.ErrAlreadyExists
	}
	s.plans[p.ID.String()] = clonePlan(p)
	return nil
}

func (s *Store) GetPlan(_ context.Context, planID id.PlanID) (*plan.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if p, ok := s.plans[planID.String()]; ok {
		return clonePlan(p), nil
	}
	return nil, entitle.ErrPlanNotFound
}

func (s *Store) ListPlans(_ context.Context, service plan.Service) ([]*plan.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*plan.Plan, 0)
	for _, p := range s.plans {
		if service == "" || p.Service == service {
			result = append(result, clonePlan(p))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID.String() < result[j].ID.String() })
	return result, nil
}

// ──────────────────────────────────────────────────
// Subscription store
// ──────────────────────────────────────────────────

func (s *Store) CreateSubscription(_ context.Context, sub *subscription.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := subKey(sub.SubscriberID, sub.Service)
	if _, exists := s.subscriptionKeys[key]; exists {
		return entitle.ErrSubscriptionExists
	}
	if _, exists := s.subscriptions[sub.ID.String()]; exists {
		return entitle.ErrAlreadyExists
	}
	s.subscriptions[sub.ID.String()] = cloneSub(sub)
	s.subscriptionKeys[key] = sub.ID.String()
	return nil
}

func (s *Store) GetSubscription(_ context.Context, subID id.SubscriptionID) (*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if sub, ok := s.subscriptions[subID.String()]; ok {
		return cloneSub(sub), nil
	}
	return nil, entitle.ErrSubscriptionNotFound
}

func (s *Store) GetSubscriptionFor(_ context.Context, subscriberID string, service plan.Service) (*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if subID, ok := s.subscriptionKeys[subKey(subscriberID, service)]; ok {
		return cloneSub(s.subscriptions[subID]), nil
	}
	return nil, entitle.ErrSubscriptionNotFound
}

func (s *Store) ListSubscriptions(_ context.Context, subscriberID string) ([]*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*subscription.Subscription, 0)
	for _, sub := range s.subscriptions {
		if sub.SubscriberID == subscriberID {
			result = append(result, cloneSub(sub))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Service < result[j].Service })
	return result, nil
}

func (s *Store) ActivateSubscription(_ context.Context, subID id.SubscriptionID, a subscription.Activation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subscriptions[subID.String()]
	if !ok {
		return entitle.ErrSubscriptionNotFound
	}
	if sub.Version != a.ExpectedVersion || sub.Status == subscription.StatusCancelled {
		return entitle.ErrConditionFailed
	}
	sub.Status = subscription.StatusActive
	sub.StartAt = a.StartAt
	sub.EndAt = a.EndAt
	sub.LastPaymentKey = a.PaymentKey
	if a.ResetUsage {
		sub.UsageCount = 0
		sub.LastResetAt = a.At
	}
	sub.Version++
	sub.Touch(a.At)
	return nil
}

func (s *Store) CancelSubscription(_ context.Context, subID id.SubscriptionID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subscriptions[subID.String()]
	if !ok {
		return entitle.ErrSubscriptionNotFound
	}
	if sub.Status == subscription.StatusCancelled {
		return entitle.ErrConditionFailed
	}
	sub.Status = subscription.StatusCancelled
	sub.AutoRenew = false
	sub.CancelledAt = &at
	sub.Version++
	sub.Touch(at)
	return nil
}

func (s *Store) ExpireSubscriptions(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, sub := range s.subscriptions {
		if sub.Status == subscription.StatusActive && now.After(sub.EndAt) {
			sub.Status = subscription.StatusExpired
			sub.Version++
			sub.Touch(now)
			n++
		}
	}
	return n, nil
}

func (s *Store) ListResetDue(_ context.Context, now time.Time, limit int) ([]*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*subscription.Subscription, 0)
	for _, sub := range s.subscriptions {
		if sub.Status == subscription.StatusActive && sub.ResetDue(now) {
			result = append(result, cloneSub(sub))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].LastResetAt.Before(result[j].LastResetAt) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) ResetUsage(_ context.Context, subID id.SubscriptionID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subscriptions[subID.String()]
	if !ok {
		return entitle.ErrSubscriptionNotFound
	}
	sub.UsageCount = 0
	sub.LastResetAt = at
	sub.Touch(at)
	return nil
}

// ──────────────────────────────────────────────────
// Token store
// ──────────────────────────────────────────────────

func (s *Store) CreateToken(_ context.Context, t *token.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tokens[t.ID]; exists {
		return entitle.ErrAlreadyExists
	}
	s.tokens[t.ID] = cloneToken(t)
	return nil
}

func (s *Store) GetToken(_ context.Context, tokenID string) (*token.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if t, ok := s.tokens[tokenID]; ok {
		return cloneToken(t), nil
	}
	return nil, entitle.ErrTokenNotFound
}

func (s *Store) InvalidateTokens(_ context.Context, subjectID string, purpose token.Purpose, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, t := range s.tokens {
		if t.SubjectID == subjectID && t.Purpose == purpose && !t.IsUsed {
			t.IsUsed = true
			used := at
			t.UsedAt = &used
			n++
		}
	}
	return n, nil
}

func (s *Store) ReplaceToken(_ context.Context, t *token.Token) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tokens[t.ID]; exists {
		return 0, entitle.ErrAlreadyExists
	}
	var n int64
	for _, cur := range s.tokens {
		if cur.SubjectID == t.SubjectID && cur.Purpose == t.Purpose && !cur.IsUsed {
			cur.IsUsed = true
			used := t.CreatedAt
			cur.UsedAt = &used
			n++
		}
	}
	s.tokens[t.ID] = cloneToken(t)
	return n, nil
}

func (s *Store) MarkTokenUsed(_ context.Context, tokenID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tokens[tokenID]
	if !ok {
		return entitle.ErrTokenNotFound
	}
	if !t.Valid(at) {
		return entitle.ErrConditionFailed
	}
	t.IsUsed = true
	t.UsedAt = &at
	return nil
}

// RedeemToken reserves the token, runs fn outside the lock and settles
// the mark afterwards. Concurrent redemptions of the same token wait for
// the reservation to settle, the way a row lock would.
func (s *Store) RedeemToken(ctx context.Context, tokenID string, at time.Time, fn token.RedeemFunc) error {
	s.mu.Lock()
	for {
		wait, busy := s.redeeming[tokenID]
		if !busy {
			break
		}
		s.mu.Unlock()
		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		}
		s.mu.Lock()
	}

	t, ok := s.tokens[tokenID]
	if !ok {
		s.mu.Unlock()
		return entitle.ErrTokenNotFound
	}
	if !t.Valid(at) {
		s.mu.Unlock()
		return entitle.ErrConditionFailed
	}
	done := make(chan struct{})
	s.redeeming[tokenID] = done
	marked := cloneToken(t)
	marked.IsUsed = true
	marked.UsedAt = &at
	s.mu.Unlock()

	committed := false
	defer func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.redeeming, tokenID)
		close(done)
		if committed {
			t.IsUsed = true
			used := at
			t.UsedAt = &used
		}
	}()
	if err := fn(marked); err != nil {
		return err
	}
	committed = true
	return nil
}

// ──────────────────────────────────────────────────
// Meter store
// ──────────────────────────────────────────────────

func (s *Store) ConsumeUsage(_ context.Context, e *meter.UsageEntry, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subscriptions[e.SubscriptionID.String()]
	if !ok {
		return 0, entitle.ErrSubscriptionNotFound
	}
	if sub.Status != subscription.StatusActive || now.After(sub.EndAt) {
		return 0, entitle.ErrConditionFailed
	}
	if !sub.Unlimited() && sub.UsageCount+e.Amount > sub.UsageLimit {
		return 0, entitle.ErrConditionFailed
	}
	sub.UsageCount += e.Amount
	sub.Touch(now)

	entry := *e
	entry.Metadata = maps.Clone(e.Metadata)
	s.usage = append(s.usage, &entry)
	return sub.UsageCount, nil
}

func (s *Store) ListUsage(_ context.Context, subID id.SubscriptionID, opts meter.QueryOpts) ([]*meter.UsageEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*meter.UsageEntry, 0)
	for _, e := range s.usage {
		if e.SubscriptionID != subID {
			continue
		}
		if !opts.Start.IsZero() && e.CreatedAt.Before(opts.Start) {
			continue
		}
		if !opts.End.IsZero() && !e.CreatedAt.Before(opts.End) {
			continue
		}
		c := *e
		result = append(result, &c)
	}

	// Newest first.
	sort.SliceStable(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })

	start := min(opts.Offset, len(result))
	end := len(result)
	if opts.Limit > 0 && start+opts.Limit < end {
		end = start + opts.Limit
	}
	return result[start:end], nil
}

func (s *Store) RecordOutcome(_ context.Context, o *meter.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.stats[o.Service]
	if !ok {
		st = &meter.ServiceStats{Service: o.Service, TotalCost: types.Zero(o.Cost.Currency)}
		s.stats[o.Service] = st
	}
	st.TotalRequests++
	if o.Success {
		st.Successful++
	} else {
		st.Failed++
	}
	st.TotalCost.Amount += o.Cost.Amount
	st.UpdatedAt = o.At
	return nil
}

func (s *Store) GetServiceStats(_ context.Context, service plan.Service) (*meter.ServiceStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if st, ok := s.stats[service]; ok {
		c := *st
		return &c, nil
	}
	return nil, entitle.ErrNotFound
}

// ──────────────────────────────────────────────────
// Demo store
// ──────────────────────────────────────────────────

func (s *Store) CreateGrant(_ context.Context, g *demo.Grant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.grants[g.Token]; exists {
		return entitle.ErrGrantExists
	}
	s.grants[g.Token] = cloneGrant(g)
	return nil
}

func (s *Store) GetGrant(_ context.Context, tok string) (*demo.Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if g, ok := s.grants[tok]; ok {
		return cloneGrant(g), nil
	}
	return nil, entitle.ErrGrantNotFound
}

func (s *Store) ConsumeGrant(_ context.Context, tok string, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.grants[tok]
	if !ok {
		return 0, entitle.ErrGrantNotFound
	}
	if g.Expired(now) || g.Exhausted() {
		return 0, entitle.ErrConditionFailed
	}
	g.UsageCount++
	if g.UsageCount >= g.MaxUsage {
		g.IsUsed = true
		used := now
		g.UsedAt = &used
	}
	g.Touch(now)
	return g.UsageCount, nil
}

func (s *Store) AppendDemoAccess(_ context.Context, l *demo.AccessLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := *l
	entry.Metadata = maps.Clone(l.Metadata)
	s.demoAccess = append(s.demoAccess, &entry)
	return nil
}

func (s *Store) ListDemoAccess(_ context.Context, tok string, limit int) ([]*demo.AccessLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*demo.AccessLog, 0)
	for i := len(s.demoAccess) - 1; i >= 0; i-- {
		l := s.demoAccess[i]
		if l.GrantToken != tok {
			continue
		}
		c := *l
		result = append(result, &c)
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result, nil
}

// ──────────────────────────────────────────────────
// Payment store
// ──────────────────────────────────────────────────

func (s *Store) CreatePayment(_ context.Context, p *payment.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.payments[p.Key]; exists {
		return entitle.ErrPaymentExists
	}
	s.payments[p.Key] = clonePayment(p)
	return nil
}

func (s *Store) GetPayment(_ context.Context, key string) (*payment.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if p, ok := s.payments[key]; ok {
		return clonePayment(p), nil
	}
	return nil, entitle.ErrPaymentNotFound
}

func (s *Store) ListPayments(_ context.Context, subjectID string) ([]*payment.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*payment.Payment, 0)
	for _, p := range s.payments {
		if p.SubjectID == subjectID {
			result = append(result, clonePayment(p))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return result, nil
}

func (s *Store) TransitionPayment(_ context.Context, key string, t payment.Transition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.payments[key]
	if !ok {
		return entitle.ErrPaymentNotFound
	}
	if p.Status != t.From {
		return entitle.ErrConditionFailed
	}
	p.Status = t.To
	if t.ProviderEventID != "" {
		p.ProviderEventID = t.ProviderEventID
	}
	if t.ProviderPaymentID != "" {
		p.ProviderPaymentID = t.ProviderPaymentID
	}
	if t.To == payment.StatusCompleted {
		at := t.At
		p.PaidAt = &at
	}
	p.Touch(t.At)
	return nil
}

func eventKey(provider payment.Provider, eventID string) string {
	return string(provider) + "\x00" + eventID
}

func (s *Store) GetProcessedEvent(_ context.Context, provider payment.Provider, eventID string) (*payment.ProcessedEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if e, ok := s.events[eventKey(provider, eventID)]; ok {
		c := *e
		return &c, nil
	}
	return nil, entitle.ErrNotFound
}

func (s *Store) RecordProcessedEvent(_ context.Context, e *payment.ProcessedEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := eventKey(e.Provider, e.EventID)
	if _, exists := s.events[k]; exists {
		return entitle.ErrDuplicateEvent
	}
	c := *e
	s.events[k] = &c
	return nil
}

func purchaseKey(subjectID, workflowID string) string {
	return subjectID + "\x00" + workflowID
}

func (s *Store) CreatePurchase(_ context.Context, p *payment.Purchase) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := purchaseKey(p.SubjectID, p.WorkflowID)
	if _, exists := s.purchases[k]; exists {
		return nil
	}
	c := *p
	s.purchases[k] = &c
	return nil
}

func (s *Store) GetPurchase(_ context.Context, subjectID, workflowID string) (*payment.Purchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if p, ok := s.purchases[purchaseKey(subjectID, workflowID)]; ok {
		c := *p
		return &c, nil
	}
	return nil, entitle.ErrPurchaseNotFound
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

func (s *Store) Migrate(_ context.Context) error { return nil }

func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return entitle.ErrStoreClosed
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
