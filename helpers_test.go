package entitle_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xraph/entitle"
	"github.com/xraph/entitle/gateway"
	"github.com/xraph/entitle/payment"
	"github.com/xraph/entitle/plan"
	"github.com/xraph/entitle/store"
	"github.com/xraph/entitle/store/memory"
	"github.com/xraph/entitle/subscription"
	"github.com/xraph/entitle/types"
)

// testClock is a settable time source.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	engine *entitle.Engine
	store  *memory.Store
	clock  *testClock
}

func newHarness(t *testing.T, opts ...entitle.Option) *harness {
	t.Helper()
	return newWrappedHarness(t, nil, opts...)
}

// newWrappedHarness runs the engine on wrap(memory store) so a test can
// intercept individual store calls.
func newWrappedHarness(t *testing.T, wrap func(*memory.Store) store.Store, opts ...entitle.Option) *harness {
	t.Helper()
	s := memory.New()
	var st store.Store = s
	if wrap != nil {
		st = wrap(s)
	}
	clock := newTestClock()
	base := []entitle.Option{
		entitle.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		entitle.WithClock(clock.Now),
		entitle.WithGateway(gateway.NewPayTR("merchant-key", "salt")),
		entitle.WithMaintenanceInterval(0),
	}
	e := entitle.New(st, append(base, opts...)...)
	require.NoError(t, e.Start(context.Background()))
	t.Cleanup(func() { _ = e.Stop() })
	return &harness{engine: e, store: s, clock: clock}
}

func (h *harness) plan(t *testing.T, service plan.Service, limit int64) *plan.Plan {
	t.Helper()
	p := &plan.Plan{
		Service:      service,
		Name:         string(service) + " plan",
		MonthlyPrice: types.TRY(9900),
		YearlyPrice:  types.TRY(99000),
		UsageLimit:   limit,
		Active:       true,
	}
	require.NoError(t, h.engine.CreatePlan(context.Background(), p))
	return p
}

// pendingSubscription creates a subscription and its pending payment.
func (h *harness) pendingSubscription(t *testing.T, subscriber string, service plan.Service, limit int64) (*subscription.Subscription, *payment.Payment) {
	t.Helper()
	ctx := context.Background()
	p := h.plan(t, service, limit)
	sub, err := h.engine.CreateSubscription(ctx, entitle.SubscriptionRequest{
		SubscriberID: subscriber,
		PlanID:       p.ID,
		Cycle:        plan.CycleMonthly,
	})
	require.NoError(t, err)

	pay, err := h.engine.CreatePayment(ctx, payment.Request{
		Provider:       payment.ProviderPayTR,
		Type:           payment.TypeSubscription,
		Amount:         p.MonthlyPrice,
		SubjectID:      subscriber,
		SubscriptionID: sub.ID,
	})
	require.NoError(t, err)
	return sub, pay
}

// activeSubscription returns a subscription activated through a
// completed payment event.
func (h *harness) activeSubscription(t *testing.T, subscriber string, service plan.Service, limit int64) *subscription.Subscription {
	t.Helper()
	ctx := context.Background()
	sub, pay := h.pendingSubscription(t, subscriber, service, limit)

	res, err := h.engine.ApplyEvent(ctx, completed(pay.Key, "evt-"+pay.Key))
	require.NoError(t, err)
	require.Equal(t, payment.OutcomeApplied, res.Outcome)

	sub, err = h.engine.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	require.Equal(t, subscription.StatusActive, sub.Status)
	return sub
}

func completed(key, eventID string) *payment.Event {
	return &payment.Event{
		Provider:   payment.ProviderPayTR,
		EventType:  "callback.success",
		EventID:    eventID,
		PaymentKey: key,
		NewStatus:  payment.StatusCompleted,
	}
}

func failed(key, eventID string) *payment.Event {
	return &payment.Event{
		Provider:   payment.ProviderPayTR,
		EventType:  "callback.failed",
		EventID:    eventID,
		PaymentKey: key,
		NewStatus:  payment.StatusFailed,
	}
}
