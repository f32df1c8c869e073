package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/entitle"
	"github.com/xraph/entitle/demo"
	"github.com/xraph/entitle/id"
	"github.com/xraph/entitle/meter"
	"github.com/xraph/entitle/payment"
	"github.com/xraph/entitle/plan"
	"github.com/xraph/entitle/store"
	"github.com/xraph/entitle/store/memory"
	"github.com/xraph/entitle/store/storetest"
	"github.com/xraph/entitle/subscription"
	"github.com/xraph/entitle/token"
	"github.com/xraph/entitle/types"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func activeSub(limit int64) *subscription.Subscription {
	return &subscription.Subscription{
		Entity:       types.EntityAt(t0),
		ID:           id.NewSubscriptionID(),
		SubscriberID: "user-1",
		Service:      plan.ServiceTryOn,
		PlanID:       id.NewPlanID(),
		Status:       subscription.StatusActive,
		BillingCycle: plan.CycleMonthly,
		StartAt:      t0,
		EndAt:        t0.Add(30 * 24 * time.Hour),
		UsageLimit:   limit,
		LastResetAt:  t0,
	}
}

func TestStoreContract(t *testing.T) {
	storetest.Run(t, func(*testing.T) store.Store { return memory.New() })
}

func TestSubscriptionUniquePerService(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	require.NoError(t, s.CreateSubscription(ctx, activeSub(5)))
	err := s.CreateSubscription(ctx, activeSub(5))
	assert.ErrorIs(t, err, entitle.ErrSubscriptionExists)

	got, err := s.GetSubscriptionFor(ctx, "user-1", plan.ServiceTryOn)
	require.NoError(t, err)
	assert.Equal(t, int64(5), got.UsageLimit)

	_, err = s.GetSubscriptionFor(ctx, "user-1", plan.ServiceSocialMedia)
	assert.ErrorIs(t, err, entitle.ErrSubscriptionNotFound)
}

func TestActivateSubscriptionChecksVersion(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	sub := activeSub(5)
	sub.Status = subscription.StatusPending
	require.NoError(t, s.CreateSubscription(ctx, sub))

	a := sub.NextActivation("pay-1", t0)
	require.NoError(t, s.ActivateSubscription(ctx, sub.ID, a))
	assert.ErrorIs(t, s.ActivateSubscription(ctx, sub.ID, a), entitle.ErrConditionFailed)

	got, err := s.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusActive, got.Status)
	assert.Equal(t, "pay-1", got.LastPaymentKey)
	assert.Equal(t, int64(1), got.Version)

	require.NoError(t, s.CancelSubscription(ctx, sub.ID, t0))
	assert.ErrorIs(t, s.CancelSubscription(ctx, sub.ID, t0), entitle.ErrConditionFailed)
	assert.ErrorIs(t, s.ActivateSubscription(ctx, sub.ID, got.NextActivation("pay-2", t0)), entitle.ErrConditionFailed)
}

func TestConsumeUsageGuards(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	sub := activeSub(2)
	require.NoError(t, s.CreateSubscription(ctx, sub))

	entry := func() *meter.UsageEntry {
		return &meter.UsageEntry{
			ID:             id.NewUsageEntryID(),
			SubscriptionID: sub.ID,
			SubjectID:      sub.SubscriberID,
			Service:        sub.Service,
			Amount:         1,
			CreatedAt:      t0,
		}
	}

	n, err := s.ConsumeUsage(ctx, entry(), t0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	n, err = s.ConsumeUsage(ctx, entry(), t0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, err = s.ConsumeUsage(ctx, entry(), t0)
	assert.ErrorIs(t, err, entitle.ErrConditionFailed)

	require.NoError(t, s.ResetUsage(ctx, sub.ID, t0))
	_, err = s.ConsumeUsage(ctx, entry(), sub.EndAt.Add(time.Second))
	assert.ErrorIs(t, err, entitle.ErrConditionFailed, "lapsed period")

	history, err := s.ListUsage(ctx, sub.ID, meter.QueryOpts{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestTokenMarkedOnce(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	secret := token.NewSecret()
	require.NoError(t, s.CreateToken(ctx, &token.Token{
		ID:        token.Hash(secret),
		Secret:    secret,
		SubjectID: "user-1",
		Purpose:   token.PurposeEmailVerification,
		CreatedAt: t0,
		ExpiresAt: t0.Add(time.Hour),
	}))

	got, err := s.GetToken(ctx, token.Hash(secret))
	require.NoError(t, err)
	assert.Empty(t, got.Secret, "secrets are never stored")

	require.NoError(t, s.MarkTokenUsed(ctx, token.Hash(secret), t0))
	assert.ErrorIs(t, s.MarkTokenUsed(ctx, token.Hash(secret), t0), entitle.ErrConditionFailed)
	assert.ErrorIs(t, s.MarkTokenUsed(ctx, "missing", t0), entitle.ErrTokenNotFound)
}

func TestConsumeGrantSetsUsedOnLastUse(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	require.NoError(t, s.CreateGrant(ctx, &demo.Grant{
		Entity:        types.EntityAt(t0),
		Token:         "grant-1",
		CustomerEmail: "ada@example.com",
		Service:       plan.ServiceTryOn,
		MaxUsage:      2,
		ExpiresAt:     t0.Add(time.Hour),
	}))

	_, err := s.ConsumeGrant(ctx, "grant-1", t0)
	require.NoError(t, err)
	g, err := s.GetGrant(ctx, "grant-1")
	require.NoError(t, err)
	assert.False(t, g.IsUsed)

	n, err := s.ConsumeGrant(ctx, "grant-1", t0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	g, err = s.GetGrant(ctx, "grant-1")
	require.NoError(t, err)
	assert.True(t, g.IsUsed)
	require.NotNil(t, g.UsedAt)

	_, err = s.ConsumeGrant(ctx, "grant-1", t0)
	assert.ErrorIs(t, err, entitle.ErrConditionFailed)
}

func TestPaymentRecords(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	require.NoError(t, s.CreatePayment(ctx, &payment.Payment{
		Entity:    types.EntityAt(t0),
		ID:        id.NewPaymentID(),
		Key:       "order-1",
		Provider:  payment.ProviderPayTR,
		Type:      payment.TypeOneTime,
		Status:    payment.StatusPending,
		Amount:    types.TRY(100),
		SubjectID: "user-1",
	}))

	tr := payment.Transition{From: payment.StatusPending, To: payment.StatusCompleted, At: t0}
	require.NoError(t, s.TransitionPayment(ctx, "order-1", tr))
	assert.ErrorIs(t, s.TransitionPayment(ctx, "order-1", tr), entitle.ErrConditionFailed)

	p, err := s.GetPayment(ctx, "order-1")
	require.NoError(t, err)
	require.NotNil(t, p.PaidAt)
	assert.Equal(t, t0, *p.PaidAt)

	ev := &payment.ProcessedEvent{ID: id.NewWebhookEventID(), Provider: payment.ProviderPayTR, EventID: "evt-1", Outcome: payment.OutcomeApplied}
	require.NoError(t, s.RecordProcessedEvent(ctx, ev))
	assert.ErrorIs(t, s.RecordProcessedEvent(ctx, ev), entitle.ErrDuplicateEvent)
	_, err = s.GetProcessedEvent(ctx, payment.ProviderStripe, "evt-1")
	assert.ErrorIs(t, err, entitle.ErrNotFound)

	pur := &payment.Purchase{ID: id.NewPurchaseID(), SubjectID: "user-1", WorkflowID: "wf-1", PaymentKey: "order-1"}
	require.NoError(t, s.CreatePurchase(ctx, pur))
	require.NoError(t, s.CreatePurchase(ctx, pur))
	_, err = s.GetPurchase(ctx, "user-1", "wf-2")
	assert.ErrorIs(t, err, entitle.ErrPurchaseNotFound)
}

func TestClosedStore(t *testing.T) {
	s := memory.New()
	require.NoError(t, s.Ping(context.Background()))
	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Ping(context.Background()), entitle.ErrStoreClosed)
}
