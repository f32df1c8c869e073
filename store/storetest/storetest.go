// Package storetest holds the behavioural contract every store.Store
// backend must satisfy. Backends call Run from their own tests with a
// constructor that returns a fresh, migrated store.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/entitle"
	"github.com/xraph/entitle/id"
	"github.com/xraph/entitle/meter"
	"github.com/xraph/entitle/plan"
	"github.com/xraph/entitle/store"
	"github.com/xraph/entitle/subscription"
	"github.com/xraph/entitle/token"
	"github.com/xraph/entitle/types"
)

// T0 is the fixed instant every case is evaluated at. Whole seconds in
// UTC keep text-encoded timestamps comparable.
var T0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// Run executes the contract against stores built by newStore.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Helper()

	cases := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"ActivateSubscriptionChecksVersion", activateChecksVersion},
		{"CancelSubscriptionStopsAutoRenew", cancelStopsAutoRenew},
		{"ConsumeUsageJournalsEachIncrement", consumeJournals},
		{"ReplaceTokenKeepsOneUnused", replaceKeepsOneUnused},
		{"RedeemTokenRollsBackOnCallbackError", redeemRollsBack},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.fn(t, newStore(t))
		})
	}
}

// ActiveSubscription returns an active monthly subscription starting at T0.
func ActiveSubscription(subscriber string, limit int64) *subscription.Subscription {
	return &subscription.Subscription{
		Entity:       types.EntityAt(T0),
		ID:           id.NewSubscriptionID(),
		SubscriberID: subscriber,
		Service:      plan.ServiceTryOn,
		PlanID:       id.NewPlanID(),
		Status:       subscription.StatusActive,
		BillingCycle: plan.CycleMonthly,
		StartAt:      T0,
		EndAt:        T0.Add(30 * 24 * time.Hour),
		AutoRenew:    true,
		UsageLimit:   limit,
		LastResetAt:  T0,
	}
}

// NewToken returns an unused email verification token for subject that
// expires an hour after T0.
func NewToken(subject string) *token.Token {
	secret := token.NewSecret()
	return &token.Token{
		ID:        token.Hash(secret),
		Secret:    secret,
		SubjectID: subject,
		Purpose:   token.PurposeEmailVerification,
		CreatedAt: T0,
		ExpiresAt: T0.Add(time.Hour),
	}
}

func activateChecksVersion(t *testing.T, s store.Store) {
	ctx := context.Background()
	sub := ActiveSubscription("user-1", 5)
	sub.Status = subscription.StatusPending
	require.NoError(t, s.CreateSubscription(ctx, sub))

	a := sub.NextActivation("pay-1", T0)
	require.NoError(t, s.ActivateSubscription(ctx, sub.ID, a))
	assert.ErrorIs(t, s.ActivateSubscription(ctx, sub.ID, a), entitle.ErrConditionFailed)

	got, err := s.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusActive, got.Status)
	assert.Equal(t, "pay-1", got.LastPaymentKey)
	assert.Equal(t, int64(1), got.Version)

	missing := ActiveSubscription("user-2", 5).NextActivation("pay-2", T0)
	assert.ErrorIs(t, s.ActivateSubscription(ctx, id.NewSubscriptionID(), missing), entitle.ErrSubscriptionNotFound)
}

func cancelStopsAutoRenew(t *testing.T, s store.Store) {
	ctx := context.Background()
	sub := ActiveSubscription("user-1", 5)
	require.NoError(t, s.CreateSubscription(ctx, sub))

	require.NoError(t, s.CancelSubscription(ctx, sub.ID, T0))

	got, err := s.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusCancelled, got.Status)
	assert.False(t, got.AutoRenew)
	require.NotNil(t, got.CancelledAt)
	assert.True(t, T0.Equal(*got.CancelledAt))

	assert.ErrorIs(t, s.CancelSubscription(ctx, sub.ID, T0), entitle.ErrConditionFailed)
	assert.ErrorIs(t, s.ActivateSubscription(ctx, sub.ID, got.NextActivation("pay-1", T0)), entitle.ErrConditionFailed)
}

func consumeJournals(t *testing.T, s store.Store) {
	ctx := context.Background()
	sub := ActiveSubscription("user-1", 2)
	require.NoError(t, s.CreateSubscription(ctx, sub))

	entry := func(subID id.SubscriptionID) *meter.UsageEntry {
		return &meter.UsageEntry{
			ID:             id.NewUsageEntryID(),
			SubscriptionID: subID,
			SubjectID:      sub.SubscriberID,
			Service:        sub.Service,
			Amount:         1,
			CreatedAt:      T0,
		}
	}

	for want := int64(1); want <= 2; want++ {
		n, err := s.ConsumeUsage(ctx, entry(sub.ID), T0)
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}

	_, err := s.ConsumeUsage(ctx, entry(sub.ID), T0)
	assert.ErrorIs(t, err, entitle.ErrConditionFailed)
	_, err = s.ConsumeUsage(ctx, entry(id.NewSubscriptionID()), T0)
	assert.ErrorIs(t, err, entitle.ErrSubscriptionNotFound)

	history, err := s.ListUsage(ctx, sub.ID, meter.QueryOpts{})
	require.NoError(t, err)
	assert.Len(t, history, 2, "a refused increment writes no journal entry")

	got, err := s.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.UsageCount)
}

func replaceKeepsOneUnused(t *testing.T, s store.Store) {
	ctx := context.Background()
	first := NewToken("user-1")
	second := NewToken("user-1")
	other := NewToken("user-2")

	n, err := s.ReplaceToken(ctx, first)
	require.NoError(t, err)
	assert.Zero(t, n)
	_, err = s.ReplaceToken(ctx, other)
	require.NoError(t, err)

	n, err = s.ReplaceToken(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := s.GetToken(ctx, first.ID)
	require.NoError(t, err)
	assert.True(t, got.IsUsed)

	got, err = s.GetToken(ctx, second.ID)
	require.NoError(t, err)
	assert.False(t, got.IsUsed)
	assert.Empty(t, got.Secret)

	got, err = s.GetToken(ctx, other.ID)
	require.NoError(t, err)
	assert.False(t, got.IsUsed, "other subjects keep their tokens")
}

func redeemRollsBack(t *testing.T, s store.Store) {
	ctx := context.Background()
	tok := NewToken("user-1")
	_, err := s.ReplaceToken(ctx, tok)
	require.NoError(t, err)

	errPost := errors.New("post action failed")
	err = s.RedeemToken(ctx, tok.ID, T0, func(marked *token.Token) error {
		assert.True(t, marked.IsUsed)
		assert.Equal(t, "user-1", marked.SubjectID)
		return errPost
	})
	assert.ErrorIs(t, err, errPost)

	got, err := s.GetToken(ctx, tok.ID)
	require.NoError(t, err)
	assert.False(t, got.IsUsed, "a failed callback leaves the token redeemable")

	calls := 0
	require.NoError(t, s.RedeemToken(ctx, tok.ID, T0, func(*token.Token) error {
		calls++
		return nil
	}))
	assert.Equal(t, 1, calls)

	got, err = s.GetToken(ctx, tok.ID)
	require.NoError(t, err)
	assert.True(t, got.IsUsed)
	require.NotNil(t, got.UsedAt)

	noop := func(*token.Token) error { return nil }
	assert.ErrorIs(t, s.RedeemToken(ctx, tok.ID, T0, noop), entitle.ErrConditionFailed)
	assert.ErrorIs(t, s.RedeemToken(ctx, "missing", T0, noop), entitle.ErrTokenNotFound)

	late := NewToken("user-2")
	_, err = s.ReplaceToken(ctx, late)
	require.NoError(t, err)
	assert.ErrorIs(t, s.RedeemToken(ctx, late.ID, late.ExpiresAt, noop), entitle.ErrConditionFailed, "expired")
}
