package entitle_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/xraph/entitle"
	"github.com/xraph/entitle/meter"
	"github.com/xraph/entitle/plan"
	"github.com/xraph/entitle/subscription"
)

func TestConsumeRecordsUsage(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	sub := h.activeSubscription(t, "user-1", plan.ServiceTryOn, 3)

	receipt, err := h.engine.Consume(ctx, entitle.UsageRequest{
		SubscriberID: "user-1",
		Service:      plan.ServiceTryOn,
		Metadata:     map[string]string{"garment": "g-1"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), receipt.UsageCount)
	assert.Equal(t, int64(3), receipt.UsageLimit)
	assert.Equal(t, int64(2), receipt.Remaining)
	assert.Equal(t, sub.ID, receipt.SubscriptionID)

	history, err := h.engine.UsageHistory(ctx, sub.ID, meter.QueryOpts{})
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, receipt.EntryID, history[0].ID)
	assert.Equal(t, "g-1", history[0].Metadata["garment"])
}

func TestConsumeDenials(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.engine.Consume(ctx, entitle.UsageRequest{SubscriberID: "nobody", Service: plan.ServiceTryOn})
	assert.ErrorIs(t, err, entitle.ErrRequiresSubscription)

	h.pendingSubscription(t, "pending", plan.ServiceTryOn, 3)
	_, err = h.engine.Consume(ctx, entitle.UsageRequest{SubscriberID: "pending", Service: plan.ServiceTryOn})
	assert.ErrorIs(t, err, entitle.ErrSubscriptionInactive)

	sub := h.activeSubscription(t, "user-1", plan.ServiceTryOn, 1)
	_, err = h.engine.Consume(ctx, entitle.UsageRequest{SubscriberID: "user-1", Service: plan.ServiceTryOn})
	require.NoError(t, err)

	_, err = h.engine.Consume(ctx, entitle.UsageRequest{SubscriberID: "user-1", Service: plan.ServiceTryOn})
	var le *entitle.LimitError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, int64(1), le.Current)
	assert.Equal(t, int64(1), le.Limit)
	assert.ErrorIs(t, err, entitle.ErrLimitExceeded)
	assert.True(t, entitle.IsDenied(err))

	history, err := h.engine.UsageHistory(ctx, sub.ID, meter.QueryOpts{})
	require.NoError(t, err)
	assert.Len(t, history, 1, "denied calls write nothing")
}

func TestConsumeNeverOvershoots(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	const limit = 10
	sub := h.activeSubscription(t, "user-1", plan.ServiceTryOn, limit)

	var (
		allowed atomic.Int64
		denied  atomic.Int64
	)
	var g errgroup.Group
	for range 50 {
		g.Go(func() error {
			_, err := h.engine.Consume(ctx, entitle.UsageRequest{SubscriberID: "user-1", Service: plan.ServiceTryOn})
			switch {
			case err == nil:
				allowed.Add(1)
			case errors.Is(err, entitle.ErrLimitExceeded):
				denied.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int64(limit), allowed.Load())
	assert.Equal(t, int64(50-limit), denied.Load())

	current, err := h.engine.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(limit), current.UsageCount)

	history, err := h.engine.UsageHistory(ctx, sub.ID, meter.QueryOpts{})
	require.NoError(t, err)
	assert.Len(t, history, limit)
}

func TestConsumeUnlimited(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.activeSubscription(t, "user-1", plan.ServiceCRMIntegration, plan.Unlimited)

	for range 5 {
		receipt, err := h.engine.Consume(ctx, entitle.UsageRequest{SubscriberID: "user-1", Service: plan.ServiceCRMIntegration})
		require.NoError(t, err)
		assert.Equal(t, plan.Unlimited, receipt.Remaining)
	}
}

func TestLapsedSubscriptionReadsExpired(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	sub := h.activeSubscription(t, "user-1", plan.ServiceTryOn, 5)

	h.clock.Advance(30*24*time.Hour + time.Second)

	stored, err := h.engine.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusActive, stored.Status, "no sweep has run")
	assert.Equal(t, subscription.StatusExpired, stored.EffectiveStatus(h.clock.Now()))

	_, err = h.engine.Consume(ctx, entitle.UsageRequest{SubscriberID: "user-1", Service: plan.ServiceTryOn})
	assert.ErrorIs(t, err, entitle.ErrSubscriptionInactive)

	n, err := h.engine.ExpireLapsed(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	stored, err = h.engine.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusExpired, stored.Status)
}

func TestResetUsage(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	sub := h.activeSubscription(t, "user-1", plan.ServiceTryOn, 1)

	_, err := h.engine.Consume(ctx, entitle.UsageRequest{SubscriberID: "user-1", Service: plan.ServiceTryOn})
	require.NoError(t, err)

	require.NoError(t, h.engine.ResetUsage(ctx, sub.ID))

	receipt, err := h.engine.Consume(ctx, entitle.UsageRequest{SubscriberID: "user-1", Service: plan.ServiceTryOn})
	require.NoError(t, err)
	assert.Equal(t, int64(1), receipt.UsageCount)
}

func TestRecordOutcome(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.engine.ServiceStats(ctx, plan.ServiceTryOn)
	assert.True(t, entitle.IsNotFound(err))

	require.NoError(t, h.engine.RecordOutcome(ctx, plan.ServiceTryOn, true))
	require.NoError(t, h.engine.RecordOutcome(ctx, plan.ServiceTryOn, true))
	require.NoError(t, h.engine.RecordOutcome(ctx, plan.ServiceTryOn, false))

	st, err := h.engine.ServiceStats(ctx, plan.ServiceTryOn)
	require.NoError(t, err)
	assert.Equal(t, int64(3), st.TotalRequests)
	assert.Equal(t, int64(2), st.Successful)
	assert.Equal(t, int64(1), st.Failed)
	assert.Equal(t, entitle.USD(21), st.TotalCost)
	assert.InDelta(t, 2.0/3.0, st.SuccessRate(), 1e-9)
}

func TestMaintenanceResetsDueCounters(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	sub := h.activeSubscription(t, "user-1", plan.ServiceTryOn, 2)

	_, err := h.engine.Consume(ctx, entitle.UsageRequest{SubscriberID: "user-1", Service: plan.ServiceTryOn})
	require.NoError(t, err)

	report, err := h.engine.RunMaintenance(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Reset, "cycle has not elapsed")

	h.clock.Advance(30 * 24 * time.Hour)
	report, err = h.engine.RunMaintenance(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Reset)
	assert.Equal(t, int64(0), report.Expired, "period ends strictly after now")

	current, err := h.engine.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.Zero(t, current.UsageCount)
}
