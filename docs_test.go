package entitle_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/entitle"
	"github.com/xraph/entitle/entitlement"
	"github.com/xraph/entitle/gateway"
	"github.com/xraph/entitle/lock"
	"github.com/xraph/entitle/payment"
	"github.com/xraph/entitle/plan"
	"github.com/xraph/entitle/store/memory"
	"github.com/xraph/entitle/types"
)

// TestDocumentationExamples keeps the README walkthrough compiling and true.
func TestDocumentationExamples(t *testing.T) {
	t.Run("QuickStartExample", func(t *testing.T) {
		store := memory.New()

		e := entitle.New(store,
			entitle.WithLogger(slog.Default()),
			entitle.WithGateway(gateway.NewPayTR("merchant-key", "salt")),
			entitle.WithMaintenanceInterval(time.Hour),
		)

		ctx := context.Background()
		require.NoError(t, e.Start(ctx))
		defer e.Stop()

		p := &plan.Plan{
			Service:      plan.ServiceEmailAutomation,
			Name:         "Email Automation",
			MonthlyPrice: types.TRY(49900),
			YearlyPrice:  types.TRY(499000),
			UsageLimit:   1000,
			Active:       true,
		}
		require.NoError(t, e.CreatePlan(ctx, p))

		sub, err := e.CreateSubscription(ctx, entitle.SubscriptionRequest{
			SubscriberID: "user_123",
			PlanID:       p.ID,
			Cycle:        plan.CycleMonthly,
		})
		require.NoError(t, err)

		pay, err := e.CreatePayment(ctx, payment.Request{
			Provider:       payment.ProviderPayTR,
			Type:           payment.TypeSubscription,
			Amount:         p.MonthlyPrice,
			SubjectID:      "user_123",
			SubscriptionID: sub.ID,
		})
		require.NoError(t, err)
		assert.NotEmpty(t, pay.CheckoutURL)

		// The provider calls back once the customer pays.
		_, err = e.ApplyEvent(ctx, &payment.Event{
			Provider:   payment.ProviderPayTR,
			PaymentKey: pay.Key,
			NewStatus:  payment.StatusCompleted,
		})
		require.NoError(t, err)

		d, err := e.CheckAccess(ctx, entitlement.Request{
			Caller:  entitlement.Caller{SubjectID: "user_123", Role: entitlement.RoleIndividual, Verified: true},
			Service: plan.ServiceEmailAutomation,
		})
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.Equal(t, int64(999), d.Remaining)
	})

	t.Run("MoneyExamples", func(t *testing.T) {
		price := types.TRY(49900)
		assert.Equal(t, "499.00", price.FormatMajor())
		assert.Equal(t, types.TRY(99800), price.Multiply(2))
		assert.Equal(t, types.USD(300), types.Sum(types.USD(100), types.USD(200)))
	})
}

func TestMaintenanceSkippedWhileLockHeld(t *testing.T) {
	locker := lock.NewMemory()
	h := newHarness(t, entitle.WithLocker(locker))
	ctx := context.Background()

	release, ok, err := locker.TryAcquire(ctx, entitle.MaintenanceLockKey, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	report, err := h.engine.RunMaintenance(ctx)
	require.NoError(t, err)
	assert.True(t, report.Skipped)

	release()
	report, err = h.engine.RunMaintenance(ctx)
	require.NoError(t, err)
	assert.False(t, report.Skipped)
}
