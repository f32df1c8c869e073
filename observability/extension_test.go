package observability_test

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/entitle/demo"
	"github.com/xraph/entitle/entitlement"
	"github.com/xraph/entitle/meter"
	"github.com/xraph/entitle/observability"
	"github.com/xraph/entitle/payment"
	"github.com/xraph/entitle/plugin"
	"github.com/xraph/entitle/types"
)

func TestMetricsExtensionCountsHooks(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	m := observability.NewMetricsExtension(observability.NewPrometheusFactory(reg))

	require.NoError(t, m.OnAccessDecided(ctx, entitlement.Caller{}, &entitlement.Decision{Allowed: true}))
	require.NoError(t, m.OnAccessDecided(ctx, entitlement.Caller{}, &entitlement.Decision{Allowed: true}))
	require.NoError(t, m.OnAccessDecided(ctx, entitlement.Caller{}, &entitlement.Decision{Reason: entitlement.ReasonLimitExceeded}))
	require.NoError(t, m.OnUsageConsumed(ctx, &meter.Receipt{Amount: 3}))
	require.NoError(t, m.OnSubscriptionsExpired(ctx, 4))
	require.NoError(t, m.OnDemoAccess(ctx, &demo.AccessLog{Outcome: demo.OutcomeAllowed}))
	require.NoError(t, m.OnDemoAccess(ctx, &demo.AccessLog{Outcome: demo.OutcomeExpired}))
	require.NoError(t, m.OnPaymentCreated(ctx, &payment.Payment{Amount: types.TRY(9900)}))
	require.NoError(t, m.OnPaymentTransitioned(ctx, &payment.Payment{Status: payment.StatusCompleted}, payment.StatusPending))
	require.NoError(t, m.OnPaymentTransitioned(ctx, &payment.Payment{Status: payment.StatusRefunded}, payment.StatusCompleted))
	require.NoError(t, m.OnWebhookReceived(ctx, payment.ProviderPayTR, []byte("status=success")))
	require.NoError(t, m.OnTokenIssued(ctx, "user-1", "", time.Now().Add(time.Hour)))

	assert.InDelta(t, 2, testutil.ToFloat64(m.AccessAllowed.(prometheus.Counter)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.AccessDenied.(prometheus.Counter)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.UsageConsumed.(prometheus.Counter)), 0)
	assert.InDelta(t, 4, testutil.ToFloat64(m.SubscriptionExpired.(prometheus.Counter)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.DemoAllowed.(prometheus.Counter)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.DemoDenied.(prometheus.Counter)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.PaymentCompleted.(prometheus.Counter)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.PaymentRefunded.(prometheus.Counter)), 0)
	assert.InDelta(t, 0, testutil.ToFloat64(m.PaymentFailed.(prometheus.Counter)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.TokenIssued.(prometheus.Counter)), 0)

	n, err := testutil.GatherAndCount(reg, "entitle_access_allowed_total", "entitle_payment_amount_minor")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestPrometheusFactoryReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()

	a := observability.NewPrometheusFactory(reg).Counter("entitle.token.issued")
	b := observability.NewPrometheusFactory(reg).Counter("entitle.token.issued")
	a.Inc()
	b.Inc()

	assert.InDelta(t, 2, testutil.ToFloat64(a.(prometheus.Counter)), 0)
}

func TestMetricsExtensionRegistersAsPlugin(t *testing.T) {
	m := observability.NewMetricsExtension(observability.NewPrometheusFactory(prometheus.NewRegistry()))

	r := plugin.NewRegistry()
	require.NoError(t, r.Register(m))
	r.EmitLimitExceeded(context.Background(), "user-1", "tryon", 10, 10)

	assert.InDelta(t, 1, testutil.ToFloat64(m.LimitExceeded.(prometheus.Counter)), 0)
}
