package plugin_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/entitle/meter"
	"github.com/xraph/entitle/payment"
	"github.com/xraph/entitle/plan"
	"github.com/xraph/entitle/plugin"
)

type recorder struct {
	name string
	mu   sync.Mutex
	seen []string
	fail bool
}

func (r *recorder) Name() string { return r.name }

func (r *recorder) note(s string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, s)
	if r.fail {
		return errors.New("boom")
	}
	return nil
}

func (r *recorder) events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.seen...)
}

func (r *recorder) OnUsageConsumed(_ context.Context, rc *meter.Receipt) error {
	return r.note("consumed")
}

func (r *recorder) OnLimitExceeded(_ context.Context, sub string, _ plan.Service, _, _ int64) error {
	return r.note("limit:" + sub)
}

func (r *recorder) OnPaymentTransitioned(_ context.Context, p *payment.Payment, from payment.Status) error {
	return r.note(string(from) + "->" + string(p.Status))
}

type slow struct{}

func (slow) Name() string { return "slow" }

func (slow) OnUsageConsumed(ctx context.Context, _ *meter.Receipt) error {
	time.Sleep(time.Second)
	return nil
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	r := plugin.NewRegistry()
	require.NoError(t, r.Register(&recorder{name: "a"}))
	assert.Error(t, r.Register(&recorder{name: "a"}))
	assert.Equal(t, 1, r.Count())
	assert.NotNil(t, r.Get("a"))
	assert.Nil(t, r.Get("b"))
}

func TestEmitDispatchesToImplementers(t *testing.T) {
	r := plugin.NewRegistry()
	rec := &recorder{name: "rec"}
	require.NoError(t, r.Register(rec))
	require.NoError(t, r.Register(slow{}))

	ctx := context.Background()
	r.EmitLimitExceeded(ctx, "user-1", plan.ServiceTryOn, 3, 3)
	r.EmitPaymentTransitioned(ctx, &payment.Payment{Status: payment.StatusCompleted}, payment.StatusPending)
	r.EmitSubscriptionsExpired(ctx, 2)

	assert.Equal(t, []string{"limit:user-1", "pending->completed"}, rec.events())
}

func TestEmitSurvivesFailingAndSlowPlugins(t *testing.T) {
	r := plugin.NewRegistry().WithTimeout(50 * time.Millisecond)
	rec := &recorder{name: "rec", fail: true}
	require.NoError(t, r.Register(slow{}))
	require.NoError(t, r.Register(rec))

	start := time.Now()
	r.EmitUsageConsumed(context.Background(), &meter.Receipt{})
	assert.Less(t, time.Since(start), 900*time.Millisecond)
	assert.Equal(t, []string{"consumed"}, rec.events())
}
