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
	"github.com/xraph/entitle/demo"
	"github.com/xraph/entitle/plan"
)

func newGrant(t *testing.T, h *harness, maxUsage int64, ttl time.Duration) *demo.Grant {
	t.Helper()
	g, err := h.engine.CreateDemoGrant(context.Background(), demo.Request{
		CustomerName:  "Ada",
		CustomerEmail: "ada@example.com",
		Service:       plan.ServiceTryOn,
		MaxUsage:      maxUsage,
		TTL:           ttl,
		CreatedBy:     "admin-1",
	})
	require.NoError(t, err)
	return g
}

func TestCreateDemoGrantDefaults(t *testing.T) {
	h := newHarness(t)
	g := newGrant(t, h, 0, 0)

	assert.Len(t, g.Token, 32)
	assert.Equal(t, demo.DefaultMaxUsage, g.MaxUsage)
	assert.Equal(t, h.clock.Now().Add(24*time.Hour), g.ExpiresAt)
	assert.Equal(t, "https://example.com/demo/"+g.Token, entitle.DemoURL("https://example.com/", g))

	_, err := h.engine.CreateDemoGrant(context.Background(), demo.Request{
		CustomerEmail: "ada@example.com",
		Service:       plan.ServiceTryOn,
		TTL:           200 * time.Hour,
	})
	assert.ErrorIs(t, err, entitle.ErrInvalidInput)
}

func TestTryDemoExhaustion(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	g := newGrant(t, h, 3, 0)
	attempt := demo.Attempt{IP: "10.0.0.1", UserAgent: "test"}

	for i := int64(1); i <= 3; i++ {
		r, err := h.engine.TryDemo(ctx, g.Token, attempt)
		require.NoError(t, err)
		assert.Equal(t, i, r.UsageCount)
		assert.Equal(t, 3-i, r.Remaining)
	}

	_, err := h.engine.TryDemo(ctx, g.Token, attempt)
	assert.ErrorIs(t, err, entitle.ErrUsageExceeded)

	stored, err := h.store.GetGrant(ctx, g.Token)
	require.NoError(t, err)
	assert.True(t, stored.IsUsed, "the last use flags the grant")
	assert.Equal(t, int64(3), stored.UsageCount)
	require.NotNil(t, stored.UsedAt)

	view, err := h.engine.DemoStatus(ctx, g.Token, attempt)
	require.NoError(t, err, "the status view is blocked only by expiry")
	assert.Zero(t, view.Remaining)
	assert.True(t, view.Exhausted)

	log, err := h.engine.DemoAccessLog(ctx, g.Token, 0)
	require.NoError(t, err)
	require.Len(t, log, 5)
	assert.Equal(t, demo.OutcomeViewed, log[0].Outcome)
	assert.Equal(t, demo.OutcomeUsageExceeded, log[1].Outcome)
	assert.Equal(t, demo.OutcomeAllowed, log[2].Outcome)
	assert.Equal(t, "10.0.0.1", log[2].IP)
}

func TestTryDemoExpiryWinsOverExhaustion(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	g := newGrant(t, h, 1, time.Hour)

	_, err := h.engine.TryDemo(ctx, g.Token, demo.Attempt{})
	require.NoError(t, err)

	h.clock.Advance(time.Hour + time.Second)

	_, err = h.engine.TryDemo(ctx, g.Token, demo.Attempt{})
	assert.ErrorIs(t, err, entitle.ErrExpired)

	_, err = h.engine.DemoStatus(ctx, g.Token, demo.Attempt{})
	assert.ErrorIs(t, err, entitle.ErrExpired)
}

func TestTryDemoUnknownTokenIsJournaled(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.engine.TryDemo(ctx, "missing", demo.Attempt{IP: "10.0.0.9"})
	assert.ErrorIs(t, err, entitle.ErrGrantNotFound)

	log, err := h.engine.DemoAccessLog(ctx, "missing", 10)
	require.NoError(t, err)
	require.Len(t, log, 1)
	assert.Equal(t, demo.OutcomeNotFound, log[0].Outcome)
}

func TestTryDemoConcurrent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	g := newGrant(t, h, 3, 0)

	var allowed, exceeded atomic.Int64
	var eg errgroup.Group
	for range 20 {
		eg.Go(func() error {
			_, err := h.engine.TryDemo(ctx, g.Token, demo.Attempt{})
			switch {
			case err == nil:
				allowed.Add(1)
			case errors.Is(err, entitle.ErrUsageExceeded):
				exceeded.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, eg.Wait())
	assert.Equal(t, int64(3), allowed.Load())
	assert.Equal(t, int64(17), exceeded.Load())
}

func TestTryDemoRateLimited(t *testing.T) {
	h := newHarness(t, entitle.WithDemoRateLimit(0, 2))
	ctx := context.Background()
	g := newGrant(t, h, 10, 0)

	attempt := demo.Attempt{IP: "10.0.0.1"}
	for range 2 {
		_, err := h.engine.TryDemo(ctx, g.Token, attempt)
		require.NoError(t, err)
	}
	_, err := h.engine.TryDemo(ctx, g.Token, attempt)
	assert.ErrorIs(t, err, entitle.ErrRateLimited)

	_, err = h.engine.TryDemo(ctx, g.Token, demo.Attempt{IP: "10.0.0.2"})
	assert.NoError(t, err, "limits are per client")
}
