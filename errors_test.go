package entitle_test

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/entitle"
	"github.com/xraph/entitle/entitlement"
	"github.com/xraph/entitle/plan"
	"github.com/xraph/entitle/store"
	"github.com/xraph/entitle/store/memory"
	"github.com/xraph/entitle/subscription"
)

// faultyStore fails subscription lookups with lookup.
type faultyStore struct {
	*memory.Store
	lookup func(ctx context.Context) error
}

func (s *faultyStore) GetSubscriptionFor(ctx context.Context, subscriberID string, service plan.Service) (*subscription.Subscription, error) {
	if err := s.lookup(ctx); err != nil {
		return nil, err
	}
	return s.Store.GetSubscriptionFor(ctx, subscriberID, service)
}

func newFaultyHarness(t *testing.T, lookup func(ctx context.Context) error, opts ...entitle.Option) *harness {
	t.Helper()
	return newWrappedHarness(t, func(s *memory.Store) store.Store {
		return &faultyStore{Store: s, lookup: lookup}
	}, opts...)
}

func TestSlowStoreIsRetryable(t *testing.T) {
	h := newFaultyHarness(t, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, entitle.WithStoreTimeout(20*time.Millisecond))

	start := time.Now()
	_, err := h.engine.Consume(context.Background(), entitle.UsageRequest{
		SubscriberID: "user-1",
		Service:      plan.ServiceTryOn,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, entitle.ErrTransient)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, entitle.IsRetryable(err))
	assert.Less(t, time.Since(start), 5*time.Second)

	_, err = h.engine.CheckAccess(context.Background(), entitlement.Request{
		Caller:  entitlement.Caller{SubjectID: "user-1", Role: entitlement.RoleIndividual},
		Service: plan.ServiceTryOn,
	})
	assert.True(t, entitle.IsRetryable(err))
}

func TestStoreFailureClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{name: "bad connection", err: fmt.Errorf("query: %w", driver.ErrBadConn), retryable: true},
		{name: "network", err: &net.OpError{Op: "read", Net: "tcp", Err: errors.New("connection reset by peer")}, retryable: true},
		{name: "dns", err: &net.DNSError{Err: "no such host", Name: "db", IsTimeout: true}, retryable: true},
		{name: "syntax", err: errors.New("syntax error at or near SELECT")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newFaultyHarness(t, func(context.Context) error { return tt.err })

			_, err := h.engine.Consume(context.Background(), entitle.UsageRequest{
				SubscriberID: "user-1",
				Service:      plan.ServiceTryOn,
			})
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.err)
			assert.Equal(t, tt.retryable, entitle.IsRetryable(err))
			assert.Equal(t, tt.retryable, errors.Is(err, entitle.ErrTransient))
		})
	}
}
