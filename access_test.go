package entitle_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/entitle"
	"github.com/xraph/entitle/demo"
	"github.com/xraph/entitle/entitlement"
	"github.com/xraph/entitle/meter"
	"github.com/xraph/entitle/plan"
)

func TestCheckAccessPolicies(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.activeSubscription(t, "individual-1", plan.ServiceTryOn, 1)
	g := newGrant(t, h, 1, 0)

	tests := []struct {
		name       string
		caller     entitlement.Caller
		service    plan.Service
		wantAllow  bool
		wantReason entitlement.Reason
		wantPolicy string
	}{
		{
			name:       "corporate is unrestricted",
			caller:     entitlement.Caller{SubjectID: "corp-1", Role: entitlement.RoleCorporate},
			service:    plan.ServiceTryOn,
			wantAllow:  true,
			wantReason: entitlement.ReasonUnrestricted,
			wantPolicy: "unrestricted",
		},
		{
			name:       "subscriber within limit",
			caller:     entitlement.Caller{SubjectID: "individual-1", Role: entitlement.RoleIndividual},
			service:    plan.ServiceTryOn,
			wantAllow:  true,
			wantReason: entitlement.ReasonGranted,
			wantPolicy: "subscribed",
		},
		{
			name:       "subscriber at limit",
			caller:     entitlement.Caller{SubjectID: "individual-1", Role: entitlement.RoleIndividual},
			service:    plan.ServiceTryOn,
			wantReason: entitlement.ReasonLimitExceeded,
			wantPolicy: "subscribed",
		},
		{
			name:       "no subscription",
			caller:     entitlement.Caller{SubjectID: "individual-1", Role: entitlement.RoleIndividual},
			service:    plan.ServiceSocialMedia,
			wantReason: entitlement.ReasonRequiresSubscription,
			wantPolicy: "subscribed",
		},
		{
			name:       "anonymous demo",
			caller:     entitlement.Caller{Role: entitlement.RoleAnonymous, DemoToken: g.Token},
			service:    plan.ServiceTryOn,
			wantAllow:  true,
			wantReason: entitlement.ReasonGranted,
			wantPolicy: "anonymous",
		},
		{
			name:       "anonymous demo exhausted",
			caller:     entitlement.Caller{Role: entitlement.RoleAnonymous, DemoToken: g.Token},
			service:    plan.ServiceTryOn,
			wantReason: entitlement.ReasonUsageExceeded,
			wantPolicy: "anonymous",
		},
		{
			name:       "anonymous demo for another service",
			caller:     entitlement.Caller{Role: entitlement.RoleAnonymous, DemoToken: g.Token},
			service:    plan.ServiceCRMIntegration,
			wantReason: entitlement.ReasonNotFound,
			wantPolicy: "anonymous",
		},
		{
			name:       "anonymous unknown token",
			caller:     entitlement.Caller{Role: entitlement.RoleAnonymous, DemoToken: "unknown"},
			service:    plan.ServiceTryOn,
			wantReason: entitlement.ReasonNotFound,
			wantPolicy: "anonymous",
		},
	}

	// Cases run in order: later ones depend on usage spent by earlier ones.
	for _, tt := range tests {
		d, err := h.engine.CheckAccess(ctx, entitlement.Request{
			Caller:  tt.caller,
			Service: tt.service,
			Attempt: demo.Attempt{IP: "10.0.0.1"},
		})
		require.NoError(t, err, tt.name)
		assert.Equal(t, tt.wantAllow, d.Allowed, tt.name)
		assert.Equal(t, tt.wantReason, d.Reason, tt.name)
		assert.Equal(t, tt.wantPolicy, d.Policy, tt.name)
	}
}

func TestCheckAccessLimitDetails(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.activeSubscription(t, "user-1", plan.ServiceTryOn, 2)
	req := entitlement.Request{
		Caller:  entitlement.Caller{SubjectID: "user-1", Role: entitlement.RoleIndividual},
		Service: plan.ServiceTryOn,
	}

	d, err := h.engine.CheckAccess(ctx, req)
	require.NoError(t, err)
	require.NotNil(t, d.Receipt)
	assert.Equal(t, int64(1), d.CurrentUsage)
	assert.Equal(t, int64(1), d.Remaining)

	_, err = h.engine.CheckAccess(ctx, req)
	require.NoError(t, err)

	d, err = h.engine.CheckAccess(ctx, req)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, int64(2), d.CurrentUsage)
	assert.Equal(t, int64(2), d.UsageLimit)
}

func TestCheckAccessMaintenanceMode(t *testing.T) {
	settings := entitle.DefaultSettings()
	settings.MaintenanceMode = true
	h := newHarness(t, entitle.WithSettings(settings))
	ctx := context.Background()

	d, err := h.engine.CheckAccess(ctx, entitlement.Request{
		Caller:  entitlement.Caller{SubjectID: "user-1", Role: entitlement.RoleIndividual},
		Service: plan.ServiceTryOn,
	})
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, entitlement.ReasonMaintenance, d.Reason)

	d, err = h.engine.CheckAccess(ctx, entitlement.Request{
		Caller:  entitlement.Caller{SubjectID: "admin-1", Role: entitlement.RoleAdmin},
		Service: plan.ServiceTryOn,
	})
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestCheckAccessSettingsSnapshotIsLive(t *testing.T) {
	src := entitle.NewStaticSettings(entitle.DefaultSettings())
	h := newHarness(t, entitle.WithSettingsSource(src))
	ctx := context.Background()
	h.activeSubscription(t, "user-1", plan.ServiceTryOn, 5)
	req := entitlement.Request{
		Caller:  entitlement.Caller{SubjectID: "user-1", Role: entitlement.RoleIndividual},
		Service: plan.ServiceTryOn,
	}

	d, err := h.engine.CheckAccess(ctx, req)
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	next := entitle.DefaultSettings()
	next.MaintenanceMode = true
	src.Store(next)

	d, err = h.engine.CheckAccess(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, entitlement.ReasonMaintenance, d.Reason)
}

func TestCustomPolicyResolver(t *testing.T) {
	h := newHarness(t, entitle.WithPolicyResolver(func(c entitlement.Caller) entitlement.Policy {
		if c.Verified {
			return entitlement.Unrestricted{Role: c.Role}
		}
		return entitlement.DefaultResolver(c)
	}))

	d, err := h.engine.CheckAccess(context.Background(), entitlement.Request{
		Caller:  entitlement.Caller{SubjectID: "u", Role: entitlement.RoleIndividual, Verified: true},
		Service: plan.ServiceTryOn,
	})
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, entitlement.ReasonUnrestricted, d.Reason)
}

func TestCheckAccessDryRunLeavesUsageUntouched(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	sub := h.activeSubscription(t, "user-1", plan.ServiceTryOn, 2)
	caller := entitlement.Caller{SubjectID: "user-1", Role: entitlement.RoleIndividual}

	_, err := h.engine.CheckAccess(ctx, entitlement.Request{Caller: caller, Service: plan.ServiceTryOn})
	require.NoError(t, err)

	tests := []struct {
		name          string
		amount        int64
		wantAllow     bool
		wantReason    entitlement.Reason
		wantRemaining int64
	}{
		{name: "fits", amount: 1, wantAllow: true, wantReason: entitlement.ReasonGranted, wantRemaining: 1},
		{name: "over limit", amount: 2, wantReason: entitlement.ReasonLimitExceeded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := h.engine.CheckAccess(ctx, entitlement.Request{
				Caller:  caller,
				Service: plan.ServiceTryOn,
				Amount:  tt.amount,
				DryRun:  true,
			})
			require.NoError(t, err)
			assert.Equal(t, tt.wantAllow, d.Allowed)
			assert.Equal(t, tt.wantReason, d.Reason)
			assert.Equal(t, int64(1), d.CurrentUsage)
			assert.Equal(t, int64(2), d.UsageLimit)
			assert.Equal(t, tt.wantRemaining, d.Remaining)
			assert.Nil(t, d.Receipt)
		})
	}

	got, err := h.engine.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.UsageCount)

	history, err := h.engine.UsageHistory(ctx, sub.ID, meter.QueryOpts{})
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestCheckAccessDryRunDemoGrant(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	g := newGrant(t, h, 1, 0)
	caller := entitlement.Caller{Role: entitlement.RoleAnonymous, DemoToken: g.Token}

	for range 3 {
		d, err := h.engine.CheckAccess(ctx, entitlement.Request{Caller: caller, Service: plan.ServiceTryOn, DryRun: true})
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.Equal(t, int64(1), d.Remaining)
		assert.Nil(t, d.DemoReceipt)
	}

	d, err := h.engine.CheckAccess(ctx, entitlement.Request{Caller: caller, Service: plan.ServiceSocialMedia, DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, entitlement.ReasonNotFound, d.Reason)

	log, err := h.engine.DemoAccessLog(ctx, g.Token, 10)
	require.NoError(t, err)
	assert.Empty(t, log)

	d, err = h.engine.CheckAccess(ctx, entitlement.Request{Caller: caller, Service: plan.ServiceTryOn})
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	d, err = h.engine.CheckAccess(ctx, entitlement.Request{Caller: caller, Service: plan.ServiceTryOn, DryRun: true})
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, entitlement.ReasonUsageExceeded, d.Reason)
	assert.Equal(t, int64(1), d.CurrentUsage)
}

func TestCheckAccessJournalsDemoServiceMismatch(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	g := newGrant(t, h, 3, 0)

	d, err := h.engine.CheckAccess(ctx, entitlement.Request{
		Caller:  entitlement.Caller{Role: entitlement.RoleAnonymous, DemoToken: g.Token},
		Service: plan.ServiceCRMIntegration,
		Attempt: demo.Attempt{IP: "10.0.0.9"},
	})
	require.NoError(t, err)
	assert.Equal(t, entitlement.ReasonNotFound, d.Reason)

	log, err := h.engine.DemoAccessLog(ctx, g.Token, 10)
	require.NoError(t, err)
	require.Len(t, log, 1)
	assert.Equal(t, demo.OutcomeNotFound, log[0].Outcome)
	assert.Equal(t, "10.0.0.9", log[0].IP)
	assert.Equal(t, "try", log[0].Action)

	st, err := h.engine.DemoStatus(ctx, g.Token, demo.Attempt{})
	require.NoError(t, err)
	assert.Equal(t, int64(0), st.UsageCount)
}
