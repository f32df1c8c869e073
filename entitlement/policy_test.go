package entitlement_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xraph/entitle/entitlement"
)

func TestDefaultResolver(t *testing.T) {
	tests := []struct {
		name   string
		caller entitlement.Caller
		want   entitlement.Policy
	}{
		{
			"corporate bypasses metering",
			entitlement.Caller{SubjectID: "u1", Role: entitlement.RoleCorporate},
			entitlement.Unrestricted{Role: entitlement.RoleCorporate},
		},
		{
			"admin bypasses metering",
			entitlement.Caller{SubjectID: "u2", Role: entitlement.RoleAdmin},
			entitlement.Unrestricted{Role: entitlement.RoleAdmin},
		},
		{
			"individual is metered",
			entitlement.Caller{SubjectID: "u3", Role: entitlement.RoleIndividual},
			entitlement.Subscribed{SubscriberID: "u3"},
		},
		{
			"anonymous with demo token",
			entitlement.Caller{Role: entitlement.RoleAnonymous, DemoToken: "tok"},
			entitlement.Anonymous{GrantToken: "tok"},
		},
		{
			"signed-in caller ignores demo token",
			entitlement.Caller{SubjectID: "u4", Role: entitlement.RoleIndividual, DemoToken: "tok"},
			entitlement.Subscribed{SubscriberID: "u4"},
		},
		{
			"anonymous without token",
			entitlement.Caller{Role: entitlement.RoleAnonymous},
			entitlement.Subscribed{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := entitlement.DefaultResolver(tt.caller)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want.Name(), got.Name())
		})
	}
}
