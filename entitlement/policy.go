package entitlement

// Policy is the access rule applied to a caller. The variants are closed:
// Unrestricted, Subscribed and Anonymous.
type Policy interface {
	Name() string
	policy()
}

// Unrestricted allows every request without consulting a counter.
type Unrestricted struct {
	Role Role
}

// Subscribed meters requests against the subscriber's subscription.
type Subscribed struct {
	SubscriberID string
}

// Anonymous meters requests against a demo grant.
type Anonymous struct {
	GrantToken string
}

func (Unrestricted) Name() string { return "unrestricted" }
func (Subscribed) Name() string   { return "subscribed" }
func (Anonymous) Name() string    { return "anonymous" }

func (Unrestricted) policy() {}
func (Subscribed) policy()   {}
func (Anonymous) policy()    {}

// Resolver maps a caller to its policy.
type Resolver func(Caller) Policy

// DefaultResolver grants corporate and admin callers unrestricted
// access, routes subject-less callers holding a demo token to their
// grant, and meters everyone else through their subscription.
func DefaultResolver(c Caller) Policy {
	switch {
	case c.Role == RoleCorporate || c.Role == RoleAdmin:
		return Unrestricted{Role: c.Role}
	case c.SubjectID == "" && c.DemoToken != "":
		return Anonymous{GrantToken: c.DemoToken}
	default:
		return Subscribed{SubscriberID: c.SubjectID}
	}
}
