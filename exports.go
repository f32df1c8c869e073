package entitle

import (
	"github.com/xraph/entitle/entitlement"
	"github.com/xraph/entitle/types"
)

// Re-export common types for convenience so users don't have to import types package.

// Money is re-exported from types package.
type Money = types.Money

// Entity is re-exported from types package.
type Entity = types.Entity

// Re-export Money constructors
var (
	USD  = types.USD
	EUR  = types.EUR
	TRY  = types.TRY
	Zero = types.Zero
	Sum  = types.Sum
)

// Re-export Entity constructor
var NewEntity = types.NewEntity

// Caller and Decision are re-exported from the entitlement package.
type (
	Caller   = entitlement.Caller
	Decision = entitlement.Decision
	Reason   = entitlement.Reason
)
