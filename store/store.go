// Package store defines the composite persistence contract implemented
// by the memory, postgres, sqlite and mongo backends.
package store

import (
	"context"

	"github.com/xraph/entitle/demo"
	"github.com/xraph/entitle/meter"
	"github.com/xraph/entitle/payment"
	"github.com/xraph/entitle/plan"
	"github.com/xraph/entitle/subscription"
	"github.com/xraph/entitle/token"
)

// Store is the unified storage interface for all Entitle entities.
//
// Backends provide per-record linearizability: every counter increment,
// single-use mark and status transition is one conditional write whose
// guard is evaluated by the backend, never a read followed by a write.
type Store interface {
	plan.Store
	subscription.Store
	token.Store
	meter.Store
	demo.Store
	payment.Store

	// Core methods
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
