// Package gateway adapts payment provider notifications to the
// provider-agnostic payment.Event consumed by the reconciler.
//
// Each provider is a Gateway strategy. The engine looks the strategy up
// in a Registry by provider name, so adding a provider never touches the
// reconciliation logic.
package gateway

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/xraph/entitle/payment"
)

var (
	// ErrUnknownProvider is returned when no gateway is registered for a provider.
	ErrUnknownProvider = errors.New("gateway: unknown provider")
	// ErrSignature is returned when a notification fails verification.
	ErrSignature = errors.New("gateway: signature verification failed")
	// ErrMalformed is returned when a notification cannot be decoded.
	ErrMalformed = errors.New("gateway: malformed notification")
	// ErrIgnored is returned for well-formed notifications that carry no
	// payment status change.
	ErrIgnored = errors.New("gateway: event ignored")
)

// Gateway is a payment provider strategy.
type Gateway interface {
	Provider() payment.Provider
	// CheckoutURL returns the hosted payment page for a pending payment.
	CheckoutURL(p *payment.Payment) (string, error)
	// ParseEvent verifies and normalizes a webhook delivery.
	ParseEvent(header http.Header, payload []byte) (*payment.Event, error)
}

// Registry holds gateways keyed by provider.
type Registry struct {
	mu       sync.RWMutex
	gateways map[payment.Provider]Gateway
}

// NewRegistry creates a registry containing gs.
func NewRegistry(gs ...Gateway) *Registry {
	r := &Registry{gateways: make(map[payment.Provider]Gateway)}
	for _, g := range gs {
		r.Register(g)
	}
	return r
}

// Register adds or replaces the gateway for its provider.
func (r *Registry) Register(g Gateway) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gateways[g.Provider()] = g
}

// Get returns the gateway for provider.
func (r *Registry) Get(provider payment.Provider) (Gateway, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.gateways[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
	}
	return g, nil
}

// Providers lists the registered providers in name order.
func (r *Registry) Providers() []payment.Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]payment.Provider, 0, len(r.gateways))
	for p := range r.gateways {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
