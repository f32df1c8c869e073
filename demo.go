package entitle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/xraph/entitle/demo"
	"github.com/xraph/entitle/id"
	"github.com/xraph/entitle/token"
	"github.com/xraph/entitle/types"
)

// CreateDemoGrant creates an anonymous demo grant. Zero TTL and max usage
// fall back to the configured demo defaults.
func (e *Engine) CreateDemoGrant(ctx context.Context, req demo.Request) (*demo.Grant, error) {
	settings, err := e.settings(ctx)
	if err != nil {
		return nil, err
	}
	if req.TTL == 0 {
		req.TTL = settings.DemoTTL
	}
	if req.MaxUsage == 0 {
		req.MaxUsage = settings.DemoMaxUsage
	}
	if err := req.Normalize(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	now := e.now()
	g := &demo.Grant{
		Entity:        types.EntityAt(now),
		Token:         token.NewSecret(),
		CustomerName:  req.CustomerName,
		CustomerEmail: req.CustomerEmail,
		Company:       req.Company,
		Service:       req.Service,
		MaxUsage:      req.MaxUsage,
		ExpiresAt:     now.Add(req.TTL),
		CreatedBy:     req.CreatedBy,
	}

	opCtx, cancel := e.opContext(ctx)
	defer cancel()
	if err := e.store.CreateGrant(opCtx, g); err != nil {
		return nil, transient(err)
	}
	return g, nil
}

// DemoStatus is the read-only view of a grant. It is blocked only by
// expiry and reports the uses left. The view is journaled.
func (e *Engine) DemoStatus(ctx context.Context, tok string, attempt demo.Attempt) (*demo.Receipt, error) {
	if attempt.Action == "" {
		attempt.Action = "view"
	}
	g, err := e.getGrant(ctx, tok)
	if err != nil {
		if IsNotFound(err) {
			e.journalDemo(ctx, tok, attempt, demo.OutcomeNotFound)
		}
		return nil, err
	}
	if g.Expired(e.now()) {
		e.journalDemo(ctx, tok, attempt, demo.OutcomeExpired)
		return nil, ErrExpired
	}
	e.journalDemo(ctx, tok, attempt, demo.OutcomeViewed)
	return demoReceipt(g), nil
}

// TryDemo spends one use of the grant. Expiry is checked before usage,
// and the increment is a single conditional write that also flags the
// grant used when it spends the last unit. Every attempt is journaled.
func (e *Engine) TryDemo(ctx context.Context, tok string, attempt demo.Attempt) (*demo.Receipt, error) {
	if attempt.Action == "" {
		attempt.Action = "try"
	}
	if !e.demoThrottle.allow(attempt.IP) {
		e.journalDemo(ctx, tok, attempt, demo.OutcomeRateLimited)
		return nil, ErrRateLimited
	}

	g, err := e.getGrant(ctx, tok)
	if err != nil {
		if IsNotFound(err) {
			e.journalDemo(ctx, tok, attempt, demo.OutcomeNotFound)
		}
		return nil, err
	}

	now := e.now()
	if derr := grantDenial(g, now); derr != nil {
		e.journalDemo(ctx, tok, attempt, grantOutcome(derr))
		return nil, derr
	}

	opCtx, cancel := e.opContext(ctx)
	count, err := e.store.ConsumeGrant(opCtx, tok, now)
	cancel()
	if errors.Is(err, ErrConditionFailed) {
		current, lerr := e.getGrant(ctx, tok)
		if lerr != nil {
			return nil, lerr
		}
		derr := grantDenial(current, now)
		if derr == nil {
			return nil, ErrConflict
		}
		e.journalDemo(ctx, tok, attempt, grantOutcome(derr))
		return nil, derr
	}
	if err != nil {
		return nil, transient(err)
	}

	g.UsageCount = count
	g.IsUsed = count >= g.MaxUsage
	e.journalDemo(ctx, tok, attempt, demo.OutcomeAllowed)
	return demoReceipt(g), nil
}

// DemoAccessLog returns the newest journal entries for a grant.
func (e *Engine) DemoAccessLog(ctx context.Context, tok string, limit int) ([]*demo.AccessLog, error) {
	opCtx, cancel := e.opContext(ctx)
	defer cancel()

	entries, err := e.store.ListDemoAccess(opCtx, tok, limit)
	return entries, transient(err)
}

// DemoURL renders the absolute demo link for a grant.
func DemoURL(base string, g *demo.Grant) string {
	for len(base) > 0 && base[len(base)-1] == '/' {
		base = base[:len(base)-1]
	}
	return base + g.Path()
}

func (e *Engine) getGrant(ctx context.Context, tok string) (*demo.Grant, error) {
	if tok == "" || len(tok) > demo.MaxTokenLength {
		return nil, ErrGrantNotFound
	}
	opCtx, cancel := e.opContext(ctx)
	defer cancel()

	g, err := e.store.GetGrant(opCtx, tok)
	return g, transient(err)
}

// grantDenial reports why g cannot be consumed at now. Expiry wins over
// exhaustion.
func grantDenial(g *demo.Grant, now time.Time) error {
	switch {
	case g.Expired(now):
		return ErrExpired
	case g.Exhausted():
		return ErrUsageExceeded
	}
	return nil
}

func grantOutcome(err error) demo.Outcome {
	if errors.Is(err, ErrExpired) {
		return demo.OutcomeExpired
	}
	return demo.OutcomeUsageExceeded
}

func demoReceipt(g *demo.Grant) *demo.Receipt {
	return &demo.Receipt{
		Token:      g.Token,
		Service:    g.Service,
		UsageCount: g.UsageCount,
		MaxUsage:   g.MaxUsage,
		Remaining:  g.Remaining(),
		ExpiresAt:  g.ExpiresAt,
		Exhausted:  g.Exhausted(),
	}
}

// journalDemo appends an access record. Journal failures are logged and
// do not change the outcome returned to the caller.
func (e *Engine) journalDemo(ctx context.Context, tok string, attempt demo.Attempt, outcome demo.Outcome) {
	if attempt.Action == "" {
		attempt.Action = "try"
	}
	entry := &demo.AccessLog{
		ID:         id.NewDemoAccessID(),
		GrantToken: tok,
		Action:     attempt.Action,
		Outcome:    outcome,
		IP:         attempt.IP,
		UserAgent:  attempt.UserAgent,
		Metadata:   attempt.Metadata,
		CreatedAt:  e.now(),
	}

	opCtx, cancel := e.opContext(ctx)
	defer cancel()
	if err := e.store.AppendDemoAccess(opCtx, entry); err != nil {
		e.logger.Warn("demo access journal failed",
			"outcome", outcome,
			"error", err,
		)
		return
	}
	e.plugins.EmitDemoAccess(ctx, entry)
}

// ──────────────────────────────────────────────────
// Throttling
// ──────────────────────────────────────────────────

// maxThrottleKeys caps the limiter map; it is cleared when full.
const maxThrottleKeys = 10000

// throttle keeps one token bucket per client IP.
type throttle struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[string]*rate.Limiter
}

func newThrottle(limit rate.Limit, burst int) *throttle {
	return &throttle{
		limit:    limit,
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

// allow reports whether ip may attempt now. A nil throttle allows all.
func (t *throttle) allow(ip string) bool {
	if t == nil {
		return true
	}
	t.mu.Lock()
	l, ok := t.limiters[ip]
	if !ok {
		if len(t.limiters) >= maxThrottleKeys {
			clear(t.limiters)
		}
		l = rate.NewLimiter(t.limit, t.burst)
		t.limiters[ip] = l
	}
	t.mu.Unlock()
	return l.Allow()
}
