// Package demo models anonymous, token-addressed demo grants: a bounded
// number of uses inside a time window, with every access attempt
// journaled for abuse investigation.
package demo

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/xraph/entitle/id"
	"github.com/xraph/entitle/plan"
	"github.com/xraph/entitle/types"
)

const (
	DefaultMaxUsage int64 = 3
	DefaultTTL            = 24 * time.Hour
	MinTTL                = time.Hour
	MaxTTL                = 168 * time.Hour
	// MaxTokenLength bounds the URL path segment.
	MaxTokenLength = 32
)

type Grant struct {
	types.Entity
	Token         string       `json:"token"`
	CustomerName  string       `json:"customer_name"`
	CustomerEmail string       `json:"customer_email"`
	Company       string       `json:"company,omitempty"`
	Service       plan.Service `json:"service"`
	MaxUsage      int64        `json:"max_usage"`
	UsageCount    int64        `json:"usage_count"`
	IsUsed        bool         `json:"is_used"`
	UsedAt        *time.Time   `json:"used_at,omitempty"`
	ExpiresAt     time.Time    `json:"expires_at"`
	CreatedBy     string       `json:"created_by,omitempty"`
}

// Expired reports whether the grant window closed before now.
func (g *Grant) Expired(now time.Time) bool { return now.After(g.ExpiresAt) }

// Exhausted reports whether every use has been spent.
func (g *Grant) Exhausted() bool { return g.UsageCount >= g.MaxUsage }

// Valid is the read-model predicate: unexpired and not exhausted.
func (g *Grant) Valid(now time.Time) bool { return !g.Expired(now) && !g.Exhausted() }

// Remaining returns the uses left.
func (g *Grant) Remaining() int64 { return max(g.MaxUsage-g.UsageCount, 0) }

// Path returns the relative demo URL for the grant.
func (g *Grant) Path() string { return "/demo/" + g.Token }

// Request is the input for creating a grant.
type Request struct {
	CustomerName  string
	CustomerEmail string
	Company       string
	Service       plan.Service
	// TTL defaults to DefaultTTL and must lie within [MinTTL, MaxTTL].
	TTL       time.Duration
	MaxUsage  int64
	CreatedBy string
}

// Normalize applies defaults and validates r.
func (r *Request) Normalize() error {
	if r.TTL == 0 {
		r.TTL = DefaultTTL
	}
	if r.MaxUsage == 0 {
		r.MaxUsage = DefaultMaxUsage
	}
	if r.TTL < MinTTL || r.TTL > MaxTTL {
		return fmt.Errorf("demo: ttl %s outside [%s, %s]", r.TTL, MinTTL, MaxTTL)
	}
	if r.MaxUsage < 1 {
		return errors.New("demo: max usage must be positive")
	}
	if !r.Service.Valid() {
		return fmt.Errorf("demo: unknown service %q", r.Service)
	}
	if r.CustomerEmail == "" {
		return errors.New("demo: customer email is required")
	}
	return nil
}

type Outcome string

const (
	OutcomeViewed        Outcome = "viewed"
	OutcomeAllowed       Outcome = "allowed"
	OutcomeExpired       Outcome = "expired"
	OutcomeUsageExceeded Outcome = "usage_exceeded"
	OutcomeNotFound      Outcome = "not_found"
	OutcomeRateLimited   Outcome = "rate_limited"
)

// Attempt carries the caller context recorded with each access.
type Attempt struct {
	Action    string
	IP        string
	UserAgent string
	Metadata  map[string]string
}

// AccessLog is an immutable journal row for one access attempt.
type AccessLog struct {
	ID         id.DemoAccessID   `json:"id"`
	GrantToken string            `json:"grant_token"`
	Action     string            `json:"action"`
	Outcome    Outcome           `json:"outcome"`
	IP         string            `json:"ip,omitempty"`
	UserAgent  string            `json:"user_agent,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

// Receipt describes the grant state after an access.
type Receipt struct {
	Token      string       `json:"token"`
	Service    plan.Service `json:"service"`
	UsageCount int64        `json:"usage_count"`
	MaxUsage   int64        `json:"max_usage"`
	Remaining  int64        `json:"remaining"`
	ExpiresAt  time.Time    `json:"expires_at"`
	Exhausted  bool         `json:"exhausted"`
}

// ClientIP picks the originating address: the first X-Forwarded-For
// entry when present, else the host part of remoteAddr.
func ClientIP(forwardedFor, remoteAddr string) string {
	if forwardedFor != "" {
		first, _, _ := strings.Cut(forwardedFor, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		return host
	}
	return remoteAddr
}
