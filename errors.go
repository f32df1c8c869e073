package entitle

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"

	"github.com/xraph/entitle/entitlement"
)

// Sentinel errors for common failure scenarios.
var (
	// General errors
	ErrNotFound      = errors.New("entitle: not found")
	ErrAlreadyExists = errors.New("entitle: already exists")
	ErrInvalidInput  = errors.New("entitle: invalid input")
	ErrConflict      = errors.New("entitle: conflicting concurrent update")
	ErrTransient     = errors.New("entitle: transient store failure")
	ErrMaintenance   = errors.New("entitle: maintenance mode")
	ErrRateLimited   = errors.New("entitle: rate limited")

	// ErrConditionFailed is returned by stores when a conditional write
	// matched no row. The engine reloads and classifies the cause.
	ErrConditionFailed = errors.New("entitle: condition failed")

	// Plan errors
	ErrPlanNotFound = errors.New("entitle: plan not found")
	ErrPlanInactive = errors.New("entitle: plan is not active")

	// Subscription errors
	ErrSubscriptionNotFound = errors.New("entitle: subscription not found")
	ErrSubscriptionExists   = errors.New("entitle: subscription already exists")
	ErrSubscriptionInactive = errors.New("entitle: subscription is not active")
	ErrAlreadyCancelled     = errors.New("entitle: subscription already cancelled")
	ErrRequiresSubscription = errors.New("entitle: subscription required")

	// Usage errors
	ErrLimitExceeded = errors.New("entitle: usage limit exceeded")

	// Token errors
	ErrTokenNotFound = errors.New("entitle: token not found")
	ErrAlreadyUsed   = errors.New("entitle: token already used")
	ErrExpired       = errors.New("entitle: expired")

	// Demo errors
	ErrGrantNotFound = errors.New("entitle: demo grant not found")
	ErrUsageExceeded = errors.New("entitle: demo usage exceeded")
	ErrGrantExists   = errors.New("entitle: demo grant already exists")

	// Payment errors
	ErrPaymentNotFound       = errors.New("entitle: payment not found")
	ErrPaymentExists         = errors.New("entitle: payment already exists")
	ErrDuplicateEvent        = errors.New("entitle: duplicate payment event")
	ErrInvalidTransition     = errors.New("entitle: invalid payment transition")
	ErrProviderNotConfigured = errors.New("entitle: provider not configured")
	ErrWebhookInvalid        = errors.New("entitle: webhook validation failed")
	ErrPurchaseNotFound      = errors.New("entitle: purchase not found")

	// Store errors
	ErrStoreClosed     = errors.New("entitle: store is closed")
	ErrMigrationFailed = errors.New("entitle: migration failed")
)

// LimitError is the structured denial for a usage counter at its limit.
type LimitError struct {
	Current int64
	Limit   int64
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("entitle: usage limit exceeded (%d/%d)", e.Current, e.Limit)
}

func (e *LimitError) Unwrap() error { return ErrLimitExceeded }

// ValidationError represents a validation failure with details.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("entitle: validation failed for %s: %s", e.Field, e.Message)
}

func (e ValidationError) Unwrap() error { return ErrInvalidInput }

// MultiError represents multiple errors that occurred.
type MultiError struct {
	Errors []error
}

func (e MultiError) Error() string {
	if len(e.Errors) == 0 {
		return "entitle: no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("entitle: %d errors occurred", len(e.Errors))
}

// Add adds an error to the multi-error.
func (e *MultiError) Add(err error) {
	if err != nil {
		e.Errors = append(e.Errors, err)
	}
}

// HasErrors returns true if there are any errors.
func (e MultiError) HasErrors() bool {
	return len(e.Errors) > 0
}

// First returns the first error or nil.
func (e MultiError) First() error {
	if len(e.Errors) > 0 {
		return e.Errors[0]
	}
	return nil
}

// ErrOrNil returns e if it holds any error.
func (e MultiError) ErrOrNil() error {
	if e.HasErrors() {
		return e
	}
	return nil
}

// Unwrap exposes the collected errors to errors.Is and errors.As.
func (e MultiError) Unwrap() []error { return e.Errors }

// IsNotFound returns true if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrPlanNotFound) ||
		errors.Is(err, ErrSubscriptionNotFound) ||
		errors.Is(err, ErrTokenNotFound) ||
		errors.Is(err, ErrGrantNotFound) ||
		errors.Is(err, ErrPaymentNotFound) ||
		errors.Is(err, ErrPurchaseNotFound)
}

// IsDenied returns true if the error is an entitlement denial rather
// than a failure.
func IsDenied(err error) bool {
	return errors.Is(err, ErrLimitExceeded) ||
		errors.Is(err, ErrRequiresSubscription) ||
		errors.Is(err, ErrSubscriptionInactive) ||
		errors.Is(err, ErrAlreadyUsed) ||
		errors.Is(err, ErrExpired) ||
		errors.Is(err, ErrUsageExceeded) ||
		errors.Is(err, ErrMaintenance) ||
		errors.Is(err, ErrRateLimited)
}

// IsConflict returns true for benign races and duplicates that leave
// state unchanged.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrDuplicateEvent) ||
		errors.Is(err, ErrAlreadyExists) ||
		errors.Is(err, ErrSubscriptionExists) ||
		errors.Is(err, ErrPaymentExists) ||
		errors.Is(err, ErrGrantExists)
}

// IsRetryable returns true if the error is temporary and the operation can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransient) ||
		errors.Is(err, ErrConflict)
}

// ReasonFor maps an error to the reason reported in a decision.
func ReasonFor(err error) entitlement.Reason {
	switch {
	case err == nil:
		return entitlement.ReasonGranted
	case errors.Is(err, ErrLimitExceeded):
		return entitlement.ReasonLimitExceeded
	case errors.Is(err, ErrRequiresSubscription):
		return entitlement.ReasonRequiresSubscription
	case errors.Is(err, ErrSubscriptionInactive):
		return entitlement.ReasonSubscriptionInactive
	case errors.Is(err, ErrExpired):
		return entitlement.ReasonExpired
	case errors.Is(err, ErrUsageExceeded):
		return entitlement.ReasonUsageExceeded
	case errors.Is(err, ErrAlreadyUsed):
		return entitlement.ReasonAlreadyUsed
	case errors.Is(err, ErrMaintenance):
		return entitlement.ReasonMaintenance
	case errors.Is(err, ErrRateLimited):
		return entitlement.ReasonRateLimited
	case errors.Is(err, ErrPurchaseNotFound):
		return entitlement.ReasonNotPurchased
	case IsNotFound(err):
		return entitlement.ReasonNotFound
	}
	return ""
}

// transient wraps store failures caused by the operation deadline, a
// dropped connection or a network fault so callers can retry them.
func transient(err error) error {
	if err == nil || errors.Is(err, ErrTransient) {
		return err
	}
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, driver.ErrBadConn) ||
		errors.As(err, &ne) {
		return fmt.Errorf("%w: %w", ErrTransient, err)
	}
	return err
}
