package entitle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/entitle/token"
)

// TokenRequest is the input for IssueToken.
type TokenRequest struct {
	SubjectID string
	Purpose   token.Purpose
	// NewEmail is required for email change tokens.
	NewEmail string
	// TTL overrides the configured token lifetime.
	TTL time.Duration
}

// PostAction runs inside a token redemption. The redemption only
// commits when it returns nil.
type PostAction func(ctx context.Context, t *token.Token) error

// tokenIssueAttempts bounds retries when concurrent issues for the same
// subject and purpose collide.
const tokenIssueAttempts = 3

// IssueToken invalidates every unused token of the same purpose for the
// subject and issues a new one in the same write, so at most one token
// per subject and purpose is ever redeemable. The returned token carries
// the secret; it is the only time the secret is available.
func (e *Engine) IssueToken(ctx context.Context, req TokenRequest) (*token.Token, error) {
	if req.SubjectID == "" {
		return nil, ValidationError{Field: "subject_id", Message: "is required"}
	}
	if !req.Purpose.Valid() {
		return nil, ValidationError{Field: "purpose", Message: fmt.Sprintf("unknown purpose %q", req.Purpose)}
	}
	if req.Purpose == token.PurposeEmailChange && req.NewEmail == "" {
		return nil, ValidationError{Field: "new_email", Message: "is required for email change"}
	}

	settings, err := e.settings(ctx)
	if err != nil {
		return nil, err
	}
	ttl := req.TTL
	if ttl <= 0 {
		ttl = settings.TokenTTL
	}
	if ttl <= 0 {
		ttl = token.DefaultTTL
	}

	now := e.now()
	secret := token.NewSecret()
	t := &token.Token{
		ID:        token.Hash(secret),
		Secret:    secret,
		SubjectID: req.SubjectID,
		Purpose:   req.Purpose,
		NewEmail:  req.NewEmail,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}

	var invalidated int64
	for attempt := 0; ; attempt++ {
		opCtx, cancel := e.opContext(ctx)
		invalidated, err = e.store.ReplaceToken(opCtx, t)
		cancel()
		if err == nil {
			break
		}
		if !errors.Is(err, ErrConditionFailed) {
			return nil, transient(err)
		}
		if attempt+1 == tokenIssueAttempts {
			return nil, fmt.Errorf("%w: token for %s issued concurrently", ErrConflict, req.SubjectID)
		}
	}

	e.logger.Debug("token issued",
		"subject_id", t.SubjectID,
		"purpose", t.Purpose,
		"invalidated", invalidated,
	)
	e.plugins.EmitTokenIssued(ctx, t.SubjectID, t.Purpose, t.ExpiresAt)
	return t, nil
}

// RedeemToken marks the token addressed by secret used and runs post in
// the same atomic unit. Of any number of concurrent redemptions exactly
// one succeeds; the rest fail with ErrAlreadyUsed. A failing post action
// rolls the mark back, so the token stays redeemable, and its error is
// returned wrapped.
func (e *Engine) RedeemToken(ctx context.Context, secret string, purpose token.Purpose, post PostAction) (*token.Token, error) {
	t, err := e.lookupToken(ctx, secret, purpose)
	if err != nil {
		return nil, err
	}
	now := e.now()
	if err := tokenState(t, now); err != nil {
		return nil, err
	}

	var postErr error
	opCtx, cancel := e.opContext(ctx)
	err = e.store.RedeemToken(opCtx, t.ID, now, func(marked *token.Token) error {
		t = marked
		if post == nil {
			return nil
		}
		postErr = post(ctx, marked)
		return postErr
	})
	cancel()

	switch {
	case postErr != nil:
		e.logger.Warn("token post action failed",
			"subject_id", t.SubjectID,
			"purpose", t.Purpose,
			"error", postErr,
		)
		return nil, fmt.Errorf("entitle: token post action: %w", postErr)
	case errors.Is(err, ErrConditionFailed):
		current, lerr := e.lookupToken(ctx, secret, purpose)
		if lerr != nil {
			return nil, lerr
		}
		if serr := tokenState(current, now); serr != nil {
			return nil, serr
		}
		return nil, ErrConflict
	case err != nil:
		return nil, transient(err)
	}

	e.plugins.EmitTokenRedeemed(ctx, t.SubjectID, t.Purpose)
	return t, nil
}

// PeekToken reports whether secret addresses a redeemable token without
// consuming it.
func (e *Engine) PeekToken(ctx context.Context, secret string, purpose token.Purpose) (*token.Token, error) {
	t, err := e.lookupToken(ctx, secret, purpose)
	if err != nil {
		return nil, err
	}
	if err := tokenState(t, e.now()); err != nil {
		return nil, err
	}
	return t, nil
}

// lookupToken loads a token by secret. A purpose mismatch reads as not
// found so one flow's link cannot be used in another.
func (e *Engine) lookupToken(ctx context.Context, secret string, purpose token.Purpose) (*token.Token, error) {
	if secret == "" {
		return nil, ErrTokenNotFound
	}
	opCtx, cancel := e.opContext(ctx)
	defer cancel()

	t, err := e.store.GetToken(opCtx, token.Hash(secret))
	if err != nil {
		return nil, transient(err)
	}
	if purpose != "" && t.Purpose != purpose {
		return nil, ErrTokenNotFound
	}
	return t, nil
}

// tokenState classifies why t cannot be redeemed at now.
func tokenState(t *token.Token, now time.Time) error {
	switch {
	case t.IsUsed:
		return ErrAlreadyUsed
	case t.Expired(now):
		return ErrExpired
	}
	return nil
}
