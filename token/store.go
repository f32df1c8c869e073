package token

import (
	"context"
	"time"
)

// RedeemFunc runs while a token's single-use mark is still pending. A
// non-nil error undoes the mark.
type RedeemFunc func(t *Token) error

// Store persists tokens by their hashed ID.
//
// At most one unused token exists per subject and purpose; backends
// enforce it with a partial unique index or an equivalent guard.
type Store interface {
	CreateToken(ctx context.Context, t *Token) error
	GetToken(ctx context.Context, tokenID string) (*Token, error)
	// InvalidateTokens marks every unused token of purpose for subject as
	// used and returns how many were affected.
	InvalidateTokens(ctx context.Context, subjectID string, purpose Purpose, at time.Time) (int64, error)
	// ReplaceToken invalidates the unused tokens of t's subject and purpose
	// and inserts t in one atomic unit. It returns how many tokens were
	// invalidated, or entitle.ErrConditionFailed when a concurrent
	// replacement committed first.
	ReplaceToken(ctx context.Context, t *Token) (int64, error)
	// MarkTokenUsed flips is_used only if the token is unused and unexpired
	// at at; otherwise it returns entitle.ErrConditionFailed.
	MarkTokenUsed(ctx context.Context, tokenID string, at time.Time) error
	// RedeemToken marks the token used under the same guard as
	// MarkTokenUsed and calls fn before the mark becomes durable. When fn
	// fails the mark is rolled back and fn's error is returned unchanged.
	RedeemToken(ctx context.Context, tokenID string, at time.Time, fn RedeemFunc) error
}
