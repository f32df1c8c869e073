package demo

import (
	"context"
	"time"
)

// Store persists demo grants and their access journal.
type Store interface {
	CreateGrant(ctx context.Context, g *Grant) error
	GetGrant(ctx context.Context, token string) (*Grant, error)
	// ConsumeGrant adds one use if the grant is unexpired and not
	// exhausted at now, setting is_used in the same write when the use
	// was the last one. It returns the new usage count, or
	// entitle.ErrConditionFailed when the grant could not be consumed.
	ConsumeGrant(ctx context.Context, token string, now time.Time) (int64, error)

	AppendDemoAccess(ctx context.Context, l *AccessLog) error
	ListDemoAccess(ctx context.Context, token string, limit int) ([]*AccessLog, error)
}
