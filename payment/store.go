package payment

import "context"

type Store interface {
	CreatePayment(ctx context.Context, p *Payment) error
	GetPayment(ctx context.Context, key string) (*Payment, error)
	ListPayments(ctx context.Context, subjectID string) ([]*Payment, error)
	// TransitionPayment applies t only if the stored status equals t.From;
	// otherwise it returns entitle.ErrConditionFailed.
	TransitionPayment(ctx context.Context, key string, t Transition) error

	GetProcessedEvent(ctx context.Context, provider Provider, eventID string) (*ProcessedEvent, error)
	// RecordProcessedEvent inserts the tombstone, returning
	// entitle.ErrDuplicateEvent if (provider, event id) already exists.
	RecordProcessedEvent(ctx context.Context, e *ProcessedEvent) error

	// CreatePurchase is idempotent on (subject, workflow).
	CreatePurchase(ctx context.Context, p *Purchase) error
	GetPurchase(ctx context.Context, subjectID, workflowID string) (*Purchase, error)
}
