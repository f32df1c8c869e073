package plan

import (
	"context"

	"github.com/xraph/entitle/id"
)

// Store persists service plans.
type Store interface {
	CreatePlan(ctx context.Context, p *Plan) error
	GetPlan(ctx context.Context, planID id.PlanID) (*Plan, error)
	// ListPlans returns plans for service, or all plans when service is empty.
	ListPlans(ctx context.Context, service Service) ([]*Plan, error)
}
