package engine

import (
	"context"

	"authgate/internal/verification/domain"
)

// Planner returns the ordered factors a context requires. A factor at position i may only be
// issued or verified once every factor before it is verified.
type Planner interface {
	Plan(ctx context.Context, c domain.Context) ([]domain.Factor, error)
}

// StaticPlan is the built-in plan, used when no policy engine is configured or evaluation fails.
var StaticPlan = map[domain.Context][]domain.Factor{
	domain.ContextSignup:        {domain.FactorSMS, domain.FactorEmail},
	domain.ContextLogin:         {domain.FactorEmail},
	domain.ContextPasswordReset: {domain.FactorEmail},
}

// Static is a Planner backed by StaticPlan.
type Static struct{}

func (Static) Plan(_ context.Context, c domain.Context) ([]domain.Factor, error) {
	return staticPlan(c), nil
}

func staticPlan(c domain.Context) []domain.Factor {
	if p, ok := StaticPlan[c]; ok {
		return append([]domain.Factor(nil), p...)
	}
	return []domain.Factor{domain.FactorEmail}
}
