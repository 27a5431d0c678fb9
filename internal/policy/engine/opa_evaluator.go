package engine

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"go.uber.org/zap"

	"authgate/internal/platform/logger"
	"authgate/internal/verification/domain"
)

const planQuery = "data.authgate.factors.plan"

// DefaultRegoPolicy matches StaticPlan.
const DefaultRegoPolicy = `package authgate.factors

default plan := ["EMAIL"]

plan := ["SMS", "EMAIL"] if {
	input.context == "SIGNUP"
}
`

// OPAEvaluator evaluates the factor plan with OPA Rego. The policy is compiled once at construction.
type OPAEvaluator struct {
	query rego.PreparedEvalQuery
	log   *zap.Logger
}

// NewOPAEvaluator compiles policy (DefaultRegoPolicy when empty). The policy must define
// data.authgate.factors.plan as an array of factor names.
func NewOPAEvaluator(ctx context.Context, policy string, l *zap.Logger) (*OPAEvaluator, error) {
	if policy == "" {
		policy = DefaultRegoPolicy
	}
	compiler, err := ast.CompileModules(map[string]string{"factors.rego": policy})
	if err != nil {
		return nil, fmt.Errorf("compile factor policy: %w", err)
	}
	q, err := rego.New(
		rego.Query(planQuery),
		rego.Compiler(compiler),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare factor policy: %w", err)
	}
	return &OPAEvaluator{query: q, log: logger.WithComponent(l, "policy")}, nil
}

// Plan evaluates the policy for c. On evaluation failure or a malformed result it logs and
// falls back to StaticPlan; it never fails the caller.
func (e *OPAEvaluator) Plan(ctx context.Context, c domain.Context) ([]domain.Factor, error) {
	plan, err := e.evaluate(ctx, c)
	if err != nil {
		e.log.Warn("factor plan evaluation failed, using static plan", zap.String("context", string(c)), zap.Error(err))
		return staticPlan(c), nil
	}
	return plan, nil
}

// HealthCheck evaluates the compiled policy for a known context. Returns nil on success.
func (e *OPAEvaluator) HealthCheck(ctx context.Context) error {
	_, err := e.evaluate(ctx, domain.ContextLogin)
	return err
}

func (e *OPAEvaluator) evaluate(ctx context.Context, c domain.Context) ([]domain.Factor, error) {
	rs, err := e.query.Eval(ctx, rego.EvalInput(map[string]interface{}{"context": string(c)}))
	if err != nil {
		return nil, fmt.Errorf("eval factor policy: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return nil, fmt.Errorf("factor policy returned no result")
	}
	raw, ok := rs[0].Expressions[0].Value.([]interface{})
	if !ok || len(raw) == 0 {
		return nil, fmt.Errorf("factor policy result is not a non-empty array")
	}
	plan := make([]domain.Factor, 0, len(raw))
	seen := make(map[domain.Factor]bool, len(raw))
	for _, v := range raw {
		s, _ := v.(string)
		f, err := domain.ParseFactor(s)
		if err != nil {
			return nil, err
		}
		if seen[f] {
			return nil, fmt.Errorf("factor %s listed twice", f)
		}
		seen[f] = true
		plan = append(plan, f)
	}
	return plan, nil
}
