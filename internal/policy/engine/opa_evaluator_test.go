package engine

import (
	"context"
	"reflect"
	"testing"

	"authgate/internal/verification/domain"
)

func TestOPAEvaluator_HealthCheck(t *testing.T) {
	ctx := context.Background()
	e, err := NewOPAEvaluator(ctx, "", nil)
	if err != nil {
		t.Fatalf("NewOPAEvaluator: %v", err)
	}
	if err := e.HealthCheck(ctx); err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
}

func TestOPAEvaluator_DefaultPolicyMatchesStaticPlan(t *testing.T) {
	ctx := context.Background()
	e, err := NewOPAEvaluator(ctx, "", nil)
	if err != nil {
		t.Fatalf("NewOPAEvaluator: %v", err)
	}
	for c, want := range StaticPlan {
		got, err := e.Plan(ctx, c)
		if err != nil {
			t.Fatalf("Plan(%s): %v", c, err)
		}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("Plan(%s) = %v, want %v", c, got, want)
		}
	}
}

func TestOPAEvaluator_CustomPolicy(t *testing.T) {
	ctx := context.Background()
	policy := `package authgate.factors

default plan := ["EMAIL"]

plan := ["EMAIL", "SMS"] if {
	input.context == "LOGIN"
}
`
	e, err := NewOPAEvaluator(ctx, policy, nil)
	if err != nil {
		t.Fatalf("NewOPAEvaluator: %v", err)
	}
	got, _ := e.Plan(ctx, domain.ContextLogin)
	if !reflect.DeepEqual(got, []domain.Factor{domain.FactorEmail, domain.FactorSMS}) {
		t.Errorf("Plan(LOGIN) = %v", got)
	}
	got, _ = e.Plan(ctx, domain.ContextSignup)
	if !reflect.DeepEqual(got, []domain.Factor{domain.FactorEmail}) {
		t.Errorf("Plan(SIGNUP) = %v", got)
	}
}

func TestOPAEvaluator_BadResultFallsBack(t *testing.T) {
	ctx := context.Background()
	testCases := []struct {
		name   string
		policy string
	}{
		{"unknown factor", "package authgate.factors\n\nplan := [\"PIGEON\"]\n"},
		{"duplicate factor", "package authgate.factors\n\nplan := [\"SMS\", \"SMS\"]\n"},
		{"not an array", "package authgate.factors\n\nplan := \"EMAIL\"\n"},
		{"undefined", "package authgate.factors\n\nother := true\n"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			e, err := NewOPAEvaluator(ctx, tc.policy, nil)
			if err != nil {
				t.Fatalf("NewOPAEvaluator: %v", err)
			}
			if err := e.HealthCheck(ctx); err == nil {
				t.Error("HealthCheck should report the malformed plan")
			}
			got, err := e.Plan(ctx, domain.ContextSignup)
			if err != nil {
				t.Fatalf("Plan should fall back, got %v", err)
			}
			if !reflect.DeepEqual(got, StaticPlan[domain.ContextSignup]) {
				t.Errorf("Plan = %v, want static plan", got)
			}
		})
	}
}

func TestNewOPAEvaluator_CompileError(t *testing.T) {
	if _, err := NewOPAEvaluator(context.Background(), "package authgate.factors\n\nplan := [", nil); err == nil {
		t.Fatal("expected compile error")
	}
}

func TestStatic(t *testing.T) {
	got, _ := Static{}.Plan(context.Background(), domain.ContextSignup)
	got[0] = domain.FactorEmail
	if StaticPlan[domain.ContextSignup][0] != domain.FactorSMS {
		t.Error("Plan must return a copy")
	}
	if got, _ := (Static{}).Plan(context.Background(), "OTHER"); !reflect.DeepEqual(got, []domain.Factor{domain.FactorEmail}) {
		t.Errorf("unknown context plan = %v", got)
	}
}
