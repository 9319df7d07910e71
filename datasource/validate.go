package datasource

import (
	"context"
	"fmt"

	"github.com/Knetic/govaluate"
)

// ValidationRule is one named sanity check evaluated against a fetched
// payload, e.g. {"positive_price", "price > 0 && volume >= 0"}.
type ValidationRule struct {
	Name string
	Expr string
}

// compiledRule pairs a rule name with its parsed expression
type compiledRule struct {
	name string
	expr *govaluate.EvaluableExpression
}

// ValidatedProvider wraps a provider with payload sanity rules. Payloads
// failing any rule are refused with an INVALID_RESPONSE error, so feeds
// returning garbage trip the circuit breaker instead of poisoning the cache.
type ValidatedProvider[T any] struct {
	inner   Provider[T]
	project func(T) map[string]interface{}
	rules   []compiledRule
}

// NewValidatedProvider wraps inner with the given rules. project maps a
// payload to the variable bag the rule expressions are evaluated against.
// Returns an error when any rule expression does not parse.
func NewValidatedProvider[T any](inner Provider[T], project func(T) map[string]interface{}, rules []ValidationRule) (*ValidatedProvider[T], error) {
	compiled := make([]compiledRule, 0, len(rules))
	for _, rule := range rules {
		expr, err := govaluate.NewEvaluableExpression(rule.Expr)
		if err != nil {
			return nil, fmt.Errorf("invalid validation rule %q: %w", rule.Name, err)
		}
		compiled = append(compiled, compiledRule{name: rule.Name, expr: expr})
	}

	return &ValidatedProvider[T]{
		inner:   inner,
		project: project,
		rules:   compiled,
	}, nil
}

// Name returns the inner provider name
func (p *ValidatedProvider[T]) Name() string { return p.inner.Name() }

// Fetch forwards to the inner provider and checks the payload against
// every rule before returning it
func (p *ValidatedProvider[T]) Fetch(ctx context.Context, key string) (T, error) {
	value, err := p.inner.Fetch(ctx, key)
	if err != nil {
		return value, err
	}

	params := p.project(value)
	for _, rule := range p.rules {
		out, err := rule.expr.Evaluate(params)
		if err != nil {
			var zero T
			return zero, NewProviderError(CodeInvalidResponse, p.inner.Name(),
				fmt.Sprintf("validation rule %q failed to evaluate", rule.name), err)
		}
		if ok, _ := out.(bool); !ok {
			var zero T
			return zero, NewProviderError(CodeInvalidResponse, p.inner.Name(),
				fmt.Sprintf("payload rejected by rule %q", rule.name), nil)
		}
	}

	return value, nil
}

// HealthCheck forwards to the inner provider when it reports health
func (p *ValidatedProvider[T]) HealthCheck(ctx context.Context) bool {
	if hc, ok := p.inner.(HealthChecker); ok {
		return hc.HealthCheck(ctx)
	}
	return true
}
