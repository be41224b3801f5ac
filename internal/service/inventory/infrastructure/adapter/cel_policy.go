// internal/service/inventory/infrastructure/adapter/cel_policy.go
package adapter

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"

	"serialstock/internal/service/inventory/domain"
)

// CelPolicyAdapter 是 domain.SubstitutionPolicy 的 CEL 实现。
// 替代放行规则是一条配置下发的表达式，运营可以在不发版的情况下收紧或放开，
// 例如 `channel == "ONLINE" && shortfall <= 2`。
type CelPolicyAdapter struct {
	program cel.Program
}

// NewCelPolicyAdapter 编译表达式并校验结果类型必须是布尔
func NewCelPolicyAdapter(expression string) (*CelPolicyAdapter, error) {
	env, err := cel.NewEnv(
		cel.Variable("channel", cel.StringType),
		cel.Variable("variant_id", cel.UintType),
		cel.Variable("requested", cel.IntType),
		cel.Variable("shortfall", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("create cel env: %w", err)
	}
	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile policy expression %q: %w", expression, issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("policy expression %q must evaluate to bool, got %s", expression, ast.OutputType())
	}
	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("build policy program: %w", err)
	}
	return &CelPolicyAdapter{program: program}, nil
}

// AllowFallback 实现 domain.SubstitutionPolicy
func (a *CelPolicyAdapter) AllowFallback(_ context.Context, input domain.PolicyInput) (bool, error) {
	out, _, err := a.program.Eval(map[string]interface{}{
		"channel":    string(input.Channel),
		"variant_id": input.VariantID,
		"requested":  input.Requested,
		"shortfall":  input.Shortfall,
	})
	if err != nil {
		return false, fmt.Errorf("evaluate policy: %w", err)
	}
	allowed, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("policy returned non-bool value %T", out.Value())
	}
	return allowed, nil
}

// StaticPolicy 是固定放行/拒绝的策略，测试和最简部署使用
type StaticPolicy bool

// AllowFallback 实现 domain.SubstitutionPolicy
func (p StaticPolicy) AllowFallback(context.Context, domain.PolicyInput) (bool, error) {
	return bool(p), nil
}
