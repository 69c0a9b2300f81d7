// internal/service/order/application/admission.go
package application

import (
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"

	"swapflow/internal/service/order/domain"
)

// DefaultAdmissionRule 是未配置规则时使用的准入表达式
const DefaultAdmissionRule = `amount > 0.0 && slippage >= 0.0 && slippage <= 0.5`

// AdmissionPolicy 用 CEL 表达式对提交的订单做准入校验。
// 可用变量: source_asset, dest_asset (string), amount, slippage (double)。
type AdmissionPolicy struct {
	expr string
	prg  cel.Program
}

func NewAdmissionPolicy(expr string) (*AdmissionPolicy, error) {
	if strings.TrimSpace(expr) == "" {
		expr = DefaultAdmissionRule
	}
	env, err := cel.NewEnv(
		cel.Variable("source_asset", cel.StringType),
		cel.Variable("dest_asset", cel.StringType),
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("slippage", cel.DoubleType),
	)
	if err != nil {
		return nil, fmt.Errorf("create cel env: %w", err)
	}
	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("compile admission rule %q: %w", expr, iss.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("admission rule %q must evaluate to bool, got %s", expr, ast.OutputType())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("build admission program: %w", err)
	}
	return &AdmissionPolicy{expr: expr, prg: prg}, nil
}

// Admit 规则不通过时返回包装了 domain.ErrRejectedByPolicy 的错误
func (p *AdmissionPolicy) Admit(payload domain.Payload) error {
	amount, _ := payload.Amount.Float64()
	slippage, _ := payload.Slippage.Float64()
	out, _, err := p.prg.Eval(map[string]any{
		"source_asset": payload.SourceAsset,
		"dest_asset":   payload.DestAsset,
		"amount":       amount,
		"slippage":     slippage,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrRejectedByPolicy, err)
	}
	allowed, ok := out.Value().(bool)
	if !ok || !allowed {
		return fmt.Errorf("%w: %s", domain.ErrRejectedByPolicy, p.expr)
	}
	return nil
}

func (p *AdmissionPolicy) Expression() string {
	return p.expr
}
