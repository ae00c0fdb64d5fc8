package tool

import (
	"context"
	"fmt"
	"go/ast"
	"go/constant"
	"go/parser"
	"go/token"
	"strconv"
	"strings"

	"github.com/zen-systems/toolcascade/pkg/schema"
)

// CalcTool evaluates plain arithmetic (+ - * / %, parentheses, decimals).
// The expression comes from the "expression" parameter or is extracted from
// the task goal.
type CalcTool struct{}

// NewCalcTool creates a calculator tool.
func NewCalcTool() *CalcTool {
	return &CalcTool{}
}

// Invoke evaluates the expression exactly and reports full confidence.
func (c *CalcTool) Invoke(ctx context.Context, task schema.Task, params map[string]string) (Output, error) {
	if err := ctx.Err(); err != nil {
		return Output{}, err
	}

	expr := strings.TrimSpace(params[ParamExpression])
	if expr == "" {
		expr = ExtractExpression(task.Goal)
	}
	if expr == "" {
		return Output{}, fmt.Errorf("%w: no arithmetic expression in %q", ErrInvalidInput, task.Goal)
	}

	node, err := parser.ParseExpr(expr)
	if err != nil {
		return Output{}, fmt.Errorf("%w: parse %q: %v", ErrInvalidInput, expr, err)
	}
	value, err := evalConstant(node)
	if err != nil {
		return Output{}, &Error{Message: fmt.Sprintf("evaluate %q", expr), Err: err}
	}

	return Output{
		Content:    formatConstant(value),
		Confidence: 1.0,
		Metadata:   map[string]string{"expression": expr},
	}, nil
}

// ExtractExpression returns the longest run of arithmetic characters in text
// that contains at least one digit.
func ExtractExpression(text string) string {
	best := ""
	var cur strings.Builder
	flush := func() {
		candidate := strings.TrimSpace(cur.String())
		candidate = strings.TrimRight(candidate, "+-*/%.( ")
		if strings.ContainsAny(candidate, "0123456789") && len(candidate) > len(best) {
			best = candidate
		}
		cur.Reset()
	}
	for _, r := range text {
		if strings.ContainsRune("0123456789.+-*/%() ", r) {
			cur.WriteRune(r)
			continue
		}
		flush()
	}
	flush()
	return balanceParens(best)
}

func balanceParens(expr string) string {
	depth := 0
	for _, r := range expr {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
		}
	}
	for ; depth > 0 && strings.HasPrefix(expr, "("); depth-- {
		expr = strings.TrimSpace(expr[1:])
	}
	for ; depth < 0 && strings.HasSuffix(expr, ")"); depth++ {
		expr = strings.TrimSpace(expr[:len(expr)-1])
	}
	return expr
}

func evalConstant(node ast.Expr) (constant.Value, error) {
	switch n := node.(type) {
	case *ast.BasicLit:
		if n.Kind != token.INT && n.Kind != token.FLOAT {
			return nil, fmt.Errorf("unsupported literal %s", n.Value)
		}
		v := constant.MakeFromLiteral(n.Value, n.Kind, 0)
		if v.Kind() == constant.Unknown {
			return nil, fmt.Errorf("invalid number %s", n.Value)
		}
		return v, nil
	case *ast.ParenExpr:
		return evalConstant(n.X)
	case *ast.UnaryExpr:
		x, err := evalConstant(n.X)
		if err != nil {
			return nil, err
		}
		if n.Op != token.ADD && n.Op != token.SUB {
			return nil, fmt.Errorf("unsupported operator %s", n.Op)
		}
		return constant.UnaryOp(n.Op, x, 0), nil
	case *ast.BinaryExpr:
		x, err := evalConstant(n.X)
		if err != nil {
			return nil, err
		}
		y, err := evalConstant(n.Y)
		if err != nil {
			return nil, err
		}
		switch n.Op {
		case token.ADD, token.SUB, token.MUL:
			return constant.BinaryOp(x, n.Op, y), nil
		case token.QUO:
			if constant.Sign(y) == 0 {
				return nil, fmt.Errorf("division by zero")
			}
			return constant.BinaryOp(constant.ToFloat(x), token.QUO, constant.ToFloat(y)), nil
		case token.REM:
			if x.Kind() != constant.Int || y.Kind() != constant.Int {
				return nil, fmt.Errorf("modulo requires integers")
			}
			if constant.Sign(y) == 0 {
				return nil, fmt.Errorf("division by zero")
			}
			return constant.BinaryOp(x, token.REM, y), nil
		}
		return nil, fmt.Errorf("unsupported operator %s", n.Op)
	}
	return nil, fmt.Errorf("unsupported expression %T", node)
}

func formatConstant(v constant.Value) string {
	if v.Kind() == constant.Int {
		return v.ExactString()
	}
	f, _ := constant.Float64Val(v)
	return strconv.FormatFloat(f, 'f', -1, 64)
}
