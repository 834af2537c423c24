package builtin

import (
	"context"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"math"
	"strconv"

	"github.com/kiosk404/cohort/internal/cohortd/service/tools/domain/entity"
)

func calculatorTool() entity.ToolDefinition {
	return entity.ToolDefinition{
		Name:        "calculator",
		Description: "Evaluate an arithmetic expression with + - * / % ^, parentheses and the functions sqrt, abs, round, min, max.",
		Parameters: []entity.ParameterDef{
			{Name: "expression", Type: "string", Description: "e.g. (1200 - 950) / 950 * 100", Required: true},
		},
		Handler: func(_ context.Context, args map[string]interface{}) (interface{}, error) {
			v, err := Evaluate(stringArg(args, "expression"))
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"result": v}, nil
		},
	}
}

// Evaluate computes an arithmetic expression. ^ is exponentiation.
func Evaluate(expr string) (float64, error) {
	if expr == "" {
		return 0, fmt.Errorf("empty expression")
	}
	node, err := parser.ParseExpr(expr)
	if err != nil {
		return 0, fmt.Errorf("cannot parse %q: %w", expr, err)
	}
	v, err := eval(node)
	if err != nil {
		return 0, err
	}
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, fmt.Errorf("result of %q is not finite", expr)
	}
	return v, nil
}

func eval(n ast.Expr) (float64, error) {
	switch e := n.(type) {
	case *ast.BasicLit:
		if e.Kind != token.INT && e.Kind != token.FLOAT {
			return 0, fmt.Errorf("unsupported literal %s", e.Value)
		}
		return strconv.ParseFloat(e.Value, 64)
	case *ast.ParenExpr:
		return eval(e.X)
	case *ast.UnaryExpr:
		x, err := eval(e.X)
		if err != nil {
			return 0, err
		}
		switch e.Op {
		case token.SUB:
			return -x, nil
		case token.ADD:
			return x, nil
		}
		return 0, fmt.Errorf("unsupported operator %s", e.Op)
	case *ast.BinaryExpr:
		x, err := eval(e.X)
		if err != nil {
			return 0, err
		}
		y, err := eval(e.Y)
		if err != nil {
			return 0, err
		}
		switch e.Op {
		case token.ADD:
			return x + y, nil
		case token.SUB:
			return x - y, nil
		case token.MUL:
			return x * y, nil
		case token.QUO:
			if y == 0 {
				return 0, fmt.Errorf("division by zero")
			}
			return x / y, nil
		case token.REM:
			if y == 0 {
				return 0, fmt.Errorf("division by zero")
			}
			return math.Mod(x, y), nil
		case token.XOR:
			return math.Pow(x, y), nil
		}
		return 0, fmt.Errorf("unsupported operator %s", e.Op)
	case *ast.CallExpr:
		fn, ok := e.Fun.(*ast.Ident)
		if !ok {
			return 0, fmt.Errorf("unsupported call")
		}
		args := make([]float64, 0, len(e.Args))
		for _, a := range e.Args {
			v, err := eval(a)
			if err != nil {
				return 0, err
			}
			args = append(args, v)
		}
		return call(fn.Name, args)
	case *ast.Ident:
		switch e.Name {
		case "pi":
			return math.Pi, nil
		case "e":
			return math.E, nil
		}
		return 0, fmt.Errorf("unknown identifier %s", e.Name)
	}
	return 0, fmt.Errorf("unsupported expression")
}

func call(name string, args []float64) (float64, error) {
	want := map[string]int{"sqrt": 1, "abs": 1, "round": 1, "min": 2, "max": 2}
	n, ok := want[name]
	if !ok {
		return 0, fmt.Errorf("unknown function %s", name)
	}
	if len(args) != n {
		return 0, fmt.Errorf("%s takes %d argument(s), got %d", name, n, len(args))
	}
	switch name {
	case "sqrt":
		if args[0] < 0 {
			return 0, fmt.Errorf("sqrt of negative number")
		}
		return math.Sqrt(args[0]), nil
	case "abs":
		return math.Abs(args[0]), nil
	case "round":
		return math.Round(args[0]), nil
	case "min":
		return math.Min(args[0], args[1]), nil
	default:
		return math.Max(args[0], args[1]), nil
	}
}
