package rules

import (
	"fmt"
	"time"

	"github.com/google/cel-go/cel"
)

// exprCostLimit 单个表达式的求值成本上限
const exprCostLimit = 1_000_000

var exprRoots = []string{"assignment", "user", "date", "planning", "metrics", "firing", "calc"}

func newExprEnv() (*cel.Env, error) {
	opts := make([]cel.EnvOption, 0, len(exprRoots)+1)
	for _, root := range exprRoots {
		opts = append(opts, cel.Variable(root, cel.MapType(cel.StringType, cel.DynType)))
	}
	opts = append(opts, cel.Variable("now", cel.TimestampType))
	return cel.NewEnv(opts...)
}

// compileExpression 编译表达式为可复用的程序
func compileExpression(env *cel.Env, expr string) (cel.Program, error) {
	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("编译表达式失败: %w", iss.Err())
	}
	prg, err := env.Program(ast, cel.CostLimit(exprCostLimit))
	if err != nil {
		return nil, fmt.Errorf("构建表达式程序失败: %w", err)
	}
	return prg, nil
}

// evalExpression 在事实快照上求值，结果转换为 Value
func evalExpression(prg cel.Program, reg *Registry, facts *Facts) (Value, error) {
	vars := reg.Snapshot(facts)
	for _, root := range exprRoots {
		if _, ok := vars[root]; !ok {
			vars[root] = map[string]any{}
		}
	}
	now := facts.Now
	if now.IsZero() {
		now = time.Now()
	}
	vars["now"] = now

	out, _, err := prg.Eval(vars)
	if err != nil {
		return Value{}, fmt.Errorf("表达式求值失败: %w", err)
	}
	switch v := out.Value().(type) {
	case float64:
		return NumberValue(v), nil
	case int64:
		return NumberValue(float64(v)), nil
	case uint64:
		return NumberValue(float64(v)), nil
	case string:
		return StringValue(v), nil
	case bool:
		return BoolValue(v), nil
	case time.Time:
		return TimeValue(v), nil
	}
	return Value{}, fmt.Errorf("表达式结果类型 %s 不受支持", out.Type())
}
