package callable

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/procflow/procflow/internal/engine"
)

// CompileScript compiles an expression source into a work function
// evaluated against the token payload. A map result is merged into the
// token; any other value lands under the "result" key.
func CompileScript(src string) (engine.WorkFunc, error) {
	program, err := expr.Compile(src, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, fmt.Errorf("failed to compile script: %w", err)
	}

	return func(t engine.Token) (map[string]interface{}, error) {
		out, err := expr.Run(program, t.Data)
		if err != nil {
			return nil, fmt.Errorf("script evaluation failed: %w", err)
		}
		if m, ok := out.(map[string]interface{}); ok {
			return m, nil
		}
		return map[string]interface{}{"result": out}, nil
	}, nil
}

// CompileConditions compiles per-successor expression sources into one
// condition function. A candidate without an entry never matches; the
// gateway fallback policies handle that case.
func CompileConditions(sources map[string]string) (engine.ConditionFunc, error) {
	programs := make(map[string]*vm.Program, len(sources))
	for candidate, src := range sources {
		program, err := expr.Compile(src, expr.AllowUndefinedVariables(), expr.AsBool())
		if err != nil {
			return nil, fmt.Errorf("failed to compile condition for %q: %w", candidate, err)
		}
		programs[candidate] = program
	}

	return func(t engine.Token, candidate string) bool {
		program, ok := programs[candidate]
		if !ok {
			return false
		}
		out, err := expr.Run(program, t.Data)
		if err != nil {
			return false
		}
		matched, _ := out.(bool)
		return matched
	}, nil
}
