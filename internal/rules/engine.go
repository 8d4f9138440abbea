package rules

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

var (
	ErrRuleEvaluation  = errors.New("rule evaluation failed")
	ErrInvalidRuleExpr = errors.New("invalid rule expression")
)

// Engine compiles and caches CEL expressions over the dispatch context.
// Expressions see two variables: ctx (the dispatch context) and field (the
// condition's resolved field).
type Engine struct {
	env      *cel.Env
	programs map[string]cel.Program
	mu       sync.RWMutex
}

func NewEngine() (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("ctx", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("field", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("creating CEL environment: %w", err)
	}

	return &Engine{
		env:      env,
		programs: make(map[string]cel.Program),
	}, nil
}

func (e *Engine) compile(expr string) (cel.Program, error) {
	e.mu.RLock()
	program, ok := e.programs[expr]
	e.mu.RUnlock()
	if ok {
		return program, nil
	}

	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRuleExpr, issues.Err())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("creating program: %w", err)
	}

	e.mu.Lock()
	e.programs[expr] = program
	e.mu.Unlock()
	return program, nil
}

// Evaluate runs expr and returns its boolean result.
func (e *Engine) Evaluate(expr string, field any, ctx Context) (bool, error) {
	program, err := e.compile(expr)
	if err != nil {
		return false, err
	}

	vars := map[string]any{
		"ctx":   map[string]any(ctx),
		"field": field,
	}
	if ctx == nil {
		vars["ctx"] = map[string]any{}
	}
	if field == nil {
		vars["field"] = ""
	}

	result, _, err := program.Eval(vars)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrRuleEvaluation, err)
	}

	allowed, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("%w: expression did not return boolean", ErrRuleEvaluation)
	}
	return allowed, nil
}
