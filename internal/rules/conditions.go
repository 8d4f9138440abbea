// Package rules evaluates hook conditions against a dispatch context.
package rules

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"
)

// Operator compares a resolved field with a resolved value.
type Operator string

const (
	OpEquals     Operator = "equals"
	OpNotEquals  Operator = "not_equals"
	OpContains   Operator = "contains"
	OpStartsWith Operator = "startsWith"
	OpEndsWith   Operator = "endsWith"
	// OpExpr evaluates Value as a CEL boolean expression.
	OpExpr Operator = "expr"
)

// Known reports whether op is a supported operator.
func (op Operator) Known() bool {
	switch op {
	case OpEquals, OpNotEquals, OpContains, OpStartsWith, OpEndsWith, OpExpr:
		return true
	default:
		return false
	}
}

// Condition is one predicate of an action rule. Field and Value may contain
// {{name}} placeholders.
type Condition struct {
	Field    any      `mapstructure:"field" yaml:"field" json:"field"`
	Operator Operator `mapstructure:"operator" yaml:"operator" json:"operator"`
	Value    any      `mapstructure:"compareValue" yaml:"compareValue" json:"compareValue"`
}

// Context holds the values available to placeholders during one dispatch.
type Context map[string]any

// Clone returns a shallow copy.
func (c Context) Clone() Context {
	out := make(Context, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

var placeholderPattern = regexp.MustCompile(`{{\s*(\w+)\s*}}`)

// Resolve substitutes every {{key}} in s. Missing keys become "".
func Resolve(s string, ctx Context) string {
	if !strings.Contains(s, "{{") {
		return s
	}
	return placeholderPattern.ReplaceAllStringFunc(s, func(m string) string {
		key := placeholderPattern.FindStringSubmatch(m)[1]
		v, ok := ctx[key]
		if !ok || v == nil {
			return ""
		}
		return fmt.Sprint(v)
	})
}

// ResolveValue resolves placeholders in strings and returns other values
// unchanged.
func ResolveValue(v any, ctx Context) any {
	if s, ok := v.(string); ok {
		return Resolve(s, ctx)
	}
	return v
}

func stringify(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Evaluator checks condition lists. The zero value handles every operator
// except OpExpr, which needs an Engine.
type Evaluator struct {
	engine *Engine
}

// NewEvaluator creates an evaluator backed by a CEL engine.
func NewEvaluator() (*Evaluator, error) {
	engine, err := NewEngine()
	if err != nil {
		return nil, err
	}
	return &Evaluator{engine: engine}, nil
}

// Engine returns the CEL engine used for expr conditions.
func (e *Evaluator) Engine() *Engine {
	return e.engine
}

// Match reports whether every condition holds. An empty list matches.
// Evaluation stops at the first false condition.
func (e *Evaluator) Match(conditions []Condition, ctx Context) bool {
	for _, c := range conditions {
		if !e.Eval(c, ctx) {
			return false
		}
	}
	return true
}

// Eval evaluates a single condition. Unknown operators are false.
func (e *Evaluator) Eval(c Condition, ctx Context) bool {
	field := ResolveValue(c.Field, ctx)

	switch c.Operator {
	case OpEquals:
		return stringify(field) == stringify(ResolveValue(c.Value, ctx))
	case OpNotEquals:
		return stringify(field) != stringify(ResolveValue(c.Value, ctx))
	case OpContains, OpStartsWith, OpEndsWith:
		s, ok := field.(string)
		if !ok {
			return false
		}
		want := stringify(ResolveValue(c.Value, ctx))
		switch c.Operator {
		case OpContains:
			return strings.Contains(s, want)
		case OpStartsWith:
			return strings.HasPrefix(s, want)
		default:
			return strings.HasSuffix(s, want)
		}
	case OpExpr:
		return e.evalExpr(c, field, ctx)
	default:
		log.Warn().Str("operator", string(c.Operator)).Msg("Unsupported condition operator")
		return false
	}
}

func (e *Evaluator) evalExpr(c Condition, field any, ctx Context) bool {
	expr, ok := c.Value.(string)
	if !ok || e == nil || e.engine == nil {
		log.Warn().Msg("Expression condition without engine or expression")
		return false
	}
	ok, err := e.engine.Evaluate(expr, field, ctx)
	if err != nil {
		log.Warn().Err(err).Str("expr", expr).Msg("Expression condition failed")
		return false
	}
	return ok
}

// Validate checks a condition at load time. Unknown operators are reported
// as warnings since they fail closed at dispatch.
func (e *Evaluator) Validate(c Condition) (warning string, err error) {
	if !c.Operator.Known() {
		return fmt.Sprintf("unsupported operator %q always evaluates false", c.Operator), nil
	}
	if c.Operator == OpExpr {
		expr, ok := c.Value.(string)
		if !ok || expr == "" {
			return "", fmt.Errorf("%w: expr condition needs a string compareValue", ErrInvalidRuleExpr)
		}
		if e == nil || e.engine == nil {
			return "", fmt.Errorf("%w: no expression engine", ErrInvalidRuleExpr)
		}
		if _, err := e.engine.compile(expr); err != nil {
			return "", err
		}
	}
	return "", nil
}
