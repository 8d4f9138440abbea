// Package hooks binds operator-defined hook trees to session events and
// runs their conditioned actions.
package hooks

import (
	"github.com/watzon/cobble/internal/actions"
	"github.com/watzon/cobble/internal/rules"
)

// ActionRule is one action gated by its conditions.
type ActionRule struct {
	Type       actions.Type      `mapstructure:"type" yaml:"type" json:"type"`
	Params     actions.Params    `mapstructure:"params" yaml:"params,omitempty" json:"params,omitempty"`
	Conditions []rules.Condition `mapstructure:"conditions" yaml:"conditions,omitempty" json:"conditions,omitempty"`
}

// Definition is a hook tree bound to one event. Nested hooks inherit the
// event of their parent.
type Definition struct {
	Name    string       `mapstructure:"name" yaml:"name" json:"name"`
	Event   string       `mapstructure:"event" yaml:"event,omitempty" json:"event,omitempty"`
	Root    *ActionRule  `mapstructure:"root_action" yaml:"root_action,omitempty" json:"root_action,omitempty"`
	Actions []ActionRule `mapstructure:"actions" yaml:"actions,omitempty" json:"actions,omitempty"`
	Nested  []Definition `mapstructure:"nested_hooks" yaml:"nested_hooks,omitempty" json:"nested_hooks,omitempty"`
}

// Limits bound the shape of a hook tree.
type Limits struct {
	// MaxDepth counts the top-level definition as depth 1.
	MaxDepth int `mapstructure:"max_depth" yaml:"max_depth" json:"max_depth"`
	// MaxNodes counts definitions plus action rules in one tree.
	MaxNodes int `mapstructure:"max_nodes" yaml:"max_nodes" json:"max_nodes"`
}

const (
	DefaultMaxDepth = 8
	DefaultMaxNodes = 256
)

// WithDefaults fills unset limits.
func (l Limits) WithDefaults() Limits {
	if l.MaxDepth <= 0 {
		l.MaxDepth = DefaultMaxDepth
	}
	if l.MaxNodes <= 0 {
		l.MaxNodes = DefaultMaxNodes
	}
	return l
}

// step is one entry of a compiled plan.
type step struct {
	rule  ActionRule
	gated bool
}

// Plan is a hook tree flattened into execution order.
type Plan struct {
	Name  string
	Event string
	steps []step
}

// Len returns the number of action steps.
func (p *Plan) Len() int { return len(p.steps) }

// compile flattens d in pre-order: the root action, the actions in
// declaration order, then each nested hook in turn.
func compile(d *Definition) *Plan {
	plan := &Plan{Name: d.Name, Event: d.Event}

	stack := []*Definition{d}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if cur.Root != nil {
			plan.steps = append(plan.steps, step{rule: *cur.Root})
		}
		for _, a := range cur.Actions {
			plan.steps = append(plan.steps, step{rule: a, gated: true})
		}
		for i := len(cur.Nested) - 1; i >= 0; i-- {
			stack = append(stack, &cur.Nested[i])
		}
	}
	return plan
}
