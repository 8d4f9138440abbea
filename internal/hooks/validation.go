package hooks

import (
	"errors"
	"fmt"

	"github.com/watzon/cobble/internal/actions"
	"github.com/watzon/cobble/internal/events"
	"github.com/watzon/cobble/internal/rules"
)

var (
	ErrInvalidHook = errors.New("invalid hook")
	ErrTooDeep     = errors.New("hook tree too deep")
	ErrTooLarge    = errors.New("hook tree too large")
)

// Validator checks hook definitions before they are bound.
type Validator struct {
	library   *actions.Library
	evaluator *rules.Evaluator
	limits    Limits
}

func NewValidator(library *actions.Library, evaluator *rules.Evaluator, limits Limits) *Validator {
	return &Validator{library: library, evaluator: evaluator, limits: limits.WithDefaults()}
}

type frame struct {
	def   *Definition
	path  string
	depth int
}

// Validate checks every definition and returns non-fatal warnings. The first
// structural problem is returned as an error.
func (v *Validator) Validate(defs []Definition) ([]string, error) {
	var warnings []string
	names := make(map[string]bool, len(defs))

	for i := range defs {
		d := &defs[i]
		path := fmt.Sprintf("hooks[%d]", i)

		if d.Name == "" {
			return warnings, fmt.Errorf("%w: %s: name cannot be empty", ErrInvalidHook, path)
		}
		if names[d.Name] {
			return warnings, fmt.Errorf("%w: %s: duplicate hook name %q", ErrInvalidHook, path, d.Name)
		}
		names[d.Name] = true

		if d.Event == "" {
			return warnings, fmt.Errorf("%w: %s (%s): event cannot be empty", ErrInvalidHook, path, d.Name)
		}
		if _, err := events.Lookup(d.Event); err != nil {
			return warnings, fmt.Errorf("%w: %s (%s): %w", ErrInvalidHook, path, d.Name, err)
		}

		w, err := v.validateTree(d, path)
		warnings = append(warnings, w...)
		if err != nil {
			return warnings, err
		}
	}
	return warnings, nil
}

func (v *Validator) validateTree(root *Definition, path string) ([]string, error) {
	var warnings []string
	nodes := 0

	stack := []frame{{def: root, path: path, depth: 1}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if f.depth > v.limits.MaxDepth {
			return warnings, fmt.Errorf("%w: %s exceeds depth %d", ErrTooDeep, f.path, v.limits.MaxDepth)
		}
		if f.depth > 1 && f.def.Event != "" && f.def.Event != root.Event {
			return warnings, fmt.Errorf("%w: %s: nested hook event %q differs from %q", ErrInvalidHook, f.path, f.def.Event, root.Event)
		}

		nodes++
		if f.def.Root != nil {
			nodes++
			w, err := v.validateRule(f.def.Root, f.path+".root_action")
			warnings = append(warnings, w...)
			if err != nil {
				return warnings, err
			}
		}
		for i := range f.def.Actions {
			nodes++
			w, err := v.validateRule(&f.def.Actions[i], fmt.Sprintf("%s.actions[%d]", f.path, i))
			warnings = append(warnings, w...)
			if err != nil {
				return warnings, err
			}
		}
		if nodes > v.limits.MaxNodes {
			return warnings, fmt.Errorf("%w: %s has more than %d nodes", ErrTooLarge, path, v.limits.MaxNodes)
		}

		for i := len(f.def.Nested) - 1; i >= 0; i-- {
			stack = append(stack, frame{
				def:   &f.def.Nested[i],
				path:  fmt.Sprintf("%s.nested_hooks[%d]", f.path, i),
				depth: f.depth + 1,
			})
		}
	}
	return warnings, nil
}

func (v *Validator) validateRule(r *ActionRule, path string) ([]string, error) {
	if r.Type == "" {
		return nil, fmt.Errorf("%w: %s: action type cannot be empty", ErrInvalidHook, path)
	}
	if v.library != nil && !v.library.Has(r.Type) {
		return nil, fmt.Errorf("%w: %s: unknown action type %q", ErrInvalidHook, path, r.Type)
	}

	var warnings []string
	for i, c := range r.Conditions {
		w, err := v.evaluator.Validate(c)
		if err != nil {
			return warnings, fmt.Errorf("%w: %s.conditions[%d]: %w", ErrInvalidHook, path, i, err)
		}
		if w != "" {
			warnings = append(warnings, fmt.Sprintf("%s.conditions[%d]: %s", path, i, w))
		}
	}
	return warnings, nil
}
