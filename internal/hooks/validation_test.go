package hooks

import (
	"errors"
	"strings"
	"testing"

	"github.com/watzon/cobble/internal/actions"
	"github.com/watzon/cobble/internal/rules"
)

func chain(depth int) Definition {
	d := Definition{Name: "leaf", Actions: []ActionRule{say("x")}}
	for i := 1; i < depth; i++ {
		d = Definition{Name: "level", Nested: []Definition{d}}
	}
	d.Name = "top"
	d.Event = "chat"
	return d
}

func TestValidator_Validate(t *testing.T) {
	eval, err := rules.NewEvaluator()
	if err != nil {
		t.Fatalf("NewEvaluator: %v", err)
	}
	v := NewValidator(actions.NewLibrary(), eval, Limits{MaxDepth: 3, MaxNodes: 10})

	many := Definition{Name: "big", Event: "chat"}
	for i := 0; i < 10; i++ {
		many.Actions = append(many.Actions, say("x"))
	}

	tests := []struct {
		name    string
		defs    []Definition
		wantErr error
	}{
		{
			name: "valid",
			defs: []Definition{{Name: "a", Event: "chat", Actions: []ActionRule{say("x")}}},
		},
		{
			name:    "missing name",
			defs:    []Definition{{Event: "chat"}},
			wantErr: ErrInvalidHook,
		},
		{
			name: "duplicate name",
			defs: []Definition{
				{Name: "a", Event: "chat"},
				{Name: "a", Event: "spawn"},
			},
			wantErr: ErrInvalidHook,
		},
		{
			name:    "unknown event",
			defs:    []Definition{{Name: "a", Event: "chatt"}},
			wantErr: ErrInvalidHook,
		},
		{
			name:    "unknown action",
			defs:    []Definition{{Name: "a", Event: "chat", Actions: []ActionRule{{Type: "teleport"}}}},
			wantErr: ErrInvalidHook,
		},
		{
			name: "nested event mismatch",
			defs: []Definition{{
				Name:   "a",
				Event:  "chat",
				Nested: []Definition{{Name: "b", Event: "spawn"}},
			}},
			wantErr: ErrInvalidHook,
		},
		{
			name: "bad expr",
			defs: []Definition{{
				Name:    "a",
				Event:   "chat",
				Actions: []ActionRule{say("x", cond("", rules.OpExpr, "ctx.username =="))},
			}},
			wantErr: ErrInvalidHook,
		},
		{
			name: "depth at limit",
			defs: []Definition{chain(3)},
		},
		{
			name:    "depth over limit",
			defs:    []Definition{chain(4)},
			wantErr: ErrTooDeep,
		},
		{
			name:    "too many nodes",
			defs:    []Definition{many},
			wantErr: ErrTooLarge,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Validate(tt.defs)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Validate() unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidator_UnknownOperatorWarns(t *testing.T) {
	v := NewValidator(actions.NewLibrary(), &rules.Evaluator{}, Limits{})
	warnings, err := v.Validate([]Definition{{
		Name:    "a",
		Event:   "chat",
		Actions: []ActionRule{say("x", cond("{{username}}", "matches", "A.*"))},
	}})
	if err != nil {
		t.Fatalf("Validate() unexpected error: %v", err)
	}
	if len(warnings) != 1 {
		t.Fatalf("expected 1 warning, got %v", warnings)
	}
	if !strings.Contains(warnings[0], "hooks[0].actions[0].conditions[0]") {
		t.Errorf("warning missing path: %q", warnings[0])
	}
}

func TestLimits_WithDefaults(t *testing.T) {
	l := Limits{}.WithDefaults()
	if l.MaxDepth != DefaultMaxDepth || l.MaxNodes != DefaultMaxNodes {
		t.Errorf("WithDefaults() = %+v", l)
	}
	l = Limits{MaxDepth: 2}.WithDefaults()
	if l.MaxDepth != 2 {
		t.Errorf("WithDefaults() overrode MaxDepth: %+v", l)
	}
}
