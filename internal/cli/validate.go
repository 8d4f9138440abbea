package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/watzon/cobble/internal/actions"
	"github.com/watzon/cobble/internal/hooks"
	"github.com/watzon/cobble/internal/rules"
)

var validatePrint bool

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration and hooks",
	Long: `Load the configuration, apply defaults and check every section,
including each session's hook trees against the action library and the
event catalog.

Use --print to dump the effective configuration with secrets masked.`,
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().BoolVar(&validatePrint, "print", false, "Print the effective configuration")

	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	library := actions.NewLibrary()
	evaluator := &rules.Evaluator{}
	validator := hooks.NewValidator(library, evaluator, cfg.HookLimits)

	failed := false
	for _, s := range cfg.Sessions {
		warnings, err := validator.Validate(s.Modules.Hooks)
		if err != nil {
			fmt.Fprintf(out, "  ✗ %s: %v\n", s.ID, err)
			failed = true
			continue
		}
		fmt.Fprintf(out, "  ✓ %s (%d hooks, %d schedules, shop %s)\n",
			s.ID, len(s.Modules.Hooks), len(s.Schedules), onOff(s.Modules.Autoshop.Enabled))
		for _, w := range warnings {
			fmt.Fprintf(out, "    ⚠ %s\n", w)
		}
	}
	if failed {
		return fmt.Errorf("hook validation failed")
	}

	if validatePrint {
		data, err := yaml.Marshal(cfg.Redacted())
		if err != nil {
			return fmt.Errorf("encoding config: %w", err)
		}
		fmt.Fprintln(out)
		fmt.Fprint(out, string(data))
	}

	fmt.Fprintf(out, "Configuration OK: %d sessions.\n", len(cfg.Sessions))
	return nil
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
