package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/watzon/cobble/internal/database"
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Database utilities",
	Long: `Database utilities for Cobble.

Opening the database applies pending migrations, so any db command also
brings the schema up to date.

Examples:
  cobble db status    Show applied migrations and record counts`,
}

var dbStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show migrations and record counts",
	RunE:  runDBStatus,
}

func init() {
	dbCmd.AddCommand(dbStatusCmd)

	rootCmd.AddCommand(dbCmd)
}

func runDBStatus(cmd *cobra.Command, args []string) error {
	cfg, db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Database: %s\n", cfg.Database.Path)
	if err := db.Check(cmd.Context()); err != nil {
		return err
	}
	fmt.Fprintln(out, "Ledger schema: ok")
	fmt.Fprintln(out)

	applied, err := db.Migrations(cmd.Context())
	if err != nil {
		return fmt.Errorf("getting applied migrations: %w", err)
	}
	fmt.Fprintln(out, "Applied migrations:")
	for _, m := range applied {
		fmt.Fprintf(out, "  ✓ %s (applied %s)\n", m.ID, m.AppliedAt.Format("2006-01-02 15:04:05"))
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "Status records:")
	store := database.NewStatusStore(db)
	for _, id := range sessionIDs(cfg, nil) {
		n, err := store.Count(cmd.Context(), id)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "  %s: %d\n", id, n)
	}
	return nil
}
