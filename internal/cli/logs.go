package cli

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/watzon/cobble/internal/archive"
	"github.com/watzon/cobble/internal/config"
	"github.com/watzon/cobble/internal/database"
	"github.com/watzon/cobble/internal/status"
)

var (
	logsSessions []string
	logsSince    time.Duration
	logsLimit    int
	logsOutput   string
	logsOlder    time.Duration
	logsPrune    bool
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Inspect stored status logs",
	Long: `Inspect the status records sessions have written to the database.

Examples:
  cobble logs show -s shop --limit 50     Print the latest records
  cobble logs export -o status.html       Export every session as HTML
  cobble logs prune --older-than 720h     Delete records older than 30 days
  cobble logs archive --prune             Archive every session, then prune
  cobble logs fetch status/shop/20260314T150926Z.html.zst -o status.html`,
}

var logsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print status records",
	RunE:  runLogsShow,
}

var logsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export status records as HTML",
	Long: `Write the status records of the selected sessions to a standalone,
sanitized HTML page. Without --output the page goes to stdout.`,
	RunE: runLogsExport,
}

var logsPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete old status records",
	RunE:  runLogsPrune,
}

var logsArchiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Store an HTML export in the configured archive",
	Long: `Render the selected sessions as HTML and store the page in the archive
configured under "archive" (filesystem or S3, optionally compressed). With
--prune, records older than --older-than are deleted once the archive is
stored.`,
	RunE: runLogsArchive,
}

var logsFetchCmd = &cobra.Command{
	Use:   "fetch <key>",
	Short: "Read an archived export back",
	Args:  cobra.ExactArgs(1),
	RunE:  runLogsFetch,
}

func init() {
	for _, c := range []*cobra.Command{logsShowCmd, logsExportCmd, logsArchiveCmd} {
		c.Flags().StringSliceVarP(&logsSessions, "session", "s", nil, "Session IDs (default: all configured)")
		c.Flags().DurationVar(&logsSince, "since", 0, "Only records newer than this")
		c.Flags().IntVar(&logsLimit, "limit", 0, "Newest records per session (0 for all)")
	}
	logsExportCmd.Flags().StringVarP(&logsOutput, "output", "o", "", "Output file")
	logsFetchCmd.Flags().StringVarP(&logsOutput, "output", "o", "", "Output file")
	for _, c := range []*cobra.Command{logsPruneCmd, logsArchiveCmd} {
		c.Flags().DurationVar(&logsOlder, "older-than", 30*24*time.Hour, "Delete records older than this")
	}
	logsArchiveCmd.Flags().BoolVar(&logsPrune, "prune", false, "Prune old records after archiving")

	logsCmd.AddCommand(logsShowCmd)
	logsCmd.AddCommand(logsExportCmd)
	logsCmd.AddCommand(logsPruneCmd)
	logsCmd.AddCommand(logsArchiveCmd)
	logsCmd.AddCommand(logsFetchCmd)

	rootCmd.AddCommand(logsCmd)
}

// openStore loads the config and opens its database.
func openStore() (*config.Config, *database.DB, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	db, err := database.Open(&cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}
	return cfg, db, nil
}

func sessionIDs(cfg *config.Config, ids []string) []string {
	if len(ids) > 0 {
		return ids
	}
	out := make([]string, 0, len(cfg.Sessions))
	for _, s := range cfg.Sessions {
		out = append(out, s.ID)
	}
	return out
}

func loadSessionLogs(cmd *cobra.Command, cfg *config.Config, db *database.DB) ([]status.SessionLog, error) {
	store := database.NewStatusStore(db)
	var since time.Time
	if logsSince > 0 {
		since = time.Now().Add(-logsSince)
	}

	var out []status.SessionLog
	for _, id := range sessionIDs(cfg, logsSessions) {
		records, err := store.List(cmd.Context(), database.StatusQuery{SessionID: id, Since: since, Limit: logsLimit})
		if err != nil {
			return nil, err
		}
		out = append(out, status.SessionLog{SessionID: id, State: "stored", Records: records})
	}
	return out, nil
}

func runLogsShow(cmd *cobra.Command, args []string) error {
	cfg, db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	logs, err := loadSessionLogs(cmd, cfg, db)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, l := range logs {
		fmt.Fprintf(out, "--- %s (%d records) ---\n", l.SessionID, len(l.Records))
		for _, r := range l.Records {
			fmt.Fprintf(out, "%s  %s\n", r.Timestamp.Local().Format("2006-01-02 15:04:05"), r.Text)
		}
	}
	return nil
}

func runLogsExport(cmd *cobra.Command, args []string) error {
	cfg, db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	logs, err := loadSessionLogs(cmd, cfg, db)
	if err != nil {
		return err
	}

	var w io.Writer = cmd.OutOrStdout()
	if logsOutput != "" {
		f, err := os.Create(logsOutput)
		if err != nil {
			return fmt.Errorf("creating %s: %w", logsOutput, err)
		}
		defer f.Close()
		w = f
	}
	if err := status.ExportHTML(w, logs); err != nil {
		return err
	}
	if logsOutput != "" {
		log.Info().Str("file", logsOutput).Int("sessions", len(logs)).Msg("Status log exported")
	}
	return nil
}

func runLogsPrune(cmd *cobra.Command, args []string) error {
	_, db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	n, err := database.NewStatusStore(db).Prune(cmd.Context(), time.Now().Add(-logsOlder))
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d status records.\n", n)
	return nil
}

func runLogsArchive(cmd *cobra.Command, args []string) error {
	cfg, db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := cmd.Context()
	backend, err := archive.Open(ctx, cfg.Archive)
	if err != nil {
		return err
	}

	logs, err := loadSessionLogs(cmd, cfg, db)
	if err != nil {
		return err
	}
	var page bytes.Buffer
	if err := status.ExportHTML(&page, logs); err != nil {
		return err
	}

	key := archive.Key(sessionIDs(cfg, logsSessions), time.Now(), cfg.Archive.Compression)
	if err := backend.Put(ctx, key, &page); err != nil {
		return fmt.Errorf("storing archive %s: %w", key, err)
	}
	log.Info().Str("key", key).Str("backend", cfg.Archive.Type).Int("sessions", len(logs)).Msg("Status log archived")
	fmt.Fprintf(cmd.OutOrStdout(), "Archived to %s\n", key)

	if !logsPrune {
		return nil
	}
	n, err := database.NewStatusStore(db).Prune(ctx, time.Now().Add(-logsOlder))
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d status records.\n", n)
	return nil
}

func runLogsFetch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	backend, err := archive.Open(ctx, cfg.Archive)
	if err != nil {
		return err
	}

	rc, err := backend.Get(ctx, args[0])
	if err != nil {
		return fmt.Errorf("fetching %s: %w", args[0], err)
	}
	defer rc.Close()

	var w io.Writer = cmd.OutOrStdout()
	if logsOutput != "" {
		f, err := os.Create(logsOutput)
		if err != nil {
			return fmt.Errorf("creating %s: %w", logsOutput, err)
		}
		defer f.Close()
		w = f
	}
	if _, err := io.Copy(w, rc); err != nil {
		return fmt.Errorf("reading archive: %w", err)
	}
	return nil
}
