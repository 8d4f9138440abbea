package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/watzon/cobble/internal/actions"
	"github.com/watzon/cobble/internal/bridge"
	"github.com/watzon/cobble/internal/config"
	"github.com/watzon/cobble/internal/database"
	"github.com/watzon/cobble/internal/metrics"
	"github.com/watzon/cobble/internal/session"
)

var (
	runSessions []string
	runNoWatch  bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the configured sessions",
	Long: `Connect every configured session through the protocol bridge and run
its hooks, shop and schedules until interrupted.

The run command will:
  - Open the SQLite database and apply migrations
  - Serve Prometheus metrics when metrics.enabled is set
  - Restart sessions when the config file or a hooks file changes

Use --session to run a subset and --no-watch to disable reloading.`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringSliceVarP(&runSessions, "session", "s", nil, "Only run these session IDs")
	runCmd.Flags().BoolVar(&runNoWatch, "no-watch", false, "Disable config reloading")

	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	db, err := database.Open(&cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case <-sigChan:
			log.Info().Msg("Shutdown signal received")
			cancel()
		case <-ctx.Done():
		}
	}()

	var current atomic.Pointer[session.Manager]
	if cfg.Metrics.Enabled {
		srv := startMetricsServer(cfg.Metrics.Addr, &current)
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	reload := make(chan struct{}, 1)
	if path := configPath(); path != "" && !runNoWatch {
		watcher, watchErr := NewConfigWatcher(watchedFiles(path, cfg), watchDebounce, func(string) {
			select {
			case reload <- struct{}{}:
			default:
			}
		})
		if watchErr != nil {
			log.Warn().Err(watchErr).Msg("Failed to set up config watcher, continuing without reload")
		} else {
			watcher.Start(ctx)
			defer func() { _ = watcher.Stop() }()
		}
	}

	for {
		sessions, err := selectSessions(cfg, runSessions)
		if err != nil {
			return err
		}
		m, err := session.NewManager(sessions, buildDeps(cfg, db))
		if err != nil {
			return err
		}
		current.Store(m)

		log.Info().Int("sessions", len(sessions)).Str("bridge", cfg.Bridge.URL).Msg("Starting sessions")

		done := make(chan error, 1)
		go func() { done <- m.Run(ctx) }()

		next, err := supervise(m, done, reload)
		if next == nil {
			return err
		}
		warnStaticChanges(cfg, next)
		cfg = next
		log.Info().Msg("Configuration reloaded, sessions restarted")
	}
}

// supervise waits for the manager to finish or for a valid reload. A nil
// config means the manager is done and err is final.
func supervise(m *session.Manager, done <-chan error, reload <-chan struct{}) (*config.Config, error) {
	for {
		select {
		case err := <-done:
			return nil, err
		case <-reload:
			next, err := config.Load(config.LoadOptions{ConfigFile: cfgFile})
			if err != nil {
				log.Error().Err(err).Msg("Reloaded configuration is invalid, keeping the running one")
				continue
			}
			m.Stop()
			if err := <-done; err != nil {
				log.Warn().Err(err).Msg("Session ended with error before reload")
			}
			return next, nil
		}
	}
}

// warnStaticChanges logs settings that only take effect on a full restart.
func warnStaticChanges(prev, next *config.Config) {
	if prev.Database != next.Database {
		log.Warn().Msg("Database settings changed; restart cobble to apply them")
	}
	if prev.Metrics != next.Metrics {
		log.Warn().Msg("Metrics settings changed; restart cobble to apply them")
	}
}

func buildDeps(cfg *config.Config, db *database.DB) session.Deps {
	return session.Deps{
		Dialer: &bridge.Dialer{
			URL:            cfg.Bridge.URL,
			DialTimeout:    cfg.Bridge.DialTimeout,
			RequestTimeout: cfg.Bridge.RequestTimeout,
			Secret:         cfg.Bridge.Secret,
		},
		Ledger:      database.NewTransitionStore(db),
		StatusStore: database.NewStatusStore(db),
		Navigation: actions.NavConfig{
			ArriveDistance: cfg.Navigation.ArriveDistance,
			PollInterval:   cfg.Navigation.PollInterval,
			Timeout:        cfg.Navigation.Timeout,
		},
		HookLimits: cfg.HookLimits,
	}
}

// selectSessions returns the sessions named in ids, or all when ids is empty.
func selectSessions(cfg *config.Config, ids []string) ([]config.SessionConfig, error) {
	if len(ids) == 0 {
		if len(cfg.Sessions) == 0 {
			return nil, errors.New("no sessions configured")
		}
		return cfg.Sessions, nil
	}
	out := make([]config.SessionConfig, 0, len(ids))
	for _, id := range ids {
		s, ok := cfg.Session(id)
		if !ok {
			return nil, fmt.Errorf("unknown session %q", id)
		}
		out = append(out, *s)
	}
	return out, nil
}

// watchedFiles lists the config file and every hooks file it references.
func watchedFiles(configFile string, cfg *config.Config) []string {
	files := []string{configFile}
	base := filepath.Dir(configFile)
	for _, s := range cfg.Sessions {
		f := s.Modules.HooksFile
		if f == "" {
			continue
		}
		if !filepath.IsAbs(f) {
			f = filepath.Join(base, f)
		}
		files = append(files, f)
	}
	return files
}

func startMetricsServer(addr string, current *atomic.Pointer[session.Manager]) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/sessions", func(w http.ResponseWriter, r *http.Request) {
		infos := []session.Info{}
		if m := current.Load(); m != nil {
			infos = m.Infos()
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(infos)
	})

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Info().Str("addr", addr).Msg("Serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Metrics server failed")
		}
	}()
	return srv
}
