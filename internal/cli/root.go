package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/watzon/cobble/internal/config"
)

// version is set at build time with -ldflags "-X".
var version = "0.1.0-dev"

var (
	cfgFile string
	verbose bool
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "cobble",
	Short: "Hook-driven avatars and chat escrow for multiplayer game servers",
	Long: `Cobble runs automated avatars inside multiplayer game sessions.

  - Hooks bind session events to conditioned, scripted actions
  - A chat-driven shop sells chest stock for in-game currency with escrow
  - Cron schedules publish named events onto each session
  - Status logs and transactions are kept in SQLite

Start every configured session:
  cobble run

Check a configuration file:
  cobble validate --config cobble.yaml`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging(config.Default().Logging)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), Version())
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./cobble.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")

	rootCmd.AddCommand(versionCmd)
}

// loadConfig reads and validates the configuration, then applies its
// logging settings.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(config.LoadOptions{ConfigFile: cfgFile})
	if err != nil {
		return nil, err
	}
	setupLogging(cfg.Logging)
	if path := configPath(); path != "" {
		log.Debug().Str("file", path).Msg("Using config file")
	}
	return cfg, nil
}

func configPath() string {
	path, err := config.ConfigFilePath(cfgFile)
	if err != nil {
		return ""
	}
	return path
}

// setupLogging configures zerolog from the logging section. --verbose
// forces debug level.
func setupLogging(cfg config.LoggingConfig) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	if verbose {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	var logger zerolog.Logger
	if cfg.Format == "json" {
		logger = zerolog.New(os.Stderr)
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	ctx := logger.With()
	if cfg.Timestamp || cfg.Format != "json" {
		ctx = ctx.Timestamp()
	}
	if cfg.Caller {
		ctx = ctx.Caller()
	}
	log.Logger = ctx.Logger()
}

// Version returns the version string.
func Version() string {
	return fmt.Sprintf("cobble version %s", version)
}
