package config

import (
	"time"

	"github.com/watzon/cobble/internal/hooks"
	"github.com/watzon/cobble/internal/shop"
)

// Default configuration values.
const (
	// Database defaults.
	DefaultDBPath       = "cobble.db"
	DefaultCacheSize    = -16000 // 16MB
	DefaultBusyTimeout  = 5 * time.Second
	DefaultMaxOpenConns = 1 // SQLite works best with single writer
	DefaultMaxIdleConns = 1

	// Logging defaults.
	DefaultLogLevel  = "info"
	DefaultLogFormat = "console"

	// Metrics defaults.
	DefaultMetricsAddr = "127.0.0.1:9464"

	// Bridge defaults.
	DefaultBridgeURL      = "ws://127.0.0.1:3001/session"
	DefaultDialTimeout    = 30 * time.Second
	DefaultRequestTimeout = 15 * time.Second

	// Archive defaults.
	DefaultArchiveType = "filesystem"
	DefaultArchivePath = "archive"

	// Navigation defaults.
	DefaultArriveDistance = 1.5
	DefaultPollInterval   = 250 * time.Millisecond
	DefaultNavTimeout     = 60 * time.Second

	// Session defaults.
	DefaultAuth         = "offline"
	DefaultServerPort   = 25565
	DefaultRestartDelay = 2 * time.Second
	DefaultNPCName      = "modern_server"

	// ChatGPT defaults.
	DefaultModel     = "gpt-4o-mini"
	DefaultMaxTokens = 100
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:     DefaultLogLevel,
			Format:    DefaultLogFormat,
			Timestamp: true,
		},
		Database: DatabaseConfig{
			Path:         DefaultDBPath,
			WALMode:      true,
			CacheSize:    DefaultCacheSize,
			BusyTimeout:  DefaultBusyTimeout,
			ForeignKeys:  true,
			MaxOpenConns: DefaultMaxOpenConns,
			MaxIdleConns: DefaultMaxIdleConns,
		},
		Metrics: MetricsConfig{
			Addr: DefaultMetricsAddr,
		},
		Bridge: BridgeConfig{
			URL:            DefaultBridgeURL,
			DialTimeout:    DefaultDialTimeout,
			RequestTimeout: DefaultRequestTimeout,
		},
		Archive: ArchiveConfig{
			Type: DefaultArchiveType,
			Path: DefaultArchivePath,
		},
		Navigation: NavigationConfig{
			ArriveDistance: DefaultArriveDistance,
			PollInterval:   DefaultPollInterval,
			Timeout:        DefaultNavTimeout,
		},
		HookLimits: hooks.Limits{}.WithDefaults(),
	}
}

// applySessionDefaults fills unset per-session values. Viper defaults do not
// reach into list elements, so this runs after unmarshaling.
func applySessionDefaults(cfg *Config) {
	for i := range cfg.Sessions {
		s := &cfg.Sessions[i]
		if s.ID == "" {
			s.ID = s.Username
		}
		if s.Auth == "" {
			s.Auth = DefaultAuth
		}
		if s.Server.Port == 0 {
			s.Server.Port = DefaultServerPort
		}
		if s.RestartDelay <= 0 {
			s.RestartDelay = DefaultRestartDelay
		}
		if s.Server.NPC != nil && s.Server.NPC.Name == "" {
			s.Server.NPC.Name = DefaultNPCName
		}

		shopCfg := &s.Modules.Autoshop
		if shopCfg.EscrowTimeout <= 0 {
			shopCfg.EscrowTimeout = shop.DefaultEscrowTimeout
		}
		if shopCfg.RefundCommand == "" {
			shopCfg.RefundCommand = shop.DefaultRefundCommand
		}
		if shopCfg.PlotCommand == "" {
			shopCfg.PlotCommand = shop.DefaultPlotCommand
		}
		def := shop.DefaultPaymentConfig()
		if shopCfg.Payment.Pattern == "" {
			shopCfg.Payment.Pattern = def.Pattern
		}
		if shopCfg.Payment.ThousandsSep == "" && shopCfg.Payment.DecimalSep == "" {
			shopCfg.Payment.ThousandsSep = def.ThousandsSep
			shopCfg.Payment.DecimalSep = def.DecimalSep
		}

		gpt := &s.Modules.ChatGPT
		if gpt.Model == "" {
			gpt.Model = DefaultModel
		}
		if gpt.MaxTokens <= 0 {
			gpt.MaxTokens = DefaultMaxTokens
		}
	}
}
