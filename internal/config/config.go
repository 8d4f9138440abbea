// Package config provides configuration management for Cobble.
package config

import (
	"strconv"
	"time"

	"github.com/watzon/cobble/internal/hooks"
	"github.com/watzon/cobble/internal/shop"
)

// Config is the root configuration structure for Cobble.
type Config struct {
	Logging    LoggingConfig    `mapstructure:"logging" yaml:"logging"`
	Database   DatabaseConfig   `mapstructure:"database" yaml:"database"`
	Metrics    MetricsConfig    `mapstructure:"metrics" yaml:"metrics"`
	Bridge     BridgeConfig     `mapstructure:"bridge" yaml:"bridge"`
	Archive    ArchiveConfig    `mapstructure:"archive" yaml:"archive"`
	Navigation NavigationConfig `mapstructure:"navigation" yaml:"navigation"`
	HookLimits hooks.Limits     `mapstructure:"hooks_limits" yaml:"hooks_limits"`
	Sessions   []SessionConfig  `mapstructure:"sessions" yaml:"sessions"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Log level (trace, debug, info, warn, error)
	Level string `mapstructure:"level" yaml:"level"`

	// Log format (json, console)
	Format string `mapstructure:"format" yaml:"format"`

	// Include caller info
	Caller bool `mapstructure:"caller" yaml:"caller"`

	// Include timestamp
	Timestamp bool `mapstructure:"timestamp" yaml:"timestamp"`
}

// DatabaseConfig holds database settings.
type DatabaseConfig struct {
	// Path to SQLite database file
	Path string `mapstructure:"path" yaml:"path"`

	// Enable WAL mode (recommended)
	WALMode bool `mapstructure:"wal_mode" yaml:"wal_mode"`

	// Cache size in KB (negative for KB, positive for pages)
	CacheSize int `mapstructure:"cache_size" yaml:"cache_size"`

	// Busy timeout
	BusyTimeout time.Duration `mapstructure:"busy_timeout" yaml:"busy_timeout"`

	// Enable foreign keys
	ForeignKeys bool `mapstructure:"foreign_keys" yaml:"foreign_keys"`

	MaxOpenConns    int           `mapstructure:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" yaml:"conn_max_lifetime"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr    string `mapstructure:"addr" yaml:"addr"`
}

// BridgeConfig points at the protocol bridge that drives the avatars.
type BridgeConfig struct {
	URL            string        `mapstructure:"url" yaml:"url"`
	DialTimeout    time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	// Secret signs a short-lived bearer token sent when dialing. Empty
	// disables authentication.
	Secret string `mapstructure:"secret" yaml:"secret,omitempty"`
}

// ArchiveConfig selects where exported status logs are stored.
type ArchiveConfig struct {
	// Type is "filesystem" or "s3".
	Type string `mapstructure:"type" yaml:"type"`
	// Path is the archive root for the filesystem backend.
	Path string `mapstructure:"path" yaml:"path,omitempty"`
	// Compression is "", "gzip" or "zstd".
	Compression string   `mapstructure:"compression" yaml:"compression,omitempty"`
	S3          S3Config `mapstructure:"s3" yaml:"s3,omitempty"`
}

// S3Config holds S3-compatible object storage settings.
type S3Config struct {
	Endpoint        string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
	Region          string `mapstructure:"region" yaml:"region"`
	Bucket          string `mapstructure:"bucket" yaml:"bucket"`
	AccessKeyID     string `mapstructure:"access_key_id" yaml:"access_key_id,omitempty"`
	SecretAccessKey string `mapstructure:"secret_access_key" yaml:"secret_access_key,omitempty"`
	ForcePathStyle  bool   `mapstructure:"force_path_style" yaml:"force_path_style"`
}

// NavigationConfig bounds how long the avatar waits to reach a goal.
type NavigationConfig struct {
	ArriveDistance float64       `mapstructure:"arrive_distance" yaml:"arrive_distance"`
	PollInterval   time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	Timeout        time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// SessionConfig describes one avatar.
type SessionConfig struct {
	ID       string `mapstructure:"id" yaml:"id"`
	Username string `mapstructure:"username" yaml:"username"`

	// Auth is the account type passed to the bridge (offline, microsoft).
	Auth    string   `mapstructure:"auth" yaml:"auth"`
	Version string   `mapstructure:"version" yaml:"version,omitempty"`
	Proxies []string `mapstructure:"proxies" yaml:"proxies,omitempty"`

	Server ServerConfig `mapstructure:"server" yaml:"server"`

	Autorestart  bool          `mapstructure:"autorestart" yaml:"autorestart"`
	RestartDelay time.Duration `mapstructure:"restart_delay" yaml:"restart_delay"`

	// Blacklist holds glob patterns of status lines to drop.
	Blacklist []string         `mapstructure:"blacklist" yaml:"blacklist,omitempty"`
	Schedules []ScheduleConfig `mapstructure:"schedules" yaml:"schedules,omitempty"`
	Modules   ModulesConfig    `mapstructure:"modules" yaml:"modules"`
}

// ServerConfig is the game server an avatar joins.
type ServerConfig struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port int    `mapstructure:"port" yaml:"port"`

	// NPC, when set, is walked to and struck after every spawn. Some
	// networks route players to a sub-server through such an NPC.
	NPC *NPCConfig `mapstructure:"npc" yaml:"npc,omitempty"`
}

// Address returns the server address in host:port format.
func (s *ServerConfig) Address() string {
	return s.Host + ":" + strconv.Itoa(s.Port)
}

// NPCConfig locates a server-selector NPC.
type NPCConfig struct {
	Name string  `mapstructure:"name" yaml:"name"`
	X    float64 `mapstructure:"x" yaml:"x"`
	Y    float64 `mapstructure:"y" yaml:"y"`
	Z    float64 `mapstructure:"z" yaml:"z"`
}

// ScheduleConfig publishes the event "schedule:<name>" on a cron spec or a
// plain interval such as "10m".
type ScheduleConfig struct {
	Name     string `mapstructure:"name" yaml:"name"`
	Cron     string `mapstructure:"cron" yaml:"cron"`
	Timezone string `mapstructure:"timezone" yaml:"timezone,omitempty"`
}

// ModulesConfig toggles the behaviors of a session.
type ModulesConfig struct {
	Hooks []hooks.Definition `mapstructure:"hooks" yaml:"hooks,omitempty"`
	// HooksFile names a YAML file of additional hook definitions, resolved
	// relative to the config file.
	HooksFile string           `mapstructure:"hooks_file" yaml:"hooks_file,omitempty"`
	Autoshop AutoshopConfig     `mapstructure:"autoshop" yaml:"autoshop"`
	ChatGPT  ChatGPTConfig      `mapstructure:"chatgpt" yaml:"chatgpt"`
}

// AutoshopConfig configures the chat-driven shop.
type AutoshopConfig struct {
	Enabled       bool               `mapstructure:"enabled" yaml:"enabled"`
	Chests        []shop.ChestConfig `mapstructure:"chests" yaml:"chests,omitempty"`
	EscrowTimeout time.Duration      `mapstructure:"escrow_timeout" yaml:"escrow_timeout"`
	Payment       shop.PaymentConfig `mapstructure:"payment" yaml:"payment"`
	RefundCommand string             `mapstructure:"refund_command" yaml:"refund_command"`
	PlotCommand   string             `mapstructure:"plot_command" yaml:"plot_command"`
}

// ChatGPTConfig configures the "gpt <prompt>" command.
type ChatGPTConfig struct {
	Enabled   bool   `mapstructure:"enabled" yaml:"enabled"`
	APIKey    string `mapstructure:"api_key" yaml:"api_key,omitempty"`
	BaseURL   string `mapstructure:"base_url" yaml:"base_url,omitempty"`
	Prompt    string `mapstructure:"prompt" yaml:"prompt,omitempty"`
	Model     string `mapstructure:"model" yaml:"model"`
	MaxTokens int    `mapstructure:"max_tokens" yaml:"max_tokens"`
}

// Session returns the session with the given ID.
func (c *Config) Session(id string) (*SessionConfig, bool) {
	for i := range c.Sessions {
		if c.Sessions[i].ID == id {
			return &c.Sessions[i], true
		}
	}
	return nil, false
}
