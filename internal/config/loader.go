package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/watzon/cobble/internal/hooks"
)

var (
	ErrConfigNotFound = errors.New("config file not found")
	ErrInvalidConfig  = errors.New("invalid configuration")
)

type LoadOptions struct {
	ConfigFile string
	EnvPrefix  string
	Defaults   *Config
}

func Load(opts LoadOptions) (*Config, error) {
	v := viper.New()

	defaults := opts.Defaults
	if defaults == nil {
		defaults = Default()
	}
	setViperDefaults(v, defaults)

	if opts.EnvPrefix == "" {
		opts.EnvPrefix = "COBBLE"
	}
	v.SetEnvPrefix(opts.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
	} else {
		v.SetConfigName("cobble")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/cobble")
		v.AddConfigPath("/etc/cobble")
	}

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	expandEnvInConfig(v)

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	applySessionDefaults(cfg)

	if err := loadHookFiles(cfg, filepath.Dir(v.ConfigFileUsed())); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func LoadFromFile(path string) (*Config, error) {
	return Load(LoadOptions{ConfigFile: path})
}

func LoadWithDefaults() (*Config, error) {
	return Load(LoadOptions{})
}

func setViperDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
	v.SetDefault("logging.caller", cfg.Logging.Caller)
	v.SetDefault("logging.timestamp", cfg.Logging.Timestamp)

	v.SetDefault("database.path", cfg.Database.Path)
	v.SetDefault("database.wal_mode", cfg.Database.WALMode)
	v.SetDefault("database.cache_size", cfg.Database.CacheSize)
	v.SetDefault("database.busy_timeout", cfg.Database.BusyTimeout)
	v.SetDefault("database.foreign_keys", cfg.Database.ForeignKeys)
	v.SetDefault("database.max_open_conns", cfg.Database.MaxOpenConns)
	v.SetDefault("database.max_idle_conns", cfg.Database.MaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", cfg.Database.ConnMaxLifetime)

	v.SetDefault("metrics.enabled", cfg.Metrics.Enabled)
	v.SetDefault("metrics.addr", cfg.Metrics.Addr)

	v.SetDefault("bridge.url", cfg.Bridge.URL)
	v.SetDefault("bridge.dial_timeout", cfg.Bridge.DialTimeout)
	v.SetDefault("bridge.request_timeout", cfg.Bridge.RequestTimeout)
	v.SetDefault("bridge.secret", cfg.Bridge.Secret)

	v.SetDefault("archive.type", cfg.Archive.Type)
	v.SetDefault("archive.path", cfg.Archive.Path)
	v.SetDefault("archive.compression", cfg.Archive.Compression)
	v.SetDefault("archive.s3.endpoint", cfg.Archive.S3.Endpoint)
	v.SetDefault("archive.s3.region", cfg.Archive.S3.Region)
	v.SetDefault("archive.s3.bucket", cfg.Archive.S3.Bucket)
	v.SetDefault("archive.s3.access_key_id", cfg.Archive.S3.AccessKeyID)
	v.SetDefault("archive.s3.secret_access_key", cfg.Archive.S3.SecretAccessKey)
	v.SetDefault("archive.s3.force_path_style", cfg.Archive.S3.ForcePathStyle)

	v.SetDefault("navigation.arrive_distance", cfg.Navigation.ArriveDistance)
	v.SetDefault("navigation.poll_interval", cfg.Navigation.PollInterval)
	v.SetDefault("navigation.timeout", cfg.Navigation.Timeout)

	v.SetDefault("hooks_limits.max_depth", cfg.HookLimits.MaxDepth)
	v.SetDefault("hooks_limits.max_nodes", cfg.HookLimits.MaxNodes)
}

// expandEnvInConfig replaces "${VAR}" string values, including those nested
// inside session lists, with the environment value when it is set.
func expandEnvInConfig(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		val := v.Get(key)
		if expanded, changed := expandEnv(val); changed {
			v.Set(key, expanded)
		}
	}
}

func expandEnv(val any) (any, bool) {
	switch t := val.(type) {
	case string:
		if strings.HasPrefix(t, "${") && strings.HasSuffix(t, "}") {
			if envVal := os.Getenv(t[2 : len(t)-1]); envVal != "" {
				return envVal, true
			}
		}
	case []any:
		changed := false
		for i, item := range t {
			if next, ok := expandEnv(item); ok {
				t[i] = next
				changed = true
			}
		}
		return t, changed
	case map[string]any:
		changed := false
		for k, item := range t {
			if next, ok := expandEnv(item); ok {
				t[k] = next
				changed = true
			}
		}
		return t, changed
	}
	return val, false
}

// loadHookFiles appends the definitions of every session's hooks_file.
func loadHookFiles(cfg *Config, baseDir string) error {
	for i := range cfg.Sessions {
		mods := &cfg.Sessions[i].Modules
		if mods.HooksFile == "" {
			continue
		}
		path := mods.HooksFile
		if !filepath.IsAbs(path) && baseDir != "" {
			path = filepath.Join(baseDir, path)
		}
		defs, err := ReadHooksFile(path)
		if err != nil {
			return fmt.Errorf("session %s: %w", cfg.Sessions[i].ID, err)
		}
		mods.Hooks = append(mods.Hooks, defs...)
	}
	return nil
}

// ReadHooksFile parses a YAML list of hook definitions.
func ReadHooksFile(path string) ([]hooks.Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading hooks file: %w", err)
	}
	var defs []hooks.Definition
	if err := yaml.Unmarshal(data, &defs); err != nil {
		return nil, fmt.Errorf("parsing hooks file %s: %w", path, err)
	}
	return defs, nil
}

func ConfigFilePath(customPath string) (string, error) {
	if customPath != "" {
		absPath, err := filepath.Abs(customPath)
		if err != nil {
			return "", fmt.Errorf("resolving config path: %w", err)
		}
		if _, err := os.Stat(absPath); err != nil {
			return "", fmt.Errorf("config file not found: %s", absPath)
		}
		return absPath, nil
	}

	searchPaths := []string{
		"cobble.yaml",
		"cobble.yml",
		filepath.Join(os.Getenv("HOME"), ".config", "cobble", "cobble.yaml"),
		"/etc/cobble/cobble.yaml",
	}

	for _, p := range searchPaths {
		if _, err := os.Stat(p); err == nil {
			return filepath.Abs(p)
		}
	}

	return "", ErrConfigNotFound
}
