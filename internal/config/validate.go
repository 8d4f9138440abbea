package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/watzon/cobble/internal/scheduler"
	"github.com/watzon/cobble/internal/shop"
	"github.com/watzon/cobble/internal/status"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("configuration validation failed:\n")
	for _, err := range e {
		sb.WriteString("  - ")
		sb.WriteString(err.Error())
		sb.WriteString("\n")
	}
	return sb.String()
}

func (e ValidationErrors) Unwrap() error {
	return ErrInvalidConfig
}

// Validate checks the configuration shape. Hook trees are validated against
// the action library and event catalog when a session is built.
func Validate(cfg *Config) error {
	var errs ValidationErrors

	errs = append(errs, validateLogging(&cfg.Logging)...)
	errs = append(errs, validateDatabase(&cfg.Database)...)
	errs = append(errs, validateMetrics(&cfg.Metrics)...)
	errs = append(errs, validateBridge(&cfg.Bridge)...)
	errs = append(errs, validateArchive(&cfg.Archive)...)
	errs = append(errs, validateNavigation(&cfg.Navigation)...)

	if cfg.HookLimits.MaxDepth < 1 {
		errs = append(errs, ValidationError{Field: "hooks_limits.max_depth", Message: "must be at least 1"})
	}
	if cfg.HookLimits.MaxNodes < 1 {
		errs = append(errs, ValidationError{Field: "hooks_limits.max_nodes", Message: "must be at least 1"})
	}

	seen := make(map[string]bool, len(cfg.Sessions))
	for i := range cfg.Sessions {
		s := &cfg.Sessions[i]
		prefix := fmt.Sprintf("sessions[%d]", i)
		if s.ID != "" {
			if seen[s.ID] {
				errs = append(errs, ValidationError{Field: prefix + ".id", Message: fmt.Sprintf("duplicate session id %q", s.ID)})
			}
			seen[s.ID] = true
		}
		errs = append(errs, validateSession(s, prefix)...)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateLogging(cfg *LoggingConfig) ValidationErrors {
	var errs ValidationErrors

	validLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLevels[cfg.Level] {
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: "must be one of: trace, debug, info, warn, error, fatal, panic",
		})
	}

	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[cfg.Format] {
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: "must be 'json' or 'console'",
		})
	}

	return errs
}

func validateDatabase(cfg *DatabaseConfig) ValidationErrors {
	var errs ValidationErrors

	if cfg.Path == "" {
		errs = append(errs, ValidationError{
			Field:   "database.path",
			Message: "required",
		})
	}
	if cfg.MaxOpenConns < 1 {
		errs = append(errs, ValidationError{
			Field:   "database.max_open_conns",
			Message: "must be at least 1",
		})
	}

	return errs
}

func validateArchive(cfg *ArchiveConfig) ValidationErrors {
	var errs ValidationErrors

	switch cfg.Type {
	case "filesystem":
		if cfg.Path == "" {
			errs = append(errs, ValidationError{Field: "archive.path", Message: "required for the filesystem archive"})
		}
	case "s3":
		if cfg.S3.Bucket == "" {
			errs = append(errs, ValidationError{Field: "archive.s3.bucket", Message: "required for the s3 archive"})
		}
		if cfg.S3.Region == "" {
			errs = append(errs, ValidationError{Field: "archive.s3.region", Message: "required for the s3 archive"})
		}
	default:
		errs = append(errs, ValidationError{Field: "archive.type", Message: "must be 'filesystem' or 's3'"})
	}

	switch cfg.Compression {
	case "", "gzip", "zstd":
	default:
		errs = append(errs, ValidationError{Field: "archive.compression", Message: "must be empty, 'gzip' or 'zstd'"})
	}

	return errs
}

func validateMetrics(cfg *MetricsConfig) ValidationErrors {
	if cfg.Enabled && cfg.Addr == "" {
		return ValidationErrors{{Field: "metrics.addr", Message: "required when metrics are enabled"}}
	}
	return nil
}

func validateBridge(cfg *BridgeConfig) ValidationErrors {
	var errs ValidationErrors

	u, err := url.Parse(cfg.URL)
	switch {
	case cfg.URL == "":
		errs = append(errs, ValidationError{Field: "bridge.url", Message: "required"})
	case err != nil:
		errs = append(errs, ValidationError{Field: "bridge.url", Message: err.Error()})
	case u.Scheme != "ws" && u.Scheme != "wss" && u.Scheme != "http" && u.Scheme != "https":
		errs = append(errs, ValidationError{Field: "bridge.url", Message: "scheme must be ws, wss, http or https"})
	}

	if cfg.RequestTimeout <= 0 {
		errs = append(errs, ValidationError{Field: "bridge.request_timeout", Message: "must be positive"})
	}

	return errs
}

func validateNavigation(cfg *NavigationConfig) ValidationErrors {
	var errs ValidationErrors

	if cfg.ArriveDistance <= 0 {
		errs = append(errs, ValidationError{Field: "navigation.arrive_distance", Message: "must be positive"})
	}
	if cfg.PollInterval <= 0 {
		errs = append(errs, ValidationError{Field: "navigation.poll_interval", Message: "must be positive"})
	}
	if cfg.Timeout < cfg.PollInterval {
		errs = append(errs, ValidationError{Field: "navigation.timeout", Message: "must not be shorter than poll_interval"})
	}

	return errs
}

func validateSession(s *SessionConfig, prefix string) ValidationErrors {
	var errs ValidationErrors

	if s.Username == "" {
		errs = append(errs, ValidationError{Field: prefix + ".username", Message: "required"})
	}
	if s.Auth != "offline" && s.Auth != "microsoft" {
		errs = append(errs, ValidationError{Field: prefix + ".auth", Message: "must be 'offline' or 'microsoft'"})
	}
	if s.Server.Host == "" {
		errs = append(errs, ValidationError{Field: prefix + ".server.host", Message: "required"})
	}
	if s.Server.Port < 1 || s.Server.Port > 65535 {
		errs = append(errs, ValidationError{Field: prefix + ".server.port", Message: "must be between 1 and 65535"})
	}

	if _, err := status.NewFilter(s.Blacklist); err != nil {
		errs = append(errs, ValidationError{Field: prefix + ".blacklist", Message: err.Error()})
	}

	names := make(map[string]bool, len(s.Schedules))
	for i, sc := range s.Schedules {
		field := fmt.Sprintf("%s.schedules[%d]", prefix, i)
		if sc.Name == "" {
			errs = append(errs, ValidationError{Field: field + ".name", Message: "required"})
		} else if names[sc.Name] {
			errs = append(errs, ValidationError{Field: field + ".name", Message: fmt.Sprintf("duplicate schedule %q", sc.Name)})
		}
		names[sc.Name] = true
		if err := scheduler.Validate(sc.Cron, sc.Timezone); err != nil {
			errs = append(errs, ValidationError{Field: field + ".cron", Message: err.Error()})
		}
	}

	errs = append(errs, validateAutoshop(&s.Modules.Autoshop, prefix+".modules.autoshop")...)

	gpt := &s.Modules.ChatGPT
	if gpt.Enabled && gpt.APIKey == "" {
		errs = append(errs, ValidationError{Field: prefix + ".modules.chatgpt.api_key", Message: "required when chatgpt is enabled"})
	}

	return errs
}

func validateAutoshop(cfg *AutoshopConfig, prefix string) ValidationErrors {
	if !cfg.Enabled {
		return nil
	}

	var errs ValidationErrors

	if len(cfg.Chests) == 0 {
		errs = append(errs, ValidationError{Field: prefix + ".chests", Message: "at least one chest is required"})
	}
	items := make(map[string]bool)
	for i, chest := range cfg.Chests {
		for j, item := range chest.Items {
			field := fmt.Sprintf("%s.chests[%d].items[%d]", prefix, i, j)
			if item.Name == "" {
				errs = append(errs, ValidationError{Field: field + ".name", Message: "required"})
				continue
			}
			if items[item.Name] {
				errs = append(errs, ValidationError{Field: field + ".name", Message: fmt.Sprintf("%q is sold from another chest", item.Name)})
			}
			items[item.Name] = true
			if item.PricePerUnit <= 0 {
				errs = append(errs, ValidationError{Field: field + ".price_per_unit", Message: "must be positive"})
			}
			if item.PricePerStack < 0 || item.StackSize < 0 {
				errs = append(errs, ValidationError{Field: field, Message: "stack price and size must not be negative"})
			}
		}
	}

	if cfg.EscrowTimeout <= 0 {
		errs = append(errs, ValidationError{Field: prefix + ".escrow_timeout", Message: "must be positive"})
	}
	if _, err := shop.NewPatternParser(cfg.Payment); err != nil {
		errs = append(errs, ValidationError{Field: prefix + ".payment", Message: err.Error()})
	}

	return errs
}
