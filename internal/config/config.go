package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Config is the root configuration for pressbot.
type Config struct {
	General     GeneralConfig     `json:"general"`
	Telegram    TelegramConfig    `json:"telegram"`
	Credentials CredentialsConfig `json:"credentials"`
	HTTP        HTTPConfig        `json:"http"`
	Audit       AuditConfig       `json:"audit"`
	Metrics     MetricsConfig     `json:"metrics"`
}

type GeneralConfig struct {
	LogLevel              string `json:"logLevel"`              // debug | info | warn | error
	TempDir               string `json:"tempDir,omitempty"`     // where downloaded attachments are staged (default: os.TempDir())
	MaxConcurrentCommands int    `json:"maxConcurrentCommands"` // commands handled in parallel
}

type TelegramConfig struct {
	Token              string         `json:"token,omitempty"`
	AllowFrom          FlexStringList `json:"allowFrom,omitempty"`
	PollTimeoutSeconds int            `json:"pollTimeoutSeconds"`
}

// FlexStringList is a []string that can unmarshal from JSON arrays containing
// both strings and numbers (e.g. ["123", 456] both become "123", "456").
type FlexStringList []string

func (f *FlexStringList) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			result = append(result, s)
			continue
		}
		var n float64
		if err := json.Unmarshal(item, &n); err == nil {
			result = append(result, strconv.FormatInt(int64(n), 10))
			continue
		}
		result = append(result, string(item))
	}
	*f = result
	return nil
}

type CredentialsConfig struct {
	Path string `json:"path"` // JSON or YAML site credential table
}

type HTTPConfig struct {
	TimeoutSeconds         int `json:"timeoutSeconds"`         // per WordPress call
	DownloadTimeoutSeconds int `json:"downloadTimeoutSeconds"` // per Telegram attachment download
}

// Timeout returns the WordPress call timeout.
func (h HTTPConfig) Timeout() time.Duration {
	return time.Duration(h.TimeoutSeconds) * time.Second
}

// DownloadTimeout returns the attachment download timeout.
func (h HTTPConfig) DownloadTimeout() time.Duration {
	return time.Duration(h.DownloadTimeoutSeconds) * time.Second
}

// AuditConfig configures the optional SQLite publish log.
type AuditConfig struct {
	Enabled bool   `json:"enabled"`
	DBPath  string `json:"dbPath"`
}

// MetricsConfig configures the ops server exposing /healthz and /metrics.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Host    string `json:"host"`
	Port    int    `json:"port"`
}

// Addr returns host:port for the ops server.
func (m MetricsConfig) Addr() string {
	return fmt.Sprintf("%s:%d", m.Host, m.Port)
}

// DefaultConfigDir returns the default config directory (~/.pressbot).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".pressbot"
	}
	return filepath.Join(home, ".pressbot")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// Load reads the config file at path. A missing file at the default location
// is not an error: defaults plus environment are used instead.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		path = ExpandPath(path)
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			data = []byte(ExpandEnvVars(string(data)))
			if err := json.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
			}
		case os.IsNotExist(err) && path == DefaultConfigPath():
		default:
			return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
		}
	}

	ApplyEnv(cfg)

	cfg.General.TempDir = ExpandPath(cfg.General.TempDir)
	cfg.Credentials.Path = ExpandPath(cfg.Credentials.Path)
	cfg.Audit.DBPath = ExpandPath(cfg.Audit.DBPath)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values.
// The bot token is checked separately by RequireToken since only serve needs it.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.General.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}
	if cfg.General.MaxConcurrentCommands < 1 || cfg.General.MaxConcurrentCommands > 100 {
		errs = append(errs, "general.maxConcurrentCommands must be between 1 and 100")
	}
	if cfg.Telegram.PollTimeoutSeconds < 1 || cfg.Telegram.PollTimeoutSeconds > 300 {
		errs = append(errs, "telegram.pollTimeoutSeconds must be between 1 and 300")
	}
	for _, id := range cfg.Telegram.AllowFrom {
		if _, err := strconv.ParseInt(strings.TrimSpace(id), 10, 64); err != nil {
			errs = append(errs, fmt.Sprintf("telegram.allowFrom: %q is not a numeric user ID", id))
		}
	}
	if cfg.Credentials.Path == "" {
		errs = append(errs, "credentials.path is required")
	}
	if cfg.HTTP.TimeoutSeconds < 1 {
		errs = append(errs, "http.timeoutSeconds must be >= 1")
	}
	if cfg.HTTP.DownloadTimeoutSeconds < 1 {
		errs = append(errs, "http.downloadTimeoutSeconds must be >= 1")
	}
	if cfg.Audit.Enabled && cfg.Audit.DBPath == "" {
		errs = append(errs, "audit.dbPath is required when audit is enabled")
	}
	if cfg.Metrics.Port < 0 || cfg.Metrics.Port > 65535 {
		errs = append(errs, "metrics.port must be between 0 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// RequireToken fails when no Telegram bot token is configured.
func RequireToken(cfg *Config) error {
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return fmt.Errorf("%s environment variable is not set", EnvBotToken)
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
