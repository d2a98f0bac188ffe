package config

import (
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variables read on top of the config file.
const (
	EnvBotToken    = "TELEGRAM_BOT_TOKEN"
	EnvCredentials = "PRESSBOT_CREDENTIALS"
	EnvLogLevel    = "LOG_LEVEL"
)

// LoadEnv loads .env files from the working directory into the process
// environment. Existing variables win over file values.
func LoadEnv(logger *slog.Logger) []string {
	var loaded []string
	for _, file := range []string{".env", ".env.local"} {
		if _, err := os.Stat(file); err != nil {
			continue
		}
		if err := godotenv.Load(file); err != nil {
			if logger != nil {
				logger.Warn("failed to load env file", "file", file, "err", err)
			}
			continue
		}
		loaded = append(loaded, file)
	}
	if logger != nil && len(loaded) > 0 {
		logger.Debug("loaded env files", "files", strings.Join(loaded, ", "))
	}
	return loaded
}

// ApplyEnv overrides config values with their environment counterparts.
func ApplyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv(EnvBotToken)); v != "" {
		cfg.Telegram.Token = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvCredentials)); v != "" {
		cfg.Credentials.Path = v
	}
	if v := strings.ToLower(strings.TrimSpace(os.Getenv(EnvLogLevel))); v != "" {
		cfg.General.LogLevel = v
	}
}
