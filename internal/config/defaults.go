package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel:              "info",
			MaxConcurrentCommands: 8,
		},
		Telegram: TelegramConfig{
			PollTimeoutSeconds: 30,
		},
		Credentials: CredentialsConfig{
			Path: "credentials.json",
		},
		HTTP: HTTPConfig{
			TimeoutSeconds:         30,
			DownloadTimeoutSeconds: 60,
		},
		Audit: AuditConfig{
			Enabled: false,
			DBPath:  "~/.pressbot/audit.db",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Host:    "127.0.0.1",
			Port:    9464,
		},
	}
}
