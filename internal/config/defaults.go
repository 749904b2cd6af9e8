package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel:  "info",
			LogFormat: "text",
		},
		Webhook: WebhookConfig{
			URL:              "http://localhost:5678/webhook/input",
			TimeoutSeconds:   60,
			MaxResponseBytes: 4 << 20,
			Burst:            5,
		},
		Channels: ChannelsConfig{
			Web: WebConfig{
				Enabled:            true,
				Host:               "127.0.0.1",
				Port:               8080,
				MaxUploadBytes:     5 << 20,
				RateLimitPerMinute: 30,
				RateLimitBurst:     5,
			},
			Telegram: TelegramConfig{
				Enabled: false,
			},
			CLI: CLIConfig{
				Enabled: true,
			},
		},
		History: HistoryConfig{
			Size:              10,
			PageSize:          5,
			Persist:           false,
			DBPath:            "~/.hookchat/exchanges.db",
			SessionTTLMinutes: 24 * 60,
		},
		Insights: InsightsConfig{
			DelayMillis:    1500,
			MaxSuggestions: 3,
		},
		Metrics: MetricsConfig{
			Enabled:  false,
			Endpoint: "/metrics",
		},
	}
}
