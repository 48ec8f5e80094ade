package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel:  "info",
			LogFormat: "text",
			EnvFile:   ".env",
		},
		Generation: GenerationConfig{
			APIBase:        "http://localhost:11434",
			Model:          "phi4-mini",
			TimeoutSeconds: 120,
		},
		Prompt: PromptConfig{
			Persona:        "Jarvis",
			SummaryWordCap: 10,
		},
		Channels: ChannelsConfig{
			Discord: DiscordConfig{
				Enabled: true,
			},
			Telegram: TelegramConfig{
				Enabled: false,
			},
		},
		Commands: CommandsConfig{
			Enabled: true,
			Prefix:  "!",
		},
		Metrics: MetricsConfig{
			Enabled:  false,
			Addr:     "127.0.0.1:9090",
			Endpoint: "/metrics",
		},
	}
}
