package config

import (
	"os"
	"strconv"
)

type Config struct {
	Port              int
	NatsURL           string
	NatsToken         string
	DatabaseURL       string
	LogLevel          string
	APIToken          string
	ConfidenceVersion int
	SlackBotToken     string
	SlackChannel      string
}

func Load() Config {
	return Config{
		Port:              envInt("CALIBRE_PORT", 8760),
		NatsURL:           envStr("NATS_URL", "nats://hermes:4222"),
		NatsToken:         envStr("NATS_TOKEN", ""),
		DatabaseURL:       envStr("DATABASE_URL", ""),
		LogLevel:          envStr("LOG_LEVEL", "info"),
		APIToken:          envStr("CALIBRE_API_TOKEN", ""),
		ConfidenceVersion: envInt("CONFIDENCE_VERSION", 1),
		SlackBotToken:     envStr("SLACK_BOT_TOKEN", ""),
		SlackChannel:      envStr("SLACK_CHANNEL", ""),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
