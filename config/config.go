package config

import (
	"os"

	"github.com/joho/godotenv"
)

type Config struct {
	PostgresDSN      string
	ChatWebhookURL   string
	UploadWebhookURL string
	ListenAddr       string
}

func Load() Config {
	// A missing .env is fine; the environment may already be populated.
	_ = godotenv.Load()

	return Config{
		PostgresDSN:      getEnv("POSTGRES_DSN", "postgres://localhost:5432/doc-chat?sslmode=disable"),
		ChatWebhookURL:   getEnv("N8N_CHAT_WEBHOOK_URL", ""),
		UploadWebhookURL: getEnv("N8N_UPLOAD_WEBHOOK_URL", ""),
		ListenAddr:       getEnv("LISTEN_ADDR", ":8080"),
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}
