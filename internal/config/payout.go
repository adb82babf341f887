package config

import (
	"os"
	"strconv"
	"time"
)

type PayoutConfig struct {
	MaxAttempts      int
	WorkerCount      int
	PollInterval     time.Duration
	OperationTimeout time.Duration
	StuckThreshold   time.Duration
	DispatchQueue    string
	HouseAccountID   string
}

func LoadPayoutConfig() *PayoutConfig {
	return &PayoutConfig{
		MaxAttempts:      getEnvAsInt("PAYOUT_MAX_ATTEMPTS", 5),
		WorkerCount:      getEnvAsInt("PAYOUT_WORKER_COUNT", 2),
		PollInterval:     getEnvAsDuration("PAYOUT_POLL_INTERVAL", 5*time.Second),
		OperationTimeout: getEnvAsDuration("PAYOUT_OPERATION_TIMEOUT", 30*time.Second),
		StuckThreshold:   getEnvAsDuration("PAYOUT_STUCK_THRESHOLD", 10*time.Minute),
		DispatchQueue:    getEnv("PAYOUT_DISPATCH_QUEUE", "payout_dispatch"),
		HouseAccountID:   getEnv("PAYOUT_HOUSE_ACCOUNT", "house"),
	}
}

type WebhookConfig struct {
	SigningSecret   string
	SignatureHeader string
	NotifyQueue     string
	MaxBodyBytes    int64
}

func LoadWebhookConfig() *WebhookConfig {
	return &WebhookConfig{
		SigningSecret:   getEnv("WEBHOOK_SIGNING_SECRET", ""),
		SignatureHeader: getEnv("WEBHOOK_SIGNATURE_HEADER", "X-Payment-Signature"),
		NotifyQueue:     getEnv("WEBHOOK_NOTIFY_QUEUE", "ledger_events"),
		MaxBodyBytes:    int64(getEnvAsInt("WEBHOOK_MAX_BODY_BYTES", 1_048_576)),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			return duration
		}
	}
	return defaultVal
}
