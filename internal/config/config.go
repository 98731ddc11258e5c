package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	ListenAddr  string
	DatabaseURL string
	JWTSecret   string

	// Per-call ceiling for client-reported elapsed time, in seconds.
	HeartbeatMaxSeconds int

	RateWindow           time.Duration
	CheckInMaxRequests   int
	HeartbeatMaxRequests int
	ForcedMaxRequests    int

	StaleSessionMaxAge    time.Duration
	NotificationRetention time.Duration
	AuditRetention        time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		ListenAddr:            envOrDefault("TW_LISTEN_ADDR", ":8080"),
		DatabaseURL:           os.Getenv("TW_DATABASE_URL"),
		JWTSecret:             os.Getenv("TW_JWT_SECRET"),
		HeartbeatMaxSeconds:   ParsePositiveIntEnv("TW_HEARTBEAT_MAX_SECONDS", 300),
		RateWindow:            time.Duration(ParsePositiveIntEnv("TW_RATE_WINDOW_SECONDS", 60)) * time.Second,
		CheckInMaxRequests:    ParsePositiveIntEnv("TW_RATE_CHECKIN_MAX", 30),
		HeartbeatMaxRequests:  ParsePositiveIntEnv("TW_RATE_HEARTBEAT_MAX", 120),
		ForcedMaxRequests:     ParsePositiveIntEnv("TW_RATE_FORCED_MAX", 10),
		StaleSessionMaxAge:    time.Duration(ParsePositiveIntEnv("TW_STALE_SESSION_MAX_HOURS", 20)) * time.Hour,
		NotificationRetention: time.Duration(ParsePositiveIntEnv("TW_NOTIFICATION_RETENTION_DAYS", 90)) * 24 * time.Hour,
		AuditRetention:        time.Duration(ParsePositiveIntEnv("TW_AUDIT_RETENTION_DAYS", 365)) * 24 * time.Hour,
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("TW_DATABASE_URL is required")
	}
	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("TW_JWT_SECRET is required")
	}
	return cfg, nil
}

func envOrDefault(k, v string) string {
	if raw := os.Getenv(k); raw != "" {
		return raw
	}
	return v
}

func ParsePositiveIntEnv(k string, d int) int {
	raw := os.Getenv(k)
	if raw == "" {
		return d
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return d
	}
	return n
}
