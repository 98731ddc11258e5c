package config

import (
	"testing"
	"time"
)

func TestLoadFromEnv_Defaults(t *testing.T) {
	t.Setenv("TW_DATABASE_URL", "postgres://localhost/telework")
	t.Setenv("TW_JWT_SECRET", "secret")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv returned err: %v", err)
	}
	if cfg.ListenAddr != ":8080" {
		t.Fatalf("ListenAddr = %s", cfg.ListenAddr)
	}
	if cfg.HeartbeatMaxSeconds != 300 {
		t.Fatalf("HeartbeatMaxSeconds = %d", cfg.HeartbeatMaxSeconds)
	}
	if cfg.RateWindow != time.Minute {
		t.Fatalf("RateWindow = %v", cfg.RateWindow)
	}
	if cfg.StaleSessionMaxAge != 20*time.Hour {
		t.Fatalf("StaleSessionMaxAge = %v", cfg.StaleSessionMaxAge)
	}
}

func TestLoadFromEnv_RequiresSecrets(t *testing.T) {
	t.Setenv("TW_DATABASE_URL", "")
	t.Setenv("TW_JWT_SECRET", "secret")
	if _, err := LoadFromEnv(); err == nil {
		t.Fatal("expected error without database url")
	}

	t.Setenv("TW_DATABASE_URL", "postgres://localhost/telework")
	t.Setenv("TW_JWT_SECRET", "")
	if _, err := LoadFromEnv(); err == nil {
		t.Fatal("expected error without jwt secret")
	}
}

func TestParsePositiveIntEnv(t *testing.T) {
	t.Setenv("TW_TEST_INT", "42")
	if got := ParsePositiveIntEnv("TW_TEST_INT", 7); got != 42 {
		t.Fatalf("got %d, want 42", got)
	}
	t.Setenv("TW_TEST_INT", "-3")
	if got := ParsePositiveIntEnv("TW_TEST_INT", 7); got != 7 {
		t.Fatalf("got %d, want default 7", got)
	}
	t.Setenv("TW_TEST_INT", "nope")
	if got := ParsePositiveIntEnv("TW_TEST_INT", 7); got != 7 {
		t.Fatalf("got %d, want default 7", got)
	}
}
