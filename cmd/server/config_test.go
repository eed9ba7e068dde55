package main

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/skyegpt/skyegpt-web/internal/chat"
)

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
port: "9090"
logLevel: debug
sessionTTL: 1h
stream:
  idleTimeout: 45s
  retries: 2
feedback:
  debounce: 100ms
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}

	if cfg.Port != "9090" {
		t.Errorf("Port = %q, want %q", cfg.Port, "9090")
	}
	if cfg.SessionTTL != time.Hour {
		t.Errorf("SessionTTL = %v, want %v", cfg.SessionTTL, time.Hour)
	}
	if cfg.Stream.IdleTimeout != 45*time.Second {
		t.Errorf("Stream.IdleTimeout = %v, want %v", cfg.Stream.IdleTimeout, 45*time.Second)
	}
	if cfg.Feedback.Debounce != 100*time.Millisecond {
		t.Errorf("Feedback.Debounce = %v, want %v", cfg.Feedback.Debounce, 100*time.Millisecond)
	}
	// Unset fields keep their defaults
	if cfg.Feedback.Timeout != 10*time.Second {
		t.Errorf("Feedback.Timeout = %v, want default %v", cfg.Feedback.Timeout, 10*time.Second)
	}
	if cfg.RuntimeConfig != "public/skyeconfig.json" {
		t.Errorf("RuntimeConfig = %q, want default", cfg.RuntimeConfig)
	}

	p, ok := cfg.Stream.retryPolicy()
	if !ok {
		t.Fatal("retryPolicy() not enabled")
	}
	want := chat.RetryPolicy{MaxRetries: 2, Backoff: chat.DefaultRetryPolicy.Backoff}
	if p != want {
		t.Errorf("retryPolicy() = %+v, want %+v", p, want)
	}
}

func TestLoadConfigMissingExplicitFile(t *testing.T) {
	if _, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("loadConfig() expected error for a missing explicit file")
	}
}

func TestRetryPolicyDisabled(t *testing.T) {
	if _, ok := (streamConfig{}).retryPolicy(); ok {
		t.Error("retryPolicy() enabled without retries")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{in: "debug", want: slog.LevelDebug},
		{in: "WARN", want: slog.LevelWarn},
		{in: " error ", want: slog.LevelError},
		{in: "loud", want: slog.LevelInfo, wantErr: true},
	}

	for _, tt := range tests {
		got, err := parseLogLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseLogLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
