package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/skyegpt/skyegpt-web/internal/chat"
	"gopkg.in/yaml.v3"
)

type appConfig struct {
	Port          string         `yaml:"port"`
	LogLevel      string         `yaml:"logLevel"`
	RuntimeConfig string         `yaml:"runtimeConfig"`
	EnvFiles      []string       `yaml:"envFiles"`
	SessionTTL    time.Duration  `yaml:"sessionTTL"`
	SendInterval  time.Duration  `yaml:"sendInterval"`
	Stream        streamConfig   `yaml:"stream"`
	Feedback      feedbackConfig `yaml:"feedback"`
}

type streamConfig struct {
	IdleTimeout  time.Duration `yaml:"idleTimeout"`
	Retries      int           `yaml:"retries"`
	RetryBackoff time.Duration `yaml:"retryBackoff"`
}

type feedbackConfig struct {
	Debounce time.Duration `yaml:"debounce"`
	Timeout  time.Duration `yaml:"timeout"`
}

func defaultConfig() appConfig {
	return appConfig{
		Port:          "8080",
		LogLevel:      "info",
		RuntimeConfig: "public/skyeconfig.json",
		EnvFiles:      []string{".env", ".env.local"},
		SessionTTL:    30 * time.Minute,
		SendInterval:  500 * time.Millisecond,
		Feedback: feedbackConfig{
			Debounce: 300 * time.Millisecond,
			Timeout:  10 * time.Second,
		},
	}
}

// loadConfig reads the YAML file at path over the defaults. An empty path means
// <UserConfigDir>/skyegpt/config.yaml, which may be missing.
func loadConfig(path string) (appConfig, error) {
	cfg := defaultConfig()

	explicit := path != ""
	if !explicit {
		cfgDir, err := os.UserConfigDir()
		if err != nil {
			return appConfig{}, fmt.Errorf("error getting user config dir: %w", err)
		}
		path = filepath.Join(cfgDir, "skyegpt", "config.yaml")
	}

	cfgFile, err := os.Open(path)
	if err != nil {
		if !explicit && os.IsNotExist(err) {
			return cfg, nil
		}
		return appConfig{}, fmt.Errorf("error opening config file: %w", err)
	}
	defer cfgFile.Close()

	if err := yaml.NewDecoder(cfgFile).Decode(&cfg); err != nil {
		return appConfig{}, fmt.Errorf("error decoding config file: %w", err)
	}
	return cfg, nil
}

// retryPolicy returns the retry policy of the stream settings. A zero backoff takes the default one.
func (s streamConfig) retryPolicy() (chat.RetryPolicy, bool) {
	if s.Retries <= 0 {
		return chat.RetryPolicy{}, false
	}
	p := chat.RetryPolicy{MaxRetries: s.Retries, Backoff: s.RetryBackoff}
	if p.Backoff <= 0 {
		p.Backoff = chat.DefaultRetryPolicy.Backoff
	}
	return p, true
}

func parseLogLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return level, nil
}
