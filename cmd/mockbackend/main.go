package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/skyegpt/skyegpt-web/internal/config"
	"github.com/skyegpt/skyegpt-web/internal/mockbackend"
	"github.com/skyegpt/skyegpt-web/internal/services"
	"gopkg.in/yaml.v3"
)

func main() {
	cfgPath := flag.String("config", "", "path of the YAML config file")
	flag.Parse()

	if err := config.LoadEnv(".env"); err != nil {
		log.Fatal(err)
	}

	cfgDir, err := os.UserConfigDir()
	if err != nil {
		log.Fatal(fmt.Errorf("error getting user config dir: %w", err))
	}
	dataPath := filepath.Join(cfgDir, "skyegpt")
	if err := os.MkdirAll(dataPath, 0755); err != nil {
		log.Fatal(fmt.Errorf("error creating config directory: %w", err))
	}

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		log.Fatal(err)
	}
	if cfg.Port == "" {
		cfg.Port = "8000"
	}
	if cfg.StorePath == "" {
		cfg.StorePath = filepath.Join(dataPath, "mockbackend.db")
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = defaultSystemPrompt
	}

	var level slog.Level
	if cfg.LogLevel != "" {
		if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
			log.Fatal(fmt.Errorf("invalid log level: %w", err))
		}
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	responder, err := cfg.Responder.responder(cfg.SystemPrompt, logger)
	if err != nil {
		panic(err)
	}

	boltDB, err := services.NewBoltDB(cfg.StorePath)
	if err != nil {
		panic(err)
	}
	defer boltDB.Close()

	opts := []mockbackend.Option{
		mockbackend.WithTokensPerSecond(cfg.TokensPerSecond),
		mockbackend.WithLogger(logger),
	}
	if cfg.LoadingTexts != nil {
		opts = append(opts, mockbackend.WithLoadingTexts(cfg.LoadingTexts))
	}
	backend := mockbackend.New(responder, boltDB, opts...)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           backend.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serverErrors := make(chan error, 1)

	go func() {
		log.Println("Mock backend starting on :" + cfg.Port)
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Printf("Server error: %v", err)
		}

	case sig := <-shutdown:
		log.Printf("Start shutdown, signal: %v", sig)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("Graceful shutdown failed: %v", err)
			if err := srv.Close(); err != nil {
				log.Printf("Forcing server close: %v", err)
			}
		}
	}
}

// loadConfig reads the YAML file at path. Without a path, the default config file is used when present
// and the echo responder otherwise.
func loadConfig(path string) (appConfig, error) {
	if path == "" {
		cfgDir, err := os.UserConfigDir()
		if err != nil {
			return appConfig{}, fmt.Errorf("error getting user config dir: %w", err)
		}
		path = filepath.Join(cfgDir, "skyegpt", "mockbackend.yaml")
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return appConfig{Responder: echoConfig{}}, nil
		}
	}

	cfgFile, err := os.Open(path)
	if err != nil {
		return appConfig{}, fmt.Errorf("error opening config file: %w", err)
	}
	defer cfgFile.Close()

	cfg := appConfig{}
	if err := yaml.NewDecoder(cfgFile).Decode(&cfg); err != nil {
		return appConfig{}, fmt.Errorf("error decoding config file: %w", err)
	}
	return cfg, nil
}
