package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	skyegptweb "github.com/skyegpt/skyegpt-web"
	"github.com/skyegpt/skyegpt-web/internal/backend"
	"github.com/skyegpt/skyegpt-web/internal/chat"
	"github.com/skyegpt/skyegpt-web/internal/config"
	"github.com/skyegpt/skyegpt-web/internal/feedback"
	"github.com/skyegpt/skyegpt-web/internal/handlers"
	"github.com/skyegpt/skyegpt-web/internal/metrics"
)

func main() {
	cfgPath := flag.String("config", "", "path of the YAML config file")
	writeRuntime := flag.Bool("write-runtime", false,
		"write the runtime config from BACKEND_HOST and SKYEGPT_VERSION, then exit")
	flag.Parse()

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		log.Fatal(err)
	}

	if err := config.LoadEnv(cfg.EnvFiles...); err != nil {
		log.Fatal(err)
	}

	if *writeRuntime {
		if err := writeRuntimeConfig(cfg.RuntimeConfig); err != nil {
			log.Fatal(err)
		}
		log.Printf("Runtime config written to %s", cfg.RuntimeConfig)
		return
	}

	level, err := parseLogLevel(cfg.LogLevel)
	if err != nil {
		log.Fatal(err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	mtr := metrics.New(reg)

	runtime := config.NewRuntimeLoader(cfg.RuntimeConfig)
	client := backend.NewClient(runtime, nil, logger)

	chatOpts := []chat.Option{chat.WithMetrics(mtr), chat.WithIdleTimeout(cfg.Stream.IdleTimeout)}
	if p, ok := cfg.Stream.retryPolicy(); ok {
		chatOpts = append(chatOpts, chat.WithRetry(p))
	}

	m, err := handlers.NewMain(client, handlers.Config{
		ChatOptions: chatOpts,
		FeedbackOptions: []feedback.Option{
			feedback.WithDebounce(cfg.Feedback.Debounce),
			feedback.WithTimeout(cfg.Feedback.Timeout),
			feedback.WithMetrics(mtr),
		},
		SessionTTL:   cfg.SessionTTL,
		SendInterval: cfg.SendInterval,
		Runtime:      runtime,
		Metrics:      mtr,
	}, logger)
	if err != nil {
		panic(err)
	}

	// Serve static files
	staticFS, err := fs.Sub(skyegptweb.StaticFS, "static")
	if err != nil {
		panic(err)
	}
	fileServer := http.FileServer(http.FS(staticFS))

	// Create custom mux
	mux := http.NewServeMux()
	mux.Handle("GET /static/", http.StripPrefix("/static/", fileServer))
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /{$}", m.HandleHome)
	mux.HandleFunc("GET /sse", m.HandleSSE)
	mux.HandleFunc("POST /chats", m.HandleChats)
	mux.HandleFunc("POST /stop", m.HandleStop)
	mux.HandleFunc("POST /rating", m.HandleRating)
	mux.HandleFunc("POST /feedback/open", m.HandleFeedbackOpen)
	mux.HandleFunc("POST /feedback", m.HandleFeedbackSubmit)
	mux.HandleFunc("POST /feedback/close", m.HandleFeedbackClose)
	mux.HandleFunc("POST /feedback/confirmation/close", m.HandleConfirmationClose)

	// Create custom server
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	srv.RegisterOnShutdown(func() {
		if err := m.Shutdown(context.Background()); err != nil {
			log.Printf("Failed to shutdown sse server: %v", err)
		}
	})

	// Channel to listen for errors coming from the listener
	serverErrors := make(chan error, 1)

	// Start server in goroutine
	go func() {
		log.Println("Server starting on :" + cfg.Port)
		serverErrors <- srv.ListenAndServe()
	}()

	// Channel to listen for interrupt/terminate signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Blocking select waiting for either interrupt or server error
	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Printf("Server error: %v", err)
		}

	case sig := <-shutdown:
		log.Printf("Start shutdown, signal: %v", sig)

		// Create context with timeout for shutdown
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		// Gracefully shutdown the server
		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("Graceful shutdown failed: %v", err)
			if err := srv.Close(); err != nil {
				log.Printf("Forcing server close: %v", err)
			}
		}
	}
}

// writeRuntimeConfig generates the runtime file from the environment, the way the page's build step
// does before serving.
func writeRuntimeConfig(path string) error {
	host := os.Getenv(config.EnvBackendHost)
	if host == "" {
		return fmt.Errorf("%s is not set", config.EnvBackendHost)
	}
	return config.WriteRuntime(path, config.Runtime{
		BackendHost: host,
		Version:     os.Getenv(config.EnvVersion),
	})
}
