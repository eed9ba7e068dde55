package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Runtime is the configuration the chat client consumes at runtime. It is generated as a static JSON
// file next to the other public assets.
type Runtime struct {
	BackendHost string `json:"backendHost"`
	Version     string `json:"version"`
}

// Environment variables overriding the runtime file.
const (
	EnvBackendHost = "BACKEND_HOST"
	EnvVersion     = "SKYEGPT_VERSION"
)

// ErrMissingBackendHost is returned when neither the runtime file nor the environment name a backend.
var ErrMissingBackendHost = errors.New("backendHost is missing in runtime config")

// RuntimeLoader loads the runtime config on first use and caches it. Concurrent first callers share a
// single read of the file. Failed loads are not cached, so a later call retries.
type RuntimeLoader struct {
	path string

	group singleflight.Group

	mu     sync.RWMutex
	cached *Runtime

	// readFile is swapped in tests to count reads.
	readFile func(string) ([]byte, error)
}

// NewRuntimeLoader creates a loader reading the JSON file at path.
func NewRuntimeLoader(path string) *RuntimeLoader {
	return &RuntimeLoader{
		path:     path,
		readFile: os.ReadFile,
	}
}

// NewStaticRuntimeLoader creates a loader that always returns rt without touching the filesystem.
func NewStaticRuntimeLoader(rt Runtime) *RuntimeLoader {
	return &RuntimeLoader{cached: &rt}
}

// Load returns the runtime config, reading it if it was not loaded yet.
func (l *RuntimeLoader) Load(ctx context.Context) (Runtime, error) {
	l.mu.RLock()
	cached := l.cached
	l.mu.RUnlock()
	if cached != nil {
		return *cached, nil
	}

	ch := l.group.DoChan("runtime", func() (any, error) {
		l.mu.RLock()
		cached := l.cached
		l.mu.RUnlock()
		if cached != nil {
			return *cached, nil
		}

		rt, err := l.read()
		if err != nil {
			return Runtime{}, err
		}

		l.mu.Lock()
		l.cached = &rt
		l.mu.Unlock()

		return rt, nil
	})

	select {
	case <-ctx.Done():
		return Runtime{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Runtime{}, res.Err
		}
		return res.Val.(Runtime), nil
	}
}

// BackendHost returns the base URL of the backend collaborator.
func (l *RuntimeLoader) BackendHost(ctx context.Context) (string, error) {
	rt, err := l.Load(ctx)
	if err != nil {
		return "", err
	}
	return rt.BackendHost, nil
}

func (l *RuntimeLoader) read() (Runtime, error) {
	var rt Runtime

	data, err := l.readFile(l.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// The environment alone may still provide everything.
	case err != nil:
		return Runtime{}, fmt.Errorf("failed to read runtime config: %w", err)
	default:
		if err := json.Unmarshal(data, &rt); err != nil {
			return Runtime{}, fmt.Errorf("failed to decode runtime config %s: %w", l.path, err)
		}
	}

	if v := os.Getenv(EnvBackendHost); v != "" {
		rt.BackendHost = v
	}
	if v := os.Getenv(EnvVersion); v != "" {
		rt.Version = v
	}

	if rt.BackendHost == "" {
		return Runtime{}, ErrMissingBackendHost
	}
	return rt, nil
}

// WriteRuntime writes rt to path as indented JSON, keeping unknown fields already present in the file.
func WriteRuntime(path string, rt Runtime) error {
	fields := map[string]any{}
	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(data, &fields); err != nil {
			// An invalid existing file is replaced.
			fields = map[string]any{}
		}
	}
	fields["backendHost"] = rt.BackendHost
	if rt.Version != "" {
		fields["version"] = rt.Version
	}

	data, err := json.MarshalIndent(fields, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode runtime config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write runtime config: %w", err)
	}
	return nil
}
