package main

import (
	"io"
	"log/slog"
	"testing"

	"github.com/skyegpt/skyegpt-web/internal/services"
	"gopkg.in/yaml.v3"
)

func TestConfigUnmarshalResponder(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		want    any
		wantErr bool
	}{
		{
			name: "no responder",
			yaml: "port: \"8000\"\n",
			want: echoConfig{},
		},
		{
			name: "echo",
			yaml: "responder:\n  provider: echo\n",
			want: echoConfig{},
		},
		{
			name: "ollama",
			yaml: "responder:\n  provider: ollama\n  model: llama3\n  host: http://localhost:11434\n",
			want: &ollamaConfig{
				BaseResponderConfig: BaseResponderConfig{Provider: "ollama", Model: "llama3"},
				Host:                "http://localhost:11434",
			},
		},
		{
			name: "anthropic",
			yaml: "responder:\n  provider: anthropic\n  model: claude\n  maxTokens: 1000\n",
			want: &anthropicConfig{
				BaseResponderConfig: BaseResponderConfig{Provider: "anthropic", Model: "claude"},
				MaxTokens:           1000,
			},
		},
		{
			name:    "unknown provider",
			yaml:    "responder:\n  provider: parrot\n",
			wantErr: true,
		},
		{
			name:    "missing provider",
			yaml:    "responder:\n  model: llama3\n",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cfg appConfig
			err := yaml.Unmarshal([]byte(tt.yaml), &cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Unmarshal() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}

			switch want := tt.want.(type) {
			case echoConfig:
				if _, ok := cfg.Responder.(echoConfig); !ok {
					t.Errorf("Responder = %T, want echoConfig", cfg.Responder)
				}
			case *ollamaConfig:
				got, ok := cfg.Responder.(*ollamaConfig)
				if !ok || *got != *want {
					t.Errorf("Responder = %+v, want %+v", cfg.Responder, want)
				}
			case *anthropicConfig:
				got, ok := cfg.Responder.(*anthropicConfig)
				if !ok || *got != *want {
					t.Errorf("Responder = %+v, want %+v", cfg.Responder, want)
				}
			}
		})
	}
}

func TestResponderValidation(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	if _, err := (anthropicConfig{BaseResponderConfig: BaseResponderConfig{Model: "claude"}}).responder("", logger); err == nil {
		t.Error("anthropic responder without maxTokens: expected error")
	}
	if _, err := (openRouterConfig{}).responder("", logger); err == nil {
		t.Error("openrouter responder without model: expected error")
	}

	r, err := echoConfig{}.responder("", logger)
	if err != nil {
		t.Fatalf("echo responder error = %v", err)
	}
	if _, ok := r.(services.Echo); !ok {
		t.Errorf("echo responder = %T, want services.Echo", r)
	}
}
