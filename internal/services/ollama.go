package services

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"net/url"

	"github.com/ollama/ollama/api"
)

// Ollama answers queries with a model served by an Ollama instance, streaming the answer as it is
// generated.
type Ollama struct {
	host         string
	model        string
	systemPrompt string

	client *api.Client
}

// NewOllama creates a new Ollama instance with the specified host URL and model name. The host
// parameter should be a valid URL pointing to an Ollama server; an empty host uses OLLAMA_HOST or the
// local default.
func NewOllama(host, model, systemPrompt string) (Ollama, error) {
	o := Ollama{
		host:         host,
		model:        model,
		systemPrompt: systemPrompt,
	}

	if host == "" {
		client, err := api.ClientFromEnvironment()
		if err != nil {
			return Ollama{}, fmt.Errorf("invalid ollama environment: %w", err)
		}
		o.client = client
		return o, nil
	}

	u, err := url.Parse(host)
	if err != nil {
		return Ollama{}, fmt.Errorf("invalid ollama host: %w", err)
	}
	o.client = api.NewClient(u, &http.Client{})
	return o, nil
}

// Respond streams the model's answer to query. Cancelling ctx stops the generation without an error.
func (o Ollama) Respond(ctx context.Context, query string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		t := true
		req := api.ChatRequest{
			Model: o.model,
			Messages: []api.Message{
				{Role: "system", Content: o.systemPrompt},
				{Role: "user", Content: query},
			},
			Stream: &t,
		}

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		stopped := false
		if err := o.client.Chat(ctx, &req, func(res api.ChatResponse) error {
			if stopped || res.Message.Content == "" {
				return nil
			}
			if !yield(res.Message.Content, nil) {
				stopped = true
				cancel()
			}
			return nil
		}); err != nil {
			if stopped || errors.Is(err, context.Canceled) {
				return
			}
			yield("", fmt.Errorf("error sending request: %w", err))
		}
	}
}
