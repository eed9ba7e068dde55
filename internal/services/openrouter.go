package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/http"

	"github.com/tmaxmax/go-sse"
)

// OpenRouter answers queries with a model routed by OpenRouter. Its event stream is read with go-sse
// rather than an OpenAI client, since OpenRouter interleaves keep-alive comments with the chunks.
type OpenRouter struct {
	apiKey       string
	model        string
	systemPrompt string
	baseURL      string

	client *http.Client
	logger *slog.Logger
}

type routerMessage struct {
	Role    string `json:"role"`
	Content string `json:"content,omitempty"`
}

type routerRequest struct {
	Model    string          `json:"model"`
	Messages []routerMessage `json:"messages"`
	Stream   bool            `json:"stream"`
}

type routerChunk struct {
	Choices []struct {
		Delta routerMessage `json:"delta"`
	} `json:"choices"`
}

const openRouterBaseURL = "https://openrouter.ai/api/v1"

// NewOpenRouter creates a responder using the given OpenRouter model.
func NewOpenRouter(apiKey, model, systemPrompt string, logger *slog.Logger) OpenRouter {
	return OpenRouter{
		apiKey:       apiKey,
		model:        model,
		systemPrompt: systemPrompt,
		baseURL:      openRouterBaseURL,
		client:       &http.Client{},
		logger:       logger.With(slog.String("module", "openrouter")),
	}
}

// Respond streams the model's answer to query.
func (o OpenRouter) Respond(ctx context.Context, query string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		header := http.Header{}
		header.Set("Authorization", "Bearer "+o.apiKey)
		header.Set("X-Title", "SkyeGPT")

		body, err := postEventStream(ctx, o.client, o.baseURL+"/chat/completions", header, routerRequest{
			Model: o.model,
			Messages: []routerMessage{
				{Role: "system", Content: o.systemPrompt},
				{Role: "user", Content: query},
			},
			Stream: true,
		})
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				yield("", fmt.Errorf("openrouter request failed: %w", err))
			}
			return
		}
		defer body.Close()

		for ev, err := range sse.Read(body, nil) {
			if err != nil {
				if ctx.Err() == nil {
					yield("", fmt.Errorf("openrouter stream broke: %w", err))
				}
				return
			}
			if ev.Data == "[DONE]" {
				return
			}

			var chunk routerChunk
			if err := json.Unmarshal([]byte(ev.Data), &chunk); err != nil {
				o.logger.Warn("Skipping malformed chunk", slog.String("data", ev.Data))
				continue
			}
			if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
				continue
			}
			if !yield(chunk.Choices[0].Delta.Content, nil) {
				return
			}
		}
	}
}
