package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"net/http"

	"github.com/tmaxmax/go-sse"
)

// Anthropic answers queries with a Claude model through the Messages API.
type Anthropic struct {
	apiKey       string
	model        string
	systemPrompt string
	maxTokens    int
	baseURL      string

	client *http.Client
}

type claudeRequest struct {
	Model     string          `json:"model"`
	System    string          `json:"system,omitempty"`
	Messages  []claudeMessage `json:"messages"`
	MaxTokens int             `json:"max_tokens"`
	Stream    bool            `json:"stream"`
}

type claudeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// claudeEvent covers the fields of the stream events this responder reads: text deltas and errors.
type claudeEvent struct {
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

const (
	anthropicBaseURL = "https://api.anthropic.com/v1"
	anthropicVersion = "2023-06-01"
)

// NewAnthropic creates a responder using the given Claude model. maxTokens bounds the answer length.
func NewAnthropic(apiKey, model, systemPrompt string, maxTokens int) Anthropic {
	return Anthropic{
		apiKey:       apiKey,
		model:        model,
		systemPrompt: systemPrompt,
		maxTokens:    maxTokens,
		baseURL:      anthropicBaseURL,
		client:       &http.Client{},
	}
}

// Respond streams the model's answer to query. Events other than text deltas are skipped, and an error
// event ends the stream with that error.
func (a Anthropic) Respond(ctx context.Context, query string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		header := http.Header{}
		header.Set("x-api-key", a.apiKey)
		header.Set("anthropic-version", anthropicVersion)

		body, err := postEventStream(ctx, a.client, a.baseURL+"/messages", header, claudeRequest{
			Model:     a.model,
			System:    a.systemPrompt,
			Messages:  []claudeMessage{{Role: "user", Content: query}},
			MaxTokens: a.maxTokens,
			Stream:    true,
		})
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				yield("", fmt.Errorf("anthropic request failed: %w", err))
			}
			return
		}
		defer body.Close()

		for ev, err := range sse.Read(body, nil) {
			if err != nil {
				if ctx.Err() == nil {
					yield("", fmt.Errorf("anthropic stream broke: %w", err))
				}
				return
			}

			switch ev.Type {
			case "message_stop":
				return
			case "error", "content_block_delta":
			default:
				continue
			}

			var e claudeEvent
			if err := json.Unmarshal([]byte(ev.Data), &e); err != nil {
				yield("", fmt.Errorf("anthropic sent a malformed %s event: %w", ev.Type, err))
				return
			}
			if ev.Type == "error" {
				yield("", fmt.Errorf("anthropic error %s: %s", e.Error.Type, e.Error.Message))
				return
			}
			if e.Delta.Type != "text_delta" || e.Delta.Text == "" {
				continue
			}
			if !yield(e.Delta.Text, nil) {
				return
			}
		}
	}
}
