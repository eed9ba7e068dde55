// Package backend is the HTTP client of the assistant backend: conversation creation, the streamed
// answer endpoint and feedback submission.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/skyegpt/skyegpt-web/internal/models"
)

// HostResolver provides the base URL of the backend. It is consulted on every call so the host can be
// loaded lazily.
type HostResolver interface {
	BackendHost(ctx context.Context) (string, error)
}

// Client talks to the assistant backend.
type Client struct {
	hosts  HostResolver
	client *http.Client

	logger *slog.Logger
}

// StatusError is returned when the backend answers with a non-success status.
type StatusError struct {
	Op         string
	StatusCode int
	Status     string
	// Message is the backend provided reason: the "message" field of a JSON body, or the raw body.
	Message string
}

// ErrNoBody is returned when a streamed answer arrives without a body to read.
var ErrNoBody = errors.New("response body is null for streaming")

type conversationResponse struct {
	ConversationID string `json:"conversation_id"`
}

type askRequest struct {
	ConversationID string `json:"conversation_id"`
	Query          string `json:"query"`
}

type errorResponse struct {
	Message string `json:"message"`
}

// NewClient creates a backend client. A nil httpClient uses a default client without timeout, since
// streamed answers have no upper bound on their duration.
func NewClient(hosts HostResolver, httpClient *http.Client, logger *slog.Logger) Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return Client{
		hosts:  hosts,
		client: httpClient,
		logger: logger.With(slog.String("module", "backend")),
	}
}

// CreateConversation starts a new conversation and returns its id.
func (c Client) CreateConversation(ctx context.Context) (string, error) {
	resp, err := c.doRequest(ctx, "/ask/conversation", nil, "application/json")
	if err != nil {
		return "", fmt.Errorf("could not create new conversation: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", statusError("could not create new conversation", resp)
	}

	var res conversationResponse
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return "", fmt.Errorf("error decoding conversation response: %w", err)
	}
	if res.ConversationID == "" {
		return "", errors.New("backend returned an empty conversation_id")
	}

	return res.ConversationID, nil
}

// AskStream sends a query and returns the streamed answer body. The caller owns the body and must close
// it. Cancelling ctx aborts both the request and any pending read of the body.
func (c Client) AskStream(ctx context.Context, conversationID, query string) (io.ReadCloser, error) {
	resp, err := c.doRequest(ctx, "/ask/response/stream", askRequest{
		ConversationID: conversationID,
		Query:          query,
	}, "text/event-stream")
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, statusError("server error for streaming", resp)
	}
	if resp.Body == nil || resp.Body == http.NoBody {
		return nil, ErrNoBody
	}

	return resp.Body, nil
}

// SubmitFeedback sends a rating or comment for a conversation.
func (c Client) SubmitFeedback(ctx context.Context, conversationID string, fb models.Feedback) error {
	resp, err := c.doRequest(ctx, "/ask/"+url.PathEscape(conversationID)+"/feedback", fb, "application/json")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError("server error on feedback", resp)
	}
	return nil
}

func (c Client) doRequest(ctx context.Context, path string, body any, accept string) (*http.Response, error) {
	host, err := c.hosts.BackendHost(ctx)
	if err != nil {
		return nil, fmt.Errorf("error resolving backend host: %w", err)
	}

	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("error marshaling request: %w", err)
		}
		c.logger.Debug("Request Body", slog.String("path", path), slog.String("body", string(jsonBody)))
		reqBody = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimSuffix(host, "/")+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", accept)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func statusError(op string, resp *http.Response) *StatusError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	msg := strings.TrimSpace(string(body))
	var er errorResponse
	if err := json.Unmarshal(body, &er); err == nil && er.Message != "" {
		msg = er.Message
	}

	return &StatusError{
		Op:         op,
		StatusCode: resp.StatusCode,
		Status:     http.StatusText(resp.StatusCode),
		Message:    msg,
	}
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: %d %s", e.Op, e.StatusCode, e.Status)
	}
	return fmt.Sprintf("%s: %d %s - %s", e.Op, e.StatusCode, e.Status, e.Message)
}
