// Package mockbackend is a stand-in for the assistant backend. It speaks the same HTTP contract as the
// real service: conversation creation, answers streamed as server-sent events and feedback submission.
package mockbackend

import (
	"context"
	"encoding/json"
	"errors"
	"iter"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/skyegpt/skyegpt-web/internal/models"
	"github.com/skyegpt/skyegpt-web/internal/services"
	"github.com/tmaxmax/go-sse"
	"golang.org/x/time/rate"
)

// Responder produces the answer to a query as a sequence of text chunks.
type Responder interface {
	Respond(ctx context.Context, query string) iter.Seq2[string, error]
}

// Store keeps conversations and the feedback submitted for them.
type Store interface {
	AddConversation(ctx context.Context, createdAt int64) (string, error)
	AddFeedback(ctx context.Context, fb models.StoredFeedback) (string, error)
	Feedback(ctx context.Context, conversationID string) ([]models.StoredFeedback, error)
}

// Server serves the backend routes.
type Server struct {
	responder       Responder
	store           Store
	tokensPerSecond float64
	loadingTexts    []string

	logger *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

type askRequest struct {
	ConversationID string `json:"conversation_id"`
	Query          string `json:"query"`
}

type conversationResponse struct {
	ConversationID string `json:"conversation_id"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type textChunk struct {
	Text string `json:"text"`
}

type loadingChunk struct {
	DynamicLoadingText []string `json:"dynamic_loading_text"`
}

const errLoggerKey = "err"

var defaultLoadingTexts = []string{
	"Searching the documentation...",
	"Reading relevant sections...",
	"Composing an answer...",
}

// WithTokensPerSecond paces the streamed chunks. Zero or less streams as fast as the responder yields.
func WithTokensPerSecond(tps float64) Option {
	return func(s *Server) {
		s.tokensPerSecond = tps
	}
}

// WithLoadingTexts sets the status list sent before the first chunk of every answer. An empty list
// sends no status record.
func WithLoadingTexts(texts []string) Option {
	return func(s *Server) {
		s.loadingTexts = texts
	}
}

// WithLogger sets the logger of the server.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// New creates a server answering with responder and keeping state in store.
func New(responder Responder, store Store, opts ...Option) Server {
	s := Server{
		responder:    responder,
		store:        store,
		loadingTexts: defaultLoadingTexts,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(&s)
	}
	s.logger = s.logger.With(slog.String("module", "mockbackend"))
	return s
}

// Handler returns the routes of the backend.
func (s Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /ask/conversation", s.HandleConversation)
	mux.HandleFunc("POST /ask/response/stream", s.HandleStream)
	mux.HandleFunc("POST /ask/{id}/feedback", s.HandleFeedback)
	mux.HandleFunc("GET /ask/{id}/feedback", s.HandleListFeedback)
	return mux
}

// HandleConversation creates a conversation and answers with its id.
func (s Server) HandleConversation(w http.ResponseWriter, r *http.Request) {
	id, err := s.store.AddConversation(r.Context(), time.Now().Unix())
	if err != nil {
		s.logger.Error("Failed to add conversation", slog.String(errLoggerKey, err.Error()))
		writeJSON(w, http.StatusInternalServerError, messageResponse{Message: "Failed to create conversation"})
		return
	}

	s.logger.Info("Conversation created", slog.String("conversationID", id))
	writeJSON(w, http.StatusOK, conversationResponse{ConversationID: id})
}

// HandleStream answers a query as an event stream. A status record comes first, then one record per
// chunk of the answer. A responder failure after the stream started ends it early, since the status
// line was already sent.
func (s Server) HandleStream(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, messageResponse{Message: "Invalid request body"})
		return
	}
	if req.ConversationID == "" {
		writeJSON(w, http.StatusBadRequest, messageResponse{Message: "conversation_id is required"})
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeJSON(w, http.StatusBadRequest, messageResponse{Message: "query is required"})
		return
	}

	sess, err := sse.Upgrade(w, r)
	if err != nil {
		s.logger.Error("Failed to upgrade stream", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	logger := s.logger.With(slog.String("conversationID", req.ConversationID))

	if len(s.loadingTexts) > 0 {
		if err := send(sess, loadingChunk{DynamicLoadingText: s.loadingTexts}); err != nil {
			logger.Warn("Failed to send loading texts", slog.String(errLoggerKey, err.Error()))
			return
		}
	}

	limit := rate.Inf
	if s.tokensPerSecond > 0 {
		limit = rate.Limit(s.tokensPerSecond)
	}
	limiter := rate.NewLimiter(limit, 1)

	chunks := 0
	for chunk, err := range s.responder.Respond(ctx, req.Query) {
		if err != nil {
			logger.Error("Responder failed", slog.String(errLoggerKey, err.Error()))
			return
		}
		if err := limiter.Wait(ctx); err != nil {
			logger.Info("Client went away", slog.Int("chunks", chunks))
			return
		}
		if err := send(sess, textChunk{Text: chunk}); err != nil {
			logger.Warn("Failed to send chunk", slog.String(errLoggerKey, err.Error()))
			return
		}
		chunks++
	}

	logger.Info("Answer streamed", slog.Int("chunks", chunks))
}

// HandleFeedback stores a rating or comment for the conversation in the path.
func (s Server) HandleFeedback(w http.ResponseWriter, r *http.Request) {
	convID := r.PathValue("id")

	var fb models.Feedback
	if err := json.NewDecoder(r.Body).Decode(&fb); err != nil {
		writeJSON(w, http.StatusBadRequest, messageResponse{Message: "Invalid request body"})
		return
	}
	if !fb.Vote.Valid() {
		writeJSON(w, http.StatusBadRequest, messageResponse{Message: "Invalid vote: " + string(fb.Vote)})
		return
	}

	_, err := s.store.AddFeedback(r.Context(), models.StoredFeedback{
		ConversationID: convID,
		Vote:           fb.Vote,
		Comment:        fb.Comment,
		Timestamp:      time.Now(),
	})
	if errors.Is(err, services.ErrConversationNotFound) {
		writeJSON(w, http.StatusNotFound, messageResponse{Message: "Conversation not found"})
		return
	}
	if err != nil {
		s.logger.Error("Failed to add feedback", slog.String(errLoggerKey, err.Error()))
		writeJSON(w, http.StatusInternalServerError, messageResponse{Message: "Failed to store feedback"})
		return
	}

	s.logger.Info("Feedback received",
		slog.String("conversationID", convID),
		slog.String("vote", string(fb.Vote)),
		slog.Bool("comment", fb.Comment != ""))
	writeJSON(w, http.StatusOK, messageResponse{Message: "Feedback received"})
}

// HandleListFeedback lists the feedback of the conversation in the path, oldest first.
func (s Server) HandleListFeedback(w http.ResponseWriter, r *http.Request) {
	records, err := s.store.Feedback(r.Context(), r.PathValue("id"))
	if errors.Is(err, services.ErrConversationNotFound) {
		writeJSON(w, http.StatusNotFound, messageResponse{Message: "Conversation not found"})
		return
	}
	if err != nil {
		s.logger.Error("Failed to list feedback", slog.String(errLoggerKey, err.Error()))
		writeJSON(w, http.StatusInternalServerError, messageResponse{Message: "Failed to list feedback"})
		return
	}

	writeJSON(w, http.StatusOK, records)
}

func send(sess *sse.Session, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}

	msg := &sse.Message{}
	msg.AppendData(string(payload))
	if err := sess.Send(msg); err != nil {
		return err
	}
	return sess.Flush()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
