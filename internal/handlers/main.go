package handlers

import (
	"context"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	skyegptweb "github.com/skyegpt/skyegpt-web"
	"github.com/skyegpt/skyegpt-web/internal/chat"
	"github.com/skyegpt/skyegpt-web/internal/config"
	"github.com/skyegpt/skyegpt-web/internal/feedback"
	"github.com/skyegpt/skyegpt-web/internal/metrics"
	"github.com/skyegpt/skyegpt-web/internal/models"
	"github.com/tmaxmax/go-sse"
	"golang.org/x/time/rate"
)

// Backend is the collaborator answering queries. It creates conversations, streams answers and accepts
// feedback records.
type Backend interface {
	chat.Streamer
	feedback.Sender
	CreateConversation(ctx context.Context) (string, error)
}

// RuntimeSource provides the runtime configuration shown in the page footer.
type RuntimeSource interface {
	Load(ctx context.Context) (config.Runtime, error)
}

// Config tunes the sessions created by Main.
type Config struct {
	// ChatOptions and FeedbackOptions are applied to every session's controller and submitter.
	ChatOptions     []chat.Option
	FeedbackOptions []feedback.Option

	// SessionTTL is how long an unused session is kept. Zero keeps sessions until shutdown.
	SessionTTL time.Duration
	// SendInterval is the minimal interval between two sends of one session. Zero disables the limit.
	SendInterval time.Duration

	Runtime RuntimeSource
	Metrics *metrics.Metrics
}

// Main serves the chat page and pushes message and status updates of every session to its browser
// tab over server-sent events.
type Main struct {
	sseSrv    *sse.Server
	templates *template.Template

	backend  Backend
	sessions *sessionStore
	cfg      Config
	done     chan struct{}

	logger     *slog.Logger
	baseLogger *slog.Logger
}

const (
	sessionCookie    = "skyegpt_session"
	sessionQueryKey  = "session_id"
	errLoggerKey     = "err"
	bootstrapFailure = "Error: Failed to start a conversation. Please refresh or try again."
)

// NewMain creates a Main using backend for every session. It parses the page templates from the embedded
// filesystem and, when cfg.SessionTTL is set, starts sweeping unused sessions until Shutdown.
func NewMain(backend Backend, cfg Config, logger *slog.Logger) (Main, error) {
	// We parse templates from three distinct directories to separate layout, pages, and partial views
	tmpl, err := template.ParseFS(
		skyegptweb.TemplateFS,
		"templates/layout/*.html",
		"templates/pages/*.html",
		"templates/partials/*.html",
	)
	if err != nil {
		return Main{}, err
	}

	if logger == nil {
		logger = slog.Default()
	}

	m := Main{
		templates:  tmpl,
		backend:    backend,
		sessions:   newSessionStore(cfg.SessionTTL),
		cfg:        cfg,
		done:       make(chan struct{}),
		logger:     logger.With(slog.String("module", "main")),
		baseLogger: logger,
	}
	m.sseSrv = &sse.Server{
		OnSession: func(w http.ResponseWriter, r *http.Request) ([]string, bool) {
			// A browser tab listens to its own session and to broadcasts
			sess, ok := m.sessions.get(r.URL.Query().Get(sessionQueryKey))
			if !ok {
				http.Error(w, "Session not found", http.StatusNotFound)
				return nil, false
			}
			return []string{sse.DefaultTopic, sess.topic()}, true
		},
	}

	if cfg.SessionTTL > 0 {
		go m.sweepSessions(cfg.SessionTTL)
	}

	return m, nil
}

func (m Main) sweepSessions(ttl time.Duration) {
	ticker := time.NewTicker(ttl / 2)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case now := <-ticker.C:
			if n := m.sessions.sweep(now); n > 0 {
				m.logger.Info("Expired sessions", slog.Int("count", n))
			}
		}
	}
}

// newSession creates a conversation with the backend and the session state around it. A failed creation
// still yields a usable session: its welcome is replaced by an error message and sends report the missing
// conversation.
func (m Main) newSession(ctx context.Context) *session {
	sess := &session{
		id:       uuid.NewString(),
		lastSeen: time.Now(),
	}

	seed := models.NewWelcomeMessage(chat.WelcomeText(time.Now()))
	conversationID, err := m.backend.CreateConversation(ctx)
	if err != nil {
		m.logger.Error("Failed to create conversation", slog.String(errLoggerKey, err.Error()))
		seed = models.NewErrorMessage(bootstrapFailure)
		conversationID = ""
	}

	pub := publisher{m: m, sess: sess}

	chatOpts := append([]chat.Option{
		chat.WithLogger(m.baseLogger.With(slog.String("sessionID", sess.id))),
		chat.WithMetrics(m.cfg.Metrics),
		chat.WithMessages(seed),
	}, m.cfg.ChatOptions...)
	sess.controller = chat.NewController(conversationID, m.backend, pub, chatOpts...)

	feedbackOpts := append([]feedback.Option{
		feedback.WithLogger(m.baseLogger.With(slog.String("sessionID", sess.id))),
		feedback.WithMetrics(m.cfg.Metrics),
		feedback.WithNotify(pub.ratingChanged),
	}, m.cfg.FeedbackOptions...)
	sess.feedback = feedback.NewSubmitter(conversationID, m.backend, feedbackOpts...)

	limit := rate.Inf
	if m.cfg.SendInterval > 0 {
		limit = rate.Every(m.cfg.SendInterval)
	}
	sess.limiter = rate.NewLimiter(limit, 1)

	m.sessions.add(sess)
	m.logger.Info("Session started",
		slog.String("sessionID", sess.id),
		slog.String("conversationID", conversationID))

	return sess
}

// session returns the session of the request's cookie.
func (m Main) session(r *http.Request) (*session, bool) {
	c, err := r.Cookie(sessionCookie)
	if err != nil {
		return nil, false
	}
	return m.sessions.get(c.Value)
}

func (m Main) version(ctx context.Context) string {
	if m.cfg.Runtime == nil {
		return ""
	}
	rt, err := m.cfg.Runtime.Load(ctx)
	if err != nil {
		m.logger.Warn("Failed to load runtime config", slog.String(errLoggerKey, err.Error()))
		return ""
	}
	return rt.Version
}

// HandleSSE streams the updates of the session named by the session_id query parameter.
func (m Main) HandleSSE(w http.ResponseWriter, r *http.Request) {
	m.sseSrv.ServeHTTP(w, r)
}

// Shutdown gracefully terminates the Main instance's SSE server. It stops every session's stream,
// broadcasts a close message to all connected clients and waits up to 5 seconds for connections to
// terminate. After the timeout, any remaining connections are forcefully closed.
func (m Main) Shutdown(ctx context.Context) error {
	select {
	case <-m.done:
	default:
		close(m.done)
	}
	m.sessions.closeAll()

	e := &sse.Message{Type: closeSSEType}
	// An event without data is dropped by browsers
	e.AppendData("bye")

	// We ignore the error here since we're shutting down anyway
	_ = m.sseSrv.Publish(e)

	ctx, cancel := context.WithTimeout(ctx, time.Second*5)
	defer cancel()

	return m.sseSrv.Shutdown(ctx)
}
