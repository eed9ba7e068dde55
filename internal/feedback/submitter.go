// Package feedback manages per-message ratings and free-text feedback, independently of response streams.
package feedback

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/skyegpt/skyegpt-web/internal/backend"
	"github.com/skyegpt/skyegpt-web/internal/debounce"
	"github.com/skyegpt/skyegpt-web/internal/metrics"
	"github.com/skyegpt/skyegpt-web/internal/models"
)

// Sender delivers a feedback record for a conversation.
type Sender interface {
	SubmitFeedback(ctx context.Context, conversationID string, fb models.Feedback) error
}

// RatingState is the view state of one message's rating controls.
type RatingState struct {
	Rating models.Rating `json:"rating"`
	// Err is the error of the last failed submission, cleared by the next rating action.
	Err string `json:"error,omitempty"`
}

// ModalState is the view state of the free-text feedback modal and its confirmation.
type ModalState struct {
	Open        bool   `json:"open"`
	MessageID   string `json:"messageId"`
	Text        string `json:"text"`
	Header      string `json:"header"`
	Placeholder string `json:"placeholder"`

	// ValidationErr and SubmitErr are kept apart so the view can place them differently.
	ValidationErr string `json:"validationError,omitempty"`
	SubmitErr     string `json:"submitError,omitempty"`

	ConfirmationOpen bool   `json:"confirmationOpen"`
	Confirmation     string `json:"confirmation"`
}

// Texts shown by the feedback controls.
const (
	HeaderIssue              = "Report an Issue"
	HeaderFeedback           = "Share Your Feedback"
	PlaceholderIssue         = "Describe the issue or why this response is problematic..."
	PlaceholderFeedback      = "What did you like or what could be improved?"
	PlaceholderNoMessage     = "Write your feedback here..."
	ConfirmationIssue        = "Issue Report Sent!"
	ConfirmationFeedback     = "Feedback Sent!"
	ErrTextEmpty             = "Feedback cannot be empty."
	ErrTextNoMessage         = "No message selected for feedback."
	ErrTextNoConversation    = "conversation ID missing. Cannot submit feedback."
	ErrTextRatingNoConv      = "conversation_id missing. Cannot submit rating."
	ErrTextConnectionFailure = "Failed to connect to the server."
)

// ErrNoConversation is logged when feedback is attempted before a conversation exists.
var ErrNoConversation = errors.New("conversation id is missing")

type rating struct {
	current models.Rating
	// committed is the rating a failed submission rolls back to.
	committed models.Rating
	err       string
}

// Submitter owns the rating map and the modal state of one conversation.
type Submitter struct {
	sender   Sender
	debounce time.Duration
	timeout  time.Duration
	notify   func(messageID string, st RatingState)
	metrics  *metrics.Metrics
	logger   *slog.Logger

	debouncer *debounce.Keyed

	mu             sync.Mutex
	conversationID string
	ratings        map[string]*rating
	modal          ModalState
}

const (
	defaultDebounce = 300 * time.Millisecond
	defaultTimeout  = 10 * time.Second
)

// Option configures a Submitter.
type Option func(*Submitter)

// WithDebounce sets the quiet period before a rating is sent. Zero sends immediately.
func WithDebounce(d time.Duration) Option {
	return func(s *Submitter) {
		s.debounce = d
	}
}

// WithTimeout bounds each rating submission.
func WithTimeout(d time.Duration) Option {
	return func(s *Submitter) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithNotify registers a callback for rating changes that happen after Rate returned, such as a
// rollback after a failed submission.
func WithNotify(f func(messageID string, st RatingState)) Option {
	return func(s *Submitter) {
		s.notify = f
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Submitter) {
		s.logger = logger
	}
}

// WithMetrics records submissions into m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Submitter) {
		s.metrics = m
	}
}

// NewSubmitter creates a submitter for the given conversation.
func NewSubmitter(conversationID string, sender Sender, opts ...Option) *Submitter {
	s := &Submitter{
		sender:         sender,
		debounce:       defaultDebounce,
		timeout:        defaultTimeout,
		logger:         slog.Default(),
		conversationID: conversationID,
		ratings:        make(map[string]*rating),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(slog.String("module", "feedback"))
	s.debouncer = debounce.NewKeyed(s.debounce)

	return s
}

// SetConversation sets the conversation id used by subsequent submissions.
func (s *Submitter) SetConversation(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversationID = id
}

// Rate toggles the rating of a message: selecting the current rating again clears it. The new rating
// is applied immediately and returned; the submission happens in the background once the message's
// controls have been quiet for the debounce period. Clearing is never sent.
func (s *Submitter) Rate(messageID string, r models.Rating) RatingState {
	s.mu.Lock()
	entry := s.entry(messageID)
	prev := entry.current
	next := r
	if prev == r {
		next = models.RatingNone
	}
	entry.current = next
	entry.err = ""

	if s.conversationID == "" {
		entry.current = prev
		entry.err = ErrTextRatingNoConv
		st := entry.state()
		s.mu.Unlock()

		s.logger.Warn("Rating without conversation", slog.String("messageID", messageID))
		s.metrics.ObserveFeedback("rating", ErrNoConversation)
		return st
	}

	if next == models.RatingNone {
		entry.committed = models.RatingNone
		st := entry.state()
		s.mu.Unlock()
		return st
	}

	st := entry.state()
	s.mu.Unlock()

	s.debouncer.Do(messageID, func() { s.submitRating(messageID) })

	return st
}

// RatingOf returns the rating state of a message.
func (s *Submitter) RatingOf(messageID string) RatingState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.ratings[messageID]; ok {
		return entry.state()
	}
	return RatingState{}
}

func (s *Submitter) submitRating(messageID string) {
	s.mu.Lock()
	entry := s.entry(messageID)
	sent := entry.current
	conversationID := s.conversationID
	s.mu.Unlock()

	// The rating was cleared while the submission was pending.
	if sent == models.RatingNone {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	err := s.sender.SubmitFeedback(ctx, conversationID, models.Feedback{Vote: sent.Vote()})
	s.metrics.ObserveFeedback("rating", err)

	s.mu.Lock()
	if err == nil {
		entry.committed = sent
		s.mu.Unlock()
		s.logger.Debug("Rating submitted", slog.String("messageID", messageID), slog.String("rating", string(sent)))
		return
	}

	s.logger.Error("Failed to submit rating",
		slog.String("messageID", messageID),
		slog.String(errLoggerKey, err.Error()))

	// A newer action supersedes the failed one.
	if entry.current != sent {
		s.mu.Unlock()
		return
	}
	entry.current = entry.committed
	entry.err = errorText(err)
	st := entry.state()
	s.mu.Unlock()

	if s.notify != nil {
		s.notify(messageID, st)
	}
}

// Open opens the feedback modal for a message, starting with an empty text.
func (s *Submitter) Open(messageID string) ModalState {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.modal = ModalState{Open: true, MessageID: messageID}
	s.decorate()
	return s.modal
}

// SetText records the text typed into the modal.
func (s *Submitter) SetText(text string) ModalState {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.modal.Text = text
	return s.modal
}

// Submit sends the modal's text with the message's current rating. On success the modal closes and the
// confirmation opens; on failure the text is kept and the error is reported in the returned state.
func (s *Submitter) Submit(ctx context.Context) ModalState {
	s.mu.Lock()
	s.modal.ValidationErr = ""
	s.modal.SubmitErr = ""

	if s.modal.MessageID == "" {
		s.modal.SubmitErr = ErrTextNoMessage
		defer s.mu.Unlock()
		return s.modal
	}
	comment := strings.TrimSpace(s.modal.Text)
	if comment == "" {
		s.modal.ValidationErr = ErrTextEmpty
		defer s.mu.Unlock()
		return s.modal
	}
	if s.conversationID == "" {
		s.modal.SubmitErr = ErrTextNoConversation
		s.mu.Unlock()

		s.logger.Warn("Feedback without conversation")
		s.metrics.ObserveFeedback("comment", ErrNoConversation)
		return s.Modal()
	}

	messageID, conversationID := s.modal.MessageID, s.conversationID
	vote := s.entry(messageID).current.Vote()
	s.mu.Unlock()

	err := s.sender.SubmitFeedback(ctx, conversationID, models.Feedback{Vote: vote, Comment: comment})
	s.metrics.ObserveFeedback("comment", err)

	s.mu.Lock()
	defer s.mu.Unlock()

	// The modal was reopened for another message meanwhile.
	if s.modal.MessageID != messageID {
		return s.modal
	}
	if err != nil {
		s.logger.Error("Failed to submit feedback",
			slog.String("messageID", messageID),
			slog.String(errLoggerKey, err.Error()))
		s.modal.SubmitErr = errorText(err)
		return s.modal
	}

	s.logger.Info("Feedback submitted", slog.String("messageID", messageID), slog.String("vote", string(vote)))
	s.modal.Open = false
	s.modal.ConfirmationOpen = true
	s.decorate()
	return s.modal
}

// Close closes the modal, keeping its text until the confirmation is dismissed.
func (s *Submitter) Close() ModalState {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.modal.Open = false
	s.modal.ValidationErr = ""
	s.modal.SubmitErr = ""
	return s.modal
}

// CloseConfirmation dismisses the confirmation and resets the modal.
func (s *Submitter) CloseConfirmation() ModalState {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.modal = ModalState{}
	s.decorate()
	return s.modal
}

// Modal returns the modal state.
func (s *Submitter) Modal() ModalState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.modal
}

// decorate derives the texts that depend on the active message's rating. s.mu must be held.
func (s *Submitter) decorate() {
	if s.modal.MessageID == "" {
		s.modal.Header = HeaderFeedback
		s.modal.Placeholder = PlaceholderNoMessage
		s.modal.Confirmation = ConfirmationFeedback
		return
	}

	var r models.Rating
	if entry, ok := s.ratings[s.modal.MessageID]; ok {
		r = entry.current
	}
	if r == models.RatingDown {
		s.modal.Header = HeaderIssue
		s.modal.Placeholder = PlaceholderIssue
		s.modal.Confirmation = ConfirmationIssue
		return
	}
	s.modal.Header = HeaderFeedback
	s.modal.Placeholder = PlaceholderFeedback
	s.modal.Confirmation = ConfirmationFeedback
}

// entry returns the rating entry of a message, creating it. s.mu must be held.
func (s *Submitter) entry(messageID string) *rating {
	entry, ok := s.ratings[messageID]
	if !ok {
		entry = &rating{}
		s.ratings[messageID] = entry
	}
	return entry
}

func (r *rating) state() RatingState {
	return RatingState{Rating: r.current, Err: r.err}
}

// errorText converts a submission error into the text shown to the user. Errors reported by the backend
// carry its message; anything else is a connection failure.
func errorText(err error) string {
	var se *backend.StatusError
	if errors.As(err, &se) {
		if se.Message != "" {
			return se.Message
		}
		return se.Error()
	}
	return ErrTextConnectionFailure
}

const errLoggerKey = "err"
