// Package chat assembles streamed answers into the conversation. A Controller owns the message sequence
// of one conversation: it appends the user's message and a bot placeholder on every send, drives the read
// loop that fills the placeholder, and converges every send to a terminal state.
package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/skyegpt/skyegpt-web/internal/metrics"
	"github.com/skyegpt/skyegpt-web/internal/models"
	"github.com/skyegpt/skyegpt-web/internal/stream"
)

// Streamer opens the streamed answer to a query. Cancelling ctx must abort the request and unblock
// reads of the returned body.
type Streamer interface {
	AskStream(ctx context.Context, conversationID, query string) (io.ReadCloser, error)
}

// Publisher receives the view updates of a controller. The calls belonging to one send are made in
// order from a single goroutine and never while the controller holds its lock, so a publisher may read
// the controller. It must not call Send, Stop or Close.
type Publisher interface {
	PublishMessage(msg models.Message)
	RemoveMessage(id string)
	PublishStatus(st Status)
}

// Status is the auxiliary view state of a send.
type Status struct {
	Loading bool
	// Texts is the rotating "currently analyzing" list; empty when the backend sent none.
	Texts []string
}

// Controller is the stream assembler of one conversation.
type Controller struct {
	streamer    Streamer
	pub         Publisher
	retry       RetryPolicy
	idleTimeout time.Duration
	readSize    int

	metrics *metrics.Metrics
	logger  *slog.Logger

	// sendMu serializes sends, so that a superseded send is finalized before the next one starts.
	sendMu sync.Mutex

	mu             sync.Mutex
	conversationID string
	messages       []models.Message
	loading        bool
	statusTexts    []string
	state          State
	lastOutcome    Outcome
	current        *session
	closed         bool
}

type session struct {
	ctx    context.Context
	cancel context.CancelCauseFunc
	done   chan struct{}

	conversationID string
	query          string
	msgID          string
	started        time.Time

	// acc is only touched by the goroutine running the session.
	acc stream.Accumulator

	outcome Outcome
}

var errAborted = errors.New("stream aborted")

const defaultReadSize = 4096

// NewController creates a controller for the given conversation. An empty conversationID is allowed:
// sends then fail their precondition until SetConversation is called.
func NewController(conversationID string, streamer Streamer, pub Publisher, opts ...Option) *Controller {
	c := &Controller{
		streamer:       streamer,
		pub:            pub,
		readSize:       defaultReadSize,
		logger:         slog.Default(),
		conversationID: conversationID,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.pub == nil {
		c.pub = nopPublisher{}
	}
	c.logger = c.logger.With(slog.String("module", "chat"))

	return c
}

// Send starts a new send with the given input and returns the id of the bot message that will carry its
// outcome. A send still in flight is cancelled and finalized first. Blank input is rejected with
// ErrEmptyInput; every other failure is reported inside the bot message, not as an error.
func (c *Controller) Send(input string) (string, error) {
	return c.send(input, true)
}

// SendIfIdle is Send without supersession: it fails with ErrBusy while a send is in flight. The check
// and the start of the send are atomic with respect to other sends.
func (c *Controller) SendIfIdle(input string) (string, error) {
	return c.send(input, false)
}

func (c *Controller) send(input string, supersede bool) (string, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return "", ErrEmptyInput
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	c.mu.Lock()
	prev, closed := c.current, c.closed
	c.mu.Unlock()
	if closed {
		return "", ErrClosed
	}
	if prev != nil {
		if !supersede {
			return "", ErrBusy
		}
		prev.cancel(ErrSuperseded)
		<-prev.done
	}

	userMsg := models.NewUserMessage(trimmed)

	c.mu.Lock()
	// Close may have run while the superseded send was finishing.
	if c.closed {
		c.mu.Unlock()
		return "", ErrClosed
	}
	var welcomeID string
	if idx := slices.IndexFunc(c.messages, models.Message.IsWelcome); idx >= 0 {
		welcomeID = c.messages[idx].ID
	}
	c.messages = append(models.RemoveWelcome(c.messages), userMsg)
	c.loading = true
	c.statusTexts = nil
	conversationID := c.conversationID

	if conversationID == "" {
		botMsg := models.NewErrorMessage(NoticeNoConversation)
		c.messages = append(c.messages, botMsg)
		c.loading = false
		c.lastOutcome = OutcomePrecondition
		c.mu.Unlock()

		if welcomeID != "" {
			c.pub.RemoveMessage(welcomeID)
		}
		c.pub.PublishMessage(userMsg)
		c.pub.PublishMessage(botMsg)
		c.pub.PublishStatus(Status{})

		c.logger.Warn("Send without conversation id")
		c.metrics.ObserveStream(OutcomePrecondition.String(), 0, 0)
		return botMsg.ID, nil
	}

	ctx, cancel := context.WithCancelCause(context.Background())
	botMsg := models.NewBotMessage("")
	s := &session{
		ctx:            ctx,
		cancel:         cancel,
		done:           make(chan struct{}),
		conversationID: conversationID,
		query:          FormatQuery(trimmed),
		msgID:          botMsg.ID,
		started:        time.Now(),
	}
	c.messages = append(c.messages, botMsg)
	c.current = s
	c.state = StateSending
	c.mu.Unlock()

	if welcomeID != "" {
		c.pub.RemoveMessage(welcomeID)
	}
	c.pub.PublishMessage(userMsg)
	c.pub.PublishMessage(botMsg)
	c.pub.PublishStatus(Status{Loading: true})

	go c.run(s)

	return botMsg.ID, nil
}

// Stop cancels the send in flight and waits until its message is finalized. Stopping when nothing is in
// flight is a no-op.
func (c *Controller) Stop() {
	c.cancelCurrent(ErrStopped)
}

// Close stops the send in flight and rejects further sends.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.cancelCurrent(ErrClosed)
}

func (c *Controller) cancelCurrent(cause error) {
	c.mu.Lock()
	s := c.current
	c.mu.Unlock()
	if s == nil {
		return
	}

	s.cancel(cause)
	<-s.done
}

// Wait blocks until the send in flight, if any, reaches its terminal state and returns the outcome of
// the last finished send.
func (c *Controller) Wait() Outcome {
	c.mu.Lock()
	s := c.current
	c.mu.Unlock()

	if s != nil {
		<-s.done
		return s.outcome
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastOutcome
}

// SetConversation sets the conversation id used by subsequent sends.
func (c *Controller) SetConversation(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conversationID = id
}

// ConversationID returns the conversation id, empty when none was obtained.
func (c *Controller) ConversationID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conversationID
}

// Messages returns a copy of the message sequence.
func (c *Controller) Messages() []models.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.messages)
}

// Message returns the message with the given id.
func (c *Controller) Message(id string) (models.Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx := c.indexOf(id)
	if idx < 0 {
		return models.Message{}, false
	}
	return c.messages[idx], true
}

// InFlightID returns the id of the message being streamed into, empty when no send is in flight.
func (c *Controller) InFlightID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return ""
	}
	return c.current.msgID
}

// Loading reports whether a send is in flight.
func (c *Controller) Loading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loading
}

// Status returns the current auxiliary view state.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{Loading: c.loading, Texts: slices.Clone(c.statusTexts)}
}

// State returns the lifecycle state of the current send.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) run(s *session) {
	defer close(s.done)

	outcome, err := c.drive(s)
	c.finish(s, outcome, err)
}

func (c *Controller) drive(s *session) (Outcome, error) {
	for attempt := 0; ; attempt++ {
		outcome, err := c.classify(s, c.attempt(s))
		if outcome != OutcomeErrored && outcome != OutcomeEmpty {
			return outcome, err
		}
		if !c.retry.allows(attempt) || s.ctx.Err() != nil {
			return outcome, err
		}

		notice := NoticeEmpty
		if outcome == OutcomeErrored {
			notice = ErrorNotice(err)
		}
		c.setText(s, notice+noticeRetrying, true)
		c.metrics.ObserveRetry()
		c.logger.Info("Retrying stream",
			slog.Int("attempt", attempt+1),
			slog.String("outcome", outcome.String()))

		timer := time.NewTimer(c.retry.delay(attempt))
		select {
		case <-s.ctx.Done():
			timer.Stop()
			s.acc.Reset()
			c.setText(s, "", false)
			return OutcomeCancelled, context.Cause(s.ctx)
		case <-timer.C:
		}

		s.acc.Reset()
		c.setText(s, "", true)
	}
}

// classify maps the result of an attempt to the outcome it stands for.
func (c *Controller) classify(s *session, err error) (Outcome, error) {
	if err == nil {
		if s.acc.Empty() {
			return OutcomeEmpty, nil
		}
		return OutcomeCompleted, nil
	}

	if s.ctx.Err() != nil {
		cause := context.Cause(s.ctx)
		if errors.Is(cause, ErrIdleTimeout) {
			return OutcomeErrored, cause
		}
		return OutcomeCancelled, cause
	}

	return OutcomeErrored, err
}

func (c *Controller) attempt(s *session) error {
	c.setState(s, StateSending)

	body, err := c.streamer.AskStream(s.ctx, s.conversationID, s.query)
	if err != nil {
		if s.ctx.Err() != nil {
			return errAborted
		}
		return err
	}

	// Cancellation releases a read blocked on the body.
	stopRelease := context.AfterFunc(s.ctx, func() { _ = body.Close() })
	defer func() {
		stopRelease()
		_ = body.Close()
	}()

	c.setState(s, StateStreaming)

	var idle *time.Timer
	if c.idleTimeout > 0 {
		idle = time.AfterFunc(c.idleTimeout, func() { s.cancel(ErrIdleTimeout) })
		defer idle.Stop()
	}

	dec := stream.NewDecoder()
	buf := make([]byte, c.readSize)
	for {
		if s.ctx.Err() != nil {
			return errAborted
		}

		n, rerr := body.Read(buf)
		if idle != nil {
			idle.Reset(c.idleTimeout)
		}

		if n > 0 {
			for _, line := range dec.Write(buf[:n]) {
				if done := c.handleLine(s, line); done {
					dec.Close()
					return nil
				}
				if s.ctx.Err() != nil {
					return errAborted
				}
			}
		}

		if errors.Is(rerr, io.EOF) {
			if rest := dec.Close(); rest != "" {
				c.logger.Debug("Discarded unterminated line", slog.String("line", rest))
			}
			return nil
		}
		if rerr != nil {
			if s.ctx.Err() != nil {
				return errAborted
			}
			return fmt.Errorf("error reading response: %w", rerr)
		}
	}
}

// handleLine applies one decoded line and reports whether it ended the stream.
func (c *Controller) handleLine(s *session, line string) bool {
	payload, ok := strings.CutPrefix(line, stream.DataPrefix)
	if !ok {
		return false
	}
	if payload == stream.DoneSentinel {
		return true
	}

	d := stream.Extract(payload)
	switch d.Kind {
	case stream.KindText:
		s.acc.Append(d.Text)
		c.setText(s, s.acc.String(), true)
	case stream.KindStatus:
		c.setStatusTexts(d.Status)
	case stream.KindNone:
	}
	return false
}

func (c *Controller) finish(s *session, outcome Outcome, err error) {
	c.mu.Lock()
	var (
		msg   models.Message
		found bool
	)
	if idx := c.indexOf(s.msgID); idx >= 0 {
		finalizeMessage(&c.messages[idx], outcome, &s.acc, err)
		msg, found = c.messages[idx], true
	}
	if c.current == s {
		c.current = nil
		c.loading = false
		c.statusTexts = nil
		c.state = StateIdle
	}
	c.lastOutcome = outcome
	s.outcome = outcome
	c.mu.Unlock()

	s.cancel(nil)

	if found {
		c.pub.PublishMessage(msg)
	}
	c.pub.PublishStatus(Status{})

	elapsed := time.Since(s.started)
	c.metrics.ObserveStream(outcome.String(), elapsed, s.acc.Deltas())

	attrs := []any{
		slog.String("outcome", outcome.String()),
		slog.String("messageID", s.msgID),
		slog.Int("deltas", s.acc.Deltas()),
		slog.Duration("elapsed", elapsed),
	}
	if err != nil {
		attrs = append(attrs, slog.String(errLoggerKey, err.Error()))
	}
	c.logger.Info("Stream finished", attrs...)
}

// finalizeMessage writes the terminal text of a bot message. Applying it twice with the same inputs
// leaves the message unchanged.
func finalizeMessage(msg *models.Message, outcome Outcome, acc *stream.Accumulator, err error) {
	switch outcome {
	case OutcomeCompleted:
		msg.Text = acc.String()
	case OutcomeEmpty:
		msg.Text = NoticeEmpty
	case OutcomeErrored:
		if err == nil {
			err = errors.New("an unexpected error occurred. Please try again")
		}
		msg.Text = ErrorNotice(err)
	case OutcomeCancelled:
		if msg.Text == "" {
			msg.Text = NoticeCancelled
		}
		msg.Stopped = true
	}
}

func (c *Controller) setText(s *session, text string, publish bool) {
	c.mu.Lock()
	idx := c.indexOf(s.msgID)
	if idx < 0 {
		c.mu.Unlock()
		return
	}
	c.messages[idx].Text = text
	msg := c.messages[idx]
	c.mu.Unlock()

	if publish {
		c.pub.PublishMessage(msg)
	}
}

func (c *Controller) setStatusTexts(texts []string) {
	c.mu.Lock()
	c.statusTexts = texts
	st := Status{Loading: c.loading, Texts: slices.Clone(texts)}
	c.mu.Unlock()

	c.pub.PublishStatus(st)
}

func (c *Controller) setState(s *session, st State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == s {
		c.state = st
	}
}

// indexOf searches from the end, where the in-flight message lives. c.mu must be held.
func (c *Controller) indexOf(id string) int {
	for i := len(c.messages) - 1; i >= 0; i-- {
		if c.messages[i].ID == id {
			return i
		}
	}
	return -1
}

const errLoggerKey = "err"

type nopPublisher struct{}

func (nopPublisher) PublishMessage(models.Message) {}
func (nopPublisher) RemoveMessage(string)          {}
func (nopPublisher) PublishStatus(Status)          {}
