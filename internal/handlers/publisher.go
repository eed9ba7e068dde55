package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/skyegpt/skyegpt-web/internal/chat"
	"github.com/skyegpt/skyegpt-web/internal/feedback"
	"github.com/skyegpt/skyegpt-web/internal/models"
	"github.com/tmaxmax/go-sse"
)

// SSE event types for real-time updates.
var (
	messageSSEType = sse.Type("message")
	removeSSEType  = sse.Type("remove")
	statusSSEType  = sse.Type("status")
	closeSSEType   = sse.Type("close")
)

type messageEvent struct {
	ID   string `json:"id"`
	HTML string `json:"html"`
}

type statusEvent struct {
	Loading bool     `json:"loading"`
	Texts   []string `json:"texts"`
}

// publisher pushes the view updates of one session's controller to its browser tab.
type publisher struct {
	m    Main
	sess *session
}

func (p publisher) PublishMessage(msg models.Message) {
	html, err := p.m.renderMessage(p.sess, msg)
	if err != nil {
		p.m.logger.Error("Failed to render message",
			slog.String("messageID", msg.ID),
			slog.String(errLoggerKey, err.Error()))
		return
	}
	p.publish(messageSSEType, messageEvent{ID: msg.ID, HTML: html})
}

func (p publisher) RemoveMessage(id string) {
	p.publish(removeSSEType, messageEvent{ID: id})
}

func (p publisher) PublishStatus(st chat.Status) {
	texts := st.Texts
	if texts == nil {
		texts = []string{}
	}
	p.publish(statusSSEType, statusEvent{Loading: st.Loading, Texts: texts})
}

// ratingChanged republishes a message whose rating changed in the background.
func (p publisher) ratingChanged(messageID string, _ feedback.RatingState) {
	msg, ok := p.sess.controller.Message(messageID)
	if !ok {
		return
	}
	p.PublishMessage(msg)
}

func (p publisher) publish(typ sse.EventType, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		p.m.logger.Error("Failed to marshal event",
			slog.String("type", typ.String()),
			slog.String(errLoggerKey, err.Error()))
		return
	}

	msg := sse.Message{Type: typ}
	msg.AppendData(string(payload))
	if err := p.m.sseSrv.Publish(&msg, p.sess.topic()); err != nil {
		p.m.logger.Error("Failed to publish event",
			slog.String("type", typ.String()),
			slog.String("sessionID", p.sess.id),
			slog.String(errLoggerKey, err.Error()))
	}
}

// messageView is what the message template renders.
type messageView struct {
	ID       string
	Sender   string
	Content  any
	Stopped  bool
	InFlight bool

	// Feedback enables the rating controls, which are offered on finished, unstopped bot answers only.
	Feedback  bool
	Rating    string
	RatingErr string
}

func (m Main) messageView(sess *session, msg models.Message) (messageView, error) {
	v := messageView{
		ID:       msg.ID,
		Sender:   string(msg.Sender),
		Content:  msg.Text,
		Stopped:  msg.Stopped,
		InFlight: sess.controller.InFlightID() == msg.ID,
	}

	if msg.Sender == models.SenderBot {
		html, err := renderMarkdown(msg.Text)
		if err != nil {
			return messageView{}, err
		}
		v.Content = html
	}

	if msg.Rateable() && !v.InFlight {
		st := sess.feedback.RatingOf(msg.ID)
		v.Feedback = true
		v.Rating = string(st.Rating)
		v.RatingErr = st.Err
	}

	return v, nil
}

func (m Main) renderMessage(sess *session, msg models.Message) (string, error) {
	v, err := m.messageView(sess, msg)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	if err := m.templates.ExecuteTemplate(&sb, "message", v); err != nil {
		return "", fmt.Errorf("failed to execute message template: %w", err)
	}
	return sb.String(), nil
}
