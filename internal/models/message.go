package models

import (
	"time"

	"github.com/google/uuid"
)

// Message represents an individual entry of a conversation. Bot messages are mutated in place while
// a response is streamed into them, user messages never change once created.
type Message struct {
	ID        string
	Sender    Sender
	Text      string
	Timestamp time.Time

	// Stopped is set when generation of this message was cancelled mid-stream.
	Stopped bool
	// NoFeedback marks synthetic messages (welcome, errors) that must never expose rating controls.
	NoFeedback bool
}

// Sender identifies the author of a message.
type Sender string

const (
	// SenderUser represents a message typed by the user.
	SenderUser Sender = "user"
	// SenderBot represents a message produced by the assistant, or a synthetic notice shown in its place.
	SenderBot Sender = "bot"
)

// welcomeMessageID is shared by every welcome message so it can be found and removed later.
var welcomeMessageID = uuid.NewString()

// NewUserMessage creates an immutable user message with the given text.
func NewUserMessage(text string) Message {
	return Message{
		ID:        uuid.NewString(),
		Sender:    SenderUser,
		Text:      text,
		Timestamp: time.Now(),
	}
}

// NewBotMessage creates a bot message. An empty text is used for the in-flight placeholder.
func NewBotMessage(text string) Message {
	return Message{
		ID:        uuid.NewString(),
		Sender:    SenderBot,
		Text:      text,
		Timestamp: time.Now(),
	}
}

// NewWelcomeMessage creates the synthetic greeting shown before the first send.
func NewWelcomeMessage(text string) Message {
	return Message{
		ID:         welcomeMessageID,
		Sender:     SenderBot,
		Text:       text,
		Timestamp:  time.Now(),
		NoFeedback: true,
	}
}

// NewErrorMessage creates a synthetic bot message reporting a failure that is not tied to a response.
func NewErrorMessage(text string) Message {
	return Message{
		ID:         uuid.NewString(),
		Sender:     SenderBot,
		Text:       text,
		Timestamp:  time.Now(),
		NoFeedback: true,
	}
}

// IsWelcome reports whether the message is the welcome greeting.
func (m Message) IsWelcome() bool {
	return m.ID == welcomeMessageID
}

// Rateable reports whether the message offers rating controls: bot answers that were neither synthetic
// nor stopped.
func (m Message) Rateable() bool {
	return m.Sender == SenderBot && !m.NoFeedback && !m.Stopped
}

// RemoveWelcome returns messages without the welcome greeting. The input slice is not modified.
func RemoveWelcome(messages []Message) []Message {
	res := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.IsWelcome() {
			continue
		}
		res = append(res, m)
	}
	return res
}
