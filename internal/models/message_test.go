package models_test

import (
	"testing"

	"github.com/skyegpt/skyegpt-web/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestMessageRateable(t *testing.T) {
	stopped := models.NewBotMessage("Hello")
	stopped.Stopped = true

	tests := []struct {
		name string
		msg  models.Message
		want bool
	}{
		{name: "bot answer", msg: models.NewBotMessage("Hello"), want: true},
		{name: "stopped answer", msg: stopped, want: false},
		{name: "user message", msg: models.NewUserMessage("Hi"), want: false},
		{name: "welcome", msg: models.NewWelcomeMessage("Good morning"), want: false},
		{name: "error notice", msg: models.NewErrorMessage("Error: boom"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.msg.Rateable())
		})
	}
}
