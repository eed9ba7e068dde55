package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/skyegpt/skyegpt-web/internal/chat"
)

type sendResponse struct {
	MessageID string `json:"messageId"`
}

// HandleChats starts a send for the request's session. It accepts the user's input in the "message" form
// field. While a send is in flight the request is refused with 409 Conflict, unless the "supersede" field
// is true, in which case the running send is cancelled first. Blank input is refused before it counts
// against the session's send rate.
//
// The response only carries the id of the bot message; its content arrives over the session's SSE
// stream as the answer is streamed.
func (m Main) HandleChats(w http.ResponseWriter, r *http.Request) {
	sess, ok := m.session(r)
	if !ok {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	input := r.FormValue("message")
	if strings.TrimSpace(input) == "" {
		http.Error(w, "Message is required", http.StatusBadRequest)
		return
	}

	supersede, _ := strconv.ParseBool(r.FormValue("supersede"))
	if sess.controller.Loading() && !supersede {
		http.Error(w, "A response is still streaming", http.StatusConflict)
		return
	}

	if !sess.limiter.Allow() {
		m.logger.Warn("Send rate exceeded", slog.String("sessionID", sess.id))
		http.Error(w, "Too many messages", http.StatusTooManyRequests)
		return
	}

	send := sess.controller.SendIfIdle
	if supersede {
		send = sess.controller.Send
	}
	botID, err := send(input)
	switch {
	case errors.Is(err, chat.ErrEmptyInput):
		http.Error(w, "Message is required", http.StatusBadRequest)
		return
	case errors.Is(err, chat.ErrBusy):
		http.Error(w, "A response is still streaming", http.StatusConflict)
		return
	case errors.Is(err, chat.ErrClosed):
		http.Error(w, "Session is closed", http.StatusGone)
		return
	case err != nil:
		m.logger.Error("Failed to send message", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusAccepted, sendResponse{MessageID: botID})
}

// HandleStop cancels the send in flight of the request's session and returns once its message is
// finalized. Stopping an idle session succeeds too.
func (m Main) HandleStop(w http.ResponseWriter, r *http.Request) {
	sess, ok := m.session(r)
	if !ok {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	sess.controller.Stop()
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
