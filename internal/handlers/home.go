package handlers

import (
	"log/slog"
	"net/http"

	"github.com/skyegpt/skyegpt-web/internal/feedback"
)

type homePageData struct {
	SessionID string
	Messages  []messageView
	Loading   bool
	Status    []string
	Modal     feedback.ModalState
	Version   string
}

// HandleHome renders the chat page of the request's session. A request without a live session starts a
// new one, creating its conversation with the backend first.
func (m Main) HandleHome(w http.ResponseWriter, r *http.Request) {
	sess, ok := m.session(r)
	if !ok {
		sess = m.newSession(r.Context())
		http.SetCookie(w, &http.Cookie{
			Name:     sessionCookie,
			Value:    sess.id,
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
	}

	messages := sess.controller.Messages()
	views := make([]messageView, 0, len(messages))
	for _, msg := range messages {
		v, err := m.messageView(sess, msg)
		if err != nil {
			m.logger.Error("Failed to render message",
				slog.String("messageID", msg.ID),
				slog.String(errLoggerKey, err.Error()))
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		views = append(views, v)
	}

	status := sess.controller.Status()
	data := homePageData{
		SessionID: sess.id,
		Messages:  views,
		Loading:   status.Loading,
		Status:    status.Texts,
		Modal:     sess.feedback.Modal(),
		Version:   m.version(r.Context()),
	}

	if err := m.templates.ExecuteTemplate(w, "home.html", data); err != nil {
		m.logger.Error("Failed to execute home template", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
