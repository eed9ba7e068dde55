package handlers

import (
	"net/http"

	"github.com/skyegpt/skyegpt-web/internal/models"
)

// HandleRating toggles the rating of a message. It expects "message_id" and "rating" (thumbs-up or
// thumbs-down) form fields and answers with the message's new rating state. The message is republished
// so the controls reflect the new state, and republished again if a failed submission rolls it back.
func (m Main) HandleRating(w http.ResponseWriter, r *http.Request) {
	sess, ok := m.session(r)
	if !ok {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	rating, err := models.ParseRating(r.FormValue("rating"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	msg, ok := sess.controller.Message(r.FormValue("message_id"))
	if !ok || !msg.Rateable() {
		http.Error(w, "Message cannot be rated", http.StatusBadRequest)
		return
	}

	st := sess.feedback.Rate(msg.ID, rating)
	publisher{m: m, sess: sess}.PublishMessage(msg)

	writeJSON(w, http.StatusOK, st)
}

// HandleFeedbackOpen opens the feedback modal for the message in the "message_id" form field.
func (m Main) HandleFeedbackOpen(w http.ResponseWriter, r *http.Request) {
	sess, ok := m.session(r)
	if !ok {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, sess.feedback.Open(r.FormValue("message_id")))
}

// HandleFeedbackSubmit submits the "text" form field as feedback on the message the modal was opened
// for. Validation and submission failures are reported inside the returned modal state.
func (m Main) HandleFeedbackSubmit(w http.ResponseWriter, r *http.Request) {
	sess, ok := m.session(r)
	if !ok {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	sess.feedback.SetText(r.FormValue("text"))
	writeJSON(w, http.StatusOK, sess.feedback.Submit(r.Context()))
}

// HandleFeedbackClose closes the feedback modal.
func (m Main) HandleFeedbackClose(w http.ResponseWriter, r *http.Request) {
	sess, ok := m.session(r)
	if !ok {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, sess.feedback.Close())
}

// HandleConfirmationClose dismisses the confirmation shown after a submission.
func (m Main) HandleConfirmationClose(w http.ResponseWriter, r *http.Request) {
	sess, ok := m.session(r)
	if !ok {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, sess.feedback.CloseConfirmation())
}
