package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wordquiz/wordquiz/internal/model"
	"github.com/wordquiz/wordquiz/internal/share"
)

type shareStartResponse struct {
	Token             string             `json:"token"`
	Quiz              *model.StudentQuiz `json:"quiz"`
	RemainingAttempts int                `json:"remaining_attempts"`
}

// handleResolveShare opens a share link. Every call counts as a view.
func (h *Handler) handleResolveShare(w http.ResponseWriter, r *http.Request) {
	res, err := h.Shares.Resolve(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleStartShare registers an anonymous name on a share link and hands
// back a guest token scoped to the grant's quiz.
func (h *Handler) handleStartShare(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	g, err := h.Shares.Check(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !g.AllowAnonymous {
		writeError(w, r, share.ErrAnonymousNotAllowed)
		return
	}
	tok, err := h.Guests.Issue(*g, req.Name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	q, err := h.Store.GetStudentQuiz(r.Context(), g.QuizID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	slog.Info("guest started share", "quiz_id", g.QuizID, "remaining", g.RemainingAttempts())
	writeJSON(w, http.StatusOK, shareStartResponse{Token: tok, Quiz: q, RemainingAttempts: g.RemainingAttempts()})
}

// handleShareLanding renders the page a share link opens in a browser.
func (h *Handler) handleShareLanding(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	res, err := h.Shares.Resolve(r.Context(), token)
	if err != nil {
		k := classify(err)
		if k.status >= 500 {
			slog.Error("share landing failed", "error", err)
		}
		w.WriteHeader(k.status)
		if err := errorPage(k.msgID).Render(r.Context(), w); err != nil {
			slog.Error("render error", "error", err)
		}
		return
	}
	if err := landingPage(res, h.shareURL(token)).Render(r.Context(), w); err != nil {
		slog.Error("render error", "error", err)
	}
}
