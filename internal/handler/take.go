package handler

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wordquiz/wordquiz/internal/grading"
	"github.com/wordquiz/wordquiz/internal/model"
	"github.com/wordquiz/wordquiz/internal/store"
)

// guestScoped rejects guest tokens issued for a different quiz and share
// links that can no longer be used.
func (h *Handler) guestScoped(w http.ResponseWriter, r *http.Request, quizID string) bool {
	claims := guestFromContext(r.Context())
	if claims == nil {
		return true
	}
	if claims.Quiz != quizID {
		writeKind(w, r, kindForbidden, fmt.Errorf("guest token for quiz %s used on %s", claims.Quiz, quizID))
		return false
	}
	if _, err := h.Shares.Check(r.Context(), claims.Share); err != nil {
		writeError(w, r, err)
		return false
	}
	return true
}

// handleTakeQuiz serves the answer-free view of a quiz.
func (h *Handler) handleTakeQuiz(w http.ResponseWriter, r *http.Request) {
	quizID := chi.URLParam(r, "id")
	if !h.guestScoped(w, r, quizID) {
		return
	}
	q, err := h.Store.GetStudentQuiz(r.Context(), quizID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	quizID := chi.URLParam(r, "id")
	if !h.guestScoped(w, r, quizID) {
		return
	}
	if guestFromContext(r.Context()) == nil {
		// Teachers preview quizzes but never record results.
		if u := model.UserFromContext(r.Context()); u == nil || u.Role != model.UserRoleStudent {
			writeKind(w, r, kindForbidden, nil)
			return
		}
	}

	var req struct {
		Answers grading.Answers `json:"answers"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	out, err := h.Grader.Submit(r.Context(), quizID, *model.TakerFromContext(r.Context()), req.Answers)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// handleGetResult returns a result to the taker who produced it or to the
// owner of the quiz. Anyone else gets not found.
func (h *Handler) handleGetResult(w http.ResponseWriter, r *http.Request) {
	res, err := h.Store.GetResult(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !h.canSeeResult(r, res) {
		writeError(w, r, store.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) canSeeResult(r *http.Request, res *model.Result) bool {
	if claims := guestFromContext(r.Context()); claims != nil {
		return res.Taker.ShareToken == claims.Share && res.Taker.AnonymousName == claims.Name
	}
	u := model.UserFromContext(r.Context())
	switch {
	case u == nil:
		return false
	case u.Role == model.UserRoleStudent:
		return res.Taker.StudentID == u.ID
	case u.Role == model.UserRoleAdmin:
		return true
	}
	_, err := h.Authoring.OwnedQuiz(r.Context(), u.ID, res.QuizID)
	return err == nil
}
