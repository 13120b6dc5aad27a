package handler

import (
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/wordquiz/wordquiz/internal/authoring"
	appI18n "github.com/wordquiz/wordquiz/internal/i18n"
	"github.com/wordquiz/wordquiz/internal/model"
	"github.com/wordquiz/wordquiz/internal/wordlist"
)

const maxUploadBytes = 10 << 20

var (
	kindAudioDisabled        = errorKind{http.StatusServiceUnavailable, "audio_disabled", "ErrAudioDisabled", false}
	kindGenerationInProgress = errorKind{http.StatusConflict, "generation_in_progress", "ErrGenerationInProgress", false}
)

// ownerScope is the teacher id ownership checks run against. Admins see
// every quiz.
func ownerScope(r *http.Request) int64 {
	u := model.UserFromContext(r.Context())
	if u == nil || u.Role == model.UserRoleAdmin {
		return 0
	}
	return u.ID
}

// ownedQuiz loads the quiz named in the route and writes the error response
// when it is missing or belongs to someone else.
func (h *Handler) ownedQuiz(w http.ResponseWriter, r *http.Request) (*model.Quiz, bool) {
	q, err := h.Authoring.OwnedQuiz(r.Context(), ownerScope(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return nil, false
	}
	return q, true
}

type createQuizResponse struct {
	Quiz        *model.Quiz       `json:"quiz"`
	Fulfillment model.Fulfillment `json:"fulfillment"`
	Partial     bool              `json:"partial"`
	Message     string            `json:"message,omitempty"`
}

func (h *Handler) handleCreateQuiz(w http.ResponseWriter, r *http.Request) {
	var in authoring.CreateQuizInput
	if !decodeJSON(w, r, &in) {
		return
	}
	user := model.UserFromContext(r.Context())
	key := generationKey(user.ID)
	if !h.generating.Start(key, len(in.Words)) {
		writeKind(w, r, kindGenerationInProgress, nil)
		return
	}
	q, f, err := h.Authoring.CreateQuiz(r.Context(), user.ID, in, func(current, total int) {
		slog.Debug("generation progress", "teacher_id", user.ID, "current", current, "total", total)
		h.generating.Advance(key, current, total)
	})
	h.generating.Finish(key, f.Requested-f.Fulfilled)
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := createQuizResponse{Quiz: q, Fulfillment: f, Partial: f.Partial()}
	if resp.Partial {
		resp.Message = appI18n.Td(r.Context(), "PartialGeneration", map[string]any{
			"Fulfilled": f.Fulfilled,
			"Requested": f.Requested,
		})
	}
	writeJSON(w, http.StatusCreated, resp)
}

func generationKey(teacherID int64) string {
	return strconv.FormatInt(teacherID, 10)
}

// handleGenerationProgress reports the caller's latest quiz generation.
func (h *Handler) handleGenerationProgress(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	p, _ := h.generating.Get(generationKey(user.ID))
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) handleListQuizzes(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	quizzes, err := h.Store.ListQuizzes(r.Context(), user.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, quizzes)
}

func (h *Handler) handleGetQuiz(w http.ResponseWriter, r *http.Request) {
	q, ok := h.ownedQuiz(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (h *Handler) handleDeleteQuiz(w http.ResponseWriter, r *http.Request) {
	if err := h.Authoring.DeleteQuiz(r.Context(), ownerScope(r), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleEditProblem(w http.ResponseWriter, r *http.Request) {
	var edit authoring.ProblemEdit
	if !decodeJSON(w, r, &edit) {
		return
	}
	p, err := h.Authoring.EditProblem(r.Context(), ownerScope(r), chi.URLParam(r, "id"),
		model.ProblemID(chi.URLParam(r, "pid")), edit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) handleRegenerateProblem(w http.ResponseWriter, r *http.Request) {
	p, err := h.Authoring.RegenerateProblem(r.Context(), ownerScope(r), chi.URLParam(r, "id"),
		model.ProblemID(chi.URLParam(r, "pid")))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// handleSynthesizeProblem regenerates the audio of one problem and waits
// for the new URL.
func (h *Handler) handleSynthesizeProblem(w http.ResponseWriter, r *http.Request) {
	if h.Audio == nil {
		writeKind(w, r, kindAudioDisabled, nil)
		return
	}
	q, ok := h.ownedQuiz(w, r)
	if !ok {
		return
	}
	p, err := h.Store.GetProblem(r.Context(), q.ID, model.ProblemID(chi.URLParam(r, "pid")))
	if err != nil {
		writeError(w, r, err)
		return
	}
	url, err := h.Audio.SynthesizeOne(r.Context(), q.ID, *p)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"audio_url": url})
}

func (h *Handler) handleEnqueueAudio(w http.ResponseWriter, r *http.Request) {
	if h.Audio == nil {
		writeKind(w, r, kindAudioDisabled, nil)
		return
	}
	q, ok := h.ownedQuiz(w, r)
	if !ok {
		return
	}
	if err := h.Audio.Enqueue(r.Context(), q.ID); err != nil {
		writeError(w, r, err)
		return
	}
	p, _ := h.Audio.Tracker().Get(q.ID)
	writeJSON(w, http.StatusAccepted, p)
}

func (h *Handler) handleAudioProgress(w http.ResponseWriter, r *http.Request) {
	if h.Audio == nil {
		writeKind(w, r, kindAudioDisabled, nil)
		return
	}
	q, ok := h.ownedQuiz(w, r)
	if !ok {
		return
	}
	p, _ := h.Audio.Tracker().Get(q.ID)
	writeJSON(w, http.StatusOK, p)
}

type shareResponse struct {
	model.ShareGrant
	URL string `json:"url"`
}

func (h *Handler) handleCreateShare(w http.ResponseWriter, r *http.Request) {
	req := struct {
		AllowAnonymous *bool `json:"allow_anonymous"`
		MaxAttempts    int   `json:"max_attempts"`
	}{}
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}
	q, ok := h.ownedQuiz(w, r)
	if !ok {
		return
	}
	allow := req.AllowAnonymous == nil || *req.AllowAnonymous
	g, err := h.Shares.Issue(r.Context(), q.ID, allow, req.MaxAttempts)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, shareResponse{ShareGrant: g, URL: h.shareURL(g.Token)})
}

func (h *Handler) handleListShares(w http.ResponseWriter, r *http.Request) {
	q, ok := h.ownedQuiz(w, r)
	if !ok {
		return
	}
	grants, err := h.Store.ListShareGrants(r.Context(), q.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]shareResponse, 0, len(grants))
	for _, g := range grants {
		out = append(out, shareResponse{ShareGrant: g, URL: h.shareURL(g.Token)})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleQuizResults(w http.ResponseWriter, r *http.Request) {
	q, ok := h.ownedQuiz(w, r)
	if !ok {
		return
	}
	export, err := h.Store.ExportResults(r.Context(), q.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, export)
}

// handleParseWordList turns an uploaded word file into a word list the
// teacher can review before creating a quiz.
func (h *Handler) handleParseWordList(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeKind(w, r, kindBadRequest, err)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeKind(w, r, kindBadRequest, err)
		return
	}
	defer file.Close()

	var words []string
	switch strings.ToLower(filepath.Ext(header.Filename)) {
	case ".xlsx", ".xlsm":
		words, err = wordlist.ParseXLSX(file)
	case ".csv":
		words, err = wordlist.ParseCSV(file)
	default:
		words, err = wordlist.ParseText(file)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	slog.Info("parsed word list", "filename", header.Filename, "count", len(words))
	writeJSON(w, http.StatusOK, map[string]any{"words": words})
}
