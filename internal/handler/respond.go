package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sashabaranov/go-openai"

	"github.com/wordquiz/wordquiz/internal/audio"
	"github.com/wordquiz/wordquiz/internal/auth"
	"github.com/wordquiz/wordquiz/internal/authoring"
	"github.com/wordquiz/wordquiz/internal/generation"
	"github.com/wordquiz/wordquiz/internal/grading"
	appI18n "github.com/wordquiz/wordquiz/internal/i18n"
	"github.com/wordquiz/wordquiz/internal/share"
	"github.com/wordquiz/wordquiz/internal/store"
	"github.com/wordquiz/wordquiz/internal/tts"
	"github.com/wordquiz/wordquiz/internal/wordlist"
)

const maxBodyBytes = 1 << 20

// errorBody is the JSON shape of every API error.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

type errorKind struct {
	status int
	code   string
	msgID  string
	detail bool // echo err.Error() to the client
}

var (
	kindBadRequest   = errorKind{http.StatusBadRequest, "bad_request", "ErrBadRequest", true}
	kindUnauthorized = errorKind{http.StatusUnauthorized, "unauthorized", "ErrUnauthorized", false}
	kindForbidden    = errorKind{http.StatusForbidden, "forbidden", "ErrForbidden", false}
	kindInternal     = errorKind{http.StatusInternalServerError, "internal", "ErrInternal", false}
)

func classify(err error) errorKind {
	var statusErr *tts.StatusError
	var apiErr *openai.APIError
	switch {
	case errors.Is(err, authoring.ErrInvalidInput), errors.Is(err, wordlist.ErrEmpty), errors.Is(err, wordlist.ErrTooMany):
		return errorKind{http.StatusBadRequest, "invalid_input", "ErrInvalidInput", true}
	case errors.Is(err, auth.ErrInvalidName):
		return errorKind{http.StatusBadRequest, "invalid_name", "ErrInvalidName", false}
	case errors.Is(err, share.ErrInvalid):
		return errorKind{http.StatusNotFound, "share_invalid", "ErrShareInvalid", false}
	case errors.Is(err, store.ErrNotFound):
		return errorKind{http.StatusNotFound, "not_found", "ErrNotFound", false}
	case errors.Is(err, authoring.ErrForbidden):
		return kindForbidden
	case errors.Is(err, share.ErrAnonymousNotAllowed):
		return errorKind{http.StatusForbidden, "anonymous_not_allowed", "ErrAnonymousNotAllowed", false}
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, grading.ErrNoTaker):
		return kindUnauthorized
	case errors.Is(err, grading.ErrAttemptsExhausted), errors.Is(err, share.ErrAttemptsExhausted):
		return errorKind{http.StatusConflict, "attempts_exhausted", "ErrAttemptsExhausted", false}
	case errors.Is(err, grading.ErrShareExpired), errors.Is(err, share.ErrExpired):
		return errorKind{http.StatusGone, "share_expired", "ErrShareExpired", false}
	case errors.Is(err, audio.ErrInProgress):
		return errorKind{http.StatusConflict, "audio_in_progress", "ErrAudioInProgress", false}
	case errors.Is(err, audio.ErrStale):
		return errorKind{http.StatusConflict, "content_changed", "ErrContentChanged", false}
	case errors.Is(err, generation.ErrNoContent):
		return errorKind{http.StatusBadGateway, "generation_failed", "ErrGenerationFailed", true}
	case errors.As(err, &statusErr), errors.As(err, &apiErr), errors.Is(err, generation.ErrMalformedResponse):
		return errorKind{http.StatusBadGateway, "upstream", "ErrUpstream", false}
	}
	return kindInternal
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

// writeError maps err to a status and a localized message.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	writeKind(w, r, classify(err), err)
}

func writeKind(w http.ResponseWriter, r *http.Request, k errorKind, err error) {
	if k.status >= 500 {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "status", k.status, "error", err)
	} else {
		slog.Debug("request rejected", "method", r.Method, "path", r.URL.Path, "status", k.status, "error", err)
	}
	body := errorBody{Error: k.code, Message: appI18n.T(r.Context(), k.msgID)}
	if k.detail && err != nil {
		body.Detail = err.Error()
	}
	writeJSON(w, k.status, body)
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeKind(w, r, kindBadRequest, err)
		return false
	}
	return true
}
