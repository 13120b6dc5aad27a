package handler

import (
	"io/fs"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/wordquiz/wordquiz/internal/audio"
	"github.com/wordquiz/wordquiz/internal/auth"
	"github.com/wordquiz/wordquiz/internal/authoring"
	"github.com/wordquiz/wordquiz/internal/grading"
	appI18n "github.com/wordquiz/wordquiz/internal/i18n"
	"github.com/wordquiz/wordquiz/internal/model"
	"github.com/wordquiz/wordquiz/internal/progress"
	"github.com/wordquiz/wordquiz/internal/share"
	"github.com/wordquiz/wordquiz/internal/storage"
	"github.com/wordquiz/wordquiz/internal/store"
)

// Deps are the services the HTTP layer dispatches to. Audio and Blobs are
// nil when speech synthesis is disabled.
type Deps struct {
	Store     *store.Store
	Authoring *authoring.Service
	Audio     *audio.Pipeline
	Grader    *grading.Grader
	Shares    *share.Service
	Guests    *auth.Guests
	Blobs     *storage.FSStore
}

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	Deps
	config      model.ServerConfig
	corsOrigins []string
	generating  *progress.Tracker // keyed by teacher id
}

// New creates a new Handler.
func New(d Deps, cfg model.ServerConfig, corsOrigins []string) *Handler {
	cfg.BasePath = strings.TrimRight(cfg.BasePath, "/")
	return &Handler{Deps: d, config: cfg, corsOrigins: corsOrigins, generating: progress.NewTracker()}
}

// Router builds the complete HTTP handler, mounted under the base path.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	if len(h.corsOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   h.corsOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Authorization", "Content-Type", "Accept-Language"},
			ExposedHeaders:   []string{"Content-Length"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}
	r.Use(appI18n.Middleware)

	if h.config.BasePath != "" {
		r.Route(h.config.BasePath, h.Routes)
		r.Get("/healthz", h.handleHealth)
	} else {
		h.Routes(r)
	}
	return r
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/healthz", h.handleHealth)
	if h.Blobs != nil {
		files := http.FileServer(noDirs{http.Dir(h.Blobs.Dir())})
		r.Handle("/audio/*", http.StripPrefix(h.path("/audio/"), files))
	}
	r.Get("/s/{token}", h.handleShareLanding)

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/login", h.handleLogin)
		r.With(h.requireAuth).Post("/auth/logout", h.handleLogout)
		r.With(h.requireAuth).Get("/auth/me", h.handleMe)

		r.Get("/share/{token}", h.handleResolveShare)
		r.Post("/share/{token}/start", h.handleStartShare)

		r.With(h.requireTaker).Get("/results/{id}", h.handleGetResult)

		r.Route("/quizzes/{id}", func(r chi.Router) {
			r.With(h.requireTaker).Get("/take", h.handleTakeQuiz)
			r.With(h.requireTaker).Post("/submit", h.handleSubmit)

			r.Group(func(r chi.Router) {
				r.Use(h.requireAuth, requireRole(model.UserRoleTeacher, model.UserRoleAdmin))
				r.Get("/", h.handleGetQuiz)
				r.Delete("/", h.handleDeleteQuiz)
				r.Put("/problems/{pid}", h.handleEditProblem)
				r.Post("/problems/{pid}/regenerate", h.handleRegenerateProblem)
				r.Post("/problems/{pid}/audio", h.handleSynthesizeProblem)
				r.Post("/audio", h.handleEnqueueAudio)
				r.Get("/audio/progress", h.handleAudioProgress)
				r.Post("/shares", h.handleCreateShare)
				r.Get("/shares", h.handleListShares)
				r.Get("/results", h.handleQuizResults)
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(h.requireAuth, requireRole(model.UserRoleTeacher, model.UserRoleAdmin))
			r.Post("/quizzes", h.handleCreateQuiz)
			r.Get("/quizzes", h.handleListQuizzes)
			r.Get("/quizzes/generation/progress", h.handleGenerationProgress)
			r.Post("/wordlists", h.handleParseWordList)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(h.requireAuth, requireRole(model.UserRoleAdmin))
			r.Get("/users", h.handleListUsers)
			r.Post("/users", h.handleCreateUser)
			r.Post("/users/{userID}/active", h.handleSetUserActive)
		})
	})
}

// path prefixes p with the configured base path.
func (h *Handler) path(p string) string {
	return h.config.BasePath + p
}

// shareURL is the absolute link handed to takers.
func (h *Handler) shareURL(token string) string {
	return strings.TrimRight(h.config.PublicURL, "/") + h.path("/s/"+token)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Ping(r.Context()); err != nil {
		slog.Error("health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// noDirs hides directory listings of the audio tree.
type noDirs struct{ fs http.FileSystem }

func (n noDirs) Open(name string) (http.File, error) {
	f, err := n.fs.Open(name)
	if err != nil {
		return nil, err
	}
	if st, err := f.Stat(); err == nil && st.IsDir() {
		_ = f.Close()
		return nil, fs.ErrNotExist
	}
	return f, nil
}
