package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/wordquiz/wordquiz/internal/auth"
	"github.com/wordquiz/wordquiz/internal/model"
)

const sessionCookieName = "session"

var kindLoginFailed = errorKind{http.StatusUnauthorized, "login_failed", "ErrLoginFailed", false}

type guestCtxKey struct{}

func guestFromContext(ctx context.Context) *auth.GuestClaims {
	c, _ := ctx.Value(guestCtxKey{}).(*auth.GuestClaims)
	return c
}

// bearerToken returns the Authorization bearer credential, or "".
func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if tok, ok := strings.CutPrefix(h, "Bearer "); ok {
		return strings.TrimSpace(tok)
	}
	return ""
}

// sessionToken returns the auth-session token from the bearer header or the
// session cookie. Guest JWTs are not session tokens.
func sessionToken(r *http.Request) string {
	if tok := bearerToken(r); tok != "" && !auth.LooksLikeJWT(tok) {
		return tok
	}
	if c, err := r.Cookie(sessionCookieName); err == nil {
		return c.Value
	}
	return ""
}

// currentUser resolves the auth session of the request. A nil user with a
// nil error means the request is not signed in.
func (h *Handler) currentUser(r *http.Request) (*model.User, error) {
	tok := sessionToken(r)
	if tok == "" {
		return nil, nil
	}
	authSess, err := h.Store.GetAuthSession(r.Context(), tok)
	if err != nil || authSess == nil {
		return nil, err
	}
	user, err := h.Store.GetUserByID(r.Context(), authSess.UserID)
	if err != nil || user == nil || !user.Active {
		return nil, err
	}
	return user, nil
}

// requireAuth is middleware that checks for a valid auth session.
func (h *Handler) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := h.currentUser(r)
		if err != nil {
			slog.Error("failed to resolve auth session", "error", err)
			writeKind(w, r, kindInternal, err)
			return
		}
		if user == nil {
			writeKind(w, r, kindUnauthorized, nil)
			return
		}
		ctx := model.ContextWithUser(r.Context(), user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireRole returns middleware that checks the user has one of the allowed roles.
func requireRole(allowed ...model.UserRole) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := model.UserFromContext(r.Context())
			if user == nil {
				writeKind(w, r, kindUnauthorized, nil)
				return
			}
			for _, role := range allowed {
				if user.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeKind(w, r, kindForbidden, nil)
		})
	}
}

// requireTaker admits either a guest token issued for a share link or a
// signed-in user, and stores the resulting Taker in the context.
func (h *Handler) requireTaker(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if tok := bearerToken(r); auth.LooksLikeJWT(tok) {
			claims, err := h.Guests.Parse(tok)
			if err != nil {
				writeError(w, r, err)
				return
			}
			taker := claims.Taker()
			ctx := context.WithValue(r.Context(), guestCtxKey{}, claims)
			ctx = model.ContextWithTaker(ctx, &taker)
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}
		user, err := h.currentUser(r)
		if err != nil {
			writeKind(w, r, kindInternal, err)
			return
		}
		if user == nil {
			writeKind(w, r, kindUnauthorized, nil)
			return
		}
		ctx := model.ContextWithUser(r.Context(), user)
		ctx = model.ContextWithTaker(ctx, &model.Taker{StudentID: user.ID})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *Handler) cookiePath() string {
	if h.config.BasePath != "" {
		return h.config.BasePath + "/"
	}
	return "/"
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	user, err := h.Store.GetUserByUsername(r.Context(), req.Username)
	if err != nil {
		slog.Error("failed to get user", "error", err)
		writeKind(w, r, kindInternal, err)
		return
	}
	if user == nil || !user.Active {
		writeKind(w, r, kindLoginFailed, nil)
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		writeKind(w, r, kindLoginFailed, nil)
		return
	}

	token, err := h.Store.CreateAuthSession(r.Context(), user.ID)
	if err != nil {
		slog.Error("failed to create auth session", "error", err)
		writeKind(w, r, kindInternal, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     h.cookiePath(),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   h.config.SecureCookies,
	})
	slog.Info("user logged in", "user_id", user.ID, "role", user.Role)
	writeJSON(w, http.StatusOK, map[string]any{"token": token, "user": user})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if tok := sessionToken(r); tok != "" {
		if err := h.Store.DeleteAuthSession(r.Context(), tok); err != nil {
			slog.Warn("failed to delete auth session", "error", err)
		}
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     h.cookiePath(),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.SecureCookies,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, model.UserFromContext(r.Context()))
}
