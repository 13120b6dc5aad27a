package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/wordquiz/wordquiz/internal/model"
	"github.com/wordquiz/wordquiz/internal/store"
)

func (h *Handler) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.Store.ListUsers(r.Context())
	if err != nil {
		slog.Error("failed to list users", "error", err)
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (h *Handler) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username    string `json:"username"`
		DisplayName string `json:"display_name"`
		Password    string `json:"password"`
		Role        string `json:"role"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		writeKind(w, r, kindBadRequest, errors.New("username and password are required"))
		return
	}
	role := model.UserRole(req.Role)
	switch role {
	case "":
		role = model.UserRoleStudent
	case model.UserRoleStudent, model.UserRoleTeacher, model.UserRoleAdmin:
	default:
		writeKind(w, r, kindBadRequest, fmt.Errorf("unknown role %q", req.Role))
		return
	}

	existing, err := h.Store.GetUserByUsername(r.Context(), req.Username)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if existing != nil {
		writeKind(w, r, errorKind{http.StatusConflict, "conflict", "ErrBadRequest", true}, fmt.Errorf("username %q is taken", req.Username))
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		slog.Error("failed to hash password", "error", err)
		writeError(w, r, err)
		return
	}
	if req.DisplayName == "" {
		req.DisplayName = req.Username
	}
	u := model.User{
		Username:     req.Username,
		DisplayName:  req.DisplayName,
		PasswordHash: string(hash),
		Role:         role,
		Active:       true,
	}
	id, err := h.Store.CreateUser(r.Context(), u)
	if err != nil {
		writeError(w, r, err)
		return
	}
	u.ID = id
	writeJSON(w, http.StatusCreated, u)
}

func (h *Handler) handleSetUserActive(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil {
		writeKind(w, r, kindBadRequest, err)
		return
	}
	var req struct {
		Active bool `json:"active"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if me := model.UserFromContext(r.Context()); me.ID == id && !req.Active {
		writeKind(w, r, kindBadRequest, errors.New("admins cannot deactivate themselves"))
		return
	}
	if err := h.Store.SetUserActive(r.Context(), id, req.Active); err != nil {
		slog.Error("failed to set user active", "id", id, "error", err)
		writeError(w, r, err)
		return
	}
	u, err := h.Store.GetUserByID(r.Context(), id)
	if err == nil && u == nil {
		err = store.ErrNotFound
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}
