package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dottirhealth/dottir/internal/auth/service"
	"github.com/dottirhealth/dottir/pkg/httpx"
	"github.com/dottirhealth/dottir/pkg/slogx"
)

// SessionsHandler exposes session visibility and revocation to the signed-in
// user.
type SessionsHandler struct {
	SessionService *service.SessionService
	AuthService    *service.AuthService
}

// HandleList handles GET /v1/sessions. The session used to make the request
// is marked current.
func (h *SessionsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	identityID := httpx.IdentityIDFromCtx(ctx)
	token := httpx.SessionTokenFromCtx(ctx)

	sessions, err := h.SessionService.List(ctx, identityID, token)
	if err != nil {
		log.Error("failed to list sessions", "identity_id", identityID, "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "Internal server error")
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

// HandleLogout handles POST /v1/logout, revoking the current session.
func (h *SessionsHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	if err := h.SessionService.Revoke(ctx, httpx.SessionTokenFromCtx(ctx)); err != nil {
		log.Error("failed to revoke session", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "Internal server error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleRevoke handles DELETE /v1/sessions/{id}, signing out one of the
// caller's other devices.
func (h *SessionsHandler) HandleRevoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	identityID := httpx.IdentityIDFromCtx(ctx)
	sessionID := r.PathValue("id")

	if err := h.SessionService.RevokeByID(ctx, identityID, sessionID); err != nil {
		if errors.Is(err, service.ErrSessionNotFound) {
			httpx.WriteError(w, http.StatusNotFound, "session_not_found", "No such session")
			return
		}
		log.Error("failed to revoke session", "identity_id", identityID, "session_id", sessionID, "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "Internal server error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type revokeAllRequest struct {
	Password string `json:"password"`
	Code     string `json:"code"`
}

// HandleRevokeAll handles POST /v1/sessions/revoke-all. Signing out every
// other device requires fresh credentials, not just a live session.
func (h *SessionsHandler) HandleRevokeAll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	identityID := httpx.IdentityIDFromCtx(ctx)

	var req revokeAllRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}

	if err := h.AuthService.Reauthenticate(ctx, identityID, req.Password, req.Code); err != nil {
		writeReauthError(w, log, identityID, err)
		return
	}

	if err := h.SessionService.RevokeAllOthers(ctx, identityID, httpx.SessionTokenFromCtx(ctx)); err != nil {
		log.Error("failed to revoke sessions", "identity_id", identityID, "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "Internal server error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
