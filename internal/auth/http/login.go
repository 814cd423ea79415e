package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dottirhealth/dottir/internal/auth/service"
	"github.com/dottirhealth/dottir/pkg/httpx"
	"github.com/dottirhealth/dottir/pkg/slogx"
)

// LoginHandler owns the password login flow, the MFA gate, and registration.
type LoginHandler struct {
	AuthService *service.AuthService
}

type loginRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	DeviceInfo string `json:"device_info"`
}

type registerRequest struct {
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Password    string `json:"password"`
	DeviceInfo  string `json:"device_info"`
}

type completeMFARequest struct {
	ChallengeID string `json:"challenge_id"`
	Code        string `json:"code"`
	DeviceInfo  string `json:"device_info"`
}

type cancelMFARequest struct {
	ChallengeID string `json:"challenge_id"`
}

// loginResponse is the shape of every successful authentication response.
// Exactly one of token or challenge_id is present.
type loginResponse struct {
	Token       string       `json:"token,omitempty"`
	SessionID   string       `json:"session_id,omitempty"`
	MFARequired bool         `json:"mfa_required,omitempty"`
	ChallengeID string       `json:"challenge_id,omitempty"`
	Identity    identityView `json:"identity"`
}

type identityView struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	Role        string `json:"role"`
}

func writeLoginResult(w http.ResponseWriter, result service.LoginResult) {
	resp := loginResponse{
		Identity: identityView{
			ID:          result.Identity.ID,
			Email:       result.Identity.Email,
			DisplayName: result.Identity.DisplayName,
			AvatarURL:   result.Identity.AvatarURL,
			Role:        result.Identity.Role,
		},
	}
	if result.MFARequired() {
		resp.MFARequired = true
		resp.ChallengeID = result.Challenge.ID
	} else {
		resp.Token = result.Token
		resp.SessionID = result.Session.ID
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

// HandleLogin handles POST /v1/login. When the identity has MFA enabled the
// response carries a challenge id instead of a session token.
func (h *LoginHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}
	if req.Email == "" || req.Password == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "email and password are required")
		return
	}

	result, err := h.AuthService.Login(ctx, req.Email, req.Password, req.DeviceInfo, clientIP(r))
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredential) {
			// Deliberately the same response whether the email or the
			// password was wrong.
			httpx.WriteError(w, http.StatusUnauthorized, "invalid_credentials", "Invalid email or password")
			return
		}
		log.Error("login failed", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "Internal server error")
		return
	}

	writeLoginResult(w, result)
}

// HandleCompleteMFA handles POST /v1/login/mfa. A wrong code leaves the
// challenge open for a retry until it expires.
func (h *LoginHandler) HandleCompleteMFA(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	var req completeMFARequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}

	result, err := h.AuthService.CompleteMFA(ctx, req.ChallengeID, req.Code, req.DeviceInfo, clientIP(r))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrChallengeNotFound):
			httpx.WriteError(w, http.StatusUnauthorized, "challenge_not_found", "Challenge not found or expired; start a new login")
		case errors.Is(err, service.ErrInvalidTOTPCode):
			httpx.WriteError(w, http.StatusUnauthorized, "invalid_code", "Invalid verification code")
		default:
			log.Error("failed to complete MFA login", "err", err)
			httpx.WriteError(w, http.StatusInternalServerError, "server_error", "Internal server error")
		}
		return
	}

	writeLoginResult(w, result)
}

// HandleCancelMFA handles POST /v1/login/mfa/cancel.
func (h *LoginHandler) HandleCancelMFA(w http.ResponseWriter, r *http.Request) {
	var req cancelMFARequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}

	h.AuthService.CancelMFA(req.ChallengeID)
	w.WriteHeader(http.StatusNoContent)
}

// HandleRegister handles POST /v1/register.
func (h *LoginHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}
	if req.Email == "" || req.Password == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "email and password are required")
		return
	}

	result, err := h.AuthService.Register(ctx, req.Email, req.DisplayName, req.Password, req.DeviceInfo, clientIP(r))
	if err != nil {
		if errors.Is(err, service.ErrEmailTaken) {
			httpx.WriteError(w, http.StatusConflict, "email_taken", "An account with this email already exists")
			return
		}
		log.Error("registration failed", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "Internal server error")
		return
	}

	writeLoginResult(w, result)
}

// clientIP mirrors the rate limiter's notion of the caller's address.
func clientIP(r *http.Request) string {
	return httpx.IPKeyExtractor(r)
}
