package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/dottirhealth/dottir/internal/auth/service"
	"github.com/dottirhealth/dottir/pkg/httpx"
	"github.com/dottirhealth/dottir/pkg/slogx"
)

// MFAHandler handles all MFA-related endpoints.
type MFAHandler struct {
	MFAService  *service.MFAService
	AuthService *service.AuthService
}

// HandleStatus handles GET /v1/mfa, reporting the enrollment state and how
// many backup codes remain.
func (h *MFAHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	identityID := httpx.IdentityIDFromCtx(ctx)

	state, err := h.MFAService.State(ctx, identityID)
	if err != nil {
		log.Error("failed to get MFA state", "identity_id", identityID, "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "Internal server error")
		return
	}

	remaining, err := h.MFAService.BackupCodesRemaining(ctx, identityID)
	if err != nil {
		log.Error("failed to count backup codes", "identity_id", identityID, "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "Internal server error")
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"state":                  state,
		"backup_codes_remaining": remaining,
	})
}

// HandleEnroll handles POST /v1/mfa/totp/enroll. The secret, provisioning
// URI, and backup codes in the response are shown exactly once.
func (h *MFAHandler) HandleEnroll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	identityID := httpx.IdentityIDFromCtx(ctx)

	setup, err := h.MFAService.BeginSetup(ctx, identityID)
	if err != nil {
		if errors.Is(err, service.ErrMFAAlreadyEnabled) {
			httpx.WriteError(w, http.StatusConflict, "mfa_already_enabled", "MFA is already enabled for this account")
			return
		}
		log.Error("failed to begin MFA setup", "identity_id", identityID, "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "Internal server error")
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"secret":           setup.Secret,
		"provisioning_uri": setup.ProvisioningURI,
		"backup_codes":     setup.BackupCodes,
	})
}

type totpVerifyRequest struct {
	Code string `json:"code"`
}

// HandleVerify handles POST /v1/mfa/totp/verify, confirming the pending
// secret and switching MFA on.
func (h *MFAHandler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	identityID := httpx.IdentityIDFromCtx(ctx)

	var req totpVerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}

	if err := h.MFAService.ConfirmSetup(ctx, identityID, req.Code); err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidTOTPCode):
			httpx.WriteError(w, http.StatusBadRequest, "invalid_code", "Invalid TOTP code")
		case errors.Is(err, service.ErrMFANotEnrolled):
			httpx.WriteError(w, http.StatusBadRequest, "mfa_not_enrolled", "Begin MFA setup first")
		case errors.Is(err, service.ErrMFAAlreadyEnabled):
			httpx.WriteError(w, http.StatusConflict, "mfa_already_enabled", "MFA is already enabled for this account")
		default:
			log.Error("failed to confirm MFA setup", "identity_id", identityID, "err", err)
			httpx.WriteError(w, http.StatusInternalServerError, "server_error", "Internal server error")
		}
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]string{"state": "enabled"})
}

type reauthGatedRequest struct {
	Password string `json:"password"`
	Code     string `json:"code"`
}

// HandleRegenerateBackupCodes handles POST /v1/mfa/backup-codes. Fresh
// credentials are required; the previous batch is invalidated.
func (h *MFAHandler) HandleRegenerateBackupCodes(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	identityID := httpx.IdentityIDFromCtx(ctx)

	var req reauthGatedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}

	if err := h.AuthService.Reauthenticate(ctx, identityID, req.Password, req.Code); err != nil {
		writeReauthError(w, log, identityID, err)
		return
	}

	codes, err := h.MFAService.RegenerateBackupCodes(ctx, identityID)
	if err != nil {
		if errors.Is(err, service.ErrMFANotEnabled) {
			httpx.WriteError(w, http.StatusBadRequest, "mfa_not_enabled", "MFA is not enabled for this account")
			return
		}
		log.Error("failed to regenerate backup codes", "identity_id", identityID, "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "Internal server error")
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]any{"backup_codes": codes})
}

// HandleRemove handles DELETE /v1/mfa/totp. Disabling the second factor is
// gated on fresh credentials including a valid code.
func (h *MFAHandler) HandleRemove(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	identityID := httpx.IdentityIDFromCtx(ctx)

	var req reauthGatedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}

	if err := h.AuthService.Reauthenticate(ctx, identityID, req.Password, req.Code); err != nil {
		writeReauthError(w, log, identityID, err)
		return
	}

	if err := h.MFAService.Disable(ctx, identityID); err != nil {
		if errors.Is(err, service.ErrMFANotEnabled) {
			httpx.WriteError(w, http.StatusBadRequest, "mfa_not_enabled", "MFA is not enabled for this account")
			return
		}
		log.Error("failed to disable MFA", "identity_id", identityID, "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "Internal server error")
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]string{"state": "disabled"})
}

// writeReauthError maps re-authentication failures for the reauth-gated
// endpoints (MFA disable, backup code regeneration, revoke-all).
func writeReauthError(w http.ResponseWriter, log *slog.Logger, identityID string, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidCredential):
		httpx.WriteError(w, http.StatusUnauthorized, "invalid_credentials", "Password verification failed")
	case errors.Is(err, service.ErrInvalidTOTPCode):
		httpx.WriteError(w, http.StatusUnauthorized, "invalid_code", "Invalid verification code")
	default:
		log.Error("re-authentication failed", "identity_id", identityID, "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "Internal server error")
	}
}
