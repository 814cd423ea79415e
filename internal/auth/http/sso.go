package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/dottirhealth/dottir/internal/auth/service"
	"github.com/dottirhealth/dottir/pkg/httpx"
	"github.com/dottirhealth/dottir/pkg/slogx"
)

// SSOHandler drives the browser-facing side of the SSO authorization-code
// flow.
type SSOHandler struct {
	SSOService  *service.SSOService
	AuthService *service.AuthService
}

// HandleListProviders handles GET /v1/sso/providers.
func (h *SSOHandler) HandleListProviders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	providers, err := h.SSOService.ListProviders(ctx)
	if err != nil {
		log.Error("failed to list SSO providers", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "Internal server error")
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]any{"providers": providers})
}

// HandleAuthorize handles GET /v1/sso/{provider}/authorize, redirecting the
// browser to the provider with a fresh state nonce.
func (h *SSOHandler) HandleAuthorize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	providerID := r.PathValue("provider")

	authorizeURL, _, err := h.SSOService.BeginAuthorization(ctx, providerID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrProviderNotFound):
			httpx.WriteError(w, http.StatusNotFound, "provider_not_found", "No such SSO provider")
		case errors.Is(err, service.ErrProviderDisabled):
			httpx.WriteError(w, http.StatusNotFound, "provider_not_found", "No such SSO provider")
		default:
			log.Error("failed to begin SSO authorization", "provider", providerID, "err", err)
			httpx.WriteError(w, http.StatusInternalServerError, "server_error", "Internal server error")
		}
		return
	}

	httpx.NoCache(w)
	http.Redirect(w, r, authorizeURL, http.StatusFound)
}

type ssoCallbackRequest struct {
	Code       string `json:"code"`
	State      string `json:"state"`
	DeviceInfo string `json:"device_info"`
}

// HandleCallback handles POST /v1/sso/{provider}/callback. The frontend
// posts the code and state it received on its redirect URI; the response is
// the same shape as password login, MFA gate included.
func (h *SSOHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	providerID := r.PathValue("provider")

	var req ssoCallbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}
	if req.Code == "" || req.State == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "code and state are required")
		return
	}

	result, err := h.AuthService.LoginViaSSO(ctx, providerID, req.Code, req.State, req.DeviceInfo, clientIP(r))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrCSRFViolation):
			log.Warn("SSO state mismatch", "provider", providerID)
			httpx.WriteError(w, http.StatusUnauthorized, "invalid_state", "State mismatch; restart the sign-in flow")
		case errors.Is(err, service.ErrProviderNotFound), errors.Is(err, service.ErrProviderDisabled):
			httpx.WriteError(w, http.StatusNotFound, "provider_not_found", "No such SSO provider")
		case errors.Is(err, service.ErrEmailNotVerified):
			httpx.WriteError(w, http.StatusForbidden, "email_not_verified", "The provider reports this email as unverified")
		case errors.Is(err, service.ErrTokenExchangeFailed), errors.Is(err, service.ErrUserInfoFailed):
			log.Error("SSO provider exchange failed", "provider", providerID, "err", err)
			httpx.WriteError(w, http.StatusBadGateway, "provider_error", "The identity provider rejected the sign-in")
		default:
			log.Error("SSO login failed", "provider", providerID, "err", err)
			httpx.WriteError(w, http.StatusInternalServerError, "server_error", "Internal server error")
		}
		return
	}

	writeLoginResult(w, result)
}

// HandleConnections handles GET /v1/sso/connections, listing the caller's
// linked providers.
func (h *SSOHandler) HandleConnections(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	identityID := httpx.IdentityIDFromCtx(ctx)

	conns, err := h.SSOService.Connections(ctx, identityID)
	if err != nil {
		log.Error("failed to list SSO connections", "identity_id", identityID, "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "Internal server error")
		return
	}

	type connectionView struct {
		ProviderID string `json:"provider_id"`
		CreatedAt  string `json:"created_at"`
	}
	views := make([]connectionView, 0, len(conns))
	for _, c := range conns {
		views = append(views, connectionView{
			ProviderID: c.ProviderID,
			CreatedAt:  c.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"connections": views})
}
