package authsdk

import "time"

// Identity is the account view returned by authentication responses.
type Identity struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	Role        string `json:"role"`
}

// AuthResult is the outcome of a login, registration, or SSO callback.
// When MFARequired reports true, Session is nil and ChallengeID must be
// submitted via SDKClient.CompleteMFA to finish signing in.
type AuthResult struct {
	Session     *Session
	ChallengeID string
	Identity    Identity
}

// MFARequired reports whether the login was gated on a second factor.
func (r *AuthResult) MFARequired() bool {
	return r.ChallengeID != ""
}

// authResponse mirrors the service's authentication response body.
type authResponse struct {
	Token       string   `json:"token"`
	SessionID   string   `json:"session_id"`
	MFARequired bool     `json:"mfa_required"`
	ChallengeID string   `json:"challenge_id"`
	Identity    Identity `json:"identity"`
}

// SessionInfo describes one of the account's active sessions.
type SessionInfo struct {
	ID             string    `json:"id"`
	DeviceInfo     string    `json:"device_info"`
	IPAddress      string    `json:"ip_address"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
	Current        bool      `json:"current"`
}

// MFAStatus describes the account's second-factor state.
type MFAStatus struct {
	// State is one of "disabled", "verify_pending", or "enabled".
	State                string `json:"state"`
	BackupCodesRemaining int    `json:"backup_codes_remaining"`
}

// MFAEnrollment carries the one-time secrets from starting TOTP enrollment.
// None of these are recoverable afterwards.
type MFAEnrollment struct {
	Secret          string   `json:"secret"`
	ProvisioningURI string   `json:"provisioning_uri"`
	BackupCodes     []string `json:"backup_codes"`
}

// SSOProvider is a sign-in provider offered by the service.
type SSOProvider struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// SSOConnection is a linked external provider account.
type SSOConnection struct {
	ProviderID string `json:"provider_id"`
	CreatedAt  string `json:"created_at"`
}

// HealthStatus is the response of the health endpoints.
type HealthStatus struct {
	Status  string            `json:"status"`
	Uptime  string            `json:"uptime"`
	Version string            `json:"version"`
	Checks  map[string]string `json:"checks,omitempty"`
}
