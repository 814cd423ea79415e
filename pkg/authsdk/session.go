package authsdk

import (
	"context"
	"net/http"
	"sync"
	"time"
)

// Session is an authenticated handle on the auth service. It carries the
// bearer token and tracks the expiry information the service reports on each
// authenticated response. Safe for concurrent use.
type Session struct {
	client    *SDKClient
	token     string
	sessionID string
	identity  Identity

	mu            sync.Mutex
	expiresAt     time.Time
	expiryWarning bool
}

// Token returns the raw bearer token, e.g. for persisting across restarts.
func (s *Session) Token() string {
	return s.token
}

// Identity returns the account view captured at authentication time. Zero
// value for sessions built with NewSessionFromToken.
func (s *Session) Identity() Identity {
	return s.identity
}

// ExpiresAt returns when the session will die without further activity, as
// of the last authenticated request. Zero before the first request.
func (s *Session) ExpiresAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expiresAt
}

// ExpiryWarning reports whether the service flagged the session as close to
// expiry on the last authenticated request.
func (s *Session) ExpiryWarning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expiryWarning
}

// Sessions lists the account's active sessions. The one backing this Session
// is marked Current.
func (s *Session) Sessions(ctx context.Context) ([]SessionInfo, error) {
	resp, err := s.doAuthRequest(ctx, http.MethodGet, "/v1/sessions", nil)
	if err != nil {
		return nil, err
	}

	var out struct {
		Sessions []SessionInfo `json:"sessions"`
	}
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return out.Sessions, nil
}

// Logout revokes this session. The token is dead afterwards.
func (s *Session) Logout(ctx context.Context) error {
	resp, err := s.doAuthRequest(ctx, http.MethodPost, "/v1/logout", nil)
	if err != nil {
		return err
	}
	return checkStatusNoContent(resp)
}

// RevokeSession signs out one of the account's other sessions by id.
func (s *Session) RevokeSession(ctx context.Context, sessionID string) error {
	resp, err := s.doAuthRequest(ctx, http.MethodDelete, "/v1/sessions/"+sessionID, nil)
	if err != nil {
		return err
	}
	return checkStatusNoContent(resp)
}

// RevokeAllOtherSessions signs the account out everywhere except this
// session. Fresh credentials are required; code may be empty when MFA is
// disabled.
func (s *Session) RevokeAllOtherSessions(ctx context.Context, password, code string) error {
	resp, err := s.doAuthRequest(ctx, http.MethodPost, "/v1/sessions/revoke-all", map[string]string{
		"password": password,
		"code":     code,
	})
	if err != nil {
		return err
	}
	return checkStatusNoContent(resp)
}

// MFAStatus reports the account's second-factor state.
func (s *Session) MFAStatus(ctx context.Context) (*MFAStatus, error) {
	resp, err := s.doAuthRequest(ctx, http.MethodGet, "/v1/mfa", nil)
	if err != nil {
		return nil, err
	}

	var status MFAStatus
	if err := decodeJSON(resp, &status, http.StatusOK); err != nil {
		return nil, err
	}
	return &status, nil
}

// EnrollTOTP starts TOTP enrollment. The returned secret, provisioning URI,
// and backup codes are shown exactly once; MFA stays off until VerifyTOTP
// confirms a code from the authenticator.
func (s *Session) EnrollTOTP(ctx context.Context) (*MFAEnrollment, error) {
	resp, err := s.doAuthRequest(ctx, http.MethodPost, "/v1/mfa/totp/enroll", nil)
	if err != nil {
		return nil, err
	}

	var enrollment MFAEnrollment
	if err := decodeJSON(resp, &enrollment, http.StatusOK); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// VerifyTOTP confirms the pending enrollment with a code from the
// authenticator app, switching MFA on.
func (s *Session) VerifyTOTP(ctx context.Context, code string) error {
	resp, err := s.doAuthRequest(ctx, http.MethodPost, "/v1/mfa/totp/verify", map[string]string{
		"code": code,
	})
	if err != nil {
		return err
	}

	var out struct {
		State string `json:"state"`
	}
	return decodeJSON(resp, &out, http.StatusOK)
}

// RegenerateBackupCodes replaces the account's backup codes. Fresh
// credentials including a valid code are required; the previous batch is
// invalidated.
func (s *Session) RegenerateBackupCodes(ctx context.Context, password, code string) ([]string, error) {
	resp, err := s.doAuthRequest(ctx, http.MethodPost, "/v1/mfa/backup-codes", map[string]string{
		"password": password,
		"code":     code,
	})
	if err != nil {
		return nil, err
	}

	var out struct {
		BackupCodes []string `json:"backup_codes"`
	}
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return out.BackupCodes, nil
}

// DisableMFA switches the second factor off. Fresh credentials including a
// valid code are required.
func (s *Session) DisableMFA(ctx context.Context, password, code string) error {
	resp, err := s.doAuthRequest(ctx, http.MethodDelete, "/v1/mfa/totp", map[string]string{
		"password": password,
		"code":     code,
	})
	if err != nil {
		return err
	}

	var out struct {
		State string `json:"state"`
	}
	return decodeJSON(resp, &out, http.StatusOK)
}

// SSOConnections lists the account's linked identity providers.
func (s *Session) SSOConnections(ctx context.Context) ([]SSOConnection, error) {
	resp, err := s.doAuthRequest(ctx, http.MethodGet, "/v1/sso/connections", nil)
	if err != nil {
		return nil, err
	}

	var out struct {
		Connections []SSOConnection `json:"connections"`
	}
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return out.Connections, nil
}
