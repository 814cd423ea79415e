package authsdk

import (
	"context"
	"net/http"
	"strings"
	"time"
)

// SDKClient is a client for the Dottir auth service. It covers the
// unauthenticated endpoints and produces authenticated Sessions.
type SDKClient struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewSDKClient creates a new auth service client.
func NewSDKClient(baseURL string) *SDKClient {
	return &SDKClient{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Login authenticates with email and password. When the account has MFA
// enabled the result carries a challenge id instead of a session; pass it to
// CompleteMFA with a TOTP or backup code to finish.
func (c *SDKClient) Login(ctx context.Context, email, password, deviceInfo string) (*AuthResult, error) {
	body := map[string]string{
		"email":       email,
		"password":    password,
		"device_info": deviceInfo,
	}

	resp, err := c.postJSON(ctx, "/v1/login", body)
	if err != nil {
		return nil, err
	}

	var ar authResponse
	if err := decodeJSON(resp, &ar, http.StatusOK); err != nil {
		return nil, err
	}
	return c.newAuthResult(ar), nil
}

// Register creates a new account and signs it in.
func (c *SDKClient) Register(ctx context.Context, email, displayName, password, deviceInfo string) (*AuthResult, error) {
	body := map[string]string{
		"email":        email,
		"display_name": displayName,
		"password":     password,
		"device_info":  deviceInfo,
	}

	resp, err := c.postJSON(ctx, "/v1/register", body)
	if err != nil {
		return nil, err
	}

	var ar authResponse
	if err := decodeJSON(resp, &ar, http.StatusOK); err != nil {
		return nil, err
	}
	return c.newAuthResult(ar), nil
}

// CompleteMFA submits a TOTP or backup code against a pending login
// challenge. A wrong code returns ErrorCodeInvalidCode and leaves the
// challenge open for a retry until it expires.
func (c *SDKClient) CompleteMFA(ctx context.Context, challengeID, code, deviceInfo string) (*Session, error) {
	body := map[string]string{
		"challenge_id": challengeID,
		"code":         code,
		"device_info":  deviceInfo,
	}

	resp, err := c.postJSON(ctx, "/v1/login/mfa", body)
	if err != nil {
		return nil, err
	}

	var ar authResponse
	if err := decodeJSON(resp, &ar, http.StatusOK); err != nil {
		return nil, err
	}
	return c.newAuthResult(ar).Session, nil
}

// CancelMFA abandons a pending login challenge.
func (c *SDKClient) CancelMFA(ctx context.Context, challengeID string) error {
	resp, err := c.postJSON(ctx, "/v1/login/mfa/cancel", map[string]string{
		"challenge_id": challengeID,
	})
	if err != nil {
		return err
	}
	return checkStatusNoContent(resp)
}

// SSOProviders lists the enabled single-sign-on providers.
func (c *SDKClient) SSOProviders(ctx context.Context) ([]SSOProvider, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/v1/sso/providers", nil, nil)
	if err != nil {
		return nil, err
	}

	var out struct {
		Providers []SSOProvider `json:"providers"`
	}
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return out.Providers, nil
}

// CompleteSSOCallback finishes an SSO sign-in with the code and state the
// provider delivered to the redirect URI. The result carries the same MFA
// gate as password login.
func (c *SDKClient) CompleteSSOCallback(ctx context.Context, providerID, code, state, deviceInfo string) (*AuthResult, error) {
	body := map[string]string{
		"code":        code,
		"state":       state,
		"device_info": deviceInfo,
	}

	resp, err := c.postJSON(ctx, "/v1/sso/"+providerID+"/callback", body)
	if err != nil {
		return nil, err
	}

	var ar authResponse
	if err := decodeJSON(resp, &ar, http.StatusOK); err != nil {
		return nil, err
	}
	return c.newAuthResult(ar), nil
}

// NewSessionFromToken wraps an existing bearer token in a Session. Useful
// when the token was stored from a previous authentication.
func (c *SDKClient) NewSessionFromToken(token string) *Session {
	return &Session{client: c, token: token}
}

// Livez checks process liveness.
func (c *SDKClient) Livez(ctx context.Context) (*HealthStatus, error) {
	return c.health(ctx, "/livez")
}

// Readyz checks readiness, including the database.
func (c *SDKClient) Readyz(ctx context.Context) (*HealthStatus, error) {
	return c.health(ctx, "/readyz")
}

func (c *SDKClient) health(ctx context.Context, path string) (*HealthStatus, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return nil, err
	}

	var status HealthStatus
	if err := decodeJSON(resp, &status, http.StatusOK); err != nil {
		return nil, err
	}
	return &status, nil
}

func (c *SDKClient) newAuthResult(ar authResponse) *AuthResult {
	result := &AuthResult{
		ChallengeID: ar.ChallengeID,
		Identity:    ar.Identity,
	}
	if ar.Token != "" {
		result.Session = &Session{
			client:    c,
			token:     ar.Token,
			sessionID: ar.SessionID,
			identity:  ar.Identity,
		}
	}
	return result
}
