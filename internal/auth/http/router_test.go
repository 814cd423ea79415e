package http

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dottirhealth/dottir/internal/auth/service"
	"github.com/dottirhealth/dottir/internal/auth/store/drivers/sqlite"
	"github.com/dottirhealth/dottir/pkg/cryptox"
	"github.com/dottirhealth/dottir/pkg/slogx"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	dir, err := os.MkdirTemp("", "auth-http-test")
	if err != nil {
		os.Exit(1)
	}
	cryptox.SetPepperPath(filepath.Join(dir, "pepper"))

	code := m.Run()
	_ = os.RemoveAll(dir)
	os.Exit(code)
}

// newTestServer wires a full router against a fresh sqlite store.
func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	st, err := sqlite.NewStore(filepath.Join(t.TempDir(), "auth.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.ApplyMigrations())

	sessions := &service.SessionService{
		Store:            st,
		InactivityWindow: 30 * time.Minute,
		WarnBefore:       5 * time.Minute,
	}
	mfa := &service.MFAService{Store: st, Issuer: "Dottir"}
	sso := &service.SSOService{Store: st}
	auth := &service.AuthService{
		Store:    st,
		Sessions: sessions,
		MFA:      mfa,
		SSO:      sso,
	}

	logger := slogx.New(slogx.Config{Service: "auth-test", Level: "error", Format: "text"})
	router := NewRouter("test", st, logger)
	router.AuthService = auth
	router.SessionService = sessions
	router.MFAService = mfa
	router.SSOService = sso
	router.ApplyRoutes()

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server
}

func doJSON(t *testing.T, method, rawURL, token string, body any) (*http.Response, map[string]any) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequest(method, rawURL, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	var decoded map[string]any
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &decoded))
	}
	return resp, decoded
}

func registerUser(t *testing.T, serverURL, email, password string) string {
	t.Helper()

	resp, body := doJSON(t, http.MethodPost, serverURL+"/v1/register", "", map[string]string{
		"email":        email,
		"display_name": "Test User",
		"password":     password,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	token, _ := body["token"].(string)
	require.NotEmpty(t, token)
	return token
}

func currentCode(t *testing.T, secret string) string {
	t.Helper()

	code, err := totp.GenerateCodeCustom(secret, time.Now(), totp.ValidateOpts{
		Period:    30,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	require.NoError(t, err)
	return code
}

func TestRegisterLoginLogout(t *testing.T) {
	server := newTestServer(t)

	token := registerUser(t, server.URL, "alice@example.com", "s3cret-passphrase")

	// The token works and the response advertises expiry
	resp, body := doJSON(t, http.MethodGet, server.URL+"/v1/sessions", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Session-Expires-At"))
	assert.Empty(t, resp.Header.Get("X-Session-Warning"))
	sessions := body["sessions"].([]any)
	require.Len(t, sessions, 1)
	assert.Equal(t, true, sessions[0].(map[string]any)["current"])

	// Duplicate registration is rejected
	resp, _ = doJSON(t, http.MethodPost, server.URL+"/v1/register", "", map[string]string{
		"email":    "alice@example.com",
		"password": "other-passphrase",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// Wrong password and unknown email give the same answer
	resp, body = doJSON(t, http.MethodPost, server.URL+"/v1/login", "", map[string]string{
		"email": "alice@example.com", "password": "wrong",
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "invalid_credentials", body["error"])
	resp, body = doJSON(t, http.MethodPost, server.URL+"/v1/login", "", map[string]string{
		"email": "nobody@example.com", "password": "s3cret-passphrase",
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "invalid_credentials", body["error"])

	// Logout revokes the session; further use is a 401
	resp, _ = doJSON(t, http.MethodPost, server.URL+"/v1/logout", token, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, body = doJSON(t, http.MethodGet, server.URL+"/v1/sessions", token, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "invalid_token", body["error"])
}

func TestAuthnMiddlewareRejectsBadHeaders(t *testing.T) {
	server := newTestServer(t)

	resp, body := doJSON(t, http.MethodGet, server.URL+"/v1/sessions", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "invalid_token", body["error"])

	resp, body = doJSON(t, http.MethodGet, server.URL+"/v1/sessions", "not-a-real-token", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "invalid_token", body["error"])
}

func TestMFAEnrollmentAndLoginFlow(t *testing.T) {
	server := newTestServer(t)

	token := registerUser(t, server.URL, "bob@example.com", "s3cret-passphrase")

	// Enroll: secret and backup codes come back exactly once
	resp, body := doJSON(t, http.MethodPost, server.URL+"/v1/mfa/totp/enroll", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	secret := body["secret"].(string)
	require.NotEmpty(t, secret)
	assert.Contains(t, body["provisioning_uri"].(string), "otpauth://totp/")
	backupCodes := body["backup_codes"].([]any)
	require.Len(t, backupCodes, 8)

	// Status shows verification pending until the code is confirmed
	resp, body = doJSON(t, http.MethodGet, server.URL+"/v1/mfa", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "verify_pending", body["state"])

	resp, _ = doJSON(t, http.MethodPost, server.URL+"/v1/mfa/totp/verify", token, map[string]string{"code": "000000"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = doJSON(t, http.MethodPost, server.URL+"/v1/mfa/totp/verify", token, map[string]string{"code": currentCode(t, secret)})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "enabled", body["state"])

	// A fresh login is now gated on the second factor
	resp, body = doJSON(t, http.MethodPost, server.URL+"/v1/login", "", map[string]string{
		"email": "bob@example.com", "password": "s3cret-passphrase",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["mfa_required"])
	assert.Empty(t, body["token"])
	challengeID := body["challenge_id"].(string)
	require.NotEmpty(t, challengeID)

	// Wrong code: 401, challenge still usable
	resp, _ = doJSON(t, http.MethodPost, server.URL+"/v1/login/mfa", "", map[string]string{
		"challenge_id": challengeID, "code": "000000",
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body = doJSON(t, http.MethodPost, server.URL+"/v1/login/mfa", "", map[string]string{
		"challenge_id": challengeID, "code": currentCode(t, secret),
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, body["token"])

	// The challenge was consumed
	resp, body = doJSON(t, http.MethodPost, server.URL+"/v1/login/mfa", "", map[string]string{
		"challenge_id": challengeID, "code": currentCode(t, secret),
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "challenge_not_found", body["error"])
}

func TestMFARemoveRequiresReauth(t *testing.T) {
	server := newTestServer(t)

	token := registerUser(t, server.URL, "carol@example.com", "s3cret-passphrase")

	resp, body := doJSON(t, http.MethodPost, server.URL+"/v1/mfa/totp/enroll", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	secret := body["secret"].(string)
	resp, _ = doJSON(t, http.MethodPost, server.URL+"/v1/mfa/totp/verify", token, map[string]string{"code": currentCode(t, secret)})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Password alone is not enough while MFA is on
	resp, _ = doJSON(t, http.MethodDelete, server.URL+"/v1/mfa/totp", token, map[string]string{
		"password": "s3cret-passphrase",
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Wrong password fails too
	resp, _ = doJSON(t, http.MethodDelete, server.URL+"/v1/mfa/totp", token, map[string]string{
		"password": "wrong", "code": currentCode(t, secret),
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body = doJSON(t, http.MethodDelete, server.URL+"/v1/mfa/totp", token, map[string]string{
		"password": "s3cret-passphrase", "code": currentCode(t, secret),
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "disabled", body["state"])

	resp, body = doJSON(t, http.MethodGet, server.URL+"/v1/mfa", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "disabled", body["state"])
	assert.Equal(t, float64(0), body["backup_codes_remaining"])
}

func TestSessionRevocation(t *testing.T) {
	server := newTestServer(t)

	tokenA := registerUser(t, server.URL, "dave@example.com", "s3cret-passphrase")

	// Second device
	resp, body := doJSON(t, http.MethodPost, server.URL+"/v1/login", "", map[string]string{
		"email": "dave@example.com", "password": "s3cret-passphrase",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	tokenB := body["token"].(string)
	sessionB := body["session_id"].(string)

	// Device A revokes device B by id
	resp, _ = doJSON(t, http.MethodDelete, server.URL+"/v1/sessions/"+sessionB, tokenA, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = doJSON(t, http.MethodGet, server.URL+"/v1/sessions", tokenB, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Revoking an unknown id is a 404
	resp, _ = doJSON(t, http.MethodDelete, server.URL+"/v1/sessions/"+sessionB, tokenA, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRevokeAllRequiresReauth(t *testing.T) {
	server := newTestServer(t)

	tokenA := registerUser(t, server.URL, "erin@example.com", "s3cret-passphrase")

	resp, body := doJSON(t, http.MethodPost, server.URL+"/v1/login", "", map[string]string{
		"email": "erin@example.com", "password": "s3cret-passphrase",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	tokenB := body["token"].(string)

	// Without fresh credentials nothing is revoked
	resp, _ = doJSON(t, http.MethodPost, server.URL+"/v1/sessions/revoke-all", tokenA, map[string]string{
		"password": "wrong",
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp, _ = doJSON(t, http.MethodGet, server.URL+"/v1/sessions", tokenB, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// With the right password every other session dies
	resp, _ = doJSON(t, http.MethodPost, server.URL+"/v1/sessions/revoke-all", tokenA, map[string]string{
		"password": "s3cret-passphrase",
	})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = doJSON(t, http.MethodGet, server.URL+"/v1/sessions", tokenB, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp, _ = doJSON(t, http.MethodGet, server.URL+"/v1/sessions", tokenA, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHealthEndpoints(t *testing.T) {
	server := newTestServer(t)

	resp, body := doJSON(t, http.MethodGet, server.URL+"/livez", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])

	resp, body = doJSON(t, http.MethodGet, server.URL+"/readyz", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}
