package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dottirhealth/dottir/internal/auth/domain"
	"github.com/dottirhealth/dottir/internal/auth/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProvider is an in-process OAuth2 provider with counters so tests can
// assert that rejected callbacks never reach the network.
type fakeProvider struct {
	tokenCalls    atomic.Int64
	userinfoCalls atomic.Int64

	tokenStatus   int
	email         string
	emailVerified *bool
	sub           string

	server *httptest.Server
}

func newFakeProvider(t *testing.T) *fakeProvider {
	t.Helper()

	p := &fakeProvider{
		tokenStatus: http.StatusOK,
		email:       "alice@example.com",
		sub:         "provider-subject-1",
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /token", func(w http.ResponseWriter, r *http.Request) {
		p.tokenCalls.Add(1)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "authorization_code", r.PostForm.Get("grant_type"))
		assert.NotEmpty(t, r.PostForm.Get("code"))
		assert.NotEmpty(t, r.PostForm.Get("client_secret"))

		if p.tokenStatus != http.StatusOK {
			w.WriteHeader(p.tokenStatus)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "provider-access-token",
			"refresh_token": "provider-refresh-token",
			"expires_in":    3600,
			"token_type":    "Bearer",
		})
	})
	mux.HandleFunc("GET /userinfo", func(w http.ResponseWriter, r *http.Request) {
		p.userinfoCalls.Add(1)
		assert.Equal(t, "Bearer provider-access-token", r.Header.Get("Authorization"))

		resp := map[string]any{
			"sub":     p.sub,
			"email":   p.email,
			"name":    "Alice Example",
			"picture": "https://cdn.example.com/alice.png",
		}
		if p.emailVerified != nil {
			resp["email_verified"] = *p.emailVerified
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	})

	p.server = httptest.NewServer(mux)
	t.Cleanup(p.server.Close)
	return p
}

func (p *fakeProvider) register(t *testing.T, st store.Store, id string, enabled bool) {
	t.Helper()

	now := time.Now().UTC()
	require.NoError(t, st.SSOProviders().CreateSSOProvider(context.Background(), domain.SSOProvider{
		ID:               id,
		Name:             "Fake IdP",
		AuthorizationURL: p.server.URL + "/authorize",
		TokenURL:         p.server.URL + "/token",
		UserInfoURL:      p.server.URL + "/userinfo",
		ClientID:         "dottir-client",
		ClientSecret:     "dottir-secret",
		RedirectURI:      "https://app.example.com/sso/callback",
		Scopes:           []string{"openid", "email", "profile"},
		Enabled:          enabled,
		CreatedAt:        now,
		UpdatedAt:        now,
	}))
}

func TestSSOService_BeginAuthorization(t *testing.T) {
	st := newTestStore(t)
	svc := &SSOService{Store: st}
	ctx := context.Background()

	provider := newFakeProvider(t)
	provider.register(t, st, "fake-idp", true)

	authorizeURL, state, err := svc.BeginAuthorization(ctx, "fake-idp")
	require.NoError(t, err)
	require.NotEmpty(t, state)

	parsed, err := url.Parse(authorizeURL)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(parsed.Path, "/authorize"))
	q := parsed.Query()
	assert.Equal(t, "dottir-client", q.Get("client_id"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "openid email profile", q.Get("scope"))
	assert.Equal(t, state, q.Get("state"))
	assert.Equal(t, "https://app.example.com/sso/callback", q.Get("redirect_uri"))

	// Each authorization gets its own nonce
	_, state2, err := svc.BeginAuthorization(ctx, "fake-idp")
	require.NoError(t, err)
	assert.NotEqual(t, state, state2)
}

func TestSSOService_UnknownOrDisabledProvider(t *testing.T) {
	st := newTestStore(t)
	svc := &SSOService{Store: st}
	ctx := context.Background()

	provider := newFakeProvider(t)
	provider.register(t, st, "off-idp", false)

	_, _, err := svc.BeginAuthorization(ctx, "missing")
	assert.ErrorIs(t, err, ErrProviderNotFound)
	_, _, err = svc.BeginAuthorization(ctx, "off-idp")
	assert.ErrorIs(t, err, ErrProviderDisabled)

	// Disabled providers are not listed
	infos, err := svc.ListProviders(ctx)
	require.NoError(t, err)
	assert.Empty(t, infos)
}

func TestSSOService_CallbackStateMismatchMakesNoOutboundCall(t *testing.T) {
	st := newTestStore(t)
	svc := &SSOService{Store: st}
	ctx := context.Background()

	provider := newFakeProvider(t)
	provider.register(t, st, "fake-idp", true)

	_, _, err := svc.BeginAuthorization(ctx, "fake-idp")
	require.NoError(t, err)

	_, err = svc.CompleteCallback(ctx, "fake-idp", "auth-code", "forged-state")
	assert.ErrorIs(t, err, ErrCSRFViolation)

	assert.Equal(t, int64(0), provider.tokenCalls.Load())
	assert.Equal(t, int64(0), provider.userinfoCalls.Load())
}

func TestSSOService_CallbackStateIsSingleUse(t *testing.T) {
	st := newTestStore(t)
	svc := &SSOService{Store: st}
	ctx := context.Background()

	provider := newFakeProvider(t)
	provider.register(t, st, "fake-idp", true)

	_, state, err := svc.BeginAuthorization(ctx, "fake-idp")
	require.NoError(t, err)

	_, err = svc.CompleteCallback(ctx, "fake-idp", "auth-code", state)
	require.NoError(t, err)

	// Replaying the same state is a CSRF violation
	_, err = svc.CompleteCallback(ctx, "fake-idp", "auth-code", state)
	assert.ErrorIs(t, err, ErrCSRFViolation)
	assert.Equal(t, int64(1), provider.tokenCalls.Load())
}

func TestSSOService_CallbackCreatesIdentityOnFirstSignIn(t *testing.T) {
	st := newTestStore(t)
	svc := &SSOService{Store: st}
	ctx := context.Background()

	provider := newFakeProvider(t)
	provider.register(t, st, "fake-idp", true)

	_, state, err := svc.BeginAuthorization(ctx, "fake-idp")
	require.NoError(t, err)

	ident, err := svc.CompleteCallback(ctx, "fake-idp", "auth-code", state)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", ident.Email)
	assert.Equal(t, "Alice Example", ident.DisplayName)
	assert.Empty(t, ident.PasswordHash) // SSO-only identity

	conn, err := st.SSOConnections().GetSSOConnection(ctx, ident.ID, "fake-idp")
	require.NoError(t, err)
	assert.Equal(t, "provider-subject-1", conn.ProviderSubject)
	assert.Equal(t, "provider-access-token", conn.AccessToken)
	require.NotNil(t, conn.TokenExpiresAt)

	// A second sign-in resolves to the same identity and refreshes the link
	_, state, err = svc.BeginAuthorization(ctx, "fake-idp")
	require.NoError(t, err)
	again, err := svc.CompleteCallback(ctx, "fake-idp", "auth-code", state)
	require.NoError(t, err)
	assert.Equal(t, ident.ID, again.ID)

	conns, err := svc.Connections(ctx, ident.ID)
	require.NoError(t, err)
	assert.Len(t, conns, 1)
}

func TestSSOService_CallbackLinksExistingIdentityByEmail(t *testing.T) {
	st := newTestStore(t)
	svc := &SSOService{Store: st}
	ctx := context.Background()

	existing := createIdentity(t, st, "alice@example.com")

	provider := newFakeProvider(t)
	provider.register(t, st, "fake-idp", true)

	_, state, err := svc.BeginAuthorization(ctx, "fake-idp")
	require.NoError(t, err)

	ident, err := svc.CompleteCallback(ctx, "fake-idp", "auth-code", state)
	require.NoError(t, err)
	assert.Equal(t, existing.ID, ident.ID)
}

func TestSSOService_CallbackRejectsUnverifiedEmail(t *testing.T) {
	st := newTestStore(t)
	svc := &SSOService{Store: st}
	ctx := context.Background()

	provider := newFakeProvider(t)
	unverified := false
	provider.emailVerified = &unverified
	provider.register(t, st, "fake-idp", true)

	_, state, err := svc.BeginAuthorization(ctx, "fake-idp")
	require.NoError(t, err)

	_, err = svc.CompleteCallback(ctx, "fake-idp", "auth-code", state)
	assert.ErrorIs(t, err, ErrEmailNotVerified)

	// No identity was created for the rejected sign-in
	_, err = st.Identities().GetIdentityByEmail(ctx, "alice@example.com")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSSOService_CallbackTokenExchangeFailure(t *testing.T) {
	st := newTestStore(t)
	svc := &SSOService{Store: st}
	ctx := context.Background()

	provider := newFakeProvider(t)
	provider.tokenStatus = http.StatusBadRequest
	provider.register(t, st, "fake-idp", true)

	_, state, err := svc.BeginAuthorization(ctx, "fake-idp")
	require.NoError(t, err)

	_, err = svc.CompleteCallback(ctx, "fake-idp", "auth-code", state)
	assert.ErrorIs(t, err, ErrTokenExchangeFailed)
	assert.Equal(t, int64(0), provider.userinfoCalls.Load())
}

func TestSSOService_StateExpires(t *testing.T) {
	st := newTestStore(t)
	svc := &SSOService{Store: st, StateTTL: time.Millisecond}
	ctx := context.Background()

	provider := newFakeProvider(t)
	provider.register(t, st, "fake-idp", true)

	_, state, err := svc.BeginAuthorization(ctx, "fake-idp")
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	_, err = svc.CompleteCallback(ctx, "fake-idp", "auth-code", state)
	assert.ErrorIs(t, err, ErrCSRFViolation)
	assert.Equal(t, int64(0), provider.tokenCalls.Load())
}
