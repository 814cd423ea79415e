package service

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/dottirhealth/dottir/internal/auth/domain"
	"github.com/dottirhealth/dottir/internal/auth/store"
	"github.com/dottirhealth/dottir/pkg/idx"
	"github.com/google/uuid"
)

var (
	ErrProviderNotFound    = errors.New("SSO provider not found")
	ErrProviderDisabled    = errors.New("SSO provider is disabled")
	ErrCSRFViolation       = errors.New("SSO state mismatch")
	ErrTokenExchangeFailed = errors.New("SSO token exchange failed")
	ErrUserInfoFailed      = errors.New("SSO userinfo request failed")
	ErrEmailNotVerified    = errors.New("SSO provider reports email as unverified")
)

const (
	defaultStateTTL   = 10 * time.Minute
	ssoRequestTimeout = 10 * time.Second
)

// SSOService drives the authorization-code flow against administered
// identity providers. Issued state nonces are held in memory, are single
// use, and expire; a callback whose state does not match a live nonce is
// rejected before any outbound request is made.
type SSOService struct {
	Store      store.Store
	HTTPClient *http.Client  // nil means a default client with a 10s timeout
	StateTTL   time.Duration // zero means 10 minutes

	mu     sync.Mutex
	states map[string]ssoState
}

type ssoState struct {
	providerID string
	issuedAt   time.Time
}

// ListProviders returns the enabled providers in their public form.
func (s *SSOService) ListProviders(ctx context.Context) ([]domain.SSOProviderInfo, error) {
	providers, err := s.Store.SSOProviders().ListEnabledSSOProviders(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list SSO providers: %w", err)
	}

	infos := make([]domain.SSOProviderInfo, 0, len(providers))
	for _, p := range providers {
		infos = append(infos, domain.SSOProviderInfo{ID: p.ID, Name: p.Name})
	}
	return infos, nil
}

// BeginAuthorization issues a state nonce and builds the provider's
// authorization URL for the browser to follow.
func (s *SSOService) BeginAuthorization(ctx context.Context, providerID string) (authorizeURL string, state string, err error) {
	provider, err := s.provider(ctx, providerID)
	if err != nil {
		return "", "", err
	}

	state = uuid.NewString()
	s.rememberState(state, providerID)

	q := url.Values{}
	q.Set("client_id", provider.ClientID)
	q.Set("redirect_uri", provider.RedirectURI)
	q.Set("response_type", "code")
	q.Set("scope", strings.Join(provider.Scopes, " "))
	q.Set("state", state)

	sep := "?"
	if strings.Contains(provider.AuthorizationURL, "?") {
		sep = "&"
	}
	return provider.AuthorizationURL + sep + q.Encode(), state, nil
}

// CompleteCallback finishes the flow: it validates the returned state,
// exchanges the code for tokens, fetches the provider's user info, and
// resolves it to a local identity (creating one on first sign-in). The
// provider link is stored last so a failed exchange leaves no trace.
func (s *SSOService) CompleteCallback(ctx context.Context, providerID, code, state string) (domain.Identity, error) {
	if !s.consumeState(state, providerID) {
		return domain.Identity{}, ErrCSRFViolation
	}

	provider, err := s.provider(ctx, providerID)
	if err != nil {
		return domain.Identity{}, err
	}

	tokens, err := s.exchangeCode(ctx, provider, code)
	if err != nil {
		return domain.Identity{}, err
	}

	info, err := s.fetchUserInfo(ctx, provider, tokens.AccessToken)
	if err != nil {
		return domain.Identity{}, err
	}
	if info.Email == "" || info.Sub == "" {
		return domain.Identity{}, ErrUserInfoFailed
	}
	if info.EmailVerified != nil && !*info.EmailVerified {
		return domain.Identity{}, ErrEmailNotVerified
	}

	ident, err := s.resolveIdentity(ctx, provider, info, tokens)
	if err != nil {
		return domain.Identity{}, err
	}
	return ident, nil
}

func (s *SSOService) provider(ctx context.Context, providerID string) (domain.SSOProvider, error) {
	provider, err := s.Store.SSOProviders().GetSSOProviderByID(ctx, providerID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.SSOProvider{}, ErrProviderNotFound
		}
		return domain.SSOProvider{}, fmt.Errorf("failed to get SSO provider: %w", err)
	}
	if !provider.Enabled {
		return domain.SSOProvider{}, ErrProviderDisabled
	}
	return provider, nil
}

func (s *SSOService) stateTTL() time.Duration {
	if s.StateTTL > 0 {
		return s.StateTTL
	}
	return defaultStateTTL
}

func (s *SSOService) rememberState(state, providerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.states == nil {
		s.states = make(map[string]ssoState)
	}
	// Drop expired nonces while we hold the lock
	cutoff := time.Now().Add(-s.stateTTL())
	for k, v := range s.states {
		if v.issuedAt.Before(cutoff) {
			delete(s.states, k)
		}
	}
	s.states[state] = ssoState{providerID: providerID, issuedAt: time.Now()}
}

// consumeState checks the state nonce in constant time and removes it, so a
// nonce can never be replayed.
func (s *SSOService) consumeState(state, providerID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-s.stateTTL())
	for k, v := range s.states {
		if subtle.ConstantTimeCompare([]byte(k), []byte(state)) == 1 {
			delete(s.states, k)
			return v.providerID == providerID && !v.issuedAt.Before(cutoff)
		}
	}
	return false
}

func (s *SSOService) httpClient() *http.Client {
	if s.HTTPClient != nil {
		return s.HTTPClient
	}
	return &http.Client{Timeout: ssoRequestTimeout}
}

type ssoTokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

func (s *SSOService) exchangeCode(ctx context.Context, provider domain.SSOProvider, code string) (ssoTokenResponse, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", provider.RedirectURI)
	form.Set("client_id", provider.ClientID)
	form.Set("client_secret", provider.ClientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, provider.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return ssoTokenResponse{}, fmt.Errorf("%w: %v", ErrTokenExchangeFailed, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient().Do(req)
	if err != nil {
		return ssoTokenResponse{}, fmt.Errorf("%w: %v", ErrTokenExchangeFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return ssoTokenResponse{}, fmt.Errorf("%w: provider returned %d", ErrTokenExchangeFailed, resp.StatusCode)
	}

	var tokens ssoTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokens); err != nil {
		return ssoTokenResponse{}, fmt.Errorf("%w: %v", ErrTokenExchangeFailed, err)
	}
	if tokens.AccessToken == "" {
		return ssoTokenResponse{}, fmt.Errorf("%w: empty access token", ErrTokenExchangeFailed)
	}
	return tokens, nil
}

type ssoUserInfo struct {
	Sub           string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified *bool  `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

func (s *SSOService) fetchUserInfo(ctx context.Context, provider domain.SSOProvider, accessToken string) (ssoUserInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, provider.UserInfoURL, nil)
	if err != nil {
		return ssoUserInfo{}, fmt.Errorf("%w: %v", ErrUserInfoFailed, err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient().Do(req)
	if err != nil {
		return ssoUserInfo{}, fmt.Errorf("%w: %v", ErrUserInfoFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return ssoUserInfo{}, fmt.Errorf("%w: provider returned %d", ErrUserInfoFailed, resp.StatusCode)
	}

	var info ssoUserInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return ssoUserInfo{}, fmt.Errorf("%w: %v", ErrUserInfoFailed, err)
	}
	return info, nil
}

// resolveIdentity finds the local identity for the provider account by
// email, creating one on first sign-in, and records the provider link.
func (s *SSOService) resolveIdentity(ctx context.Context, provider domain.SSOProvider, info ssoUserInfo, tokens ssoTokenResponse) (domain.Identity, error) {
	var ident domain.Identity

	err := s.Store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		ident, err = tx.Identities().GetIdentityByEmail(ctx, info.Email)
		if errors.Is(err, store.ErrNotFound) {
			now := time.Now().UTC()
			ident = domain.Identity{
				ID:          idx.New().String(),
				Email:       info.Email,
				DisplayName: info.Name,
				AvatarURL:   info.Picture,
				Role:        "member",
				CreatedAt:   now,
				UpdatedAt:   now,
			}
			if err := tx.Identities().CreateIdentity(ctx, ident); err != nil {
				return fmt.Errorf("failed to create identity: %w", err)
			}
		} else if err != nil {
			return fmt.Errorf("failed to get identity: %w", err)
		}

		now := time.Now().UTC()
		var tokenExpiresAt *time.Time
		if tokens.ExpiresIn > 0 {
			exp := now.Add(time.Duration(tokens.ExpiresIn) * time.Second)
			tokenExpiresAt = &exp
		}

		conn := domain.SSOConnection{
			ID:              idx.New().String(),
			IdentityID:      ident.ID,
			ProviderID:      provider.ID,
			ProviderSubject: info.Sub,
			AccessToken:     tokens.AccessToken,
			RefreshToken:    tokens.RefreshToken,
			TokenExpiresAt:  tokenExpiresAt,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := tx.SSOConnections().UpsertSSOConnection(ctx, conn); err != nil {
			return fmt.Errorf("failed to store SSO connection: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.Identity{}, err
	}
	return ident, nil
}

// Connections lists the identity's linked providers.
func (s *SSOService) Connections(ctx context.Context, identityID string) ([]domain.SSOConnection, error) {
	return s.Store.SSOConnections().ListIdentitySSOConnections(ctx, identityID)
}
