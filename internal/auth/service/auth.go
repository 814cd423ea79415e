package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dottirhealth/dottir/internal/auth/domain"
	"github.com/dottirhealth/dottir/internal/auth/store"
	"github.com/dottirhealth/dottir/pkg/cryptox"
	"github.com/dottirhealth/dottir/pkg/idx"
)

var (
	ErrInvalidCredential = errors.New("invalid credentials")
	ErrChallengeNotFound = errors.New("MFA challenge not found or expired")
	ErrEmailTaken        = errors.New("email already registered")
)

const defaultChallengeTTL = 5 * time.Minute

// AuthService orchestrates the login flows: password login, the MFA gate,
// SSO sign-in, registration, and step-up re-authentication. Pending MFA
// challenges are held in memory with a TTL; a challenge survives wrong codes
// so the user can retry, and disappears on success, cancel, or expiry.
type AuthService struct {
	Store    store.Store
	Sessions *SessionService
	MFA      *MFAService
	SSO      *SSOService

	// ChallengeTTL bounds how long a password-verified login may wait for
	// its second factor. Zero means 5 minutes.
	ChallengeTTL time.Duration

	mu         sync.Mutex
	challenges map[string]domain.PendingChallenge
}

// LoginResult is the outcome of a login attempt. Either Session and Token
// are set (fully authenticated) or Challenge is set (second factor needed).
type LoginResult struct {
	Identity  domain.Identity
	Session   *domain.Session
	Token     string
	Challenge *domain.PendingChallenge
}

// MFARequired reports whether the login is parked on its second factor.
func (r LoginResult) MFARequired() bool { return r.Challenge != nil }

// Login verifies an email/password pair. When the identity has MFA enabled
// no session is created yet; the caller gets a challenge to complete via
// CompleteMFA instead.
func (s *AuthService) Login(ctx context.Context, email, password, deviceInfo, ipAddress string) (LoginResult, error) {
	ident, err := s.Store.Identities().GetIdentityByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return LoginResult{}, ErrInvalidCredential
		}
		return LoginResult{}, fmt.Errorf("failed to get identity: %w", err)
	}

	// SSO-only accounts have no password to verify against
	if ident.PasswordHash == "" {
		return LoginResult{}, ErrInvalidCredential
	}
	if err := cryptox.VerifyPassword(password, ident.PasswordHash); err != nil {
		return LoginResult{}, ErrInvalidCredential
	}

	return s.finishLogin(ctx, ident, deviceInfo, ipAddress)
}

// LoginViaSSO completes a provider callback and signs the resolved identity
// in. The MFA gate applies exactly as it does for password login.
func (s *AuthService) LoginViaSSO(ctx context.Context, providerID, code, state, deviceInfo, ipAddress string) (LoginResult, error) {
	ident, err := s.SSO.CompleteCallback(ctx, providerID, code, state)
	if err != nil {
		return LoginResult{}, err
	}
	return s.finishLogin(ctx, ident, deviceInfo, ipAddress)
}

// finishLogin applies the MFA gate and, when clear, opens a session.
func (s *AuthService) finishLogin(ctx context.Context, ident domain.Identity, deviceInfo, ipAddress string) (LoginResult, error) {
	state, err := s.MFA.State(ctx, ident.ID)
	if err != nil {
		return LoginResult{}, err
	}
	if state == domain.MFAEnabledState {
		challenge := s.newChallenge(ident.ID)
		return LoginResult{Identity: ident, Challenge: &challenge}, nil
	}

	sess, token, err := s.Sessions.Create(ctx, ident.ID, deviceInfo, ipAddress)
	if err != nil {
		return LoginResult{}, err
	}
	return LoginResult{Identity: ident, Session: &sess, Token: token}, nil
}

// CompleteMFA presents a second factor for a pending challenge. A wrong
// code returns ErrInvalidTOTPCode and leaves the challenge intact; success
// consumes the challenge and opens the session.
func (s *AuthService) CompleteMFA(ctx context.Context, challengeID, code, deviceInfo, ipAddress string) (LoginResult, error) {
	challenge, err := s.pendingChallenge(challengeID)
	if err != nil {
		return LoginResult{}, err
	}

	if err := s.MFA.Challenge(ctx, challenge.IdentityID, code); err != nil {
		return LoginResult{}, err
	}

	s.dropChallenge(challengeID)

	ident, err := s.Store.Identities().GetIdentityByID(ctx, challenge.IdentityID)
	if err != nil {
		return LoginResult{}, fmt.Errorf("failed to get identity: %w", err)
	}

	sess, token, err := s.Sessions.Create(ctx, ident.ID, deviceInfo, ipAddress)
	if err != nil {
		return LoginResult{}, err
	}
	return LoginResult{Identity: ident, Session: &sess, Token: token}, nil
}

// CancelMFA abandons a pending challenge. Cancelling an unknown challenge
// is not an error.
func (s *AuthService) CancelMFA(challengeID string) {
	s.dropChallenge(challengeID)
}

// Register creates a password identity and signs it straight in.
func (s *AuthService) Register(ctx context.Context, email, displayName, password, deviceInfo, ipAddress string) (LoginResult, error) {
	hash, err := cryptox.HashPassword(password)
	if err != nil {
		return LoginResult{}, fmt.Errorf("failed to hash password: %w", err)
	}

	now := time.Now().UTC()
	ident := domain.Identity{
		ID:           idx.New().String(),
		Email:        email,
		DisplayName:  displayName,
		PasswordHash: hash,
		Role:         "member",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.Store.Identities().CreateIdentity(ctx, ident); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return LoginResult{}, ErrEmailTaken
		}
		return LoginResult{}, fmt.Errorf("failed to create identity: %w", err)
	}

	sess, token, err := s.Sessions.Create(ctx, ident.ID, deviceInfo, ipAddress)
	if err != nil {
		return LoginResult{}, err
	}
	return LoginResult{Identity: ident, Session: &sess, Token: token}, nil
}

// Reauthenticate freshly verifies the caller's credentials for sensitive
// operations (disabling MFA, revoking all sessions). When MFA is enabled a
// valid second factor is required as well.
func (s *AuthService) Reauthenticate(ctx context.Context, identityID, password, mfaCode string) error {
	ident, err := s.Store.Identities().GetIdentityByID(ctx, identityID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrInvalidCredential
		}
		return fmt.Errorf("failed to get identity: %w", err)
	}

	if ident.PasswordHash == "" {
		return ErrInvalidCredential
	}
	if err := cryptox.VerifyPassword(password, ident.PasswordHash); err != nil {
		return ErrInvalidCredential
	}

	if domain.MFAStateOf(ident.MFAEnabled, ident.MFASecret) == domain.MFAEnabledState {
		return s.MFA.Challenge(ctx, identityID, mfaCode)
	}
	return nil
}

func (s *AuthService) challengeTTL() time.Duration {
	if s.ChallengeTTL > 0 {
		return s.ChallengeTTL
	}
	return defaultChallengeTTL
}

func (s *AuthService) newChallenge(identityID string) domain.PendingChallenge {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.challenges == nil {
		s.challenges = make(map[string]domain.PendingChallenge)
	}
	// Sweep expired challenges while we hold the lock
	cutoff := time.Now().Add(-s.challengeTTL())
	for id, ch := range s.challenges {
		if ch.IssuedAt.Before(cutoff) {
			delete(s.challenges, id)
		}
	}

	challenge := domain.PendingChallenge{
		ID:         idx.New().String(),
		IdentityID: identityID,
		IssuedAt:   time.Now(),
	}
	s.challenges[challenge.ID] = challenge
	return challenge
}

func (s *AuthService) pendingChallenge(challengeID string) (domain.PendingChallenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	challenge, ok := s.challenges[challengeID]
	if !ok {
		return domain.PendingChallenge{}, ErrChallengeNotFound
	}
	if challenge.IssuedAt.Before(time.Now().Add(-s.challengeTTL())) {
		delete(s.challenges, challengeID)
		return domain.PendingChallenge{}, ErrChallengeNotFound
	}
	return challenge, nil
}

func (s *AuthService) dropChallenge(challengeID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.challenges, challengeID)
}
