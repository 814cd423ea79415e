package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dottirhealth/dottir/internal/auth/domain"
	"github.com/dottirhealth/dottir/internal/auth/store"
	"github.com/dottirhealth/dottir/pkg/cryptox"
	"github.com/dottirhealth/dottir/pkg/idx"
)

var (
	ErrSessionNotFound          = errors.New("session not found")
	ErrSessionExpiredInactivity = errors.New("session expired due to inactivity")
	ErrSessionExpiredAbsolute   = errors.New("session reached its absolute lifetime")
)

// SessionService manages opaque-token login sessions with a sliding
// inactivity window and an optional absolute ceiling. Raw tokens are handed
// to the client exactly once; only fingerprints are stored.
type SessionService struct {
	Store store.Store

	// InactivityWindow is how long a session survives without activity.
	InactivityWindow time.Duration

	// AbsoluteTTL caps total session lifetime regardless of activity.
	// Zero means no ceiling.
	AbsoluteTTL time.Duration

	// WarnBefore is how close to expiry a touch starts reporting an
	// approaching-expiry warning.
	WarnBefore time.Duration

	// Now is the clock; tests substitute it. Nil means time.Now.
	Now func() time.Time
}

// TouchResult describes a session after a successful activity touch.
type TouchResult struct {
	Session   domain.Session
	ExpiresAt time.Time // when the session dies if no further activity
	Warning   bool      // true when expiry is within WarnBefore
}

func (s *SessionService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// Create starts a new session for the identity and returns it along with the
// raw bearer token. The token is not recoverable afterwards.
func (s *SessionService) Create(ctx context.Context, identityID, deviceInfo, ipAddress string) (domain.Session, string, error) {
	token, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return domain.Session{}, "", fmt.Errorf("failed to generate session token: %w", err)
	}

	now := s.now()
	sess := domain.Session{
		ID:             idx.New().String(),
		IdentityID:     identityID,
		TokenHash:      cryptox.FingerprintToken(token),
		CreatedAt:      now,
		LastActivityAt: now,
		DeviceInfo:     deviceInfo,
		IPAddress:      ipAddress,
	}
	if s.AbsoluteTTL > 0 {
		ceiling := now.Add(s.AbsoluteTTL)
		sess.AbsoluteExpiresAt = &ceiling
	}

	if err := s.Store.Sessions().CreateSession(ctx, sess); err != nil {
		return domain.Session{}, "", fmt.Errorf("failed to create session: %w", err)
	}
	return sess, token, nil
}

// Touch records activity on the session addressed by the raw token, sliding
// its inactivity window. The underlying update is conditional, so a session
// already past either lifetime is reported expired rather than revived, even
// under concurrent touches. Expired rows are deleted on sight.
func (s *SessionService) Touch(ctx context.Context, token string) (TouchResult, error) {
	hash := cryptox.FingerprintToken(token)
	now := s.now()
	cutoff := now.Add(-s.InactivityWindow)

	ok, err := s.Store.Sessions().TouchSession(ctx, hash, now, cutoff)
	if err != nil {
		return TouchResult{}, fmt.Errorf("failed to touch session: %w", err)
	}
	if !ok {
		return TouchResult{}, s.expireReason(ctx, hash, now, cutoff)
	}

	sess, err := s.Store.Sessions().GetSessionByTokenHash(ctx, hash)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Revoked between the touch and the read
			return TouchResult{}, ErrSessionNotFound
		}
		return TouchResult{}, fmt.Errorf("failed to load session: %w", err)
	}

	expiresAt := sess.LastActivityAt.Add(s.InactivityWindow)
	if sess.AbsoluteExpiresAt != nil && sess.AbsoluteExpiresAt.Before(expiresAt) {
		expiresAt = *sess.AbsoluteExpiresAt
	}

	return TouchResult{
		Session:   sess,
		ExpiresAt: expiresAt,
		Warning:   s.WarnBefore > 0 && !now.Add(s.WarnBefore).Before(expiresAt),
	}, nil
}

// expireReason works out why a conditional touch failed and cleans up the
// dead row so it cannot linger.
func (s *SessionService) expireReason(ctx context.Context, hash string, now, cutoff time.Time) error {
	sess, err := s.Store.Sessions().GetSessionByTokenHash(ctx, hash)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrSessionNotFound
		}
		return fmt.Errorf("failed to load session: %w", err)
	}

	if delErr := s.Store.Sessions().DeleteSessionByTokenHash(ctx, hash); delErr != nil {
		return fmt.Errorf("failed to delete expired session: %w", delErr)
	}

	if sess.AbsoluteExpiresAt != nil && !sess.AbsoluteExpiresAt.After(now) {
		return ErrSessionExpiredAbsolute
	}
	if !sess.LastActivityAt.After(cutoff) {
		return ErrSessionExpiredInactivity
	}
	// Guard failed but neither lifetime looks passed from here; a concurrent
	// writer advanced the row. Treat it as inactive rather than inventing a
	// new state.
	return ErrSessionExpiredInactivity
}

// List returns the identity's live sessions, newest activity first, marking
// the one addressed by currentToken.
func (s *SessionService) List(ctx context.Context, identityID, currentToken string) ([]domain.SessionInfo, error) {
	now := s.now()
	sessions, err := s.Store.Sessions().ListIdentitySessions(ctx, identityID, now, now.Add(-s.InactivityWindow))
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	currentHash := cryptox.FingerprintToken(currentToken)
	infos := make([]domain.SessionInfo, 0, len(sessions))
	for _, sess := range sessions {
		infos = append(infos, domain.SessionInfo{
			ID:             sess.ID,
			DeviceInfo:     sess.DeviceInfo,
			IPAddress:      sess.IPAddress,
			CreatedAt:      sess.CreatedAt,
			LastActivityAt: sess.LastActivityAt,
			Current:        sess.TokenHash == currentHash,
		})
	}
	return infos, nil
}

// Revoke signs out the session addressed by the raw token. Revoking an
// already-gone session is not an error.
func (s *SessionService) Revoke(ctx context.Context, token string) error {
	return s.Store.Sessions().DeleteSessionByTokenHash(ctx, cryptox.FingerprintToken(token))
}

// RevokeByID signs out one of the identity's sessions by id. The deletion is
// scoped to the identity, so a session id belonging to someone else reports
// not found.
func (s *SessionService) RevokeByID(ctx context.Context, identityID, sessionID string) error {
	err := s.Store.Sessions().DeleteSessionByID(ctx, identityID, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrSessionNotFound
	}
	return err
}

// RevokeAllOthers signs the identity out everywhere except the session
// addressed by keepToken.
func (s *SessionService) RevokeAllOthers(ctx context.Context, identityID, keepToken string) error {
	return s.Store.Sessions().DeleteIdentitySessions(ctx, identityID, cryptox.FingerprintToken(keepToken))
}

// DeleteExpired removes sessions past either lifetime. Housekeeping calls
// this periodically so the expired rows deleted lazily on touch don't have
// to carry the whole load.
func (s *SessionService) DeleteExpired(ctx context.Context) error {
	now := s.now()
	return s.Store.Sessions().DeleteExpiredSessions(ctx, now, now.Add(-s.InactivityWindow))
}
