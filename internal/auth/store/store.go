package store

import (
	"context"
	"errors"
	"time"

	"github.com/dottirhealth/dottir/internal/auth/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")
)

// Store is the root data access interface. Concrete drivers (sqlite,
// postgres) implement this. It exposes sub-repositories to keep concerns
// tidy and testable, and gives the service layer a single seam for the
// conditional-update semantics the session and backup-code paths rely on.
type Store interface {
	Identities() Identities
	Sessions() Sessions
	BackupCodes() BackupCodes
	SSOProviders() SSOProviders
	SSOConnections() SSOConnections

	ApplyMigrations() error

	// Tx starts a read/write transaction and returns a Tx-scoped Store.
	// The caller MUST call Commit() or Rollback() on the returned Tx.
	Tx(ctx context.Context) (Tx, error)

	// WithTx executes a function within a transaction.
	// If fn returns an error, the transaction is rolled back.
	// If fn returns nil, the transaction is committed.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// Close releases any underlying resources.
	Close() error

	// Ping verifies the database connection is still alive.
	Ping(ctx context.Context) error
}

// Tx is a transactional store. It embeds the same repos but adds Commit/Rollback.
type Tx interface {
	Store
	Commit() error
	Rollback() error
}

type Identities interface {
	// GetIdentityByID returns an identity by id.
	GetIdentityByID(ctx context.Context, id string) (domain.Identity, error)

	// GetIdentityByEmail is used during password login and SSO resolution.
	GetIdentityByEmail(ctx context.Context, email string) (domain.Identity, error)

	// CreateIdentity inserts a new identity (id is provided by app via ULID).
	// Returns ErrAlreadyExists when the email is taken.
	CreateIdentity(ctx context.Context, ident domain.Identity) error

	// UpdateMFASecret sets a pending (not yet authoritative) MFA secret,
	// overwriting any previous pending secret.
	UpdateMFASecret(ctx context.Context, identityID string, secret string) error

	// EnableMFA marks MFA as enabled (sets the mfa_enabled timestamp).
	EnableMFA(ctx context.Context, identityID string) error

	// DisableMFA clears both mfa_enabled and mfa_secret.
	DisableMFA(ctx context.Context, identityID string) error

	// GetMFAInfo returns the MFA-related fields for an identity.
	GetMFAInfo(ctx context.Context, identityID string) (mfaEnabled *time.Time, mfaSecret *string, err error)
}

type Sessions interface {
	// CreateSession stores a new session record (token already fingerprinted).
	CreateSession(ctx context.Context, s domain.Session) error

	// GetSessionByTokenHash returns the session by its token fingerprint.
	GetSessionByTokenHash(ctx context.Context, tokenHash string) (domain.Session, error)

	// TouchSession conditionally slides the inactivity window: it updates
	// last_activity_at to now only if the current last_activity_at is after
	// inactivityCutoff and any absolute ceiling is still in the future.
	// Returns false when the guard fails, so an expired session is never
	// resurrected by a concurrent touch.
	TouchSession(ctx context.Context, tokenHash string, now, inactivityCutoff time.Time) (bool, error)

	// DeleteSessionByTokenHash removes a session (revocation or expiry).
	DeleteSessionByTokenHash(ctx context.Context, tokenHash string) error

	// DeleteSessionByID removes one of an identity's sessions by row id.
	// Scoped to the identity so users cannot revoke others' sessions.
	DeleteSessionByID(ctx context.Context, identityID, sessionID string) error

	// DeleteIdentitySessions bulk-revokes an identity's sessions, optionally
	// sparing one token fingerprint ("sign out everywhere else").
	DeleteIdentitySessions(ctx context.Context, identityID string, exceptTokenHash string) error

	// ListIdentitySessions returns the identity's sessions that were still
	// live as of the given cutoffs, newest activity first.
	ListIdentitySessions(ctx context.Context, identityID string, now, inactivityCutoff time.Time) ([]domain.Session, error)

	// DeleteExpiredSessions removes sessions past either lifetime (housekeeping).
	DeleteExpiredSessions(ctx context.Context, now, inactivityCutoff time.Time) error
}

type BackupCodes interface {
	// CreateBackupCode stores a backup code hash for an identity.
	CreateBackupCode(ctx context.Context, identityID string, codeHash string) error

	// ConsumeBackupCode atomically deletes the code if present, reporting
	// whether it was. Two concurrent consumers of the same code observe
	// exactly one true.
	ConsumeBackupCode(ctx context.Context, identityID string, codeHash string) (bool, error)

	// DeleteAllBackupCodes removes every backup code for an identity.
	DeleteAllBackupCodes(ctx context.Context, identityID string) error

	// CountBackupCodes returns the number of unused backup codes remaining.
	CountBackupCodes(ctx context.Context, identityID string) (int, error)
}

type SSOProviders interface {
	// GetSSOProviderByID fetches a provider regardless of enabled state.
	GetSSOProviderByID(ctx context.Context, id string) (domain.SSOProvider, error)

	// ListEnabledSSOProviders returns enabled providers ordered by name.
	ListEnabledSSOProviders(ctx context.Context) ([]domain.SSOProvider, error)

	// CreateSSOProvider inserts an administered provider row.
	CreateSSOProvider(ctx context.Context, p domain.SSOProvider) error
}

type SSOConnections interface {
	// UpsertSSOConnection creates or overwrites the (identity, provider) link.
	UpsertSSOConnection(ctx context.Context, c domain.SSOConnection) error

	// GetSSOConnection fetches the link for an (identity, provider) pair.
	GetSSOConnection(ctx context.Context, identityID, providerID string) (domain.SSOConnection, error)

	// ListIdentitySSOConnections returns an identity's provider links.
	ListIdentitySSOConnections(ctx context.Context, identityID string) ([]domain.SSOConnection, error)
}
