package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/dottirhealth/dottir/internal/auth/domain"
)

type identitiesRepo struct {
	db dbtx
}

const identityColumns = `id, email, display_name, avatar_url, password_hash, role, mfa_enabled, mfa_secret, created_at, updated_at`

func scanIdentity(row *sql.Row) (domain.Identity, error) {
	var (
		ident      domain.Identity
		mfaEnabled sql.NullInt64
		mfaSecret  sql.NullString
		createdAt  int64
		updatedAt  int64
	)
	err := row.Scan(
		&ident.ID,
		&ident.Email,
		&ident.DisplayName,
		&ident.AvatarURL,
		&ident.PasswordHash,
		&ident.Role,
		&mfaEnabled,
		&mfaSecret,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return domain.Identity{}, mapNotFound(err)
	}
	ident.MFAEnabled = fromMillisPtr(mfaEnabled)
	ident.MFASecret = mapNullStringPtr(mfaSecret)
	ident.CreatedAt = fromMillis(createdAt)
	ident.UpdatedAt = fromMillis(updatedAt)
	return ident, nil
}

func (r *identitiesRepo) GetIdentityByID(ctx context.Context, id string) (domain.Identity, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+identityColumns+` FROM identities WHERE id = ?`, id)
	return scanIdentity(row)
}

func (r *identitiesRepo) GetIdentityByEmail(ctx context.Context, email string) (domain.Identity, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+identityColumns+` FROM identities WHERE email = ?`, email)
	return scanIdentity(row)
}

func (r *identitiesRepo) CreateIdentity(ctx context.Context, ident domain.Identity) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO identities (id, email, display_name, avatar_url, password_hash, role, mfa_enabled, mfa_secret, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ident.ID,
		ident.Email,
		ident.DisplayName,
		ident.AvatarURL,
		ident.PasswordHash,
		ident.Role,
		toMillisPtr(ident.MFAEnabled),
		mapOptionalString(ident.MFASecret),
		toMillis(ident.CreatedAt),
		toMillis(ident.UpdatedAt),
	)
	return mapConstraint(err)
}

func (r *identitiesRepo) UpdateMFASecret(ctx context.Context, identityID string, secret string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE identities SET mfa_secret = ?, updated_at = ? WHERE id = ?`,
		secret, toMillis(time.Now()), identityID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (r *identitiesRepo) EnableMFA(ctx context.Context, identityID string) error {
	now := toMillis(time.Now())
	res, err := r.db.ExecContext(ctx, `
		UPDATE identities SET mfa_enabled = ?, updated_at = ? WHERE id = ?`,
		now, now, identityID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (r *identitiesRepo) DisableMFA(ctx context.Context, identityID string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE identities SET mfa_enabled = NULL, mfa_secret = NULL, updated_at = ? WHERE id = ?`,
		toMillis(time.Now()), identityID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (r *identitiesRepo) GetMFAInfo(ctx context.Context, identityID string) (*time.Time, *string, error) {
	var (
		mfaEnabled sql.NullInt64
		mfaSecret  sql.NullString
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT mfa_enabled, mfa_secret FROM identities WHERE id = ?`, identityID).
		Scan(&mfaEnabled, &mfaSecret)
	if err != nil {
		return nil, nil, mapNotFound(err)
	}
	return fromMillisPtr(mfaEnabled), mapNullStringPtr(mfaSecret), nil
}
