package sqlite

import (
	"context"
	"database/sql"

	"github.com/dottirhealth/dottir/internal/auth/domain"
)

type ssoConnectionsRepo struct {
	db dbtx
}

const ssoConnectionColumns = `id, identity_id, provider_id, provider_subject, access_token, refresh_token, token_expires_at, created_at, updated_at`

// UpsertSSOConnection keeps a single row per (identity, provider) pair.
// Re-authenticating through the same provider overwrites the stored subject
// and tokens rather than accumulating rows.
func (r *ssoConnectionsRepo) UpsertSSOConnection(ctx context.Context, c domain.SSOConnection) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sso_connections (id, identity_id, provider_id, provider_subject, access_token, refresh_token, token_expires_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (identity_id, provider_id) DO UPDATE SET
			provider_subject = excluded.provider_subject,
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			token_expires_at = excluded.token_expires_at,
			updated_at = excluded.updated_at`,
		c.ID,
		c.IdentityID,
		c.ProviderID,
		c.ProviderSubject,
		c.AccessToken,
		c.RefreshToken,
		toMillisPtr(c.TokenExpiresAt),
		toMillis(c.CreatedAt),
		toMillis(c.UpdatedAt),
	)
	return err
}

func (r *ssoConnectionsRepo) GetSSOConnection(ctx context.Context, identityID, providerID string) (domain.SSOConnection, error) {
	var (
		c         domain.SSOConnection
		expiresAt sql.NullInt64
		createdAt int64
		updatedAt int64
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT `+ssoConnectionColumns+` FROM sso_connections WHERE identity_id = ? AND provider_id = ?`,
		identityID, providerID).
		Scan(
			&c.ID,
			&c.IdentityID,
			&c.ProviderID,
			&c.ProviderSubject,
			&c.AccessToken,
			&c.RefreshToken,
			&expiresAt,
			&createdAt,
			&updatedAt,
		)
	if err != nil {
		return domain.SSOConnection{}, mapNotFound(err)
	}
	c.TokenExpiresAt = fromMillisPtr(expiresAt)
	c.CreatedAt = fromMillis(createdAt)
	c.UpdatedAt = fromMillis(updatedAt)
	return c, nil
}

func (r *ssoConnectionsRepo) ListIdentitySSOConnections(ctx context.Context, identityID string) ([]domain.SSOConnection, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+ssoConnectionColumns+` FROM sso_connections WHERE identity_id = ? ORDER BY created_at ASC`,
		identityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conns []domain.SSOConnection
	for rows.Next() {
		var (
			c         domain.SSOConnection
			expiresAt sql.NullInt64
			createdAt int64
			updatedAt int64
		)
		if err := rows.Scan(
			&c.ID,
			&c.IdentityID,
			&c.ProviderID,
			&c.ProviderSubject,
			&c.AccessToken,
			&c.RefreshToken,
			&expiresAt,
			&createdAt,
			&updatedAt,
		); err != nil {
			return nil, err
		}
		c.TokenExpiresAt = fromMillisPtr(expiresAt)
		c.CreatedAt = fromMillis(createdAt)
		c.UpdatedAt = fromMillis(updatedAt)
		conns = append(conns, c)
	}
	return conns, rows.Err()
}
