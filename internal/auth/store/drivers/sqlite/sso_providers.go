package sqlite

import (
	"context"
	"strings"

	"github.com/dottirhealth/dottir/internal/auth/domain"
)

type ssoProvidersRepo struct {
	db dbtx
}

const ssoProviderColumns = `id, name, authorization_url, token_url, userinfo_url, client_id, client_secret, redirect_uri, scopes, enabled, created_at, updated_at`

func (r *ssoProvidersRepo) GetSSOProviderByID(ctx context.Context, id string) (domain.SSOProvider, error) {
	var (
		p         domain.SSOProvider
		scopes    string
		createdAt int64
		updatedAt int64
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT `+ssoProviderColumns+` FROM sso_providers WHERE id = ?`, id).
		Scan(
			&p.ID,
			&p.Name,
			&p.AuthorizationURL,
			&p.TokenURL,
			&p.UserInfoURL,
			&p.ClientID,
			&p.ClientSecret,
			&p.RedirectURI,
			&scopes,
			&p.Enabled,
			&createdAt,
			&updatedAt,
		)
	if err != nil {
		return domain.SSOProvider{}, mapNotFound(err)
	}
	p.Scopes = splitScopes(scopes)
	p.CreatedAt = fromMillis(createdAt)
	p.UpdatedAt = fromMillis(updatedAt)
	return p, nil
}

func (r *ssoProvidersRepo) ListEnabledSSOProviders(ctx context.Context) ([]domain.SSOProvider, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+ssoProviderColumns+` FROM sso_providers WHERE enabled = 1 ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var providers []domain.SSOProvider
	for rows.Next() {
		var (
			p         domain.SSOProvider
			scopes    string
			createdAt int64
			updatedAt int64
		)
		if err := rows.Scan(
			&p.ID,
			&p.Name,
			&p.AuthorizationURL,
			&p.TokenURL,
			&p.UserInfoURL,
			&p.ClientID,
			&p.ClientSecret,
			&p.RedirectURI,
			&scopes,
			&p.Enabled,
			&createdAt,
			&updatedAt,
		); err != nil {
			return nil, err
		}
		p.Scopes = splitScopes(scopes)
		p.CreatedAt = fromMillis(createdAt)
		p.UpdatedAt = fromMillis(updatedAt)
		providers = append(providers, p)
	}
	return providers, rows.Err()
}

func (r *ssoProvidersRepo) CreateSSOProvider(ctx context.Context, p domain.SSOProvider) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sso_providers (id, name, authorization_url, token_url, userinfo_url, client_id, client_secret, redirect_uri, scopes, enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID,
		p.Name,
		p.AuthorizationURL,
		p.TokenURL,
		p.UserInfoURL,
		p.ClientID,
		p.ClientSecret,
		p.RedirectURI,
		strings.Join(p.Scopes, " "),
		p.Enabled,
		toMillis(p.CreatedAt),
		toMillis(p.UpdatedAt),
	)
	return mapConstraint(err)
}

func splitScopes(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Fields(s)
}
