package domain

import "time"

// SSOProvider is an administered single-sign-on provider configuration.
// Rows are read-only to the auth service.
type SSOProvider struct {
	ID               string
	Name             string
	AuthorizationURL string
	TokenURL         string
	UserInfoURL      string
	ClientID         string
	ClientSecret     string
	RedirectURI      string
	Scopes           []string
	Enabled          bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// SSOProviderInfo is the public view of a provider. It never carries the
// client secret.
type SSOProviderInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// SSOConnection links an identity to a provider account. At most one row
// exists per (identity, provider) pair; re-authentication overwrites it.
type SSOConnection struct {
	ID              string
	IdentityID      string
	ProviderID      string
	ProviderSubject string
	AccessToken     string
	RefreshToken    string
	TokenExpiresAt  *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
