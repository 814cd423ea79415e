package domain

import "time"

// Session is a server-side login session addressed by an opaque token.
// Only the token's fingerprint is persisted; the raw token is returned to
// the client once at creation and never stored.
type Session struct {
	ID                string
	IdentityID        string
	TokenHash         string
	CreatedAt         time.Time
	LastActivityAt    time.Time
	AbsoluteExpiresAt *time.Time // hard ceiling, never extended; nil means none
	DeviceInfo        string     // opaque JSON blob from the client, not parsed
	IPAddress         string
}

// SessionInfo is the presentation view used for "active sessions" listings.
// It deliberately omits the token hash.
type SessionInfo struct {
	ID             string    `json:"id"`
	DeviceInfo     string    `json:"device_info"`
	IPAddress      string    `json:"ip_address"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
	Current        bool      `json:"current"`
}
