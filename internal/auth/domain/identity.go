package domain

import "time"

type Identity struct {
	ID           string
	Email        string
	DisplayName  string
	AvatarURL    string
	PasswordHash string     // argon2 encoded; empty for SSO-only identities
	Role         string     // e.g. "member", "moderator", "admin"
	MFAEnabled   *time.Time // Timestamp when MFA was enabled (nullable)
	MFASecret    *string    // TOTP secret (nullable, base32 encoded)
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// MFAState is the enrollment state machine position derived from the stored
// MFA fields. The secret is only authoritative for login once Enabled.
type MFAState string

const (
	MFADisabled      MFAState = "disabled"
	MFAVerifyPending MFAState = "verify_pending"
	MFAEnabledState  MFAState = "enabled"
)

// MFAStateOf derives the enrollment state from the identity's MFA columns:
// no secret means disabled, a secret without an enabled timestamp means the
// user has begun setup but not yet confirmed it.
func MFAStateOf(enabled *time.Time, secret *string) MFAState {
	if secret == nil || *secret == "" {
		return MFADisabled
	}
	if enabled == nil {
		return MFAVerifyPending
	}
	return MFAEnabledState
}
