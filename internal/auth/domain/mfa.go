package domain

import "time"

// MFASetup is returned from setup initiation only. The secret and backup
// codes are shown to the user exactly once; after confirmation the service
// never returns them again.
type MFASetup struct {
	Secret          string   // Base32 encoded secret for TOTP
	ProvisioningURI string   // otpauth:// URL for QR code generation
	BackupCodes     []string // single-use recovery codes, plaintext
}

// PendingChallenge correlates a partially authenticated login with an
// outstanding MFA requirement. It lives in memory only and expires quickly.
type PendingChallenge struct {
	ID         string // ULID handed to the client as the challenge reference
	IdentityID string
	IssuedAt   time.Time
}
