package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dottirhealth/dottir/internal/auth/domain"
	"github.com/dottirhealth/dottir/internal/auth/store"
	"github.com/dottirhealth/dottir/pkg/cryptox"
)

var (
	ErrInvalidTOTPCode   = errors.New("invalid TOTP code")
	ErrMFANotEnabled     = errors.New("MFA not enabled for this identity")
	ErrMFANotEnrolled    = errors.New("MFA not enrolled - call BeginSetup first")
	ErrMFAAlreadyEnabled = errors.New("MFA already enabled for this identity")
)

// MFAService manages TOTP enrollment, confirmation, and challenge
// verification. A secret exists in one of three states: absent (disabled),
// stored but unconfirmed (setup pending), or confirmed (enabled). Only a
// confirmed secret is ever accepted for a login challenge.
type MFAService struct {
	Store  store.Store
	Issuer string // Issuer name shown in authenticator apps (e.g., "Dottir")
}

// BeginSetup generates a TOTP secret and a fresh batch of backup codes for
// the identity. MFA is NOT enabled yet - the user must confirm a code first.
// Calling it again before confirmation replaces the pending secret and codes,
// so an abandoned setup never leaves stale material behind.
func (s *MFAService) BeginSetup(ctx context.Context, identityID string) (domain.MFASetup, error) {
	ident, err := s.Store.Identities().GetIdentityByID(ctx, identityID)
	if err != nil {
		return domain.MFASetup{}, fmt.Errorf("failed to get identity: %w", err)
	}
	if domain.MFAStateOf(ident.MFAEnabled, ident.MFASecret) == domain.MFAEnabledState {
		return domain.MFASetup{}, ErrMFAAlreadyEnabled
	}

	key, err := GenerateTOTPKey(s.Issuer, ident.Email)
	if err != nil {
		return domain.MFASetup{}, fmt.Errorf("failed to generate TOTP key: %w", err)
	}

	backupCodes, err := GenerateBackupCodes(backupCodeCount)
	if err != nil {
		return domain.MFASetup{}, err
	}

	// Store the pending secret and replace any previous backup codes atomically
	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.Identities().UpdateMFASecret(ctx, identityID, key.Secret()); err != nil {
			return fmt.Errorf("failed to store MFA secret: %w", err)
		}
		if err := tx.BackupCodes().DeleteAllBackupCodes(ctx, identityID); err != nil {
			return fmt.Errorf("failed to clear old backup codes: %w", err)
		}
		for _, code := range backupCodes {
			hash := cryptox.FingerprintToken(code)
			if err := tx.BackupCodes().CreateBackupCode(ctx, identityID, hash); err != nil {
				return fmt.Errorf("failed to store backup code: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return domain.MFASetup{}, err
	}

	return domain.MFASetup{
		Secret:          key.Secret(),
		ProvisioningURI: key.URL(),
		BackupCodes:     backupCodes,
	}, nil
}

// ConfirmSetup verifies a TOTP code against the pending secret and, if it
// matches, marks MFA enabled. An invalid code leaves the pending state
// untouched so the user can retry.
func (s *MFAService) ConfirmSetup(ctx context.Context, identityID string, code string) error {
	mfaEnabled, mfaSecret, err := s.Store.Identities().GetMFAInfo(ctx, identityID)
	if err != nil {
		return fmt.Errorf("failed to get MFA info: %w", err)
	}

	switch domain.MFAStateOf(mfaEnabled, mfaSecret) {
	case domain.MFAEnabledState:
		return ErrMFAAlreadyEnabled
	case domain.MFADisabled:
		return ErrMFANotEnrolled
	}

	if !VerifyTOTPCode(*mfaSecret, code, time.Now()) {
		return ErrInvalidTOTPCode
	}

	if err := s.Store.Identities().EnableMFA(ctx, identityID); err != nil {
		return fmt.Errorf("failed to enable MFA: %w", err)
	}
	return nil
}

// Challenge verifies a second factor during login. Six-digit codes are
// checked against the confirmed TOTP secret; codes shaped like backup codes
// are consumed from the stored batch instead. A backup code that verifies
// is gone for good - two racing logins with the same code yield one success.
func (s *MFAService) Challenge(ctx context.Context, identityID string, code string) error {
	mfaEnabled, mfaSecret, err := s.Store.Identities().GetMFAInfo(ctx, identityID)
	if err != nil {
		return fmt.Errorf("failed to get MFA info: %w", err)
	}
	if domain.MFAStateOf(mfaEnabled, mfaSecret) != domain.MFAEnabledState {
		return ErrMFANotEnabled
	}

	if ValidBackupCodeFormat(code) {
		consumed, err := s.Store.BackupCodes().ConsumeBackupCode(ctx, identityID, cryptox.FingerprintToken(code))
		if err != nil {
			return fmt.Errorf("failed to consume backup code: %w", err)
		}
		if !consumed {
			return ErrInvalidTOTPCode
		}
		return nil
	}

	if !VerifyTOTPCode(*mfaSecret, code, time.Now()) {
		return ErrInvalidTOTPCode
	}
	return nil
}

// Disable turns MFA off and destroys the secret and all backup codes. The
// HTTP layer requires fresh re-authentication before calling this.
func (s *MFAService) Disable(ctx context.Context, identityID string) error {
	mfaEnabled, mfaSecret, err := s.Store.Identities().GetMFAInfo(ctx, identityID)
	if err != nil {
		return fmt.Errorf("failed to get MFA info: %w", err)
	}
	if domain.MFAStateOf(mfaEnabled, mfaSecret) == domain.MFADisabled {
		return ErrMFANotEnabled
	}

	return s.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.BackupCodes().DeleteAllBackupCodes(ctx, identityID); err != nil {
			return fmt.Errorf("failed to delete backup codes: %w", err)
		}
		if err := tx.Identities().DisableMFA(ctx, identityID); err != nil {
			return fmt.Errorf("failed to disable MFA: %w", err)
		}
		return nil
	})
}

// RegenerateBackupCodes replaces the identity's backup codes with a fresh
// batch, invalidating any unused ones. Requires MFA to be enabled.
func (s *MFAService) RegenerateBackupCodes(ctx context.Context, identityID string) ([]string, error) {
	mfaEnabled, mfaSecret, err := s.Store.Identities().GetMFAInfo(ctx, identityID)
	if err != nil {
		return nil, fmt.Errorf("failed to get MFA info: %w", err)
	}
	if domain.MFAStateOf(mfaEnabled, mfaSecret) != domain.MFAEnabledState {
		return nil, ErrMFANotEnabled
	}

	backupCodes, err := GenerateBackupCodes(backupCodeCount)
	if err != nil {
		return nil, err
	}

	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.BackupCodes().DeleteAllBackupCodes(ctx, identityID); err != nil {
			return fmt.Errorf("failed to delete old backup codes: %w", err)
		}
		for _, code := range backupCodes {
			hash := cryptox.FingerprintToken(code)
			if err := tx.BackupCodes().CreateBackupCode(ctx, identityID, hash); err != nil {
				return fmt.Errorf("failed to store backup code: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return backupCodes, nil
}

// State reports the identity's current MFA state.
func (s *MFAService) State(ctx context.Context, identityID string) (domain.MFAState, error) {
	mfaEnabled, mfaSecret, err := s.Store.Identities().GetMFAInfo(ctx, identityID)
	if err != nil {
		return domain.MFADisabled, fmt.Errorf("failed to get MFA info: %w", err)
	}
	return domain.MFAStateOf(mfaEnabled, mfaSecret), nil
}

// BackupCodesRemaining returns how many unused backup codes are left.
func (s *MFAService) BackupCodesRemaining(ctx context.Context, identityID string) (int, error) {
	return s.Store.BackupCodes().CountBackupCodes(ctx, identityID)
}
