package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dottirhealth/dottir/internal/auth/domain"
	"github.com/dottirhealth/dottir/internal/auth/store"
	"github.com/dottirhealth/dottir/pkg/idx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createIdentity(t *testing.T, st store.Store, email string) domain.Identity {
	t.Helper()

	now := time.Now().UTC()
	ident := domain.Identity{
		ID:           idx.New().String(),
		Email:        email,
		DisplayName:  "Test User",
		PasswordHash: "$argon2id$placeholder",
		Role:         "member",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, st.Identities().CreateIdentity(context.Background(), ident))
	return ident
}

// enrollMFA walks an identity through setup and confirmation, returning the
// setup material.
func enrollMFA(t *testing.T, svc *MFAService, identityID string) domain.MFASetup {
	t.Helper()

	setup, err := svc.BeginSetup(context.Background(), identityID)
	require.NoError(t, err)
	require.NoError(t, svc.ConfirmSetup(context.Background(), identityID, totpCodeAt(t, setup.Secret, time.Now())))
	return setup
}

func TestMFAService_SetupLifecycle(t *testing.T) {
	st := newTestStore(t)
	svc := &MFAService{Store: st, Issuer: "Dottir"}
	ctx := context.Background()

	ident := createIdentity(t, st, "alice@example.com")

	state, err := svc.State(ctx, ident.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MFADisabled, state)

	setup, err := svc.BeginSetup(ctx, ident.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, setup.Secret)
	assert.Contains(t, setup.ProvisioningURI, "otpauth://totp/")
	assert.Len(t, setup.BackupCodes, backupCodeCount)

	state, err = svc.State(ctx, ident.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MFAVerifyPending, state)

	// The pending secret is not accepted for login challenges
	err = svc.Challenge(ctx, ident.ID, totpCodeAt(t, setup.Secret, time.Now()))
	assert.ErrorIs(t, err, ErrMFANotEnabled)

	// A wrong confirmation code leaves setup pending
	err = svc.ConfirmSetup(ctx, ident.ID, "000000")
	assert.ErrorIs(t, err, ErrInvalidTOTPCode)
	state, err = svc.State(ctx, ident.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MFAVerifyPending, state)

	require.NoError(t, svc.ConfirmSetup(ctx, ident.ID, totpCodeAt(t, setup.Secret, time.Now())))
	state, err = svc.State(ctx, ident.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MFAEnabledState, state)

	// Both re-confirming and re-enrolling are rejected once enabled
	err = svc.ConfirmSetup(ctx, ident.ID, totpCodeAt(t, setup.Secret, time.Now()))
	assert.ErrorIs(t, err, ErrMFAAlreadyEnabled)
	_, err = svc.BeginSetup(ctx, ident.ID)
	assert.ErrorIs(t, err, ErrMFAAlreadyEnabled)
}

func TestMFAService_BeginSetupReplacesPendingMaterial(t *testing.T) {
	st := newTestStore(t)
	svc := &MFAService{Store: st, Issuer: "Dottir"}
	ctx := context.Background()

	ident := createIdentity(t, st, "bob@example.com")

	first, err := svc.BeginSetup(ctx, ident.ID)
	require.NoError(t, err)
	second, err := svc.BeginSetup(ctx, ident.ID)
	require.NoError(t, err)

	assert.NotEqual(t, first.Secret, second.Secret)

	// Only the newest batch of backup codes exists
	n, err := svc.BackupCodesRemaining(ctx, ident.ID)
	require.NoError(t, err)
	assert.Equal(t, backupCodeCount, n)

	// Confirming with the abandoned secret fails; the replacement works
	err = svc.ConfirmSetup(ctx, ident.ID, totpCodeAt(t, first.Secret, time.Now()))
	assert.ErrorIs(t, err, ErrInvalidTOTPCode)
	require.NoError(t, svc.ConfirmSetup(ctx, ident.ID, totpCodeAt(t, second.Secret, time.Now())))
}

func TestMFAService_ChallengeWithTOTP(t *testing.T) {
	st := newTestStore(t)
	svc := &MFAService{Store: st, Issuer: "Dottir"}
	ctx := context.Background()

	ident := createIdentity(t, st, "carol@example.com")
	setup := enrollMFA(t, svc, ident.ID)

	require.NoError(t, svc.Challenge(ctx, ident.ID, totpCodeAt(t, setup.Secret, time.Now())))
	assert.ErrorIs(t, svc.Challenge(ctx, ident.ID, "000000"), ErrInvalidTOTPCode)
}

func TestMFAService_ChallengeWithBackupCode(t *testing.T) {
	st := newTestStore(t)
	svc := &MFAService{Store: st, Issuer: "Dottir"}
	ctx := context.Background()

	ident := createIdentity(t, st, "dave@example.com")
	setup := enrollMFA(t, svc, ident.ID)

	code := setup.BackupCodes[0]
	require.NoError(t, svc.Challenge(ctx, ident.ID, code))

	// Spent codes never verify again
	assert.ErrorIs(t, svc.Challenge(ctx, ident.ID, code), ErrInvalidTOTPCode)

	n, err := svc.BackupCodesRemaining(ctx, ident.ID)
	require.NoError(t, err)
	assert.Equal(t, backupCodeCount-1, n)
}

func TestMFAService_ConcurrentBackupCodeSingleWinner(t *testing.T) {
	st := newTestStore(t)
	svc := &MFAService{Store: st, Issuer: "Dottir"}
	ctx := context.Background()

	ident := createIdentity(t, st, "erin@example.com")
	setup := enrollMFA(t, svc, ident.ID)
	code := setup.BackupCodes[0]

	const attempts = 8
	results := make(chan error, attempts)

	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- svc.Challenge(ctx, ident.ID, code)
		}()
	}
	wg.Wait()
	close(results)

	wins := 0
	for err := range results {
		if err == nil {
			wins++
		} else {
			assert.ErrorIs(t, err, ErrInvalidTOTPCode)
		}
	}
	assert.Equal(t, 1, wins)
}

func TestMFAService_Disable(t *testing.T) {
	st := newTestStore(t)
	svc := &MFAService{Store: st, Issuer: "Dottir"}
	ctx := context.Background()

	ident := createIdentity(t, st, "frank@example.com")
	setup := enrollMFA(t, svc, ident.ID)

	require.NoError(t, svc.Disable(ctx, ident.ID))

	state, err := svc.State(ctx, ident.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MFADisabled, state)

	n, err := svc.BackupCodesRemaining(ctx, ident.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	assert.ErrorIs(t, svc.Challenge(ctx, ident.ID, totpCodeAt(t, setup.Secret, time.Now())), ErrMFANotEnabled)
	assert.ErrorIs(t, svc.Disable(ctx, ident.ID), ErrMFANotEnabled)
}

func TestMFAService_RegenerateBackupCodes(t *testing.T) {
	st := newTestStore(t)
	svc := &MFAService{Store: st, Issuer: "Dottir"}
	ctx := context.Background()

	ident := createIdentity(t, st, "grace@example.com")
	setup := enrollMFA(t, svc, ident.ID)

	fresh, err := svc.RegenerateBackupCodes(ctx, ident.ID)
	require.NoError(t, err)
	require.Len(t, fresh, backupCodeCount)

	// Old codes are dead, new ones work
	assert.ErrorIs(t, svc.Challenge(ctx, ident.ID, setup.BackupCodes[0]), ErrInvalidTOTPCode)
	require.NoError(t, svc.Challenge(ctx, ident.ID, fresh[0]))

	// Regeneration requires MFA to be enabled
	other := createIdentity(t, st, "heidi@example.com")
	_, err = svc.RegenerateBackupCodes(ctx, other.ID)
	assert.ErrorIs(t, err, ErrMFANotEnabled)
}
