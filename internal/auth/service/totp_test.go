package service

import (
	"testing"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func totpCodeAt(t *testing.T, secret string, at time.Time) string {
	t.Helper()

	code, err := totp.GenerateCodeCustom(secret, at, totp.ValidateOpts{
		Period:    totpPeriod,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	require.NoError(t, err)
	return code
}

func TestGenerateTOTPKey(t *testing.T) {
	t.Parallel()

	key, err := GenerateTOTPKey("Dottir", "alice@example.com")
	require.NoError(t, err)

	assert.NotEmpty(t, key.Secret())
	assert.Contains(t, key.URL(), "otpauth://totp/")
	assert.Contains(t, key.URL(), "Dottir")
	assert.Contains(t, key.URL(), "alice%40example.com")

	// Secrets must differ between enrollments
	other, err := GenerateTOTPKey("Dottir", "alice@example.com")
	require.NoError(t, err)
	assert.NotEqual(t, key.Secret(), other.Secret())
}

func TestVerifyTOTPCode_SkewWindow(t *testing.T) {
	t.Parallel()

	key, err := GenerateTOTPKey("Dottir", "alice@example.com")
	require.NoError(t, err)
	secret := key.Secret()

	// Fixed reference point well inside a period
	at := time.Unix(1_000_000, 0)

	assert.True(t, VerifyTOTPCode(secret, totpCodeAt(t, secret, at), at))

	// One period of skew is tolerated either side
	assert.True(t, VerifyTOTPCode(secret, totpCodeAt(t, secret, at.Add(-totpPeriod*time.Second)), at))
	assert.True(t, VerifyTOTPCode(secret, totpCodeAt(t, secret, at.Add(totpPeriod*time.Second)), at))

	// Two periods out is rejected
	assert.False(t, VerifyTOTPCode(secret, totpCodeAt(t, secret, at.Add(-2*totpPeriod*time.Second)), at))
	assert.False(t, VerifyTOTPCode(secret, totpCodeAt(t, secret, at.Add(2*totpPeriod*time.Second)), at))
}

func TestVerifyTOTPCode_RejectsGarbage(t *testing.T) {
	t.Parallel()

	key, err := GenerateTOTPKey("Dottir", "alice@example.com")
	require.NoError(t, err)

	at := time.Unix(1_000_000, 0)
	assert.False(t, VerifyTOTPCode(key.Secret(), "000000", at))
	assert.False(t, VerifyTOTPCode(key.Secret(), "not-a-code", at))
	assert.False(t, VerifyTOTPCode(key.Secret(), "", at))
}
