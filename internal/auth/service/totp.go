package service

import (
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	totpPeriod     = 30 // seconds per code
	totpSecretSize = 20 // bytes of secret entropy (RFC 4226 recommendation)
)

// GenerateTOTPKey creates a new TOTP key for the given issuer and account.
// The key's URL() is the otpauth:// provisioning URI authenticator apps scan.
func GenerateTOTPKey(issuer, account string) (*otp.Key, error) {
	return totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: account,
		Period:      totpPeriod,
		SecretSize:  totpSecretSize,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
}

// VerifyTOTPCode checks a six-digit code against the secret at the given
// time. One period of clock skew is tolerated either side, so a code from
// the previous or next 30-second window also passes.
func VerifyTOTPCode(secret, code string, at time.Time) bool {
	ok, err := totp.ValidateCustom(code, secret, at, totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && ok
}
