package service

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
)

const backupCodeCount = 8 // Number of backup codes issued per enrollment

var backupCodePattern = regexp.MustCompile(`^[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}$`)

// GenerateBackupCodes creates n single-use recovery codes. Each carries 64
// bits of entropy, rendered as four hyphenated groups of hex so users can
// read them back over the phone.
func GenerateBackupCodes(n int) ([]string, error) {
	codes := make([]string, n)
	for i := range codes {
		var buf [8]byte
		if _, err := rand.Read(buf[:]); err != nil {
			return nil, fmt.Errorf("failed to generate backup code: %w", err)
		}
		h := hex.EncodeToString(buf[:])
		codes[i] = fmt.Sprintf("%s-%s-%s-%s", h[0:4], h[4:8], h[8:12], h[12:16])
	}
	return codes, nil
}

// ValidBackupCodeFormat reports whether a submitted code is shaped like a
// backup code, which is how challenge verification tells backup codes apart
// from six-digit TOTP codes.
func ValidBackupCodeFormat(code string) bool {
	return backupCodePattern.MatchString(code)
}
