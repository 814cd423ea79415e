package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateBackupCodes(t *testing.T) {
	t.Parallel()

	codes, err := GenerateBackupCodes(backupCodeCount)
	require.NoError(t, err)
	require.Len(t, codes, backupCodeCount)

	seen := make(map[string]struct{}, len(codes))
	for _, code := range codes {
		assert.True(t, ValidBackupCodeFormat(code), "code %q not in expected format", code)
		_, dup := seen[code]
		assert.False(t, dup, "duplicate code %q", code)
		seen[code] = struct{}{}
	}
}

func TestValidBackupCodeFormat(t *testing.T) {
	t.Parallel()

	assert.True(t, ValidBackupCodeFormat("0123-4567-89ab-cdef"))

	// TOTP codes and near-misses must not be mistaken for backup codes
	assert.False(t, ValidBackupCodeFormat("123456"))
	assert.False(t, ValidBackupCodeFormat("0123-4567-89ab"))
	assert.False(t, ValidBackupCodeFormat("0123-4567-89AB-CDEF"))
	assert.False(t, ValidBackupCodeFormat("0123456789abcdef"))
	assert.False(t, ValidBackupCodeFormat(""))
}
