package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashPasswordRoundTrip(t *testing.T) {
	salt, hash, err := HashPassword("hunter2")
	require.NoError(t, err)
	assert.Len(t, salt, saltLen)
	assert.Len(t, hash, keyLen)

	assert.True(t, VerifyPassword("hunter2", salt, hash))
	assert.False(t, VerifyPassword("hunter3", salt, hash))
	assert.False(t, VerifyPassword("", salt, hash))
}

func TestHashPasswordSaltsAreUnique(t *testing.T) {
	salt1, hash1, err := HashPassword("same-password")
	require.NoError(t, err)
	salt2, hash2, err := HashPassword("same-password")
	require.NoError(t, err)

	assert.NotEqual(t, salt1, salt2)
	assert.NotEqual(t, hash1, hash2)
}
