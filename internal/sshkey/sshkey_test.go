package sshkey

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureKeypairGeneratesOnFirstCall(t *testing.T) {
	path := filepath.Join(t.TempDir(), "id_ed25519")

	require.NoError(t, EnsureKeypair(path))
	assert.FileExists(t, path)
	assert.FileExists(t, path+".pub")

	pub, err := PublicKey(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(pub, "ssh-ed25519 "))
}

func TestEnsureKeypairIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "id_ed25519")

	require.NoError(t, EnsureKeypair(path))
	first, err := PublicKey(path)
	require.NoError(t, err)

	require.NoError(t, EnsureKeypair(path))
	second, err := PublicKey(path)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}
