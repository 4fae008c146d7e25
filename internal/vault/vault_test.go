package vault

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ricardoborges/nautilus/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCipherRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		secret string
	}{
		{name: "simple password", secret: "hunter2"},
		{name: "empty string", secret: ""},
		{name: "unicode", secret: "pässwörd-日本語"},
		{name: "long value", secret: string(make([]byte, 4096))},
	}

	c := NewCipher([]byte("test-key"))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sealed, err := c.Seal(tt.secret)
			require.NoError(t, err)
			assert.NotEqual(t, tt.secret, sealed)

			opened, err := c.Open(sealed)
			require.NoError(t, err)
			assert.Equal(t, tt.secret, opened)
		})
	}
}

func TestCipherWrongKey(t *testing.T) {
	sealed, err := NewCipher([]byte("key-one")).Seal("secret")
	require.NoError(t, err)

	_, err = NewCipher([]byte("key-two")).Open(sealed)
	assert.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrVault))
}

func TestCipherOpenGarbage(t *testing.T) {
	c := NewCipher([]byte("key"))

	_, err := c.Open("not-hex!")
	assert.Error(t, err)

	_, err = c.Open("abcd") // valid hex, shorter than a nonce
	assert.Error(t, err)
}

func newTestStore(t *testing.T) (*FileStore, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := OpenFileStore(filepath.Join(dir, "vault.yaml"), filepath.Join(dir, "vault.key"))
	require.NoError(t, err)
	return s, dir
}

func TestFileStoreSetGet(t *testing.T) {
	s, _ := newTestStore(t)

	require.NoError(t, s.Set("conn-1", "p@ssw0rd"))

	got, err := s.Get("conn-1")
	require.NoError(t, err)
	assert.Equal(t, "p@ssw0rd", got)
}

func TestFileStoreGetMissing(t *testing.T) {
	s, _ := newTestStore(t)

	_, err := s.Get("nope")
	assert.True(t, errors.IsCode(err, errors.ErrNotFound))
}

func TestFileStoreDelete(t *testing.T) {
	s, _ := newTestStore(t)

	require.NoError(t, s.Set("conn-1", "secret"))
	require.NoError(t, s.Delete("conn-1"))

	_, err := s.Get("conn-1")
	assert.True(t, errors.IsCode(err, errors.ErrNotFound))

	// Deleting again is a no-op, not an error.
	assert.NoError(t, s.Delete("conn-1"))
}

func TestFileStorePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	vaultPath := filepath.Join(dir, "vault.yaml")
	keyPath := filepath.Join(dir, "vault.key")

	s1, err := OpenFileStore(vaultPath, keyPath)
	require.NoError(t, err)
	require.NoError(t, s1.Set("conn-1", "persisted"))

	s2, err := OpenFileStore(vaultPath, keyPath)
	require.NoError(t, err)

	got, err := s2.Get("conn-1")
	require.NoError(t, err)
	assert.Equal(t, "persisted", got)
}

func TestFileStoreSecretsNotPlaintextOnDisk(t *testing.T) {
	dir := t.TempDir()
	vaultPath := filepath.Join(dir, "vault.yaml")

	s, err := OpenFileStore(vaultPath, filepath.Join(dir, "vault.key"))
	require.NoError(t, err)
	require.NoError(t, s.Set("conn-1", "super-secret-value"))

	raw, err := os.ReadFile(vaultPath)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "super-secret-value")
}

func TestLoadOrCreateKeyGeneratesOnce(t *testing.T) {
	dir := t.TempDir()
	keyPath := filepath.Join(dir, "vault.key")

	k1, err := loadOrCreateKey(keyPath)
	require.NoError(t, err)
	assert.Len(t, k1, KeySize)

	k2, err := loadOrCreateKey(keyPath)
	require.NoError(t, err)
	assert.Equal(t, k1, k2)
}

func TestLoadOrCreateKeyMalformed(t *testing.T) {
	dir := t.TempDir()
	keyPath := filepath.Join(dir, "vault.key")
	require.NoError(t, os.WriteFile(keyPath, []byte("short"), 0600))

	_, err := loadOrCreateKey(keyPath)
	assert.True(t, errors.IsCode(err, errors.ErrVault))
}
