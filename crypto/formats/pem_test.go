package formats

import (
	"crypto/rand"
	"crypto/rsa"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrivateKeyPEMRoundTrip(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	pemBytes := ExportPrivateKeyPEM(priv)
	got, err := ImportPrivateKeyPEM(pemBytes)
	require.NoError(t, err)
	assert.Equal(t, priv.N, got.N)
}

func TestPublicKeyPEMRoundTrip(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	pemBytes, err := ExportPublicKeyPEM(&priv.PublicKey)
	require.NoError(t, err)

	got, err := ImportPublicKeyPEM(pemBytes)
	require.NoError(t, err)
	assert.Equal(t, priv.PublicKey.N, got.N)
}

func TestImportPrivateKeyPEMRejectsGarbage(t *testing.T) {
	_, err := ImportPrivateKeyPEM([]byte("not pem"))
	assert.Error(t, err)
}

func TestLoadOrCreatePrivateKeyGeneratesOnce(t *testing.T) {
	dir := t.TempDir()
	keyPath := filepath.Join(dir, "id.key.pem")
	pubPath := filepath.Join(dir, "id.pub.pem")

	generated := 0
	gen := func() (*rsa.PrivateKey, error) {
		generated++
		return rsa.GenerateKey(rand.Reader, 2048)
	}

	first, err := LoadOrCreatePrivateKey(keyPath, pubPath, gen)
	require.NoError(t, err)

	second, err := LoadOrCreatePrivateKey(keyPath, pubPath, gen)
	require.NoError(t, err)

	assert.Equal(t, 1, generated)
	assert.Equal(t, first.N, second.N)
}
