package crypto

import (
	"crypto/rsa"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func generateRecipients(t *testing.T, n int) ([]KeyPair, []*rsa.PublicKey) {
	t.Helper()
	kps := make([]KeyPair, n)
	pubs := make([]*rsa.PublicKey, n)
	for i := range kps {
		kp, err := GenerateClientKey()
		require.NoError(t, err)
		kps[i] = kp
		pubs[i] = kp.PublicKey()
	}
	return kps, pubs
}

func TestHybridEncryptDecryptRoundTripEachRecipient(t *testing.T) {
	kps, pubs := generateRecipients(t, 3)
	plaintext := []byte(`{"participants":["a","b","c"],"message":"hello neighbourhood"}`)

	ct, err := HybridEncrypt(pubs, plaintext)
	require.NoError(t, err)
	require.Len(t, ct.WrappedKeys, 3)

	for i, kp := range kps {
		_ = i
		got, err := HybridDecrypt(kp.PrivateKey(), ct.IV, ct.Ciphertext, ct.WrappedKeys)
		require.NoError(t, err)
		assert.Equal(t, plaintext, got)
	}
}

func TestHybridDecryptFailsForNonRecipient(t *testing.T) {
	_, pubs := generateRecipients(t, 2)
	outsider, err := GenerateClientKey()
	require.NoError(t, err)

	ct, err := HybridEncrypt(pubs, []byte("secret"))
	require.NoError(t, err)

	_, err = HybridDecrypt(outsider.PrivateKey(), ct.IV, ct.Ciphertext, ct.WrappedKeys)
	assert.ErrorIs(t, err, ErrBadCiphertext)
}

func TestHybridDecryptFailsOnTamperedCiphertext(t *testing.T) {
	kps, pubs := generateRecipients(t, 1)
	ct, err := HybridEncrypt(pubs, []byte("secret"))
	require.NoError(t, err)

	ct.Ciphertext[0] ^= 0xFF
	_, err = HybridDecrypt(kps[0].PrivateKey(), ct.IV, ct.Ciphertext, ct.WrappedKeys)
	assert.ErrorIs(t, err, ErrBadCiphertext)
}

func TestHybridEncryptProducesFreshIVPerCall(t *testing.T) {
	_, pubs := generateRecipients(t, 1)
	ct1, err := HybridEncrypt(pubs, []byte("same plaintext"))
	require.NoError(t, err)
	ct2, err := HybridEncrypt(pubs, []byte("same plaintext"))
	require.NoError(t, err)

	assert.NotEqual(t, ct1.IV, ct2.IV)
	assert.NotEqual(t, ct1.Ciphertext, ct2.Ciphertext)
}
