package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFingerprintDeterministic(t *testing.T) {
	kp, err := GenerateClientKey()
	require.NoError(t, err)

	fp1 := kp.Fingerprint()
	fp2 := FingerprintOf(kp.PublicKey())
	assert.Equal(t, fp1, fp2)
	assert.NotEmpty(t, fp1)
}

func TestFingerprintDiffersAcrossKeys(t *testing.T) {
	a, err := GenerateClientKey()
	require.NoError(t, err)
	b, err := GenerateClientKey()
	require.NoError(t, err)

	assert.NotEqual(t, a.Fingerprint(), b.Fingerprint())
}

func TestSignVerifyRoundTrip(t *testing.T) {
	kp, err := GenerateClientKey()
	require.NoError(t, err)

	data := []byte(`{"type":"public_chat","message":"hi"}`)
	sig, err := kp.Sign(data, 2)
	require.NoError(t, err)

	require.NoError(t, kp.Verify(data, 2, sig))
}

func TestVerifyRejectsBitFlipInData(t *testing.T) {
	kp, err := GenerateClientKey()
	require.NoError(t, err)

	data := []byte(`{"message":"hi"}`)
	sig, err := kp.Sign(data, 2)
	require.NoError(t, err)

	tampered := append([]byte(nil), data...)
	tampered[0] ^= 0xFF
	assert.ErrorIs(t, kp.Verify(tampered, 2, sig), ErrBadSignature)
}

func TestVerifyRejectsWrongCounter(t *testing.T) {
	kp, err := GenerateClientKey()
	require.NoError(t, err)

	data := []byte(`{"message":"hi"}`)
	sig, err := kp.Sign(data, 2)
	require.NoError(t, err)

	assert.ErrorIs(t, kp.Verify(data, 3, sig), ErrBadSignature)
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	a, err := GenerateClientKey()
	require.NoError(t, err)
	b, err := GenerateClientKey()
	require.NoError(t, err)

	data := []byte(`{"message":"hi"}`)
	sig, err := a.Sign(data, 1)
	require.NoError(t, err)

	assert.ErrorIs(t, b.Verify(data, 1, sig), ErrBadSignature)
}

func TestPublicKeyPairCannotSign(t *testing.T) {
	kp, err := GenerateClientKey()
	require.NoError(t, err)

	pubOnly := NewPublicKeyPair(kp.PublicKey())
	_, err = pubOnly.Sign([]byte("data"), 1)
	assert.ErrorIs(t, err, ErrBadKey)
}

func TestPublicKeyDEREncodeDecodeRoundTrip(t *testing.T) {
	kp, err := GenerateClientKey()
	require.NoError(t, err)

	encoded, err := EncodePublicKeyDER(kp.PublicKey())
	require.NoError(t, err)

	decoded, err := DecodePublicKeyDER(encoded)
	require.NoError(t, err)
	assert.Equal(t, FingerprintOf(kp.PublicKey()), FingerprintOf(decoded))
}

func TestDecodePublicKeyDERRejectsGarbage(t *testing.T) {
	_, err := DecodePublicKeyDER("not-base64!!!")
	assert.ErrorIs(t, err, ErrBadKey)
}
