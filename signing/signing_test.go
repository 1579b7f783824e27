package signing_test

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattigo-labs/upstage/signing"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	priv, pub, err := signing.GenerateKeypair(rand.Reader)
	require.NoError(t, err)

	messages := [][]byte{
		[]byte("1.2.3"),
		[]byte(""),
		make([]byte, 32),
	}
	for _, msg := range messages {
		sig := signing.Sign(priv, msg)
		assert.True(t, signing.Verify(pub, msg, sig), "round trip should verify for %q", msg)
	}
}

func TestVerifyDetectsTamperedMessage(t *testing.T) {
	priv, pub, err := signing.GenerateKeypair(rand.Reader)
	require.NoError(t, err)

	msg := []byte("2.0.0")
	sig := signing.Sign(priv, msg)

	tampered := append([]byte(nil), msg...)
	tampered[0] ^= 0x01
	assert.False(t, signing.Verify(pub, tampered, sig))
}

func TestVerifyDetectsTamperedSignature(t *testing.T) {
	priv, pub, err := signing.GenerateKeypair(rand.Reader)
	require.NoError(t, err)

	msg := []byte("2.0.0")
	sig := signing.Sign(priv, msg)
	sig[0] ^= 0x01

	assert.False(t, signing.Verify(pub, msg, sig))
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	priv, _, err := signing.GenerateKeypair(rand.Reader)
	require.NoError(t, err)
	_, otherPub, err := signing.GenerateKeypair(rand.Reader)
	require.NoError(t, err)

	msg := []byte("3.0.0")
	sig := signing.Sign(priv, msg)
	assert.False(t, signing.Verify(otherPub, msg, sig))
}

func TestPublicKeyHexRoundTrip(t *testing.T) {
	_, pub, err := signing.GenerateKeypair(rand.Reader)
	require.NoError(t, err)

	parsed, err := signing.ParsePublicKey(pub.String())
	require.NoError(t, err)
	assert.Equal(t, pub, parsed)
}

func TestParsePublicKeyRejectsWrongLength(t *testing.T) {
	_, err := signing.ParsePublicKey("deadbeef")
	assert.Error(t, err)
}

func TestSignatureHexRoundTrip(t *testing.T) {
	priv, _, err := signing.GenerateKeypair(rand.Reader)
	require.NoError(t, err)

	sig := signing.Sign(priv, []byte("payload"))
	parsed, err := signing.ParseSignature(sig.String())
	require.NoError(t, err)
	assert.Equal(t, sig, parsed)
}
