// Package signing provides the Ed25519 primitives that authenticate
// every fact the server advertises: the latest version string, a
// per-version release hash, and the SHA-256 of a streamed release
// body. It never decides what to sign — callers pass in the exact
// canonical byte sequence (spec §4.1) and get a detached signature
// back.
package signing

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"io"
)

// PublicKeySize and PrivateKeySize match Ed25519's fixed key sizes.
const (
	PublicKeySize  = ed25519.PublicKeySize
	PrivateKeySize = ed25519.PrivateKeySize
	SignatureSize  = ed25519.SignatureSize
)

// PublicKey is 32 bytes of Ed25519 public key material, distributed
// out-of-band to clients as configuration input.
type PublicKey [PublicKeySize]byte

// PrivateKey is Ed25519 private key material, exclusively owned by the
// server.
type PrivateKey [PrivateKeySize]byte

// Signature is a 64-byte Ed25519 detached signature.
type Signature [SignatureSize]byte

// GenerateKeypair produces a fresh Ed25519 keypair, reading randomness
// from rng. Pass crypto/rand.Reader in production; tests may inject a
// deterministic reader.
func GenerateKeypair(rng io.Reader) (PrivateKey, PublicKey, error) {
	pub, priv, err := ed25519.GenerateKey(rng)
	if err != nil {
		return PrivateKey{}, PublicKey{}, fmt.Errorf("generate ed25519 keypair: %w", err)
	}
	var privKey PrivateKey
	var pubKey PublicKey
	copy(privKey[:], priv)
	copy(pubKey[:], pub)
	return privKey, pubKey, nil
}

// Sign signs the exact bytes given, over a fresh buffer. It never
// hashes or transforms the input first: the caller has already reduced
// whatever it wants signed to its canonical byte sequence.
func Sign(key PrivateKey, message []byte) Signature {
	sig := ed25519.Sign(ed25519.PrivateKey(key[:]), message)
	var out Signature
	copy(out[:], sig)
	return out
}

// Verify reports whether sig is a valid Ed25519 signature over message
// under key. It runs in constant time with respect to the signature
// bytes, as provided by crypto/ed25519.
func Verify(key PublicKey, message []byte, sig Signature) bool {
	return ed25519.Verify(ed25519.PublicKey(key[:]), message, sig[:])
}

// String renders the public key as lowercase hex, the wire format used
// for configuration (spec §6's updater_api_key).
func (k PublicKey) String() string {
	return hex.EncodeToString(k[:])
}

// ParsePublicKey decodes a lowercase-hex-encoded public key.
func ParsePublicKey(s string) (PublicKey, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return PublicKey{}, fmt.Errorf("decode public key hex: %w", err)
	}
	if len(b) != PublicKeySize {
		return PublicKey{}, fmt.Errorf("public key must be %d bytes, got %d", PublicKeySize, len(b))
	}
	var key PublicKey
	copy(key[:], b)
	return key, nil
}

// ParsePrivateKey decodes a lowercase-hex-encoded private key.
func ParsePrivateKey(s string) (PrivateKey, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return PrivateKey{}, fmt.Errorf("decode private key hex: %w", err)
	}
	if len(b) != PrivateKeySize {
		return PrivateKey{}, fmt.Errorf("private key must be %d bytes, got %d", PrivateKeySize, len(b))
	}
	var key PrivateKey
	copy(key[:], b)
	return key, nil
}

// String renders the signature as lowercase hex, the format carried in
// the X-Signature response header.
func (s Signature) String() string {
	return hex.EncodeToString(s[:])
}

// ParseSignature decodes a lowercase-hex-encoded detached signature.
func ParseSignature(s string) (Signature, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Signature{}, fmt.Errorf("decode signature hex: %w", err)
	}
	if len(b) != SignatureSize {
		return Signature{}, fmt.Errorf("signature must be %d bytes, got %d", SignatureSize, len(b))
	}
	var sig Signature
	copy(sig[:], b)
	return sig, nil
}
