// Package crypto provides the signature checks for export bundles.
//
// This package provides:
//   - Ed25519 verification of the detached manifest signature
//   - Hex decoding of manifest.sig with length validation
//   - The Authenticated proof token handed out only for valid signatures
//
// # Verification
//
// Verify the raw manifest bytes exactly as stored in the bundle:
//
//	sig, err := crypto.DecodeSignatureHex(sigText)
//	if err != nil {
//		log.Fatal(err) // wraps ErrMalformedSignature
//	}
//	auth, err := crypto.VerifyManifest(manifestBytes, sig, publicKey)
//	if errors.Is(err, crypto.ErrSignatureInvalid) {
//		log.Fatal("manifest was tampered with or signed by another key")
//	}
//
// A malformed signature (wrong length, bad hex) is reported separately
// from a well-formed signature that does not verify, so corruption can be
// told apart from tampering.
package crypto

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

const (
	// PublicKeySize is the Ed25519 public key length in bytes
	PublicKeySize = ed25519.PublicKeySize

	// SignatureSize is the Ed25519 signature length in bytes
	SignatureSize = ed25519.SignatureSize

	// Algorithm names the signature scheme used for manifests
	Algorithm = "Ed25519"
)

var (
	// ErrMalformedSignature means the signature bytes are not a well-formed Ed25519 signature.
	ErrMalformedSignature = errors.New("malformed signature")

	// ErrMalformedKey means the public key is not a well-formed Ed25519 key.
	ErrMalformedKey = errors.New("malformed public key")

	// ErrSignatureInvalid means the signature is well-formed but does not verify.
	ErrSignatureInvalid = errors.New("signature verification failed")
)

// Authenticated is proof that a manifest byte string carried a valid
// signature for a specific key. It can only be obtained from VerifyManifest.
type Authenticated struct {
	raw []byte
	key ed25519.PublicKey
}

// Bytes returns a copy of the authenticated manifest bytes.
func (a *Authenticated) Bytes() []byte {
	if !a.Valid() {
		return nil
	}
	out := make([]byte, len(a.raw))
	copy(out, a.raw)
	return out
}

// PublicKey returns the key the manifest was verified against.
func (a *Authenticated) PublicKey() ed25519.PublicKey {
	if !a.Valid() {
		return nil
	}
	return a.key
}

// Valid reports whether a was produced by a successful verification.
func (a *Authenticated) Valid() bool {
	return a != nil && a.key != nil
}

// DecodeSignatureHex decodes the text of manifest.sig. Surrounding
// whitespace is trimmed before decoding.
func DecodeSignatureHex(text string) ([]byte, error) {
	sigHex := strings.TrimSpace(text)
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid hex: %v", ErrMalformedSignature, err)
	}
	if len(sig) != SignatureSize {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrMalformedSignature, SignatureSize, len(sig))
	}
	return sig, nil
}

// VerifyManifest checks signature over the exact manifest bytes.
func VerifyManifest(manifestBytes, signature []byte, publicKey ed25519.PublicKey) (*Authenticated, error) {
	if len(publicKey) != PublicKeySize {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrMalformedKey, PublicKeySize, len(publicKey))
	}
	if len(signature) != SignatureSize {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrMalformedSignature, SignatureSize, len(signature))
	}

	if !ed25519.Verify(publicKey, manifestBytes, signature) {
		return nil, ErrSignatureInvalid
	}

	raw := make([]byte, len(manifestBytes))
	copy(raw, manifestBytes)
	key := make(ed25519.PublicKey, PublicKeySize)
	copy(key, publicKey)

	return &Authenticated{raw: raw, key: key}, nil
}

// Sign signs data with an Ed25519 private key and returns the hex text
// stored in manifest.sig.
func Sign(privateKey ed25519.PrivateKey, data []byte) (string, error) {
	if len(privateKey) != ed25519.PrivateKeySize {
		return "", fmt.Errorf("invalid private key length: expected %d bytes, got %d",
			ed25519.PrivateKeySize, len(privateKey))
	}
	return hex.EncodeToString(ed25519.Sign(privateKey, data)), nil
}
