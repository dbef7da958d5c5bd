// Package keys loads verifying keys and decides which one a bundle is
// checked against.
//
// # Key File Formats
//
// LoadFile accepts an Ed25519 public key in any of these encodings:
//
//	-----BEGIN PUBLIC KEY-----   PEM, PKIX SubjectPublicKeyInfo
//	ssh-ed25519 AAAAC3Nz...      OpenSSH authorized_keys line
//	d75a980182b10ab7...          64 hex characters
//	<32 raw bytes>               the key itself
//
// # Trust Sources
//
// A caller-supplied key (file or inline hex) pins the bundle to a known
// authority. Without one, the key embedded in the manifest is used, which
// only proves the bundle is internally consistent:
//
//	src, err := keys.FromFlags(pubkeyPath, pubkeyHex)
//	if err != nil {
//		return err // *keys.ConfigError: the caller's input is bad
//	}
//	resolved, err := keys.Resolve(src, embeddedHex)
//	if resolved.Trust == keys.TrustSelfAsserted {
//		log.Print("bundle is self-consistent but its origin is unproven")
//	}
package keys

import (
	"bytes"
	"crypto/ed25519"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"os"
	"strings"

	"github.com/pacai/pacai-verify/crypto"
	"golang.org/x/crypto/ssh"
)

// ConfigError reports a caller-supplied key that could not be used. It is
// a configuration mistake, not a property of the bundle.
type ConfigError struct {
	Source string
	Err    error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("public key %s: %v", e.Source, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// ParseHex decodes a hex-encoded raw Ed25519 public key
func ParseHex(keyHex string) (ed25519.PublicKey, error) {
	keyBytes, err := hex.DecodeString(strings.TrimSpace(keyHex))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid hex: %v", crypto.ErrMalformedKey, err)
	}
	if len(keyBytes) != crypto.PublicKeySize {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", crypto.ErrMalformedKey, crypto.PublicKeySize, len(keyBytes))
	}
	return ed25519.PublicKey(keyBytes), nil
}

// LoadFile reads a public key file in PEM, OpenSSH, hex or raw form
func LoadFile(path string) (ed25519.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read public key file: %w", err)
	}
	return ParseKeyData(data)
}

// ParseKeyData detects the encoding of data and decodes the key. Text made
// only of hex digits is always decoded as hex, so a truncated hex key is an
// error even when it happens to be 32 bytes long.
func ParseKeyData(data []byte) (ed25519.PublicKey, error) {
	trimmed := bytes.TrimSpace(data)

	switch {
	case bytes.HasPrefix(trimmed, []byte("-----BEGIN")):
		return parsePEM(trimmed)
	case bytes.HasPrefix(trimmed, []byte(ssh.KeyAlgoED25519+" ")):
		return parseAuthorizedKey(trimmed)
	case isHexText(trimmed):
		return ParseHex(string(trimmed))
	case len(data) == crypto.PublicKeySize:
		return ed25519.PublicKey(bytes.Clone(data)), nil
	default:
		return ParseHex(string(trimmed))
	}
}

func isHexText(data []byte) bool {
	if len(data) == 0 {
		return false
	}
	for _, c := range data {
		switch {
		case '0' <= c && c <= '9', 'a' <= c && c <= 'f', 'A' <= c && c <= 'F':
		default:
			return false
		}
	}
	return true
}

func parsePEM(data []byte) (ed25519.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("%w: invalid PEM data", crypto.ErrMalformedKey)
	}
	if block.Type != "PUBLIC KEY" {
		return nil, fmt.Errorf("%w: unexpected PEM block %q, expected PUBLIC KEY", crypto.ErrMalformedKey, block.Type)
	}

	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse PKIX key: %v", crypto.ErrMalformedKey, err)
	}
	key, ok := pub.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: PEM key is %T, only Ed25519 is supported", crypto.ErrMalformedKey, pub)
	}
	return key, nil
}

func parseAuthorizedKey(data []byte) (ed25519.PublicKey, error) {
	pub, _, _, _, err := ssh.ParseAuthorizedKey(data)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse OpenSSH key: %v", crypto.ErrMalformedKey, err)
	}
	cryptoPub, ok := pub.(ssh.CryptoPublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: unsupported OpenSSH key type %s", crypto.ErrMalformedKey, pub.Type())
	}
	key, ok := cryptoPub.CryptoPublicKey().(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: OpenSSH key is not Ed25519", crypto.ErrMalformedKey)
	}
	return key, nil
}
