package keys

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pacai/pacai-verify/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

// RFC 8032 test vector 1 public key
const testKeyHex = "d75a980182b10ab7d54bfed3c964073a0ee172f3daa62325af021a68f707511a"

func testKey(t *testing.T) ed25519.PublicKey {
	t.Helper()
	key, err := hex.DecodeString(testKeyHex)
	require.NoError(t, err)
	return key
}

func writeKeyFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestParseHex(t *testing.T) {
	t.Run("valid key", func(t *testing.T) {
		key, err := ParseHex(testKeyHex)
		require.NoError(t, err)
		assert.Equal(t, testKey(t), key)
	})

	t.Run("whitespace and uppercase", func(t *testing.T) {
		key, err := ParseHex("  " + strings.ToUpper(testKeyHex) + "\n")
		require.NoError(t, err)
		assert.Equal(t, testKey(t), key)
	})

	t.Run("invalid hex", func(t *testing.T) {
		_, err := ParseHex("not-hex")
		require.ErrorIs(t, err, crypto.ErrMalformedKey)
		assert.Contains(t, err.Error(), "invalid hex")
	})

	t.Run("wrong length", func(t *testing.T) {
		_, err := ParseHex(testKeyHex[:62])
		require.ErrorIs(t, err, crypto.ErrMalformedKey)
		assert.Contains(t, err.Error(), "expected 32 bytes, got 31")
	})
}

func TestLoadFile(t *testing.T) {
	want := testKey(t)

	t.Run("PEM", func(t *testing.T) {
		der, err := x509.MarshalPKIXPublicKey(want)
		require.NoError(t, err)
		path := writeKeyFile(t, "pub.pem", pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))

		key, err := LoadFile(path)
		require.NoError(t, err)
		assert.Equal(t, want, key)
	})

	t.Run("OpenSSH", func(t *testing.T) {
		sshPub, err := ssh.NewPublicKey(want)
		require.NoError(t, err)
		line := strings.TrimSpace(string(ssh.MarshalAuthorizedKey(sshPub))) + " exporter@pacai\n"
		path := writeKeyFile(t, "id_ed25519.pub", []byte(line))

		key, err := LoadFile(path)
		require.NoError(t, err)
		assert.Equal(t, want, key)
	})

	t.Run("hex text", func(t *testing.T) {
		path := writeKeyFile(t, "pub.hex", []byte(testKeyHex+"\n"))
		key, err := LoadFile(path)
		require.NoError(t, err)
		assert.Equal(t, want, key)
	})

	t.Run("raw bytes", func(t *testing.T) {
		path := writeKeyFile(t, "pub.bin", want)
		key, err := LoadFile(path)
		require.NoError(t, err)
		assert.Equal(t, want, key)
	})

	t.Run("truncated hex of raw key length", func(t *testing.T) {
		path := writeKeyFile(t, "pub.hex", []byte(testKeyHex[:crypto.PublicKeySize]))
		_, err := LoadFile(path)
		require.ErrorIs(t, err, crypto.ErrMalformedKey)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadFile(filepath.Join(t.TempDir(), "missing.pem"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to read public key file")
	})

	t.Run("wrong PEM block", func(t *testing.T) {
		path := writeKeyFile(t, "cert.pem", pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: []byte{1}}))
		_, err := LoadFile(path)
		require.ErrorIs(t, err, crypto.ErrMalformedKey)
		assert.Contains(t, err.Error(), "CERTIFICATE")
	})

	t.Run("non-Ed25519 PEM key", func(t *testing.T) {
		ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		require.NoError(t, err)
		der, err := x509.MarshalPKIXPublicKey(&ecKey.PublicKey)
		require.NoError(t, err)
		path := writeKeyFile(t, "ec.pem", pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))

		_, err = LoadFile(path)
		require.ErrorIs(t, err, crypto.ErrMalformedKey)
		assert.Contains(t, err.Error(), "only Ed25519 is supported")
	})

	t.Run("garbage", func(t *testing.T) {
		path := writeKeyFile(t, "junk", []byte("hello world, not a key"))
		_, err := LoadFile(path)
		require.ErrorIs(t, err, crypto.ErrMalformedKey)
	})
}
