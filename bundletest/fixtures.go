// Package bundletest builds signed export bundles for tests across packages.
package bundletest

import (
	"bytes"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/zip"

	"github.com/pacai/pacai-verify/crypto"
	"github.com/pacai/pacai-verify/manifest"
)

// DefaultSeedHex is the fixed Ed25519 seed behind New (NOT FOR PRODUCTION USE)
const DefaultSeedHex = "c5aa8df43f9f837bedb7442f31dcb7b166d38535076f094b85ce3a2e0b4458f7"

// Entry is one named blob in a bundle
type Entry struct {
	Name string
	Data []byte
}

// Builder assembles a bundle and signs its manifest
type Builder struct {
	key       ed25519.PrivateKey
	version   string
	generated string
	seed      any
	exports   []string
	files     []Entry
	embedKey  bool
}

// New returns a builder with a fixed key and the manifest fields of a
// typical zone export.
func New() *Builder {
	seed, _ := hex.DecodeString(DefaultSeedHex)
	return &Builder{
		key:       ed25519.NewKeyFromSeed(seed),
		version:   "6.3",
		generated: "2026-03-01T10:20:30.000Z",
		seed:      12345,
		exports:   []string{"zone"},
		embedKey:  true,
	}
}

// WithKey signs with key instead of the default
func (b *Builder) WithKey(key ed25519.PrivateKey) *Builder {
	b.key = key
	return b
}

// WithFile adds a payload file listed in the checksum table
func (b *Builder) WithFile(name string, data []byte) *Builder {
	b.files = append(b.files, Entry{Name: name, Data: data})
	return b
}

// WithSeed sets the manifest seed, written as a JSON number or string
// depending on its type
func (b *Builder) WithSeed(seed any) *Builder {
	b.seed = seed
	return b
}

// WithExports sets the exports list
func (b *Builder) WithExports(kinds ...string) *Builder {
	b.exports = kinds
	return b
}

// WithoutEmbeddedKey omits public_key from the manifest
func (b *Builder) WithoutEmbeddedKey() *Builder {
	b.embedKey = false
	return b
}

// PrivateKey returns the signing key
func (b *Builder) PrivateKey() ed25519.PrivateKey {
	return b.key
}

// PublicKey returns the signing key's public half
func (b *Builder) PublicKey() ed25519.PublicKey {
	return b.key.Public().(ed25519.PublicKey)
}

// PublicKeyHex returns the public key hex-encoded
func (b *Builder) PublicKeyHex() string {
	return hex.EncodeToString(b.PublicKey())
}

// ManifestBytes renders manifest.json with fields in a fixed order
func (b *Builder) ManifestBytes() []byte {
	var buf bytes.Buffer
	buf.WriteString(`{"pacai":`)
	writeJSON(&buf, b.version)
	buf.WriteString(`,"generated":`)
	writeJSON(&buf, b.generated)
	buf.WriteString(`,"seed":`)
	writeJSON(&buf, b.seed)
	buf.WriteString(`,"exports":`)
	writeJSON(&buf, b.exports)
	buf.WriteString(`,"checksums":{`)
	for i, f := range b.files {
		if i > 0 {
			buf.WriteByte(',')
		}
		writeJSON(&buf, f.Name)
		buf.WriteByte(':')
		writeJSON(&buf, manifest.ComputeHash(f.Data))
	}
	buf.WriteByte('}')
	if b.embedKey {
		buf.WriteString(`,"public_key":`)
		writeJSON(&buf, b.PublicKeyHex())
	}
	buf.WriteByte('}')
	return buf.Bytes()
}

// Entries returns manifest.json, manifest.sig and every payload file
func (b *Builder) Entries() []Entry {
	raw := b.ManifestBytes()
	return Resign(append([]Entry{{Name: manifest.FileName, Data: raw}}, b.files...), b.key)
}

// Resign replaces manifest.sig with a signature over the current
// manifest.json entry.
func Resign(entries []Entry, key ed25519.PrivateKey) []Entry {
	out := Remove(entries, manifest.SignatureFileName)
	for _, e := range out {
		if e.Name == manifest.FileName {
			sigHex, err := crypto.Sign(key, e.Data)
			if err != nil {
				panic(err)
			}
			return append(out, Entry{Name: manifest.SignatureFileName, Data: []byte(sigHex + "\n")})
		}
	}
	return out
}

// Get returns the data stored under name
func Get(entries []Entry, name string) []byte {
	for _, e := range entries {
		if e.Name == name {
			return e.Data
		}
	}
	return nil
}

// Replace returns a copy of entries with name's data swapped for data
func Replace(entries []Entry, name string, data []byte) []Entry {
	out := make([]Entry, len(entries))
	for i, e := range entries {
		if e.Name == name {
			e.Data = data
		}
		out[i] = e
	}
	return out
}

// Remove returns a copy of entries without name
func Remove(entries []Entry, name string) []Entry {
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if e.Name != name {
			out = append(out, e)
		}
	}
	return out
}

// FlipByte returns a copy of data with the byte at i inverted in its low bit
func FlipByte(data []byte, i int) []byte {
	out := bytes.Clone(data)
	out[i] ^= 0x01
	return out
}

// WriteZip writes entries as a zip archive in a temp dir and returns its path
func WriteZip(tb testing.TB, entries []Entry) string {
	tb.Helper()

	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for _, e := range entries {
		f, err := w.Create(e.Name)
		if err != nil {
			tb.Fatalf("create %s: %v", e.Name, err)
		}
		if _, err := f.Write(e.Data); err != nil {
			tb.Fatalf("write %s: %v", e.Name, err)
		}
	}
	if err := w.Close(); err != nil {
		tb.Fatalf("close zip: %v", err)
	}

	path := filepath.Join(tb.TempDir(), "export.zip")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		tb.Fatalf("write zip: %v", err)
	}
	return path
}

// WriteDir writes entries as an exploded bundle and returns its directory
func WriteDir(tb testing.TB, entries []Entry) string {
	tb.Helper()

	dir := filepath.Join(tb.TempDir(), "export")
	for _, e := range entries {
		path := filepath.Join(dir, filepath.FromSlash(e.Name))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			tb.Fatalf("mkdir for %s: %v", e.Name, err)
		}
		if err := os.WriteFile(path, e.Data, 0o644); err != nil {
			tb.Fatalf("write %s: %v", e.Name, err)
		}
	}
	return dir
}

// ZoneJSON is a representative payload file
var ZoneJSON = []byte(strings.TrimSpace(`
{
  "zone": "north-ridge",
  "biome": "tundra",
  "pois": [{"id": "poi_1", "kind": "outpost"}]
}`))

func writeJSON(buf *bytes.Buffer, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	buf.Write(data)
}
