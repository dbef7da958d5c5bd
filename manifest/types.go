// Package manifest provides the model and strict parser for export bundle
// manifests.
//
// A manifest is the manifest.json entry of a bundle. It names the tool
// version that produced the export, the generation seed, the exported
// content kinds, the SHA-384 digest of every payload file, and the Ed25519
// public key of the exporter.
//
// # Manifest Structure
//
//	{
//	  "pacai": "6.3",
//	  "generated": "2026-01-02T15:04:05.000Z",
//	  "seed": 12345,
//	  "exports": ["zone"],
//	  "checksums": {"zone.json": "<sha384 hex>"},
//	  "public_key": "<ed25519 hex>"
//	}
//
// # Trust
//
// Signatures cover the manifest bytes exactly as stored, so this package
// never re-serializes a manifest. Parse is for presentation; checksum
// verification only accepts a Verified manifest, which is built from a
// crypto.Authenticated proof:
//
//	auth, err := crypto.VerifyManifest(raw, sig, key)
//	if err != nil {
//		return err
//	}
//	verified, err := manifest.ParseAuthenticated(auth, manifest.ParseOptions{})
package manifest

import (
	"strconv"
	"time"

	"github.com/pacai/pacai-verify/crypto"
)

// FileName is the bundle entry holding the manifest
const FileName = "manifest.json"

// SignatureFileName is the bundle entry holding the hex signature
const SignatureFileName = "manifest.sig"

// ChecksumEntry is one row of the checksum table
type ChecksumEntry struct {
	Path   string `json:"path"`
	Digest string `json:"digest"`
}

// ChecksumTable lists checksum entries in manifest document order
type ChecksumTable []ChecksumEntry

// Paths returns the table paths in order
func (t ChecksumTable) Paths() []string {
	out := make([]string, len(t))
	for i, e := range t {
		out[i] = e.Path
	}
	return out
}

// Lookup returns the expected digest for path
func (t ChecksumTable) Lookup(path string) (string, bool) {
	for _, e := range t {
		if e.Path == path {
			return e.Digest, true
		}
	}
	return "", false
}

// Seed is the generation seed. It is recorded for reproducibility audits
// and has no cryptographic role. Exporters write either an integer or an
// opaque token such as "pacai_1700000000123_k3j2h1"; a seed that is not an
// integer is kept verbatim in Raw and Value is zero.
type Seed struct {
	Value int64
	Raw   string
	Set   bool
}

// IsInteger reports whether the seed was written as an integer
func (s Seed) IsInteger() bool {
	return s.Set && s.Raw == ""
}

// String returns the seed as written, or "" when absent
func (s Seed) String() string {
	switch {
	case !s.Set:
		return ""
	case s.Raw != "":
		return s.Raw
	default:
		return strconv.FormatInt(s.Value, 10)
	}
}

// Manifest is the decoded manifest.json of a bundle. Optional fields the
// exporter omitted keep their zero values.
type Manifest struct {
	Version            string
	Generated          string
	GeneratedAt        time.Time
	Seed               Seed
	Exports            []string
	Checksums          ChecksumTable
	PublicKeyHex       string
	ProjectID          string
	SignatureAlgorithm string
	TotalSizeBytes     int64
	Engines            []string
}

// HasEmbeddedKey reports whether the manifest carries a public key
func (m *Manifest) HasEmbeddedKey() bool {
	return m.PublicKeyHex != ""
}

// Verified is a manifest parsed from authenticated bytes.
type Verified struct {
	manifest *Manifest
	auth     *crypto.Authenticated
}

// Manifest returns the parsed manifest, or nil for an unusable value.
func (v *Verified) Manifest() *Manifest {
	if !v.Valid() {
		return nil
	}
	return v.manifest
}

// Checksums returns the authenticated checksum table.
func (v *Verified) Checksums() ChecksumTable {
	if !v.Valid() {
		return nil
	}
	return v.manifest.Checksums
}

// Valid reports whether v came from ParseAuthenticated.
func (v *Verified) Valid() bool {
	return v != nil && v.manifest != nil && v.auth.Valid()
}
