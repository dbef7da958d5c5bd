package manifest

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/pacai/pacai-verify/crypto"
)

// ErrMalformed is wrapped by every manifest parse failure
var ErrMalformed = errors.New("malformed manifest")

// ErrNotAuthenticated is returned by ParseAuthenticated for an unusable proof
var ErrNotAuthenticated = errors.New("manifest bytes are not authenticated")

// ParseOptions controls strictness that depends on the caller's context
type ParseOptions struct {
	// RequireEmbeddedKey fails parsing when public_key is absent. Set it
	// when no external key was supplied.
	RequireEmbeddedKey bool
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformed, fmt.Sprintf(format, args...))
}

// Parse strictly decodes manifest bytes. The top level must be an object
// with only known fields, each appearing once; the checksum table must be
// present, with unique clean relative paths and SHA-384 hex digests.
func Parse(raw []byte, opts ParseOptions) (*Manifest, error) {
	m := &Manifest{}
	seen := make(map[string]bool)

	err := walkObject(raw, func(key string, dec *json.Decoder) error {
		seen[key] = true
		return m.decodeField(key, dec)
	})
	if err != nil {
		return nil, err
	}

	if m.Version == "" {
		return nil, malformed("missing required field %q", "pacai")
	}
	if !seen["checksums"] {
		return nil, malformed("missing required field %q", "checksums")
	}
	if opts.RequireEmbeddedKey && m.PublicKeyHex == "" {
		return nil, malformed("missing required field %q", "public_key")
	}

	return m, nil
}

// ParseAuthenticated parses the bytes held by auth and binds the result to
// the proof. Only manifests produced here are accepted by checksum
// verification.
func ParseAuthenticated(auth *crypto.Authenticated, opts ParseOptions) (*Verified, error) {
	if !auth.Valid() {
		return nil, ErrNotAuthenticated
	}
	m, err := Parse(auth.Bytes(), opts)
	if err != nil {
		return nil, err
	}
	return &Verified{manifest: m, auth: auth}, nil
}

// EmbeddedKeyHex extracts only the public_key field from unauthenticated
// manifest bytes so the key can be resolved before the signature check.
// An absent key returns an empty string and no error.
func EmbeddedKeyHex(raw []byte) (string, error) {
	var keyHex string
	err := walkObject(raw, func(key string, dec *json.Decoder) error {
		if key != "public_key" {
			var skip json.RawMessage
			return dec.Decode(&skip)
		}
		if err := dec.Decode(&keyHex); err != nil {
			return malformed("public_key must be a string")
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return keyHex, nil
}

// walkObject calls fn for each top-level key of a JSON object. fn must
// consume exactly one value from dec. Duplicate keys and trailing data are
// rejected.
func walkObject(raw []byte, fn func(key string, dec *json.Decoder) error) error {
	if !utf8.Valid(raw) {
		return malformed("manifest is not valid UTF-8")
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return malformed("invalid JSON: %v", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return malformed("top level must be an object")
	}

	seen := make(map[string]bool)
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return malformed("invalid JSON: %v", err)
		}
		key, ok := keyTok.(string)
		if !ok {
			return malformed("invalid object key")
		}
		if seen[key] {
			return malformed("duplicate field %q", key)
		}
		seen[key] = true

		if err := fn(key, dec); err != nil {
			if errors.Is(err, ErrMalformed) {
				return err
			}
			return malformed("field %q: %v", key, err)
		}
	}

	if _, err := dec.Token(); err != nil {
		return malformed("invalid JSON: %v", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return malformed("trailing data after manifest object")
	}
	return nil
}

func (m *Manifest) decodeField(key string, dec *json.Decoder) error {
	switch key {
	case "pacai":
		return dec.Decode(&m.Version)
	case "generated":
		if err := dec.Decode(&m.Generated); err != nil {
			return err
		}
		ts, err := time.Parse(time.RFC3339Nano, m.Generated)
		if err != nil {
			return malformed("generated is not an RFC 3339 timestamp: %q", m.Generated)
		}
		m.GeneratedAt = ts.UTC()
		return nil
	case "seed":
		return m.Seed.decode(dec)
	case "exports":
		return dec.Decode(&m.Exports)
	case "engines":
		return dec.Decode(&m.Engines)
	case "checksums":
		table, err := decodeChecksums(dec)
		if err != nil {
			return err
		}
		m.Checksums = table
		return nil
	case "public_key":
		return dec.Decode(&m.PublicKeyHex)
	case "project_id":
		return dec.Decode(&m.ProjectID)
	case "signature_algorithm":
		if err := dec.Decode(&m.SignatureAlgorithm); err != nil {
			return err
		}
		if m.SignatureAlgorithm != crypto.Algorithm {
			return malformed("unsupported signature_algorithm %q", m.SignatureAlgorithm)
		}
		return nil
	case "total_size_bytes":
		if err := dec.Decode(&m.TotalSizeBytes); err != nil {
			return err
		}
		if m.TotalSizeBytes < 0 {
			return malformed("total_size_bytes must not be negative")
		}
		return nil
	default:
		return malformed("unknown field %q", key)
	}
}

// decode accepts a number or a string. Integers land in Value; anything
// else is kept verbatim in Raw. An empty string counts as no seed.
func (s *Seed) decode(dec *json.Decoder) error {
	var v any
	if err := dec.Decode(&v); err != nil {
		return err
	}

	var text string
	switch t := v.(type) {
	case json.Number:
		text = t.String()
	case string:
		text = t
	default:
		return malformed("seed must be a number or a string")
	}
	if text == "" {
		return nil
	}

	if n, err := strconv.ParseInt(text, 10, 64); err == nil {
		s.Value = n
	} else {
		s.Raw = text
	}
	s.Set = true
	return nil
}

func decodeChecksums(dec *json.Decoder) (ChecksumTable, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, malformed("invalid JSON: %v", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, malformed("checksums must be an object")
	}

	table := ChecksumTable{}
	seen := make(map[string]bool)
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, malformed("invalid JSON: %v", err)
		}
		path, _ := keyTok.(string)

		var digest string
		if err := dec.Decode(&digest); err != nil {
			return nil, malformed("checksum for %q must be a string", path)
		}
		if seen[path] {
			return nil, malformed("duplicate checksum path %q", path)
		}
		seen[path] = true

		if err := validatePath(path); err != nil {
			return nil, err
		}
		if err := validateDigest(path, digest); err != nil {
			return nil, err
		}
		table = append(table, ChecksumEntry{Path: path, Digest: strings.ToLower(digest)})
	}

	if _, err := dec.Token(); err != nil {
		return nil, malformed("invalid JSON: %v", err)
	}
	return table, nil
}

func validatePath(path string) error {
	if path == "" || path == "." || strings.Contains(path, `\`) || !fs.ValidPath(path) {
		return malformed("invalid checksum path %q", path)
	}
	return nil
}

func validateDigest(path, digest string) error {
	if len(digest) != DigestHexLen {
		return malformed("checksum for %q is not a %s digest (%d hex chars, want %d)",
			path, HashAlgorithm, len(digest), DigestHexLen)
	}
	if _, err := hex.DecodeString(digest); err != nil {
		return malformed("checksum for %q is not hex", path)
	}
	return nil
}
