package keys

import (
	"crypto/ed25519"
	"errors"
	"fmt"
)

// ErrNoKeyAvailable is returned when no caller key was supplied and the
// manifest does not embed one
var ErrNoKeyAvailable = errors.New("no public key available")

// TrustLevel says what a successful verification proves
type TrustLevel string

const (
	// TrustExternal means the key was supplied out of band; a valid
	// signature proves provenance.
	TrustExternal TrustLevel = "externally-pinned"

	// TrustSelfAsserted means the key came from the manifest itself; a
	// valid signature only proves internal consistency.
	TrustSelfAsserted TrustLevel = "self-asserted"
)

// Origin records where a key came from
type Origin string

const (
	// OriginFile is a key read from a file passed with --pubkey
	OriginFile Origin = "file"

	// OriginHex is a key given inline with --pubkey-hex
	OriginHex Origin = "hex"

	// OriginManifest is the public_key field of the manifest being verified
	OriginManifest Origin = "manifest"
)

// Source is the trust anchor choice for one verification: either an
// external key or "use the embedded key".
type Source struct {
	key      ed25519.PublicKey
	origin   Origin
	location string
}

// External pins verification to key
func External(key ed25519.PublicKey, origin Origin, location string) Source {
	return Source{key: key, origin: origin, location: location}
}

// Embedded defers to the manifest's public_key
func Embedded() Source {
	return Source{origin: OriginManifest}
}

// IsExternal reports whether the source carries a caller key
func (s Source) IsExternal() bool {
	return s.key != nil
}

// FromFlags builds a Source from the --pubkey and --pubkey-hex inputs.
// Supplying both, or a key that cannot be loaded, is a *ConfigError.
func FromFlags(path, keyHex string) (Source, error) {
	switch {
	case path != "" && keyHex != "":
		return Source{}, &ConfigError{Source: "flags", Err: errors.New("--pubkey and --pubkey-hex are mutually exclusive")}
	case path != "":
		key, err := LoadFile(path)
		if err != nil {
			return Source{}, &ConfigError{Source: path, Err: err}
		}
		return External(key, OriginFile, path), nil
	case keyHex != "":
		key, err := ParseHex(keyHex)
		if err != nil {
			return Source{}, &ConfigError{Source: "hex", Err: err}
		}
		return External(key, OriginHex, ""), nil
	default:
		return Embedded(), nil
	}
}

// Resolved is the key a bundle is verified against
type Resolved struct {
	Key      ed25519.PublicKey
	Trust    TrustLevel
	Origin   Origin
	Location string
}

// Resolve picks the verifying key. An external key is used exclusively and
// embeddedHex is ignored; otherwise embeddedHex is decoded and marked
// self-asserted.
func Resolve(src Source, embeddedHex string) (*Resolved, error) {
	if src.IsExternal() {
		return &Resolved{
			Key:      src.key,
			Trust:    TrustExternal,
			Origin:   src.origin,
			Location: src.location,
		}, nil
	}

	if embeddedHex == "" {
		return nil, ErrNoKeyAvailable
	}
	key, err := ParseHex(embeddedHex)
	if err != nil {
		return nil, fmt.Errorf("embedded public_key: %w", err)
	}
	return &Resolved{
		Key:    key,
		Trust:  TrustSelfAsserted,
		Origin: OriginManifest,
	}, nil
}
