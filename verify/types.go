// Package verify provides end-to-end verification of signed export bundles.
//
// The verification process validates:
//   - the bundle opens and holds manifest.json and manifest.sig
//   - the verifying key, pinned by the caller or embedded in the manifest
//   - the Ed25519 signature over the exact manifest bytes
//   - the SHA-384 digest of every file in the checksum table
//
// # Verification Flow
//
// Call Verify with a bundle path and, ideally, a pinned key:
//
//	report, err := verify.NewService(nil, logger).Verify(ctx, &verify.VerifyRequest{
//		BundlePath:    "export.zip",
//		PublicKeyFile: "pacai.pub",
//	})
//	if err != nil {
//		log.Fatal(err) // *verify.Error: the bundle or the key input is unusable
//	}
//	if !report.Valid() {
//		log.Printf("bundle %s: %s", report.Bundle, report.State)
//	}
//
// The steps run in a fixed order and never loop back. Checksums are only
// consulted after the signature has been validated: the checksum verifier
// requires a manifest.Verified, which only exists for authenticated bytes.
//
// # Outcomes
//
// A completed pass ends in Verified, Rejected (bad signature) or
// PartiallyFailed (authentic manifest, broken payload), with a nil error.
// Unusable input ends in one of the Malformed* or MissingRequiredEntry
// states and a non-nil *Error carrying its ErrorKind.
//
// Report.TrustLevel says whether Verified proves provenance
// (keys.TrustExternal) or only internal consistency (keys.TrustSelfAsserted).
package verify

import (
	"fmt"

	"github.com/pacai/pacai-verify/checksum"
	"github.com/pacai/pacai-verify/keys"
)

// State is the terminal state of a verification
type State string

const (
	StateVerified             State = "Verified"
	StateRejected             State = "Rejected"
	StatePartiallyFailed      State = "PartiallyFailed"
	StateMalformedArchive     State = "MalformedArchive"
	StateMissingRequiredEntry State = "MissingRequiredEntry"
	StateMalformedManifest    State = "MalformedManifest"
	StateMalformedKey         State = "MalformedKey"
	StateMalformedSignature   State = "MalformedSignature"
	StateAborted              State = "Aborted"
)

// Step is a non-terminal pipeline state, recorded in the order reached
type Step string

const (
	StepOpened            Step = "Opened"
	StepManifestExtracted Step = "ManifestExtracted"
	StepKeyResolved       Step = "KeyResolved"
	StepSignatureChecked  Step = "SignatureChecked"
	StepManifestParsed    Step = "ManifestParsed"
	StepChecksumsChecked  Step = "ChecksumsChecked"
)

// ErrorKind classifies why a verification could not complete
type ErrorKind string

const (
	KindNotFound             ErrorKind = "NotFound"
	KindMalformedArchive     ErrorKind = "MalformedArchive"
	KindMissingRequiredEntry ErrorKind = "MissingRequiredEntry"
	KindMalformedManifest    ErrorKind = "MalformedManifest"
	KindMalformedKey         ErrorKind = "MalformedKey"
	KindNoKeyAvailable       ErrorKind = "NoKeyAvailable"
	KindMalformedSignature   ErrorKind = "MalformedSignature"
	KindKeyConfig            ErrorKind = "KeyConfig"
	KindCanceled             ErrorKind = "Canceled"
)

// Error is returned when verification stops before a trust decision
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// VerifyRequest represents the parameters for verification
type VerifyRequest struct {
	BundlePath string

	// PublicKeyFile and PublicKeyHex pin the verifying key. At most one
	// may be set; with neither, the manifest's embedded key is used.
	PublicKeyFile string
	PublicKeyHex  string

	// KeySource, when non-nil, is used instead of the two fields above.
	KeySource *keys.Source

	// RequirePinnedKey refuses to fall back to the embedded key.
	RequirePinnedKey bool
}

// ManifestSummary is the caller-facing view of an authenticated manifest
type ManifestSummary struct {
	Version        string   `json:"version"`
	Generated      string   `json:"generated,omitempty"`
	Seed           *int64   `json:"seed,omitempty"`
	SeedText       string   `json:"seedText,omitempty"`
	Exports        []string `json:"exports"`
	ProjectID      string   `json:"projectId,omitempty"`
	TotalSizeBytes int64    `json:"totalSizeBytes,omitempty"`
	Files          int      `json:"files"`
}

// Report represents the result of verification
type Report struct {
	Bundle         string             `json:"bundle"`
	State          State              `json:"state"`
	Steps          []Step             `json:"steps"`
	TrustLevel     keys.TrustLevel    `json:"trustLevel,omitempty"`
	KeyOrigin      keys.Origin        `json:"keyOrigin,omitempty"`
	PublicKeyHex   string             `json:"publicKey,omitempty"`
	EmbeddedKeyHex string             `json:"embeddedPublicKey,omitempty"`
	SignatureValid bool               `json:"signatureValid"`
	ManifestHash   string             `json:"manifestSha384,omitempty"`
	Manifest       *ManifestSummary   `json:"manifest,omitempty"`
	RawManifest    string             `json:"rawManifestUntrusted,omitempty"`
	Verified       []string           `json:"verified"`
	Failed         []checksum.Failure `json:"failed"`
	ErrorKind      ErrorKind          `json:"errorKind,omitempty"`
	Error          string             `json:"error,omitempty"`
}

// Valid reports whether the bundle fully verified
func (r *Report) Valid() bool {
	return r.State == StateVerified
}

// Reached reports whether the pipeline passed through step
func (r *Report) Reached(step Step) bool {
	for _, s := range r.Steps {
		if s == step {
			return true
		}
	}
	return false
}

// ExitCode maps a report to the CLI exit status: 0 verified, 1 the bundle
// failed verification, 2 the input could not be processed.
func ExitCode(r *Report) int {
	switch r.State {
	case StateVerified:
		return 0
	case StateRejected, StatePartiallyFailed:
		return 1
	}

	switch r.ErrorKind {
	case KindNotFound, KindMalformedArchive, KindMissingRequiredEntry, KindKeyConfig, KindCanceled:
		return 2
	default:
		return 1
	}
}
