// Package checksum confirms bundle payload files against an authenticated
// checksum table.
package checksum

import (
	"context"
	"errors"
	"fmt"

	"github.com/pacai/pacai-verify/archive"
	"github.com/pacai/pacai-verify/manifest"
)

// Reason classifies a failed checksum entry
type Reason string

const (
	ReasonEntryMissing Reason = "EntryMissing"
	ReasonHashMismatch Reason = "HashMismatch"
	ReasonReadFailed   Reason = "ReadFailed"
)

// Failure describes one checksum table entry that did not verify
type Failure struct {
	Path     string `json:"path"`
	Reason   Reason `json:"reason"`
	Expected string `json:"expected,omitempty"`
	Actual   string `json:"actual,omitempty"`
	Detail   string `json:"detail,omitempty"`
}

// Result holds the outcome of a full pass over the checksum table
type Result struct {
	Verified []string  `json:"verified"`
	Failed   []Failure `json:"failed"`
}

// OK reports whether every entry verified
func (r *Result) OK() bool {
	return len(r.Failed) == 0
}

// VerifyAll checks every entry of the authenticated checksum table against
// arc. It never stops at the first failure; both lists follow table order.
// Each file is streamed through the hash, so memory use does not grow
// with file size. The only error returned is cancellation of ctx or an
// unusable manifest.
func VerifyAll(ctx context.Context, arc archive.Archive, m *manifest.Verified) (*Result, error) {
	if !m.Valid() {
		return nil, manifest.ErrNotAuthenticated
	}

	result := &Result{
		Verified: []string{},
		Failed:   []Failure{},
	}
	for _, entry := range m.Checksums() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if failure := verifyEntry(arc, entry); failure != nil {
			result.Failed = append(result.Failed, *failure)
			continue
		}
		result.Verified = append(result.Verified, entry.Path)
	}

	return result, nil
}

func verifyEntry(arc archive.Archive, entry manifest.ChecksumEntry) *Failure {
	r, err := arc.Open(entry.Path)
	if err != nil {
		if errors.Is(err, archive.ErrEntryMissing) {
			return &Failure{Path: entry.Path, Reason: ReasonEntryMissing, Expected: entry.Digest}
		}
		return &Failure{Path: entry.Path, Reason: ReasonReadFailed, Expected: entry.Digest, Detail: err.Error()}
	}
	defer r.Close()

	actual, _, err := manifest.HashReader(r)
	if err != nil {
		return &Failure{
			Path:     entry.Path,
			Reason:   ReasonReadFailed,
			Expected: entry.Digest,
			Detail:   fmt.Sprintf("read error: %v", err),
		}
	}

	if !manifest.DigestsEqual(entry.Digest, actual) {
		return &Failure{Path: entry.Path, Reason: ReasonHashMismatch, Expected: entry.Digest, Actual: actual}
	}
	return nil
}
