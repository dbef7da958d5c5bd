package verify

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fxamacker/cbor/v2"

	"github.com/pacai/pacai-verify/keys"
	"github.com/pacai/pacai-verify/manifest"
)

// Output formats accepted by Render
const (
	OutputText = "text"
	OutputJSON = "json"
	OutputCBOR = "cbor"
)

// failureSummaryLimit is how many failures the non-verbose text report lists
const failureSummaryLimit = 5

// Formatter formats reports and manifests for display
type Formatter struct{}

// NewFormatter creates a new formatter
func NewFormatter() *Formatter {
	return &Formatter{}
}

// Render writes report to w in the named format
func (f *Formatter) Render(w io.Writer, report *Report, format string, verbose bool) error {
	var data []byte
	var err error

	switch format {
	case OutputText, "":
		data = []byte(f.FormatText(report, verbose))
	case OutputJSON:
		data, err = f.FormatJSON(report)
		data = append(data, '\n')
	case OutputCBOR:
		data, err = f.FormatCBOR(report)
	default:
		return fmt.Errorf("unknown output format %q, must be text, json or cbor", format)
	}
	if err != nil {
		return err
	}

	_, err = w.Write(data)
	return err
}

// FormatJSON encodes the report as indented JSON
func (f *Formatter) FormatJSON(report *Report) ([]byte, error) {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode report as JSON: %w", err)
	}
	return data, nil
}

// FormatCBOR encodes the report with deterministic CBOR
func (f *Formatter) FormatCBOR(report *Report) ([]byte, error) {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return nil, fmt.Errorf("failed to build CBOR encoder: %w", err)
	}
	data, err := em.Marshal(report)
	if err != nil {
		return nil, fmt.Errorf("failed to encode report as CBOR: %w", err)
	}
	return data, nil
}

// FormatText renders the report for a terminal. Verbose output lists every
// failure with both digests and every verified path.
func (f *Formatter) FormatText(report *Report, verbose bool) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Bundle: %s\n", report.Bundle))
	sb.WriteString(fmt.Sprintf("State:  %s\n", report.State))

	if report.ErrorKind != "" {
		sb.WriteString(fmt.Sprintf("Error:  %s: %s\n", report.ErrorKind, report.Error))
	}

	if report.TrustLevel != "" {
		sb.WriteString(fmt.Sprintf("\nKey:\n  Trust: %s\n", report.TrustLevel))
		sb.WriteString(fmt.Sprintf("  Origin: %s\n", describeOrigin(report)))
		sb.WriteString(fmt.Sprintf("  Public Key: %s\n", report.PublicKeyHex))
		if report.TrustLevel == keys.TrustExternal && report.EmbeddedKeyHex != "" &&
			!strings.EqualFold(report.EmbeddedKeyHex, report.PublicKeyHex) {
			sb.WriteString(fmt.Sprintf("  Embedded Key (ignored): %s\n", report.EmbeddedKeyHex))
		}
		if report.TrustLevel == keys.TrustSelfAsserted {
			sb.WriteString("  WARNING: the key was read from the manifest itself. A valid signature\n")
			sb.WriteString("  proves the bundle is internally consistent, not who produced it.\n")
		}
	}

	if report.ManifestHash != "" {
		sb.WriteString(fmt.Sprintf("\nManifest SHA-384: %s\n", report.ManifestHash))
	}

	switch {
	case report.State == StateRejected:
		sb.WriteString("Signature: INVALID\n")
		sb.WriteString("Manifest contents are NOT trusted and are not shown as authoritative.\n")
		if verbose && report.RawManifest != "" {
			sb.WriteString("\nRaw manifest (UNTRUSTED):\n")
			sb.WriteString(report.RawManifest)
			sb.WriteString("\n")
		}
	case report.SignatureValid:
		sb.WriteString("Signature: valid\n")
	}

	if m := report.Manifest; m != nil {
		sb.WriteString("\nManifest:\n")
		sb.WriteString(fmt.Sprintf("  Version: %s\n", m.Version))
		if m.Generated != "" {
			sb.WriteString(fmt.Sprintf("  Generated: %s\n", m.Generated))
		}
		if m.Seed != nil {
			sb.WriteString(fmt.Sprintf("  Seed: %d\n", *m.Seed))
		} else if m.SeedText != "" {
			sb.WriteString(fmt.Sprintf("  Seed: %s\n", m.SeedText))
		}
		sb.WriteString(fmt.Sprintf("  Exports: %s\n", strings.Join(m.Exports, ", ")))
		if m.ProjectID != "" {
			sb.WriteString(fmt.Sprintf("  Project: %s\n", m.ProjectID))
		}
	}

	if report.Reached(StepChecksumsChecked) {
		sb.WriteString(fmt.Sprintf("\nFiles: %d verified, %d failed\n", len(report.Verified), len(report.Failed)))

		for i, failure := range report.Failed {
			if !verbose && i == failureSummaryLimit {
				sb.WriteString(fmt.Sprintf("  ... and %d more (use --verbose)\n", len(report.Failed)-i))
				break
			}
			sb.WriteString(fmt.Sprintf("  FAIL %s: %s\n", failure.Path, failure.Reason))
			if verbose {
				sb.WriteString(fmt.Sprintf("       expected: %s\n", failure.Expected))
				if failure.Actual != "" {
					sb.WriteString(fmt.Sprintf("       actual:   %s\n", failure.Actual))
				}
				if failure.Detail != "" {
					sb.WriteString(fmt.Sprintf("       detail:   %s\n", failure.Detail))
				}
			}
		}

		if verbose {
			for _, path := range report.Verified {
				sb.WriteString(fmt.Sprintf("  OK   %s\n", path))
			}
		}
	}

	return sb.String()
}

// FormatManifest formats manifest fields for display. Unless authenticated
// is set the output is labelled as untrusted.
func (f *Formatter) FormatManifest(m *manifest.Manifest, authenticated bool) string {
	var sb strings.Builder

	if !authenticated {
		sb.WriteString("UNAUTHENTICATED: the signature has not been checked.\n\n")
	}

	sb.WriteString(fmt.Sprintf("Version: %s\n", m.Version))
	if m.Generated != "" {
		sb.WriteString(fmt.Sprintf("Generated: %s\n", m.Generated))
	}
	if m.Seed.Set {
		sb.WriteString(fmt.Sprintf("Seed: %s\n", m.Seed))
	}
	sb.WriteString(fmt.Sprintf("Exports: %s\n", strings.Join(m.Exports, ", ")))
	if m.ProjectID != "" {
		sb.WriteString(fmt.Sprintf("Project: %s\n", m.ProjectID))
	}
	if len(m.Engines) > 0 {
		sb.WriteString(fmt.Sprintf("Engines: %s\n", strings.Join(m.Engines, ", ")))
	}
	if m.SignatureAlgorithm != "" {
		sb.WriteString(fmt.Sprintf("Signature Algorithm: %s\n", m.SignatureAlgorithm))
	}
	if m.HasEmbeddedKey() {
		sb.WriteString(fmt.Sprintf("Embedded Public Key: %s\n", m.PublicKeyHex))
	} else {
		sb.WriteString("Embedded Public Key: (none)\n")
	}
	if m.TotalSizeBytes > 0 {
		sb.WriteString(fmt.Sprintf("Total Size: %d bytes\n", m.TotalSizeBytes))
	}

	sb.WriteString(fmt.Sprintf("\nChecksums (%d, %s):\n", len(m.Checksums), manifest.HashAlgorithm))
	for _, entry := range m.Checksums {
		sb.WriteString(fmt.Sprintf("  %s  %s\n", entry.Digest, entry.Path))
	}

	return sb.String()
}

func describeOrigin(report *Report) string {
	switch report.KeyOrigin {
	case keys.OriginFile:
		return "public key file"
	case keys.OriginHex:
		return "inline hex"
	case keys.OriginManifest:
		return "manifest public_key field"
	default:
		return string(report.KeyOrigin)
	}
}
