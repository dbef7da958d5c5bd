package verify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/require"

	"github.com/pacai/pacai-verify/checksum"
	"github.com/pacai/pacai-verify/keys"
	"github.com/pacai/pacai-verify/manifest"
)

func verifiedReport() *Report {
	seed := int64(12345)
	return &Report{
		Bundle:         "export.zip",
		State:          StateVerified,
		Steps:          allSteps,
		TrustLevel:     keys.TrustExternal,
		KeyOrigin:      keys.OriginFile,
		PublicKeyHex:   strings.Repeat("ab", 32),
		SignatureValid: true,
		ManifestHash:   strings.Repeat("cd", 48),
		Manifest: &ManifestSummary{
			Version: "6.3",
			Seed:    &seed,
			Exports: []string{"zone"},
			Files:   1,
		},
		Verified: []string{"zone.json"},
		Failed:   []checksum.Failure{},
	}
}

func failedReport(n int) *Report {
	report := verifiedReport()
	report.State = StatePartiallyFailed
	report.Verified = []string{}
	for i := 0; i < n; i++ {
		report.Failed = append(report.Failed, checksum.Failure{
			Path:     fmt.Sprintf("zones/zone-%02d.json", i),
			Reason:   checksum.ReasonHashMismatch,
			Expected: strings.Repeat("0", manifest.DigestHexLen),
			Actual:   strings.Repeat("f", manifest.DigestHexLen),
		})
	}
	return report
}

func TestNewFormatter(t *testing.T) {
	formatter := NewFormatter()
	require.NotNil(t, formatter)
}

func TestFormatText(t *testing.T) {
	formatter := NewFormatter()

	t.Run("verified with pinned key", func(t *testing.T) {
		result := formatter.FormatText(verifiedReport(), false)
		require.Contains(t, result, "State:  Verified")
		require.Contains(t, result, "Trust: externally-pinned")
		require.Contains(t, result, "Origin: public key file")
		require.Contains(t, result, "Signature: valid")
		require.Contains(t, result, "Seed: 12345")
		require.Contains(t, result, "Files: 1 verified, 0 failed")
		require.NotContains(t, result, "WARNING")
	})

	t.Run("self-asserted key warns", func(t *testing.T) {
		report := verifiedReport()
		report.TrustLevel = keys.TrustSelfAsserted
		report.KeyOrigin = keys.OriginManifest

		result := formatter.FormatText(report, false)
		require.Contains(t, result, "Trust: self-asserted")
		require.Contains(t, result, "WARNING")
	})

	t.Run("ignored embedded key is shown", func(t *testing.T) {
		report := verifiedReport()
		report.EmbeddedKeyHex = strings.Repeat("ef", 32)

		result := formatter.FormatText(report, false)
		require.Contains(t, result, "Embedded Key (ignored): "+report.EmbeddedKeyHex)
	})

	t.Run("failures are summarized unless verbose", func(t *testing.T) {
		report := failedReport(8)

		result := formatter.FormatText(report, false)
		require.Contains(t, result, "Files: 0 verified, 8 failed")
		require.Equal(t, failureSummaryLimit, strings.Count(result, "FAIL "))
		require.Contains(t, result, "... and 3 more")
		require.NotContains(t, result, "expected:")

		verbose := formatter.FormatText(report, true)
		require.Equal(t, 8, strings.Count(verbose, "FAIL "))
		require.Equal(t, 8, strings.Count(verbose, "expected:"))
		require.NotContains(t, verbose, "more (use --verbose)")
	})

	t.Run("verbose lists verified files", func(t *testing.T) {
		result := formatter.FormatText(verifiedReport(), true)
		require.Contains(t, result, "OK   zone.json")
	})

	t.Run("rejected hides manifest", func(t *testing.T) {
		report := &Report{
			Bundle:       "export.zip",
			State:        StateRejected,
			TrustLevel:   keys.TrustExternal,
			KeyOrigin:    keys.OriginHex,
			PublicKeyHex: strings.Repeat("ab", 32),
			ManifestHash: strings.Repeat("cd", 48),
			RawManifest:  `{"pacai":"6.3"}`,
		}

		result := formatter.FormatText(report, false)
		require.Contains(t, result, "Signature: INVALID")
		require.Contains(t, result, "NOT trusted")
		require.NotContains(t, result, `{"pacai":"6.3"}`)
		require.NotContains(t, result, "Files:")

		verbose := formatter.FormatText(report, true)
		require.Contains(t, verbose, "Raw manifest (UNTRUSTED)")
		require.Contains(t, verbose, `{"pacai":"6.3"}`)
	})

	t.Run("error report", func(t *testing.T) {
		report := &Report{
			Bundle:    "missing.zip",
			State:     StateMalformedArchive,
			ErrorKind: KindNotFound,
			Error:     "bundle not found: missing.zip",
		}

		result := formatter.FormatText(report, false)
		require.Contains(t, result, "Error:  NotFound: bundle not found")
		require.NotContains(t, result, "Key:")
		require.NotContains(t, result, "Signature")
	})
}

func TestFormatJSON(t *testing.T) {
	formatter := NewFormatter()

	data, err := formatter.FormatJSON(failedReport(2))
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, "PartiallyFailed", decoded["state"])
	require.Equal(t, "externally-pinned", decoded["trustLevel"])
	require.Equal(t, true, decoded["signatureValid"])
	require.Equal(t, []any{}, decoded["verified"])

	failed, ok := decoded["failed"].([]any)
	require.True(t, ok)
	require.Len(t, failed, 2)
	first := failed[0].(map[string]any)
	require.Equal(t, "zones/zone-00.json", first["path"])
	require.Equal(t, "HashMismatch", first["reason"])
}

func TestFormatCBOR(t *testing.T) {
	formatter := NewFormatter()
	report := verifiedReport()

	data, err := formatter.FormatCBOR(report)
	require.NoError(t, err)

	var decoded Report
	require.NoError(t, cbor.Unmarshal(data, &decoded))
	require.Equal(t, report.State, decoded.State)
	require.Equal(t, report.TrustLevel, decoded.TrustLevel)
	require.Equal(t, report.Verified, decoded.Verified)
	require.Equal(t, report.Manifest.Version, decoded.Manifest.Version)

	again, err := formatter.FormatCBOR(report)
	require.NoError(t, err)
	require.Equal(t, data, again)
}

func TestRender(t *testing.T) {
	formatter := NewFormatter()
	report := verifiedReport()

	tests := []struct {
		format  string
		check   func(t *testing.T, out []byte)
		wantErr bool
	}{
		{format: OutputText, check: func(t *testing.T, out []byte) {
			require.Contains(t, string(out), "State:  Verified")
		}},
		{format: "", check: func(t *testing.T, out []byte) {
			require.Contains(t, string(out), "State:  Verified")
		}},
		{format: OutputJSON, check: func(t *testing.T, out []byte) {
			require.True(t, json.Valid(out))
			require.True(t, bytes.HasSuffix(out, []byte("\n")))
		}},
		{format: OutputCBOR, check: func(t *testing.T, out []byte) {
			var decoded map[string]any
			require.NoError(t, cbor.Unmarshal(out, &decoded))
			require.Equal(t, "Verified", decoded["state"])
		}},
		{format: "xml", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			var buf bytes.Buffer
			err := formatter.Render(&buf, report, tt.format, false)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.check(t, buf.Bytes())
		})
	}
}

func TestFormatManifest(t *testing.T) {
	formatter := NewFormatter()
	m := &manifest.Manifest{
		Version:            "6.3",
		Generated:          "2026-03-01T10:20:30.000Z",
		Seed:               manifest.Seed{Value: 7, Set: true},
		Exports:            []string{"zone", "world"},
		SignatureAlgorithm: "Ed25519",
		Checksums: manifest.ChecksumTable{
			{Path: "zone.json", Digest: strings.Repeat("a", manifest.DigestHexLen)},
		},
	}

	t.Run("unauthenticated", func(t *testing.T) {
		result := formatter.FormatManifest(m, false)
		require.True(t, strings.HasPrefix(result, "UNAUTHENTICATED"))
		require.Contains(t, result, "Version: 6.3")
		require.Contains(t, result, "Seed: 7")
		require.Contains(t, result, "Exports: zone, world")
		require.Contains(t, result, "Embedded Public Key: (none)")
		require.Contains(t, result, "Checksums (1, SHA-384)")
		require.Contains(t, result, "zone.json")
	})

	t.Run("opaque seed", func(t *testing.T) {
		withSeed := *m
		withSeed.Seed = manifest.Seed{Raw: "pacai_1700000000123_k3j2h1", Set: true}

		result := formatter.FormatManifest(&withSeed, false)
		require.Contains(t, result, "Seed: pacai_1700000000123_k3j2h1")
	})

	t.Run("authenticated", func(t *testing.T) {
		withKey := *m
		withKey.PublicKeyHex = strings.Repeat("ab", 32)

		result := formatter.FormatManifest(&withKey, true)
		require.NotContains(t, result, "UNAUTHENTICATED")
		require.Contains(t, result, "Embedded Public Key: "+withKey.PublicKeyHex)
	})
}
