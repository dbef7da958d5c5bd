package verify

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"runtime"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pacai/pacai-verify/archive"
	"github.com/pacai/pacai-verify/checksum"
	"github.com/pacai/pacai-verify/crypto"
	"github.com/pacai/pacai-verify/keys"
	"github.com/pacai/pacai-verify/manifest"
)

// rawPreviewLimit caps the untrusted manifest text carried by a Rejected report
const rawPreviewLimit = 4096

// BundleOpener opens a bundle container by path
type BundleOpener interface {
	Open(path string) (archive.Archive, error)
}

// OpenerFunc adapts a function to BundleOpener
type OpenerFunc func(path string) (archive.Archive, error)

// Open calls f(path)
func (f OpenerFunc) Open(path string) (archive.Archive, error) {
	return f(path)
}

// Service handles verification logic
type Service struct {
	opener BundleOpener
	logger *zap.Logger
}

// NewService creates a new verification service. A nil opener reads bundles
// with archive.Open and a nil logger discards output.
func NewService(opener BundleOpener, logger *zap.Logger) *Service {
	if opener == nil {
		opener = OpenerFunc(archive.Open)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		opener: opener,
		logger: logger,
	}
}

// run carries the state of one verification
type run struct {
	report *Report
	logger *zap.Logger
}

func (r *run) step(s Step) {
	r.report.Steps = append(r.report.Steps, s)
	r.logger.Debug("verification step", zap.String("step", string(s)))
}

func (r *run) fail(state State, kind ErrorKind, err error) (*Report, error) {
	r.report.State = state
	r.report.ErrorKind = kind
	r.report.Error = err.Error()
	r.logger.Debug("verification stopped",
		zap.String("state", string(state)),
		zap.String("kind", string(kind)),
		zap.Error(err))
	return r.report, &Error{Kind: kind, Err: err}
}

func (r *run) canceled(err error) (*Report, error) {
	return r.fail(StateAborted, KindCanceled, err)
}

// Verify runs the verification pipeline against one bundle.
//
// Rejected and PartiallyFailed are verification outcomes and come back with
// a nil error. When the input cannot be processed the returned *Error names
// the kind, and the partial report is returned alongside it.
func (s *Service) Verify(ctx context.Context, req *VerifyRequest) (*Report, error) {
	r := &run{
		report: &Report{
			Bundle:   req.BundlePath,
			Steps:    []Step{},
			Verified: []string{},
			Failed:   []checksum.Failure{},
		},
		logger: s.logger.With(zap.String("bundle", req.BundlePath)),
	}
	report := r.report

	// Step 1: Resolve the caller's key input before touching the bundle
	src, err := keySource(req)
	if err != nil {
		return r.fail(StateMalformedKey, KindKeyConfig, err)
	}
	if req.RequirePinnedKey && !src.IsExternal() {
		return r.fail(StateMalformedKey, KindKeyConfig,
			errors.New("a pinned public key is required (--pubkey or --pubkey-hex)"))
	}

	if err := ctx.Err(); err != nil {
		return r.canceled(err)
	}

	// Step 2: Open the container
	arc, err := s.opener.Open(req.BundlePath)
	if err != nil {
		if errors.Is(err, archive.ErrNotFound) {
			return r.fail(StateMalformedArchive, KindNotFound, err)
		}
		return r.fail(StateMalformedArchive, KindMalformedArchive, err)
	}
	defer arc.Close()
	r.step(StepOpened)

	// Step 3: Extract manifest.json and manifest.sig
	raw, err := arc.ReadFile(manifest.FileName, archive.DefaultReadLimit)
	if err != nil {
		return r.failEntry(manifest.FileName, StateMalformedManifest, KindMalformedManifest, err)
	}
	sigText, err := arc.ReadFile(manifest.SignatureFileName, archive.DefaultReadLimit)
	if err != nil {
		return r.failEntry(manifest.SignatureFileName, StateMalformedSignature, KindMalformedSignature, err)
	}
	report.ManifestHash = manifest.ComputeHash(raw)
	r.step(StepManifestExtracted)

	// Step 4: Resolve the verifying key. The embedded key is read from
	// unauthenticated bytes and only matters when no key was pinned.
	embeddedHex, err := manifest.EmbeddedKeyHex(raw)
	if err != nil && !src.IsExternal() {
		return r.fail(StateMalformedManifest, KindMalformedManifest, err)
	}
	report.EmbeddedKeyHex = embeddedHex

	resolved, err := keys.Resolve(src, embeddedHex)
	if err != nil {
		if errors.Is(err, keys.ErrNoKeyAvailable) {
			return r.fail(StateMalformedManifest, KindNoKeyAvailable,
				fmt.Errorf("%w: manifest has no public_key and none was supplied", err))
		}
		return r.fail(StateMalformedKey, KindMalformedKey, err)
	}
	report.TrustLevel = resolved.Trust
	report.KeyOrigin = resolved.Origin
	report.PublicKeyHex = hex.EncodeToString(resolved.Key)
	r.step(StepKeyResolved)

	// Step 5: Check the signature over the exact manifest bytes
	sig, err := crypto.DecodeSignatureHex(string(sigText))
	if err != nil {
		return r.fail(StateMalformedSignature, KindMalformedSignature, err)
	}
	auth, err := crypto.VerifyManifest(raw, sig, resolved.Key)
	switch {
	case errors.Is(err, crypto.ErrSignatureInvalid):
		report.State = StateRejected
		report.Error = err.Error()
		report.RawManifest = preview(raw)
		r.logger.Info("manifest signature rejected", zap.String("trust", string(resolved.Trust)))
		return report, nil
	case errors.Is(err, crypto.ErrMalformedKey):
		return r.fail(StateMalformedKey, KindMalformedKey, err)
	case err != nil:
		return r.fail(StateMalformedSignature, KindMalformedSignature, err)
	}
	report.SignatureValid = true
	r.step(StepSignatureChecked)

	// Step 6: Parse the authenticated manifest
	verified, err := manifest.ParseAuthenticated(auth, manifest.ParseOptions{
		RequireEmbeddedKey: !src.IsExternal(),
	})
	if err != nil {
		return r.fail(StateMalformedManifest, KindMalformedManifest, err)
	}
	report.Manifest = summarize(verified.Manifest())
	r.step(StepManifestParsed)

	// Step 7: Check every listed file
	result, err := checksum.VerifyAll(ctx, arc, verified)
	if err != nil {
		if ctx.Err() != nil {
			return r.canceled(err)
		}
		return r.fail(StateMalformedArchive, KindMalformedArchive, err)
	}
	report.Verified = result.Verified
	report.Failed = result.Failed
	r.step(StepChecksumsChecked)

	if result.OK() {
		report.State = StateVerified
	} else {
		report.State = StatePartiallyFailed
		report.Error = fmt.Sprintf("%d of %d files failed verification",
			len(result.Failed), len(result.Failed)+len(result.Verified))
	}

	r.logger.Info("verification complete",
		zap.String("state", string(report.State)),
		zap.String("trust", string(report.TrustLevel)),
		zap.Int("verified", len(report.Verified)),
		zap.Int("failed", len(report.Failed)))

	return report, nil
}

// failEntry classifies a failure to read a required control entry
func (r *run) failEntry(name string, state State, kind ErrorKind, err error) (*Report, error) {
	switch {
	case errors.Is(err, archive.ErrEntryMissing):
		return r.fail(StateMissingRequiredEntry, KindMissingRequiredEntry, fmt.Errorf("required entry %s: %w", name, err))
	case errors.Is(err, archive.ErrEntryTooLarge):
		return r.fail(state, kind, err)
	default:
		return r.fail(StateMalformedArchive, KindMalformedArchive, err)
	}
}

// VerifyMany verifies each request independently with at most concurrency
// bundles in flight. Reports are returned in request order; a request that
// errored still has its partial report in place.
func (s *Service) VerifyMany(ctx context.Context, reqs []*VerifyRequest, concurrency int) []*Report {
	if concurrency <= 0 {
		concurrency = runtime.GOMAXPROCS(0)
	}

	reports := make([]*Report, len(reqs))
	var g errgroup.Group
	g.SetLimit(concurrency)

	for i, req := range reqs {
		g.Go(func() error {
			report, err := s.Verify(ctx, req)
			if err != nil {
				s.logger.Warn("bundle could not be verified",
					zap.String("bundle", req.BundlePath),
					zap.Error(err))
			}
			reports[i] = report
			return nil
		})
	}
	_ = g.Wait()

	return reports
}

func keySource(req *VerifyRequest) (keys.Source, error) {
	if req.KeySource != nil {
		return *req.KeySource, nil
	}
	return keys.FromFlags(req.PublicKeyFile, req.PublicKeyHex)
}

func summarize(m *manifest.Manifest) *ManifestSummary {
	summary := &ManifestSummary{
		Version:        m.Version,
		Generated:      m.Generated,
		Exports:        m.Exports,
		ProjectID:      m.ProjectID,
		TotalSizeBytes: m.TotalSizeBytes,
		Files:          len(m.Checksums),
	}
	if summary.Exports == nil {
		summary.Exports = []string{}
	}
	if m.Seed.IsInteger() {
		seed := m.Seed.Value
		summary.Seed = &seed
	} else if m.Seed.Set {
		summary.SeedText = m.Seed.Raw
	}
	return summary
}

func preview(raw []byte) string {
	if len(raw) > rawPreviewLimit {
		return string(raw[:rawPreviewLimit]) + "..."
	}
	return string(raw)
}
