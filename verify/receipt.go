package verify

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"

	"github.com/near/borsh-go"
)

// ReceiptVersion is the layout version written by NewReceipt
const ReceiptVersion uint8 = 1

// ErrReceiptVersion is returned when decoding a receipt of an unknown layout
var ErrReceiptVersion = errors.New("unsupported receipt version")

// ReceiptFailure is one failed checksum entry
type ReceiptFailure struct {
	Path   string `borsh:"path"`
	Reason string `borsh:"reason"`
}

// Receipt is a compact borsh-encoded record of one verification outcome,
// suitable for archiving next to the bundle it describes.
type Receipt struct {
	Version        uint8            `borsh:"version"`
	Bundle         string           `borsh:"bundle"`
	State          string           `borsh:"state"`
	TrustLevel     string           `borsh:"trust_level"`
	ErrorKind      string           `borsh:"error_kind"`
	ManifestSHA384 [48]byte         `borsh:"manifest_sha384"`
	PublicKey      [32]byte         `borsh:"public_key"`
	VerifiedCount  uint32           `borsh:"verified_count"`
	Failed         []ReceiptFailure `borsh:"failed"`
}

// NewReceipt summarizes report. Hash and key are left zeroed when the
// pipeline stopped before computing them.
func NewReceipt(report *Report) (*Receipt, error) {
	receipt := &Receipt{
		Version:       ReceiptVersion,
		Bundle:        report.Bundle,
		State:         string(report.State),
		TrustLevel:    string(report.TrustLevel),
		ErrorKind:     string(report.ErrorKind),
		VerifiedCount: uint32(len(report.Verified)),
		Failed:        make([]ReceiptFailure, 0, len(report.Failed)),
	}

	if report.ManifestHash != "" {
		if err := decodeFixed(receipt.ManifestSHA384[:], report.ManifestHash); err != nil {
			return nil, fmt.Errorf("manifest hash: %w", err)
		}
	}
	if report.PublicKeyHex != "" {
		if err := decodeFixed(receipt.PublicKey[:], report.PublicKeyHex); err != nil {
			return nil, fmt.Errorf("public key: %w", err)
		}
	}

	for _, failure := range report.Failed {
		receipt.Failed = append(receipt.Failed, ReceiptFailure{
			Path:   failure.Path,
			Reason: string(failure.Reason),
		})
	}

	return receipt, nil
}

// Marshal encodes the receipt with borsh
func (r *Receipt) Marshal() ([]byte, error) {
	data, err := borsh.Serialize(*r)
	if err != nil {
		return nil, fmt.Errorf("failed to encode receipt: %w", err)
	}
	return data, nil
}

// ManifestHashHex returns the manifest digest, or "" when none was recorded
func (r *Receipt) ManifestHashHex() string {
	if r.ManifestSHA384 == [48]byte{} {
		return ""
	}
	return hex.EncodeToString(r.ManifestSHA384[:])
}

// PublicKeyHex returns the verifying key, or "" when none was recorded
func (r *Receipt) PublicKeyHex() string {
	if r.PublicKey == [32]byte{} {
		return ""
	}
	return hex.EncodeToString(r.PublicKey[:])
}

// DecodeReceipt decodes borsh bytes produced by Marshal
func DecodeReceipt(data []byte) (*Receipt, error) {
	var receipt Receipt
	if err := borsh.Deserialize(&receipt, data); err != nil {
		return nil, fmt.Errorf("failed to decode receipt: %w", err)
	}
	if receipt.Version != ReceiptVersion {
		return nil, fmt.Errorf("%w: %d", ErrReceiptVersion, receipt.Version)
	}
	return &receipt, nil
}

// DecodeReceiptFile reads and decodes a receipt file
func DecodeReceiptFile(path string) (*Receipt, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read receipt: %w", err)
	}
	return DecodeReceipt(data)
}

// WriteReceipt encodes the receipt for report and writes it to path
func WriteReceipt(path string, report *Report) error {
	receipt, err := NewReceipt(report)
	if err != nil {
		return err
	}
	data, err := receipt.Marshal()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write receipt: %w", err)
	}
	return nil
}

func decodeFixed(dst []byte, text string) error {
	raw, err := hex.DecodeString(text)
	if err != nil {
		return fmt.Errorf("invalid hex: %w", err)
	}
	if len(raw) != len(dst) {
		return fmt.Errorf("expected %d bytes, got %d", len(dst), len(raw))
	}
	copy(dst, raw)
	return nil
}
