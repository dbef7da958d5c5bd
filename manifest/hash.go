package manifest

import (
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
)

const (
	// HashAlgorithm is the digest used for every checksum table entry
	HashAlgorithm = "SHA-384"

	// DigestHexLen is the length of a hex-encoded SHA-384 digest
	DigestHexLen = sha512.Size384 * 2
)

// ComputeHash computes the hex SHA-384 digest of data
func ComputeHash(data []byte) string {
	sum := sha512.Sum384(data)
	return hex.EncodeToString(sum[:])
}

// HashReader streams r through SHA-384 and returns the hex digest and the
// number of bytes read.
func HashReader(r io.Reader) (string, int64, error) {
	h := sha512.New384()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", n, fmt.Errorf("failed to hash stream: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// DigestsEqual compares two hex digests case-insensitively
func DigestsEqual(expected, actual string) bool {
	return strings.EqualFold(expected, actual)
}
