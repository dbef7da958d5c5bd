// Package archive provides read access to export bundle containers.
//
// A bundle is a named collection of byte blobs addressed by relative slash
// paths. Two containers are supported:
//
//   - zip archives (the format exports are shipped in), including entries
//     compressed with zstd
//   - exploded directories, where each file below the root is an entry
//
// # Opening
//
//	arc, err := archive.Open("export.zip")
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer arc.Close()
//
//	raw, err := arc.ReadFile("manifest.json", archive.DefaultReadLimit)
//
// Entry order carries no meaning. Callers look entries up by path only.
package archive

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// DefaultReadLimit bounds ReadFile for small control entries such as the
// manifest and its signature.
const DefaultReadLimit int64 = 16 << 20

var (
	// ErrNotFound is returned when the bundle path does not exist.
	ErrNotFound = errors.New("bundle not found")

	// ErrCorrupt is returned when the container cannot be read as a bundle.
	ErrCorrupt = errors.New("bundle archive is corrupt")

	// ErrEntryMissing is returned when a path is not present in the bundle.
	ErrEntryMissing = errors.New("entry missing from bundle")

	// ErrEntryTooLarge is returned by ReadFile when an entry exceeds the limit.
	ErrEntryTooLarge = errors.New("entry exceeds read limit")
)

// Archive is the capability set verification needs from a container.
type Archive interface {
	// List returns every entry path, sorted.
	List() []string

	// Open returns a stream over the stored bytes of name.
	Open(name string) (io.ReadCloser, error)

	// ReadFile reads the whole entry, failing with ErrEntryTooLarge past limit.
	ReadFile(name string, limit int64) ([]byte, error)

	// Close releases the underlying handles.
	Close() error
}

// Open opens the bundle at path. Directories open as exploded bundles,
// everything else is read as a zip archive.
func Open(path string) (Archive, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("failed to stat bundle: %w", err)
	}

	if info.IsDir() {
		return OpenDir(path)
	}
	return OpenZip(path)
}

// readAll reads an entry stream up to limit bytes.
func readAll(r io.Reader, name string, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: %s is larger than %d bytes", ErrEntryTooLarge, name, limit)
	}
	return data, nil
}
