package archive

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
)

// ZipArchive is a bundle stored as a zip file.
type ZipArchive struct {
	rc      *zip.ReadCloser
	entries map[string]*zip.File
	names   []string
}

// OpenZip opens a zip bundle. Entries compressed with zstd (method 93) are
// readable alongside stored and deflated ones.
func OpenZip(path string) (*ZipArchive, error) {
	rc, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
	}
	rc.RegisterDecompressor(zstd.ZipMethodWinZip, zstd.ZipDecompressor())

	z := &ZipArchive{
		rc:      rc,
		entries: make(map[string]*zip.File, len(rc.File)),
	}
	for _, f := range rc.File {
		if strings.HasSuffix(f.Name, "/") {
			continue
		}
		// Two entries under one name make read-by-path ambiguous.
		if _, dup := z.entries[f.Name]; dup {
			rc.Close()
			return nil, fmt.Errorf("%w: duplicate entry %q", ErrCorrupt, f.Name)
		}
		z.entries[f.Name] = f
		z.names = append(z.names, f.Name)
	}
	sort.Strings(z.names)

	return z, nil
}

// List returns the entry names in sorted order.
func (z *ZipArchive) List() []string {
	out := make([]string, len(z.names))
	copy(out, z.names)
	return out
}

// Open returns a decompressing reader for name.
func (z *ZipArchive) Open(name string) (io.ReadCloser, error) {
	f, ok := z.entries[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEntryMissing, name)
	}
	r, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, name, err)
	}
	return r, nil
}

// ReadFile reads name fully, up to limit bytes.
func (z *ZipArchive) ReadFile(name string, limit int64) ([]byte, error) {
	r, err := z.Open(name)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return readAll(r, name, limit)
}

// Close closes the zip file.
func (z *ZipArchive) Close() error {
	return z.rc.Close()
}
