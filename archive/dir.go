package archive

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sort"
)

// DirArchive is an exploded bundle: every regular file under the root is an
// entry named by its slash-separated relative path. Lookups cannot escape
// the root.
type DirArchive struct {
	root  *os.Root
	names []string
}

// OpenDir opens the directory at path as a bundle.
func OpenDir(path string) (*DirArchive, error) {
	root, err := os.OpenRoot(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
	}

	var names []string
	err = fs.WalkDir(root.FS(), ".", func(name string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			names = append(names, name)
		}
		return nil
	})
	if err != nil {
		root.Close()
		return nil, fmt.Errorf("%w: failed to list %s: %v", ErrCorrupt, path, err)
	}
	sort.Strings(names)

	return &DirArchive{root: root, names: names}, nil
}

// List returns the entry names in sorted order.
func (d *DirArchive) List() []string {
	out := make([]string, len(d.names))
	copy(out, d.names)
	return out
}

// Open opens the file for name.
func (d *DirArchive) Open(name string) (io.ReadCloser, error) {
	if !fs.ValidPath(name) {
		return nil, fmt.Errorf("%w: %s", ErrEntryMissing, name)
	}
	f, err := d.root.Open(name)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrEntryMissing, name)
		}
		return nil, fmt.Errorf("failed to open %s: %w", name, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat %s: %w", name, err)
	}
	if !info.Mode().IsRegular() {
		f.Close()
		return nil, fmt.Errorf("%w: %s", ErrEntryMissing, name)
	}
	return f, nil
}

// ReadFile reads name fully, up to limit bytes.
func (d *DirArchive) ReadFile(name string, limit int64) ([]byte, error) {
	r, err := d.Open(name)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return readAll(r, name, limit)
}

// Close releases the root handle.
func (d *DirArchive) Close() error {
	return d.root.Close()
}
