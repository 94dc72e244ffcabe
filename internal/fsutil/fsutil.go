// Package fsutil implements the filesystem collaborators listed as
// out-of-scope interfaces in spec §6 (enumerate_files, read_file,
// write_file, ensure_parent, remove_file). vdir is the only package that
// touches a real filesystem; everything else in the module operates on
// in-memory buffers.
//
// Reads go through golang.org/x/exp/mmap rather than ioutil.ReadFile, and
// writes go through github.com/google/renameio rather than os.WriteFile,
// mirroring internal/install.go's hookinstall helper in the teacher repo
// (mmap.Open + renameio.TempFile/CloseAtomicallyReplace) instead of plain
// os package calls.
package fsutil

import (
	"io"
	"os"
	"path/filepath"
	"sort"

	"golang.org/x/exp/mmap"
	"golang.org/x/xerrors"

	"github.com/google/renameio"
)

// FileEntry describes one regular file discovered by Enumerate.
type FileEntry struct {
	// RelativePath uses forward slashes and never starts with a separator.
	RelativePath string
	Size         int64
}

// Enumerate walks root recursively and returns every regular file found, as
// (relative path, size) pairs sorted lexicographically by relative path.
func Enumerate(root string) ([]FileEntry, error) {
	var out []FileEntry
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return xerrors.Errorf("walking %s: %w", path, wrapIO(path, err))
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return xerrors.Errorf("relativizing %s: %w", path, wrapIO(path, err))
		}
		out = append(out, FileEntry{
			RelativePath: filepath.ToSlash(rel),
			Size:         info.Size(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RelativePath < out[j].RelativePath })
	return out, nil
}

// ReadFile reads the full contents of path via a memory-mapped reader,
// copying them into a newly allocated slice.
func ReadFile(path string) ([]byte, error) {
	r, err := mmap.Open(path)
	if err != nil {
		return nil, wrapIO(path, err)
	}
	defer r.Close()

	buf := make([]byte, r.Len())
	if len(buf) > 0 {
		if _, err := r.ReadAt(buf, 0); err != nil && err != io.EOF {
			return nil, wrapIO(path, err)
		}
	}
	return buf, nil
}

// WriteFile writes data to path atomically: it creates any missing parent
// directories, writes to a temp file on the same filesystem, and renames it
// into place, so a crash mid-write never leaves a half-written file.
func WriteFile(path string, data []byte, perm os.FileMode) error {
	if err := EnsureParent(path); err != nil {
		return err
	}
	t, err := renameio.TempFile("", path)
	if err != nil {
		return wrapIO(path, err)
	}
	defer t.Cleanup()
	if _, err := t.Write(data); err != nil {
		return wrapIO(path, err)
	}
	if err := t.Chmod(perm); err != nil {
		return wrapIO(path, err)
	}
	if err := t.CloseAtomicallyReplace(); err != nil {
		return wrapIO(path, err)
	}
	return nil
}

// EnsureParent creates path's parent directory (and any missing
// ancestors) if it does not already exist.
func EnsureParent(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return wrapIO(path, err)
	}
	return nil
}

// RemoveFile deletes path. Removing an already-absent file is not an error.
func RemoveFile(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return wrapIO(path, err)
	}
	return nil
}

// ioError wraps an OS error with the path it occurred on, matching spec
// §7's IoError(path) kind.
type ioError struct {
	path string
	err  error
}

func (e *ioError) Error() string { return "yatta: io error: " + e.path + ": " + e.err.Error() }
func (e *ioError) Unwrap() error { return e.err }

func wrapIO(path string, err error) error {
	if err == nil {
		return nil
	}
	return &ioError{path: path, err: err}
}
