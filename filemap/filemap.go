// Package filemap provides a file-backed, growable, shared mutable byte
// region: the cross-platform backing store that the partition pool and the
// directory both map their on-disk layouts onto. It is the Go counterpart of
// the POSIX and Windows file_map implementations in the original C++
// sources, reshaped around golang.org/x/sys instead of raw mmap/mremap
// syscalls, and around os.File instead of raw fd/HANDLE management.
//
// A Map is not safe for concurrent use; callers serialize access the same
// way the rest of this module does (see the root package's doc comment).
package filemap

import (
	"errors"
	"fmt"
	"os"
)

// CorruptionError reports a signature mismatch at open: the file exists,
// is nonempty, but its leading magic number does not match what the format
// expects. It is never recovered from.
type CorruptionError struct {
	File string
	Got  uint32
	Want uint32
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("filemap: %s: invalid signature %#x, want %#x", e.File, e.Got, e.Want)
}

type errorType string

func (e errorType) Error() string { return string(e) }

// ErrReadOnly is returned by Resize on a Map opened with readOnly = true.
const ErrReadOnly = errorType("filemap: map is read-only")

// ErrClosed is returned by Resize on a Map after Close has run.
const ErrClosed = errorType("filemap: map is closed")

var errNotImplemented = errors.New("filemap: platform not supported")

// platform is implemented once per GOOS family (filemap_linux.go,
// filemap_unix.go, filemap_windows.go) and owns the actual syscalls.
type platform interface {
	mmap(f *os.File, length int, readOnly bool) ([]byte, error)
	// remap grows or shrinks an existing mapping to newLength, taking
	// advantage of in-place remap where the OS offers one. The returned
	// slice may start at a different address; the caller must drop all
	// references to the old slice.
	remap(f *os.File, old []byte, newLength int, readOnly bool) ([]byte, error)
	munmap(data []byte) error
}

// Map is a growable, file-backed byte region mapped into the process.
type Map struct {
	file     *os.File
	data     []byte
	readOnly bool
	path     string
	closed   bool
	plat     platform
}

// Open creates or opens the file at path and maps all of it. When readOnly
// is false and the file is shorter than initialLength, it is extended first,
// so at least initialLength bytes are mapped and the whole mapped range is
// backed by real file content. A read-only open maps the file at its
// current length and fails if the file is empty. System errors (open,
// stat, truncate, mmap) are wrapped with the failing operation and path.
func Open(path string, readOnly bool, initialLength int) (*Map, error) {
	flags := os.O_RDWR | os.O_CREATE
	if readOnly {
		flags = os.O_RDONLY
	}

	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, fmt.Errorf("filemap: open %s: %w", path, err)
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("filemap: stat %s: %w", path, err)
	}

	length := int(fi.Size())
	if !readOnly && length < initialLength {
		if err := f.Truncate(int64(initialLength)); err != nil {
			f.Close()
			return nil, fmt.Errorf("filemap: truncate %s to %d: %w", path, initialLength, err)
		}
		length = initialLength
	}
	if length == 0 {
		// Nothing to map yet (read-only open of a file that was never
		// initialized); report it the way a zero-length mmap would.
		f.Close()
		return nil, fmt.Errorf("filemap: open %s: empty file", path)
	}

	plat := currentPlatform()
	data, err := plat.mmap(f, length, readOnly)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("filemap: mmap %s: %w", path, err)
	}

	return &Map{file: f, data: data, readOnly: readOnly, path: path, plat: plat}, nil
}

// Bytes returns the current mapped region. It is invalidated by the next
// call to Resize or Close; callers must not retain it across either.
func (m *Map) Bytes() []byte {
	return m.data
}

// Len returns the current length of the mapped region.
func (m *Map) Len() int {
	return len(m.data)
}

// Resize grows (or shrinks) the mapping to newLength, extending the
// underlying file first if necessary. The previous result of Bytes is
// invalidated even if the new mapping happens to start at the same address.
func (m *Map) Resize(newLength int) error {
	if m.closed {
		return ErrClosed
	}
	if m.readOnly {
		return ErrReadOnly
	}

	fi, err := m.file.Stat()
	if err != nil {
		return fmt.Errorf("filemap: stat %s: %w", m.path, err)
	}
	if int(fi.Size()) < newLength {
		if err := m.file.Truncate(int64(newLength)); err != nil {
			return fmt.Errorf("filemap: truncate %s to %d: %w", m.path, newLength, err)
		}
	}

	data, err := m.plat.remap(m.file, m.data, newLength, m.readOnly)
	if err != nil {
		return fmt.Errorf("filemap: remap %s to %d: %w", m.path, newLength, err)
	}
	m.data = data
	return nil
}

// Close unmaps the region and closes the underlying file. It is idempotent:
// calling Close twice is a no-op returning nil the second time. Any error
// encountered is reported but the Map is left closed regardless.
func (m *Map) Close() error {
	if m.closed {
		return nil
	}
	m.closed = true

	var unmapErr, closeErr error
	if m.data != nil {
		unmapErr = m.plat.munmap(m.data)
		m.data = nil
	}
	closeErr = m.file.Close()

	if unmapErr != nil {
		return fmt.Errorf("filemap: munmap %s: %w", m.path, unmapErr)
	}
	if closeErr != nil {
		return fmt.Errorf("filemap: close %s: %w", m.path, closeErr)
	}
	return nil
}
