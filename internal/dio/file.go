package dio

import (
	"fmt"
	"os"

	"github.com/ncw/directio"
	"github.com/pkg/errors"
)

// io mode labels attached to measurements
const (
	ModeDirect   = "direct"
	ModeCached   = "cached"
	ModeFallback = "cached (direct unsupported)"
)

// IOError wraps a failed file or socket operation with its path
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// NewIOError wraps err unless it is nil
func NewIOError(op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &IOError{Op: op, Path: path, Err: err}
}

// File is a write handle that remembers how it was opened
type File struct {
	*os.File
	path   string
	direct bool
	mode   string
}

// OpenForWrite opens path for writing, creating it if absent. when direct
// is requested but rejected by the platform or filesystem, the file is
// reopened with cached io and Mode reports the fallback.
func OpenForWrite(path string, direct bool) (*File, error) {
	// prepare open flags
	flags := os.O_WRONLY | os.O_CREATE

	if direct {
		// try the page cache bypassing open first
		f, err := directio.OpenFile(path, flags, 0644)
		if err == nil {
			return &File{File: f, path: path, direct: true, mode: ModeDirect}, nil
		}
		if !directUnsupported(err) {
			return nil, NewIOError("open", path, errors.Wrap(err, "direct open"))
		}

		// direct io is not available here, fall back and label it
		f, err = os.OpenFile(path, flags, 0644)
		if err != nil {
			return nil, NewIOError("open", path, err)
		}
		return &File{File: f, path: path, mode: ModeFallback}, nil
	}

	f, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return nil, NewIOError("open", path, err)
	}
	return &File{File: f, path: path, mode: ModeCached}, nil
}

// Create opens path for cached writing, truncating any previous content.
// it never creates intermediate directories.
func Create(path string) (*File, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, NewIOError("open", path, err)
	}
	return &File{File: f, path: path, mode: ModeCached}, nil
}

// Path returns the path the file was opened with
func (f *File) Path() string {
	return f.path
}

// Direct reports whether the handle bypasses the page cache
func (f *File) Direct() bool {
	return f.direct
}

// Mode returns the io mode label for measurements taken through f
func (f *File) Mode() string {
	return f.mode
}
