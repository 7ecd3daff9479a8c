package dio

import (
	"io"
)

// Target is the handle a single writer task owns exclusively
type Target interface {
	io.Writer
	io.Seeker
	io.Closer
}

// Opener opens the target for task id
type Opener func(id int) (Target, error)

// FileOpener returns an Opener giving every task its own handle on path
func FileOpener(path string, direct bool) Opener {
	return func(id int) (Target, error) {
		f, err := OpenForWrite(path, direct)
		if err != nil {
			return nil, err
		}
		return f, nil
	}
}

// ModeOf returns the io mode label of t, or "" if it has none
func ModeOf(t Target) string {
	if m, ok := t.(interface{ Mode() string }); ok {
		return m.Mode()
	}
	return ""
}

// Sync flushes t to stable storage when it supports it
func Sync(t io.Writer) error {
	if s, ok := t.(interface{ Sync() error }); ok {
		return s.Sync()
	}
	return nil
}
