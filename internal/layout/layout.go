// Package layout prepares benchmark targets and generates the
// deterministic byte pattern used to send and verify transfers.
package layout

import (
	"io"
	"os"

	"github.com/pkg/errors"
)

// patternPeriod is prime so the pattern never lines up with block sizes
const patternPeriod = 251

// PatternByte returns the pattern byte at offset
func PatternByte(offset int64) byte {
	return byte(offset % patternPeriod)
}

// Pattern is an endless reader of the deterministic pattern
type Pattern struct {
	offset int64
}

// Read implements io.Reader
func (p *Pattern) Read(b []byte) (int, error) {
	n, _ := p.ReadAt(b, p.offset)
	p.offset += int64(n)
	return n, nil
}

// ReadAt implements io.ReaderAt
func (p *Pattern) ReadAt(b []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errors.New("pattern: negative offset")
	}
	for i := range b {
		b[i] = PatternByte(off + int64(i))
	}
	return len(b), nil
}

// NewPatternReader returns a reader of exactly size pattern bytes
func NewPatternReader(size int64) io.Reader {
	return io.LimitReader(&Pattern{}, size)
}

// VerifyPattern reads r to the end and checks every byte against the
// pattern. it returns the number of bytes read.
func VerifyPattern(r io.Reader) (int64, error) {
	buf := make([]byte, 64*1024)
	var offset int64
	for {
		n, err := r.Read(buf)
		for i := 0; i < n; i++ {
			if want := PatternByte(offset); buf[i] != want {
				return offset, errors.Errorf("byte %d is %#x, want %#x", offset, buf[i], want)
			}
			offset++
		}
		if err == io.EOF {
			return offset, nil
		}
		if err != nil {
			return offset, errors.Wrap(err, "read")
		}
	}
}

// VerifyFile checks that the file at path holds exactly size pattern bytes
func VerifyFile(path string, size int64) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "failed to open file")
	}
	defer f.Close()

	n, err := VerifyPattern(f)
	if err != nil {
		return errors.Wrapf(err, "verify %s", path)
	}
	if n != size {
		return errors.Errorf("%s holds %d bytes, want %d", path, n, size)
	}
	return nil
}

// LayoutTarget makes sure the file at path exists with at least size bytes
// allocated. if reinitialize is false, an existing writable file of the
// right size is reused untouched.
func LayoutTarget(path string, size int64, reinitialize bool) error {
	// check if file already exists with correct size
	if !reinitialize && CheckExistingFile(path, size) {
		return nil
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return errors.Wrap(err, "failed to create file")
	}

	// ensure file is closed when function returns
	defer f.Close()

	if err := allocate(f, size); err != nil {
		return errors.Wrapf(err, "failed to allocate %d bytes", size)
	}

	// sync file to ensure the allocation is on disk
	if err := f.Sync(); err != nil {
		return errors.Wrap(err, "failed to sync file")
	}

	return nil
}

// CheckExistingFile verifies if a file exists with the correct size and permissions
// returns true if file exists with correct size and is writable, false otherwise
func CheckExistingFile(path string, size int64) bool {
	// get file information
	info, err := os.Stat(path)
	if err != nil {
		return false
	}

	// block devices report a zero size and are always reused
	if info.Mode()&os.ModeDevice != 0 {
		return true
	}

	// check if the size matches what we expect
	if info.Size() != size {
		return false
	}

	// attempt to open the file for writing to verify permissions
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return false
	}
	f.Close()

	return true
}
