// Package dio provides aligned buffers and file handles suitable for
// direct (page cache bypassing) io, plus the fill strategies used to
// populate write buffers.
package dio

import (
	"fmt"
	mathrand "math/rand"
	"strings"
	"time"
	"unsafe"
)

// DefaultAlignment is the buffer alignment used when none is configured.
// 512 bytes satisfies the logical sector size of nearly every block device.
const DefaultAlignment = 512

// AllocationError is returned when a size and alignment pair does not
// describe a valid memory layout
type AllocationError struct {
	Size      int
	Alignment int
	Reason    string
}

func (e *AllocationError) Error() string {
	return fmt.Sprintf("invalid buffer layout (size=%d, alignment=%d): %s", e.Size, e.Alignment, e.Reason)
}

// Allocate returns a zeroed byte slice of length size whose first byte
// sits at an address that is a multiple of alignment.
func Allocate(size, alignment int) ([]byte, error) {
	// validate the requested layout
	if size <= 0 {
		return nil, &AllocationError{Size: size, Alignment: alignment, Reason: "size must be positive"}
	}
	if alignment <= 0 || alignment&(alignment-1) != 0 {
		return nil, &AllocationError{Size: size, Alignment: alignment, Reason: "alignment must be a positive power of two"}
	}

	// create oversized buffer to allow for alignment
	raw := make([]byte, size+alignment)

	// return the aligned window, trimmed to the requested size
	return alignBuffer(raw, alignment)[:size:size], nil
}

// IsAligned reports whether the first byte of buf sits on an alignment boundary.
func IsAligned(buf []byte, alignment int) bool {
	if len(buf) == 0 || alignment <= 0 {
		return false
	}
	return uintptr(unsafe.Pointer(&buf[0]))&uintptr(alignment-1) == 0
}

// alignBuffer ensures a byte slice is aligned to the given boundary
func alignBuffer(buf []byte, alignment int) []byte {
	// calculate offset needed for alignment
	addr := uintptr(unsafe.Pointer(&buf[0]))
	alignmentUptr := uintptr(alignment)
	offset := int(alignmentUptr - (addr & (alignmentUptr - 1)))

	// return aligned slice
	if offset == alignment {
		return buf
	}
	return buf[offset:]
}

// Fill names a buffer fill strategy
type Fill string

const (
	// FillZero leaves buffers zeroed. cheap, but some media dedupe or
	// compress zero pages which inflates the measurement.
	FillZero Fill = "zero"

	// FillStatic fills buffers with random bytes once at startup
	FillStatic Fill = "static"

	// FillRandom refills buffers with random bytes before every write
	FillRandom Fill = "random"
)

// ParseFill validates a fill strategy name
func ParseFill(s string) (Fill, error) {
	f := Fill(strings.ToLower(strings.TrimSpace(s)))
	switch f {
	case FillZero, FillStatic, FillRandom:
		return f, nil
	default:
		return "", fmt.Errorf("invalid fill strategy '%s'. supported strategies are: zero, static, random", s)
	}
}

// Filler populates write buffers for a single task. it is not safe for
// concurrent use; every task creates its own.
type Filler struct {
	strategy Fill
	rng      *mathrand.Rand
}

// NewFiller creates a filler with a task specific random source
func NewFiller(strategy Fill, taskID int) *Filler {
	return &Filler{
		strategy: strategy,
		rng:      mathrand.New(mathrand.NewSource(time.Now().UnixNano() + int64(taskID))),
	}
}

// Strategy returns the fill strategy of f
func (f *Filler) Strategy() Fill {
	return f.strategy
}

// Init prepares a freshly allocated buffer
func (f *Filler) Init(buf []byte) {
	switch f.strategy {
	case FillStatic, FillRandom:
		f.rng.Read(buf)
	}
}

// Refill is called before every write; only the random strategy does work
func (f *Filler) Refill(buf []byte) {
	if f.strategy == FillRandom {
		f.rng.Read(buf)
	}
}
