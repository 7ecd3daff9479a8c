// Package ingest receives files over tcp and writes them to disk through
// a bounded queue, one ordered pipeline per connection. a client sends a
// fixed size header followed by exactly the declared number of bytes.
package ingest

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/pkg/errors"
)

// HeaderSize is the length of the preamble preceding every transfer
const HeaderSize = 256

// header field separator
const separator = "|"

var (
	// ErrMalformedHeader is wrapped by every header parsing failure
	ErrMalformedHeader = errors.New("malformed header")

	// ErrIncompleteTransfer means the peer closed before sending the
	// declared number of bytes
	ErrIncompleteTransfer = errors.New("incomplete transfer")
)

// ProtocolError reports a peer that violated the transfer protocol
type ProtocolError struct {
	Stage string
	Err   error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error during %s: %v", e.Stage, e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// Header announces a transfer
type Header struct {
	// name of the file created in the storage directory
	FileName string

	// number of payload bytes following the header
	DeclaredSize uint64
}

// ParseHeader decodes a NUL padded "<filename>|<size>" preamble
func ParseHeader(b []byte) (Header, error) {
	if len(b) != HeaderSize {
		return Header{}, headerError(errors.Errorf("header is %d bytes, want %d", len(b), HeaderSize))
	}

	// strip the padding from both ends
	b = bytes.Trim(b, "\x00")
	if !utf8.Valid(b) {
		return Header{}, headerError(errors.New("header is not valid utf-8"))
	}

	parts := strings.Split(string(b), separator)
	if len(parts) != 2 {
		return Header{}, headerError(errors.Errorf("expected 2 fields, got %d", len(parts)))
	}

	name := parts[0]
	if err := validateFileName(name); err != nil {
		return Header{}, headerError(err)
	}

	size, err := strconv.ParseUint(strings.TrimSpace(parts[1]), 10, 64)
	if err != nil {
		return Header{}, headerError(errors.Wrapf(err, "invalid size %q", parts[1]))
	}
	// sizes are tracked as file offsets
	if size > math.MaxInt64 {
		return Header{}, headerError(errors.Errorf("size %d exceeds %d", size, int64(math.MaxInt64)))
	}

	return Header{FileName: name, DeclaredSize: size}, nil
}

// EncodeHeader renders h as a HeaderSize byte preamble
func EncodeHeader(h Header) ([]byte, error) {
	if err := validateFileName(h.FileName); err != nil {
		return nil, err
	}
	if h.DeclaredSize > math.MaxInt64 {
		return nil, errors.Errorf("size %d exceeds %d", h.DeclaredSize, int64(math.MaxInt64))
	}

	s := h.FileName + separator + strconv.FormatUint(h.DeclaredSize, 10)
	if len(s) > HeaderSize {
		return nil, errors.Errorf("header %q exceeds %d bytes", s, HeaderSize)
	}

	b := make([]byte, HeaderSize)
	copy(b, s)
	return b, nil
}

// validateFileName accepts a single path element naming a file
func validateFileName(name string) error {
	switch {
	case name == "":
		return errors.New("empty file name")
	case name == "." || name == "..":
		return errors.Errorf("invalid file name %q", name)
	case strings.ContainsAny(name, "/\\\x00"):
		return errors.Errorf("file name %q is not a single path element", name)
	case strings.Contains(name, separator):
		return errors.Errorf("file name %q contains %q", name, separator)
	}
	return nil
}

func headerError(err error) error {
	return &ProtocolError{Stage: "header", Err: errors.Wrap(ErrMalformedHeader, err.Error())}
}
