// Package sink provides writers that emulate storage with a fixed write
// rate, such as a volume with provisioned throughput.
package sink

import (
	"context"
	"io"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

// NewLimiter returns a limiter admitting bytesPerSec bytes per second.
// burst bounds a single reservation and should be at least the largest
// write that passes through it. callers share one limiter between tasks
// to emulate a single capped device.
func NewLimiter(bytesPerSec int64, burst int) *rate.Limiter {
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(bytesPerSec), burst)
}

// Writer delays every write until the limiter admits its bytes
type Writer struct {
	ctx context.Context
	w   io.Writer
	lim *rate.Limiter
}

// NewWriter wraps w. a nil limiter disables throttling.
func NewWriter(ctx context.Context, w io.Writer, lim *rate.Limiter) *Writer {
	return &Writer{ctx: ctx, w: w, lim: lim}
}

// Write implements io.Writer. writes larger than the limiter burst are
// admitted burst by burst.
func (t *Writer) Write(p []byte) (int, error) {
	if t.lim == nil {
		return t.w.Write(p)
	}

	var written int
	for len(p) > 0 {
		n := len(p)
		if b := t.lim.Burst(); n > b {
			n = b
		}
		if err := t.lim.WaitN(t.ctx, n); err != nil {
			return written, errors.Wrap(err, "throttle")
		}
		m, err := t.w.Write(p[:n])
		written += m
		if err != nil {
			return written, err
		}
		p = p[n:]
	}
	return written, nil
}

// Seek passes through to the wrapped writer
func (t *Writer) Seek(offset int64, whence int) (int64, error) {
	s, ok := t.w.(io.Seeker)
	if !ok {
		return 0, errors.New("throttled writer is not seekable")
	}
	return s.Seek(offset, whence)
}

// Sync passes through to the wrapped writer when it can sync
func (t *Writer) Sync() error {
	if s, ok := t.w.(interface{ Sync() error }); ok {
		return s.Sync()
	}
	return nil
}

// Close passes through to the wrapped writer when it can close
func (t *Writer) Close() error {
	if c, ok := t.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Discard is a seekable writer that drops everything, used as a
// simulated device
type Discard struct {
	offset int64
}

// Write implements io.Writer
func (d *Discard) Write(p []byte) (int, error) {
	d.offset += int64(len(p))
	return len(p), nil
}

// Seek implements io.Seeker for absolute and relative offsets
func (d *Discard) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
		d.offset = offset
	case io.SeekCurrent:
		d.offset += offset
	default:
		return 0, errors.New("discard: unsupported whence")
	}
	return d.offset, nil
}

// Close implements io.Closer
func (d *Discard) Close() error {
	return nil
}

// Delay is a simulated device where every write takes a fixed latency
type Delay struct {
	Discard
	Latency time.Duration
}

// Write implements io.Writer
func (d *Delay) Write(p []byte) (int, error) {
	time.Sleep(d.Latency)
	return d.Discard.Write(p)
}
