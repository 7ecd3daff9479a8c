package ingest

import (
	"context"
	"io"
	"net"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/jessegalley/ioprobe/internal/sink"
)

// SendOptions tune an upload
type SendOptions struct {
	// optional cap on the upload rate
	Limiter *rate.Limiter

	// give up connecting after this long (0 waits for ctx)
	DialTimeout time.Duration
}

// SendResult describes a finished upload
type SendResult struct {
	Sent    int64
	Elapsed time.Duration
}

// Send uploads exactly h.DeclaredSize bytes from r to the server at addr
// and waits for the server to close the connection, so Elapsed covers the
// server's final fsync.
func Send(ctx context.Context, addr string, h Header, r io.Reader, opts SendOptions) (SendResult, error) {
	raw, err := EncodeHeader(h)
	if err != nil {
		return SendResult{}, err
	}

	d := net.Dialer{Timeout: opts.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return SendResult{}, errors.Wrapf(err, "dial %s", addr)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	start := time.Now()
	n, err := upload(ctx, conn, raw, h.DeclaredSize, r, opts.Limiter)
	res := SendResult{Sent: n, Elapsed: time.Since(start)}
	if err != nil {
		return res, err
	}

	// half close and wait for the server to hang up
	if tc, ok := conn.(*net.TCPConn); ok {
		tc.CloseWrite()
	}
	io.Copy(io.Discard, conn)
	res.Elapsed = time.Since(start)
	return res, ctx.Err()
}

// upload writes the header and then exactly size bytes of r
func upload(ctx context.Context, conn io.Writer, header []byte, size uint64, r io.Reader, lim *rate.Limiter) (int64, error) {
	if _, err := conn.Write(header); err != nil {
		return 0, errors.Wrap(err, "write header")
	}

	var w io.Writer = conn
	if lim != nil {
		w = sink.NewWriter(ctx, conn, lim)
	}
	n, err := io.CopyN(w, r, int64(size))
	if err != nil {
		return n, errors.Wrapf(err, "sent %d of %d bytes", n, size)
	}
	return n, nil
}
