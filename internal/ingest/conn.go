package ingest

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/jessegalley/ioprobe/internal/dio"
	"github.com/jessegalley/ioprobe/internal/pipeline"
	"github.com/jessegalley/ioprobe/internal/stats"
)

// receiver defaults
const (
	DefaultChunkSize = 64 * 1024
	DefaultCapacity  = 100
)

// ReceiverConfig contains the settings shared by every connection
type ReceiverConfig struct {
	// directory received files are created in
	Dir string

	// largest single socket read in bytes
	ChunkSize int

	// queue capacity in chunks between the socket reader and the writer
	Capacity int
}

func (c ReceiverConfig) withDefaults() ReceiverConfig {
	if c.ChunkSize <= 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.Capacity <= 0 {
		c.Capacity = DefaultCapacity
	}
	return c
}

// State is the stage a connection reached
type State int32

const (
	Idle State = iota
	HeaderReceived
	Streaming
	Draining
	Synced
	Done
	Aborted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case HeaderReceived:
		return "header_received"
	case Streaming:
		return "streaming"
	case Draining:
		return "draining"
	case Synced:
		return "synced"
	case Done:
		return "done"
	case Aborted:
		return "aborted"
	}
	return "unknown"
}

// Result describes one finished connection
type Result struct {
	Header Header

	// full path of the created file, empty if none was created
	Path string

	// bytes read from the socket and bytes written to the file
	Received int64
	Written  int64

	// final state, Done or Aborted
	State State

	// the peer closed early; the file holds what was received
	Incomplete bool

	Err      error
	Elapsed  time.Duration
	SyncTime time.Duration
}

// Throughput returns the rate the file was written at in bytes per second
func (r Result) Throughput() float64 {
	return stats.Throughput(r.Written, r.Elapsed)
}

// transfer is the per connection state shared by the reader and writer
type transfer struct {
	cfg    ReceiverConfig
	logger log.Logger
	header Header
	queue  *pipeline.Queue
	pool   *dio.Pool
	state  atomic.Int32

	received   atomic.Int64
	written    atomic.Int64
	incomplete atomic.Bool
}

func (t *transfer) transition(to State) {
	from := State(t.state.Swap(int32(to)))
	level.Debug(t.logger).Log("msg", "state change", "from", from, "to", to)
}

// Receive runs one transfer over conn: header, streaming into the file,
// drain, fsync. bytes are written in exactly the order they are read. on
// any failure after the file was created the file is removed. conn is
// closed if ctx ends or the transfer aborts.
func Receive(ctx context.Context, conn io.ReadCloser, cfg ReceiverConfig, logger log.Logger) (res Result) {
	cfg = cfg.withDefaults()
	start := time.Now()
	t := &transfer{cfg: cfg, logger: logger}
	defer func() {
		res.State = State(t.state.Load())
		res.Received = t.received.Load()
		res.Written = t.written.Load()
		res.Elapsed = time.Since(start)
	}()

	// read and validate the preamble before touching the filesystem
	raw := make([]byte, HeaderSize)
	if _, err := io.ReadFull(conn, raw); err != nil {
		res.Err = &ProtocolError{Stage: "header", Err: errors.Wrap(err, "read header")}
		t.transition(Aborted)
		level.Error(logger).Log("msg", "failed to read header", "err", err)
		return res
	}
	h, err := ParseHeader(raw)
	if err != nil {
		res.Err = err
		t.transition(Aborted)
		level.Error(logger).Log("msg", "invalid header", "err", err)
		return res
	}
	res.Header = h
	t.header = h
	t.logger = log.With(logger, "file", h.FileName)
	t.transition(HeaderReceived)
	level.Info(t.logger).Log("msg", "receiving file", "size", h.DeclaredSize)

	path := filepath.Join(cfg.Dir, h.FileName)
	f, err := dio.Create(path)
	if err != nil {
		res.Err = err
		t.transition(Aborted)
		level.Error(t.logger).Log("msg", "failed to create file", "path", path, "err", err)
		return res
	}
	res.Path = path

	// abort closes and removes the file
	abort := func(err error) Result {
		f.Close()
		os.Remove(path)
		res.Err = err
		res.Path = ""
		t.transition(Aborted)
		level.Error(t.logger).Log("msg", "transfer aborted", "path", path, "err", err)
		return res
	}

	// the reader and the writer each hold at most one buffer beyond the queue
	t.pool, err = dio.NewPool(cfg.Capacity+2, cfg.ChunkSize, dio.DefaultAlignment)
	if err != nil {
		return abort(err)
	}
	t.queue = pipeline.NewQueue(cfg.Capacity)

	// closing the connection is the only way to interrupt a blocked read
	rctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(rctx, func() { conn.Close() })
	defer stop()

	t.transition(Streaming)
	var g errgroup.Group
	g.Go(func() error {
		return t.read(rctx, conn, cancel)
	})
	g.Go(func() error {
		return t.write(f, path, cancel)
	})
	if err := g.Wait(); err != nil {
		return abort(err)
	}
	if ctx.Err() != nil {
		return abort(errors.Wrap(ctx.Err(), "transfer interrupted"))
	}

	// everything is written, make it durable
	syncStart := time.Now()
	if err := f.Sync(); err != nil {
		return abort(dio.NewIOError("sync", path, err))
	}
	res.SyncTime = time.Since(syncStart)
	t.transition(Synced)

	if err := f.Close(); err != nil {
		return abort(dio.NewIOError("close", path, err))
	}
	t.transition(Done)

	if t.incomplete.Load() {
		res.Incomplete = true
		res.Err = &ProtocolError{
			Stage: "stream",
			Err:   errors.Wrapf(ErrIncompleteTransfer, "received %d of %d bytes", t.received.Load(), h.DeclaredSize),
		}
		level.Warn(t.logger).Log("msg", "peer closed early", "received", t.received.Load(), "declared", h.DeclaredSize)
	}
	return res
}

// read moves socket data into the queue until the declared size arrived
// or the peer closed. it never reads past the declared size.
func (t *transfer) read(ctx context.Context, conn io.Reader, cancel context.CancelFunc) error {
	// the writer drains what was queued once the reader is done
	defer func() {
		t.queue.Close()
		if State(t.state.Load()) == Streaming {
			t.transition(Draining)
		}
	}()

	declared := int64(t.header.DeclaredSize)
	for t.received.Load() < declared {
		buf, ok := t.pool.Get(ctx)
		if !ok {
			return nil
		}

		remaining := declared - t.received.Load()
		if remaining < int64(len(buf)) {
			buf = buf[:remaining]
		}

		n, err := conn.Read(buf)
		if n > 0 {
			offset := t.received.Add(int64(n)) - int64(n)
			if serr := t.queue.Send(ctx, pipeline.Chunk{Offset: offset, Payload: buf[:n]}); serr != nil {
				// writer gone, it reports why
				t.pool.Put(buf)
				return nil
			}
		} else {
			t.pool.Put(buf)
		}

		if err == io.EOF {
			if t.received.Load() < declared {
				t.incomplete.Store(true)
			}
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				// closed under us by cancellation or a failed writer
				return nil
			}
			cancel()
			return dio.NewIOError("read", t.header.FileName, err)
		}
	}
	return nil
}

// write appends queued chunks to f in arrival order
func (t *transfer) write(f io.Writer, path string, cancel context.CancelFunc) error {
	for {
		c, ok := t.queue.Recv(context.Background())
		if !ok {
			return nil
		}

		n, err := f.Write(c.Payload)
		t.pool.Put(c.Payload)
		t.written.Add(int64(n))
		if err == nil && n < len(c.Payload) {
			err = io.ErrShortWrite
		}
		if err != nil {
			// stop the reader and release it if it is blocked on a full queue
			t.queue.Abort()
			cancel()
			return dio.NewIOError("write", path, err)
		}
	}
}
