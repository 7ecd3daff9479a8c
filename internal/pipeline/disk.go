package pipeline

import (
	"context"
	"io"
	"sync/atomic"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/jessegalley/ioprobe/internal/dio"
	"github.com/jessegalley/ioprobe/internal/sink"
	"github.com/jessegalley/ioprobe/internal/stats"
)

// DiskConfig contains the configuration for a producer/consumer disk run
type DiskConfig struct {
	// target file or device, used when Open is nil
	Path string

	// size of every chunk in bytes
	BlockSize int

	// buffer alignment in bytes
	Alignment int

	// number of generating goroutines, each with its own offset stride
	Producers int

	// number of writing goroutines, each with its own handle
	Consumers int

	// queue capacity in chunks
	Capacity int

	// how long producers keep generating
	Duration time.Duration

	// buffer fill strategy
	Fill dio.Fill

	// whether to bypass the page cache
	DirectIO bool

	// fsync after this many writes per consumer (0 disables)
	FsyncFreq int

	// optional write rate cap shared by all consumers
	Limiter *rate.Limiter

	// optional live byte counters, one slot per consumer
	Counters *stats.Counters

	// optional opener overriding Path
	Open dio.Opener
}

// DiskSummary is the result of a producer/consumer disk run. the embedded
// Summary holds one task per consumer.
type DiskSummary struct {
	stats.Summary

	// chunks enqueued by producers
	Produced int64

	// chunks written by consumers
	Written int64

	// queue capacity and the largest occupancy observed
	Capacity  int
	HighWater int

	// pool size and the most buffers checked out at once
	Buffers     int
	PeakBuffers int
}

type diskRun struct {
	cfg    DiskConfig
	logger log.Logger
	queue  *Queue
	pool   *dio.Pool
	open   dio.Opener

	produced atomic.Int64
	alive    atomic.Int32

	// cancels producers when no consumer is left
	abort context.CancelFunc
}

// RunDisk generates chunks with cfg.Producers goroutines and writes them
// with cfg.Consumers goroutines through a queue of cfg.Capacity chunks.
// producers stop at the deadline; the queue is then closed and consumers
// drain whatever is left before exiting. task failures are logged and
// reported in the summary; only setup failures return an error.
func RunDisk(ctx context.Context, cfg DiskConfig, logger log.Logger) (DiskSummary, error) {
	// a side without goroutines would leave the other blocked on the queue
	if cfg.Producers < 1 || cfg.Consumers < 1 {
		return DiskSummary{}, errors.Errorf("need at least one producer and one consumer, got %d and %d", cfg.Producers, cfg.Consumers)
	}

	// every queued chunk, every producer and every consumer may hold one buffer
	pool, err := dio.NewPool(cfg.Capacity+cfg.Producers+cfg.Consumers, cfg.BlockSize, cfg.Alignment)
	if err != nil {
		return DiskSummary{}, err
	}
	if cfg.Fill == dio.FillStatic {
		pool.Each(dio.NewFiller(dio.FillStatic, 0).Init)
	}

	r := &diskRun{
		cfg:    cfg,
		logger: logger,
		queue:  NewQueue(cfg.Capacity),
		pool:   pool,
		open:   cfg.Open,
	}
	if r.open == nil {
		r.open = dio.FileOpener(cfg.Path, cfg.DirectIO)
	}

	produceCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	r.abort = cancel

	// start consumers first so the queue drains from the first chunk
	results := make([]stats.TaskResult, cfg.Consumers)
	r.alive.Store(int32(cfg.Consumers))
	var consumers errgroup.Group
	for k := 0; k < cfg.Consumers; k++ {
		k := k
		consumers.Go(func() error {
			results[k] = r.consume(k)
			return nil
		})
	}

	// launch producers against a shared deadline
	deadline := time.Now().Add(cfg.Duration)
	var producers errgroup.Group
	for p := 0; p < cfg.Producers; p++ {
		p := p
		producers.Go(func() error {
			r.produce(produceCtx, p, deadline)
			return nil
		})
	}

	// all producers finished, let consumers drain and exit
	producers.Wait()
	r.queue.Close()
	consumers.Wait()

	summary := DiskSummary{
		Summary:     stats.Aggregate(results, cfg.Duration),
		Produced:    r.produced.Load(),
		Capacity:    r.queue.Cap(),
		HighWater:   r.queue.HighWater(),
		Buffers:     pool.Cap(),
		PeakBuffers: pool.Peak(),
	}
	summary.Written = summary.TotalWrites
	return summary, nil
}

// produce enqueues chunks at this producer's stride until the deadline
func (r *diskRun) produce(ctx context.Context, p int, deadline time.Time) {
	filler := dio.NewFiller(r.cfg.Fill, p)
	stride := int64(r.cfg.BlockSize) * int64(r.cfg.Producers)
	offset := int64(p) * int64(r.cfg.BlockSize)

	// the deadline is only checked here, never while a send is in flight
	for time.Now().Before(deadline) {
		if ctx.Err() != nil {
			return
		}

		buf, ok := r.pool.Get(ctx)
		if !ok {
			return
		}
		filler.Refill(buf)

		if err := r.queue.Send(ctx, Chunk{Offset: offset, Payload: buf}); err != nil {
			// closed channel is the shutdown signal
			r.pool.Put(buf)
			return
		}
		r.produced.Add(1)
		offset += stride
	}
}

// consume writes chunks until the queue is closed and drained
func (r *diskRun) consume(k int) (res stats.TaskResult) {
	res = stats.TaskResult{ID: k, Role: "consumer"}
	logger := log.With(r.logger, "task", k, "path", r.cfg.Path)

	defer func() {
		// the last consumer to fail takes the producers down with it
		if r.alive.Add(-1) == 0 && res.Err != nil {
			level.Warn(logger).Log("msg", "no consumers left, aborting producers")
			r.queue.Abort()
			r.abort()
		}
	}()

	t, err := r.open(k)
	if err != nil {
		res.Err = err
		level.Error(logger).Log("msg", "consumer failed to open target", "err", err)
		return res
	}
	res.IOMode = dio.ModeOf(t)
	defer t.Close()

	var w io.Writer = t
	if r.cfg.Limiter != nil {
		w = sink.NewWriter(context.Background(), t, r.cfg.Limiter)
	}

	start := time.Now()
	defer func() { res.Elapsed = time.Since(start) }()

	for {
		c, ok := r.queue.Recv(context.Background())
		if !ok {
			return res
		}

		n, err := writeAt(t, w, c, r.cfg.Path)
		r.pool.Put(c.Payload)
		res.BytesWritten += int64(n)
		if r.cfg.Counters != nil {
			r.cfg.Counters.Add(k, int64(n))
		}
		if err != nil {
			res.Err = err
			level.Error(logger).Log("msg", "consumer write failed", "offset", c.Offset, "err", err)
			return res
		}
		res.Writes++

		// handle fsync if enabled
		if r.cfg.FsyncFreq > 0 && res.Writes%int64(r.cfg.FsyncFreq) == 0 {
			if err := dio.Sync(t); err != nil {
				res.Err = dio.NewIOError("sync", r.cfg.Path, err)
				level.Error(logger).Log("msg", "consumer fsync failed", "err", err)
				return res
			}
		}
	}
}

// writeAt seeks t to the chunk offset and writes the payload through w
func writeAt(t dio.Target, w io.Writer, c Chunk, path string) (int, error) {
	if _, err := t.Seek(c.Offset, io.SeekStart); err != nil {
		return 0, &dio.IOError{Op: "seek", Path: path, Err: err}
	}
	n, err := w.Write(c.Payload)
	if err == nil && n < len(c.Payload) {
		err = io.ErrShortWrite
	}
	if err != nil {
		return n, &dio.IOError{Op: "write", Path: path, Err: err}
	}
	return n, nil
}
