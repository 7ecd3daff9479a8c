// package runners contains the partitioned writer pool: a fixed number of
// tasks each writing its own interleaved stride of one target
package runners

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"golang.org/x/time/rate"

	"github.com/jessegalley/ioprobe/internal/dio"
	"github.com/jessegalley/ioprobe/internal/sink"
	"github.com/jessegalley/ioprobe/internal/stats"
)

// WorkerConfig contains the configuration for a partitioned write run
type WorkerConfig struct {
	// path to the target file or device, used when Open is nil
	FilePath string

	// size of each write in bytes
	BlockSize int

	// buffer alignment in bytes
	Alignment int

	// number of concurrent tasks
	Tasks int

	// whether to use direct io
	DirectIO bool

	// buffer fill strategy
	Fill dio.Fill

	// frequency of fsync calls (0 disables)
	FsyncFrequency int

	// duration to run the test
	Duration time.Duration

	// optional write rate cap shared by all tasks
	Limiter *rate.Limiter

	// optional live byte counters, one slot per task
	Counters *stats.Counters

	// optional opener overriding FilePath
	Open dio.Opener
}

// Stride describes the offsets owned by one task. task i writes at
// i*bs, then every bs*n bytes after that, so n tasks interleave without
// ever touching each other's blocks.
type Stride struct {
	Task      int
	Tasks     int
	BlockSize int64
}

// Start returns the task's first offset
func (s Stride) Start() int64 {
	return int64(s.Task) * s.BlockSize
}

// Step returns the distance between the task's consecutive offsets
func (s Stride) Step() int64 {
	return s.BlockSize * int64(s.Tasks)
}

// Offset returns the task's k-th offset
func (s Stride) Offset(k int64) int64 {
	return s.Start() + k*s.Step()
}

// RunPartitioned runs cfg.Tasks writers until cfg.Duration elapses and
// reduces their results. a failed task is logged and reported with the
// bytes it managed to write; its siblings keep going.
func RunPartitioned(ctx context.Context, cfg WorkerConfig, logger log.Logger) stats.Summary {
	open := cfg.Open
	if open == nil {
		open = dio.FileOpener(cfg.FilePath, cfg.DirectIO)
	}

	// each task fills its own slot, reduced once after the join
	results := make([]stats.TaskResult, cfg.Tasks)

	// create wait group for synchronization
	var wg sync.WaitGroup

	// launch worker goroutines
	for i := 0; i < cfg.Tasks; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			results[id] = worker(ctx, id, open, cfg, logger)
		}(i)
	}

	// wait for all workers to complete
	wg.Wait()

	return stats.Aggregate(results, cfg.Duration)
}

// worker performs the writes for a single task
func worker(ctx context.Context, id int, open dio.Opener, cfg WorkerConfig, logger log.Logger) (res stats.TaskResult) {
	stride := Stride{Task: id, Tasks: cfg.Tasks, BlockSize: int64(cfg.BlockSize)}
	res = stats.TaskResult{ID: id, Role: "writer", Stride: stride.Step()}
	logger = log.With(logger, "task", id, "path", cfg.FilePath)

	// allocate the task's buffer once, reused for every write
	buf, err := dio.Allocate(cfg.BlockSize, cfg.Alignment)
	if err != nil {
		res.Err = err
		level.Error(logger).Log("msg", "buffer allocation failed", "err", err)
		return res
	}
	filler := dio.NewFiller(cfg.Fill, id)
	filler.Init(buf)

	// open the task's own handle
	t, err := open(id)
	if err != nil {
		res.Err = err
		level.Error(logger).Log("msg", "open failed", "err", err)
		return res
	}
	defer t.Close()
	res.IOMode = dio.ModeOf(t)

	var w io.Writer = t
	if cfg.Limiter != nil {
		w = sink.NewWriter(ctx, t, cfg.Limiter)
	}

	// record start time
	start := time.Now()
	defer func() { res.Elapsed = time.Since(start) }()

	// perform writes until duration is reached; the deadline is only
	// checked between writes
	for k := int64(0); time.Since(start) < cfg.Duration; k++ {
		if ctx.Err() != nil {
			return res
		}
		filler.Refill(buf)

		offset := stride.Offset(k)
		if _, err := t.Seek(offset, io.SeekStart); err != nil {
			res.Err = dio.NewIOError("seek", cfg.FilePath, err)
			level.Error(logger).Log("msg", "seek failed", "offset", offset, "err", err)
			return res
		}

		n, err := w.Write(buf)
		res.BytesWritten += int64(n)
		if cfg.Counters != nil {
			cfg.Counters.Add(id, int64(n))
		}
		if err == nil && n < len(buf) {
			err = io.ErrShortWrite
		}
		if err != nil && ctx.Err() != nil {
			// interrupted while waiting on the throttle
			return res
		}
		if err != nil {
			res.Err = dio.NewIOError("write", cfg.FilePath, err)
			level.Error(logger).Log("msg", "write failed", "offset", offset, "err", err)
			return res
		}
		res.Writes++

		// handle fsync if enabled
		if cfg.FsyncFrequency > 0 && res.Writes%int64(cfg.FsyncFrequency) == 0 {
			if err := dio.Sync(t); err != nil {
				res.Err = dio.NewIOError("sync", cfg.FilePath, err)
				level.Error(logger).Log("msg", "fsync failed", "err", err)
				return res
			}
		}
	}

	return res
}
