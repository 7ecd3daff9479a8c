package stats

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
)

// counter is padded to its own cache line so tasks bumping neighbouring
// counters do not contend
type counter struct {
	n atomic.Int64
	_ [56]byte
}

// Counters holds one byte counter per task. tasks only add to their own
// slot; readers sum the slots.
type Counters struct {
	slots []counter
}

// NewCounters creates counters for n tasks
func NewCounters(n int) *Counters {
	return &Counters{slots: make([]counter, n)}
}

// Add records n bytes for task i
func (c *Counters) Add(i int, n int64) {
	c.slots[i].n.Add(n)
}

// Load returns the bytes recorded for task i
func (c *Counters) Load(i int) int64 {
	return c.slots[i].n.Load()
}

// Sum returns the bytes recorded across all tasks
func (c *Counters) Sum() int64 {
	var total int64
	for i := range c.slots {
		total += c.slots[i].n.Load()
	}
	return total
}

// Len returns the number of task slots
func (c *Counters) Len() int {
	return len(c.slots)
}

// Progress periodically logs the live aggregate throughput read from
// counters until ctx is done.
func Progress(ctx context.Context, c *Counters, interval time.Duration, logger log.Logger) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	start := time.Now()
	last := start
	var lastBytes int64

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			total := c.Sum()
			level.Info(logger).Log(
				"msg", "progress",
				"elapsed", now.Sub(start).Round(time.Millisecond),
				"bytes", total,
				"mibs", fmt.Sprintf("%.2f", MiBps(total-lastBytes, now.Sub(last))),
			)
			last, lastBytes = now, total
		}
	}
}
