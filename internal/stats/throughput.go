// Package stats collects per-task write results and reduces them into
// throughput figures once all tasks have joined.
package stats

import (
	"time"
)

// MiB is the unit used in every report line
const MiB = 1024 * 1024

// TaskResult contains the metrics from a single task's run
type TaskResult struct {
	// task identifier, unique within its role
	ID int

	// role of the task in its run ("writer", "consumer", "connection")
	Role string

	// bytes between this task's consecutive offsets (0 when appending)
	Stride int64

	// total bytes written
	BytesWritten int64

	// number of write operations completed
	Writes int64

	// how long the task ran
	Elapsed time.Duration

	// io mode label of the task's handle
	IOMode string

	// error that ended the task early, nil if it ran to its deadline
	Err error
}

// Throughput returns bytes per second, or 0 for a zero elapsed time
func Throughput(bytes int64, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	return float64(bytes) / elapsed.Seconds()
}

// MiBps returns throughput in MiB/s
func MiBps(bytes int64, elapsed time.Duration) float64 {
	return Throughput(bytes, elapsed) / MiB
}

// Throughput returns the task's own bytes per second
func (r TaskResult) Throughput() float64 {
	return Throughput(r.BytesWritten, r.Elapsed)
}

// Summary is the reduced result of a run
type Summary struct {
	// per task results ordered by id
	Tasks []TaskResult

	// sum of all tasks' bytes written
	TotalBytes int64

	// sum of all tasks' write operations
	TotalWrites int64

	// configured run duration, the denominator of the aggregate figure
	Duration time.Duration

	// io mode label, "mixed" when tasks disagree
	IOMode string

	// number of tasks that ended with an error
	Failed int
}

// Aggregate reduces task results. the aggregate throughput uses the
// configured duration rather than per task elapsed times so stragglers
// finishing their last write past the deadline do not skew it.
func Aggregate(results []TaskResult, configured time.Duration) Summary {
	s := Summary{
		Tasks:    results,
		Duration: configured,
	}

	for i, r := range results {
		s.TotalBytes += r.BytesWritten
		s.TotalWrites += r.Writes
		if r.Err != nil {
			s.Failed++
		}

		// track a common io mode
		switch {
		case i == 0:
			s.IOMode = r.IOMode
		case r.IOMode != s.IOMode:
			s.IOMode = "mixed"
		}
	}

	return s
}

// Throughput returns the aggregate bytes per second
func (s Summary) Throughput() float64 {
	return Throughput(s.TotalBytes, s.Duration)
}
