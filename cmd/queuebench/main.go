// queuebench measures how close the bounded pipeline gets to the
// theoretical rate of a simulated device with a fixed write latency
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/go-kit/kit/log/level"
	"github.com/spf13/pflag"

	"github.com/jessegalley/ioprobe/internal/dio"
	"github.com/jessegalley/ioprobe/internal/logging"
	"github.com/jessegalley/ioprobe/internal/pipeline"
	"github.com/jessegalley/ioprobe/internal/sink"
)

func main() {
	// define command line flags
	consumers := pflag.Int("workers", 8, "number of consumer goroutines")
	producers := pflag.Int("producers", 1, "number of producer goroutines")
	capacity := pflag.Int("buffer", 8, "queue capacity in chunks")
	blockSize := pflag.Int("block", 4096, "chunk size in bytes")
	duration := pflag.Duration("duration", 15*time.Second, "test duration")
	latency := pflag.Duration("latency", 50*time.Microsecond, "simulated io latency")
	logLevel := pflag.String("log-level", "info", "log level (debug, info, warn, or error)")

	// parse command line flags
	pflag.Parse()

	logger, err := logging.New(os.Stderr, *logLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if *latency <= 0 {
		fmt.Fprintln(os.Stderr, "latency must be positive")
		os.Exit(2)
	}

	// calculate theoretical maximum chunks/sec
	theoretical := float64(*consumers) * (float64(time.Second) / float64(*latency))

	s, err := pipeline.RunDisk(context.Background(), pipeline.DiskConfig{
		Path:      "simulated",
		BlockSize: *blockSize,
		Alignment: dio.DefaultAlignment,
		Producers: *producers,
		Consumers: *consumers,
		Capacity:  *capacity,
		Duration:  *duration,
		Fill:      dio.FillZero,
		Open: func(id int) (dio.Target, error) {
			return &sink.Delay{Latency: *latency}, nil
		},
	}, logger)
	if err != nil {
		level.Error(logger).Log("msg", "run failed", "err", err)
		os.Exit(1)
	}

	// consumers drain past the deadline, so rate over their own time
	elapsed := *duration
	for _, t := range s.Tasks {
		if t.Elapsed > elapsed {
			elapsed = t.Elapsed
		}
	}
	actual := float64(s.Written) / elapsed.Seconds()
	efficiency := (actual / theoretical) * 100

	// print results
	fmt.Printf("\nResults:\n")
	fmt.Printf("Theoretical max chunks/sec: %.2f\n", theoretical)
	fmt.Printf("Actual chunks/sec: %.2f\n", actual)
	fmt.Printf("Efficiency: %.2f%%\n", efficiency)
	fmt.Printf("Queue high water: %d of %d\n", s.HighWater, s.Capacity)
}
