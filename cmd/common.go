/*
Copyright © 2025 jesse galley <jesse@jessegalley.net>
*/
package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/jessegalley/ioprobe/internal/devices"
	"github.com/jessegalley/ioprobe/internal/dio"
	"github.com/jessegalley/ioprobe/internal/layout"
	"github.com/jessegalley/ioprobe/internal/logging"
	"github.com/jessegalley/ioprobe/internal/sink"
	"github.com/jessegalley/ioprobe/internal/stats"
)

func newLogger() (log.Logger, error) {
	return logging.New(os.Stderr, cfg.LogLevel)
}

// targetFromArgs sets the benchmark target from the optional positional argument
func targetFromArgs(args []string) {
	if len(args) == 1 {
		cfg.Path = args[0]
	}
}

// newLimiter returns the shared write limiter, or nil when unthrottled
func newLimiter(burst int) *rate.Limiter {
	if cfg.ThrottleMiBps <= 0 {
		return nil
	}
	return sink.NewLimiter(cfg.ThrottleBytes(), burst)
}

// prepareTarget resolves the alignment and optionally lays out the target
// before a write benchmark. it returns the detected host devices, which may
// be empty if discovery failed.
func prepareTarget() ([]devices.Device, error) {
	devs, err := devices.List()
	if err != nil {
		level.Warn(logger).Log("msg", "device discovery failed", "err", err)
	}

	if cfg.AutoAlign {
		cfg.Alignment = devices.AlignmentFor(devs, cfg.Path, cfg.Alignment)
		level.Info(logger).Log("msg", "using device alignment", "path", cfg.Path, "alignment", cfg.Alignment)
		if cfg.DirectIO && cfg.BlockSize%cfg.Alignment != 0 {
			return devs, errors.Errorf("block size %d is not a multiple of the device alignment %d", cfg.BlockSize, cfg.Alignment)
		}
	}

	if cfg.Prealloc > 0 {
		if err := layout.LayoutTarget(cfg.Path, cfg.Prealloc, false); err != nil {
			return devs, errors.Wrapf(err, "failed to lay out %s", cfg.Path)
		}
	}

	return devs, nil
}

// deviceNames returns the devices to sample: the configured ones, or the
// one holding the target
func deviceNames(devs []devices.Device) []string {
	if len(cfg.Devices) > 0 {
		return cfg.Devices
	}
	abs, err := filepath.Abs(cfg.Path)
	if err != nil {
		return nil
	}
	if d, ok := devices.Find(devs, abs); ok {
		return []string{d.Name}
	}
	return nil
}

// deviceBaseline takes the counter snapshot subtracted from the final one
func deviceBaseline(ctx context.Context, names []string) (stats.DeviceSnapshot, bool) {
	if len(names) == 0 {
		return stats.DeviceSnapshot{}, false
	}
	snap, err := stats.SnapshotDevices(ctx, names)
	if err != nil {
		level.Warn(logger).Log("msg", "device counters unavailable", "err", err)
		return stats.DeviceSnapshot{}, false
	}
	return snap, true
}

// deviceReport subtracts the baseline and renders the device lines
func deviceReport(names []string, baseline stats.DeviceSnapshot) string {
	// the run may have been interrupted, the final snapshot still counts
	after, err := stats.SnapshotDevices(context.Background(), names)
	if err != nil {
		level.Warn(logger).Log("msg", "device counters unavailable", "err", err)
		return ""
	}
	return stats.DeviceLines(stats.Delta(baseline, after))
}

// startProgress logs live throughput until the returned func is called
func startProgress(ctx context.Context, counters *stats.Counters) func() {
	if cfg.Progress <= 0 {
		return func() {}
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		stats.Progress(ctx, counters, cfg.Progress, logger)
	}()
	return func() {
		cancel()
		<-done
	}
}

// printSummary writes the formatted summary to stdout; device lines are
// appended for the table format only
func printSummary(s stats.Summary, deviceLines string) error {
	format, err := stats.ValidateFormat(cfg.OutFmt)
	if err != nil {
		return err
	}
	out, err := stats.FormatSummary(s, format)
	if err != nil {
		return errors.Wrap(err, "failed to format results")
	}
	fmt.Print(out)
	if format == stats.TableFormat && deviceLines != "" {
		fmt.Print(deviceLines)
	}
	return nil
}

// warnFallback makes a silent cached fallback visible
func warnFallback(s stats.Summary) {
	if cfg.DirectIO && s.IOMode != dio.ModeDirect {
		level.Warn(logger).Log("msg", "direct io was requested but not used for every task", "io_mode", s.IOMode)
	}
}

// ensureWritableDirectory creates dirPath if needed and checks it accepts files
func ensureWritableDirectory(dirPath string) error {
	// First check if directory exists
	if info, err := os.Stat(dirPath); err == nil {
		// Directory exists, check if it's a directory and writable
		if !info.IsDir() {
			return errors.Errorf("%s exists but is not a directory", dirPath)
		}

		// Try to create a temporary file to test writeability
		testFile := filepath.Join(dirPath, ".write_test")
		f, err := os.Create(testFile)
		if err != nil {
			return errors.Wrapf(err, "directory %s exists but is not writable", dirPath)
		}
		f.Close()
		os.Remove(testFile)
		return nil
	} else if !os.IsNotExist(err) {
		// Error other than "not exists" occurred
		return errors.Wrapf(err, "failed to check directory %s", dirPath)
	}

	// Directory doesn't exist, try to create it
	if err := os.MkdirAll(dirPath, 0755); err != nil {
		return errors.Wrapf(err, "failed to create directory %s", dirPath)
	}
	return nil
}
