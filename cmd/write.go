/*
Copyright © 2025 jesse galley <jesse@jessegalley.net>
*/
package cmd

import (
	"github.com/go-kit/kit/log/level"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/jessegalley/ioprobe/internal/dio"
	"github.com/jessegalley/ioprobe/internal/runners"
	"github.com/jessegalley/ioprobe/internal/stats"
)

// writeCmd represents the write command
var writeCmd = &cobra.Command{
	Use:   "write [target]",
	Short: "Measure write throughput with partitioned concurrent writers.",
	Long: `Run a fixed number of tasks writing to one file or block device. Task i
writes block i, then every n-th block after it, so tasks never overlap.
If target is not provided, ioprobe writes ./ioprobe_test.dat`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		targetFromArgs(args)
		return runWrite(cmd)
	},
}

func init() {
	rootCmd.AddCommand(writeCmd)

	writeCmd.Flags().IntVarP(&cfg.Tasks, "tasks", "P", cfg.Tasks, "number of concurrent writer tasks")
	writeCmd.Flags().Int64Var(&cfg.Prealloc, "prealloc", cfg.Prealloc, "allocate this many bytes of the target before writing (0 skips)")
}

func runWrite(cmd *cobra.Command) error {
	ctx := cmd.Context()

	devs, err := prepareTarget()
	if err != nil {
		return err
	}
	fill, err := dio.ParseFill(cfg.Fill)
	if err != nil {
		return err
	}

	names := deviceNames(devs)
	baseline, sampled := deviceBaseline(ctx, names)

	counters := stats.NewCounters(cfg.Tasks)
	stopProgress := startProgress(ctx, counters)

	// announce test start
	level.Info(logger).Log("msg", "starting partitioned write", "path", cfg.Path, "tasks", cfg.Tasks,
		"block", cfg.BlockSize, "duration", cfg.Duration, "direct", cfg.DirectIO, "fill", fill)

	summary := runners.RunPartitioned(ctx, runners.WorkerConfig{
		FilePath:       cfg.Path,
		BlockSize:      cfg.BlockSize,
		Alignment:      cfg.Alignment,
		Tasks:          cfg.Tasks,
		DirectIO:       cfg.DirectIO,
		Fill:           fill,
		FsyncFrequency: cfg.FsyncFreq,
		Duration:       cfg.Duration,
		Limiter:        newLimiter(cfg.BlockSize),
		Counters:       counters,
	}, logger)
	stopProgress()
	warnFallback(summary)

	var lines string
	if sampled {
		lines = deviceReport(names, baseline)
	}
	if err := printSummary(summary, lines); err != nil {
		return err
	}

	if summary.Failed == len(summary.Tasks) {
		return errors.New("every task failed")
	}
	return nil
}
