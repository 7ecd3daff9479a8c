/*
Copyright © 2025 jesse galley <jesse@jessegalley.net>
*/
package cmd

import (
	"fmt"

	"github.com/go-kit/kit/log/level"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/jessegalley/ioprobe/internal/dio"
	"github.com/jessegalley/ioprobe/internal/pipeline"
	"github.com/jessegalley/ioprobe/internal/stats"
)

// pipelineCmd represents the pipeline command
var pipelineCmd = &cobra.Command{
	Use:   "pipeline [target]",
	Short: "Measure write throughput through a bounded producer/consumer queue.",
	Long: `Producers generate blocks into a bounded queue and consumers write them to
the target, each through its own handle. A slow disk fills the queue and
suspends the producers, so memory stays bounded by the queue capacity.
If target is not provided, ioprobe writes ./ioprobe_test.dat`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		targetFromArgs(args)
		return runPipeline(cmd)
	},
}

func init() {
	rootCmd.AddCommand(pipelineCmd)

	pipelineCmd.Flags().IntVar(&cfg.Producers, "producers", cfg.Producers, "number of data generating tasks")
	pipelineCmd.Flags().IntVar(&cfg.Consumers, "consumers", cfg.Consumers, "number of disk writing tasks")
	pipelineCmd.Flags().IntVar(&cfg.Capacity, "capacity", cfg.Capacity, "queue capacity in blocks")
	pipelineCmd.Flags().Int64Var(&cfg.Prealloc, "prealloc", cfg.Prealloc, "allocate this many bytes of the target before writing (0 skips)")
}

func runPipeline(cmd *cobra.Command) error {
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

	counters := stats.NewCounters(cfg.Consumers)
	stopProgress := startProgress(ctx, counters)

	level.Info(logger).Log("msg", "starting pipeline write", "path", cfg.Path, "producers", cfg.Producers,
		"consumers", cfg.Consumers, "capacity", cfg.Capacity, "block", cfg.BlockSize, "duration", cfg.Duration)

	summary, err := pipeline.RunDisk(ctx, pipeline.DiskConfig{
		Path:      cfg.Path,
		BlockSize: cfg.BlockSize,
		Alignment: cfg.Alignment,
		Producers: cfg.Producers,
		Consumers: cfg.Consumers,
		Capacity:  cfg.Capacity,
		Duration:  cfg.Duration,
		Fill:      fill,
		DirectIO:  cfg.DirectIO,
		FsyncFreq: cfg.FsyncFreq,
		Limiter:   newLimiter(cfg.BlockSize),
		Counters:  counters,
	}, logger)
	stopProgress()
	if err != nil {
		return err
	}
	warnFallback(summary.Summary)

	var lines string
	if sampled {
		lines = deviceReport(names, baseline)
	}
	if err := printSummary(summary.Summary, lines); err != nil {
		return err
	}
	level.Info(logger).Log("msg", "queue", "capacity", summary.Capacity, "high_water", summary.HighWater,
		"produced", summary.Produced, "written", summary.Written,
		"buffers", summary.Buffers, "peak_buffers", summary.PeakBuffers)
	if f, _ := stats.ValidateFormat(cfg.OutFmt); f == stats.TableFormat {
		fmt.Printf("Queue: capacity %d, high water %d, produced %d, written %d\n",
			summary.Capacity, summary.HighWater, summary.Produced, summary.Written)
	}

	if summary.Failed == len(summary.Tasks) {
		return errors.New("every consumer failed")
	}
	return nil
}
