/*
Copyright © 2025 jesse galley <jesse@jessegalley.net>
*/
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/jessegalley/ioprobe/internal/config"
)

// program state shared by every command
var (
	cfg     = config.NewConfig() // effective configuration, flags bind straight into it
	cfgFile string               // optional yaml profile
	version bool                 // print version and exit
	logger  log.Logger = log.NewNopLogger()
)

// program info const
const progVersion string = "0.3.0"
const progAuthor string = "jesse galley <jesse@jessegalley.net>"

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "ioprobe",
	Short: "Measure sustained write throughput of disks and network ingest.",
	Long: `ioprobe drives block storage with concurrent writers and reports the
throughput each task and the whole run sustained. It can also receive files
over tcp through a bounded queue to measure a network-to-disk pipeline.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// check if version flag was set
		if version {
			fmt.Printf("ioprobe v%s\n%s\ngithub.com/jessegalley/ioprobe\n", progVersion, progAuthor)
			os.Exit(0)
		}

		if cfgFile != "" {
			if err := loadProfile(cmd.Flags(), cfgFile); err != nil {
				return err
			}
		}

		l, err := newLogger()
		if err != nil {
			return err
		}
		logger = l
		level.Debug(logger).Log("msg", "effective config", "config", cfg.Dump())

		return cfg.Validate()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	// interrupts stop the run cooperatively; results so far are still reported
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		stop()
		os.Exit(1)
	}
}

// loadProfile applies the yaml profile under any flags set on the command
// line, so explicit flags always win
func loadProfile(flags *pflag.FlagSet, path string) error {
	// remember what was set explicitly before the profile overwrites it
	set := make(map[string]string)
	flags.Visit(func(f *pflag.Flag) {
		set[f.Name] = f.Value.String()
	})
	devices := append([]string(nil), cfg.Devices...)

	if err := cfg.LoadFile(path); err != nil {
		return err
	}

	for name, value := range set {
		// slice flags append on Set, restore them directly
		if name == "devices" {
			cfg.Devices = devices
			continue
		}
		if err := flags.Set(name, value); err != nil {
			return err
		}
	}
	return nil
}

func init() {
	// define command line flags, writing values straight into the config
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "yaml profile to load before applying flags")
	pf.BoolVarP(&version, "version", "V", false, "print version and exit")
	pf.IntVarP(&cfg.BlockSize, "block", "b", cfg.BlockSize, "block size for io operations in bytes")
	pf.IntVar(&cfg.Alignment, "alignment", cfg.Alignment, "buffer alignment in bytes (power of two)")
	pf.BoolVar(&cfg.AutoAlign, "auto-align", cfg.AutoAlign, "use the target device's physical sector size as alignment")
	pf.DurationVarP(&cfg.Duration, "runtime", "t", cfg.Duration, "duration of the test")
	pf.BoolVarP(&cfg.DirectIO, "direct", "d", cfg.DirectIO, "use direct io (o_direct)")
	pf.IntVar(&cfg.FsyncFreq, "fsync", cfg.FsyncFreq, "call fsync after this many writes (0 disables)")
	pf.StringVar(&cfg.Fill, "fill", cfg.Fill, "buffer fill strategy (zero, static, or random)")
	pf.Float64Var(&cfg.ThrottleMiBps, "throttle", cfg.ThrottleMiBps, "cap the write rate at this many MiB/s (0 disables)")
	pf.DurationVar(&cfg.Progress, "progress", cfg.Progress, "log live throughput at this interval (0 disables)")
	pf.StringSliceVar(&cfg.Devices, "devices", cfg.Devices, "block devices to report io counters for (default: the target's device)")
	pf.StringVar(&cfg.OutFmt, "format", cfg.OutFmt, "output format (table, json, or flat)")
	pf.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, or error)")
}
