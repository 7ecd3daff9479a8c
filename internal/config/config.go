/*
 *
 * jesse galley <jesse@jessegalley.net>
 */

// Package config holds the run configuration shared by every ioprobe
// command, its defaults, and the optional yaml profile it can be loaded
// from.
package config

import (
	"os"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"github.com/jessegalley/ioprobe/internal/dio"
	"github.com/jessegalley/ioprobe/internal/logging"
	"github.com/jessegalley/ioprobe/internal/stats"
)

// Config holds all configuration parameters for ioprobe runs
type Config struct {
	// write and pipeline benchmarks
	Path          string        `yaml:"path"`           // target file or block device
	BlockSize     int           `yaml:"block_size"`     // size of each write in bytes
	Alignment     int           `yaml:"alignment"`      // buffer alignment in bytes
	AutoAlign     bool          `yaml:"auto_align"`     // use the target device's sector size as alignment
	Duration      time.Duration `yaml:"duration"`       // how long writers run
	Tasks         int           `yaml:"tasks"`          // partitioned writer tasks
	Producers     int           `yaml:"producers"`      // pipeline data generators
	Consumers     int           `yaml:"consumers"`      // pipeline disk writers
	Capacity      int           `yaml:"capacity"`       // pipeline queue capacity in chunks
	Fill          string        `yaml:"fill"`           // buffer fill strategy (zero, static, random)
	DirectIO      bool          `yaml:"direct"`         // bypass the page cache
	FsyncFreq     int           `yaml:"fsync"`          // fsync after this many writes (0 disables)
	ThrottleMiBps float64       `yaml:"throttle_mibps"` // emulate a volume capped at this rate (0 disables)
	Prealloc      int64         `yaml:"prealloc"`       // allocate this many bytes of the target up front (0 skips)
	Devices       []string      `yaml:"devices"`        // block devices to report counters for
	Progress      time.Duration `yaml:"progress"`       // live throughput log interval (0 disables)

	// network ingest
	Listen      string `yaml:"listen"`       // server listen address
	StorageDir  string `yaml:"storage_dir"`  // directory received files are written to
	ChunkSize   int    `yaml:"chunk_size"`   // largest socket read in bytes
	MetricsAddr string `yaml:"metrics_addr"` // prometheus listen address (empty disables)

	// output
	OutFmt   string `yaml:"format"`    // output format (table, json, or flat)
	LogLevel string `yaml:"log_level"` // debug, info, warn or error
}

// NewConfig creates a new Config instance with sensible default values
func NewConfig() *Config {
	return &Config{
		Path:       "ioprobe_test.dat",        // test file in the current directory
		BlockSize:  4 * 1024 * 1024,           // 4 MiB writes
		Alignment:  dio.DefaultAlignment,      // 512 byte sectors
		Duration:   30 * time.Second,          // default test duration of 30 seconds
		Tasks:      32,                        // 32 partitioned writers
		Producers:  4,                         // pipeline generators
		Consumers:  4,                         // pipeline writers
		Capacity:   100,                       // queued chunks between them
		Fill:       string(dio.FillZero),      // zeroed buffers by default
		Listen:     "0.0.0.0:5201",            // ingest server address
		StorageDir: "/mnt/raid0",              // ingest storage directory
		ChunkSize:  64 * 1024,                 // 64 KiB socket reads
		OutFmt:     string(stats.TableFormat), // human readable table format by default
		LogLevel:   "info",
	}
}

// LoadFile overlays the yaml profile at path onto c. unknown keys are
// rejected.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "read config")
	}
	if err := yaml.UnmarshalStrict(data, c); err != nil {
		return errors.Wrapf(err, "parse config %s", path)
	}
	return nil
}

// Validate checks the parameters shared by every command
func (c *Config) Validate() error {
	// validate number of tasks
	if c.Tasks < 1 {
		return errors.Errorf("tasks must be at least 1, got %d", c.Tasks)
	}
	if c.Producers < 1 || c.Consumers < 1 {
		return errors.Errorf("producers and consumers must be at least 1, got %d and %d", c.Producers, c.Consumers)
	}

	// validate block size and alignment
	if c.BlockSize <= 0 {
		return errors.Errorf("block size must be positive, got %d", c.BlockSize)
	}
	if c.Alignment <= 0 || c.Alignment&(c.Alignment-1) != 0 {
		return errors.Errorf("alignment must be a positive power of two, got %d", c.Alignment)
	}
	if c.DirectIO && c.BlockSize%c.Alignment != 0 {
		return errors.Errorf("direct io needs a block size that is a multiple of the alignment, got %d and %d", c.BlockSize, c.Alignment)
	}

	if c.Duration <= 0 {
		return errors.Errorf("duration must be positive, got %v", c.Duration)
	}
	if c.Capacity < 1 {
		return errors.Errorf("capacity must be at least 1, got %d", c.Capacity)
	}
	if c.FsyncFreq < 0 {
		return errors.Errorf("fsync frequency cannot be negative, got %d", c.FsyncFreq)
	}
	if c.ThrottleMiBps < 0 {
		return errors.Errorf("throttle cannot be negative, got %v", c.ThrottleMiBps)
	}
	if c.ThrottleMiBps > 0 && c.ThrottleBytes() < 1 {
		return errors.Errorf("throttle %v MiB/s is below 1 byte per second", c.ThrottleMiBps)
	}
	if c.Prealloc < 0 {
		return errors.Errorf("prealloc cannot be negative, got %d", c.Prealloc)
	}
	if c.ChunkSize <= 0 {
		return errors.Errorf("chunk size must be positive, got %d", c.ChunkSize)
	}

	if _, err := dio.ParseFill(c.Fill); err != nil {
		return err
	}
	if _, err := stats.ValidateFormat(c.OutFmt); err != nil {
		return err
	}
	if err := logging.ValidLevel(c.LogLevel); err != nil {
		return err
	}

	return nil
}

// ThrottleBytes returns the throttle in bytes per second
func (c *Config) ThrottleBytes() int64 {
	return int64(c.ThrottleMiBps * stats.MiB)
}

// Dump renders the effective configuration for debug logging
func (c *Config) Dump() string {
	return spew.Sdump(c)
}
