package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestNewConfigIsValid(t *testing.T) {
	c := NewConfig()
	if err := c.Validate(); err != nil {
		t.Fatalf("defaults do not validate: %v", err)
	}
	if c.BlockSize != 4<<20 || c.Tasks != 32 || c.Duration != 30*time.Second || c.Capacity != 100 || c.ChunkSize != 64<<10 {
		t.Errorf("unexpected defaults %+v", c)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		errSub string
	}{
		{"no tasks", func(c *Config) { c.Tasks = 0 }, "tasks"},
		{"no consumers", func(c *Config) { c.Consumers = 0 }, "consumers"},
		{"zero block", func(c *Config) { c.BlockSize = 0 }, "block size"},
		{"odd alignment", func(c *Config) { c.Alignment = 1000 }, "power of two"},
		{"unaligned direct block", func(c *Config) { c.DirectIO = true; c.BlockSize = 4000 }, "multiple of the alignment"},
		{"no duration", func(c *Config) { c.Duration = 0 }, "duration"},
		{"negative fsync", func(c *Config) { c.FsyncFreq = -1 }, "fsync"},
		{"sub byte throttle", func(c *Config) { c.ThrottleMiBps = 0.0000001 }, "throttle"},
		{"negative throttle", func(c *Config) { c.ThrottleMiBps = -1 }, "throttle"},
		{"bad fill", func(c *Config) { c.Fill = "ones" }, "fill"},
		{"bad format", func(c *Config) { c.OutFmt = "xml" }, "format"},
		{"bad log level", func(c *Config) { c.LogLevel = "trace" }, "log level"},
	}
	for _, tt := range tests {
		c := NewConfig()
		tt.modify(c)
		err := c.Validate()
		if err == nil || !strings.Contains(err.Error(), tt.errSub) {
			t.Errorf("%s: Validate = %v, want an error mentioning %q", tt.name, err, tt.errSub)
		}
	}

	// one byte per second is the slowest usable rate
	c := NewConfig()
	c.ThrottleMiBps = 1.0 / (1 << 20)
	if err := c.Validate(); err != nil {
		t.Errorf("1 B/s throttle rejected: %v", err)
	}

	// unaligned blocks are fine through the page cache
	c = NewConfig()
	c.BlockSize = 4000
	if err := c.Validate(); err != nil {
		t.Errorf("cached unaligned block rejected: %v", err)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.yaml")
	profile := `
path: /mnt/raid0/bench.dat
block_size: 1048576
duration: 5s
tasks: 8
direct: true
fill: random
devices: [md0, nvme0n1]
`
	if err := os.WriteFile(path, []byte(profile), 0644); err != nil {
		t.Fatal(err)
	}

	c := NewConfig()
	if err := c.LoadFile(path); err != nil {
		t.Fatal(err)
	}
	if c.Path != "/mnt/raid0/bench.dat" || c.BlockSize != 1<<20 || c.Duration != 5*time.Second || c.Tasks != 8 {
		t.Errorf("profile not applied: %+v", c)
	}
	if !c.DirectIO || c.Fill != "random" || len(c.Devices) != 2 || c.Devices[1] != "nvme0n1" {
		t.Errorf("profile not applied: %+v", c)
	}

	// keys the profile leaves out keep their defaults
	if c.Capacity != 100 || c.Listen != "0.0.0.0:5201" {
		t.Errorf("defaults lost: %+v", c)
	}
}

func TestLoadFileRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.yaml")
	os.WriteFile(path, []byte("blocksize: 10\n"), 0644)
	if err := NewConfig().LoadFile(path); err == nil {
		t.Error("unknown key accepted")
	}
	if err := NewConfig().LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing profile accepted")
	}
}

func TestThrottleAndDump(t *testing.T) {
	c := NewConfig()
	c.ThrottleMiBps = 1.5
	if got := c.ThrottleBytes(); got != 1572864 {
		t.Errorf("ThrottleBytes = %d", got)
	}
	if d := c.Dump(); !strings.Contains(d, "BlockSize: (int) 4194304") {
		t.Errorf("Dump = %s", d)
	}
}
