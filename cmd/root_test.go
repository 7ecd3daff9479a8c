package cmd

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"

	"github.com/jessegalley/ioprobe/internal/config"
)

func TestLoadProfileFlagsWin(t *testing.T) {
	// flags are bound to the fields of cfg, reset them in place
	*cfg = *config.NewConfig()
	defer func() { *cfg = *config.NewConfig() }()

	path := filepath.Join(t.TempDir(), "profile.yaml")
	profile := "tasks: 8\nblock_size: 8192\nduration: 2s\ndevices: [md0]\n"
	if err := os.WriteFile(path, []byte(profile), 0644); err != nil {
		t.Fatal(err)
	}

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.IntVar(&cfg.Tasks, "tasks", cfg.Tasks, "")
	fs.IntVar(&cfg.BlockSize, "block", cfg.BlockSize, "")
	fs.DurationVar(&cfg.Duration, "runtime", cfg.Duration, "")
	fs.StringSliceVar(&cfg.Devices, "devices", cfg.Devices, "")
	if err := fs.Parse([]string{"--tasks", "4", "--devices", "sda,sdb"}); err != nil {
		t.Fatal(err)
	}

	if err := loadProfile(fs, path); err != nil {
		t.Fatal(err)
	}
	if cfg.Tasks != 4 {
		t.Errorf("tasks = %d, the flag should win", cfg.Tasks)
	}
	if len(cfg.Devices) != 2 || cfg.Devices[0] != "sda" || cfg.Devices[1] != "sdb" {
		t.Errorf("devices = %v, the flag should win", cfg.Devices)
	}
	if cfg.BlockSize != 8192 || cfg.Duration != 2*time.Second {
		t.Errorf("profile not applied: block %d, duration %v", cfg.BlockSize, cfg.Duration)
	}
}

func TestEnsureWritableDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")
	if err := ensureWritableDirectory(dir); err != nil {
		t.Fatal(err)
	}
	if err := ensureWritableDirectory(dir); err != nil {
		t.Errorf("existing directory: %v", err)
	}

	file := filepath.Join(dir, "file")
	os.WriteFile(file, nil, 0644)
	if err := ensureWritableDirectory(file); err == nil {
		t.Error("regular file accepted as a directory")
	}
}
