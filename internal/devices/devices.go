// Package devices discovers block devices so runs can pick a buffer
// alignment and know which disk counters to sample.
package devices

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/jaypipes/ghw"
	"github.com/pkg/errors"
)

// Device is a block device and where its partitions are mounted
type Device struct {
	Name       string
	SizeBytes  uint64
	SectorSize uint64
	Type       string
	Model      string
	Partitions []Partition
}

// Partition is one partition of a Device
type Partition struct {
	Name       string
	MountPoint string
	Type       string
}

// List returns the block devices of the host
func List() ([]Device, error) {
	info, err := ghw.Block()
	if err != nil {
		return nil, errors.Wrap(err, "block device discovery")
	}
	return fromBlock(info), nil
}

func fromBlock(info *ghw.BlockInfo) []Device {
	devs := make([]Device, 0, len(info.Disks))
	for _, d := range info.Disks {
		dev := Device{
			Name:       d.Name,
			SizeBytes:  d.SizeBytes,
			SectorSize: d.PhysicalBlockSizeBytes,
			Type:       d.DriveType.String(),
			Model:      d.Model,
		}
		for _, p := range d.Partitions {
			dev.Partitions = append(dev.Partitions, Partition{
				Name:       p.Name,
				MountPoint: p.MountPoint,
				Type:       p.Type,
			})
		}
		devs = append(devs, dev)
	}
	return devs
}

// Find returns the device holding path. device nodes under /dev match by
// name; any other path matches the partition with the longest mount point
// containing it.
func Find(devs []Device, path string) (Device, bool) {
	path = filepath.Clean(path)

	if strings.HasPrefix(path, "/dev/") {
		name := filepath.Base(path)
		for _, d := range devs {
			if d.Name == name {
				return d, true
			}
			for _, p := range d.Partitions {
				if p.Name == name {
					return d, true
				}
			}
		}
		return Device{}, false
	}

	var best Device
	bestLen := -1
	for _, d := range devs {
		for _, p := range d.Partitions {
			if p.MountPoint == "" || !within(path, p.MountPoint) {
				continue
			}
			if len(p.MountPoint) > bestLen {
				best, bestLen = d, len(p.MountPoint)
			}
		}
	}
	return best, bestLen >= 0
}

func within(path, mount string) bool {
	if mount == "/" {
		return strings.HasPrefix(path, "/")
	}
	return path == mount || strings.HasPrefix(path, mount+"/")
}

// AlignmentFor returns the physical sector size of the device holding
// path, or fallback if it cannot be determined
func AlignmentFor(devs []Device, path string, fallback int) int {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fallback
	}
	d, ok := Find(devs, abs)
	if !ok || d.SectorSize == 0 {
		return fallback
	}
	return int(d.SectorSize)
}

// Fprint writes one line per device and mounted partition
func Fprint(w io.Writer, devs []Device) {
	for _, d := range devs {
		fmt.Fprintf(w, "%s: %d bytes, sector %d, %s %s\n", d.Name, d.SizeBytes, d.SectorSize, d.Type, d.Model)
		for _, p := range d.Partitions {
			if p.MountPoint == "" {
				continue
			}
			fmt.Fprintf(w, "  %s on %s (%s)\n", p.Name, p.MountPoint, p.Type)
		}
	}
}
