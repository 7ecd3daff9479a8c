package stats

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shirou/gopsutil/v4/disk"
)

// DeviceCounters is the subset of kernel block device counters the
// report cares about
type DeviceCounters struct {
	WriteBytes  uint64
	WriteCount  uint64
	WriteTimeMs uint64
	IoTimeMs    uint64
}

// DeviceSnapshot holds counters for a set of devices at one instant
type DeviceSnapshot struct {
	Taken    time.Time
	Counters map[string]DeviceCounters
}

// ioCounters is swapped in tests
var ioCounters = disk.IOCountersWithContext

// SnapshotDevices reads the current counters for the named devices
// (e.g. "nvme1n1", "md0"). an empty list snapshots every device.
func SnapshotDevices(ctx context.Context, names []string) (DeviceSnapshot, error) {
	raw, err := ioCounters(ctx, names...)
	if err != nil {
		return DeviceSnapshot{}, errors.Wrap(err, "read device counters")
	}

	snap := DeviceSnapshot{
		Taken:    time.Now(),
		Counters: make(map[string]DeviceCounters, len(raw)),
	}
	for name, c := range raw {
		snap.Counters[name] = DeviceCounters{
			WriteBytes:  c.WriteBytes,
			WriteCount:  c.WriteCount,
			WriteTimeMs: c.WriteTime,
			IoTimeMs:    c.IoTime,
		}
	}
	return snap, nil
}

// DeviceDelta is the per device activity between two snapshots
type DeviceDelta struct {
	Name     string
	Counters DeviceCounters
	Elapsed  time.Duration
}

// Delta subtracts the baseline from after, device by device. the baseline
// is always the snapshot taken first; devices missing from either side
// are skipped and counters that went backwards (device reset) read as 0.
func Delta(baseline, after DeviceSnapshot) []DeviceDelta {
	elapsed := after.Taken.Sub(baseline.Taken)

	var deltas []DeviceDelta
	for name, a := range after.Counters {
		b, ok := baseline.Counters[name]
		if !ok {
			continue
		}
		deltas = append(deltas, DeviceDelta{
			Name: name,
			Counters: DeviceCounters{
				WriteBytes:  sub(a.WriteBytes, b.WriteBytes),
				WriteCount:  sub(a.WriteCount, b.WriteCount),
				WriteTimeMs: sub(a.WriteTimeMs, b.WriteTimeMs),
				IoTimeMs:    sub(a.IoTimeMs, b.IoTimeMs),
			},
			Elapsed: elapsed,
		})
	}

	sort.Slice(deltas, func(i, j int) bool { return deltas[i].Name < deltas[j].Name })
	return deltas
}

func sub(a, b uint64) uint64 {
	if a < b {
		return 0
	}
	return a - b
}

// DeviceLines formats one line per device delta
func DeviceLines(deltas []DeviceDelta) string {
	var sb strings.Builder
	for _, d := range deltas {
		fmt.Fprintf(&sb, "Device %s: Written %d bytes in %d writes, Throughput: %.2f MiB/s\n",
			d.Name, d.Counters.WriteBytes, d.Counters.WriteCount,
			MiBps(int64(d.Counters.WriteBytes), d.Elapsed))
	}
	return sb.String()
}
