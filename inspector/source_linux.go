//go:build linux

package inspector

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// sysfsBlockRoot is the sysfs directory enumerated for block-device
// topology. Overridable in tests.
var sysfsBlockRoot = "/sys/block"

// sectorSize is the logical sector size sysfs reports "size" in units of.
const sectorSize = 512

// LinuxSysfsSource discovers block-device topology by reading
// /sys/block/<dev>{,/<dev><part>} the way udev and lsblk do, without
// shelling out. It deliberately stays off the sidecar path: topology
// listing must work even when every partitioning sidecar is missing, so
// the preflight sidecar check has something to report against.
type LinuxSysfsSource struct{}

// NewPlatformSource returns the production [Source] for the current
// platform.
func NewPlatformSource() Source {
	return LinuxSysfsSource{}
}

func (LinuxSysfsSource) ListRaw(ctx context.Context) ([]RawDevice, error) {
	entries, err := os.ReadDir(sysfsBlockRoot)
	if err != nil {
		return nil, err
	}

	var devices []RawDevice
	for _, entry := range entries {
		select {
		case <-ctx.Done():
			return devices, ctx.Err()
		default:
		}

		name := entry.Name()
		devPath := filepath.Join(sysfsBlockRoot, name)

		size, err := readSectorsAsBytes(filepath.Join(devPath, "size"))
		if err != nil {
			continue
		}

		removable := readFlag(filepath.Join(devPath, "removable"))

		device := RawDevice{
			Identifier: name,
			TotalSize:  size,
			Internal:   !removable,
			Content:    "unknown",
		}

		partEntries, _ := os.ReadDir(devPath)
		for _, pe := range partEntries {
			partName := pe.Name()
			if !strings.HasPrefix(partName, name) || partName == name {
				continue
			}
			partDir := filepath.Join(devPath, partName)
			if _, err := os.Stat(filepath.Join(partDir, "partition")); err != nil {
				continue
			}

			partSize, err := readSectorsAsBytes(filepath.Join(partDir, "size"))
			if err != nil {
				continue
			}
			partStart, err := readSectorsAsBytes(filepath.Join(partDir, "start"))
			if err != nil {
				continue
			}

			device.Partitions = append(device.Partitions, RawPartition{
				Identifier: partName,
				Name:       partName,
				Size:       partSize,
				Offset:     partStart,
				Content:    "partition",
			})
		}

		devices = append(devices, device)
	}

	return devices, nil
}

func readSectorsAsBytes(path string) (int64, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	sectors, err := strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64)
	if err != nil {
		return 0, err
	}
	return sectors * sectorSize, nil
}

func readFlag(path string) bool {
	raw, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(raw)) == "1"
}
