// Package inspector implements the Device Inspector (spec §4.B): topology
// discovery, normalization into [model.Device]/[model.Partition] snapshots,
// protection classification, and move-bounds computation. The Inspector
// never blocks an operation; it only reports.
package inspector

import (
	"context"
	"fmt"
	"sort"

	"github.com/oxidisk/oxidisk/model"
	"github.com/oxidisk/oxidisk/oxierr"
)

// RawPartition is what a [Source] reports for a single partition-table
// entry before protection classification is applied.
type RawPartition struct {
	Identifier string
	Name       string
	Size       int64
	Offset     int64
	Content    model.ContentKind
	FSType     string
	MountPoint string
	Role       model.ProtectionReason // "" if not a role the protection set covers
}

// RawDevice is what a [Source] reports for one physical or virtual block
// device before protection classification is applied.
type RawDevice struct {
	Identifier   string
	TotalSize    int64
	Internal     bool
	Content      model.ContentKind
	ParentDevice string
	Role         model.ProtectionReason
	Partitions   []RawPartition
}

// Source is the platform-specific topology probe. Production builds back
// it with sysfs/ioctl queries or a `diskutil`/`lsblk`-class sidecar call;
// tests back it with a fixed fixture.
type Source interface {
	ListRaw(ctx context.Context) ([]RawDevice, error)
}

// Inspector normalizes a [Source]'s raw topology into the engine's data
// model and answers move-bounds queries.
type Inspector struct {
	source Source
}

// New builds an Inspector over the given topology source.
func New(source Source) *Inspector {
	return &Inspector{source: source}
}

// ListDevices enumerates devices and their partitions (spec §4.B
// `list_devices`). When includeSystem is false, devices marked Internal
// are omitted, matching the UI's default "external drives only" view.
func (i *Inspector) ListDevices(ctx context.Context, includeSystem bool) ([]model.Device, error) {
	raw, err := i.source.ListRaw(ctx)
	if err != nil {
		return nil, oxierr.ErrIO.Wrap(err)
	}

	devices := make([]model.Device, 0, len(raw))
	for _, rd := range raw {
		if rd.Internal && !includeSystem {
			continue
		}
		devices = append(devices, normalizeDevice(rd))
	}
	return devices, nil
}

func normalizeDevice(rd RawDevice) model.Device {
	partitions := make([]model.Partition, 0, len(rd.Partitions))
	for _, rp := range rd.Partitions {
		partitions = append(partitions, model.Partition{
			Identifier:       rp.Identifier,
			Name:             rp.Name,
			Size:             rp.Size,
			Offset:           rp.Offset,
			Content:          rp.Content,
			FSType:           rp.FSType,
			MountPoint:       rp.MountPoint,
			IsProtected:      rp.Role != model.ProtectionNone,
			ProtectionReason: rp.Role,
		})
	}
	sort.Slice(partitions, func(a, b int) bool { return partitions[a].Offset < partitions[b].Offset })

	return model.Device{
		Identifier:       rd.Identifier,
		TotalSize:        rd.TotalSize,
		Internal:         rd.Internal,
		Content:          rd.Content,
		ParentDevice:     rd.ParentDevice,
		IsProtected:      rd.Role != model.ProtectionNone,
		ProtectionReason: rd.Role,
		Partitions:       partitions,
		Unallocated:      computeUnallocated(rd.TotalSize, partitions),
	}
}

// PartitionBounds returns the legal move range for a partition, derived
// from the gaps surrounding it and the containing device's size, aligned
// to the device's block size (spec §4.B `partition_bounds`).
func (i *Inspector) PartitionBounds(ctx context.Context, identifier string) (model.Bounds, error) {
	raw, err := i.source.ListRaw(ctx)
	if err != nil {
		return model.Bounds{}, oxierr.ErrIO.Wrap(err)
	}

	for _, rd := range raw {
		device := normalizeDevice(rd)
		for idx, p := range device.Partitions {
			if p.Identifier != identifier {
				continue
			}
			return boundsFor(device, idx), nil
		}
	}

	return model.Bounds{}, oxierr.ErrDeviceGone.WithMessage(
		fmt.Sprintf("partition %q not found in current topology", identifier),
	)
}

// boundsFor computes the inclusive [MinStart, MaxStart] range for the
// partition at index idx within device.Partitions, sorted by offset.
func boundsFor(device model.Device, idx int) model.Bounds {
	partitions := device.Partitions
	target := partitions[idx]

	var prevEnd int64
	if idx > 0 {
		prevEnd = partitions[idx-1].Offset + partitions[idx-1].Size
	}
	minStart := AlignUp(prevEnd)

	var nextStart int64 = device.TotalSize
	if idx+1 < len(partitions) {
		nextStart = partitions[idx+1].Offset
	}
	maxStart := AlignDown(nextStart - target.Size)
	if maxStart < minStart {
		maxStart = minStart
	}

	return model.Bounds{
		MinStart:  minStart,
		MaxStart:  maxStart,
		Offset:    target.Offset,
		Size:      target.Size,
		BlockSize: 512,
	}
}
