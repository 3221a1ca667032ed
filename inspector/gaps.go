package inspector

import (
	"fmt"
	"sort"

	"github.com/boljen/go-bitmap"
	"github.com/oxidisk/oxidisk/model"
)

// alignmentUnit is the granularity (1 MiB) at which gaps are computed and
// at which sizes are canonicalized throughout the engine (spec §4.G "Size
// strings").
const alignmentUnit int64 = 1 << 20

// computeUnallocated marks each partition's occupied alignment units in a
// bitmap sized to the device, then scans for runs of unset bits to find
// *free* runs across a partition table.
func computeUnallocated(deviceSize int64, partitions []model.Partition) []model.UnallocatedSegment {
	if deviceSize <= 0 {
		return nil
	}

	totalUnits := int(ceilDiv(deviceSize, alignmentUnit))
	occupied := bitmap.New(totalUnits)

	sorted := make([]model.Partition, len(partitions))
	copy(sorted, partitions)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Offset < sorted[j].Offset })

	for _, p := range sorted {
		startUnit := int(p.Offset / alignmentUnit)
		endUnit := int(ceilDiv(p.Offset+p.Size, alignmentUnit))
		for u := startUnit; u < endUnit && u < totalUnits; u++ {
			occupied.Set(u, true)
		}
	}

	var segments []model.UnallocatedSegment
	runStart := -1
	for u := 0; u <= totalUnits; u++ {
		free := u < totalUnits && !occupied.Get(u)
		if free && runStart == -1 {
			runStart = u
		} else if !free && runStart != -1 {
			offset := int64(runStart) * alignmentUnit
			size := int64(u-runStart) * alignmentUnit
			if offset+size > deviceSize {
				size = deviceSize - offset
			}
			if size > 0 {
				segments = append(segments, model.UnallocatedSegment{
					Key:    fmt.Sprintf("gap-%d", offset),
					Offset: offset,
					Size:   size,
				})
			}
			runStart = -1
		}
	}

	return segments
}

func ceilDiv(a, b int64) int64 {
	if a <= 0 {
		return 0
	}
	return (a + b - 1) / b
}

// AlignDown rounds size down to the nearest alignment unit (spec §4.G:
// "internally canonicalized to byte counts aligned downward to 1 MiB").
func AlignDown(size int64) int64 {
	return (size / alignmentUnit) * alignmentUnit
}

// AlignUp rounds size up to the nearest alignment unit.
func AlignUp(size int64) int64 {
	return ceilDiv(size, alignmentUnit) * alignmentUnit
}

// IsAligned reports whether size is already a multiple of the alignment
// unit.
func IsAligned(size int64) bool {
	return size%alignmentUnit == 0
}
