package inspector_test

import (
	"context"
	"testing"

	"github.com/oxidisk/oxidisk/inspector"
	"github.com/oxidisk/oxidisk/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	devices []inspector.RawDevice
}

func (f fakeSource) ListRaw(ctx context.Context) ([]inspector.RawDevice, error) {
	return f.devices, nil
}

const mib = int64(1) << 20

func tenGiBDiskFixture() inspector.RawDevice {
	return inspector.RawDevice{
		Identifier: "disk0",
		TotalSize:  10 * 1024 * mib,
		Internal:   false,
		Partitions: []inspector.RawPartition{
			{Identifier: "disk0s1", Size: 100 * mib, Offset: 0},
			{Identifier: "disk0s2", Size: 2048 * mib, Offset: 100 * mib},
			{Identifier: "disk0s3", Size: 1024 * mib, Offset: 4096 * mib},
		},
	}
}

func TestListDevicesComputesNonOverlappingPartitionsAndGaps(t *testing.T) {
	src := fakeSource{devices: []inspector.RawDevice{tenGiBDiskFixture()}}
	insp := inspector.New(src)

	devices, err := insp.ListDevices(context.Background(), true)
	require.NoError(t, err)
	require.Len(t, devices, 1)

	device := devices[0]
	require.Len(t, device.Partitions, 3)

	var lastEnd int64
	var totalPartitionBytes int64
	for _, p := range device.Partitions {
		assert.GreaterOrEqual(t, p.Offset, lastEnd, "partitions must not overlap")
		lastEnd = p.Offset + p.Size
		totalPartitionBytes += p.Size
	}

	var totalGapBytes int64
	for _, gap := range device.Unallocated {
		totalGapBytes += gap.Size
	}

	// Sum of partitions + gaps should reconstruct the device size within one
	// alignment unit (spec §8 invariant).
	assert.InDelta(t, device.TotalSize, totalPartitionBytes+totalGapBytes, float64(mib))
}

func TestListDevicesExcludesInternalByDefault(t *testing.T) {
	internal := tenGiBDiskFixture()
	internal.Identifier = "disk1"
	internal.Internal = true

	external := tenGiBDiskFixture()
	external.Identifier = "disk2"
	external.Internal = false

	src := fakeSource{devices: []inspector.RawDevice{internal, external}}
	insp := inspector.New(src)

	devices, err := insp.ListDevices(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, "disk2", devices[0].Identifier)

	devices, err = insp.ListDevices(context.Background(), true)
	require.NoError(t, err)
	assert.Len(t, devices, 2)
}

func TestProtectedDeviceAndPartitionClassification(t *testing.T) {
	rd := tenGiBDiskFixture()
	rd.Partitions[0].Role = model.ProtectionRecovery

	src := fakeSource{devices: []inspector.RawDevice{rd}}
	insp := inspector.New(src)

	devices, err := insp.ListDevices(context.Background(), true)
	require.NoError(t, err)

	assert.True(t, devices[0].Partitions[0].IsProtected)
	assert.Equal(t, model.ProtectionRecovery, devices[0].Partitions[0].ProtectionReason)
	assert.False(t, devices[0].Partitions[1].IsProtected)
}

func TestPartitionBoundsMiddlePartition(t *testing.T) {
	src := fakeSource{devices: []inspector.RawDevice{tenGiBDiskFixture()}}
	insp := inspector.New(src)

	bounds, err := insp.PartitionBounds(context.Background(), "disk0s2")
	require.NoError(t, err)

	assert.Equal(t, 100*mib, bounds.MinStart)
	assert.Equal(t, (4096-2048)*mib, bounds.MaxStart)
	assert.True(t, inspector.IsAligned(bounds.MinStart))
	assert.True(t, inspector.IsAligned(bounds.MaxStart))
}

func TestPartitionBoundsUnknownIdentifier(t *testing.T) {
	src := fakeSource{devices: []inspector.RawDevice{tenGiBDiskFixture()}}
	insp := inspector.New(src)

	_, err := insp.PartitionBounds(context.Background(), "does-not-exist")
	require.Error(t, err)
}

func TestAlignHelpers(t *testing.T) {
	assert.Equal(t, mib, inspector.AlignUp(1))
	assert.Equal(t, int64(0), inspector.AlignDown(mib-1))
	assert.True(t, inspector.IsAligned(2*mib))
	assert.False(t, inspector.IsAligned(2*mib+1))
}
