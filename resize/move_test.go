package resize_test

import (
	"context"
	"testing"

	"github.com/oxidisk/oxidisk/internal/oxitest"
	"github.com/oxidisk/oxidisk/model"
	"github.com/oxidisk/oxidisk/oxierr"
	"github.com/oxidisk/oxidisk/resize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMoveRelocatesPartitionToHigherOffset(t *testing.T) {
	d := newCopyDispatcher(t)
	size := int64(1 << 20)
	backing := make([]byte, 4*size)
	data := oxitest.RandomBuffer(t, int(size))
	copy(backing[:size], data)
	dev := oxitest.Device(backing)

	var repointedTo int64 = -1
	key := model.VerdictKey{Operation: model.OpMove, Target: "dXs2", NewSize: 2 * size}
	d.SubmitVerdict(okVerdict(key))

	result, err := resize.Move(context.Background(), d, resize.MoveRequest{
		Partition: "dXs2",
		Disk:      "dX",
		Device:    dev,
		SrcOffset: 0,
		DstOffset: 2 * size,
		Size:      size,
		BlockSize: 64 << 10,
		Bounds:    model.Bounds{MinStart: 0, MaxStart: 3 * size},
		Repoint: func(ctx context.Context, partition string, newOffset int64) error {
			repointedTo = newOffset
			return nil
		},
	})
	require.NoError(t, err)
	assert.True(t, result.OK)
	assert.Equal(t, 2*size, repointedTo)
	assert.Equal(t, data, backing[2*size:3*size])
}

func TestMoveHandlesOverlappingBackwardRelocation(t *testing.T) {
	d := newCopyDispatcher(t)
	size := int64(256 << 10)
	backing := make([]byte, 2*size)
	data := oxitest.RandomBuffer(t, int(size))
	// Source region starts partway into the buffer; destination overlaps
	// it from the left (dst < src), exercising the forward-copy path that
	// keeps the read pointer ahead of the write pointer.
	copy(backing[size/2:size/2+size], data)
	dev := oxitest.Device(backing)

	key := model.VerdictKey{Operation: model.OpMove, Target: "dXs2", NewSize: 0}
	d.SubmitVerdict(okVerdict(key))

	result, err := resize.Move(context.Background(), d, resize.MoveRequest{
		Partition: "dXs2",
		Disk:      "dX",
		Device:    dev,
		SrcOffset: size / 2,
		DstOffset: 0,
		Size:      size,
		BlockSize: 64 << 10,
		Bounds:    model.Bounds{MinStart: 0, MaxStart: size},
		Repoint: func(ctx context.Context, partition string, newOffset int64) error {
			return nil
		},
	})
	require.NoError(t, err)
	assert.True(t, result.OK)
	assert.Equal(t, data, backing[:size])
}

func TestMoveRejectsDestinationOutsideBounds(t *testing.T) {
	d := newCopyDispatcher(t)
	size := int64(64 << 10)
	dev := oxitest.Device(make([]byte, size))

	key := model.VerdictKey{Operation: model.OpMove, Target: "dXs2", NewSize: 10 * size}
	d.SubmitVerdict(okVerdict(key))

	_, err := resize.Move(context.Background(), d, resize.MoveRequest{
		Partition: "dXs2",
		Device:    dev,
		DstOffset: 10 * size,
		Size:      size,
		Bounds:    model.Bounds{MinStart: 0, MaxStart: size},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, oxierr.ErrInvalidInput)
}

func TestMoveRejectsUnalignedDestination(t *testing.T) {
	d := newCopyDispatcher(t)
	dev := oxitest.Device(make([]byte, 4<<20))

	key := model.VerdictKey{Operation: model.OpMove, Target: "dXs2", NewSize: (1 << 20) + 7}
	d.SubmitVerdict(okVerdict(key))

	_, err := resize.Move(context.Background(), d, resize.MoveRequest{
		Partition: "dXs2",
		Device:    dev,
		DstOffset: (1 << 20) + 7,
		Size:      1 << 20,
		Bounds:    model.Bounds{MinStart: 0, MaxStart: 4 << 20},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, oxierr.ErrInvalidInput)
}

func TestMoveResumesFromLastCheckpoint(t *testing.T) {
	d := newCopyDispatcher(t)
	size := int64(256 << 10)
	backing := make([]byte, 2*size)
	data := oxitest.RandomBuffer(t, int(size))
	copy(backing[size:], data)
	// Pretend the first half of the forward copy already landed.
	copy(backing[:size/2], data[:size/2])
	dev := oxitest.Device(backing)

	key := model.VerdictKey{Operation: model.OpMove, Target: "dXs2", NewSize: 0}
	d.SubmitVerdict(okVerdict(key))

	result, err := resize.Move(context.Background(), d, resize.MoveRequest{
		Partition:  "dXs2",
		Device:     dev,
		SrcOffset:  size,
		DstOffset:  0,
		Size:       size,
		BlockSize:  32 << 10,
		ResumeFrom: size / 2,
		Bounds:     model.Bounds{MinStart: 0, MaxStart: size},
		Repoint: func(ctx context.Context, partition string, newOffset int64) error {
			return nil
		},
	})
	require.NoError(t, err)
	assert.True(t, result.OK)
	assert.Equal(t, data, backing[:size])
}
