package resize_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/oxidisk/oxidisk/bus"
	"github.com/oxidisk/oxidisk/dispatch"
	"github.com/oxidisk/oxidisk/internal/oxitest"
	"github.com/oxidisk/oxidisk/journal"
	"github.com/oxidisk/oxidisk/model"
	"github.com/oxidisk/oxidisk/oxierr"
	"github.com/oxidisk/oxidisk/resize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCopyDispatcher(t *testing.T) *dispatch.Dispatcher {
	t.Helper()
	jpath := filepath.Join(t.TempDir(), "journal.json")
	return dispatch.New(bus.New(), journal.New(jpath))
}

func TestCopyDuplicatesBytesToDestination(t *testing.T) {
	d := newCopyDispatcher(t)
	size := int64(1 << 20)
	srcBacking := oxitest.RandomBuffer(t, int(size))
	dstBacking := make([]byte, size)

	src := oxitest.Device(srcBacking)
	dst := oxitest.Device(dstBacking)

	key := model.VerdictKey{Operation: model.OpCopy, Target: "dXs2"}
	v := &model.Verdict{Key: key}
	v.Finalize()
	d.SubmitVerdict(v)

	result, err := resize.Copy(context.Background(), d, resize.CopyRequest{
		Partition: "dXs2",
		Disk:      "dX",
		Src:       src,
		Dst:       dst,
		Size:      size,
		BlockSize: 64 << 10,
	})
	require.NoError(t, err)
	assert.True(t, result.OK)
	assert.Equal(t, srcBacking, dstBacking)
}

func TestCopyRejectsNonPositiveSize(t *testing.T) {
	d := newCopyDispatcher(t)
	_, err := resize.Copy(context.Background(), d, resize.CopyRequest{
		Partition: "dXs2",
		Size:      0,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, oxierr.ErrInvalidInput)
}

func TestCopyResumesFromLastCheckpoint(t *testing.T) {
	d := newCopyDispatcher(t)
	size := int64(256 << 10)
	srcBacking := oxitest.RandomBuffer(t, int(size))
	dstBacking := make([]byte, size)
	// Pretend the first half already landed from an earlier attempt.
	copy(dstBacking[:size/2], srcBacking[:size/2])

	src := oxitest.Device(srcBacking)
	dst := oxitest.Device(dstBacking)

	key := model.VerdictKey{Operation: model.OpCopy, Target: "dXs2"}
	v := &model.Verdict{Key: key}
	v.Finalize()
	d.SubmitVerdict(v)

	result, err := resize.Copy(context.Background(), d, resize.CopyRequest{
		Partition:  "dXs2",
		Disk:       "dX",
		Src:        src,
		Dst:        dst,
		Size:       size,
		BlockSize:  32 << 10,
		ResumeFrom: size / 2,
	})
	require.NoError(t, err)
	assert.True(t, result.OK)
	assert.Equal(t, srcBacking, dstBacking)
}
