package resize_test

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"testing"

	"github.com/oxidisk/oxidisk/bus"
	"github.com/oxidisk/oxidisk/dispatch"
	"github.com/oxidisk/oxidisk/inspector"
	"github.com/oxidisk/oxidisk/journal"
	"github.com/oxidisk/oxidisk/model"
	"github.com/oxidisk/oxidisk/oxierr"
	"github.com/oxidisk/oxidisk/resize"
	"github.com/oxidisk/oxidisk/sidecar"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubOnPath writes an executable named name to a fresh directory prepended
// to PATH for the duration of the test, so [sidecar.Registry.Require]
// resolves it as present without needing the real tool installed. The stub
// just exits with exitCode.
func stubOnPath(t *testing.T, name string, exitCode int) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("stub binaries are POSIX shell scripts")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	script := "#!/bin/sh\nexit " + strconv.Itoa(exitCode) + "\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	t.Setenv("PATH", dir+string(os.PathListSeparator)+os.Getenv("PATH"))
}

type fakeSource struct{}

func (fakeSource) ListRaw(ctx context.Context) ([]inspector.RawDevice, error) { return nil, nil }

func newTestEngine(t *testing.T, resizer resize.TableResizer) (*resize.Engine, *dispatch.Dispatcher) {
	t.Helper()
	reg, err := sidecar.New()
	require.NoError(t, err)
	rules, err := resize.LoadRules()
	require.NoError(t, err)
	insp := inspector.New(fakeSource{})
	engine := resize.New(reg, rules, insp, resizer)

	jpath := filepath.Join(t.TempDir(), "journal.json")
	d := dispatch.New(bus.New(), journal.New(jpath))
	return engine, d
}

func okVerdict(key model.VerdictKey) *model.Verdict {
	v := &model.Verdict{Key: key}
	v.Finalize()
	return v
}

func TestResizeRejectsSizeOutsideRange(t *testing.T) {
	engine, d := newTestEngine(t, nil)
	_, err := resize.Resize(context.Background(), d, engine, "dXsY", "ext4", 10<<20, 100<<20, 0, 50<<20)
	require.Error(t, err)
	assert.ErrorIs(t, err, oxierr.ErrInvalidInput)
}

func TestResizeUnsupportedFilesystemRejected(t *testing.T) {
	engine, d := newTestEngine(t, nil)
	_, err := resize.Resize(context.Background(), d, engine, "dXsY", "fat32", 200<<20, 100<<20, 200<<20, 50<<20)
	require.Error(t, err)
	assert.ErrorIs(t, err, oxierr.ErrUnsupported)
}

func TestResizeMissingSidecarRejected(t *testing.T) {
	engine, d := newTestEngine(t, nil)
	_, err := resize.Resize(context.Background(), d, engine, "dXsY", "ext4", 200<<20, 100<<20, 200<<20, 50<<20)
	require.Error(t, err)
	assert.ErrorIs(t, err, oxierr.ErrMissingSidecar)
}

func TestGrowRollsBackTableOnFilesystemGrowFailure(t *testing.T) {
	// resize2fs is not installed in the sandbox; stub one on PATH so
	// Require() is satisfied but the grow sub-step still fails (nonzero
	// exit), exercising the rollback call into ResizeTable.
	stubOnPath(t, "resize2fs", 1)

	var calls []int64
	resizer := func(ctx context.Context, partition string, newSize int64) (int64, error) {
		calls = append(calls, newSize)
		return 100 << 20, nil // always report the original size as "previous"
	}
	engine, d := newTestEngine(t, resizer)
	key := model.VerdictKey{Operation: model.OpResize, Target: "dXsY", FS: "ext4", NewSize: 200 << 20}
	d.SubmitVerdict(okVerdict(key))

	_, err := resize.Resize(context.Background(), d, engine, "dXsY", "ext4", 200<<20, 100<<20, 200<<20, 50<<20)
	require.Error(t, err)
	require.Len(t, calls, 2, "table grow then rollback")
	assert.EqualValues(t, 200<<20, calls[0])
	assert.EqualValues(t, 100<<20, calls[1])
}
