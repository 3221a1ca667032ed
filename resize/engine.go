package resize

import (
	"context"
	"fmt"

	"github.com/oxidisk/oxidisk/bus"
	"github.com/oxidisk/oxidisk/dispatch"
	"github.com/oxidisk/oxidisk/inspector"
	"github.com/oxidisk/oxidisk/model"
	"github.com/oxidisk/oxidisk/oxierr"
	"github.com/oxidisk/oxidisk/sidecar"
	"k8s.io/klog/v2"
)

// TableResizer rewrites a single partition-table entry's size, returning
// the size it replaced so a failed second sub-step can be rolled back.
// Production wiring backs this with the same sgdisk plumbing partops uses
// for create/delete; it is injected here so this package never imports
// partops (resize is its own component, spec §4.H).
type TableResizer func(ctx context.Context, partition string, newSize int64) (previousSize int64, err error)

// fsResizer invokes binary against partition to resize its filesystem to
// newSize. Swapped out in tests so the shrink/grow rollback logic can be
// exercised without a real resize2fs/ntfsresize on the test machine.
type fsResizer func(ctx context.Context, b *bus.Bus, binary, partition string, newSize int64) oxierr.DriverError

// sidecarResizeFSWith returns a fsResizer that runs binary by its catalog
// name and looks up its LineParser in registry, so the invocation gets the
// "resize" family's percent-progress LineParser instead of running blind.
func sidecarResizeFSWith(registry *sidecar.Registry) fsResizer {
	return func(ctx context.Context, b *bus.Bus, binary, partition string, newSize int64) oxierr.DriverError {
		_, rerr := sidecar.Run(ctx, sidecar.RunRequest{
			Binary: binary,
			Args:   []string{partition, fmt.Sprintf("%d", newSize)},
			Source: binary,
			Parser: registry.Parser(binary),
			Bus:    b,
		})
		if rerr != nil {
			klog.V(2).Infof("resize: %s failed on %s: %s", binary, partition, rerr)
		}
		return rerr
	}
}

// Engine bundles the Resize/Move Engine's dependencies.
type Engine struct {
	Registry    *sidecar.Registry
	Rules       *RuleSet
	Inspector   *inspector.Inspector
	ResizeTable TableResizer

	resizeFS fsResizer
}

// New builds an Engine.
func New(registry *sidecar.Registry, rules *RuleSet, insp *inspector.Inspector, resizeTable TableResizer) *Engine {
	return &Engine{Registry: registry, Rules: rules, Inspector: insp, ResizeTable: resizeTable, resizeFS: sidecarResizeFSWith(registry)}
}

// Resize implements spec §4.H `resize`: validates newSize within
// [currentFSMin, current+freeAfter], aligns to 1 MiB, and dispatches to
// the shrink or grow path depending on direction.
func Resize(ctx context.Context, d *dispatch.Dispatcher, e *Engine, partition, fs string, newSize, currentSize, freeAfter, currentFSMin int64) (model.Result, error) {
	lower := currentFSMin
	upper := currentSize + freeAfter
	if newSize < lower || newSize > upper {
		return model.Result{}, oxierr.InvalidInput("size", fmt.Sprintf("must be in [%d, %d]", lower, upper))
	}
	aligned := inspector.AlignDown(newSize)

	binary := e.Rules.ResizeBinary(fs)
	if binary == "" {
		return model.Result{}, oxierr.Unsupported(fmt.Sprintf("resize not supported for filesystem %q", fs))
	}
	if err := e.Registry.Require(binary); err != nil {
		return model.Result{}, err
	}

	key := model.VerdictKey{Operation: model.OpResize, Target: partition, FS: fs, NewSize: aligned}
	return d.Execute(ctx, dispatch.ExecuteRequest{
		Key: key,
		Run: func(ctx context.Context, b *bus.Bus, checkpoint func(int64)) (model.Result, error) {
			if aligned < currentSize {
				return shrink(ctx, e, b, partition, fs, binary, aligned)
			}
			return grow(ctx, e, b, partition, fs, binary, aligned)
		},
	})
}

// shrink implements spec §4.H's ordering for the shrinking path:
// filesystem first, then the partition-table entry. If the table rewrite
// fails after the filesystem has already been shrunk, the failure is
// returned as Corrupted; the table entry is not rewritten again, and the
// filesystem stays at its new (smaller) size.
func shrink(ctx context.Context, e *Engine, b *bus.Bus, partition, fs, binary string, newSize int64) (model.Result, error) {
	if err := e.resizeFS(ctx, b, binary, partition, newSize); err != nil {
		return model.Result{}, err
	}
	if _, err := e.ResizeTable(ctx, partition, newSize); err != nil {
		return model.Result{}, oxierr.Corrupted(
			fmt.Sprintf("filesystem on %s shrunk to %d but partition table entry rewrite failed: %s", partition, newSize, err),
		)
	}
	return model.Result{OK: true}, nil
}

// grow implements spec §4.H's ordering for the growing path: the
// partition-table entry first, then the filesystem. If the filesystem
// grow fails after the table entry has already grown, the table entry is
// restored to its previous size so the partition never claims more space
// than its filesystem actually uses.
func grow(ctx context.Context, e *Engine, b *bus.Bus, partition, fs, binary string, newSize int64) (model.Result, error) {
	previousSize, err := e.ResizeTable(ctx, partition, newSize)
	if err != nil {
		return model.Result{}, err
	}
	if err := e.resizeFS(ctx, b, binary, partition, newSize); err != nil {
		if _, rollbackErr := e.ResizeTable(ctx, partition, previousSize); rollbackErr != nil {
			return model.Result{}, oxierr.Corrupted(
				fmt.Sprintf("partition table entry for %s grown to %d but filesystem grow failed (%s), and rollback to %d also failed: %s",
					partition, newSize, err, previousSize, rollbackErr),
			)
		}
		return model.Result{}, err
	}
	return model.Result{OK: true}, nil
}
