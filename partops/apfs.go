package partops

import (
	"context"
	"fmt"

	"github.com/oxidisk/oxidisk/bus"
	"github.com/oxidisk/oxidisk/dispatch"
	"github.com/oxidisk/oxidisk/model"
	"github.com/oxidisk/oxidisk/oxierr"
	"github.com/oxidisk/oxidisk/sidecar"
)

// APFSSource reports the current volume listing of an APFS container.
// Production wiring backs it with `diskutil apfs list`-style output
// parsing; tests substitute a fixture.
type APFSSource interface {
	ListVolumes(ctx context.Context, container string) ([]model.Volume, error)
}

// ListVolumes implements spec §4.G APFS manager `list_volumes`. Read-only;
// bypasses the Dispatcher like the rest of the inspection surface.
func ListVolumes(ctx context.Context, src APFSSource, container string) ([]model.Volume, error) {
	volumes, err := src.ListVolumes(ctx, container)
	if err != nil {
		return nil, oxierr.ErrIO.Wrap(err)
	}
	return volumes, nil
}

// AddVolume implements spec §4.G APFS manager `add_volume`.
func AddVolume(ctx context.Context, d *dispatch.Dispatcher, e *Engine, container, name string, role model.VolumeRole) (model.Result, error) {
	key := model.VerdictKey{Operation: model.OpAPFSAddVolume, Target: container}
	return d.Execute(ctx, dispatch.ExecuteRequest{
		Key: key,
		Run: func(ctx context.Context, b *bus.Bus, checkpoint func(int64)) (model.Result, error) {
			_, rerr := sidecar.Run(ctx, sidecar.RunRequest{
				Binary: resolve(e, "apfs-util"),
				Args:   []string{"apfs", "addVolume", container, "apfs", name},
				Source: "apfs-util",
				Parser: e.Registry.Parser("apfs-util"),
				Bus:    b,
			})
			if rerr != nil {
				return model.Result{}, rerr
			}
			return model.Result{OK: true}, nil
		},
	})
}

// DeleteVolume implements spec §4.G APFS manager `delete_volume`: refuses
// deletion of any volume with a protected role (spec §3, [model.Volume.IsProtected]).
func DeleteVolume(ctx context.Context, d *dispatch.Dispatcher, e *Engine, volume model.Volume) (model.Result, error) {
	if volume.IsProtected() {
		return model.Result{}, oxierr.Protected(fmt.Sprintf("volume %s has a protected role", volume.Identifier))
	}

	key := model.VerdictKey{Operation: model.OpAPFSDeleteVolume, Target: volume.Identifier}
	return d.Execute(ctx, dispatch.ExecuteRequest{
		Key: key,
		Run: func(ctx context.Context, b *bus.Bus, checkpoint func(int64)) (model.Result, error) {
			_, rerr := sidecar.Run(ctx, sidecar.RunRequest{
				Binary: resolve(e, "apfs-util"),
				Args:   []string{"apfs", "deleteVolume", volume.Identifier},
				Source: "apfs-util",
				Parser: e.Registry.Parser("apfs-util"),
				Bus:    b,
			})
			if rerr != nil {
				return model.Result{}, rerr
			}
			return model.Result{OK: true}, nil
		},
	})
}
