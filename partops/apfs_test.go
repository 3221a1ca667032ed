package partops_test

import (
	"context"
	"testing"

	"github.com/oxidisk/oxidisk/model"
	"github.com/oxidisk/oxidisk/oxierr"
	"github.com/oxidisk/oxidisk/partops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPFSSource struct {
	volumes []model.Volume
	err     error
}

func (f fakeAPFSSource) ListVolumes(ctx context.Context, container string) ([]model.Volume, error) {
	return f.volumes, f.err
}

func TestListVolumesPassesThrough(t *testing.T) {
	src := fakeAPFSSource{volumes: []model.Volume{{Identifier: "disk2s1", Name: "Data"}}}
	volumes, err := partops.ListVolumes(context.Background(), src, "disk2")
	require.NoError(t, err)
	require.Len(t, volumes, 1)
	assert.Equal(t, "disk2s1", volumes[0].Identifier)
}

func TestDeleteVolumeRefusesProtectedRole(t *testing.T) {
	engine, d := newEngine(t)
	volume := model.Volume{Identifier: "disk2s1", Roles: []model.VolumeRole{model.RoleSystem}}

	_, err := partops.DeleteVolume(context.Background(), d, engine, volume)
	require.Error(t, err)
	assert.ErrorIs(t, err, oxierr.ErrProtected)
}

func TestDeleteVolumeWithNoProtectedRoleProceedsToDispatch(t *testing.T) {
	engine, d := newEngine(t)
	volume := model.Volume{Identifier: "disk2s2", Roles: []model.VolumeRole{model.RoleData}}
	key := model.VerdictKey{Operation: model.OpAPFSDeleteVolume, Target: "disk2s2"}
	d.SubmitVerdict(okVerdict(key))

	// apfs-util is not installed in the sandbox: this confirms the
	// protection check is bypassed and the failure now comes from the
	// sidecar layer instead.
	_, err := partops.DeleteVolume(context.Background(), d, engine, volume)
	require.Error(t, err)
	assert.NotErrorIs(t, err, oxierr.ErrProtected)
}
