package sidecar_test

import (
	"testing"

	"github.com/oxidisk/oxidisk/sidecar"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoadsEmbeddedCatalog(t *testing.T) {
	reg, err := sidecar.New()
	require.NoError(t, err)

	all := reg.StatusAll()
	assert.NotEmpty(t, all)

	_, ok := reg.Entry("mkfs.vfat")
	assert.True(t, ok, "mkfs.vfat should be in the catalog")
}

func TestResolveMissingBinaryIsNotFatal(t *testing.T) {
	reg, err := sidecar.New()
	require.NoError(t, err)

	status := reg.Resolve("definitely-not-a-real-binary-xyz")
	assert.False(t, status.Found)
}

func TestRequireReturnsMissingSidecarForUnknownName(t *testing.T) {
	reg, err := sidecar.New()
	require.NoError(t, err)

	rerr := reg.Require("definitely-not-a-real-binary-xyz")
	require.Error(t, rerr)
}

func TestResolveIsCachedPerProcess(t *testing.T) {
	reg, err := sidecar.New()
	require.NoError(t, err)

	first := reg.Resolve("mkfs.vfat")
	second := reg.Resolve("mkfs.vfat")
	assert.Equal(t, first, second)
}

func TestParserWiredForMkfsFsckResizeFamilies(t *testing.T) {
	reg, err := sidecar.New()
	require.NoError(t, err)

	assert.NotNil(t, reg.Parser("mkfs.vfat"))
	assert.NotNil(t, reg.Parser("fsck.vfat"))
	assert.NotNil(t, reg.Parser("resize2fs"))
}

func TestParserNilForTableAndMountFamilies(t *testing.T) {
	reg, err := sidecar.New()
	require.NoError(t, err)

	assert.Nil(t, reg.Parser("sgdisk"))
	assert.Nil(t, reg.Parser("mount"))
	assert.Nil(t, reg.Parser("fatlabel"))
}
