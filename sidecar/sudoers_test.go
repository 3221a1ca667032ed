package sidecar_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/oxidisk/oxidisk/sidecar"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstallSudoersFragmentIsIdempotent(t *testing.T) {
	reg, err := sidecar.New()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "oxidisk")
	req := sidecar.SudoersRequest{Path: path, User: "oxidisk-helper", HelperPath: "/usr/libexec/oxidisk-helper"}

	require.NoError(t, sidecar.InstallSudoersFragment(reg, req))
	first, err := os.ReadFile(path)
	require.NoError(t, err)

	require.NoError(t, sidecar.InstallSudoersFragment(reg, req))
	second, err := os.ReadFile(path)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestInstallSudoersFragmentRejectsIncompleteRequest(t *testing.T) {
	reg, err := sidecar.New()
	require.NoError(t, err)

	err = sidecar.InstallSudoersFragment(reg, sidecar.SudoersRequest{Path: filepath.Join(t.TempDir(), "oxidisk")})
	require.Error(t, err)
}

func TestRemoveSudoersFragmentIsReversible(t *testing.T) {
	reg, err := sidecar.New()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "oxidisk")
	req := sidecar.SudoersRequest{Path: path, User: "oxidisk-helper", HelperPath: "/usr/libexec/oxidisk-helper"}
	require.NoError(t, sidecar.InstallSudoersFragment(reg, req))

	require.NoError(t, sidecar.RemoveSudoersFragment(path))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestRemoveSudoersFragmentOnAbsentFileIsNotAnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist")
	assert.NoError(t, sidecar.RemoveSudoersFragment(path))
}
