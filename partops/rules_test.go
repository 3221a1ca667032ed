package partops_test

import (
	"testing"

	"github.com/oxidisk/oxidisk/partops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadRules(t *testing.T) *partops.RuleSet {
	t.Helper()
	rs, err := partops.LoadRules()
	require.NoError(t, err)
	return rs
}

func TestFat32LabelTooLongRejected(t *testing.T) {
	rs := loadRules(t)
	err := rs.ValidateLabel("fat32", "too-long-label-here")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "label")
}

func TestFat32LabelLowercaseRejected(t *testing.T) {
	rs := loadRules(t)
	err := rs.ValidateLabel("fat32", "oxidisk")
	require.Error(t, err)
}

func TestFat32LabelValidAccepted(t *testing.T) {
	rs := loadRules(t)
	assert.NoError(t, rs.ValidateLabel("fat32", "OXI_DISK-1"))
}

func TestExfatLabelLongerAllowed(t *testing.T) {
	rs := loadRules(t)
	assert.NoError(t, rs.ValidateLabel("exfat", "a fifteen char!"))
}

func TestSwapRejectsAnyLabel(t *testing.T) {
	rs := loadRules(t)
	err := rs.ValidateLabel("swap", "x")
	require.Error(t, err)
}

func TestExt4UUIDAcceptsRFC4122OrLiteralRandom(t *testing.T) {
	rs := loadRules(t)
	assert.NoError(t, rs.ValidateUUID("ext4", "random"))
	assert.NoError(t, rs.ValidateUUID("ext4", "123e4567-e89b-12d3-a456-426614174000"))
	assert.Error(t, rs.ValidateUUID("ext4", "not-a-uuid"))
}

func TestApfsUUIDRequiresRFC4122(t *testing.T) {
	rs := loadRules(t)
	assert.Error(t, rs.ValidateUUID("apfs", "random"))
	assert.NoError(t, rs.ValidateUUID("apfs", "123e4567-e89b-12d3-a456-426614174000"))
}

func TestFat32UUIDAlwaysRejected(t *testing.T) {
	rs := loadRules(t)
	assert.Error(t, rs.ValidateUUID("fat32", "123e4567-e89b-12d3-a456-426614174000"))
}

func TestUnknownFilesystemRejected(t *testing.T) {
	rs := loadRules(t)
	assert.Error(t, rs.ValidateLabel("zfs", "x"))
}

func TestRelabelBinaryPerFilesystem(t *testing.T) {
	rs := loadRules(t)
	assert.Equal(t, "fatlabel", rs.RelabelBinary("fat32"))
	assert.Equal(t, "e2label", rs.RelabelBinary("ext4"))
	assert.Equal(t, "", rs.RelabelBinary("swap"))
}

func TestUUIDBinaryOnlyPresentWherePolicyAllowsIt(t *testing.T) {
	rs := loadRules(t)
	assert.Equal(t, "tune2fs", rs.UUIDBinary("ext4"))
	assert.Equal(t, "", rs.UUIDBinary("fat32"))
}
