// Package model defines the normalized, immutable value types the engine
// hands to its callers: device/partition topology snapshots, preflight
// verdicts, the operation journal record, and the progress/log event
// structs streamed to the UI.
package model

// ProtectionReason enumerates why a device or partition was classified as
// protected by the Device Inspector. Reasons are enumerated, not free text,
// per spec §4.B.
type ProtectionReason string

const (
	ProtectionNone             ProtectionReason = ""
	ProtectionBoot             ProtectionReason = "boot"
	ProtectionRecovery         ProtectionReason = "recovery"
	ProtectionPreboot          ProtectionReason = "preboot"
	ProtectionCurrentSystemVol ProtectionReason = "current-system-volume"
	ProtectionVM               ProtectionReason = "vm"
)

// ContentKind tags the scheme-level or container-level content of a device
// or partition, e.g. "gpt", "mbr", "apfs-container", "ext4", "exfat".
type ContentKind string

// Device is a physical or virtual block device, as discovered by a single
// topology scan. A Device value is never mutated in place;
// Inspector.ListDevices always returns a fresh snapshot.
type Device struct {
	Identifier       string
	TotalSize        int64
	Internal         bool
	Content          ContentKind
	ParentDevice     string // optional; empty if this is a top-level device
	IsProtected      bool
	ProtectionReason ProtectionReason
	Partitions       []Partition
	Unallocated      []UnallocatedSegment
}

// Partition is a single partition-table entry within a Device snapshot.
type Partition struct {
	Identifier       string
	Name             string
	Size             int64
	Offset           int64 // bytes from start of containing device
	Content          ContentKind
	FSType           string // optional; resolved filesystem family
	MountPoint       string // optional
	IsProtected      bool
	ProtectionReason ProtectionReason
}

// UnallocatedSegment is a synthetic gap between partitions (or between a
// partition and the ends of the device), used by the UI and by
// create_partition's allocation logic.
type UnallocatedSegment struct {
	Key    string
	Offset int64
	Size   int64
}

// Bounds gives the legal move range for a partition: the inclusive
// [MinStart, MaxStart] range derived from surrounding gaps, the containing
// device's size, and block-size alignment (spec §4.B / §8 "Bounds").
type Bounds struct {
	MinStart  int64
	MaxStart  int64
	Offset    int64
	Size      int64
	BlockSize int64
}
