package model

// VolumeRole is a tag applied to a logical volume inside a container
// (e.g. an APFS container). Roles intersecting [ProtectedVolumeRoles] make
// the volume read-only to the engine, per spec §3.
type VolumeRole string

const (
	RoleSystem   VolumeRole = "System"
	RoleData     VolumeRole = "Data"
	RolePreboot  VolumeRole = "Preboot"
	RoleRecovery VolumeRole = "Recovery"
	RoleVM       VolumeRole = "VM"
	RoleNone     VolumeRole = "None"
)

// ProtectedVolumeRoles is the configured set of roles that make a volume
// read-only to the engine regardless of caller intent.
var ProtectedVolumeRoles = map[VolumeRole]bool{
	RoleSystem:   true,
	RolePreboot:  true,
	RoleRecovery: true,
}

// Volume is a child of a [Container].
type Volume struct {
	Identifier string
	Name       string
	Roles      []VolumeRole
	Size       int64
	Used       int64
	MountPoint string // optional
}

// IsProtected reports whether any of the volume's roles fall in the
// protected set.
func (v Volume) IsProtected() bool {
	for _, role := range v.Roles {
		if ProtectedVolumeRoles[role] {
			return true
		}
	}
	return false
}

// Container describes a device whose content is a logical, copy-on-write
// container (e.g. an APFS container) rather than a plain partition scheme.
type Container struct {
	DeviceIdentifier string
	Capacity         int64
	Free             int64
	Used             int64
	Volumes          []Volume
}
