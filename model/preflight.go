package model

import "fmt"

// Operation names the requested mutation a preflight verdict or dispatch
// applies to. These correspond to the command surface in spec §6.
type Operation string

const (
	OpWipe            Operation = "wipe"
	OpCreateTable     Operation = "create-table"
	OpCreate          Operation = "create"
	OpDelete          Operation = "delete"
	OpFormat          Operation = "format"
	OpResize          Operation = "resize"
	OpMove            Operation = "move"
	OpCopy            Operation = "copy"
	OpFlash           Operation = "flash"
	OpBackup          Operation = "backup"
	OpWindowsInstall  Operation = "windows-install"
	OpSetLabelUUID    Operation = "set-label-uuid"
	OpCheck           Operation = "check"
	OpMount           Operation = "mount"
	OpUnmount         Operation = "unmount"
	OpEject           Operation = "eject"
	OpAPFSAddVolume   Operation = "apfs-add-volume"
	OpAPFSDeleteVolume Operation = "apfs-delete-volume"
)

// destructiveOps is the subset of [Operation] values that mutate a target
// and are therefore refused outright against a protected target (spec
// §4.C step 1).
var destructiveOps = map[Operation]bool{
	OpWipe:             true,
	OpCreateTable:      true,
	OpCreate:           true,
	OpDelete:           true,
	OpFormat:           true,
	OpResize:           true,
	OpMove:             true,
	OpFlash:            true,
	OpWindowsInstall:   true,
	OpAPFSDeleteVolume: true,
}

// IsDestructive reports whether op can cause data loss and must therefore
// be blocked against a protected target.
func (op Operation) IsDestructive() bool {
	return destructiveOps[op]
}

// BusyProcess names a process that has the preflight target's filesystem
// open.
type BusyProcess struct {
	PID     int
	Command string
}

// BatterySnapshot captures the host's power state at preflight time.
type BatterySnapshot struct {
	IsLaptop bool
	OnAC     bool
	Percent  int // only meaningful when IsLaptop is true; -1 if unknown
}

// SidecarStatus reports whether a single required binary was found.
type SidecarStatus struct {
	Name    string
	Found   bool
	Path    string
	Version string
}

// FSCheckResult is the outcome of a read-only filesystem consistency check
// run as part of preflight for resize/move (spec §4.C step 5).
type FSCheckResult struct {
	OK     bool
	Output string
}

// VerdictKey identifies the exact request a [Verdict] was computed for.
// Only a verdict whose key matches the dispatch request unlocks execution
// (spec §3 "Preflight verdict").
type VerdictKey struct {
	Operation Operation
	Target    string
	FS        string // optional
	NewSize   int64  // optional; 0 if not applicable
}

func (k VerdictKey) String() string {
	return fmt.Sprintf("%s:%s:%s:%d", k.Operation, k.Target, k.FS, k.NewSize)
}

// Verdict is the pass/warn/block result of running preflight for a given
// [VerdictKey]. Invariant: OK is true if and only if Blockers is empty.
type Verdict struct {
	Key            VerdictKey
	OK             bool
	Blockers       []string
	Warnings       []string
	BusyProcesses  []BusyProcess
	Battery        BatterySnapshot
	Sidecars       []SidecarStatus
	FSCheck        *FSCheckResult // nil if not applicable to this operation
}

// Finalize derives OK from Blockers, enforcing the invariant
// "ok ⇔ blockers = ∅" regardless of how the verdict was assembled.
func (v *Verdict) Finalize() {
	v.OK = len(v.Blockers) == 0
}
