package partops

import (
	"context"
	"fmt"

	"github.com/oxidisk/oxidisk/bus"
	"github.com/oxidisk/oxidisk/dispatch"
	"github.com/oxidisk/oxidisk/inspector"
	"github.com/oxidisk/oxidisk/model"
	"github.com/oxidisk/oxidisk/oxierr"
	"github.com/oxidisk/oxidisk/sidecar"
)

// Engine bundles the Partition Operations component's dependencies: the
// Sidecar Registry for locating the native table/mkfs/fsck binaries, the
// label/UUID policy table, and the Device Inspector for gap/bounds queries
// (spec §4.G).
type Engine struct {
	Registry  *sidecar.Registry
	Rules     *RuleSet
	Inspector *inspector.Inspector
}

// New builds an Engine.
func New(registry *sidecar.Registry, rules *RuleSet, insp *inspector.Inspector) *Engine {
	return &Engine{Registry: registry, Rules: rules, Inspector: insp}
}

// tableSidecar returns the catalog name of the native partition-table
// maker to use for table scheme "gpt" or "mbr".
func tableSidecar(table string) string {
	switch table {
	case "mbr":
		return "parted"
	default:
		return "sgdisk"
	}
}

// WipeDevice implements spec §4.G `wipe_device`: a fresh partition table,
// one spanning partition, a format, and (optionally) a mount. Preflight
// freshness, protection, and the serial lock are all enforced by
// d.Execute; this function only validates fs/label and assembles the
// sidecar pipeline.
func WipeDevice(ctx context.Context, d *dispatch.Dispatcher, e *Engine, device, table, fs, label string) (model.Result, error) {
	if err := e.Rules.ValidateLabel(fs, label); err != nil {
		return model.Result{}, err
	}

	key := model.VerdictKey{Operation: model.OpWipe, Target: device}
	return d.Execute(ctx, dispatch.ExecuteRequest{
		Key: key,
		Run: func(ctx context.Context, b *bus.Bus, checkpoint func(int64)) (model.Result, error) {
			if err := runTableMaker(ctx, e, b, device, table); err != nil {
				return model.Result{}, err
			}
			partitionID := device + "1"
			if err := runMkfs(ctx, e, b, fs, partitionID, label); err != nil {
				return model.Result{}, err
			}
			return model.Result{OK: true}, nil
		},
	})
}

// CreatePartitionTable implements spec §4.G `create_partition_table`:
// destroys all existing content and rewrites the scheme.
func CreatePartitionTable(ctx context.Context, d *dispatch.Dispatcher, e *Engine, device, table string) (model.Result, error) {
	key := model.VerdictKey{Operation: model.OpCreateTable, Target: device}
	return d.Execute(ctx, dispatch.ExecuteRequest{
		Key: key,
		Run: func(ctx context.Context, b *bus.Bus, checkpoint func(int64)) (model.Result, error) {
			if err := runTableMaker(ctx, e, b, device, table); err != nil {
				return model.Result{}, err
			}
			return model.Result{OK: true}, nil
		},
	})
}

// CreatePartition implements spec §4.G `create_partition`: allocates from
// the largest free gap aligned to 1 MiB and rejects size > free.
func CreatePartition(ctx context.Context, d *dispatch.Dispatcher, e *Engine, device, fs, label string, size int64) (model.Result, error) {
	if err := e.Rules.ValidateLabel(fs, label); err != nil {
		return model.Result{}, err
	}
	if size <= 0 {
		return model.Result{}, oxierr.InvalidInput("size", "must be positive")
	}

	key := model.VerdictKey{Operation: model.OpCreate, Target: device, FS: fs, NewSize: size}
	return d.Execute(ctx, dispatch.ExecuteRequest{
		Key: key,
		Run: func(ctx context.Context, b *bus.Bus, checkpoint func(int64)) (model.Result, error) {
			devices, err := e.Inspector.ListDevices(ctx, true)
			if err != nil {
				return model.Result{}, err
			}
			gap, found := largestGapFor(devices, device)
			if !found {
				return model.Result{}, oxierr.InvalidInput("size", "no free space on device")
			}
			aligned := inspector.AlignDown(size)
			if size > gap.Size {
				return model.Result{}, oxierr.InvalidInput("size", fmt.Sprintf("%d exceeds largest free gap %d", size, gap.Size))
			}

			partitionID := fmt.Sprintf("%s%d", device, nextPartitionIndex(devices, device))
			if err := runPartitionAdd(ctx, e, b, device, gap.Offset, aligned); err != nil {
				return model.Result{}, err
			}
			if err := runMkfs(ctx, e, b, fs, partitionID, label); err != nil {
				return model.Result{}, err
			}
			return model.Result{OK: true}, nil
		},
	})
}

// DeletePartition implements spec §4.G `delete_partition`: removes the
// partition and warns if sibling partitions on the same device are
// mounted.
func DeletePartition(ctx context.Context, d *dispatch.Dispatcher, e *Engine, partition string) (model.Result, error) {
	key := model.VerdictKey{Operation: model.OpDelete, Target: partition}
	return d.Execute(ctx, dispatch.ExecuteRequest{
		Key: key,
		Run: func(ctx context.Context, b *bus.Bus, checkpoint func(int64)) (model.Result, error) {
			if err := e.Registry.Require("sgdisk"); err != nil {
				return model.Result{}, err
			}
			warnings := mountedSiblingWarnings(ctx, e.Inspector, partition)

			result, rerr := sidecar.Run(ctx, sidecar.RunRequest{
				Binary: resolve(e, "sgdisk"),
				Args:   []string{"--delete=" + partitionIndex(partition), rootDevice(partition)},
				Source: "sgdisk",
				Parser: e.Registry.Parser("sgdisk"),
				Bus:    b,
			})
			_ = result
			if rerr != nil {
				return model.Result{}, rerr
			}
			return model.Result{OK: true, Warnings: warnings}, nil
		},
	})
}

// FormatPartition implements spec §4.G `format_partition`: unmount,
// format, remount if natively mountable.
func FormatPartition(ctx context.Context, d *dispatch.Dispatcher, e *Engine, partition, fs, label string) (model.Result, error) {
	if err := e.Rules.ValidateLabel(fs, label); err != nil {
		return model.Result{}, err
	}

	key := model.VerdictKey{Operation: model.OpFormat, Target: partition, FS: fs}
	return d.Execute(ctx, dispatch.ExecuteRequest{
		Key: key,
		Run: func(ctx context.Context, b *bus.Bus, checkpoint func(int64)) (model.Result, error) {
			_, _ = sidecar.Run(ctx, sidecar.RunRequest{
				Binary: resolve(e, "umount"),
				Args:   []string{partition},
				Source: "umount",
				Parser: e.Registry.Parser("umount"),
				Bus:    b,
			})

			if err := runMkfs(ctx, e, b, fs, partition, label); err != nil {
				return model.Result{}, err
			}

			if isNativelyMountable(fs) {
				_, _ = sidecar.Run(ctx, sidecar.RunRequest{
					Binary: resolve(e, "mount"),
					Args:   []string{partition},
					Source: "mount",
					Parser: e.Registry.Parser("mount"),
					Bus:    b,
				})
			}
			return model.Result{OK: true}, nil
		},
	})
}

// SetLabelUUID implements spec §4.G `set_label_uuid`: relabels and/or
// re-tags an already-formatted partition in place, without the
// unmount/mkfs/remount cycle `format_partition` goes through. label and
// uuid are independently optional; passing both empty is a no-op that
// still takes the serial lock so it cannot race a concurrent format.
func SetLabelUUID(ctx context.Context, d *dispatch.Dispatcher, e *Engine, partition, fs, label, uuid string) (model.Result, error) {
	if err := e.Rules.ValidateLabel(fs, label); err != nil {
		return model.Result{}, err
	}
	if err := e.Rules.ValidateUUID(fs, uuid); err != nil {
		return model.Result{}, err
	}

	key := model.VerdictKey{Operation: model.OpSetLabelUUID, Target: partition, FS: fs}
	return d.Execute(ctx, dispatch.ExecuteRequest{
		Key: key,
		Run: func(ctx context.Context, b *bus.Bus, checkpoint func(int64)) (model.Result, error) {
			if label != "" {
				if err := runRelabel(ctx, e, b, fs, partition, label); err != nil {
					return model.Result{}, err
				}
			}
			if uuid != "" {
				if err := runSetUUID(ctx, e, b, fs, partition, uuid); err != nil {
					return model.Result{}, err
				}
			}
			return model.Result{OK: true}, nil
		},
	})
}

// CheckPartition implements spec §4.G `check_partition`: runs `fsck.*`;
// repair mode is opt-in. Check is read-only by default and therefore does
// not go through the Dispatcher's serial lock unless repair is requested
// (repair mutates the filesystem and must be serialized against other
// destructive ops).
func CheckPartition(ctx context.Context, d *dispatch.Dispatcher, e *Engine, b *bus.Bus, partition, fs string, repair bool) (model.FSCheckResult, error) {
	binary := e.Rules.FsckBinary(fs)
	if binary == "" {
		return model.FSCheckResult{}, oxierr.Unsupported(fmt.Sprintf("no checker for filesystem %q", fs))
	}
	if err := e.Registry.Require(binary); err != nil {
		return model.FSCheckResult{}, err
	}

	run := func(ctx context.Context, b *bus.Bus, checkpoint func(int64)) (model.Result, error) {
		args := []string{partition}
		if repair {
			args = append([]string{"--repair"}, args...)
		}
		result, rerr := sidecar.Run(ctx, sidecar.RunRequest{
			Binary: e.Registry.Resolve(binary).Path,
			Args:   args,
			Source: binary,
			Parser: e.Registry.Parser(binary),
			Bus:    b,
		})
		if rerr != nil && result.ExitCode != 1 {
			// fsck tools conventionally use exit 1 for "errors corrected";
			// only other nonzero codes are true subprocess failures.
			return model.Result{}, rerr
		}
		return model.Result{OK: true}, nil
	}

	if !repair {
		res, err := run(ctx, b, nil)
		if err != nil {
			return model.FSCheckResult{}, err
		}
		return model.FSCheckResult{OK: res.OK}, nil
	}

	key := model.VerdictKey{Operation: model.OpCheck, Target: partition, FS: fs}
	res, err := d.Execute(ctx, dispatch.ExecuteRequest{Key: key, Run: run})
	if err != nil {
		return model.FSCheckResult{}, err
	}
	return model.FSCheckResult{OK: res.OK}, nil
}

func isNativelyMountable(fs string) bool {
	switch fs {
	case "swap":
		return false
	default:
		return true
	}
}

func resolve(e *Engine, name string) string {
	status := e.Registry.Resolve(name)
	if status.Found {
		return status.Path
	}
	return name
}

func runTableMaker(ctx context.Context, e *Engine, b *bus.Bus, device, table string) oxierr.DriverError {
	binary := tableSidecar(table)
	if err := e.Registry.Require(binary); err != nil {
		return err
	}
	var args []string
	if table == "mbr" {
		args = []string{"--script", device, "mklabel", "msdos"}
	} else {
		args = []string{"--zap-all", device}
	}
	_, rerr := sidecar.Run(ctx, sidecar.RunRequest{
		Binary: e.Registry.Resolve(binary).Path,
		Args:   args,
		Source: binary,
		Parser: e.Registry.Parser(binary),
		Bus:    b,
	})
	return rerr
}

func runPartitionAdd(ctx context.Context, e *Engine, b *bus.Bus, device string, offset, size int64) oxierr.DriverError {
	binary := "sgdisk"
	if err := e.Registry.Require(binary); err != nil {
		return err
	}
	args := []string{
		fmt.Sprintf("--new=0:%d:+%d", offset/512, size/512),
		device,
	}
	_, rerr := sidecar.Run(ctx, sidecar.RunRequest{
		Binary: e.Registry.Resolve(binary).Path,
		Args:   args,
		Source: binary,
		Parser: e.Registry.Parser(binary),
		Bus:    b,
	})
	return rerr
}

func runMkfs(ctx context.Context, e *Engine, b *bus.Bus, fs, partition, label string) oxierr.DriverError {
	binary := e.Rules.MkfsBinary(fs)
	if binary == "" {
		return oxierr.Unsupported(fmt.Sprintf("no formatter for filesystem %q", fs))
	}
	if err := e.Registry.Require(binary); err != nil {
		return err
	}
	args := mkfsArgs(fs, partition, label)
	_, rerr := sidecar.Run(ctx, sidecar.RunRequest{
		Binary: e.Registry.Resolve(binary).Path,
		Args:   args,
		Source: binary,
		Parser: e.Registry.Parser(binary),
		Bus:    b,
	})
	return rerr
}

func mkfsArgs(fs, partition, label string) []string {
	switch fs {
	case "fat32":
		if label != "" {
			return []string{"-n", label, partition}
		}
		return []string{partition}
	case "exfat":
		if label != "" {
			return []string{"-n", label, partition}
		}
		return []string{partition}
	case "ntfs":
		if label != "" {
			return []string{"-L", label, partition}
		}
		return []string{partition}
	case "ext4":
		if label != "" {
			return []string{"-L", label, partition}
		}
		return []string{partition}
	case "swap":
		if label != "" {
			return []string{"-L", label, partition}
		}
		return []string{partition}
	default:
		return []string{partition}
	}
}

func runRelabel(ctx context.Context, e *Engine, b *bus.Bus, fs, partition, label string) oxierr.DriverError {
	binary := e.Rules.RelabelBinary(fs)
	if binary == "" {
		return oxierr.Unsupported(fmt.Sprintf("%s does not support relabeling", fs))
	}
	if err := e.Registry.Require(binary); err != nil {
		return err
	}
	_, rerr := sidecar.Run(ctx, sidecar.RunRequest{
		Binary: e.Registry.Resolve(binary).Path,
		Args:   relabelArgs(fs, partition, label),
		Source: binary,
		Parser: e.Registry.Parser(binary),
		Bus:    b,
	})
	return rerr
}

func relabelArgs(fs, partition, label string) []string {
	switch fs {
	case "fat32", "ntfs", "ext4":
		return []string{partition, label}
	case "exfat":
		return []string{partition, "-n", label}
	case "apfs":
		return []string{"renameVolume", partition, label}
	default:
		return []string{partition, label}
	}
}

func runSetUUID(ctx context.Context, e *Engine, b *bus.Bus, fs, partition, uuid string) oxierr.DriverError {
	binary := e.Rules.UUIDBinary(fs)
	if binary == "" {
		return oxierr.Unsupported(fmt.Sprintf("%s does not support a caller-supplied uuid", fs))
	}
	if err := e.Registry.Require(binary); err != nil {
		return err
	}
	_, rerr := sidecar.Run(ctx, sidecar.RunRequest{
		Binary: e.Registry.Resolve(binary).Path,
		Args:   uuidArgs(fs, partition, uuid),
		Source: binary,
		Parser: e.Registry.Parser(binary),
		Bus:    b,
	})
	return rerr
}

func uuidArgs(fs, partition, uuid string) []string {
	switch fs {
	case "apfs":
		return []string{"setVolumeUUID", partition, uuid}
	default: // ext4: tune2fs -U <uuid> <device>
		return []string{"-U", uuid, partition}
	}
}

func largestGapFor(devices []model.Device, device string) (model.UnallocatedSegment, bool) {
	for _, d := range devices {
		if d.Identifier != device {
			continue
		}
		var best model.UnallocatedSegment
		found := false
		for _, gap := range d.Unallocated {
			if !found || gap.Size > best.Size {
				best, found = gap, true
			}
		}
		return best, found
	}
	return model.UnallocatedSegment{}, false
}

func nextPartitionIndex(devices []model.Device, device string) int {
	for _, d := range devices {
		if d.Identifier != device {
			continue
		}
		return len(d.Partitions) + 1
	}
	return 1
}

func mountedSiblingWarnings(ctx context.Context, insp *inspector.Inspector, partition string) []string {
	devices, err := insp.ListDevices(ctx, true)
	if err != nil {
		return nil
	}
	device := rootDevice(partition)
	var warnings []string
	for _, d := range devices {
		if d.Identifier != device {
			continue
		}
		for _, p := range d.Partitions {
			if p.Identifier != partition && p.MountPoint != "" {
				warnings = append(warnings, fmt.Sprintf("sibling partition %s is mounted at %s", p.Identifier, p.MountPoint))
			}
		}
	}
	return warnings
}

// partitionIndex and rootDevice extract the numeric suffix / parent device
// name from a partition identifier of the form "<device><N>" (e.g.
// "sda2" -> "2", "sda"). It assumes the identifier follows that
// convention, which every [inspector.Source] implementation guarantees.
func partitionIndex(partition string) string {
	i := len(partition)
	for i > 0 && partition[i-1] >= '0' && partition[i-1] <= '9' {
		i--
	}
	return partition[i:]
}

func rootDevice(partition string) string {
	i := len(partition)
	for i > 0 && partition[i-1] >= '0' && partition[i-1] <= '9' {
		i--
	}
	return partition[:i]
}
