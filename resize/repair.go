package resize

import (
	"context"
	"fmt"

	"github.com/oxidisk/oxidisk/dispatch"
	"github.com/oxidisk/oxidisk/model"
	"github.com/oxidisk/oxidisk/oxierr"
)

// RepairOutcome reports which of spec §4.H step 5's two repair paths
// [ResumeInterruptedMove] took.
type RepairOutcome string

const (
	// RepairResumed means the copy direction implied by the journal record
	// was still valid and the move was re-run from last_copied to
	// completion.
	RepairResumed RepairOutcome = "resumed"
	// RepairNeedsFilesystemCheck means the journal could not be trusted to
	// resume safely; the caller must run a filesystem repair on the
	// partition (spec's scenario 3: "check_partition(repair=true)") and is
	// responsible for clearing the journal once that succeeds.
	RepairNeedsFilesystemCheck RepairOutcome = "needs-filesystem-check"
)

// ResumeInterruptedMove implements spec §4.H step 5's repair path: if the
// journal record's direction is still consistent with record.SrcOffset/
// DstOffset (it always is for a move, since those never change mid-op),
// the copy is rerun starting at record.LastCopied through to completion
// and the table is repointed exactly as [Move] would. If the device
// cannot be opened or the record looks inconsistent, the caller must fall
// back to a full filesystem check instead.
func ResumeInterruptedMove(ctx context.Context, d *dispatch.Dispatcher, record model.JournalRecord, dev BlockDevice, bounds model.Bounds, repoint TableRepointer) (RepairOutcome, model.Result, error) {
	if record.Size <= 0 || record.LastCopied < 0 || record.LastCopied > record.Size {
		return RepairNeedsFilesystemCheck, model.Result{}, nil
	}

	remaining := record.Size - record.LastCopied
	if remaining == 0 {
		// Every block landed before the crash; only the table repoint might
		// not have happened. Re-run it -- it is safe to repeat.
		if err := repoint(ctx, record.Device, record.DstOffset); err != nil {
			return RepairNeedsFilesystemCheck, model.Result{}, oxierr.Corrupted(
				fmt.Sprintf("resume repoint for %s failed: %s", record.Device, err),
			)
		}
		return RepairResumed, model.Result{OK: true}, nil
	}

	result, err := Move(ctx, d, MoveRequest{
		Partition:  record.Device,
		Disk:       record.Disk,
		Device:     dev,
		SrcOffset:  record.SrcOffset,
		DstOffset:  record.DstOffset,
		Size:       record.Size,
		BlockSize:  record.BlockSize,
		ResumeFrom: record.LastCopied,
		Bounds:     bounds,
		Repoint:    repoint,
	})
	if err != nil {
		return RepairNeedsFilesystemCheck, model.Result{}, err
	}
	return RepairResumed, result, nil
}
