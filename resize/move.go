package resize

import (
	"context"
	"fmt"
	"io"

	"github.com/oxidisk/oxidisk/bus"
	"github.com/oxidisk/oxidisk/dispatch"
	"github.com/oxidisk/oxidisk/model"
	"github.com/oxidisk/oxidisk/oxierr"
)

// defaultMoveBlockSize is the copy granularity from spec §4.H (4 MiB,
// "default 4 MiB, multiple of block_size").
const defaultMoveBlockSize = 4 << 20

// BlockDevice is the minimal byte-addressable surface Move needs: a disk
// opened with concurrent-safe offset reads/writes. A real block device
// (*os.File) satisfies this natively; tests back it with an in-memory
// fake.
type BlockDevice interface {
	io.ReaderAt
	io.WriterAt
}

// TableRepointer updates the partition-table entry for partition to point
// at newOffset, the final step of a successful move.
type TableRepointer func(ctx context.Context, partition string, newOffset int64) error

// MoveRequest describes one `move` call (spec §4.H `move`). SrcOffset and
// DstOffset are always the partition's original and target start offsets;
// ResumeFrom (nonzero only on repair) is how many bytes a previous,
// interrupted attempt already copied, so a resumed move can skip work
// already done instead of re-deriving new base offsets.
type MoveRequest struct {
	Partition  string
	Disk       string
	Device     BlockDevice
	SrcOffset  int64
	DstOffset  int64
	Size       int64
	BlockSize  int64 // 0 selects defaultMoveBlockSize
	ResumeFrom int64
	Bounds     model.Bounds
	Repoint    TableRepointer
}

// Move implements spec §4.H `move`: 1-MiB-aligned, bounds-enforced,
// journal-backed, overlap-aware partition relocation.
func Move(ctx context.Context, d *dispatch.Dispatcher, req MoveRequest) (model.Result, error) {
	if req.DstOffset < req.Bounds.MinStart || req.DstOffset > req.Bounds.MaxStart {
		return model.Result{}, oxierr.InvalidInput("new_start",
			fmt.Sprintf("must be in [%d, %d]", req.Bounds.MinStart, req.Bounds.MaxStart))
	}
	if req.DstOffset%(1<<20) != 0 {
		return model.Result{}, oxierr.InvalidInput("new_start", "must be 1-MiB aligned")
	}

	blockSize := req.BlockSize
	if blockSize == 0 {
		blockSize = defaultMoveBlockSize
	}

	key := model.VerdictKey{Operation: model.OpMove, Target: req.Partition, NewSize: req.DstOffset}
	return d.Execute(ctx, dispatch.ExecuteRequest{
		Key: key,
		Journal: &dispatch.JournalPlan{
			Operation: model.JournalMove,
			Device:    req.Partition,
			Disk:      req.Disk,
			SrcOffset: req.SrcOffset,
			DstOffset: req.DstOffset,
			Size:      req.Size,
			BlockSize: blockSize,
		},
		Run: func(ctx context.Context, b *bus.Bus, checkpoint func(int64)) (model.Result, error) {
			if err := copyOverlapAware(ctx, b, req.Device, req.SrcOffset, req.DstOffset, req.Size, blockSize, req.ResumeFrom, checkpoint); err != nil {
				return model.Result{}, err
			}
			// Cancellation is only honored between blocks (spec §4.H): once
			// every block has landed, the table rewrite always proceeds, so a
			// cancel arriving after the last block is a no-op.
			if err := req.Repoint(ctx, req.Partition, req.DstOffset); err != nil {
				return model.Result{}, oxierr.Corrupted(
					fmt.Sprintf("copy to %d complete but table repoint failed: %s", req.DstOffset, err),
				)
			}
			return model.Result{OK: true}, nil
		},
	})
}

// copyOverlapAware copies size bytes from srcOffset to dstOffset in
// blockSize chunks, choosing forward or reverse direction so an
// overlapping move never reads data the same pass already overwrote
// (spec §4.H step 2: "forward if dst < src, else reverse"). checkpoint is
// called with the cumulative bytes copied after each successful block.
func copyOverlapAware(ctx context.Context, b *bus.Bus, dev BlockDevice, srcOffset, dstOffset, size, blockSize, resumeFrom int64, checkpoint func(int64)) oxierr.DriverError {
	if size == 0 {
		return nil
	}
	forward := dstOffset < srcOffset

	numBlocks := (size + blockSize - 1) / blockSize
	startIndex := resumeFrom / blockSize
	lastCopied := startIndex * blockSize
	buf := make([]byte, blockSize)

	for i := startIndex; i < numBlocks; i++ {
		if b != nil && b.Cancelled() {
			return oxierr.ErrCancelled.WithMessage("move")
		}

		var blockIndex int64
		if forward {
			blockIndex = i
		} else {
			blockIndex = numBlocks - 1 - i
		}

		blockOffset := blockIndex * blockSize
		n := blockSize
		if blockOffset+n > size {
			n = size - blockOffset
		}

		chunk := buf[:n]
		if _, err := dev.ReadAt(chunk, srcOffset+blockOffset); err != nil && err != io.EOF {
			return oxierr.ErrIO.Wrap(err)
		}
		if _, err := dev.WriteAt(chunk, dstOffset+blockOffset); err != nil {
			return oxierr.ErrIO.Wrap(err)
		}

		lastCopied += n
		if checkpoint != nil {
			checkpoint(lastCopied)
		}
		if b != nil {
			b.EmitProgress(model.ProgressEvent{
				Phase:      "move",
				Bytes:      lastCopied,
				TotalBytes: size,
				Percent:    int(100 * lastCopied / size),
			})
		}
	}
	return nil
}
