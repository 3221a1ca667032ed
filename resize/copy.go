package resize

import (
	"context"
	"io"

	"github.com/oxidisk/oxidisk/bus"
	"github.com/oxidisk/oxidisk/dispatch"
	"github.com/oxidisk/oxidisk/model"
	"github.com/oxidisk/oxidisk/oxierr"
)

// defaultCopyBlockSize mirrors the move engine's default block granularity
// (spec §4.H: "default 4 MiB, multiple of block_size"); `copy_partition`
// shares the same byte-copy discipline as move, just without a table
// repoint step at the end.
const defaultCopyBlockSize = 4 << 20

// CopyRequest describes one `copy_partition` call (spec §6 `copy_partition`).
// Unlike [MoveRequest], Src and Dst may be entirely different block
// devices (e.g. copying a partition's contents onto another disk), so each
// side gets its own handle and offset.
type CopyRequest struct {
	Partition  string // source partition identifier, for journal bookkeeping
	Disk       string // source partition's containing device
	Src        io.ReaderAt
	Dst        io.WriterAt
	SrcOffset  int64
	DstOffset  int64
	Size       int64
	BlockSize  int64 // 0 selects defaultCopyBlockSize
	ResumeFrom int64
}

// Copy implements spec §4.G/§6 `copy_partition`: a straight, journal-backed
// byte-level duplication of one partition's contents to another location.
// It never touches a partition table -- the destination region is assumed
// already allocated by the caller (e.g. via create_partition) -- so,
// unlike Move, there is no repoint step and no overlap-direction choice:
// source and destination are different regions by construction.
func Copy(ctx context.Context, d *dispatch.Dispatcher, req CopyRequest) (model.Result, error) {
	if req.Size <= 0 {
		return model.Result{}, oxierr.InvalidInput("size", "must be positive")
	}

	blockSize := req.BlockSize
	if blockSize == 0 {
		blockSize = defaultCopyBlockSize
	}

	key := model.VerdictKey{Operation: model.OpCopy, Target: req.Partition}
	return d.Execute(ctx, dispatch.ExecuteRequest{
		Key: key,
		Journal: &dispatch.JournalPlan{
			Operation: model.JournalCopy,
			Device:    req.Partition,
			Disk:      req.Disk,
			SrcOffset: req.SrcOffset,
			DstOffset: req.DstOffset,
			Size:      req.Size,
			BlockSize: blockSize,
		},
		Run: func(ctx context.Context, b *bus.Bus, checkpoint func(int64)) (model.Result, error) {
			if err := copyLinear(ctx, b, req.Src, req.Dst, req.SrcOffset, req.DstOffset, req.Size, blockSize, req.ResumeFrom, checkpoint); err != nil {
				return model.Result{}, err
			}
			return model.Result{OK: true}, nil
		},
	})
}

// copyLinear copies size bytes from src at srcOffset to dst at dstOffset,
// blockSize bytes at a time, starting from resumeFrom bytes already copied
// by an earlier attempt. It is the same shape as move's copyOverlapAware
// minus the direction choice, since source and destination never overlap
// here.
func copyLinear(ctx context.Context, b *bus.Bus, src io.ReaderAt, dst io.WriterAt, srcOffset, dstOffset, size, blockSize, resumeFrom int64, checkpoint func(int64)) oxierr.DriverError {
	if size == 0 {
		return nil
	}

	buf := make([]byte, blockSize)
	lastCopied := resumeFrom

	for lastCopied < size {
		if b != nil && b.Cancelled() {
			return oxierr.ErrCancelled.WithMessage("copy")
		}

		n := blockSize
		if lastCopied+n > size {
			n = size - lastCopied
		}

		chunk := buf[:n]
		if _, err := src.ReadAt(chunk, srcOffset+lastCopied); err != nil && err != io.EOF {
			return oxierr.ErrIO.Wrap(err)
		}
		if _, err := dst.WriteAt(chunk, dstOffset+lastCopied); err != nil {
			return oxierr.ErrIO.Wrap(err)
		}

		lastCopied += n
		if checkpoint != nil {
			checkpoint(lastCopied)
		}
		if b != nil {
			b.EmitProgress(model.ProgressEvent{
				Phase:      "copy",
				Bytes:      lastCopied,
				TotalBytes: size,
				Percent:    int(100 * lastCopied / size),
			})
		}
	}
	return nil
}
