package image

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"

	"github.com/oxidisk/oxidisk/bus"
	"github.com/oxidisk/oxidisk/dispatch"
	"github.com/oxidisk/oxidisk/model"
	"github.com/oxidisk/oxidisk/oxierr"
)

// Unmounter detaches whatever is currently mounted on a flash/backup
// target before the engine opens it for raw block I/O. It is injected
// rather than called directly against partops so this package never
// depends on Partition Operations (G), mirroring how the Resize/Move
// Engine (H) takes a [resize.TableResizer] callback instead of importing
// partops itself.
type Unmounter func(ctx context.Context) error

// BlockDevice is the byte-addressable target surface flash/backup write
// to or read from.
type BlockDevice interface {
	io.ReaderAt
	io.WriterAt
}

// FlashRequest describes one `flash_image` call (spec §4.I `flash`).
type FlashRequest struct {
	SourcePath      string
	TargetDevice    string
	Target          BlockDevice
	Unmount         Unmounter // may be nil if the target is already unmounted
	Verify          bool
	AllowWindowsISO bool // override for spec §8 scenario 5's InvalidInput guard
}

// Flash implements spec §4.I `flash`: unmount, stream source -> target in
// 4-MiB blocks with journal checkpointing, fsync, and an optional
// read-back verification pass. Details on success carry source_hash, plus
// verified_hash when Verify is set (spec §4.I).
//
// Before writing anything, Flash inspects the source the same way
// inspect_image does; a recognized Windows installer ISO is refused
// unless AllowWindowsISO is set, since windows_install's staged copy (not
// a raw block write) is the supported path for that media (spec §8
// scenario 5). Sources that aren't ISO 9660 images at all -- the common
// case, e.g. a Linux distro's hybrid image written with dd -- are not
// touched by this check.
func Flash(ctx context.Context, d *dispatch.Dispatcher, req FlashRequest) (model.Result, error) {
	if !req.AllowWindowsISO {
		if inspection, err := Inspect(req.SourcePath); err == nil && inspection.IsWindows {
			return model.Result{}, oxierr.InvalidInput("mode", "windows-iso detected")
		}
	}

	key := model.VerdictKey{Operation: model.OpFlash, Target: req.TargetDevice}
	return d.Execute(ctx, dispatch.ExecuteRequest{
		Key: key,
		Journal: &dispatch.JournalPlan{
			Operation: model.JournalFlash,
			Device:    req.TargetDevice,
			Disk:      req.TargetDevice,
			BlockSize: hashBlockSize,
		},
		Run: func(ctx context.Context, b *bus.Bus, checkpoint func(int64)) (model.Result, error) {
			return runFlash(ctx, b, checkpoint, req)
		},
	})
}

func runFlash(ctx context.Context, b *bus.Bus, checkpoint func(int64), req FlashRequest) (model.Result, error) {
	if req.Unmount != nil {
		if err := req.Unmount(ctx); err != nil {
			return model.Result{}, oxierr.ErrIO.Wrap(err)
		}
	}

	src, err := os.Open(req.SourcePath)
	if err != nil {
		return model.Result{}, oxierr.ErrIO.Wrap(err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return model.Result{}, oxierr.ErrIO.Wrap(err)
	}
	sourceSize := info.Size()

	sourceHash, herr := streamToDevice(ctx, b, checkpoint, src, req.Target, sourceSize)
	if herr != nil {
		return model.Result{}, herr
	}

	details := map[string]string{"source_hash": sourceHash}
	if !req.Verify {
		return model.Result{OK: true, Details: details}, nil
	}

	verifiedHash, verr := hashStream(ctx, b, "verify", io.NewSectionReader(req.Target, 0, sourceSize), sourceSize)
	if verr != nil {
		return model.Result{}, verr
	}
	details["verified_hash"] = verifiedHash
	if verifiedHash != sourceHash {
		return model.Result{OK: false, Details: details}, oxierr.VerificationFailed(sourceHash, verifiedHash)
	}
	return model.Result{OK: true, Details: details}, nil
}

// streamToDevice copies every byte of src onto dst starting at offset 0,
// hashing the source as it goes (spec §4.I: "compute source SHA-256 ...
// parallel to the write"), checkpointing and emitting progress after each
// block, and fsyncing at the end if dst is an *os.File.
func streamToDevice(ctx context.Context, b *bus.Bus, checkpoint func(int64), src io.Reader, dst BlockDevice, total int64) (string, oxierr.DriverError) {
	h := sha256.New()
	buf := make([]byte, hashBlockSize)
	var written int64

	for {
		select {
		case <-ctx.Done():
			return "", oxierr.ErrCancelled.WithMessage("flash")
		default:
		}
		if b != nil && b.Cancelled() {
			return "", oxierr.ErrCancelled.WithMessage("flash")
		}

		n, err := src.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			h.Write(chunk)
			if _, werr := dst.WriteAt(chunk, written); werr != nil {
				return "", oxierr.ErrIO.Wrap(werr)
			}
			written += int64(n)
			if checkpoint != nil {
				checkpoint(written)
			}
			if b != nil {
				ev := model.ProgressEvent{Phase: "flash", Bytes: written, TotalBytes: total}
				if total > 0 {
					ev.Percent = int(100 * written / total)
				}
				b.EmitProgress(ev)
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", oxierr.ErrIO.Wrap(err)
		}
	}

	if f, ok := dst.(*os.File); ok {
		if err := f.Sync(); err != nil {
			return "", oxierr.ErrIO.Wrap(err)
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

