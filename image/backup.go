package image

import (
	"compress/gzip"
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

// BackupRequest describes one `backup_image` call (spec §4.I `backup`).
// Overwrite resolves the open question on an existing target path: Backup
// refuses with InvalidInput, before dispatching, unless the caller
// explicitly opts in (see DESIGN.md).
type BackupRequest struct {
	SourceDevice string
	Source       io.ReaderAt
	SourceSize   int64
	TargetPath   string
	Compress     bool
	Overwrite    bool
}

// Backup implements spec §4.I `backup`: stream source_device -> file,
// optionally through a gzip filter, always followed by a re-read
// verification pass (uncompressed: hash both sides; compressed: hash the
// uncompressed logical stream by re-decompressing the file, then
// re-reading the device).
func Backup(ctx context.Context, d *dispatch.Dispatcher, req BackupRequest) (model.Result, error) {
	if !req.Overwrite {
		if _, err := os.Stat(req.TargetPath); err == nil {
			return model.Result{}, oxierr.InvalidInput("target_path", "already exists; pass overwrite to replace it")
		} else if !os.IsNotExist(err) {
			return model.Result{}, oxierr.ErrIO.Wrap(err)
		}
	}

	key := model.VerdictKey{Operation: model.OpBackup, Target: req.SourceDevice}
	return d.Execute(ctx, dispatch.ExecuteRequest{
		Key: key,
		Journal: &dispatch.JournalPlan{
			Operation: model.JournalBackup,
			Device:    req.SourceDevice,
			Disk:      req.SourceDevice,
			Size:      req.SourceSize,
			BlockSize: hashBlockSize,
		},
		Run: func(ctx context.Context, b *bus.Bus, checkpoint func(int64)) (model.Result, error) {
			return runBackup(ctx, b, checkpoint, req)
		},
	})
}

func runBackup(ctx context.Context, b *bus.Bus, checkpoint func(int64), req BackupRequest) (model.Result, error) {
	out, err := os.Create(req.TargetPath)
	if err != nil {
		return model.Result{}, oxierr.ErrIO.Wrap(err)
	}
	defer out.Close()

	var w io.Writer = out
	var gz *gzip.Writer
	if req.Compress {
		gz = gzip.NewWriter(out)
		w = gz
	}

	src := io.NewSectionReader(req.Source, 0, req.SourceSize)
	sourceHash, herr := copyWithHash(ctx, b, checkpoint, "backup", src, w, req.SourceSize)
	if herr != nil {
		return model.Result{}, herr
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			return model.Result{}, oxierr.ErrIO.Wrap(err)
		}
	}
	if err := out.Sync(); err != nil {
		return model.Result{}, oxierr.ErrIO.Wrap(err)
	}

	verifiedHash, verr := verifyBackup(ctx, b, req)
	if verr != nil {
		return model.Result{}, verr
	}
	deviceHash, derr := hashStream(ctx, b, "verify", io.NewSectionReader(req.Source, 0, req.SourceSize), req.SourceSize)
	if derr != nil {
		return model.Result{}, derr
	}

	details := map[string]string{"source_hash": sourceHash, "verified_hash": verifiedHash}
	if verifiedHash != sourceHash {
		return model.Result{OK: false, Details: details}, oxierr.VerificationFailed(sourceHash, verifiedHash)
	}
	if deviceHash != sourceHash {
		return model.Result{OK: false, Details: details}, oxierr.VerificationFailed(sourceHash, deviceHash)
	}
	return model.Result{OK: true, Details: details}, nil
}

// verifyBackup re-reads the backup's logical (uncompressed) byte stream
// and hashes it: straight from the file when uncompressed, or by
// decompressing the file when compressed. runBackup compares this hash,
// and a fresh re-read hash of the source device, against the hash taken
// during the copy.
func verifyBackup(ctx context.Context, b *bus.Bus, req BackupRequest) (string, oxierr.DriverError) {
	f, err := os.Open(req.TargetPath)
	if err != nil {
		return "", oxierr.ErrIO.Wrap(err)
	}
	defer f.Close()

	var r io.Reader = f
	if req.Compress {
		gzr, gerr := gzip.NewReader(f)
		if gerr != nil {
			return "", oxierr.ErrIO.Wrap(gerr)
		}
		defer gzr.Close()
		r = gzr
	}
	return hashStream(ctx, b, "verify", r, req.SourceSize)
}

// copyWithHash copies total bytes from src to dst in hashBlockSize
// chunks, hashing the bytes as read (pre-compression, so the hash always
// reflects the logical source stream regardless of req.Compress),
// checkpointing and emitting progress after each block.
func copyWithHash(ctx context.Context, b *bus.Bus, checkpoint func(int64), phase string, src io.Reader, dst io.Writer, total int64) (string, oxierr.DriverError) {
	h := sha256.New()
	buf := make([]byte, hashBlockSize)
	var read int64

	for {
		select {
		case <-ctx.Done():
			return "", oxierr.ErrCancelled.WithMessage(phase)
		default:
		}
		if b != nil && b.Cancelled() {
			return "", oxierr.ErrCancelled.WithMessage(phase)
		}

		n, err := src.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			h.Write(chunk)
			if _, werr := dst.Write(chunk); werr != nil {
				return "", oxierr.ErrIO.Wrap(werr)
			}
			read += int64(n)
			if checkpoint != nil {
				checkpoint(read)
			}
			if b != nil {
				ev := model.ProgressEvent{Phase: phase, Bytes: read, TotalBytes: total}
				if total > 0 {
					ev.Percent = int(100 * read / total)
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
	return hex.EncodeToString(h.Sum(nil)), nil
}
