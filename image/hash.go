package image

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"

	"github.com/oxidisk/oxidisk/bus"
	"github.com/oxidisk/oxidisk/model"
	"github.com/oxidisk/oxidisk/oxierr"
)

// hashBlockSize is the chunk size used for every streaming read in the
// Image Engine (spec §4.I: "4-MiB blocks"). hash_image, flash, and backup
// all read/write in this granularity so progress events land at a
// consistent cadence.
const hashBlockSize = 4 << 20

// HashImage implements spec §4.I `hash_image`: a streaming SHA-256 over
// sourcePath, emitting progress against the file's known total size. It is
// read-only and therefore runs outside the Dispatcher's serial lock, like
// Inspect (spec §5: read-only operations may run concurrently with each
// other).
func HashImage(ctx context.Context, b *bus.Bus, sourcePath string) (model.Result, error) {
	f, err := os.Open(sourcePath)
	if err != nil {
		return model.Result{}, oxierr.ErrIO.Wrap(err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return model.Result{}, oxierr.ErrIO.Wrap(err)
	}

	sum, err := hashStream(ctx, b, "hash", f, info.Size())
	if err != nil {
		return model.Result{}, err
	}
	return model.Result{OK: true, Details: map[string]string{"sha256": sum}}, nil
}

// hashStream reads r to EOF in hashBlockSize chunks, accumulating a
// SHA-256 digest and emitting progress against total (0 disables percent
// reporting, e.g. when the source's length isn't known up front). ctx
// cancellation and bus cancellation are both honored between blocks (spec
// §5: "checked ... at every block boundary").
func hashStream(ctx context.Context, b *bus.Bus, phase string, r io.Reader, total int64) (string, oxierr.DriverError) {
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

		n, err := r.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
			read += int64(n)
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
