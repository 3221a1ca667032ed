package image

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"text/template"

	"github.com/oxidisk/oxidisk/bus"
	"github.com/oxidisk/oxidisk/dispatch"
	"github.com/oxidisk/oxidisk/model"
	"github.com/oxidisk/oxidisk/oxierr"
)

// WindowsInstallOverrides is the subset of autounattend.xml overrides the
// engine supports (spec §4.I `windows_install`).
type WindowsInstallOverrides struct {
	TPMBypass       bool
	LocalAccount    bool
	PrivacyDefaults bool
}

// TargetPreparer creates a GPT partition table and a single exFAT
// partition labeled label on device, returning the identifier of the new
// partition. Production wiring backs this with the same sgdisk/mkfs
// plumbing Partition Operations (G) uses; it is injected here so Image
// Engine (I) never imports partops directly, the same decoupling
// [resize.TableResizer] and [Unmounter] use elsewhere in this engine.
type TargetPreparer func(ctx context.Context, b *bus.Bus, device, label string) (partition string, err error)

// ISOFile is one file the caller's ISO file layer surfaces for copying.
// Path is relative to the ISO root, using forward slashes.
type ISOFile struct {
	Path string
	Size int64
	Open func() (ReadCloser, error)
}

// ReadCloser is the minimal surface ISOFile.Open needs; satisfied by
// *os.File and any in-memory fake used in tests.
type ReadCloser interface {
	Read(p []byte) (int, error)
	Close() error
}

// VolumeWriter is the destination file layer WindowsInstall copies
// through (spec §4.I: "copy files through the file layer, not a raw image
// write"). Production wiring backs this with whatever mounted-filesystem
// file API the host platform exposes for the freshly formatted exFAT
// volume; tests back it with an in-memory fake.
type VolumeWriter interface {
	WriteFile(path string, size int64) (WriteCloser, error)
}

// WriteCloser is the minimal surface VolumeWriter.WriteFile needs.
type WriteCloser interface {
	Write(p []byte) (int, error)
	Close() error
}

// WindowsInstallRequest describes one `windows_install` call.
type WindowsInstallRequest struct {
	TargetDevice string
	Label        string
	Prepare      TargetPreparer
	Files        []ISOFile // the ISO's full file listing, root-relative
	Volume       VolumeWriter
	Overrides    WindowsInstallOverrides
	FAT32        bool // true requests the unsupported two-partition fallback
}

// WindowsInstall implements spec §4.I `windows_install`: GPT + single
// exFAT partition labeled `label` (via req.Prepare), copy the files listed
// in req.Files through the file layer, then write autounattend.xml at the
// volume root with the requested override subset. It does not mount or
// read the ISO itself; the file listing and each file's reader come from
// the caller's ISO file layer.
func WindowsInstall(ctx context.Context, d *dispatch.Dispatcher, req WindowsInstallRequest) (model.Result, error) {
	if req.FAT32 {
		return model.Result{}, oxierr.Unsupported("FAT32 two-partition Windows-installer layout is not implemented; use exFAT")
	}

	key := model.VerdictKey{Operation: model.OpWindowsInstall, Target: req.TargetDevice, FS: "exfat"}
	return d.Execute(ctx, dispatch.ExecuteRequest{
		Key: key,
		Run: func(ctx context.Context, b *bus.Bus, checkpoint func(int64)) (model.Result, error) {
			return runWindowsInstall(ctx, b, req)
		},
	})
}

func runWindowsInstall(ctx context.Context, b *bus.Bus, req WindowsInstallRequest) (model.Result, error) {
	partition, err := req.Prepare(ctx, b, req.TargetDevice, req.Label)
	if err != nil {
		return model.Result{}, oxierr.ErrIO.Wrap(err)
	}
	b.EmitLog(model.LogEvent{Source: "windows-install", Line: fmt.Sprintf("prepared %s as exFAT volume %q", partition, req.Label)})

	var totalBytes int64
	for _, f := range req.Files {
		totalBytes += f.Size
	}

	var copied int64
	for _, f := range req.Files {
		if b.Cancelled() {
			return model.Result{}, oxierr.ErrCancelled.WithMessage("windows-install")
		}
		if err := copyISOFile(b, req.Volume, f, &copied, totalBytes); err != nil {
			return model.Result{}, err
		}
	}

	xmlBytes, rerr := renderAutounattend(req.Overrides)
	if rerr != nil {
		return model.Result{}, oxierr.ErrIO.Wrap(rerr)
	}
	w, werr := req.Volume.WriteFile("autounattend.xml", int64(len(xmlBytes)))
	if werr != nil {
		return model.Result{}, oxierr.ErrIO.Wrap(werr)
	}
	defer w.Close()
	if _, werr := w.Write(xmlBytes); werr != nil {
		return model.Result{}, oxierr.ErrIO.Wrap(werr)
	}

	return model.Result{OK: true}, nil
}

// copyISOFile streams one ISO file through to the destination volume,
// updating the shared copied counter and emitting progress against the
// install's total byte count. Files over FAT32's 4 GiB file-size limit
// are accepted unconditionally here: the target is always exFAT in this
// path (spec
// §4.I "in exFAT mode this is allowed").
func copyISOFile(b *bus.Bus, vol VolumeWriter, f ISOFile, copied *int64, total int64) oxierr.DriverError {
	src, err := f.Open()
	if err != nil {
		return oxierr.ErrIO.Wrap(err)
	}
	defer src.Close()

	dst, err := vol.WriteFile(f.Path, f.Size)
	if err != nil {
		return oxierr.ErrIO.Wrap(err)
	}
	defer dst.Close()

	buf := make([]byte, hashBlockSize)
	for {
		if b.Cancelled() {
			return oxierr.ErrCancelled.WithMessage("windows-install")
		}
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return oxierr.ErrIO.Wrap(werr)
			}
			*copied += int64(n)
			b.EmitProgress(model.ProgressEvent{
				Phase:      "windows-install",
				Message:    f.Path,
				Bytes:      *copied,
				TotalBytes: total,
				Percent:    percentOf(*copied, total),
			})
		}
		if rerr != nil {
			if rerr == io.EOF {
				break
			}
			return oxierr.ErrIO.Wrap(rerr)
		}
	}
	return nil
}

func percentOf(n, total int64) int {
	if total <= 0 {
		return 0
	}
	return int(100 * n / total)
}

// autounattendTemplate renders the subset of autounattend.xml overrides
// spec §4.I names: a TPM-check bypass registry key, a local-account
// OOBE path, and the "express settings" privacy defaults toggle.
const autounattendTemplate = `<?xml version="1.0" encoding="utf-8"?>
<unattend xmlns="urn:schemas-microsoft-com:unattend">
  <settings pass="windowsPE">
    {{- if .TPMBypass }}
    <component name="Microsoft-Windows-Setup">
      <RunSynchronous>
        <RunSynchronousCommand>
          <Path>reg add HKLM\SYSTEM\Setup\LabConfig /v BypassTPMCheck /t REG_DWORD /d 1 /f</Path>
        </RunSynchronousCommand>
      </RunSynchronous>
    </component>
    {{- end }}
  </settings>
  <settings pass="oobeSystem">
    <component name="Microsoft-Windows-Shell-Setup">
      {{- if .LocalAccount }}
      <OOBE>
        <HideOnlineAccountScreens>true</HideOnlineAccountScreens>
      </OOBE>
      {{- end }}
      {{- if .PrivacyDefaults }}
      <OOBE>
        <ProtectYourPC>3</ProtectYourPC>
      </OOBE>
      {{- end }}
    </component>
  </settings>
</unattend>
`

func renderAutounattend(overrides WindowsInstallOverrides) ([]byte, error) {
	tmpl, err := template.New("autounattend").Parse(autounattendTemplate)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, overrides); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

