package image

import (
	"os"

	"github.com/oxidisk/oxidisk/oxierr"
)

// Inspection is the result of classifying a source image (spec §4.I
// `inspect_image`).
type Inspection struct {
	IsWindows bool
	Brand     string // "windows", "linux", "" if unrecognized
	Reason    string // short machine reason string
	Label     string
}

// Inspect classifies sourcePath by reading its ISO 9660 root directory (and
// the sources/ subdirectory, for Windows media) for the files that
// distinguish a Windows installer ISO from anything else (spec §4.I
// `inspect_image`).
func Inspect(sourcePath string) (Inspection, error) {
	f, err := os.Open(sourcePath)
	if err != nil {
		return Inspection{}, oxierr.ErrIO.Wrap(err)
	}
	defer f.Close()

	label, rootLBA, rootSize, perr := readPVD(f)
	if perr != nil {
		return Inspection{}, perr
	}

	root, lerr := listDir(f, rootLBA, rootSize)
	if lerr != nil {
		return Inspection{}, lerr
	}

	_, hasBootmgr := findEntry(root, "BOOTMGR")
	sourcesDir, hasSources := findEntry(root, "SOURCES")

	if hasBootmgr && hasSources {
		sources, serr := listDir(f, sourcesDir.LBA, sourcesDir.Size)
		if serr == nil {
			_, hasWim := findEntry(sources, "INSTALL.WIM")
			_, hasEsd := findEntry(sources, "INSTALL.ESD")
			if hasWim || hasEsd {
				return Inspection{
					IsWindows: true,
					Brand:     "windows",
					Reason:    "bootmgr+sources/install.wim present",
					Label:     label,
				}, nil
			}
		}
	}

	if _, ok := findEntry(root, "ISOLINUX.BIN"); ok {
		return Inspection{Brand: "linux", Reason: "isolinux.bin present", Label: label}, nil
	}
	if _, ok := findEntry(root, "CASPER"); ok {
		return Inspection{Brand: "linux", Reason: "casper/ directory present", Label: label}, nil
	}

	return Inspection{Brand: "", Reason: "no recognized installer markers in root directory", Label: label}, nil
}
