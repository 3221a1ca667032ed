package image

import (
	"os"
	"strings"

	"github.com/oxidisk/oxidisk/oxierr"
)

// sectorSize is the fixed logical sector size of an ISO 9660 image.
const sectorSize = 2048

// pvdLBA is the logical block address of the Primary Volume Descriptor,
// fixed by the ISO 9660 standard (the first 16 sectors are the System
// Area, reserved for boot loaders).
const pvdLBA = 16

// isoDirEntry is one parsed ISO 9660 directory record, trimmed to the
// fields inspect_image needs: a name, whether it is itself a directory,
// and the LBA and size of its extent.
type isoDirEntry struct {
	Name  string
	IsDir bool
	LBA   uint32
	Size  uint32
}

// readPVD reads the Primary Volume Descriptor and returns the volume
// label and the root directory's extent location and size. It returns
// ErrInvalidInput if source_path is not an ISO 9660 image (no CD001
// signature at sector 16).
func readPVD(f *os.File) (label string, rootLBA uint32, rootSize uint32, err oxierr.DriverError) {
	buf := make([]byte, sectorSize)
	if _, e := f.ReadAt(buf, pvdLBA*sectorSize); e != nil {
		return "", 0, 0, oxierr.ErrIO.Wrap(e)
	}
	if buf[0] != 1 || string(buf[1:6]) != "CD001" {
		return "", 0, 0, oxierr.InvalidInput("source_path", "not an ISO 9660 image (missing CD001 signature)")
	}
	label = strings.TrimRight(string(buf[40:72]), " ")

	// Root directory record lives at offset 156 within the PVD, 34 bytes,
	// little-endian LBA/size at offsets 2 and 10 within the record.
	root := buf[156:190]
	rootLBA = leUint32(root[2:6])
	rootSize = leUint32(root[10:14])
	return label, rootLBA, rootSize, nil
}

// listDir reads every directory record in the extent at lba spanning size
// bytes and returns its immediate children, skipping the "." and ".."
// self/parent entries every ISO 9660 directory starts with.
func listDir(f *os.File, lba, size uint32) ([]isoDirEntry, oxierr.DriverError) {
	buf := make([]byte, size)
	if _, err := f.ReadAt(buf, int64(lba)*sectorSize); err != nil {
		return nil, oxierr.ErrIO.Wrap(err)
	}

	var entries []isoDirEntry
	for pos := 0; pos < len(buf); {
		recLen := int(buf[pos])
		if recLen == 0 {
			// A zero-length record marks padding to the next sector;
			// advance to the following sector boundary.
			pos += sectorSize - (pos % sectorSize)
			continue
		}
		if pos+recLen > len(buf) {
			break
		}
		rec := buf[pos : pos+recLen]
		nameLen := int(rec[32])
		if 33+nameLen > len(rec) {
			pos += recLen
			continue
		}
		rawName := string(rec[33 : 33+nameLen])
		flags := rec[25]
		isDir := flags&0x02 != 0

		if rawName != "\x00" && rawName != "\x01" {
			entries = append(entries, isoDirEntry{
				Name:  normalizeISOName(rawName),
				IsDir: isDir,
				LBA:   leUint32(rec[2:6]),
				Size:  leUint32(rec[10:14]),
			})
		}
		pos += recLen
	}
	return entries, nil
}

// normalizeISOName strips the ";<version>" suffix ISO 9660 appends to
// every file identifier and upper-cases the result, since Windows and
// Linux installer media both use plain ASCII names here.
func normalizeISOName(raw string) string {
	if idx := strings.IndexByte(raw, ';'); idx >= 0 {
		raw = raw[:idx]
	}
	return strings.ToUpper(raw)
}

// findEntry looks up name (case-insensitive, no version suffix) among
// entries.
func findEntry(entries []isoDirEntry, name string) (isoDirEntry, bool) {
	name = strings.ToUpper(name)
	for _, e := range entries {
		if e.Name == name {
			return e, true
		}
	}
	return isoDirEntry{}, false
}

func leUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
