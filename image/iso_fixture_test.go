package image_test

import "testing"

// buildWindowsISOFixture returns a minimal ISO 9660 image recognizable by
// Inspect as Windows installer media: a root directory containing BOOTMGR
// and a SOURCES subdirectory whose own directory contains INSTALL.WIM.
// File contents are irrelevant to inspection and are left empty (LBA/size
// zero); only directory-entry names and the directory flag matter.
func buildWindowsISOFixture(t *testing.T) []byte {
	t.Helper()
	sources := buildDirExtent([]dirEntrySpec{
		{name: "INSTALL.WIM"},
	})
	sourcesLBA := uint32(18)

	root := buildDirExtent([]dirEntrySpec{
		{name: "BOOTMGR"},
		{name: "SOURCES", isDir: true, lba: sourcesLBA, size: uint32(len(sources))},
	})
	rootLBA := uint32(17)

	return assembleISO(t, "WIN11", rootLBA, root, map[uint32][]byte{
		rootLBA:    root,
		sourcesLBA: sources,
	})
}

// buildLinuxISOFixture returns a minimal ISO 9660 image recognizable as
// Linux installer media via the isolinux.bin marker.
func buildLinuxISOFixture(t *testing.T) []byte {
	t.Helper()
	root := buildDirExtent([]dirEntrySpec{
		{name: "ISOLINUX.BIN"},
	})
	rootLBA := uint32(17)
	return assembleISO(t, "UBUNTU", rootLBA, root, map[uint32][]byte{rootLBA: root})
}

// buildPlainISOFixture returns a structurally valid ISO 9660 image with no
// recognized installer markers in its root directory.
func buildPlainISOFixture(t *testing.T) []byte {
	t.Helper()
	root := buildDirExtent([]dirEntrySpec{
		{name: "README.TXT"},
	})
	rootLBA := uint32(17)
	return assembleISO(t, "DATA", rootLBA, root, map[uint32][]byte{rootLBA: root})
}

type dirEntrySpec struct {
	name  string
	isDir bool
	lba   uint32
	size  uint32
}

const isoSectorSize = 2048

func assembleISO(t *testing.T, label string, rootLBA uint32, root []byte, extents map[uint32][]byte) []byte {
	t.Helper()

	maxLBA := rootLBA
	for lba := range extents {
		if lba > maxLBA {
			maxLBA = lba
		}
	}
	image := make([]byte, int(maxLBA+1)*isoSectorSize)

	pvd := make([]byte, isoSectorSize)
	pvd[0] = 1
	copy(pvd[1:6], "CD001")
	labelField := pvd[40:72]
	for i := range labelField {
		labelField[i] = ' '
	}
	copy(labelField, label)

	rootRecord := dirRecord(dirEntrySpec{name: "", lba: rootLBA, size: uint32(len(root)), isDir: true})
	copy(pvd[156:156+len(rootRecord)], rootRecord)
	copy(image[16*isoSectorSize:], pvd)

	for lba, data := range extents {
		copy(image[int(lba)*isoSectorSize:], data)
	}
	return image
}

// buildDirExtent lays out a directory extent as the "." and ".." self/
// parent records followed by one record per spec, matching the layout
// Inspect's listDir expects.
func buildDirExtent(specs []dirEntrySpec) []byte {
	var out []byte
	out = append(out, dirRecord(dirEntrySpec{name: "\x00"})...)
	out = append(out, dirRecord(dirEntrySpec{name: "\x01"})...)
	for _, s := range specs {
		out = append(out, dirRecord(s)...)
	}
	return out
}

func dirRecord(s dirEntrySpec) []byte {
	name := []byte(s.name)
	recLen := 33 + len(name)
	if recLen%2 != 0 {
		recLen++
	}
	rec := make([]byte, recLen)
	rec[0] = byte(recLen)
	putLE32(rec[2:6], s.lba)
	putBE32(rec[6:10], s.lba)
	putLE32(rec[10:14], s.size)
	putBE32(rec[14:18], s.size)
	if s.isDir {
		rec[25] = 0x02
	}
	putLE16(rec[28:30], 1)
	putBE16(rec[30:32], 1)
	rec[32] = byte(len(name))
	copy(rec[33:33+len(name)], name)
	return rec
}

func putLE32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func putBE32(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}

func putLE16(b []byte, v uint16) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
}

func putBE16(b []byte, v uint16) {
	b[0] = byte(v >> 8)
	b[1] = byte(v)
}
