// Package partops implements the Partition Operations component (spec
// §4.G): table/partition lifecycle, label/UUID validation, filesystem
// checks, and mount/unmount/eject, plus the APFS container manager. Every
// operation that mutates state is expressed as a [dispatch.RunFunc] so the
// Operation Dispatcher remains the sole owner of the serial lock and the
// journal.
package partops

import (
	_ "embed"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/oxidisk/oxidisk/oxierr"
)

//go:embed labelrules.csv
var labelRulesCSV string

// UUIDPolicy enumerates the per-filesystem UUID acceptance rule from spec
// §4.G's label/UUID policy table.
type UUIDPolicy string

const (
	UUIDNone         UUIDPolicy = "none"
	UUIDRFC4122      UUIDPolicy = "rfc4122"
	UUIDRFC4122OrRandom UUIDPolicy = "rfc4122-or-random"
)

// LabelCharset enumerates the accepted character class for a label.
type LabelCharset string

const (
	CharsetNone                     LabelCharset = "none"
	CharsetAny                      LabelCharset = "any"
	CharsetUpperAlnumSpaceDashUnder LabelCharset = "upper-alnum-space-dash-underscore"
)

// rule is one row of labelrules.csv, the per-filesystem policy table (spec
// §4.G), loaded the same embedded-CSV way the Sidecar Registry loads its
// catalog.
type rule struct {
	FS            string `csv:"fs"`
	MaxLabelLen   int    `csv:"max_label_len"`
	LabelCharset  string `csv:"label_charset"`
	UUIDPolicy    string `csv:"uuid_policy"`
	MkfsBinary    string `csv:"mkfs_binary"`
	FsckBinary    string `csv:"fsck_binary"`
	RelabelBinary string `csv:"relabel_binary"`
	UUIDBinary    string `csv:"uuid_binary"`
}

// RuleSet holds the parsed label/UUID/binary policy for every supported
// filesystem.
type RuleSet struct {
	byFS map[string]rule
}

// LoadRules parses the embedded label/UUID policy table.
func LoadRules() (*RuleSet, error) {
	var rows []rule
	if err := gocsv.UnmarshalString(labelRulesCSV, &rows); err != nil {
		return nil, oxierr.ErrIO.Wrap(err)
	}
	rs := &RuleSet{byFS: make(map[string]rule, len(rows))}
	for _, r := range rows {
		rs.byFS[strings.ToLower(r.FS)] = r
	}
	return rs, nil
}

// MkfsBinary returns the sidecar catalog name of the binary that formats
// fs, or "" if fs is unknown.
func (rs *RuleSet) MkfsBinary(fs string) string {
	return rs.byFS[strings.ToLower(fs)].MkfsBinary
}

// FsckBinary returns the sidecar catalog name of the binary that checks
// fs, or "" if fs is unknown or has none (e.g. swap).
func (rs *RuleSet) FsckBinary(fs string) string {
	return rs.byFS[strings.ToLower(fs)].FsckBinary
}

// RelabelBinary returns the sidecar catalog name of the binary that
// changes fs's label in place without reformatting, or "" if fs has
// none (e.g. swap).
func (rs *RuleSet) RelabelBinary(fs string) string {
	return rs.byFS[strings.ToLower(fs)].RelabelBinary
}

// UUIDBinary returns the sidecar catalog name of the binary that sets
// fs's UUID in place, or "" if fs's [UUIDPolicy] is [UUIDNone].
func (rs *RuleSet) UUIDBinary(fs string) string {
	return rs.byFS[strings.ToLower(fs)].UUIDBinary
}

func (rs *RuleSet) rule(fs string) (rule, bool) {
	r, ok := rs.byFS[strings.ToLower(fs)]
	return r, ok
}
