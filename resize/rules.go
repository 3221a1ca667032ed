// Package resize implements the Resize/Move Engine (spec §4.H):
// filesystem-aware partition resize (shrink/grow ordering with rollback)
// and crash-safe partition move (journal-backed, overlap-aware block
// copy).
package resize

import (
	_ "embed"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/oxidisk/oxidisk/oxierr"
)

//go:embed resizerules.csv
var resizeRulesCSV string

type resizeRule struct {
	FS           string `csv:"fs"`
	ResizeBinary string `csv:"resize_binary"`
}

// RuleSet maps a filesystem family to the sidecar binary that can resize
// it in place, loaded from the same embedded-CSV pattern as the rest of
// the engine's static tables.
type RuleSet struct {
	byFS map[string]string
}

// LoadRules parses the embedded per-filesystem resize-binary table.
func LoadRules() (*RuleSet, error) {
	var rows []resizeRule
	if err := gocsv.UnmarshalString(resizeRulesCSV, &rows); err != nil {
		return nil, oxierr.ErrIO.Wrap(err)
	}
	rs := &RuleSet{byFS: make(map[string]string, len(rows))}
	for _, r := range rows {
		rs.byFS[strings.ToLower(r.FS)] = r.ResizeBinary
	}
	return rs, nil
}

// ResizeBinary returns the sidecar catalog name able to resize fs in
// place, or "" if fs has no supported resize path (spec §9's "experimental
// resize paths" open question: filesystems with no entry here are refused
// with Unsupported rather than silently recreated).
func (rs *RuleSet) ResizeBinary(fs string) string {
	return rs.byFS[strings.ToLower(fs)]
}
