// Package sidecar locates, version-probes, and invokes the external native
// binaries the engine depends on for partitioning, formatting, checking,
// and decompression (spec §4.A, GLOSSARY "Sidecar").
package sidecar

import (
	"bufio"
	_ "embed"
	"os/exec"
	"strings"
	"sync"

	"github.com/gocarina/gocsv"
	"github.com/oxidisk/oxidisk/oxierr"
	"k8s.io/klog/v2"
)

//go:embed catalog.csv
var catalogCSV string

// catalogRow mirrors one line of catalog.csv.
type catalogRow struct {
	Name            string `csv:"name"`
	CandidatePaths  string `csv:"candidate_paths"`
	VersionFlag     string `csv:"version_flag"`
	MinVersion      string `csv:"min_version"`
	Family          string `csv:"family"`
}

// Entry describes one required external binary: its candidate install
// locations, how to probe its version, and how to parse its stdout into
// progress/log events (spec §4.A "Sidecar contract": each catalog entry
// carries a LineParser).
type Entry struct {
	Name           string
	CandidatePaths []string
	VersionFlag    string
	MinVersion     string
	Family         string
	Parser         LineParser
}

// familyParsers maps a catalog family to the LineParser its binaries'
// stdout is known to support. Families not listed here (table, relabel,
// mount) get no parser; their output still reaches the bus verbatim via
// Run's raw-line fallback, just without a parsed ProgressEvent.
var familyParsers = map[string]LineParser{
	"mkfs":   PercentProgressParser,
	"fsck":   PercentProgressParser,
	"resize": PercentProgressParser,
}

// Status is the result of resolving a single sidecar, cached per process.
type Status struct {
	Name    string
	Found   bool
	Path    string
	Version string
}

// Registry holds the static catalog and a per-process resolution cache.
type Registry struct {
	entries map[string]Entry
	order   []string

	mu    sync.Mutex
	cache map[string]Status

	// lookPath is overridable in tests.
	lookPath func(candidates []string) (string, bool)
	// probeVersion is overridable in tests.
	probeVersion func(path, flag string) (string, error)
}

// New builds a Registry from the embedded catalog.
func New() (*Registry, error) {
	var rows []catalogRow
	if err := gocsv.UnmarshalString(catalogCSV, &rows); err != nil {
		return nil, oxierr.ErrIO.Wrap(err)
	}

	reg := &Registry{
		entries:      make(map[string]Entry, len(rows)),
		cache:        make(map[string]Status),
		lookPath:     defaultLookPath,
		probeVersion: defaultProbeVersion,
	}
	for _, row := range rows {
		entry := Entry{
			Name:           row.Name,
			CandidatePaths: splitPaths(row.CandidatePaths),
			VersionFlag:    row.VersionFlag,
			MinVersion:     row.MinVersion,
			Family:         row.Family,
			Parser:         familyParsers[row.Family],
		}
		reg.entries[entry.Name] = entry
		reg.order = append(reg.order, entry.Name)
	}
	return reg, nil
}

func splitPaths(raw string) []string {
	parts := strings.Split(raw, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func defaultLookPath(candidates []string) (string, bool) {
	for _, candidate := range candidates {
		if strings.ContainsRune(candidate, '/') {
			// Absolute or relative path candidate: verify by LookPath anyway
			// so PATH-independent locations are still subject to the exec
			// permission-bit check.
			if resolved, err := exec.LookPath(candidate); err == nil {
				return resolved, true
			}
			continue
		}
		if resolved, err := exec.LookPath(candidate); err == nil {
			return resolved, true
		}
	}
	return "", false
}

func defaultProbeVersion(path, flag string) (string, error) {
	if flag == "" {
		return "", nil
	}
	cmd := exec.Command(path, flag)
	out, err := cmd.CombinedOutput()
	if err != nil {
		// A nonzero exit on a version probe is not fatal: some tools (e.g.
		// sgdisk) exit nonzero on --version for unrelated reasons. We still
		// try to salvage a version string from stdout/stderr.
		if len(out) == 0 {
			return "", err
		}
	}

	scanner := bufio.NewScanner(strings.NewReader(string(out)))
	if scanner.Scan() {
		return strings.TrimSpace(scanner.Text()), nil
	}
	return "", nil
}

// Resolve locates name's binary, caching the result for the lifetime of the
// process (spec §4.A: "cached per process").
func (r *Registry) Resolve(name string) Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cached, ok := r.cache[name]; ok {
		return cached
	}

	entry, ok := r.entries[name]
	if !ok {
		status := Status{Name: name, Found: false}
		r.cache[name] = status
		return status
	}

	path, found := r.lookPath(entry.CandidatePaths)
	status := Status{Name: name, Found: found, Path: path}
	if found {
		version, err := r.probeVersion(path, entry.VersionFlag)
		if err != nil {
			klog.V(2).Infof("sidecar %s: version probe failed: %s", name, err)
		}
		status.Version = version
	}

	r.cache[name] = status
	return status
}

// StatusAll returns the resolution status of every catalog entry, for the
// UI's sidecar status screen (spec §4.A `status_all`).
func (r *Registry) StatusAll() []Status {
	out := make([]Status, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.Resolve(name))
	}
	return out
}

// Require resolves every name in names and returns a [oxierr.DriverError]
// for the first one not found, or nil if all are present. Resolution
// failures are not fatal at startup; they only become blockers here, when
// an operation that needs them is dispatched (spec §4.A policy).
func (r *Registry) Require(names ...string) oxierr.DriverError {
	for _, name := range names {
		status := r.Resolve(name)
		if !status.Found {
			return oxierr.MissingSidecar(name)
		}
	}
	return nil
}

// Entry looks up the catalog entry for name, for callers that need the
// declared minimum version without forcing a resolution.
func (r *Registry) Entry(name string) (Entry, bool) {
	e, ok := r.entries[name]
	return e, ok
}

// Parser returns name's catalog LineParser, or nil if name is unknown or
// its family has none. Callers pass this straight into RunRequest.Parser
// so every sidecar invocation gets whatever progress parsing its family
// supports.
func (r *Registry) Parser(name string) LineParser {
	return r.entries[name].Parser
}
