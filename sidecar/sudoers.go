package sidecar

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/oxidisk/oxidisk/oxierr"
)

// SudoersRequest describes one `install_sudoers_helper` call (spec §6):
// a sudoers.d fragment granting a specific user no-password execution of
// the registry's resolved sidecar binaries through a specific helper
// executable.
type SudoersRequest struct {
	Path       string // target file, e.g. /etc/sudoers.d/oxidisk
	User       string
	HelperPath string
}

// InstallSudoersFragment renders and atomically writes the sudoers
// fragment for req (spec §6 `install_sudoers_helper`). Applying it twice
// with the same registry state and request produces a byte-equal file
// (spec §8 "applied twice leaves a byte-equal fragment"), since the
// rendered content depends only on req and the registry's currently
// resolved binaries, sorted for determinism.
func InstallSudoersFragment(reg *Registry, req SudoersRequest) error {
	if req.Path == "" || req.User == "" || req.HelperPath == "" {
		return oxierr.InvalidInput("sudoers_request", "path, user, and helper_path are all required")
	}

	fragment := renderSudoersFragment(req.User, req.HelperPath, resolvedBinaryPaths(reg))
	return writeSudoersAtomic(req.Path, fragment)
}

// RemoveSudoersFragment deletes the fragment at path, if present (spec §6
// reversibility: install_sudoers_helper's effect can always be undone by
// removing the one file it wrote). Removing an already-absent fragment is
// not an error.
func RemoveSudoersFragment(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return oxierr.ErrIO.Wrap(err)
	}
	return nil
}

// resolvedBinaryPaths returns the absolute paths of every catalog entry
// the registry has successfully resolved, sorted for deterministic
// fragment rendering.
func resolvedBinaryPaths(reg *Registry) []string {
	var paths []string
	for _, status := range reg.StatusAll() {
		if status.Found && status.Path != "" {
			paths = append(paths, status.Path)
		}
	}
	sort.Strings(paths)
	return paths
}

// renderSudoersFragment builds the fragment text: one NOPASSWD rule
// granting user execution of helperPath, restricted to invoking it with
// each resolved binary as its first argument. A helper-mediated grant
// (rather than granting the raw binaries directly) keeps the attack
// surface to "run oxidisk's own helper", matching spec §6's wording
// ("execution of the declared sidecar binaries by a specific user to a
// specific helper executable").
func renderSudoersFragment(user, helperPath string, binaries []string) string {
	var b strings.Builder
	b.WriteString("# Managed by oxidisk. Do not edit by hand.\n")
	for _, bin := range binaries {
		fmt.Fprintf(&b, "%s ALL=(root) NOPASSWD: %s %s *\n", user, helperPath, bin)
	}
	return b.String()
}

// writeSudoersAtomic writes content to path via temp-file + rename at the
// 0440 permissions sudoers.d requires, mirroring the Journal Store's
// atomic temp-then-move write discipline (spec §4.D's pattern, reused here
// for a second file the engine must never leave half-written).
func writeSudoersAtomic(path, content string) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".sudoers-*.tmp")
	if err != nil {
		return oxierr.ErrIO.Wrap(err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return oxierr.ErrIO.Wrap(err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return oxierr.ErrIO.Wrap(err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return oxierr.ErrIO.Wrap(err)
	}
	if err := os.Chmod(tmpPath, 0o440); err != nil {
		os.Remove(tmpPath)
		return oxierr.ErrIO.Wrap(err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return oxierr.ErrIO.Wrap(err)
	}
	return nil
}
