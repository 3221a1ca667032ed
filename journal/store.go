// Package journal implements the Journal Store (spec §4.D): the single-slot
// persistent record of an in-flight byte-copy operation (move/copy/flash/
// backup), written atomically so that an abrupt process termination can be
// detected and repaired on the next startup.
package journal

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oxidisk/oxidisk/model"
	"github.com/oxidisk/oxidisk/oxierr"
)

// checkpointMinInterval and checkpointMinBytes bound how often Checkpoint
// actually touches disk (spec §4.D: "rate-limited at most every ~1 MiB or
// 250 ms").
const (
	checkpointMinInterval = 250 * time.Millisecond
	checkpointMinBytes    = 1 << 20
)

// Store is the single-slot journal at a well-known path. Only the
// Dispatcher is expected to hold a Store open while an operation executes
// (spec §5 "the journal slot is single-writer").
type Store struct {
	path string

	mu              sync.Mutex
	lastCheckpoint  time.Time
	bytesSinceFlush int64
	current         *model.JournalRecord
}

// New builds a Store backed by path. The containing directory must already
// exist; New does not create it.
func New(path string) *Store {
	return &Store{path: path}
}

// Begin writes record atomically (temp-file + rename) before any
// destructive block write starts (spec §4.D `begin`).
func (s *Store) Begin(record model.JournalRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record.LastCopied = 0
	record.UpdatedAt = time.Now()

	if err := s.writeAtomic(record); err != nil {
		return oxierr.ErrIO.Wrap(err)
	}

	copied := record
	s.current = &copied
	s.lastCheckpoint = record.UpdatedAt
	s.bytesSinceFlush = 0
	return nil
}

// Checkpoint records progress since the last flush. It only actually
// writes to disk when the rate limit allows it, unless force is true (used
// for the final checkpoint immediately before Commit).
func (s *Store) Checkpoint(lastCopied int64, force bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return oxierr.ErrCorrupted.WithMessage("checkpoint with no open journal")
	}

	delta := lastCopied - s.current.LastCopied
	s.current.LastCopied = lastCopied
	now := time.Now()

	dueToTime := now.Sub(s.lastCheckpoint) >= checkpointMinInterval
	dueToBytes := s.bytesSinceFlush+delta >= checkpointMinBytes
	if !force && !dueToTime && !dueToBytes {
		s.bytesSinceFlush += delta
		return nil
	}

	s.current.UpdatedAt = now
	if err := s.writeAtomic(*s.current); err != nil {
		return oxierr.ErrIO.Wrap(err)
	}
	s.lastCheckpoint = now
	s.bytesSinceFlush = 0
	return nil
}

// Commit clears the journal slot after a successful operation.
func (s *Store) Commit() error {
	return s.clear()
}

// Abort clears the journal slot after a cancelled or failed operation for
// which the journal is no longer meaningful (e.g. nothing was written
// yet).
func (s *Store) Abort() error {
	return s.clear()
}

func (s *Store) clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.current = nil
	err := os.Remove(s.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return oxierr.ErrIO.Wrap(err)
	}
	return nil
}

// Peek reports the persisted journal record, if any, without taking
// ownership of it. It is called once at engine startup (spec §4.D).
func (s *Store) Peek() (*model.JournalRecord, error) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, oxierr.ErrIO.Wrap(err)
	}

	var record model.JournalRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, oxierr.ErrCorrupted.WithMessage("journal file is not valid JSON")
	}
	return &record, nil
}

// writeAtomic serializes record to JSON and writes it via temp-file +
// rename at 0600 permissions (spec §6 "Persisted state").
func (s *Store) writeAtomic(record model.JournalRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".journal-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Chmod(tmpPath, 0o600); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, s.path)
}
