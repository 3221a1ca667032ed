package model

import "time"

// JournalOperation is the subset of [Operation] values that perform a
// byte-level copy and therefore need crash-safe journaling (spec §3).
type JournalOperation string

const (
	JournalMove   JournalOperation = "move"
	JournalCopy   JournalOperation = "copy"
	JournalFlash  JournalOperation = "flash"
	JournalBackup JournalOperation = "backup"
)

// JournalRecord is the single-slot persisted record describing an in-flight
// byte-copy operation. Its presence at startup means an operation was
// interrupted (spec §3 "Operation journal").
type JournalRecord struct {
	Operation  JournalOperation
	Device     string
	Disk       string // parent device
	SrcOffset  int64  // optional; 0 if not applicable
	DstOffset  int64  // optional; 0 if not applicable
	Size       int64
	BlockSize  int64
	LastCopied int64
	UpdatedAt  time.Time
}
