package oxierr

import (
	"fmt"
	"strings"
)

// Blockers builds a [DriverError] for ErrPreflightBlocked carrying the
// ordered list of blocker descriptions from a preflight verdict.
func Blockers(blockers []string) DriverError {
	return ErrPreflightBlocked.WithMessage(strings.Join(blockers, "; "))
}

// Busy builds a [DriverError] for ErrBusy naming the operation currently
// holding the dispatcher's serial lock.
func Busy(operation string) DriverError {
	return ErrBusy.WithMessage(fmt.Sprintf("operation %q is active", operation))
}

// Protected builds a [DriverError] for ErrProtected naming the reason a
// target was refused.
func Protected(reason string) DriverError {
	return ErrProtected.WithMessage(reason)
}

// MissingSidecar builds a [DriverError] for ErrMissingSidecar naming the
// absent binary.
func MissingSidecar(name string) DriverError {
	return ErrMissingSidecar.WithMessage(fmt.Sprintf("binary %q not found", name))
}

// InvalidInput builds a [DriverError] for ErrInvalidInput naming the
// offending field and the rule it violated.
func InvalidInput(field, reason string) DriverError {
	return ErrInvalidInput.WithMessage(fmt.Sprintf("field %q: %s", field, reason))
}

// SubprocessFailed builds a [DriverError] for ErrSubprocessFailed, carrying
// the sidecar binary name, its exit code, and a truncated tail of stderr.
func SubprocessFailed(binary string, exitCode int, stderrTail string) DriverError {
	const maxTail = 2048
	if len(stderrTail) > maxTail {
		stderrTail = stderrTail[len(stderrTail)-maxTail:]
	}
	return ErrSubprocessFailed.WithMessage(
		fmt.Sprintf("%s exited %d: %s", binary, exitCode, stderrTail),
	)
}

// VerificationFailed builds a [DriverError] for ErrVerificationFailed
// carrying the expected and actual hash digests.
func VerificationFailed(expected, actual string) DriverError {
	return ErrVerificationFailed.WithMessage(
		fmt.Sprintf("expected %s, got %s", expected, actual),
	)
}

// Unsupported builds a [DriverError] for ErrUnsupported naming the
// unsupported mode or request (spec §4.I's FAT32 two-partition fallback).
func Unsupported(reason string) DriverError {
	return ErrUnsupported.WithMessage(reason)
}

// Corrupted builds a [DriverError] for ErrCorrupted carrying a diagnostic
// derived from the journal record that could not be safely repaired.
func Corrupted(diagnostic string) DriverError {
	return ErrCorrupted.WithMessage(diagnostic)
}
