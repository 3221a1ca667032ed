//go:build !linux

package inspector

import (
	"context"

	"github.com/oxidisk/oxidisk/oxierr"
)

// unsupportedSource is the platform source stub for hosts without a sysfs
// topology reader wired in yet. The GUI host is expected to supply its own
// [Source] (backed by diskutil on macOS or a WMI bridge on Windows) rather
// than rely on this stub in production.
type unsupportedSource struct{}

// NewPlatformSource returns the production [Source] for the current
// platform.
func NewPlatformSource() Source {
	return unsupportedSource{}
}

func (unsupportedSource) ListRaw(ctx context.Context) ([]RawDevice, error) {
	return nil, oxierr.ErrUnsupported.WithMessage("no topology source wired for this platform")
}
