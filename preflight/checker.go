// Package preflight implements the Preflight Checker (spec §4.C): a
// read-only, freely-repeatable composition of independent safety checks
// that produces a keyed pass/warn/block [model.Verdict]. The checker never
// mutates state.
package preflight

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/oxidisk/oxidisk/inspector"
	"github.com/oxidisk/oxidisk/model"
	"github.com/oxidisk/oxidisk/sidecar"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"
)

// Deadlines are the per-step soft deadlines from spec §5. Exceeding one
// downgrades that step's failure to a warning instead of a blocker.
type Deadlines struct {
	DiskListing    time.Duration
	FilesystemSane time.Duration
}

// DefaultDeadlines matches spec §5's suggested defaults.
var DefaultDeadlines = Deadlines{
	DiskListing:    5 * time.Second,
	FilesystemSane: 15 * time.Second,
}

// BusyProcessProbe reports which processes have target's filesystem open.
type BusyProcessProbe func(ctx context.Context, target string) ([]model.BusyProcess, error)

// BatteryProbe reports the host's current power state.
type BatteryProbe func() model.BatterySnapshot

// FSCheckProbe runs a read-only filesystem consistency check on target.
type FSCheckProbe func(ctx context.Context, target string) (model.FSCheckResult, error)

// Request is the input to a preflight run (spec §4.C "Input").
type Request struct {
	Operation        model.Operation
	Target           string // device or partition identifier
	FS               string // optional
	NewSize          int64  // optional
	TargetProtected  bool
	ProtectionReason model.ProtectionReason
	RequiredSidecars []string
	FreeBytes        int64 // for create/resize size plausibility
	CurrentSize      int64 // for resize plausibility
	MinFSSize        int64 // for resize plausibility (current_filesystem_min)
}

// Config bundles the Checker's dependencies and tunables.
type Config struct {
	Registry            *sidecar.Registry
	BusyProcesses       BusyProcessProbe
	Battery             BatteryProbe
	FSCheck             FSCheckProbe
	BatteryFloorPercent int
	Deadlines           Deadlines
}

// Checker composes the six sub-checks from spec §4.C into one verdict.
type Checker struct {
	cfg Config
}

// New builds a Checker. Any nil probe in cfg is treated as "this platform
// cannot answer the question" and contributes neither a blocker nor a
// warning for that step.
func New(cfg Config) *Checker {
	if cfg.BatteryFloorPercent == 0 {
		cfg.BatteryFloorPercent = 10
	}
	if cfg.Deadlines == (Deadlines{}) {
		cfg.Deadlines = DefaultDeadlines
	}
	return &Checker{cfg: cfg}
}

type collector struct {
	mu       sync.Mutex
	blockers []string
	warnings []string
	busy     []model.BusyProcess
	battery  model.BatterySnapshot
	sidecars []model.SidecarStatus
	fsCheck  *model.FSCheckResult
}

func (c *collector) addBlocker(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blockers = append(c.blockers, fmt.Sprintf(format, args...))
}

func (c *collector) addWarning(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.warnings = append(c.warnings, fmt.Sprintf(format, args...))
}

// Run executes all applicable sub-checks concurrently (spec §9: an
// errgroup of independent checks, each under its own soft deadline) and
// assembles the resulting [model.Verdict]. It returns an error only for a
// Checker misconfiguration; check failures land in the verdict itself.
func (c *Checker) Run(ctx context.Context, req Request) (*model.Verdict, error) {
	col := &collector{}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { c.checkProtection(req, col); return nil })
	g.Go(func() error { c.checkSidecars(req, col); return nil })
	g.Go(func() error { return c.checkBusyProcesses(gctx, req, col) })
	g.Go(func() error { c.checkBattery(req, col); return nil })
	g.Go(func() error { return c.checkFilesystemSanity(gctx, req, col) })
	g.Go(func() error { c.checkSizeAlignment(req, col); return nil })

	// The six checks above recover their own errors into blockers/warnings
	// and never return a non-nil error to the group; this aggregation
	// exists for the rare case a probe panics via a returned error path
	// added later, so one bad check doesn't silently vanish into a verdict
	// that looks clean.
	var merr *multierror.Error
	if err := g.Wait(); err != nil {
		merr = multierror.Append(merr, err)
	}
	if merr.ErrorOrNil() != nil {
		klog.V(2).Infof("preflight: sub-check errors: %s", merr)
	}

	verdict := &model.Verdict{
		Key: model.VerdictKey{
			Operation: req.Operation,
			Target:    req.Target,
			FS:        req.FS,
			NewSize:   req.NewSize,
		},
		Blockers:      col.blockers,
		Warnings:      col.warnings,
		BusyProcesses: col.busy,
		Battery:       col.battery,
		Sidecars:      col.sidecars,
		FSCheck:       col.fsCheck,
	}
	verdict.Finalize()
	return verdict, nil
}

// 1. Protection check.
func (c *Checker) checkProtection(req Request, col *collector) {
	if req.TargetProtected && req.Operation.IsDestructive() {
		col.addBlocker("protected:%s", req.ProtectionReason)
	}
}

// 2. Sidecar check.
func (c *Checker) checkSidecars(req Request, col *collector) {
	if c.cfg.Registry == nil {
		return
	}
	for _, name := range req.RequiredSidecars {
		status := c.cfg.Registry.Resolve(name)
		col.mu.Lock()
		col.sidecars = append(col.sidecars, model.SidecarStatus{
			Name: status.Name, Found: status.Found, Path: status.Path, Version: status.Version,
		})
		col.mu.Unlock()

		if !status.Found {
			col.addBlocker("missing sidecar: %s", name)
			continue
		}
		entry, ok := c.cfg.Registry.Entry(name)
		if ok && entry.MinVersion != "" && status.Version != "" && status.Version < entry.MinVersion {
			col.addWarning("sidecar %s version %s is below recommended %s", name, status.Version, entry.MinVersion)
		}
	}
}

// 3. Busy-process check.
func (c *Checker) checkBusyProcesses(ctx context.Context, req Request, col *collector) error {
	if c.cfg.BusyProcesses == nil {
		return nil
	}
	procs, err := c.cfg.BusyProcesses(ctx, req.Target)
	if err != nil {
		klog.V(2).Infof("preflight: busy-process probe failed: %s", err)
		return nil
	}
	if len(procs) > 0 {
		col.mu.Lock()
		col.busy = append(col.busy, procs...)
		col.mu.Unlock()
		col.addWarning("%d process(es) have %s open", len(procs), req.Target)
	}
	return nil
}

// 4. Battery check.
func (c *Checker) checkBattery(req Request, col *collector) {
	if c.cfg.Battery == nil {
		return
	}
	snapshot := c.cfg.Battery()
	col.mu.Lock()
	col.battery = snapshot
	col.mu.Unlock()

	if !snapshot.IsLaptop || snapshot.OnAC {
		return
	}
	if snapshot.Percent >= 0 && snapshot.Percent < c.cfg.BatteryFloorPercent {
		col.addBlocker("battery at %d%%, below floor of %d%%", snapshot.Percent, c.cfg.BatteryFloorPercent)
		return
	}
	col.addWarning("running on battery power")
}

// 5. Filesystem sanity, required for resize/move only.
func (c *Checker) checkFilesystemSanity(ctx context.Context, req Request, col *collector) error {
	if req.Operation != model.OpResize && req.Operation != model.OpMove {
		return nil
	}
	if c.cfg.FSCheck == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Deadlines.FilesystemSane)
	defer cancel()

	result, err := c.cfg.FSCheck(ctx, req.Target)
	if err != nil || ctx.Err() != nil {
		col.addWarning("filesystem sanity check timed out or errored for %s", req.Target)
		return nil
	}

	col.mu.Lock()
	col.fsCheck = &result
	col.mu.Unlock()

	if !result.OK {
		col.addBlocker("filesystem check failed: %s", result.Output)
	}
	return nil
}

// 6. Size/alignment plausibility, for create/resize only.
func (c *Checker) checkSizeAlignment(req Request, col *collector) {
	switch req.Operation {
	case model.OpCreate:
		if req.NewSize <= 0 {
			col.addBlocker("size must be positive")
			return
		}
		if req.NewSize > req.FreeBytes {
			col.addBlocker("size %d exceeds free space %d", req.NewSize, req.FreeBytes)
			return
		}
		if !inspector.IsAligned(req.NewSize) {
			col.addWarning("size %d is not aligned to 1 MiB", req.NewSize)
		}
	case model.OpResize:
		lower := req.MinFSSize
		upper := req.CurrentSize + req.FreeBytes
		if req.NewSize < lower || req.NewSize > upper {
			col.addBlocker("new size %d not in range [%d, %d]", req.NewSize, lower, upper)
			return
		}
		if !inspector.IsAligned(req.NewSize) {
			col.addWarning("size %d is not aligned to 1 MiB", req.NewSize)
		}
	}
}
