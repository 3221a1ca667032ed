// Package dispatch implements the Operation Dispatcher (spec §4.F): the
// single serial queue of at most one active destructive operation. It
// enforces preflight freshness, owns the journal handle exclusively while
// an operation runs, and maps every failure onto the engine's unified
// error taxonomy.
package dispatch

import (
	"context"
	"errors"
	"sync"

	"github.com/oxidisk/oxidisk/bus"
	"github.com/oxidisk/oxidisk/journal"
	"github.com/oxidisk/oxidisk/model"
	"github.com/oxidisk/oxidisk/oxierr"
)

// JournalPlan is the record the Dispatcher will persist via the Journal
// Store before calling Run, for operations that perform a byte-level copy
// (move/copy/flash/backup). nil on an [ExecuteRequest] means the operation
// is not journaled.
type JournalPlan struct {
	Operation model.JournalOperation
	Device    string
	Disk      string
	SrcOffset int64
	DstOffset int64
	Size      int64
	BlockSize int64
}

// RunFunc is supplied by the Partition Operations (G), Resize/Move (H), or
// Image (I) components. It receives the shared bus to emit progress/log
// events on, and a checkpoint function that records copy progress with the
// Dispatcher's journal -- RunFunc never touches the journal file directly
// (spec §9 "never touch the file from component code").
type RunFunc func(ctx context.Context, b *bus.Bus, checkpoint func(lastCopied int64)) (model.Result, error)

// ExecuteRequest bundles everything Dispatch needs to run one operation.
type ExecuteRequest struct {
	Key     model.VerdictKey
	Journal *JournalPlan
	Run     RunFunc
}

// Dispatcher is the engine's single serial queue.
type Dispatcher struct {
	mu       sync.Mutex
	state    State
	activeOp model.Operation
	verdicts map[string]*model.Verdict

	bus     *bus.Bus
	journal *journal.Store
}

// New builds an idle Dispatcher over the given bus and journal store.
func New(b *bus.Bus, j *journal.Store) *Dispatcher {
	return &Dispatcher{
		state:    Idle,
		verdicts: make(map[string]*model.Verdict),
		bus:      b,
		journal:  j,
	}
}

// SubmitVerdict registers a freshly computed preflight verdict, keyed by
// its target. A later Execute against that target only proceeds if its
// request key matches this verdict's key exactly (spec §3 "fresh
// verdict").
func (d *Dispatcher) SubmitVerdict(v *model.Verdict) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.verdicts[v.Key.Target] = v
}

// State reports the Dispatcher's current state, for UI/test introspection.
func (d *Dispatcher) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *Dispatcher) transition(next State) {
	// A programmer error here (an illegal edge) indicates a bug in this
	// package, not caller input; panicking surfaces it immediately in
	// tests instead of silently corrupting the state machine.
	if !d.state.canTransitionTo(next) {
		panic("dispatch: illegal state transition " + d.state.String() + " -> " + next.String())
	}
	d.state = next
}

// Execute runs one operation end to end: busy check, preflight freshness,
// serial lock, journal lifecycle, and unified error mapping (spec §4.F).
func (d *Dispatcher) Execute(ctx context.Context, req ExecuteRequest) (model.Result, error) {
	if err := d.acquire(req.Key.Operation); err != nil {
		return model.Result{}, err
	}
	defer d.release()

	d.transition(Validating)

	verdict, err := d.checkVerdict(req.Key)
	if err != nil {
		d.transition(Failed)
		d.transition(Idle)
		return model.Result{}, err
	}
	_ = verdict
	d.transition(Prepared)

	d.bus.Reset()
	d.transition(Running)

	if req.Journal != nil {
		record := model.JournalRecord{
			Operation: req.Journal.Operation,
			Device:    req.Journal.Device,
			Disk:      req.Journal.Disk,
			SrcOffset: req.Journal.SrcOffset,
			DstOffset: req.Journal.DstOffset,
			Size:      req.Journal.Size,
			BlockSize: req.Journal.BlockSize,
		}
		if err := d.journal.Begin(record); err != nil {
			d.transition(Failed)
			d.transition(Idle)
			return model.Result{}, err
		}
	}

	// lastCopied tracks the most recent checkpoint call in memory. The
	// on-disk journal record lags behind it (journal.Checkpoint rate-limits
	// writes to ~1 MiB/250 ms), so finishJournalOnFailure must consult this
	// rather than read the journal back to decide whether real bytes hit
	// the disk.
	var lastCopied int64
	checkpoint := func(copied int64) {
		lastCopied = copied
		if req.Journal != nil {
			_ = d.journal.Checkpoint(copied, false)
		}
	}

	result, runErr := req.Run(ctx, d.bus, checkpoint)

	if runErr != nil {
		if errors.Is(runErr, oxierr.ErrCancelled) {
			d.transition(Cancelling)
		}
		d.finishJournalOnFailure(req.Journal, lastCopied)
		d.transition(Failed)
		d.transition(Idle)
		return result, runErr
	}

	if req.Journal != nil {
		_ = d.journal.Commit()
	}
	d.transition(Completed)
	d.transition(Idle)
	return result, nil
}

// finishJournalOnFailure clears the journal only if the operation never
// got far enough to write anything unsafe to discard (spec §4.E: "clear
// the journal if the operation never started writing"). Otherwise the
// record is preserved for the crash-recovery / repair path.
//
// lastCopied is the Dispatcher's own last-known checkpoint value, not the
// on-disk journal record: journal.Checkpoint rate-limits writes to ~1
// MiB/250 ms, so with a small caller-chosen BlockSize the on-disk record
// can still read 0 after real bytes were written. Trusting that value
// here would Abort() a journal the device's partial write still needs.
func (d *Dispatcher) finishJournalOnFailure(plan *JournalPlan, lastCopied int64) {
	if plan == nil {
		return
	}
	if lastCopied == 0 {
		_ = d.journal.Abort()
	}
}

func (d *Dispatcher) acquire(op model.Operation) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.activeOp != "" {
		return oxierr.Busy(string(d.activeOp))
	}
	d.activeOp = op
	return nil
}

func (d *Dispatcher) release() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.activeOp = ""
}

func (d *Dispatcher) checkVerdict(key model.VerdictKey) (*model.Verdict, error) {
	d.mu.Lock()
	stored, ok := d.verdicts[key.Target]
	d.mu.Unlock()

	if !ok {
		return nil, oxierr.ErrPreflightRequired.WithMessage(string(key.Target))
	}
	if stored.Key != key {
		return nil, oxierr.ErrPreflightStale.WithMessage(key.String())
	}
	if !stored.OK {
		return nil, oxierr.Blockers(stored.Blockers)
	}
	return stored, nil
}
