package grid

import (
	"log/slog"
	"sync"
	"time"
)

// Field identifies a device cell the patch path can update in place.
type Field string

const (
	FieldSignal   Field = "rssi"
	FieldPresence Field = "state"
)

// View receives render instructions from the reconciler. RenderFull
// replaces the whole visible list; UpdateCell refreshes a single value
// of one row without a structural rebuild. Implementations must not
// call back into the Reconciler from these methods.
type View interface {
	RenderFull(devices []Device, sort SortState, filter string)
	UpdateCell(index int, field Field, d Device)
}

// ReconcilerConfig configures a Reconciler.
type ReconcilerConfig struct {
	Options     JoinOptions
	MaxDevices  int
	InitialSort SortState

	// CoalesceWindow bounds how often a burst of notifications turns
	// into work: all notifications within the window collapse into one
	// execution using the freshest snapshot.
	CoalesceWindow time.Duration

	View   View
	Logger *slog.Logger
}

// Reconciler decides, on every upstream state notification, whether to
// rebuild the device list from scratch or patch the existing one.
//
// The first notification, a filter change, and an explicit Invalidate
// all force a full rebuild (join, filter, sort, complete render).
// Otherwise only the signal and presence cells of existing rows are
// compared against the new snapshot and patched in place; the patch
// path never re-derives the join, so no device appears or disappears
// from it.
//
// At most one execution is ever pending: notifications arriving while
// one is scheduled do not queue another, they just refresh the
// snapshot the pending execution will use.
type Reconciler struct {
	cfg ReconcilerConfig

	mu          sync.Mutex
	initialized bool
	filter      string
	filterDirty bool
	forceFull   bool
	sortState   SortState
	devices     []Device
	latest      *Snapshot
	timer       *time.Timer
	pending     bool
}

// NewReconciler creates a reconciler in the uninitialized state.
func NewReconciler(cfg ReconcilerConfig) *Reconciler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.CoalesceWindow <= 0 {
		cfg.CoalesceWindow = 50 * time.Millisecond
	}
	return &Reconciler{
		cfg:       cfg,
		sortState: cfg.InitialSort,
	}
}

// Notify hands the reconciler a fresh snapshot. Cheap: work happens
// when the coalescing window fires.
func (r *Reconciler) Notify(snap Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.latest = &snap
	r.schedule()
}

// SetFilter updates the free-text filter. A changed filter forces the
// next execution down the full rebuild path.
func (r *Reconciler) SetFilter(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if text == r.filter {
		return
	}
	r.filter = text
	r.filterDirty = true
	r.schedule()
}

// SetSort selects the sort column. Selecting the current column flips
// the direction; a new column starts ascending. The cached list is
// re-sorted and re-rendered without re-deriving the join.
func (r *Reconciler) SetSort(column string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sortState.Column == column {
		r.sortState.Descending = !r.sortState.Descending
	} else {
		r.sortState = SortState{Column: column}
	}
	Sort(r.devices, r.sortState)
	r.render()
}

// Invalidate requests a full rebuild on the next execution. Called
// after bulk reconnect or name sync completes, when devices may have
// structurally changed.
func (r *Reconciler) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.forceFull = true
	r.schedule()
}

// Devices returns a copy of the current device list. The copy keeps
// callers (weak-device selection, the bulk queue) from observing
// in-place patches mid-iteration.
func (r *Reconciler) Devices() []Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Device, len(r.devices))
	copy(out, r.devices)
	return out
}

// SortState returns the current column ordering.
func (r *Reconciler) SortState() SortState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sortState
}

// Filter returns the current free-text filter.
func (r *Reconciler) Filter() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.filter
}

// Flush runs any pending execution immediately. Test hook; production
// code lets the coalescing timer fire.
func (r *Reconciler) Flush() {
	r.mu.Lock()
	if !r.pending {
		r.mu.Unlock()
		return
	}
	// If Stop reports false the timer already fired and its run() is
	// underway; executing here as well would run back to back. Wait for
	// the timer's run to clear pending instead.
	if r.timer != nil && !r.timer.Stop() {
		r.mu.Unlock()
		for {
			r.mu.Lock()
			done := !r.pending
			r.mu.Unlock()
			if done {
				return
			}
			time.Sleep(time.Millisecond)
		}
	}
	r.mu.Unlock()
	r.run()
}

// schedule arms the coalescing timer unless an execution is already
// pending. Caller holds r.mu.
func (r *Reconciler) schedule() {
	if r.pending {
		return
	}
	r.pending = true
	r.timer = time.AfterFunc(r.cfg.CoalesceWindow, r.run)
}

// run executes one rebuild or patch using the freshest snapshot.
func (r *Reconciler) run() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.pending = false
	if r.latest == nil {
		return
	}
	snap := *r.latest

	if !r.initialized || r.filterDirty || r.forceFull {
		r.rebuild(snap)
		return
	}
	r.patch(snap)
}

// rebuild re-derives the full device list and renders it. Caller
// holds r.mu.
func (r *Reconciler) rebuild(snap Snapshot) {
	joined := Join(snap, r.cfg.Options)
	filtered := Filter(joined, r.filter)
	Sort(filtered, r.sortState)
	r.devices = Truncate(filtered, r.cfg.MaxDevices)

	r.initialized = true
	r.filterDirty = false
	r.forceFull = false

	r.cfg.Logger.Debug("grid rebuilt", "devices", len(r.devices), "filter", r.filter)
	r.render()
}

// patch compares each cached device's signal and presence against the
// snapshot and updates changed cells in place. Never resizes the list.
// Caller holds r.mu.
func (r *Reconciler) patch(snap Snapshot) {
	for i := range r.devices {
		d := &r.devices[i]

		if st, ok := snap.States[d.EntityID]; ok && st.State != d.Signal {
			d.Signal = st.State
			if r.cfg.View != nil {
				r.cfg.View.UpdateCell(i, FieldSignal, *d)
			}
		}

		if st, ok := snap.States[d.TrackerEntityID]; ok && st.State != d.Presence {
			d.Presence = st.State
			if r.cfg.View != nil {
				r.cfg.View.UpdateCell(i, FieldPresence, *d)
			}
		}
	}
}

// render pushes the full current list to the view. Caller holds r.mu.
func (r *Reconciler) render() {
	if r.cfg.View == nil {
		return
	}
	out := make([]Device, len(r.devices))
	copy(out, r.devices)
	r.cfg.View.RenderFull(out, r.sortState, r.filter)
}
