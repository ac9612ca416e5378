package grid

import (
	"sync"
	"testing"
	"time"
)

// recordingView captures render instructions for assertions.
type recordingView struct {
	mu          sync.Mutex
	fullRenders [][]Device
	cellUpdates []cellUpdate
}

type cellUpdate struct {
	index  int
	field  Field
	device Device
}

func (v *recordingView) RenderFull(devices []Device, sort SortState, filter string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.fullRenders = append(v.fullRenders, devices)
}

func (v *recordingView) UpdateCell(index int, field Field, d Device) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cellUpdates = append(v.cellUpdates, cellUpdate{index, field, d})
}

func (v *recordingView) counts() (full, cells int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.fullRenders), len(v.cellUpdates)
}

func testSnapshot(signal, presence string) Snapshot {
	return Snapshot{
		States: map[string]EntityState{
			"sensor.phone_rssi": {State: signal},
			"device_tracker.phone": {State: presence, Attributes: map[string]any{
				"mac": "aa:bb:cc:dd:ee:ff", "ip": "192.168.1.2",
			}},
		},
		Devices: map[string]string{
			"sensor.phone_rssi":    "dev1",
			"device_tracker.phone": "dev1",
		},
	}
}

func newTestReconciler(view View) *Reconciler {
	return NewReconciler(ReconcilerConfig{
		Options:        DefaultJoinOptions(),
		InitialSort:    SortState{Column: "name"},
		CoalesceWindow: time.Hour, // tests drive execution via Flush
		View:           view,
	})
}

func TestReconciler_FirstNotifyFullRebuild(t *testing.T) {
	view := &recordingView{}
	r := newTestReconciler(view)

	r.Notify(testSnapshot("-65", "home"))
	r.Flush()

	full, cells := view.counts()
	if full != 1 {
		t.Fatalf("expected 1 full render, got %d", full)
	}
	if cells != 0 {
		t.Errorf("expected no cell updates on first render, got %d", cells)
	}
	if len(r.Devices()) != 1 {
		t.Errorf("expected 1 device cached")
	}
}

func TestReconciler_FlushRacingTimerRunsOnce(t *testing.T) {
	view := &recordingView{}
	r := NewReconciler(ReconcilerConfig{
		Options:        DefaultJoinOptions(),
		InitialSort:    SortState{Column: "name"},
		CoalesceWindow: time.Millisecond,
		View:           view,
	})

	// Land Flush right around the timer deadline repeatedly, so Flush
	// keeps hitting both the stopped-in-time and already-fired paths.
	// Every iteration forces a rebuild; exactly one render each.
	const n = 50
	for i := 0; i < n; i++ {
		r.Invalidate()
		r.Notify(testSnapshot("-65", "home"))
		time.Sleep(time.Millisecond)
		r.Flush()
	}

	full, _ := view.counts()
	if full != n {
		t.Errorf("got %d renders for %d forced rebuilds, want %d", full, n, n)
	}
}

func TestReconciler_PatchUpdatesOnlyChangedField(t *testing.T) {
	view := &recordingView{}
	r := newTestReconciler(view)

	r.Notify(testSnapshot("-65", "home"))
	r.Flush()
	before := r.Devices()[0]

	r.Notify(testSnapshot("-50", "home"))
	r.Flush()

	full, cells := view.counts()
	if full != 1 {
		t.Fatalf("patch path should not full-render, got %d full renders", full)
	}
	if cells != 1 {
		t.Fatalf("expected exactly 1 cell update, got %d", cells)
	}
	if view.cellUpdates[0].field != FieldSignal {
		t.Errorf("updated field = %q, want rssi", view.cellUpdates[0].field)
	}

	after := r.Devices()[0]
	if after.Signal != "-50" {
		t.Errorf("Signal = %q, want -50", after.Signal)
	}
	if after.Name != before.Name || after.MAC != before.MAC || after.IP != before.IP {
		t.Error("patch must leave name/MAC/IP untouched")
	}
	if len(r.Devices()) != 1 {
		t.Error("patch must never change device count")
	}
}

func TestReconciler_PatchUpdatesPresence(t *testing.T) {
	view := &recordingView{}
	r := newTestReconciler(view)

	r.Notify(testSnapshot("-65", "home"))
	r.Flush()

	r.Notify(testSnapshot("-65", "not_home"))
	r.Flush()

	_, cells := view.counts()
	if cells != 1 {
		t.Fatalf("expected 1 cell update, got %d", cells)
	}
	if view.cellUpdates[0].field != FieldPresence {
		t.Errorf("updated field = %q, want state", view.cellUpdates[0].field)
	}
}

func TestReconciler_NoChangesNoUpdates(t *testing.T) {
	view := &recordingView{}
	r := newTestReconciler(view)

	r.Notify(testSnapshot("-65", "home"))
	r.Flush()
	r.Notify(testSnapshot("-65", "home"))
	r.Flush()

	full, cells := view.counts()
	if full != 1 || cells != 0 {
		t.Errorf("identical snapshot triggered work: full=%d cells=%d", full, cells)
	}
}

func TestReconciler_FilterChangeForcesRebuild(t *testing.T) {
	view := &recordingView{}
	r := newTestReconciler(view)

	r.Notify(testSnapshot("-65", "home"))
	r.Flush()

	r.SetFilter("nomatch")
	r.Flush()

	full, _ := view.counts()
	if full != 2 {
		t.Fatalf("filter change should full-render, got %d renders", full)
	}
	if len(r.Devices()) != 0 {
		t.Errorf("filter 'nomatch' should leave 0 devices, got %d", len(r.Devices()))
	}

	// Same filter again is a no-op.
	r.SetFilter("nomatch")
	r.Flush()
	if full, _ = view.counts(); full != 2 {
		t.Errorf("setting identical filter should not schedule, got %d renders", full)
	}
}

func TestReconciler_InvalidateForcesRebuild(t *testing.T) {
	view := &recordingView{}
	r := newTestReconciler(view)

	r.Notify(testSnapshot("-65", "home"))
	r.Flush()

	r.Invalidate()
	r.Flush()

	full, _ := view.counts()
	if full != 2 {
		t.Errorf("Invalidate should force a full rebuild, got %d renders", full)
	}
}

func TestReconciler_CoalescesBursts(t *testing.T) {
	view := &recordingView{}
	r := newTestReconciler(view)

	// A burst of notifications within the window runs once, with the
	// freshest snapshot.
	r.Notify(testSnapshot("-80", "home"))
	r.Notify(testSnapshot("-70", "home"))
	r.Notify(testSnapshot("-42", "home"))
	r.Flush()

	full, _ := view.counts()
	if full != 1 {
		t.Fatalf("burst should coalesce to 1 execution, got %d", full)
	}
	if got := r.Devices()[0].Signal; got != "-42" {
		t.Errorf("coalesced run used stale snapshot: Signal = %q, want -42", got)
	}
}

func TestReconciler_SetSortTogglesDirection(t *testing.T) {
	view := &recordingView{}
	r := newTestReconciler(view)

	r.Notify(testSnapshot("-65", "home"))
	r.Flush()

	r.SetSort("rssi")
	if s := r.SortState(); s.Column != "rssi" || s.Descending {
		t.Errorf("new column should start ascending, got %+v", s)
	}
	r.SetSort("rssi")
	if s := r.SortState(); !s.Descending {
		t.Errorf("same column should flip direction, got %+v", s)
	}

	full, _ := view.counts()
	if full != 3 {
		t.Errorf("each sort change should re-render, got %d renders", full)
	}
}

func TestReconciler_StructuralChangeNeedsRebuild(t *testing.T) {
	view := &recordingView{}
	r := newTestReconciler(view)

	r.Notify(testSnapshot("-65", "home"))
	r.Flush()

	// A second device appears upstream. The patch path must not pick
	// it up; only an explicit invalidation does.
	snap := testSnapshot("-65", "home")
	snap.States["sensor.tablet_rssi"] = EntityState{State: "-70"}
	snap.States["device_tracker.tablet"] = EntityState{State: "home", Attributes: map[string]any{"mac": "11:22"}}
	snap.Devices["sensor.tablet_rssi"] = "dev2"
	snap.Devices["device_tracker.tablet"] = "dev2"

	r.Notify(snap)
	r.Flush()
	if len(r.Devices()) != 1 {
		t.Fatalf("patch path must not add devices, got %d", len(r.Devices()))
	}

	r.Invalidate()
	r.Flush()
	if len(r.Devices()) != 2 {
		t.Fatalf("rebuild should discover the new device, got %d", len(r.Devices()))
	}
}
