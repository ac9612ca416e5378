// Package web exposes the device grid over HTTP: a JSON snapshot of
// the rendered grid, mutation endpoints for filter/sort/reconnect/sync,
// and a WebSocket event stream carrying render and patch messages.
package web

import (
	"sync"

	"github.com/rmfaria/rssigrid/internal/grid"
)

// Row is one rendered grid row: the joined device plus its derived
// signal presentation.
type Row struct {
	EntityID        string     `json:"entity_id"`
	Name            string     `json:"name"`
	RSSI            string     `json:"rssi"`
	MAC             string     `json:"mac"`
	IP              string     `json:"ip"`
	Presence        string     `json:"state"`
	TrackerEntityID string     `json:"tracker_entity_id"`
	Class           grid.Class `json:"signal_class"`
	Percentage      int        `json:"signal_percentage"`
	Weak            bool       `json:"weak"`
}

// GridState is the full rendered grid as served by GET /api/grid and
// pushed on every full render. Revision increments on every change,
// letting clients discard stale patches after a reconnect.
type GridState struct {
	Revision  uint64         `json:"revision"`
	Devices   []Row          `json:"devices"`
	Sort      grid.SortState `json:"sort"`
	Filter    string         `json:"filter"`
	Total     int            `json:"total"`
	WeakCount int            `json:"weak_count"`
}

// renderMessage is pushed over the event stream on a full render.
type renderMessage struct {
	Type string    `json:"type"`
	Grid GridState `json:"grid"`
}

// patchMessage is pushed when a single cell changed in place.
type patchMessage struct {
	Type     string `json:"type"`
	Revision uint64 `json:"revision"`
	Index    int    `json:"index"`
	Field    string `json:"field"`
	Row      Row    `json:"row"`
}

// GridView is the server-side rendering target for the reconciler. It
// keeps the current rows, derives the signal presentation per row, and
// forwards every change to the event stream.
type GridView struct {
	weakThreshold int
	broadcast     func(v any)

	mu       sync.RWMutex
	rows     []Row
	sort     grid.SortState
	filter   string
	revision uint64
}

// NewGridView creates a view. broadcast may be nil (no event stream).
func NewGridView(weakThreshold int, broadcast func(v any)) *GridView {
	return &GridView{weakThreshold: weakThreshold, broadcast: broadcast}
}

func (v *GridView) toRow(d grid.Device) Row {
	info := grid.SignalInfo(d.Signal)
	return Row{
		EntityID:        d.EntityID,
		Name:            d.Name,
		RSSI:            d.Signal,
		MAC:             d.MAC,
		IP:              d.IP,
		Presence:        d.Presence,
		TrackerEntityID: d.TrackerEntityID,
		Class:           info.Class,
		Percentage:      info.Percentage,
		Weak:            info.Valid && info.Percentage < v.weakThreshold,
	}
}

// RenderFull implements grid.View.
func (v *GridView) RenderFull(devices []grid.Device, sort grid.SortState, filter string) {
	rows := make([]Row, len(devices))
	for i, d := range devices {
		rows[i] = v.toRow(d)
	}

	v.mu.Lock()
	v.rows = rows
	v.sort = sort
	v.filter = filter
	v.revision++
	state := v.stateLocked()
	v.mu.Unlock()

	if v.broadcast != nil {
		v.broadcast(renderMessage{Type: "render", Grid: state})
	}
}

// UpdateCell implements grid.View. Out-of-range indexes are ignored;
// the reconciler only patches rows it rendered, so a mismatch means a
// render is already in flight.
func (v *GridView) UpdateCell(index int, field grid.Field, d grid.Device) {
	v.mu.Lock()
	if index < 0 || index >= len(v.rows) {
		v.mu.Unlock()
		return
	}
	row := v.toRow(d)
	v.rows[index] = row
	v.revision++
	rev := v.revision
	v.mu.Unlock()

	if v.broadcast != nil {
		v.broadcast(patchMessage{
			Type:     "patch",
			Revision: rev,
			Index:    index,
			Field:    string(field),
			Row:      row,
		})
	}
}

func (v *GridView) stateLocked() GridState {
	rows := make([]Row, len(v.rows))
	copy(rows, v.rows)
	weak := 0
	for _, r := range rows {
		if r.Weak {
			weak++
		}
	}
	return GridState{
		Revision:  v.revision,
		Devices:   rows,
		Sort:      v.sort,
		Filter:    v.filter,
		Total:     len(rows),
		WeakCount: weak,
	}
}

// Snapshot returns the current rendered grid.
func (v *GridView) Snapshot() GridState {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.stateLocked()
}
