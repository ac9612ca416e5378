package homeassistant

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rmfaria/rssigrid/internal/grid"
)

// StateStream maintains a live mirror of Home Assistant entity states
// and the entity registry, and hands a fresh snapshot to its consumer
// every time something changes. The consumer (the grid reconciler)
// owns change detection; the stream only guarantees freshness.
type StateStream struct {
	rest *Client
	ws   *WSClient

	mu      sync.RWMutex
	states  map[string]grid.EntityState
	devices map[string]string // entity ID -> device ID

	notify func(grid.Snapshot)
	logger *slog.Logger
}

// NewStateStream creates a stream backed by the given REST and
// WebSocket clients. notify is called with a fresh snapshot after
// each change; it must not block.
func NewStateStream(rest *Client, ws *WSClient, notify func(grid.Snapshot), logger *slog.Logger) *StateStream {
	if logger == nil {
		logger = slog.Default()
	}
	return &StateStream{
		rest:    rest,
		ws:      ws,
		states:  make(map[string]grid.EntityState),
		devices: make(map[string]string),
		notify:  notify,
		logger:  logger,
	}
}

// Prime performs the initial full pull: all entity states plus the
// entity registry. Call once before Run.
func (s *StateStream) Prime(ctx context.Context) error {
	states, err := s.rest.GetStates(ctx)
	if err != nil {
		return fmt.Errorf("get states: %w", err)
	}

	entries, err := s.rest.GetEntityRegistry(ctx)
	if err != nil {
		return fmt.Errorf("get entity registry: %w", err)
	}

	s.mu.Lock()
	s.states = make(map[string]grid.EntityState, len(states))
	for _, st := range states {
		s.states[st.EntityID] = grid.EntityState{
			State:      st.State,
			Attributes: st.Attributes,
		}
	}
	s.devices = make(map[string]string, len(entries))
	for _, e := range entries {
		if e.IsDisabled() || e.DeviceID == "" {
			continue
		}
		s.devices[e.EntityID] = e.DeviceID
	}
	s.mu.Unlock()

	s.logger.Info("state mirror primed", "entities", len(states), "registry_entries", len(entries))
	s.publish()
	return nil
}

// RefreshRegistry re-pulls the entity registry. Needed after renames
// and integration reloads, which change registry rows without firing
// state_changed.
func (s *StateStream) RefreshRegistry(ctx context.Context) error {
	entries, err := s.rest.GetEntityRegistry(ctx)
	if err != nil {
		return fmt.Errorf("get entity registry: %w", err)
	}

	s.mu.Lock()
	s.devices = make(map[string]string, len(entries))
	for _, e := range entries {
		if e.IsDisabled() || e.DeviceID == "" {
			continue
		}
		s.devices[e.EntityID] = e.DeviceID
	}
	s.mu.Unlock()

	s.publish()
	return nil
}

// Run subscribes to state_changed and applies events until ctx is
// cancelled or the connection drops. Connection loss surfaces as an
// error return: the WebSocket read loop closes its Done channel when
// it exits.
func (s *StateStream) Run(ctx context.Context) error {
	if err := s.ws.Subscribe(ctx, "state_changed"); err != nil {
		return err
	}

	done := s.ws.Done()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-done:
			return fmt.Errorf("websocket connection lost")
		case ev := <-s.ws.Events():
			s.handleEvent(ev)
		}
	}
}

// RunWithReconnect wraps Run with redial-and-backoff. Reconnect
// restores the state_changed subscription itself; Run's own Subscribe
// is a no-op on the already-subscribed client.
func (s *StateStream) RunWithReconnect(ctx context.Context) {
	backoff := time.Second
	for {
		err := s.Run(ctx)
		if ctx.Err() != nil {
			return
		}
		s.logger.Warn("state stream stopped, reconnecting", "error", err, "backoff", backoff)

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}

		if err := s.ws.Reconnect(ctx); err != nil {
			s.logger.Error("WebSocket reconnect failed", "error", err)
			continue
		}
		backoff = time.Second

		// States may have moved while disconnected.
		if err := s.Prime(ctx); err != nil {
			s.logger.Error("re-prime after reconnect failed", "error", err)
		}
	}
}

func (s *StateStream) handleEvent(ev Event) {
	if ev.Type != "state_changed" {
		return
	}
	var data StateChangedData
	if err := json.Unmarshal(ev.Data, &data); err != nil {
		s.logger.Warn("malformed state_changed event", "error", err)
		return
	}

	s.mu.Lock()
	if data.NewState == nil {
		delete(s.states, data.EntityID)
	} else {
		s.states[data.EntityID] = grid.EntityState{
			State:      data.NewState.State,
			Attributes: data.NewState.Attributes,
		}
	}
	s.mu.Unlock()

	s.publish()
}

// Snapshot returns a copy of the current mirror.
func (s *StateStream) Snapshot() grid.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := grid.Snapshot{
		States:  make(map[string]grid.EntityState, len(s.states)),
		Devices: make(map[string]string, len(s.devices)),
	}
	for k, v := range s.states {
		snap.States[k] = v
	}
	for k, v := range s.devices {
		snap.Devices[k] = v
	}
	return snap
}

func (s *StateStream) publish() {
	if s.notify != nil {
		s.notify(s.Snapshot())
	}
}
