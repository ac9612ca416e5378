// Package health monitors the daemon's external dependencies (Home
// Assistant, the Omada controller, the MQTT broker) with periodic
// probes and state-transition callbacks. Distinct from per-request
// error handling: this tracks multi-second to multi-minute outages
// such as service restarts and network partitions.
package health

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// ProbeFunc checks whether a dependency is reachable. Return nil when
// healthy. Must be safe for concurrent use.
type ProbeFunc func(ctx context.Context) error

// Probe describes one watched dependency.
type Probe struct {
	Name  string
	Check ProbeFunc

	// Interval between checks; defaults to a minute. ProbeTimeout
	// bounds each individual check; defaults to ten seconds.
	Interval     time.Duration
	ProbeTimeout time.Duration

	// OnReady fires on the down-to-up transition, OnDown on up-to-down.
	// Both run on the monitor goroutine; keep them quick.
	OnReady func()
	OnDown  func(err error)
}

// Status is one dependency's health, served by the health endpoint.
type Status struct {
	Name      string    `json:"name"`
	Ready     bool      `json:"ready"`
	LastCheck time.Time `json:"last_check"`
	LastError string    `json:"last_error,omitempty"`
}

// Monitor runs all probes on their intervals and records transitions.
type Monitor struct {
	probes []Probe
	logger *slog.Logger

	mu       sync.Mutex
	statuses map[string]Status
}

// NewMonitor creates a Monitor for the given probes.
func NewMonitor(probes []Probe, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		probes:   probes,
		logger:   logger,
		statuses: make(map[string]Status, len(probes)),
	}
}

// Run probes every dependency once immediately, then on each probe's
// interval until ctx is cancelled. Blocks; run in a goroutine.
func (m *Monitor) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := range m.probes {
		p := m.probes[i]
		if p.Interval <= 0 {
			p.Interval = time.Minute
		}
		if p.ProbeTimeout <= 0 {
			p.ProbeTimeout = 10 * time.Second
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			m.watch(ctx, p)
		}()
	}
	wg.Wait()
}

func (m *Monitor) watch(ctx context.Context, p Probe) {
	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()

	m.check(ctx, p)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.check(ctx, p)
		}
	}
}

func (m *Monitor) check(ctx context.Context, p Probe) {
	probeCtx, cancel := context.WithTimeout(ctx, p.ProbeTimeout)
	err := p.Check(probeCtx)
	cancel()

	now := time.Now()

	m.mu.Lock()
	prev, seen := m.statuses[p.Name]
	status := Status{Name: p.Name, Ready: err == nil, LastCheck: now}
	if err != nil {
		status.LastError = err.Error()
	}
	m.statuses[p.Name] = status
	m.mu.Unlock()

	switch {
	case err == nil && (!seen || !prev.Ready):
		m.logger.Info("dependency healthy", "name", p.Name)
		if p.OnReady != nil {
			p.OnReady()
		}
	case err != nil && seen && prev.Ready:
		m.logger.Warn("dependency down", "name", p.Name, "error", err)
		if p.OnDown != nil {
			p.OnDown(err)
		}
	case err != nil && !seen:
		m.logger.Warn("dependency unreachable at startup", "name", p.Name, "error", err)
	}
}

// Statuses returns the current health of every dependency, sorted the
// way the probes were registered.
func (m *Monitor) Statuses() []Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Status, 0, len(m.probes))
	for _, p := range m.probes {
		if s, ok := m.statuses[p.Name]; ok {
			out = append(out, s)
		} else {
			out = append(out, Status{Name: p.Name})
		}
	}
	return out
}

// Healthy reports whether every probed dependency is currently ready.
func (m *Monitor) Healthy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.probes {
		if s, ok := m.statuses[p.Name]; !ok || !s.Ready {
			return false
		}
	}
	return true
}
