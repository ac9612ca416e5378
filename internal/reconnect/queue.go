// Package reconnect drains a queue of weak-signal devices, invoking the
// configured reconnect service once per device with fixed pacing.
package reconnect

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/rmfaria/rssigrid/internal/grid"
)

// ServiceCaller invokes a Home Assistant service. Failures surface as
// plain errors with no structured taxonomy guaranteed.
type ServiceCaller interface {
	CallService(ctx context.Context, domain, service string, data map[string]any) error
}

// State is the queue lifecycle phase, observable for UI purposes.
type State string

const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StateFinished State = "finished"
)

// Config configures a Queue.
type Config struct {
	// Domain, Action and MACParam describe the reconnect service call.
	Domain   string
	Action   string
	MACParam string

	// FormatMAC rewrites colon separators to dashes and uppercases the
	// address before it is passed to the service.
	FormatMAC bool

	// StepDelay is the fixed wait after each invocation, successful or
	// not. ResetDelay is how long the finished state stays observable
	// before the queue returns to idle.
	StepDelay  time.Duration
	ResetDelay time.Duration

	Caller ServiceCaller
	Logger *slog.Logger

	// OnFinished, when set, is called once with the processed count
	// when the queue drains.
	OnFinished func(count int)
}

// Queue processes devices strictly one at a time, in input order, with
// a fixed delay between invocations. Per-device errors are logged and
// skipped; they never halt the queue and never fail the operation.
// A second Start while running is rejected, not merged.
type Queue struct {
	cfg Config

	mu        sync.Mutex
	state     State
	processed int
	total     int
}

// NewQueue creates an idle queue.
func NewQueue(cfg Config) *Queue {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.StepDelay <= 0 {
		cfg.StepDelay = 500 * time.Millisecond
	}
	if cfg.ResetDelay <= 0 {
		cfg.ResetDelay = 3 * time.Second
	}
	return &Queue{cfg: cfg, state: StateIdle}
}

// Start begins draining the given devices. It reports false — without
// doing anything — when the queue is already running or the list is
// empty. The input is copied; later mutation of the caller's slice
// does not affect processing.
func (q *Queue) Start(ctx context.Context, devices []grid.Device) bool {
	if len(devices) == 0 {
		return false
	}

	q.mu.Lock()
	if q.state == StateRunning {
		q.mu.Unlock()
		return false
	}
	q.state = StateRunning
	q.processed = 0
	q.total = len(devices)
	q.mu.Unlock()

	queue := make([]grid.Device, len(devices))
	copy(queue, devices)

	go q.drain(ctx, queue)
	return true
}

// Progress returns how many devices have been processed out of the
// current (or most recent) batch.
func (q *Queue) Progress() (processed, total int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.processed, q.total
}

// State returns the current lifecycle phase.
func (q *Queue) State() State {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

// drain processes the queue sequentially. Each invocation is followed
// by the step delay regardless of outcome, pacing the controller.
func (q *Queue) drain(ctx context.Context, queue []grid.Device) {
	for _, d := range queue {
		mac := FormatMAC(d.MAC, q.cfg.FormatMAC)

		err := q.cfg.Caller.CallService(ctx, q.cfg.Domain, q.cfg.Action, map[string]any{
			q.cfg.MACParam: mac,
		})
		if err != nil {
			// Logged, not retried; the queue continues.
			q.cfg.Logger.Warn("reconnect failed",
				"device", d.Name,
				"mac", mac,
				"error", err,
			)
		} else {
			q.cfg.Logger.Debug("reconnect sent", "device", d.Name, "mac", mac)
		}

		q.mu.Lock()
		q.processed++
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			q.finish(ctx)
			return
		case <-time.After(q.cfg.StepDelay):
		}
	}

	q.finish(ctx)
}

// finish transitions to the finished state, reports the count, and
// auto-resets to idle after the display delay.
func (q *Queue) finish(ctx context.Context) {
	q.mu.Lock()
	q.state = StateFinished
	count := q.processed
	q.mu.Unlock()

	q.cfg.Logger.Info("reconnect queue drained", "processed", count)
	if q.cfg.OnFinished != nil {
		q.cfg.OnFinished(count)
	}

	select {
	case <-ctx.Done():
	case <-time.After(q.cfg.ResetDelay):
	}

	q.mu.Lock()
	if q.state == StateFinished {
		q.state = StateIdle
	}
	q.mu.Unlock()
}

// FormatMAC normalizes a hardware address for the reconnect service:
// when enabled, colon separators become dashes and hex digits are
// uppercased ("aa:bb:cc" → "AA-BB-CC").
func FormatMAC(mac string, format bool) string {
	if !format {
		return mac
	}
	return strings.ToUpper(strings.ReplaceAll(mac, ":", "-"))
}
