// Package navigate opens a device's detail view in the Home Assistant
// frontend. There is no single reliable mechanism for this from
// outside the browser, so Open tries an ordered chain of fallbacks
// and the first success wins.
package navigate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// ServiceCaller invokes a Home Assistant service.
type ServiceCaller interface {
	CallService(ctx context.Context, domain, service string, data map[string]any) error
}

// EventFirer fires a custom event on the Home Assistant event bus.
type EventFirer interface {
	FireEvent(ctx context.Context, eventType string, data map[string]any) error
}

// Navigator opens entity detail views.
type Navigator struct {
	caller ServiceCaller
	firer  EventFirer
	logger *slog.Logger
}

// New creates a Navigator. Either collaborator may be nil; the
// corresponding attempts are skipped.
func New(caller ServiceCaller, firer EventFirer, logger *slog.Logger) *Navigator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Navigator{caller: caller, firer: firer, logger: logger}
}

// Open requests the detail view for the given tracker entity. It tries
// browser_mod navigation first (present on installs that use the
// browser_mod integration), then a custom event any frontend card can
// listen for. Every attempt failing returns the last error.
func (n *Navigator) Open(ctx context.Context, entityID string) error {
	if entityID == "" {
		return fmt.Errorf("navigate: empty entity id")
	}

	type attempt struct {
		name string
		run  func() error
	}
	var attempts []attempt

	if n.caller != nil {
		attempts = append(attempts, attempt{"browser_mod more_info", func() error {
			return n.caller.CallService(ctx, "browser_mod", "more_info", map[string]any{
				"entity": entityID,
			})
		}})
		attempts = append(attempts, attempt{"browser_mod navigate", func() error {
			return n.caller.CallService(ctx, "browser_mod", "navigate", map[string]any{
				"path": "/history?entity_id=" + entityID,
			})
		}})
	}
	if n.firer != nil {
		attempts = append(attempts, attempt{"detail_request event", func() error {
			return n.firer.FireEvent(ctx, "rssigrid_detail_request", map[string]any{
				"entity_id": entityID,
			})
		}})
	}

	if len(attempts) == 0 {
		return fmt.Errorf("navigate: no mechanisms available")
	}

	var lastErr error
	for _, a := range attempts {
		if err := a.run(); err != nil {
			n.logger.Debug("navigation attempt failed, trying next",
				"attempt", a.name, "entity_id", entityID, "error", err)
			lastErr = err
			continue
		}
		n.logger.Debug("navigation opened", "attempt", a.name, "entity_id", entityID)
		return nil
	}
	return fmt.Errorf("navigate %s: all attempts failed: %w", entityID, lastErr)
}

// TrackerFallback derives a history path for an entity when no
// interactive mechanism is available. Handed to API consumers so they
// can render a link themselves.
func TrackerFallback(entityID string) string {
	return "/history?entity_id=" + strings.TrimSpace(entityID)
}
