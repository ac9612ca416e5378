// Package notify surfaces operator-facing messages as Home Assistant
// persistent notifications, with a log-only fallback when the API is
// unavailable.
package notify

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// ServiceCaller invokes a Home Assistant service.
type ServiceCaller interface {
	CallService(ctx context.Context, domain, service string, data map[string]any) error
}

// Notifier creates persistent notifications. Each notification gets a
// unique notification_id so repeats never overwrite each other.
type Notifier struct {
	caller ServiceCaller
	logger *slog.Logger
}

// New creates a Notifier. caller may be nil, in which case every
// notification is logged instead of delivered.
func New(caller ServiceCaller, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{caller: caller, logger: logger}
}

// Notify creates a persistent notification. A delivery failure is
// logged and swallowed: notifications are advisory and must never
// fail the operation that produced them.
func (n *Notifier) Notify(ctx context.Context, title, message string) {
	if n.caller == nil {
		n.logger.Info("notification (no API)", "title", title, "message", message)
		return
	}

	err := n.caller.CallService(ctx, "persistent_notification", "create", map[string]any{
		"title":           title,
		"message":         message,
		"notification_id": "rssigrid-" + uuid.NewString(),
	})
	if err != nil {
		n.logger.Warn("notification delivery failed, logging instead",
			"title", title, "message", message, "error", err)
	}
}
