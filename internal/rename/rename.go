// Package rename applies an entity rename through an ordered chain of
// fallback mechanisms. The host platform has grown several distinct
// ways to rename an entity over the years; which one works depends on
// its version and the entity's integration, so the chain tries each in
// order and the first success wins.
package rename

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Strategy is one rename mechanism. Apply returns nil when the rename
// took effect.
type Strategy struct {
	Name  string
	Apply func(ctx context.Context, entityID, newName string) error
}

// ErrNoStrategies is returned when Apply is called with an empty chain.
var ErrNoStrategies = errors.New("rename: no strategies configured")

// Apply tries each strategy in order until one succeeds. Failures of
// earlier strategies are logged at debug level and folded into the
// final error only when every strategy fails.
func Apply(ctx context.Context, strategies []Strategy, entityID, newName string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	if len(strategies) == 0 {
		return ErrNoStrategies
	}

	var lastErr error
	for _, s := range strategies {
		err := s.Apply(ctx, entityID, newName)
		if err == nil {
			logger.Debug("entity renamed",
				"entity_id", entityID,
				"name", newName,
				"strategy", s.Name,
			)
			return nil
		}
		logger.Debug("rename strategy failed, trying next",
			"entity_id", entityID,
			"strategy", s.Name,
			"error", err,
		)
		lastErr = err
	}

	return fmt.Errorf("rename %s: all %d strategies failed: %w", entityID, len(strategies), lastErr)
}
