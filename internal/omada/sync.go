package omada

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/rmfaria/rssigrid/internal/grid"
	"github.com/rmfaria/rssigrid/internal/rename"
)

// NormalizeMAC lowercases a MAC address and strips colon and hyphen
// separators so controller and Home Assistant notations compare equal.
func NormalizeMAC(mac string) string {
	mac = strings.ToLower(mac)
	mac = strings.ReplaceAll(mac, ":", "")
	return strings.ReplaceAll(mac, "-", "")
}

// NameUpdate is one pending rename: a grid device whose Home Assistant
// name differs from the controller's name for the same MAC.
type NameUpdate struct {
	EntityID    string `json:"entity_id"`
	TrackerID   string `json:"tracker_entity_id"`
	MAC         string `json:"mac"`
	CurrentName string `json:"current_name"`
	RemoteName  string `json:"remote_name"`
	IP          string `json:"ip"`
	SSID        string `json:"ssid"`
}

// DiffNames compares grid devices against controller clients by
// normalized MAC and returns the renames needed to make Home Assistant
// match the controller. Devices without a MAC, and controller clients
// without a usable name, are skipped.
func DiffNames(devices []grid.Device, clients []ClientRecord) []NameUpdate {
	remote := make(map[string]ClientRecord, len(clients))
	for _, cl := range clients {
		if cl.MAC == "" || cl.DisplayName() == "" {
			continue
		}
		remote[NormalizeMAC(cl.MAC)] = cl
	}

	var updates []NameUpdate
	for _, d := range devices {
		if d.MAC == "" {
			continue
		}
		cl, ok := remote[NormalizeMAC(d.MAC)]
		if !ok || cl.DisplayName() == d.Name {
			continue
		}
		updates = append(updates, NameUpdate{
			EntityID:    d.EntityID,
			TrackerID:   d.TrackerEntityID,
			MAC:         d.MAC,
			CurrentName: d.Name,
			RemoteName:  cl.DisplayName(),
			IP:          cl.IP,
			SSID:        cl.SSID,
		})
	}
	return updates
}

// SyncResult summarizes one sync run.
type SyncResult struct {
	TotalRemote int          `json:"total_remote"`
	Planned     []NameUpdate `json:"planned"`
	Applied     int          `json:"applied"`
	Errors      []string     `json:"errors"`
}

// Syncer pulls the controller client list, diffs names against the
// current grid devices, and applies the renames through the Home
// Assistant rename chain.
type Syncer struct {
	// Controller is the Omada client. Required.
	Controller *Client

	// Strategies is the rename fallback chain.
	Strategies []rename.Strategy

	// SuffixWord is appended (space-separated) to the remote name when
	// renaming the signal entity itself, so "Dan Phone" becomes
	// "Dan Phone RSSI" while the tracker gets the plain name.
	SuffixWord string

	// ReportOnly computes the diff without applying any rename.
	ReportOnly bool

	// OnApplied runs after at least one rename landed. Used to refresh
	// the entity registry mirror and invalidate the grid.
	OnApplied func(ctx context.Context)

	Logger *slog.Logger
}

// Sync performs one full name sync against the given devices. Rename
// failures are accumulated per device and do not abort the run; the
// returned error covers only controller-side failures.
func (s *Syncer) Sync(ctx context.Context, devices []grid.Device) (SyncResult, error) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}

	clients, err := s.Controller.FetchClients(ctx)
	if err != nil {
		return SyncResult{}, fmt.Errorf("fetch controller clients: %w", err)
	}

	result := SyncResult{
		TotalRemote: len(clients),
		Planned:     DiffNames(devices, clients),
	}
	logger.Info("name sync planned", "remote_clients", len(clients), "updates", len(result.Planned))

	if s.ReportOnly {
		return result, nil
	}

	for _, u := range result.Planned {
		if err := s.applyUpdate(ctx, u); err != nil {
			logger.Warn("rename failed", "entity_id", u.EntityID, "error", err)
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", u.EntityID, err))
			continue
		}
		logger.Info("renamed device",
			"entity_id", u.EntityID,
			"from", u.CurrentName,
			"to", u.RemoteName)
		result.Applied++
	}

	if result.Applied > 0 && s.OnApplied != nil {
		s.OnApplied(ctx)
	}
	return result, nil
}

// applyUpdate renames the signal entity (with the suffix word) and,
// when present, its tracker (plain name). A tracker failure fails the
// update even after the signal entity renamed, so the error list
// reflects every partially applied device.
func (s *Syncer) applyUpdate(ctx context.Context, u NameUpdate) error {
	signalName := u.RemoteName
	if s.SuffixWord != "" {
		signalName = u.RemoteName + " " + s.SuffixWord
	}

	if u.EntityID != "" {
		if err := rename.Apply(ctx, s.Strategies, u.EntityID, signalName, s.Logger); err != nil {
			return fmt.Errorf("signal entity: %w", err)
		}
	}
	if u.TrackerID != "" {
		if err := rename.Apply(ctx, s.Strategies, u.TrackerID, u.RemoteName, s.Logger); err != nil {
			return fmt.Errorf("tracker: %w", err)
		}
	}
	return nil
}
