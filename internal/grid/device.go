// Package grid derives the wireless device grid from Home Assistant
// entity state: joining signal entities with their device trackers,
// filtering and sorting the result, and reconciling upstream state
// changes into either full rebuilds or targeted cell patches.
package grid

import "strings"

// EntityState is one entity's state and attributes as delivered by the
// upstream snapshot. Read-only; recreated on every upstream change.
type EntityState struct {
	State      string
	Attributes map[string]any
}

// Snapshot is a full picture of upstream entity state: entity ID to
// state/attributes, plus entity ID to owning device ID. The upstream
// store provides no diffing; the reconciler detects relevant deltas
// itself.
type Snapshot struct {
	States  map[string]EntityState
	Devices map[string]string
}

// Device is the joined record correlating one signal entity with one
// selected device tracker. Rebuilt on every derivation cycle; only the
// reconciler's patch path mutates Signal and Presence in place.
type Device struct {
	EntityID        string `json:"entity_id"`
	Name            string `json:"name"`
	Signal          string `json:"rssi"` // raw state as received, not pre-validated
	MAC             string `json:"mac"`
	IP              string `json:"ip"`
	Presence        string `json:"state"`
	TrackerEntityID string `json:"tracker_entity_id"`
	DeviceID        string `json:"device_id"`
}

// SortState is the current column ordering.
type SortState struct {
	Column     string `json:"column"`
	Descending bool   `json:"descending"`
}

// JoinOptions configures how signal entities are detected and trackers
// selected. Zero values fall back to the upstream card's defaults via
// DefaultJoinOptions.
type JoinOptions struct {
	// SuffixToken matches signal entities by raw entity ID suffix
	// (lowercase by construction in HA entity IDs). SuffixWord matches
	// by display name suffix and is deliberately case-sensitive: the
	// upstream card only matched the literal word form, and the
	// asymmetry is preserved here as configuration rather than silently
	// resolved.
	SuffixToken string
	SuffixWord  string

	// PresentStates are tracker states preferred when a device has more
	// than one tracker. AbsentStates identify offline devices, which are
	// excluded when ShowOffline is false.
	PresentStates []string
	AbsentStates  []string

	ShowOffline bool
}

// DefaultJoinOptions mirrors the card's built-in defaults.
func DefaultJoinOptions() JoinOptions {
	return JoinOptions{
		SuffixToken:   "_rssi",
		SuffixWord:    "RSSI",
		PresentStates: []string{"home", "em_casa"},
		AbsentStates:  []string{"not_home", "fora_de_casa"},
		ShowOffline:   true,
	}
}

// IsSignalEntity reports whether an entity qualifies as a signal
// entity: its ID ends with the suffix token, or its display name ends
// with the suffix word (case-sensitive on the word form).
func (o JoinOptions) IsSignalEntity(entityID, displayName string) bool {
	if o.SuffixToken != "" && strings.HasSuffix(entityID, o.SuffixToken) {
		return true
	}
	return o.SuffixWord != "" && displayName != "" && strings.HasSuffix(displayName, o.SuffixWord)
}

func (o JoinOptions) isPresent(state string) bool {
	for _, s := range o.PresentStates {
		if state == s {
			return true
		}
	}
	return false
}

func (o JoinOptions) isAbsent(state string) bool {
	for _, s := range o.AbsentStates {
		if state == s {
			return true
		}
	}
	return false
}

// friendlyName extracts the display name attribute, empty when unset.
func friendlyName(st EntityState) string {
	if fn, ok := st.Attributes["friendly_name"].(string); ok {
		return fn
	}
	return ""
}

// stringAttr extracts a string attribute, empty when unset or not a string.
func stringAttr(st EntityState, key string) string {
	if v, ok := st.Attributes[key].(string); ok {
		return v
	}
	return ""
}
