package grid

import (
	"sort"
	"strings"
)

// trackerPrefix identifies location entities in the upstream store.
const trackerPrefix = "device_tracker."

// Join scans a snapshot for signal entities, matches each one to a
// device tracker owned by the same device, and produces the unified
// device records. Pure function of its inputs: no side effects, and a
// new list is returned on every call.
//
// A device appears in the output only when a signal entity and at
// least one tracker share a device ID and the selected tracker carries
// a non-empty MAC address. Anything else is silently dropped — absence
// of the relationship is a normal filtering outcome, not an error.
//
// Signal entities are visited in sorted entity-ID order so the
// pre-sort output is reproducible. The upstream store guarantees no
// iteration order, and Go map order is randomized, so sorting here is
// the closest stable substitute.
func Join(snap Snapshot, opts JoinOptions) []Device {
	ids := make([]string, 0, len(snap.States))
	for id := range snap.States {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var devices []Device
	for _, entityID := range ids {
		st := snap.States[entityID]
		if !opts.IsSignalEntity(entityID, friendlyName(st)) {
			continue
		}

		deviceID := snap.Devices[entityID]
		if deviceID == "" {
			continue
		}

		tracker, trackerID, ok := selectTracker(snap, deviceID, opts)
		if !ok {
			continue
		}

		mac := stringAttr(tracker, "mac")
		if mac == "" {
			continue
		}

		if !opts.ShowOffline && opts.isAbsent(tracker.State) {
			continue
		}

		name := friendlyName(st)
		if name == "" {
			name = entityID
		}

		devices = append(devices, Device{
			EntityID:        entityID,
			Name:            stripNameSuffix(name, opts.SuffixWord, opts.SuffixToken),
			Signal:          st.State,
			MAC:             mac,
			IP:              stringAttr(tracker, "ip"),
			Presence:        tracker.State,
			TrackerEntityID: trackerID,
			DeviceID:        deviceID,
		})
	}

	return devices
}

// selectTracker finds the device_tracker entities owned by deviceID
// and picks one: a tracker in a present state wins; otherwise the
// first candidate in sorted entity-ID order. The upstream contract
// guarantees no ordering for the no-present-tracker case, so which
// tracker wins there is effectively arbitrary for multi-tracker
// devices; sorted order only makes the arbitrary choice reproducible.
func selectTracker(snap Snapshot, deviceID string, opts JoinOptions) (EntityState, string, bool) {
	var candidates []string
	for id := range snap.States {
		if strings.HasPrefix(id, trackerPrefix) && snap.Devices[id] == deviceID {
			candidates = append(candidates, id)
		}
	}
	if len(candidates) == 0 {
		return EntityState{}, "", false
	}
	sort.Strings(candidates)

	for _, id := range candidates {
		if opts.isPresent(snap.States[id].State) {
			return snap.States[id], id, true
		}
	}
	return snap.States[candidates[0]], candidates[0], true
}

// stripNameSuffix removes a trailing suffix word (" RSSI", "-RSSI",
// "_RSSI") or underscore token ("_rssi") from a display name,
// case-insensitively. Unlike detection, stripping is forgiving about
// case and separator: a matched entity should never keep the suffix in
// its display name.
func stripNameSuffix(name, word, token string) string {
	lower := strings.ToLower(name)

	if t := strings.ToLower(token); t != "" && strings.HasSuffix(lower, t) {
		return name[:len(name)-len(t)]
	}

	if w := strings.ToLower(word); w != "" {
		for _, sep := range []string{" ", "_", "-"} {
			if strings.HasSuffix(lower, sep+w) {
				return name[:len(name)-len(w)-len(sep)]
			}
		}
	}

	return name
}
