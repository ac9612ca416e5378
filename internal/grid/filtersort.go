package grid

import (
	"sort"
	"strings"
)

// Filter returns the devices whose normalized name, MAC, or IP contains
// the normalized query as a substring. An empty query matches
// everything and returns the input unchanged. Filtering an
// already-filtered list with the same query yields the same list.
func Filter(devices []Device, query string) []Device {
	q := Normalize(query)
	if q == "" {
		return devices
	}

	var out []Device
	for _, d := range devices {
		if strings.Contains(Normalize(d.Name), q) ||
			strings.Contains(Normalize(d.MAC), q) ||
			strings.Contains(Normalize(d.IP), q) {
			out = append(out, d)
		}
	}
	return out
}

// Sort orders devices in place. The signal column sorts numerically:
// ascending is weakest-to-strongest (more negative first), and
// unparsable readings always sort as the weakest value regardless of
// direction. Every other column sorts case-folded lexicographically
// with absent values coerced to the empty string.
func Sort(devices []Device, state SortState) {
	if state.Column == "rssi" {
		sort.Slice(devices, func(i, j int) bool {
			a, b := signalSortKey(devices[i].Signal), signalSortKey(devices[j].Signal)
			if state.Descending {
				return a > b
			}
			return a < b
		})
		return
	}

	sort.Slice(devices, func(i, j int) bool {
		a := strings.ToLower(columnValue(devices[i], state.Column))
		b := strings.ToLower(columnValue(devices[j], state.Column))
		if state.Descending {
			return a > b
		}
		return a < b
	})
}

// columnValue maps a sortable column to its device field. Unknown
// columns yield empty strings, which leaves the order untouched rather
// than crashing on a bad config value.
func columnValue(d Device, column string) string {
	switch column {
	case "name":
		return d.Name
	case "mac":
		return d.MAC
	case "ip":
		return d.IP
	case "state":
		return d.Presence
	default:
		return ""
	}
}

// Truncate caps the list at max entries. Zero means unbounded. Applied
// after sorting so the cap keeps the top of the current order.
func Truncate(devices []Device, max int) []Device {
	if max > 0 && len(devices) > max {
		return devices[:max]
	}
	return devices
}

// WeakDevices returns the devices whose signal percentage is strictly
// below threshold. Devices with unparsable readings are never
// selected: an unknown reading is not evidence of a weak signal.
func WeakDevices(devices []Device, threshold int) []Device {
	var weak []Device
	for _, d := range devices {
		info := SignalInfo(d.Signal)
		if info.Valid && info.Percentage < threshold {
			weak = append(weak, d)
		}
	}
	return weak
}
