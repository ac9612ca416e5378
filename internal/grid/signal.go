package grid

import (
	"math"
	"strconv"
	"strings"
)

// Class is a signal strength band.
type Class string

const (
	ClassGood    Class = "good"    // -60 dBm and above
	ClassMedium  Class = "medium"  // -75 to -60 dBm
	ClassBad     Class = "bad"     // below -75 dBm
	ClassUnknown Class = "unknown" // unparsable reading
)

// weakestSignal is the sort key assigned to unparsable readings so
// they always order as the weakest possible value.
const weakestSignal = -999

// Info is the derived presentation of a raw signal reading. Both the
// view layer and the weak-device selection depend on this one mapping;
// keeping it in a single function prevents the two from diverging.
type Info struct {
	Class      Class `json:"class"`
	Percentage int   `json:"percentage"`
	Valid      bool  `json:"valid"`
}

// SignalInfo maps a raw dBm reading to a percentage and band. The
// usable range is -90 dBm (0%) to -30 dBm (100%):
//
//	percentage = clamp(0, 100, round((rssi+90)/60*100))
//
// Unparsable readings yield 0% and ClassUnknown.
func SignalInfo(raw string) Info {
	v, ok := parseSignal(raw)
	if !ok {
		return Info{Class: ClassUnknown, Percentage: 0}
	}

	pct := int(math.Round((v + 90) / 60 * 100))
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}

	var class Class
	switch {
	case v >= -60:
		class = ClassGood
	case v >= -75:
		class = ClassMedium
	default:
		class = ClassBad
	}

	return Info{Class: class, Percentage: pct, Valid: true}
}

// parseSignal parses a raw signal reading. Readings arrive as strings
// from the upstream store ("-65", "-65.5", "unavailable").
func parseSignal(raw string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, false
	}
	// Integer truncation matches the upstream card, which parsed
	// readings with parseInt before classifying.
	return math.Trunc(v), true
}

// signalSortKey returns the numeric ordering key for the signal
// column. Unlike SignalInfo it keeps the fractional part, and maps
// unparsable values to the weakest key regardless of sort direction.
func signalSortKey(raw string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return weakestSignal
	}
	return v
}
