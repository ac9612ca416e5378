package grid

import "testing"

func TestSignalInfo_Percentage(t *testing.T) {
	cases := []struct {
		raw  string
		want int
	}{
		{"-30", 100},
		{"-90", 0},
		{"-60", 50},
		{"-61", 48},
		{"-20", 100}, // clamped high
		{"-100", 0},  // clamped low
		{"-75", 25},
	}
	for _, tc := range cases {
		got := SignalInfo(tc.raw)
		if got.Percentage != tc.want {
			t.Errorf("SignalInfo(%q).Percentage = %d, want %d", tc.raw, got.Percentage, tc.want)
		}
		if !got.Valid {
			t.Errorf("SignalInfo(%q).Valid = false, want true", tc.raw)
		}
	}
}

func TestSignalInfo_Unparsable(t *testing.T) {
	for _, raw := range []string{"abc", "", "unavailable", "unknown"} {
		got := SignalInfo(raw)
		if got.Class != ClassUnknown {
			t.Errorf("SignalInfo(%q).Class = %q, want unknown", raw, got.Class)
		}
		if got.Percentage != 0 {
			t.Errorf("SignalInfo(%q).Percentage = %d, want 0", raw, got.Percentage)
		}
		if got.Valid {
			t.Errorf("SignalInfo(%q).Valid = true, want false", raw)
		}
	}
}

func TestSignalInfo_Bands(t *testing.T) {
	cases := []struct {
		raw  string
		want Class
	}{
		{"-30", ClassGood},
		{"-60", ClassGood},
		{"-61", ClassMedium},
		{"-75", ClassMedium},
		{"-76", ClassBad},
		{"-90", ClassBad},
	}
	for _, tc := range cases {
		if got := SignalInfo(tc.raw).Class; got != tc.want {
			t.Errorf("SignalInfo(%q).Class = %q, want %q", tc.raw, got, tc.want)
		}
	}
}

func TestSignalInfo_TruncatesFraction(t *testing.T) {
	// -60.9 reads as -60, staying in the good band at 50%.
	got := SignalInfo("-60.9")
	if got.Class != ClassGood {
		t.Errorf("Class = %q, want good", got.Class)
	}
	if got.Percentage != 50 {
		t.Errorf("Percentage = %d, want 50", got.Percentage)
	}
}

func TestWeakDevices_StrictThreshold(t *testing.T) {
	devices := []Device{
		{EntityID: "sensor.a_rssi", Signal: "-60"}, // exactly 50%, not weak
		{EntityID: "sensor.b_rssi", Signal: "-61"}, // ~48%, weak
		{EntityID: "sensor.c_rssi", Signal: "abc"}, // unknown, never weak
		{EntityID: "sensor.d_rssi", Signal: "-90"}, // 0%, weak
	}

	weak := WeakDevices(devices, 50)
	if len(weak) != 2 {
		t.Fatalf("expected 2 weak devices, got %d", len(weak))
	}
	if weak[0].EntityID != "sensor.b_rssi" || weak[1].EntityID != "sensor.d_rssi" {
		t.Errorf("unexpected weak set: %v", weak)
	}
}
