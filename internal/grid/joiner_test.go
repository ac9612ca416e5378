package grid

import "testing"

// snapshotWith builds a snapshot from parallel entity definitions.
func snapshotWith(states map[string]EntityState, devices map[string]string) Snapshot {
	return Snapshot{States: states, Devices: devices}
}

func TestJoin_PairsSignalWithTracker(t *testing.T) {
	snap := snapshotWith(
		map[string]EntityState{
			"sensor.phone_rssi": {State: "-55", Attributes: map[string]any{"friendly_name": "Phone RSSI"}},
			"device_tracker.phone": {State: "home", Attributes: map[string]any{
				"mac": "AA:BB:CC:DD:EE:FF", "ip": "192.168.1.10",
			}},
		},
		map[string]string{
			"sensor.phone_rssi":    "dev1",
			"device_tracker.phone": "dev1",
		},
	)

	devices := Join(snap, DefaultJoinOptions())
	if len(devices) != 1 {
		t.Fatalf("expected 1 device, got %d", len(devices))
	}
	d := devices[0]
	if d.Name != "Phone" {
		t.Errorf("Name = %q, want Phone", d.Name)
	}
	if d.Signal != "-55" {
		t.Errorf("Signal = %q, want -55", d.Signal)
	}
	if d.MAC != "AA:BB:CC:DD:EE:FF" {
		t.Errorf("MAC = %q", d.MAC)
	}
	if d.IP != "192.168.1.10" {
		t.Errorf("IP = %q", d.IP)
	}
	if d.Presence != "home" {
		t.Errorf("Presence = %q", d.Presence)
	}
	if d.TrackerEntityID != "device_tracker.phone" {
		t.Errorf("TrackerEntityID = %q", d.TrackerEntityID)
	}
	if d.DeviceID != "dev1" {
		t.Errorf("DeviceID = %q", d.DeviceID)
	}
}

func TestJoin_DropsWithoutTracker(t *testing.T) {
	snap := snapshotWith(
		map[string]EntityState{
			"sensor.phone_rssi": {State: "-55"},
		},
		map[string]string{"sensor.phone_rssi": "dev1"},
	)
	if got := Join(snap, DefaultJoinOptions()); len(got) != 0 {
		t.Errorf("expected no devices without a tracker, got %d", len(got))
	}
}

func TestJoin_DropsWithoutDeviceID(t *testing.T) {
	snap := snapshotWith(
		map[string]EntityState{
			"sensor.phone_rssi":    {State: "-55"},
			"device_tracker.phone": {State: "home", Attributes: map[string]any{"mac": "aa:bb"}},
		},
		map[string]string{"device_tracker.phone": "dev1"},
	)
	if got := Join(snap, DefaultJoinOptions()); len(got) != 0 {
		t.Errorf("expected no devices without an owning device id, got %d", len(got))
	}
}

func TestJoin_DropsWithoutMAC(t *testing.T) {
	snap := snapshotWith(
		map[string]EntityState{
			"sensor.phone_rssi":    {State: "-55"},
			"device_tracker.phone": {State: "home", Attributes: map[string]any{"ip": "10.0.0.2"}},
		},
		map[string]string{
			"sensor.phone_rssi":    "dev1",
			"device_tracker.phone": "dev1",
		},
	)
	if got := Join(snap, DefaultJoinOptions()); len(got) != 0 {
		t.Errorf("expected no devices when tracker lacks a MAC, got %d", len(got))
	}
}

func TestJoin_PrefersPresentTracker(t *testing.T) {
	snap := snapshotWith(
		map[string]EntityState{
			"sensor.phone_rssi":      {State: "-55"},
			"device_tracker.a_phone": {State: "not_home", Attributes: map[string]any{"mac": "11:11"}},
			"device_tracker.b_phone": {State: "home", Attributes: map[string]any{"mac": "22:22"}},
		},
		map[string]string{
			"sensor.phone_rssi":      "dev1",
			"device_tracker.a_phone": "dev1",
			"device_tracker.b_phone": "dev1",
		},
	)

	devices := Join(snap, DefaultJoinOptions())
	if len(devices) != 1 {
		t.Fatalf("expected 1 device, got %d", len(devices))
	}
	if devices[0].MAC != "22:22" {
		t.Errorf("selected tracker MAC = %q, want the present tracker's 22:22", devices[0].MAC)
	}
}

func TestJoin_LocalizedPresentState(t *testing.T) {
	snap := snapshotWith(
		map[string]EntityState{
			"sensor.phone_rssi":      {State: "-55"},
			"device_tracker.a_phone": {State: "unknown", Attributes: map[string]any{"mac": "11:11"}},
			"device_tracker.b_phone": {State: "em_casa", Attributes: map[string]any{"mac": "22:22"}},
		},
		map[string]string{
			"sensor.phone_rssi":      "dev1",
			"device_tracker.a_phone": "dev1",
			"device_tracker.b_phone": "dev1",
		},
	)

	devices := Join(snap, DefaultJoinOptions())
	if len(devices) != 1 || devices[0].MAC != "22:22" {
		t.Fatalf("em_casa tracker should win, got %v", devices)
	}
}

func TestJoin_HidesOfflineWhenConfigured(t *testing.T) {
	snap := snapshotWith(
		map[string]EntityState{
			"sensor.phone_rssi":    {State: "-55"},
			"device_tracker.phone": {State: "not_home", Attributes: map[string]any{"mac": "aa:bb"}},
		},
		map[string]string{
			"sensor.phone_rssi":    "dev1",
			"device_tracker.phone": "dev1",
		},
	)

	opts := DefaultJoinOptions()
	opts.ShowOffline = false
	if got := Join(snap, opts); len(got) != 0 {
		t.Errorf("offline device should be hidden, got %d", len(got))
	}

	opts.ShowOffline = true
	if got := Join(snap, opts); len(got) != 1 {
		t.Errorf("offline device should be visible, got %d", len(got))
	}
}

func TestJoin_DetectsByNameSuffixWord(t *testing.T) {
	snap := snapshotWith(
		map[string]EntityState{
			"sensor.phone_signal": {State: "-55", Attributes: map[string]any{"friendly_name": "Phone RSSI"}},
			"device_tracker.phone": {State: "home", Attributes: map[string]any{
				"mac": "aa:bb",
			}},
		},
		map[string]string{
			"sensor.phone_signal":  "dev1",
			"device_tracker.phone": "dev1",
		},
	)

	devices := Join(snap, DefaultJoinOptions())
	if len(devices) != 1 {
		t.Fatalf("display-name suffix should qualify the entity, got %d devices", len(devices))
	}
	if devices[0].Name != "Phone" {
		t.Errorf("Name = %q, want Phone", devices[0].Name)
	}
}

func TestJoin_NameSuffixWordIsCaseSensitive(t *testing.T) {
	// Detection by display name only matches the configured word form.
	snap := snapshotWith(
		map[string]EntityState{
			"sensor.phone_signal": {State: "-55", Attributes: map[string]any{"friendly_name": "Phone rssi"}},
			"device_tracker.phone": {State: "home", Attributes: map[string]any{
				"mac": "aa:bb",
			}},
		},
		map[string]string{
			"sensor.phone_signal":  "dev1",
			"device_tracker.phone": "dev1",
		},
	)

	if got := Join(snap, DefaultJoinOptions()); len(got) != 0 {
		t.Errorf("lowercase suffix word should not qualify, got %d devices", len(got))
	}
}

func TestJoin_UsesEntityIDWhenNameMissing(t *testing.T) {
	snap := snapshotWith(
		map[string]EntityState{
			"sensor.garage_cam_rssi": {State: "-80"},
			"device_tracker.garage":  {State: "home", Attributes: map[string]any{"mac": "aa:bb"}},
		},
		map[string]string{
			"sensor.garage_cam_rssi": "dev1",
			"device_tracker.garage":  "dev1",
		},
	)

	devices := Join(snap, DefaultJoinOptions())
	if len(devices) != 1 {
		t.Fatalf("expected 1 device, got %d", len(devices))
	}
	if devices[0].Name != "sensor.garage_cam" {
		t.Errorf("Name = %q, want sensor.garage_cam", devices[0].Name)
	}
}

func TestStripNameSuffix(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"Phone RSSI", "Phone"},
		{"Phone rssi", "Phone"}, // stripping is case-insensitive
		{"phone_rssi", "phone"},
		{"Phone-RSSI", "Phone"},
		{"Phone", "Phone"},
		{"RSSI Meter", "RSSI Meter"}, // suffix only, not substring
	}
	for _, tc := range cases {
		if got := stripNameSuffix(tc.in, "RSSI", "_rssi"); got != tc.want {
			t.Errorf("stripNameSuffix(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestJoin_IsPure(t *testing.T) {
	snap := snapshotWith(
		map[string]EntityState{
			"sensor.phone_rssi":    {State: "-55"},
			"device_tracker.phone": {State: "home", Attributes: map[string]any{"mac": "aa:bb"}},
		},
		map[string]string{
			"sensor.phone_rssi":    "dev1",
			"device_tracker.phone": "dev1",
		},
	)

	first := Join(snap, DefaultJoinOptions())
	second := Join(snap, DefaultJoinOptions())
	if &first[0] == &second[0] {
		t.Error("Join should return a new list on every call")
	}
	first[0].Name = "mutated"
	if second[0].Name == "mutated" {
		t.Error("returned lists should not share backing storage")
	}
}
