package omada

import (
	"context"
	"fmt"
	"testing"

	"github.com/rmfaria/rssigrid/internal/grid"
	"github.com/rmfaria/rssigrid/internal/rename"
)

func TestNormalizeMAC(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"AA:BB:CC:DD:EE:FF", "aabbccddeeff"},
		{"aa-bb-cc-dd-ee-ff", "aabbccddeeff"},
		{"AABBCCDDEEFF", "aabbccddeeff"},
		{"Aa:Bb-Cc:Dd-Ee:Ff", "aabbccddeeff"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NormalizeMAC(tt.in); got != tt.want {
			t.Errorf("NormalizeMAC(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDiffNames(t *testing.T) {
	devices := []grid.Device{
		{EntityID: "sensor.a_rssi", TrackerEntityID: "device_tracker.a", Name: "old-name", MAC: "AA:BB:CC:DD:EE:01"},
		{EntityID: "sensor.b_rssi", Name: "Laptop", MAC: "aa-bb-cc-dd-ee-02"},
		{EntityID: "sensor.c_rssi", Name: "No MAC device"},
		{EntityID: "sensor.d_rssi", Name: "Unknown", MAC: "AA:BB:CC:DD:EE:99"},
	}
	clients := []ClientRecord{
		{MAC: "aa:bb:cc:dd:ee:01", Name: "Dan Phone", IP: "10.0.0.5", SSID: "home"},
		{MAC: "AA:BB:CC:DD:EE:02", HostName: "Laptop"}, // same name, no update
		{MAC: "aa:bb:cc:dd:ee:03", Name: "Not in grid"},
		{Name: "No MAC client"},
	}

	updates := DiffNames(devices, clients)
	if len(updates) != 1 {
		t.Fatalf("got %d updates, want 1: %+v", len(updates), updates)
	}
	u := updates[0]
	if u.EntityID != "sensor.a_rssi" || u.TrackerID != "device_tracker.a" {
		t.Errorf("wrong target: %+v", u)
	}
	if u.CurrentName != "old-name" || u.RemoteName != "Dan Phone" {
		t.Errorf("wrong names: %+v", u)
	}
	if u.IP != "10.0.0.5" || u.SSID != "home" {
		t.Errorf("controller metadata not carried: %+v", u)
	}
}

func TestDiffNames_NoDevices(t *testing.T) {
	updates := DiffNames(nil, []ClientRecord{{MAC: "aa:bb:cc:dd:ee:01", Name: "x"}})
	if len(updates) != 0 {
		t.Errorf("expected no updates, got %d", len(updates))
	}
}

func TestSyncer_Sync(t *testing.T) {
	_, controller := newFake(t)

	renames := map[string]string{}
	strategies := []rename.Strategy{{
		Name: "recording",
		Apply: func(ctx context.Context, entityID, newName string) error {
			renames[entityID] = newName
			return nil
		},
	}}

	applied := false
	syncer := &Syncer{
		Controller: controller,
		Strategies: strategies,
		SuffixWord: "RSSI",
		OnApplied:  func(context.Context) { applied = true },
	}

	devices := []grid.Device{
		{EntityID: "sensor.phone_rssi", TrackerEntityID: "device_tracker.phone", Name: "stale", MAC: "AA:BB:CC:DD:EE:01"},
	}

	result, err := syncer.Sync(context.Background(), devices)
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if result.TotalRemote != 2 {
		t.Errorf("TotalRemote = %d, want 2", result.TotalRemote)
	}
	if result.Applied != 1 || len(result.Errors) != 0 {
		t.Errorf("applied=%d errors=%v", result.Applied, result.Errors)
	}
	if got := renames["sensor.phone_rssi"]; got != "Dan Phone RSSI" {
		t.Errorf("signal entity renamed to %q, want suffixed name", got)
	}
	if got := renames["device_tracker.phone"]; got != "Dan Phone" {
		t.Errorf("tracker renamed to %q, want plain name", got)
	}
	if !applied {
		t.Error("OnApplied not called")
	}
}

func TestSyncer_Sync_ErrorAccumulation(t *testing.T) {
	_, controller := newFake(t)

	strategies := []rename.Strategy{{
		Name: "failing",
		Apply: func(ctx context.Context, entityID, newName string) error {
			if entityID == "sensor.phone_rssi" {
				return fmt.Errorf("registry says no")
			}
			return nil
		},
	}}

	applied := false
	syncer := &Syncer{
		Controller: controller,
		Strategies: strategies,
		SuffixWord: "RSSI",
		OnApplied:  func(context.Context) { applied = true },
	}

	devices := []grid.Device{
		{EntityID: "sensor.phone_rssi", Name: "stale", MAC: "AA:BB:CC:DD:EE:01"},
		{EntityID: "sensor.laptop_rssi", Name: "stale too", MAC: "AA:BB:CC:DD:EE:02"},
	}

	result, err := syncer.Sync(context.Background(), devices)
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if result.Applied != 1 {
		t.Errorf("Applied = %d, want 1", result.Applied)
	}
	if len(result.Errors) != 1 {
		t.Fatalf("Errors = %v, want 1 entry", result.Errors)
	}
	if !applied {
		t.Error("OnApplied should run when at least one rename landed")
	}
}

func TestSyncer_Sync_ReportOnly(t *testing.T) {
	_, controller := newFake(t)

	called := false
	syncer := &Syncer{
		Controller: controller,
		ReportOnly: true,
		Strategies: []rename.Strategy{{
			Name: "must not run",
			Apply: func(context.Context, string, string) error {
				called = true
				return nil
			},
		}},
	}

	devices := []grid.Device{
		{EntityID: "sensor.phone_rssi", Name: "stale", MAC: "AA:BB:CC:DD:EE:01"},
	}
	result, err := syncer.Sync(context.Background(), devices)
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if len(result.Planned) != 1 || result.Applied != 0 {
		t.Errorf("result = %+v", result)
	}
	if called {
		t.Error("report-only sync must not rename")
	}
}

func TestSyncer_Sync_ControllerFailure(t *testing.T) {
	fake, controller := newFake(t)
	fake.rejectLogin = true

	syncer := &Syncer{Controller: controller}
	_, err := syncer.Sync(context.Background(), nil)
	if err == nil {
		t.Fatal("expected controller error to surface")
	}
}
