package mqtt

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/rmfaria/rssigrid/internal/config"
)

type staticSource struct {
	total, weak int
}

func (s staticSource) Counts() (int, int) { return s.total, s.weak }

func TestNewDeviceInfo(t *testing.T) {
	info := NewDeviceInfo("rssigrid", "RSSI Device Grid")
	if info.Name != "RSSI Device Grid" {
		t.Errorf("Name = %q", info.Name)
	}
	if len(info.Identifiers) != 1 || info.Identifiers[0] != "rssigrid" {
		t.Errorf("Identifiers = %v, want [rssigrid]", info.Identifiers)
	}
	if info.Model != "RSSI Device Grid" {
		t.Errorf("Model = %q", info.Model)
	}
}

func TestPublisher_TopicPaths(t *testing.T) {
	cfg := config.MQTTConfig{
		BrokerURL:  "mqtt://localhost:1883",
		TopicBase:  "rssigrid",
		DeviceName: "RSSI Device Grid",
	}
	p := New(cfg, staticSource{}, nil)

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"baseTopic", p.baseTopic(), "rssigrid"},
		{"availabilityTopic", p.availabilityTopic(), "rssigrid/availability"},
		{"stateTopic", p.stateTopic("weak_count"), "rssigrid/weak_count/state"},
		{"discoveryTopic", p.discoveryTopic("weak_count"), "homeassistant/sensor/rssigrid/weak_count/config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestPublisher_SensorDefinitions(t *testing.T) {
	cfg := config.MQTTConfig{
		BrokerURL:  "mqtt://localhost:1883",
		TopicBase:  "rssigrid",
		DeviceName: "RSSI Device Grid",
	}
	p := New(cfg, staticSource{}, nil)

	defs := p.sensorDefinitions()
	if len(defs) != 3 {
		t.Fatalf("got %d sensor definitions, want 3", len(defs))
	}

	seen := map[string]bool{}
	for _, d := range defs {
		seen[d.entitySuffix] = true

		// Each config must round-trip to valid discovery JSON.
		payload, err := json.Marshal(d.config)
		if err != nil {
			t.Fatalf("marshal %s: %v", d.entitySuffix, err)
		}
		var decoded SensorConfig
		if err := json.Unmarshal(payload, &decoded); err != nil {
			t.Fatalf("unmarshal %s: %v", d.entitySuffix, err)
		}
		if decoded.UniqueID == "" || decoded.StateTopic == "" || decoded.AvailabilityTopic == "" {
			t.Errorf("%s: incomplete discovery config: %+v", d.entitySuffix, decoded)
		}
	}
	for _, want := range []string{"device_count", "weak_count", "last_sync"} {
		if !seen[want] {
			t.Errorf("missing sensor definition %q", want)
		}
	}
}

func TestPublisher_GridChangedCoalesces(t *testing.T) {
	p := New(config.MQTTConfig{TopicBase: "rssigrid"}, staticSource{}, nil)

	// A burst of change notifications must not block and must leave at
	// most one pending kick.
	for range 10 {
		p.GridChanged()
	}
	if got := len(p.kick); got != 1 {
		t.Errorf("pending kicks = %d, want 1", got)
	}
}

func TestPublisher_RecordSync(t *testing.T) {
	p := New(config.MQTTConfig{TopicBase: "rssigrid"}, staticSource{}, nil)

	outcome := SyncOutcome{At: time.Now(), Applied: 3, Errors: 1}
	p.RecordSync(outcome)

	p.mu.Lock()
	last := p.lastSync
	p.mu.Unlock()
	if last == nil || last.Applied != 3 || last.Errors != 1 {
		t.Errorf("lastSync = %+v", last)
	}
	if len(p.kick) != 1 {
		t.Error("RecordSync should trigger a publish")
	}
}
