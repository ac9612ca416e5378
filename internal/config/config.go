// Package config handles rssigrid configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./rssigrid.yaml, ~/.config/rssigrid/rssigrid.yaml,
// /etc/rssigrid/rssigrid.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"rssigrid.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "rssigrid", "rssigrid.yaml"))
	}

	paths = append(paths, "/etc/rssigrid/rssigrid.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all rssigrid configuration.
type Config struct {
	Listen        ListenConfig        `yaml:"listen"`
	HomeAssistant HomeAssistantConfig `yaml:"homeassistant"`
	Grid          GridConfig          `yaml:"grid"`
	Reconnect     ReconnectConfig     `yaml:"reconnect"`
	Omada         OmadaConfig         `yaml:"omada"`
	MQTT          MQTTConfig          `yaml:"mqtt"`
	LogLevel      string              `yaml:"log_level"`
	LogFormat     string              `yaml:"log_format"` // "text" (default) or "json"
}

// ListenConfig defines the local HTTP API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// HomeAssistantConfig defines HA connection settings.
type HomeAssistantConfig struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token"`
}

// Configured reports whether the Home Assistant connection has enough
// settings to be usable.
func (h HomeAssistantConfig) Configured() bool {
	return h.URL != "" && h.Token != ""
}

// GridConfig defines how the device grid is derived and presented.
type GridConfig struct {
	// Title is the grid title shown in the view payload.
	Title string `yaml:"title"`

	// SuffixToken matches signal entities by entity ID suffix (e.g.
	// "sensor.phone_rssi"). SuffixWord matches by display name suffix.
	// The word match is case-sensitive, matching the upstream card.
	SuffixToken string `yaml:"suffix_token"`
	SuffixWord  string `yaml:"suffix_word"`

	// PresentStates are device_tracker states treated as present when
	// selecting among multiple trackers. AbsentStates are states hidden
	// when show_offline is false.
	PresentStates []string `yaml:"present_states"`
	AbsentStates  []string `yaml:"absent_states"`

	ShowOffline bool `yaml:"show_offline"`
	MaxDevices  int  `yaml:"max_devices"` // 0 = no limit

	ColumnsOrder    []string `yaml:"columns_order"`
	SortableColumns []string `yaml:"sortable_columns"`
	SortBy          string   `yaml:"sort_by"`
	SortOrder       string   `yaml:"sort_order"` // asc or desc

	FilterPlaceholder string `yaml:"filter_placeholder"`
	ShowFilter        bool   `yaml:"show_filter"`
	AlternatingRows   bool   `yaml:"alternating_rows"`
	StateText         bool   `yaml:"state_text"`

	// WeakSignalThreshold is the signal percentage below which a device
	// qualifies for bulk reconnection. Strict less-than comparison.
	WeakSignalThreshold int `yaml:"weak_signal_threshold"`

	ReconnectAllButton bool `yaml:"reconnect_all_button"`
	SyncNamesButton    bool `yaml:"sync_names_button"`

	// CoalesceWindowMS is the debounce window for grid rebuilds when
	// state notifications arrive in bursts.
	CoalesceWindowMS int `yaml:"coalesce_window_ms"`
}

// ReconnectConfig defines the reconnect service call and queue pacing.
type ReconnectConfig struct {
	ServiceDomain string `yaml:"service_domain"`
	ServiceAction string `yaml:"service_action"`
	MACParam      string `yaml:"mac_param"`

	// FormatMAC rewrites colon-separated MACs to dash-separated
	// uppercase before passing them to the service.
	FormatMAC bool `yaml:"format_mac"`

	// StepDelayMS is the fixed wait between queue items.
	StepDelayMS int `yaml:"step_delay_ms"`
}

// OmadaConfig defines the optional direct controller connection.
type OmadaConfig struct {
	URL       string `yaml:"url"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	Site      string `yaml:"site"`
	VerifySSL bool   `yaml:"verify_ssl"`

	// UpdateNames applies remote names back to HA entities after a diff.
	// When false, sync only reports the differences.
	UpdateNames bool `yaml:"update_names"`
}

// Configured reports whether a direct controller connection is usable.
func (o OmadaConfig) Configured() bool {
	return o.URL != "" && o.Username != "" && o.Password != ""
}

// MQTTConfig defines the optional summary sensor publisher.
type MQTTConfig struct {
	Enabled    bool   `yaml:"enabled"`
	BrokerURL  string `yaml:"broker_url"`
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`
	TopicBase  string `yaml:"topic_base"`
	DeviceName string `yaml:"device_name"`
}

// Load reads configuration from a YAML file. Environment variables in
// the file body are expanded before parsing, so secrets can be supplied
// as ${VAR} references.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a configuration with the same defaults the upstream
// card applies when an option is omitted.
func Default() *Config {
	return &Config{
		Listen: ListenConfig{Port: 8099},
		Grid: GridConfig{
			Title:               "RSSI Devices",
			SuffixToken:         "_rssi",
			SuffixWord:          "RSSI",
			PresentStates:       []string{"home", "em_casa"},
			AbsentStates:        []string{"not_home", "fora_de_casa"},
			ShowOffline:         true,
			ColumnsOrder:        []string{"name", "rssi", "mac", "ip", "actions"},
			SortableColumns:     []string{"name", "rssi", "mac", "ip"},
			SortBy:              "name",
			SortOrder:           "asc",
			FilterPlaceholder:   "Filter devices...",
			ShowFilter:          true,
			AlternatingRows:     true,
			StateText:           true,
			WeakSignalThreshold: 50,
			ReconnectAllButton:  true,
			CoalesceWindowMS:    50,
		},
		Reconnect: ReconnectConfig{
			ServiceDomain: "tplink_omada",
			ServiceAction: "reconnect_client",
			MACParam:      "mac",
			FormatMAC:     true,
			StepDelayMS:   500,
		},
		Omada: OmadaConfig{
			Site:      "Default",
			VerifySSL: true,
		},
		MQTT: MQTTConfig{
			TopicBase:  "rssigrid",
			DeviceName: "RSSI Device Grid",
		},
	}
}
