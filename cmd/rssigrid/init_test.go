package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestRunInit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rssigrid.yaml")
	var buf bytes.Buffer

	if err := runInit(&buf, path); err != nil {
		t.Fatalf("runInit failed: %v", err)
	}
	if !strings.Contains(buf.String(), path) {
		t.Errorf("output does not mention the written path: %q", buf.String())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("config not created: %v", err)
	}

	// The example must be valid YAML.
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		t.Fatalf("example config is not valid YAML: %v", err)
	}
	if _, ok := doc["homeassistant"]; !ok {
		t.Error("example config has no homeassistant section")
	}
}

func TestRunInitRefusesOverwrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rssigrid.yaml")
	if err := os.WriteFile(path, []byte("listen:\n  port: 1234\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	err := runInit(&buf, path)
	if err == nil {
		t.Fatal("runInit overwrote an existing config")
	}

	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), "port: 1234") {
		t.Error("existing config was modified")
	}
}

func TestRunInitViaCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.yaml")
	var out, errOut bytes.Buffer

	if err := run(t.Context(), &out, &errOut, []string{"-config", path, "init"}); err != nil {
		t.Fatalf("run init failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("config not written: %v", err)
	}
}
