package main

import (
	"fmt"
	"io"
	"os"

	"github.com/rmfaria/rssigrid/internal/defaults"
)

// runInit writes the bundled example configuration to path, or to
// ./rssigrid.yaml when path is empty. Existing files are never
// overwritten.
func runInit(w io.Writer, path string) error {
	if path == "" {
		path = "rssigrid.yaml"
	}

	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists, refusing to overwrite", path)
	}

	if err := os.WriteFile(path, defaults.ConfigYAML, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}

	fmt.Fprintf(w, "Wrote %s\n", path)
	fmt.Fprintln(w, "Edit it to set your Home Assistant URL and token, then run: rssigrid serve")
	return nil
}
