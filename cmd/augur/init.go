package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/augurhq/augur/internal/defaults"
)

// runInit handles the "augur init [dir]" subcommand. It creates the
// working directory skeleton and writes the example config and manifest
// without clobbering files that already exist.
func runInit(w io.Writer, dir string) error {
	fmt.Fprintf(w, "Initializing Augur workspace in %s\n", dir)

	for _, sub := range []string{"db", ".augur"} {
		path := filepath.Join(dir, sub)
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", path, err)
		}
	}

	// The config may carry an API key, so it gets restricted permissions.
	configPath := filepath.Join(dir, "augur.yaml")
	if err := writeIfMissingMode(configPath, defaults.ConfigYAML, 0o600); err != nil {
		return err
	}
	fmt.Fprintf(w, "  ✓ %s\n", configPath)

	manifestPath := filepath.Join(dir, ".augur", "manifest.md")
	if err := writeIfMissing(manifestPath, defaults.ManifestMD); err != nil {
		return err
	}
	fmt.Fprintf(w, "  ✓ %s\n", manifestPath)

	fmt.Fprintln(w, "Done. Edit augur.yaml and set your API key, then run: augur ask <question>")
	return nil
}

// writeIfMissing writes content to path unless the file already
// exists, so init never overwrites user customizations.
func writeIfMissing(path string, content []byte) error {
	return writeIfMissingMode(path, content, 0o644)
}

func writeIfMissingMode(path string, content []byte, mode os.FileMode) error {
	if _, err := os.Stat(path); err == nil {
		return nil // keep the existing file
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if err := os.WriteFile(path, content, mode); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
