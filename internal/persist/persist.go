// Package persist saves a completed ScanResult to disk for later
// retrieval outside the registry's in-memory lifetime.
//
// Grounded on original_source/core.py's save_results_to_file: one JSON
// file per scan, named scan_results_<scan_id>.json, written into the
// scan's own output directory. Unlike the original, the write goes
// through a temp-file-then-rename so a concurrent reader (or a crash
// mid-write) never observes a half-written file, matching this repo's
// OQ-3 decision and the teacher's atomic-rename idiom already used by
// internal/cache and internal/linker.
package persist

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// filename returns the autosave filename for a given scan id.
func filename(scanID string) string {
	return fmt.Sprintf("scan_results_%s.json", scanID)
}

// Save writes result as JSON to <outputDir>/scan_results_<scan_id>.json.
// outputDir must already exist; Save does not create it, matching the
// original's "validate output directory" guard.
func Save(outputDir, scanID string, result any) error {
	info, err := os.Stat(outputDir)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("auto-save: output directory %q does not exist or is not accessible", outputDir)
	}

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal scan result: %w", err)
	}

	final := filepath.Join(outputDir, filename(scanID))
	tmp := final + ".tmp"

	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp results file: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename temp results file: %w", err)
	}
	return nil
}

// Load reads a previously saved ScanResult (or any JSON-compatible
// result shape) from <outputDir>/scan_results_<scan_id>.json into dst.
func Load(outputDir, scanID string, dst any) error {
	path := filepath.Join(outputDir, filename(scanID))
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read results file: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("unmarshal results file: %w", err)
	}
	return nil
}
