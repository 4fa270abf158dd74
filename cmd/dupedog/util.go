package main

import (
	"errors"

	"github.com/dustin/go-humanize"
)

// errPartialFailure signals exit code 1: the scan completed but one or
// more files failed to link, per the exit-code contract.
var errPartialFailure = errors.New("completed with per-file failures")

// parseSize parses a human-readable size string into bytes.
// Supports formats: "100", "1K", "1MB", "1GiB", etc.
func parseSize(s string) (int64, error) {
	bytes, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, err
	}
	return int64(bytes), nil
}

// humanizeBytes formats a byte count for human-readable CLI output.
func humanizeBytes(n int64) string {
	return humanize.IBytes(uint64(n))
}
