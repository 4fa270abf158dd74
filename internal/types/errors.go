package types

import "errors"

// Error kinds shared across the pipeline (§7). Per-file and per-pair
// errors wrap one of these with fmt.Errorf("...: %w", ...) so callers can
// classify failures with errors.Is, mirroring the teacher's
// errors.Is(err, syscall.EXDEV) idiom.
var (
	// ErrPathNotFound indicates a path does not exist; the Linker wraps it
	// when a link's original is missing.
	ErrPathNotFound = errors.New("path not found")
	// ErrPermissionDenied indicates a root is not readable.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrIO is a per-file error during open/read/hash; the file is
	// dropped from further consideration, the job continues.
	ErrIO = errors.New("io error")
	// ErrCrossDevice is a per-pair Linker error: hard links cannot cross
	// filesystem boundaries.
	ErrCrossDevice = errors.New("cross-device link")
	// ErrVerificationFailed is a per-pair Verifier error.
	ErrVerificationFailed = errors.New("verification failed")
	// ErrOutOfMemory is fatal: system memory use exceeded the abort
	// threshold.
	ErrOutOfMemory = errors.New("out of memory")
	// ErrCancelled marks a job cooperatively cancelled; terminal, not an
	// error condition for reporting purposes.
	ErrCancelled = errors.New("cancelled")
	// ErrInvariantViolation is fatal: e.g. linking requested against a
	// non-dry-run scan, or a second link attempt against already-consumed
	// raw classes.
	ErrInvariantViolation = errors.New("invariant violation")
)
