// Package registry implements the JobRegistry (C9): the synchronized
// map of in-flight and terminal scan/link jobs, and the pipeline driver
// that wires Walker through Verifier together behind it. JobRegistry is
// the only component external collaborators (HTTP surface, CLI,
// scheduler) ever observe directly.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/fileforge/dupedog/internal/types"
)

// Sentinel errors returned by Result.
var (
	ErrPending  = errors.New("job result not yet available")
	ErrNotFound = errors.New("job not found")
)

// ErrInvalidRequest reports a SubmitLink call against a job that is not
// eligible (not done, not a dry run, or raw classes were discarded),
// matching spec §7's InvariantViolation kind.
var ErrInvalidRequest = types.ErrInvariantViolation

// Registry tracks scan and link jobs by id and exposes the external
// interface described in spec §4.9. Safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	jobs   map[string]*job
	logger *slog.Logger
}

// New creates an empty Registry.
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{jobs: make(map[string]*job), logger: logger}
}

func (r *Registry) put(j *job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[j.id] = j
}

func (r *Registry) get(id string) (*job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.jobs[id]
	return j, ok
}

// SubmitScan creates a ScanJob for the given request and starts the
// pipeline in the background, returning the new job's id immediately.
func (r *Registry) SubmitScan(req ScanRequest) string {
	id := uuid.NewString()
	j := newJob(id, kindScan)
	j.scanRequest = req
	r.put(j)

	go r.runScan(j)
	return id
}

// SubmitLink starts a LinkJob against a previously completed dry-run
// ScanJob. Returns ErrNotFound if scanID is unknown, ErrInvalidRequest
// if the scan isn't a done dry-run still holding raw classes.
func (r *Registry) SubmitLink(req LinkRequest) (string, error) {
	scanJob, ok := r.get(req.ScanID)
	if !ok {
		return "", fmt.Errorf("%w: scan %s", ErrNotFound, req.ScanID)
	}

	scanJob.mu.Lock()
	eligible := scanJob.status == StatusDone && scanJob.scanRequest.DryRun && scanJob.rawClasses != nil
	classes := scanJob.rawClasses
	scanJob.mu.Unlock()

	if !eligible {
		return "", fmt.Errorf("%w: scan %s is not a dry-run result with retained classes", ErrInvalidRequest, req.ScanID)
	}

	id := uuid.NewString()
	j := newJob(id, kindLink)
	j.scanID = req.ScanID
	j.linkType = req.LinkType
	j.selectedIndices = req.SelectedIndices
	r.put(j)

	go r.runLink(j, classes, scanJob)
	return id, nil
}

// Snapshot returns a cheap, O(1) progress read for jobID.
func (r *Registry) Snapshot(jobID string) (ProgressSnapshot, error) {
	j, ok := r.get(jobID)
	if !ok {
		return ProgressSnapshot{}, ErrNotFound
	}
	return j.snapshot(), nil
}

// Result returns the ScanResult or LinkResult for a terminal job, or
// ErrPending while it is still running.
func (r *Registry) Result(jobID string) (any, error) {
	j, ok := r.get(jobID)
	if !ok {
		return nil, ErrNotFound
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	switch j.status {
	case StatusDone, StatusError, StatusCancelled:
		if j.kind == kindScan {
			return j.scanResult, nil
		}
		return j.linkResult, nil
	default:
		return nil, ErrPending
	}
}

// RequestCancel asks a job to stop at its next checkpoint. The job
// transitions to cancelling immediately and to cancelled within one
// worker quantum.
func (r *Registry) RequestCancel(jobID string) error {
	j, ok := r.get(jobID)
	if !ok {
		return ErrNotFound
	}
	j.cancelRequested.Store(true)
	j.mu.Lock()
	if j.status == StatusRunning || j.status == StatusPaused || j.status == StatusQueued {
		j.status = StatusCancelling
	}
	j.mu.Unlock()
	return nil
}

// RequestPause asks a job to suspend at its next checkpoint.
func (r *Registry) RequestPause(jobID string) error {
	j, ok := r.get(jobID)
	if !ok {
		return ErrNotFound
	}
	j.pauseRequested.Store(true)
	return nil
}

// RequestResume clears a pause request.
func (r *Registry) RequestResume(jobID string) error {
	j, ok := r.get(jobID)
	if !ok {
		return ErrNotFound
	}
	j.pauseRequested.Store(false)
	return nil
}

// Clear removes every terminal job from the registry.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, j := range r.jobs {
		switch j.currentStatus() {
		case StatusDone, StatusError, StatusCancelled:
			delete(r.jobs, id)
		}
	}
}
