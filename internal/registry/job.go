package registry

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/fileforge/dupedog/internal/classanalyzer"
	"github.com/fileforge/dupedog/internal/types"
)

// job holds the mutable state for one ScanJob or LinkJob. All reads and
// writes of the fields below mu happen while holding the job's own mutex
// (in the accessor methods, or by the pipeline and registry locking mu
// directly) — never the registry's — so that hashing
// workers updating progress never contend with a concurrent snapshot of
// an unrelated job (ported from the teacher's per-component `stats`
// idiom, generalized to a long-lived, externally-observable job).
type job struct {
	id   string
	kind jobKind

	cancelRequested atomic.Bool
	pauseRequested  atomic.Bool

	mu         sync.Mutex
	status     Status
	phase      Phase
	total      int64
	processed  int64
	startedAt  time.Time
	finishedAt time.Time
	jobErr     error

	// scan-specific, valid when kind == kindScan
	scanRequest ScanRequest
	summary     classanalyzer.Summary
	rawClasses  []types.LinkableClass
	scanResult  *ScanResult

	// link-specific, valid when kind == kindLink
	scanID          string
	linkType        string
	selectedIndices []uint32
	linkResult      *LinkResult
}

func newJob(id string, kind jobKind) *job {
	return &job{id: id, kind: kind, status: StatusQueued, phase: PhaseInit}
}

func (j *job) setRunning(phase Phase) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.status = StatusRunning
	j.phase = phase
	if j.startedAt.IsZero() {
		j.startedAt = time.Now()
	}
}

func (j *job) setPhase(phase Phase, total int64) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.phase = phase
	j.total = total
	j.processed = 0
}

func (j *job) addProcessed(n int64) {
	j.mu.Lock()
	j.processed += n
	j.mu.Unlock()
}

func (j *job) finish(status Status, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.status = status
	j.phase = PhaseDone
	j.jobErr = err
	j.finishedAt = time.Now()
}

func (j *job) snapshot() ProgressSnapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	return ProgressSnapshot{
		Status:          j.status,
		Phase:           j.phase,
		TotalItems:      j.total,
		ProcessedItems:  j.processed,
		Percentage:      percentage(j.status, j.phase, j.total, j.processed),
		Paused:          j.pauseRequested.Load(),
		CancelRequested: j.cancelRequested.Load(),
	}
}

func (j *job) currentStatus() Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

func (j *job) elapsed() time.Duration {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.finishedAt.IsZero() {
		return time.Since(j.startedAt)
	}
	return j.finishedAt.Sub(j.startedAt)
}

// isCancelled is polled by every pipeline stage between work units; it
// never interrupts a file read mid-flight.
func (j *job) isCancelled() bool { return j.cancelRequested.Load() }

// waitIfPaused sleep-polls while pause is requested and cancel is not,
// matching spec §5's "sleep-poll backoff" pause semantics.
func (j *job) waitIfPaused() {
	if !j.pauseRequested.Load() {
		return
	}
	j.mu.Lock()
	j.status = StatusPaused
	j.mu.Unlock()
	for j.pauseRequested.Load() && !j.cancelRequested.Load() {
		time.Sleep(50 * time.Millisecond)
	}
	j.mu.Lock()
	if j.status == StatusPaused {
		j.status = StatusRunning
	}
	j.mu.Unlock()
}
