package registry

import "math"

// Status is the lifecycle state of a ScanJob or LinkJob.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusRunning    Status = "running"
	StatusPaused     Status = "paused"
	StatusCancelling Status = "cancelling"
	StatusDone       Status = "done"
	StatusError      Status = "error"
	StatusCancelled  Status = "cancelled"
)

// Phase names the pipeline stage a job is currently executing.
type Phase string

const (
	PhaseInit         Phase = "init"
	PhaseWalk         Phase = "walk"
	PhaseSizeBucket   Phase = "size_bucket"
	PhasePrefixFilter Phase = "prefix_filter"
	PhaseFullHash     Phase = "full_hash"
	PhaseClassAnalyze Phase = "class_analyze"
	PhaseLink         Phase = "link"
	PhaseVerify       Phase = "verify"
	PhaseDone         Phase = "done"
)

// ScanRequest is the external request to start a scan, mirroring §6
// verbatim.
type ScanRequest struct {
	Roots       []string `json:"roots"`
	DryRun      bool     `json:"dry_run"`
	LinkType    string   `json:"link_type,omitempty"` // "hard" | "soft" | ""
	SaveAuto    bool     `json:"save_auto"`
	IgnoreDirs  []string `json:"ignore_dirs"`
	IgnoreExts  []string `json:"ignore_exts"`
	MinFileSize uint64   `json:"min_file_size"`
	CacheFile   string   `json:"cache_file,omitempty"` // persistent hash cache path; empty disables caching
}

// LinkRequest submits a link operation against a prior dry-run scan.
type LinkRequest struct {
	ScanID          string   `json:"scan_id"`
	LinkType        string   `json:"link_type"`
	SelectedIndices []uint32 `json:"selected_indices,omitempty"`
}

// ProgressSnapshot is a cheap, O(1) read of a job's current state.
type ProgressSnapshot struct {
	Status          Status `json:"status"`
	Phase           Phase  `json:"phase"`
	TotalItems      int64  `json:"total_items"`
	ProcessedItems  int64  `json:"processed_items"`
	Percentage      int    `json:"percentage"`
	Paused          bool   `json:"paused,omitempty"`
	CancelRequested bool   `json:"cancel_requested,omitempty"`
}

// DuplicateMember is one member of a reported duplicate set.
type DuplicateMember struct {
	Path          string `json:"path"`
	Inode         uint64 `json:"inode"`
	Hash          string `json:"hash"`
	AlreadyLinked bool   `json:"already_linked"`
}

// Summary is the Scan Result's summary block.
type Summary struct {
	ScanPath          string  `json:"scan_path"`
	BeforeSize        int64   `json:"before_size"`
	AfterSize         int64   `json:"after_size"`
	PotentialSavings  int64   `json:"potential_savings"`
	TotalSetsFound    int     `json:"total_sets_found"`
	SetsAlreadyLinked int     `json:"sets_already_linked"`
	IsDryRun          bool    `json:"is_dry_run"`
	DurationSeconds   float64 `json:"duration_seconds"`
	ActionTaken       string  `json:"action_taken"`
	FilesLinked       int     `json:"files_linked"`
	FilesFailed       int     `json:"files_failed"`
}

// ScanResult is the JSON-serializable outcome of a completed ScanJob.
type ScanResult struct {
	ScanID             string              `json:"scan_id"`
	Summary            Summary             `json:"summary"`
	Duplicates         [][]DuplicateMember `json:"duplicates"`
	Error              *string             `json:"error"`
	RawClassesRetained bool                `json:"raw_classes_retained"`
}

// LinkResult is the JSON-serializable outcome of a completed LinkJob.
type LinkResult struct {
	Summary            string  `json:"summary"`
	FilesLinked        int     `json:"files_linked"`
	FilesFailed        int     `json:"files_failed"`
	FilesVerified      int     `json:"files_verified"`
	VerificationFailed int     `json:"verification_failed"`
	SpaceSaved         string  `json:"space_saved"` // numeric string, or "uncertain"
	Error              *string `json:"error"`
}

// jobKind distinguishes ScanJob from LinkJob inside the registry's
// uniform map without reflection.
type jobKind int

const (
	kindScan jobKind = iota
	kindLink
)

func percentage(status Status, phase Phase, total, processed int64) int {
	switch status {
	case StatusQueued:
		return 0
	case StatusDone, StatusError, StatusCancelled:
		return 100
	}
	if phase == PhaseInit || total == 0 {
		return 0
	}
	p := processed
	if p > total {
		p = total
	}
	return int(math.Round(100 * float64(p) / float64(total)))
}
