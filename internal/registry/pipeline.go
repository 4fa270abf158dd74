package registry

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/fileforge/dupedog/internal/cache"
	"github.com/fileforge/dupedog/internal/classanalyzer"
	"github.com/fileforge/dupedog/internal/fullhasher"
	"github.com/fileforge/dupedog/internal/linker"
	"github.com/fileforge/dupedog/internal/persist"
	"github.com/fileforge/dupedog/internal/prefixfilter"
	"github.com/fileforge/dupedog/internal/scanner"
	"github.com/fileforge/dupedog/internal/screener"
	"github.com/fileforge/dupedog/internal/types"
	"github.com/fileforge/dupedog/internal/verifier"
)

// hashWorkers sizes the PrefixFilter/FullHasher pools per §5: half the
// available cores, never fewer than one.
func hashWorkers() int {
	if n := runtime.NumCPU() / 2; n > 0 {
		return n
	}
	return 1
}

// runScan drives C2 through C6 (and, for a non-dry-run request, C7/C8 too)
// for one ScanJob. Runs in its own goroutine; all observable state changes
// go through j's locked accessors so Snapshot/Result never race it.
func (r *Registry) runScan(j *job) {
	req := j.scanRequest
	errCh := make(chan error, 256)
	go r.drainErrors(j.id, errCh)
	defer close(errCh)

	mm := newMemoryMonitor(r.logger)
	workers := hashWorkers()

	hashCache, err := cache.Open(req.CacheFile)
	if err != nil {
		j.finish(StatusError, fmt.Errorf("open cache: %w", err))
		return
	}
	defer func() { _ = hashCache.Close() }()

	j.setRunning(PhaseWalk)
	sc := scanner.New(req.Roots, int64(req.MinFileSize), req.IgnoreDirs, req.IgnoreExts, false, errCh,
		scanner.WithCancel(j.isCancelled), scanner.WithPause(j.waitIfPaused))
	files := sc.Run()
	if r.checkCancelled(j) {
		return
	}
	bytesScanned := sc.BytesScanned()

	j.setPhase(PhaseSizeBucket, int64(len(files)))
	buckets := screener.New(files, false).Run()
	j.addProcessed(int64(len(files)))

	j.setPhase(PhasePrefixFilter, int64(len(buckets)))
	if err := tickEach(mm, len(files)); err != nil {
		j.finish(StatusError, err)
		return
	}
	prefixBuckets := prefixfilter.New(buckets, workers, false, errCh,
		prefixfilter.WithCancel(j.isCancelled), prefixfilter.WithPause(j.waitIfPaused), prefixfilter.WithCache(hashCache)).Run()
	if r.checkCancelled(j) {
		return
	}
	j.addProcessed(int64(len(buckets)))

	j.setPhase(PhaseFullHash, int64(len(prefixBuckets)))
	if err := tickEach(mm, len(files)); err != nil {
		j.finish(StatusError, err)
		return
	}
	classes := fullhasher.New(prefixBuckets, workers, false, errCh,
		fullhasher.WithCancel(j.isCancelled), fullhasher.WithPause(j.waitIfPaused), fullhasher.WithCache(hashCache)).Run()
	if r.checkCancelled(j) {
		return
	}
	j.addProcessed(int64(len(prefixBuckets)))

	j.setPhase(PhaseClassAnalyze, int64(len(classes)))
	linkable, summary := classanalyzer.New(classes, classanalyzer.WithCancel(j.isCancelled), classanalyzer.WithPause(j.waitIfPaused)).Run()
	if r.checkCancelled(j) {
		return
	}
	j.addProcessed(int64(len(classes)))

	scanPath := strings.Join(req.Roots, ", ")

	if req.DryRun {
		result := &ScanResult{
			ScanID:             j.id,
			Summary:            buildSummary(scanPath, bytesScanned, summary, req.DryRun, "none", 0, 0, j.elapsed().Seconds()),
			Duplicates:         buildDuplicates(linkable),
			RawClassesRetained: true,
		}
		j.mu.Lock()
		j.rawClasses = linkable
		j.scanResult = result
		j.mu.Unlock()
		r.autosave(j.id, req, result)
		j.finish(StatusDone, nil)
		return
	}

	linkType := linker.LinkType(req.LinkType)
	if linkType == "" {
		linkType = linker.Hard
	}

	j.setPhase(PhaseLink, int64(len(linkable)))
	pairs := linker.New(linkable, linkType, false, errCh, linker.WithCancel(j.isCancelled), linker.WithPause(j.waitIfPaused)).Run()
	if r.checkCancelled(j) {
		return
	}
	j.addProcessed(int64(len(linkable)))

	j.setPhase(PhaseVerify, int64(len(pairs)))
	_, _, _ = verifier.New(pairs, false).Run()
	j.addProcessed(int64(len(pairs)))

	linked, failed := countPairs(pairs)
	result := &ScanResult{
		ScanID:             j.id,
		Summary:            buildSummary(scanPath, bytesScanned, summary, req.DryRun, string(linkType), linked, failed, j.elapsed().Seconds()),
		Duplicates:         buildDuplicates(linkable),
		RawClassesRetained: false,
	}
	j.mu.Lock()
	j.scanResult = result
	j.mu.Unlock()
	r.autosave(j.id, req, result)
	j.finish(StatusDone, nil)
}

// autosave persists result into the first scan root when the caller
// opted in, logging (not failing the job) on error — matching
// original_source/core.py's best-effort save_results_to_file behavior.
func (r *Registry) autosave(jobID string, req ScanRequest, result *ScanResult) {
	if !req.SaveAuto || len(req.Roots) == 0 {
		return
	}
	if err := persist.Save(req.Roots[0], jobID, result); err != nil {
		r.logger.Warn("autosave failed", "job_id", jobID, "error", err)
	}
}

// runLink drives C7/C8 against the raw classes retained by a prior
// dry-run ScanJob, consuming them so a second SubmitLink against the
// same scan is rejected by the registry's eligibility check.
func (r *Registry) runLink(j *job, classes []types.LinkableClass, scanJob *job) {
	errCh := make(chan error, 256)
	go r.drainErrors(j.id, errCh)
	defer close(errCh)

	scanJob.mu.Lock()
	scanJob.rawClasses = nil
	scanJob.mu.Unlock()

	linkType := linker.LinkType(j.linkType)
	if linkType == "" {
		linkType = linker.Hard
	}

	var opts []linker.Option
	opts = append(opts, linker.WithCancel(j.isCancelled), linker.WithPause(j.waitIfPaused))
	if len(j.selectedIndices) > 0 {
		indices := make([]int, len(j.selectedIndices))
		for i, v := range j.selectedIndices {
			indices[i] = int(v)
		}
		opts = append(opts, linker.WithSelectedIndices(indices))
	}

	j.setRunning(PhaseLink)
	j.setPhase(PhaseLink, int64(len(classes)))
	pairs := linker.New(classes, linkType, false, errCh, opts...).Run()
	if r.checkCancelled(j) {
		return
	}
	j.addProcessed(int64(len(classes)))

	j.setPhase(PhaseVerify, int64(len(pairs)))
	verifiedOK, verificationFailed, _ := verifier.New(pairs, false).Run()
	j.addProcessed(int64(len(pairs)))

	linked, failed := countPairs(pairs)
	saved, uncertain := spaceSaved(pairs)
	spaceSavedStr := fmt.Sprintf("%d", saved)
	if uncertain {
		spaceSavedStr = "uncertain"
	}

	j.mu.Lock()
	j.linkResult = &LinkResult{
		Summary:            fmt.Sprintf("linked %d, failed %d, verified %d ok / %d failed", linked, failed, verifiedOK, verificationFailed),
		FilesLinked:        linked,
		FilesFailed:        failed,
		FilesVerified:      verifiedOK,
		VerificationFailed: verificationFailed,
		SpaceSaved:         spaceSavedStr,
	}
	j.mu.Unlock()
	j.finish(StatusDone, nil)
}

// checkCancelled finalizes j as cancelled and reports true if the job's
// cancel flag was set, so callers can return early after any stage.
func (r *Registry) checkCancelled(j *job) bool {
	if !j.isCancelled() {
		return false
	}
	j.finish(StatusCancelled, types.ErrCancelled)
	return true
}

func (r *Registry) drainErrors(jobID string, errCh <-chan error) {
	for err := range errCh {
		r.logger.Warn("pipeline error", "job_id", jobID, "error", err)
	}
}

// tickEach calls the memory monitor's Tick once per unit of upcoming work,
// before the stage starts, and returns OutOfMemory if a sample crosses the
// abort threshold, so the stage is not started.
func tickEach(mm *memoryMonitor, n int) error {
	for i := 0; i < n; i++ {
		if err := mm.Tick(); err != nil {
			return err
		}
	}
	return nil
}

func countPairs(pairs []linker.PairResult) (linked, failed int) {
	for _, p := range pairs {
		if p.Err == nil {
			linked++
		} else {
			failed++
		}
	}
	return linked, failed
}

// spaceSaved totals the size of every successfully-replaced duplicate.
// uncertain is true if any pair failed, since a partially-linked class's
// true savings depend on which member ended up kept as the original.
func spaceSaved(pairs []linker.PairResult) (total int64, uncertain bool) {
	for _, p := range pairs {
		if p.Err != nil {
			uncertain = true
			continue
		}
		total += p.Size
	}
	return total, uncertain
}

// buildSummary assembles the reported Summary. BeforeSize is the Walker's
// total bytes scanned across the whole tree (not just duplicate classes);
// AfterSize is derived from it once, rather than accumulated per class,
// so the before/after/savings invariant holds even when some classes are
// already fully linked and contribute zero savings.
func buildSummary(scanPath string, bytesScanned int64, s classanalyzer.Summary, dryRun bool, actionTaken string, linked, failed int, duration float64) Summary {
	return Summary{
		ScanPath:          scanPath,
		BeforeSize:        bytesScanned,
		AfterSize:         bytesScanned - s.PotentialSavings,
		PotentialSavings:  s.PotentialSavings,
		TotalSetsFound:    s.TotalSets,
		SetsAlreadyLinked: s.AlreadyLinkedSets,
		IsDryRun:          dryRun,
		DurationSeconds:   duration,
		ActionTaken:       actionTaken,
		FilesLinked:       linked,
		FilesFailed:       failed,
	}
}

func buildDuplicates(classes []types.LinkableClass) [][]DuplicateMember {
	out := make([][]DuplicateMember, 0, len(classes))
	for _, c := range classes {
		members := make([]DuplicateMember, 0, len(c.Class.Members))
		for _, m := range c.Class.Members {
			members = append(members, DuplicateMember{
				Path:          m.Path,
				Inode:         m.Inode,
				Hash:          fmt.Sprintf("%016x", c.Class.FullHash),
				AlreadyLinked: c.AlreadyLinked,
			})
		}
		out = append(out, members)
	}
	return out
}
