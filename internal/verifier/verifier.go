// Package verifier implements the Verifier (C8): a read-only audit pass
// that runs after the Linker to confirm each (original, duplicate) pair
// now has the link shape it claims to.
//
// New component — the teacher has no post-link verifier (its
// internal/verifier package did progressive pre-link confirmation, now
// internal/prefixfilter and internal/fullhasher). Grounded on
// original_source/core.py's link_process_worker Step 2, reimplemented
// in the teacher's idiom: a stats struct plus progress bar rather than
// the original's procedural script.
package verifier

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fileforge/dupedog/internal/linker"
	"github.com/fileforge/dupedog/internal/progress"
)

// stats tracks verification progress.
type stats struct {
	verifiedOK         atomic.Int64
	verificationFailed atomic.Int64
	startTime          time.Time
}

func (s *stats) String() string {
	return fmt.Sprintf("Verified %d ok, %d failed in %.1fs",
		s.verifiedOK.Load(), s.verificationFailed.Load(), time.Since(s.startTime).Seconds())
}

// Outcome records whether one (original, duplicate) pair still has the
// expected link shape.
type Outcome struct {
	Original string
	Target   string
	OK       bool
	Err      error
}

// Verifier confirms Linker's pairs never mutating the filesystem.
// Designed for single-use: create with New(), call Run() once.
type Verifier struct {
	pairs        []linker.PairResult
	showProgress bool
}

// New creates a Verifier over the Linker's successful pairs. Pairs that
// already failed to link are not re-checked.
func New(pairs []linker.PairResult, showProgress bool) *Verifier {
	successful := make([]linker.PairResult, 0, len(pairs))
	for _, p := range pairs {
		if p.Err == nil {
			successful = append(successful, p)
		}
	}
	return &Verifier{pairs: successful, showProgress: showProgress}
}

// Run checks every pair and returns (verifiedOK, verificationFailed) counts
// alongside the per-pair outcomes.
func (v *Verifier) Run() (verifiedOK, verificationFailed int, outcomes []Outcome) {
	bar := progress.New(v.showProgress, -1)
	st := &stats{startTime: time.Now()}
	bar.Describe(st)

	for _, pair := range v.pairs {
		var outcome Outcome
		switch pair.LinkType {
		case linker.Soft:
			outcome = verifySoft(pair)
		default:
			outcome = verifyHard(pair)
		}

		if outcome.OK {
			st.verifiedOK.Add(1)
		} else {
			st.verificationFailed.Add(1)
		}
		outcomes = append(outcomes, outcome)
		bar.Describe(st)
	}

	bar.Finish(st)
	return int(st.verifiedOK.Load()), int(st.verificationFailed.Load()), outcomes
}

// verifyHard checks that target exists, is a regular file (not a
// symlink), and shares the original's inode.
func verifyHard(pair linker.PairResult) Outcome {
	o := Outcome{Original: pair.Original, Target: pair.Target}

	targetInfo, err := os.Lstat(pair.Target)
	if err != nil {
		o.Err = fmt.Errorf("target missing: %w", err)
		return o
	}
	if targetInfo.Mode()&os.ModeSymlink != 0 || !targetInfo.Mode().IsRegular() {
		o.Err = fmt.Errorf("target is not a regular file")
		return o
	}

	originalInfo, err := os.Stat(pair.Original)
	if err != nil {
		o.Err = fmt.Errorf("original missing: %w", err)
		return o
	}

	if !os.SameFile(targetInfo, originalInfo) {
		o.Err = fmt.Errorf("target inode differs from original")
		return o
	}

	o.OK = true
	return o
}

// verifySoft checks that target is a symlink whose resolved target
// canonicalizes to the same absolute path as the original.
func verifySoft(pair linker.PairResult) Outcome {
	o := Outcome{Original: pair.Original, Target: pair.Target}

	targetInfo, err := os.Lstat(pair.Target)
	if err != nil {
		o.Err = fmt.Errorf("target missing: %w", err)
		return o
	}
	if targetInfo.Mode()&os.ModeSymlink == 0 {
		o.Err = fmt.Errorf("target is not a symlink")
		return o
	}

	resolved, err := filepath.EvalSymlinks(pair.Target)
	if err != nil {
		o.Err = fmt.Errorf("cannot resolve symlink: %w", err)
		return o
	}

	canonicalOriginal, err := filepath.EvalSymlinks(pair.Original)
	if err != nil {
		o.Err = fmt.Errorf("cannot resolve original: %w", err)
		return o
	}

	if resolved != canonicalOriginal {
		o.Err = fmt.Errorf("symlink resolves to %s, want %s", resolved, canonicalOriginal)
		return o
	}

	o.OK = true
	return o
}
