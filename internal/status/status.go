// Package status is the in-memory bookkeeping of a propagation run: which
// repository sits in which lifecycle state, plus the final success roll-up.
package status

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/cascade-tools/cascade/internal/platform"
)

// Status is a repository's position in the update lifecycle.
type Status string

const (
	Pending    Status = "pending"
	InProgress Status = "in_progress"
	Updated    Status = "updated"
	Skipped    Status = "skipped"
	Failed     Status = "failed"
)

// RepoStatus is the tracked state of one repository.
type RepoStatus struct {
	Status    Status                      `json:"status"`
	PR        *platform.PullRequestRecord `json:"pr,omitempty"`
	Message   string                      `json:"message,omitempty"`
	UpdatedAt time.Time                   `json:"updated_at"`
}

// Tracker records per-repository progress. Transitions only move forward:
// a repository never returns toward pending, updated and skipped never
// convert into each other, and the only move between terminal states is
// updated to failed (the PR was opened, then its checks broke).
type Tracker struct {
	mu     sync.Mutex
	order  []string
	repos  map[string]*RepoStatus
	logger *slog.Logger
}

func NewTracker(order []string, logger *slog.Logger) *Tracker {
	repos := make(map[string]*RepoStatus, len(order))
	for _, name := range order {
		repos[name] = &RepoStatus{Status: Pending, UpdatedAt: time.Now()}
	}
	return &Tracker{
		order:  append([]string(nil), order...),
		repos:  repos,
		logger: logger,
	}
}

// Set moves name to st. Backward and cross-terminal transitions are
// rejected and logged, never applied.
func (t *Tracker) Set(name string, st Status, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rs, ok := t.repos[name]
	if !ok {
		t.logger.Warn("status for unknown repo", "repo", name, "status", st)
		return
	}
	if !allowed(rs.Status, st) {
		t.logger.Warn("rejected status transition", "repo", name, "from", rs.Status, "to", st)
		return
	}

	rs.Status = st
	rs.Message = message
	rs.UpdatedAt = time.Now()
}

// AttachPR records the pull request opened for name.
func (t *Tracker) AttachPR(name string, pr *platform.PullRequestRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if rs, ok := t.repos[name]; ok {
		rs.PR = pr
		rs.UpdatedAt = time.Now()
	}
}

// Restore overwrites name's state wholesale, bypassing the transition
// guard. Only state loaded from a previous run goes through here.
func (t *Tracker) Restore(name string, rs RepoStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.repos[name]; !ok {
		t.logger.Warn("restored status for unknown repo", "repo", name)
		return
	}
	cp := rs
	if rs.PR != nil {
		pr := *rs.PR
		cp.PR = &pr
	}
	t.repos[name] = &cp
}

// Get returns the tracked state of name.
func (t *Tracker) Get(name string) (RepoStatus, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rs, ok := t.repos[name]
	if !ok {
		return RepoStatus{}, false
	}
	return copyStatus(rs), true
}

// Ordered returns the repository names in update order.
func (t *Tracker) Ordered() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.order...)
}

// Snapshot returns a deep copy of all tracked state.
func (t *Tracker) Snapshot() map[string]RepoStatus {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]RepoStatus, len(t.repos))
	for name, rs := range t.repos {
		out[name] = copyStatus(rs)
	}
	return out
}

// Report writes the run summary table to w and returns whether every
// repository avoided failure. This is the single place overall run success
// is decided.
func (t *Tracker) Report(w io.Writer, final bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "REPO\tSTATUS\tPULL REQUEST\tDETAIL")
	fmt.Fprintln(tw, "----\t------\t------------\t------")

	allSucceeded := true
	for _, name := range t.order {
		rs := t.repos[name]
		if rs.Status == Failed {
			allSucceeded = false
		}
		pr := "-"
		if rs.PR != nil {
			pr = rs.PR.URL
		}
		detail := rs.Message
		if detail == "" {
			detail = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", name, rs.Status, pr, detail)
	}
	tw.Flush()

	if final {
		if allSucceeded {
			fmt.Fprintln(w, color.New(color.FgHiGreen).Sprint("\nAll repositories propagated."))
		} else {
			fmt.Fprintln(w, color.New(color.FgRed).Sprint("\nSome repositories failed; fix and rerun with resume."))
		}
	}

	return allSucceeded
}

func copyStatus(rs *RepoStatus) RepoStatus {
	cp := *rs
	if rs.PR != nil {
		pr := *rs.PR
		cp.PR = &pr
	}
	return cp
}

func allowed(from, to Status) bool {
	if from == to {
		return true
	}
	switch from {
	case Skipped, Failed:
		return false
	case Updated:
		return to == Failed
	}
	return rank(to) > rank(from)
}

func rank(s Status) int {
	switch s {
	case InProgress:
		return 1
	case Updated, Skipped:
		return 2
	case Failed:
		return 3
	}
	return 0
}
