// Package propagate sequences a full submodule update run: resolve the
// bottom-up repository order, snapshot the commits to pin, then walk the
// order materializing changes, opening pull requests, and awaiting their
// verdicts, checkpointing state after every repository so an interrupted
// run can resume.
package propagate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/cascade-tools/cascade/internal/cache"
	"github.com/cascade-tools/cascade/internal/graph"
	"github.com/cascade-tools/cascade/internal/platform"
	"github.com/cascade-tools/cascade/internal/state"
	"github.com/cascade-tools/cascade/internal/status"
	"github.com/cascade-tools/cascade/internal/tui"
	"github.com/cascade-tools/cascade/internal/update"
)

// GraphBuilder discovers the submodule graph below a set of roots and
// returns the bottom-up processing order.
type GraphBuilder interface {
	Build(ctx context.Context, roots []string) (*graph.Result, error)
}

// OrderCache persists computed orders between runs.
type OrderCache interface {
	Get(ctx context.Context, roots []string) (*cache.CachedOrder, error)
	Put(ctx context.Context, roots, order []string, urls map[string]string) error
}

// Materializer applies pinned submodule commits to a repository clone.
type Materializer interface {
	UpdateRepo(ctx context.Context, name, branch string, fixed map[string]string) (update.Outcome, error)
}

// Watcher polls a pull request until it reaches a terminal verdict.
type Watcher interface {
	Await(ctx context.Context, p platform.Platform, rec *platform.PullRequestRecord, timeout time.Duration, leaveFailedOpen bool) (platform.Verdict, error)
}

// GitOps is the slice of git operations the orchestrator itself needs.
// Everything heavier lives behind the builder and the materializer.
type GitOps interface {
	EnsureClone(ctx context.Context, dir, url string) error
	HeadCommit(ctx context.Context, dir string) (string, error)
	RemoteHead(ctx context.Context, dir, branch string) (string, error)
	DefaultBranch(ctx context.Context, dir string) (string, error)
}

// StateStore saves and restores per-session propagation state.
type StateStore interface {
	Save(st *state.PropagationState) error
	FindLatest() (string, error)
	Load(session string) (*state.PropagationState, error)
}

// Params are the per-run knobs.
type Params struct {
	Roots           []string
	WorkItem        int
	UseCachedOrder  bool
	LeaveFailedOpen bool
	Resume          bool
	PRTimeout       time.Duration
}

// Deps wires the orchestrator. Builder and materializer are created per
// run because they operate inside the session workspace, which does not
// exist until the session ID is minted.
type Deps struct {
	NewBuilder      func(workdir string) GraphBuilder
	NewMaterializer func(workdir string) Materializer
	Cache           OrderCache
	Watcher         Watcher
	Git             GitOps
	Store           StateStore
	Platforms       map[platform.Kind]platform.Platform
	SessionsDir     string
	BranchPrefix    string
	Logger          *slog.Logger
}

type Orchestrator struct {
	deps   Deps
	logger *slog.Logger

	mu      sync.Mutex
	tracker *status.Tracker
	session string
	branch  string
	depths  map[string]int
	done    bool
}

func New(deps Deps) *Orchestrator {
	return &Orchestrator{deps: deps, logger: deps.Logger}
}

// Run executes one propagation pass. Per-repository failures are recorded
// and processing continues; only errors that would poison the rest of the
// run (graph build failures, platform command failures, cancellation)
// abort it. Call Report afterwards for the summary and overall outcome.
func (o *Orchestrator) Run(ctx context.Context, p Params) error {
	defer func() {
		o.mu.Lock()
		o.done = true
		o.mu.Unlock()
	}()

	if p.Resume {
		return o.resume(ctx, p)
	}
	return o.fresh(ctx, p)
}

func (o *Orchestrator) fresh(ctx context.Context, p Params) error {
	if len(p.Roots) == 0 {
		return errors.New("at least one root repository URL is required")
	}

	session := state.NewSessionID(time.Now())
	workdir := filepath.Join(o.deps.SessionsDir, session)
	st := &state.PropagationState{
		Session:  session,
		Branch:   o.deps.BranchPrefix + session,
		Roots:    p.Roots,
		WorkItem: p.WorkItem,
	}
	o.logger.Info("starting propagation", "session", session, "branch", st.Branch, "roots", len(p.Roots))

	res, err := o.resolveOrder(ctx, p, workdir)
	if err != nil {
		return err
	}
	st.Order = res.order
	st.URLs = res.urls

	st.FixedCommits, err = o.snapshotHeads(ctx, workdir, res)
	if err != nil {
		return err
	}

	o.initRun(st, res.depths)
	o.checkpoint(st)

	return o.processAll(ctx, st, p)
}

func (o *Orchestrator) resume(ctx context.Context, p Params) error {
	session, err := o.deps.Store.FindLatest()
	if err != nil {
		return err
	}
	st, err := o.deps.Store.Load(session)
	if err != nil {
		return err
	}
	o.logger.Info("resuming session", "session", session, "branch", st.Branch)

	// the saved run's parameters win over anything passed on resume
	p.Roots = st.Roots
	p.WorkItem = st.WorkItem

	o.initRun(st, nil)
	for name, rs := range st.Statuses {
		switch rs.Status {
		case status.Updated, status.Skipped:
			o.tracker.Restore(name, rs)
		default:
			// failed and never-reached repositories run again
			o.tracker.Restore(name, status.RepoStatus{Status: status.Pending})
		}
	}

	// the workspace may have been cleaned since the interrupted run
	workdir := filepath.Join(o.deps.SessionsDir, session)
	for _, name := range st.Order {
		if o.alreadyProcessed(name) {
			continue
		}
		if err := o.deps.Git.EnsureClone(ctx, filepath.Join(workdir, name), st.URLs[name]); err != nil {
			return err
		}
	}

	return o.processAll(ctx, st, p)
}

type resolved struct {
	order  []string
	urls   map[string]string
	depths map[string]int
	heads  map[string]string // nil when the order came from the cache
}

func (o *Orchestrator) resolveOrder(ctx context.Context, p Params, workdir string) (*resolved, error) {
	if p.UseCachedOrder {
		cached, err := o.deps.Cache.Get(ctx, p.Roots)
		if err != nil {
			o.logger.Warn("order cache unavailable", "error", err)
		}
		if cached != nil {
			o.logger.Info("using cached order", "repos", len(cached.Order), "cached_at", cached.CreatedAt)
			for _, name := range cached.Order {
				if err := o.deps.Git.EnsureClone(ctx, filepath.Join(workdir, name), cached.URLs[name]); err != nil {
					return nil, err
				}
			}
			return &resolved{order: cached.Order, urls: cached.URLs}, nil
		}
		o.logger.Info("order cache miss, building graph")
	}

	res, err := o.deps.NewBuilder(workdir).Build(ctx, p.Roots)
	if err != nil {
		return nil, err
	}
	if err := o.deps.Cache.Put(ctx, p.Roots, res.Order, res.URLs); err != nil {
		o.logger.Warn("could not cache order", "error", err)
	}
	return &resolved{order: res.Order, urls: res.URLs, depths: res.Depths, heads: res.Heads}, nil
}

// snapshotHeads fixes the commit every parent will pin for each repository.
// The graph build already recorded clone-time heads; a cached order has to
// read them back from the refreshed clones.
func (o *Orchestrator) snapshotHeads(ctx context.Context, workdir string, res *resolved) (map[string]string, error) {
	if res.heads != nil {
		return res.heads, nil
	}
	fixed := make(map[string]string, len(res.order))
	for _, name := range res.order {
		head, err := o.deps.Git.HeadCommit(ctx, filepath.Join(workdir, name))
		if err != nil {
			return nil, fmt.Errorf("failed to read head of %s: %w", name, err)
		}
		fixed[name] = head
	}
	return fixed, nil
}

func (o *Orchestrator) processAll(ctx context.Context, st *state.PropagationState, p Params) error {
	mat := o.deps.NewMaterializer(filepath.Join(o.deps.SessionsDir, st.Session))
	for _, name := range st.Order {
		if o.alreadyProcessed(name) {
			o.logger.Info("already processed", "repo", name)
			continue
		}
		err := o.processRepo(ctx, st, p, mat, name)
		o.checkpoint(st)
		if err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) processRepo(ctx context.Context, st *state.PropagationState, p Params, mat Materializer, name string) error {
	dir := filepath.Join(o.deps.SessionsDir, st.Session, name)
	o.tracker.Set(name, status.InProgress, "")

	outcome, err := mat.UpdateRepo(ctx, name, st.Branch, st.FixedCommits)
	if err != nil {
		// no PR has been opened yet, so resume retries from this repository
		o.tracker.Set(name, status.Failed, err.Error())
		return err
	}
	if outcome == update.NoOp {
		o.tracker.Set(name, status.Skipped, "already up to date")
		return nil
	}

	remoteURL := st.URLs[name]
	kind, err := platform.DetectKind(remoteURL)
	if err != nil {
		o.tracker.Set(name, status.Failed, err.Error())
		return nil
	}
	plat, ok := o.deps.Platforms[kind]
	if !ok {
		o.tracker.Set(name, status.Failed, fmt.Sprintf("no %s adapter configured", kind))
		return nil
	}

	// an interrupted run may have pushed and opened this PR already
	var rec *platform.PullRequestRecord
	if p.Resume {
		rec, err = plat.FindOpenPR(ctx, remoteURL, st.Branch)
		if err != nil {
			o.tracker.Set(name, status.Failed, err.Error())
			return err
		}
		if rec != nil {
			o.logger.Info("adopting open pull request", "repo", name, "pr", rec.URL)
		}
	}
	if rec == nil {
		base, err := o.deps.Git.DefaultBranch(ctx, dir)
		if err != nil {
			o.tracker.Set(name, status.Failed, err.Error())
			return nil
		}
		rec, err = plat.OpenUpdatePR(ctx, platform.OpenPRParams{
			RepoDir:   dir,
			RemoteURL: remoteURL,
			Branch:    st.Branch,
			Base:      base,
			Title:     "Update submodules",
			Body:      prBody(st),
			WorkItem:  st.WorkItem,
		})
		if err != nil {
			// a failed push or create leaves the remote in an unknown state
			o.tracker.Set(name, status.Failed, err.Error())
			return err
		}
	}

	o.tracker.AttachPR(name, rec)
	o.tracker.Set(name, status.Updated, "")
	o.checkpoint(st)

	verdict, err := o.deps.Watcher.Await(ctx, plat, rec, p.PRTimeout, p.LeaveFailedOpen)
	if err != nil {
		o.tracker.Set(name, status.Failed, err.Error())
		return err
	}

	switch verdict {
	case platform.Succeeded:
		// the merge moved the default branch; dependents must pin the
		// commit that now carries this update
		branch, err := o.deps.Git.DefaultBranch(ctx, dir)
		if err == nil {
			var head string
			head, err = o.deps.Git.RemoteHead(ctx, dir, branch)
			if err == nil {
				st.FixedCommits[name] = head
			}
		}
		if err != nil {
			o.tracker.Set(name, status.Failed, fmt.Sprintf("merged but could not read new head: %v", err))
			return nil
		}
		o.logger.Info("pull request merged", "repo", name, "pinned", shortSHA(st.FixedCommits[name]))
	default:
		o.tracker.Set(name, status.Failed, "pull request "+verdict.String())
	}
	return nil
}

func (o *Orchestrator) alreadyProcessed(name string) bool {
	rs, ok := o.tracker.Get(name)
	return ok && (rs.Status == status.Updated || rs.Status == status.Skipped)
}

// checkpoint persists the current state. Losing a checkpoint costs resume
// fidelity, not correctness, so failures are logged and swallowed.
func (o *Orchestrator) checkpoint(st *state.PropagationState) {
	st.Statuses = o.tracker.Snapshot()
	if err := o.deps.Store.Save(st); err != nil {
		o.logger.Warn("could not save session state", "session", st.Session, "error", err)
	}
}

func (o *Orchestrator) initRun(st *state.PropagationState, depths map[string]int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.tracker = status.NewTracker(st.Order, o.logger)
	o.session = st.Session
	o.branch = st.Branch
	o.depths = depths
}

// Report writes the final summary table and returns whether every
// repository came through without failure.
func (o *Orchestrator) Report(w io.Writer) bool {
	o.mu.Lock()
	tr := o.tracker
	o.mu.Unlock()
	if tr == nil {
		return false
	}
	return tr.Report(w, true)
}

// Snapshot returns the current run state for display. Safe to call from
// another goroutine while Run executes.
func (o *Orchestrator) Snapshot() tui.Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()

	snap := tui.Snapshot{
		Timestamp: time.Now(),
		Session:   o.session,
		Branch:    o.branch,
		Done:      o.done,
	}
	if o.tracker == nil {
		return snap
	}
	statuses := o.tracker.Snapshot()
	for _, name := range o.tracker.Ordered() {
		rs := statuses[name]
		repo := tui.RepoState{
			Name:      name,
			Status:    string(rs.Status),
			Detail:    rs.Message,
			UpdatedAt: rs.UpdatedAt,
		}
		if o.depths != nil {
			repo.Depth = o.depths[name]
		}
		if rs.PR != nil {
			repo.PRURL = rs.PR.URL
		}
		snap.Repos = append(snap.Repos, repo)
	}
	return snap
}

func prBody(st *state.PropagationState) string {
	return fmt.Sprintf("Automated submodule update.\n\nSession: %s\nBranch: %s\n", st.Session, st.Branch)
}

func shortSHA(sha string) string {
	if len(sha) > 8 {
		return sha[:8]
	}
	return sha
}
