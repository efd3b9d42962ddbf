// Package update materializes submodule bumps in already-cloned working
// trees: it checks out the session branch, repins every submodule that has a
// fixed commit, and commits the result.
package update

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/cascade-tools/cascade/internal/git"
	"github.com/cascade-tools/cascade/internal/graph"
)

// Git provides the local repository operations materialization needs.
// *git.Client satisfies it.
type Git interface {
	DefaultBranch(ctx context.Context, dir string) (string, error)
	CheckoutBranch(ctx context.Context, dir, branch, start string) error
	RemoteURL(ctx context.Context, dir string) (string, error)
	Submodules(ctx context.Context, dir string) ([]git.Submodule, error)
	GitlinkAt(ctx context.Context, dir, path string) (string, error)
	SetGitlink(ctx context.Context, dir, path, commit string) error
	HasStagedChanges(ctx context.Context, dir string) (bool, error)
	Commit(ctx context.Context, dir, message string) error
}

// Outcome says whether materialization produced a commit.
type Outcome int

const (
	NoOp Outcome = iota
	Changed
)

func (o Outcome) String() string {
	if o == Changed {
		return "changed"
	}
	return "no-op"
}

// MaterializeError reports a failure while updating one repository's
// working tree.
type MaterializeError struct {
	Repo string
	Err  error
}

func (e *MaterializeError) Error() string {
	return fmt.Sprintf("materialize %s: %v", e.Repo, e.Err)
}

func (e *MaterializeError) Unwrap() error { return e.Err }

// Materializer mutates working trees under workdir. It never talks to the
// network; pushing and PR creation happen elsewhere.
type Materializer struct {
	git     Git
	workdir string
	logger  *slog.Logger
}

func NewMaterializer(g Git, workdir string, logger *slog.Logger) *Materializer {
	return &Materializer{git: g, workdir: workdir, logger: logger}
}

// UpdateRepo checks out branch in the named repository (forked from the
// remote default branch), repins every submodule present in fixed, and
// commits. Returns NoOp when no pin actually changed, in which case nothing
// is committed and the branch carries no new work.
func (m *Materializer) UpdateRepo(ctx context.Context, name, branch string, fixed map[string]string) (Outcome, error) {
	dir := filepath.Join(m.workdir, name)

	defaultBranch, err := m.git.DefaultBranch(ctx, dir)
	if err != nil {
		return NoOp, &MaterializeError{Repo: name, Err: err}
	}
	if err := m.git.CheckoutBranch(ctx, dir, branch, "origin/"+defaultBranch); err != nil {
		return NoOp, &MaterializeError{Repo: name, Err: err}
	}

	remoteURL, err := m.git.RemoteURL(ctx, dir)
	if err != nil {
		return NoOp, &MaterializeError{Repo: name, Err: err}
	}
	subs, err := m.git.Submodules(ctx, dir)
	if err != nil {
		return NoOp, &MaterializeError{Repo: name, Err: err}
	}

	var bumps []string
	for _, sub := range subs {
		subName := graph.RepoNameFromURL(graph.ResolveURL(remoteURL, sub.URL))
		want, ok := fixed[subName]
		if !ok {
			continue
		}

		current, err := m.git.GitlinkAt(ctx, dir, sub.Path)
		if err != nil {
			return NoOp, &MaterializeError{Repo: name, Err: err}
		}
		if current == "" {
			m.logger.Debug("submodule declared but not in tree", "repo", name, "path", sub.Path)
			continue
		}
		if current == want {
			continue
		}

		if err := m.git.SetGitlink(ctx, dir, sub.Path, want); err != nil {
			return NoOp, &MaterializeError{Repo: name, Err: err}
		}
		bumps = append(bumps, fmt.Sprintf("%s: %s -> %s", sub.Path, shortSHA(current), shortSHA(want)))
		m.logger.Info("repinned submodule", "repo", name, "path", sub.Path, "commit", shortSHA(want))
	}

	changed, err := m.git.HasStagedChanges(ctx, dir)
	if err != nil {
		return NoOp, &MaterializeError{Repo: name, Err: err}
	}
	if !changed {
		return NoOp, nil
	}

	if err := m.git.Commit(ctx, dir, commitMessage(bumps)); err != nil {
		return NoOp, &MaterializeError{Repo: name, Err: err}
	}

	return Changed, nil
}

func commitMessage(bumps []string) string {
	return "Update submodules\n\n" + strings.Join(bumps, "\n")
}

func shortSHA(sha string) string {
	if len(sha) > 8 {
		return sha[:8]
	}
	return sha
}
