// Package graph discovers the submodule dependency graph below a set of
// root repositories and produces the leaf-first update order.
package graph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cascade-tools/cascade/internal/git"
)

// Source provides the repository operations discovery needs. *git.Client
// satisfies it.
type Source interface {
	EnsureClone(ctx context.Context, dir, url string) error
	Submodules(ctx context.Context, dir string) ([]git.Submodule, error)
	HeadCommit(ctx context.Context, dir string) (string, error)
}

// BuildError reports a failure to discover or order the repository graph.
type BuildError struct {
	Repo string // repository being processed, empty for whole-graph failures
	Err  error
}

func (e *BuildError) Error() string {
	if e.Repo != "" {
		return fmt.Sprintf("graph build: %s: %v", e.Repo, e.Err)
	}
	return fmt.Sprintf("graph build: %v", e.Err)
}

func (e *BuildError) Unwrap() error { return e.Err }

// Result is the outcome of a graph build.
type Result struct {
	Order  []string          // update order, dependencies first
	URLs   map[string]string // repo name -> remote URL
	Heads  map[string]string // repo name -> HEAD commit at clone time
	Depths map[string]int    // repo name -> longest distance from any root
}

type Builder struct {
	src     Source
	workdir string
	ignore  map[string]struct{}
	logger  *slog.Logger
}

// NewBuilder returns a builder that clones into workdir/<repo-name>.
// Repositories whose canonical name is in ignore are treated as external:
// never cloned, never graphed, never updated.
func NewBuilder(src Source, workdir string, ignore []string, logger *slog.Logger) *Builder {
	ig := make(map[string]struct{}, len(ignore))
	for _, name := range ignore {
		ig[name] = struct{}{}
	}
	return &Builder{src: src, workdir: workdir, ignore: ig, logger: logger}
}

// Build walks the submodule graph breadth-first from roots, cloning each
// repository exactly once, then orders it leaf-first: descending depth,
// ties broken by discovery order. Cyclic submodule references are an error.
func (b *Builder) Build(ctx context.Context, roots []string) (*Result, error) {
	if len(roots) == 0 {
		return nil, &BuildError{Err: errors.New("no root repositories given")}
	}

	urls := make(map[string]string)                // name -> first-seen URL
	edges := make(map[string]map[string]struct{}) // parent -> children
	heads := make(map[string]string)
	var discovered []string // names in first-seen order
	var queue []string

	// add registers a repository under its canonical name, returning ""
	// when the name is on the ignore list.
	add := func(url string) (string, error) {
		name := RepoNameFromURL(url)
		if name == "" {
			return "", fmt.Errorf("cannot derive repository name from %q", url)
		}
		if _, ok := b.ignore[name]; ok {
			return "", nil
		}
		if prev, ok := urls[name]; ok {
			if prev != url {
				b.logger.Debug("repo referenced via multiple URLs", "name", name, "kept", prev, "dropped", url)
			}
			return name, nil
		}
		urls[name] = url
		discovered = append(discovered, name)
		queue = append(queue, name)
		return name, nil
	}

	for _, root := range roots {
		name, err := add(root)
		if err != nil {
			return nil, &BuildError{Err: err}
		}
		if name == "" {
			return nil, &BuildError{Err: fmt.Errorf("root %s is in the ignore list", root)}
		}
	}

	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		url := urls[name]
		dir := filepath.Join(b.workdir, name)

		if err := b.src.EnsureClone(ctx, dir, url); err != nil {
			return nil, &BuildError{Repo: name, Err: err}
		}
		head, err := b.src.HeadCommit(ctx, dir)
		if err != nil {
			return nil, &BuildError{Repo: name, Err: err}
		}
		heads[name] = head

		subs, err := b.src.Submodules(ctx, dir)
		if err != nil {
			return nil, &BuildError{Repo: name, Err: err}
		}
		for _, sub := range subs {
			childURL := ResolveURL(url, sub.URL)
			childName, err := add(childURL)
			if err != nil {
				return nil, &BuildError{Repo: name, Err: err}
			}
			if childName == "" {
				b.logger.Debug("skipping ignored submodule", "parent", name, "submodule", RepoNameFromURL(childURL))
				continue
			}
			if edges[name] == nil {
				edges[name] = make(map[string]struct{})
			}
			edges[name][childName] = struct{}{}
		}
		b.logger.Info("discovered repo", "name", name, "submodules", len(subs))
	}

	order, depths, err := topoOrder(discovered, edges)
	if err != nil {
		return nil, &BuildError{Err: err}
	}
	return &Result{Order: order, URLs: urls, Heads: heads, Depths: depths}, nil
}

// topoOrder runs Kahn's algorithm over the discovered edges, computing each
// node's depth as the longest path from any root. A repository reachable by
// paths of different lengths lands at the deepest one.
func topoOrder(discovered []string, edges map[string]map[string]struct{}) ([]string, map[string]int, error) {
	disc := make(map[string]int, len(discovered))
	for i, n := range discovered {
		disc[n] = i
	}

	indegree := make(map[string]int, len(discovered))
	for _, n := range discovered {
		indegree[n] = 0
	}
	for _, children := range edges {
		for child := range children {
			indegree[child]++
		}
	}

	depth := make(map[string]int, len(discovered))
	var ready []string
	for _, n := range discovered {
		if indegree[n] == 0 {
			ready = append(ready, n)
		}
	}

	processed := 0
	for len(ready) > 0 {
		// take the earliest-discovered ready node so depths come out
		// deterministic
		best := 0
		for i := 1; i < len(ready); i++ {
			if disc[ready[i]] < disc[ready[best]] {
				best = i
			}
		}
		n := ready[best]
		ready = append(ready[:best], ready[best+1:]...)
		processed++

		for child := range edges[n] {
			if d := depth[n] + 1; d > depth[child] {
				depth[child] = d
			}
			indegree[child]--
			if indegree[child] == 0 {
				ready = append(ready, child)
			}
		}
	}

	if processed != len(discovered) {
		var stuck []string
		for _, n := range discovered {
			if indegree[n] > 0 {
				stuck = append(stuck, n)
			}
		}
		sort.Strings(stuck)
		return nil, nil, fmt.Errorf("submodule cycle involving: %s", strings.Join(stuck, ", "))
	}

	order := append([]string(nil), discovered...)
	sort.Slice(order, func(i, j int) bool {
		if depth[order[i]] != depth[order[j]] {
			return depth[order[i]] > depth[order[j]]
		}
		return disc[order[i]] < disc[order[j]]
	})
	return order, depth, nil
}
