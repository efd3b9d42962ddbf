package git

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Submodule is one entry from a repository's .gitmodules manifest.
// URL may be relative to the parent repository's remote.
type Submodule struct {
	Name string
	Path string
	URL  string
}

type Client struct {
	workdir string
	logger  *slog.Logger
}

func NewClient(workdir string, logger *slog.Logger) *Client {
	return &Client{workdir: workdir, logger: logger}
}

// SessionsDir returns the directory holding all session workspaces.
func (c *Client) SessionsDir() string {
	return filepath.Join(c.workdir, "sessions")
}

// EnsureClone clones url into dir if missing, fetches if it already exists.
func (c *Client) EnsureClone(ctx context.Context, dir, url string) error {
	// Check if .git exists and is valid
	if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
		if _, err := os.Stat(filepath.Join(dir, ".git", "HEAD")); err != nil {
			c.logger.Warn("clone corrupted (missing HEAD), removing", "dir", dir)
			if err := os.RemoveAll(dir); err != nil {
				return fmt.Errorf("remove corrupted clone: %w", err)
			}
			// Fall through to clone
		} else {
			// Ensure fetch refspec exists (may be missing if clone was interrupted)
			_ = c.run(ctx, dir, "git", "config", "remote.origin.fetch", "+refs/heads/*:refs/remotes/origin/*")

			c.logger.Debug("fetching existing clone", "dir", dir)
			err := c.run(ctx, dir, "git", "fetch", "--all", "--prune")
			if err != nil {
				// If fetch fails, try to recover by removing and re-cloning
				c.logger.Warn("fetch failed, removing corrupted clone", "dir", dir, "error", err)
				if rmErr := os.RemoveAll(dir); rmErr != nil {
					return fmt.Errorf("fetch failed and couldn't remove: fetch=%w, remove=%w", err, rmErr)
				}
				// Fall through to clone
			} else {
				return nil
			}
		}
	}

	if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}

	c.logger.Info("cloning repo", "url", url, "dir", dir)
	return c.run(ctx, "", "git", "clone", url, dir)
}

// RemoteURL returns the origin remote URL of the clone in dir.
func (c *Client) RemoteURL(ctx context.Context, dir string) (string, error) {
	out, err := c.output(ctx, dir, "git", "remote", "get-url", "origin")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// DefaultBranch returns the remote default branch of the clone in dir,
// falling back to main/master when origin/HEAD is not set.
func (c *Client) DefaultBranch(ctx context.Context, dir string) (string, error) {
	out, err := c.output(ctx, dir, "git", "symbolic-ref", "refs/remotes/origin/HEAD")
	if err == nil {
		return strings.TrimPrefix(strings.TrimSpace(out), "refs/remotes/origin/"), nil
	}

	for _, branch := range []string{"main", "master"} {
		if err := c.run(ctx, dir, "git", "rev-parse", "--verify", "--quiet", "origin/"+branch); err == nil {
			return branch, nil
		}
	}
	return "", fmt.Errorf("cannot determine default branch in %s", dir)
}

// HeadCommit returns the commit hash HEAD points at in dir.
func (c *Client) HeadCommit(ctx context.Context, dir string) (string, error) {
	out, err := c.output(ctx, dir, "git", "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// RemoteHead asks the remote for the current tip of branch without fetching.
func (c *Client) RemoteHead(ctx context.Context, dir, branch string) (string, error) {
	out, err := c.output(ctx, dir, "git", "ls-remote", "origin", "refs/heads/"+branch)
	if err != nil {
		return "", err
	}
	fields := strings.Fields(out)
	if len(fields) == 0 {
		return "", fmt.Errorf("branch %s not found on remote", branch)
	}
	return fields[0], nil
}

// CheckoutBranch creates or resets branch at start and checks it out.
func (c *Client) CheckoutBranch(ctx context.Context, dir, branch, start string) error {
	return c.run(ctx, dir, "git", "checkout", "-B", branch, start)
}

// Submodules parses the .gitmodules manifest of the clone in dir.
// A repository without a manifest has no submodules.
func (c *Client) Submodules(ctx context.Context, dir string) ([]Submodule, error) {
	if _, err := os.Stat(filepath.Join(dir, ".gitmodules")); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("stat .gitmodules: %w", err)
	}

	out, err := c.output(ctx, dir, "git", "config", "--file", ".gitmodules", "--get-regexp", `^submodule\.`)
	if err != nil {
		return nil, fmt.Errorf("read .gitmodules: %w", err)
	}
	return parseSubmoduleConfig(out)
}

// parseSubmoduleConfig turns `git config --get-regexp ^submodule.` output
// into Submodule entries, preserving declaration order.
func parseSubmoduleConfig(out string) ([]Submodule, error) {
	byName := make(map[string]*Submodule)
	var order []string

	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		key, value, found := strings.Cut(line, " ")
		if !found {
			continue
		}
		key = strings.TrimPrefix(key, "submodule.")
		dot := strings.LastIndex(key, ".")
		if dot < 0 {
			continue
		}
		name, field := key[:dot], key[dot+1:]

		sub, ok := byName[name]
		if !ok {
			sub = &Submodule{Name: name}
			byName[name] = sub
			order = append(order, name)
		}
		switch field {
		case "path":
			sub.Path = value
		case "url":
			sub.URL = value
		}
	}

	subs := make([]Submodule, 0, len(order))
	for _, name := range order {
		sub := byName[name]
		if sub.Path == "" || sub.URL == "" {
			return nil, fmt.Errorf("submodule %q: incomplete manifest entry (path=%q url=%q)", name, sub.Path, sub.URL)
		}
		subs = append(subs, *sub)
	}
	return subs, nil
}

// GitlinkAt returns the commit a submodule pointer at path currently pins,
// or "" when HEAD has no gitlink there.
func (c *Client) GitlinkAt(ctx context.Context, dir, path string) (string, error) {
	out, err := c.output(ctx, dir, "git", "ls-tree", "HEAD", "--", path)
	if err != nil {
		return "", err
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", nil
	}
	fields := strings.Fields(out)
	if len(fields) < 3 {
		return "", fmt.Errorf("unexpected ls-tree output for %s: %q", path, out)
	}
	if fields[0] != "160000" {
		return "", fmt.Errorf("%s is not a submodule pointer (mode %s)", path, fields[0])
	}
	return fields[2], nil
}

// SetGitlink stages the submodule pointer at path to the given commit.
// The submodule itself is never checked out.
func (c *Client) SetGitlink(ctx context.Context, dir, path, commit string) error {
	return c.run(ctx, dir, "git", "update-index", "--add", "--cacheinfo", "160000,"+commit+","+path)
}

// HasStagedChanges reports whether the index differs from HEAD.
func (c *Client) HasStagedChanges(ctx context.Context, dir string) (bool, error) {
	cmd := exec.CommandContext(ctx, "git", "diff", "--cached", "--quiet")
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err == nil {
		return false, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		return true, nil
	}
	return false, fmt.Errorf("git diff --cached --quiet: %w\n%s", err, string(out))
}

// Commit records the staged changes with the given message.
func (c *Client) Commit(ctx context.Context, dir, message string) error {
	return c.run(ctx, dir, "git", "commit", "-m", message)
}

// Push publishes branch to origin. Session branches are owned by a single
// run, so a leftover branch from an interrupted attempt is safe to replace.
func (c *Client) Push(ctx context.Context, dir, branch string) error {
	return c.run(ctx, dir, "git", "push", "--force-with-lease", "-u", "origin", branch)
}

func (c *Client) run(ctx context.Context, dir string, name string, args ...string) error {
	c.logger.Debug("exec", "cmd", name+" "+strings.Join(args, " "), "dir", dir)
	cmd := exec.CommandContext(ctx, name, args...)
	if dir != "" {
		cmd.Dir = dir
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s %s: %w\n%s", name, strings.Join(args, " "), err, string(out))
	}
	return nil
}

func (c *Client) output(ctx context.Context, dir string, name string, args ...string) (string, error) {
	c.logger.Debug("exec", "cmd", name+" "+strings.Join(args, " "), "dir", dir)
	cmd := exec.CommandContext(ctx, name, args...)
	if dir != "" {
		cmd.Dir = dir
	}
	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, string(exitErr.Stderr))
		}
		return "", fmt.Errorf("%s %s: %w", name, strings.Join(args, " "), err)
	}
	return string(out), nil
}
