// Package platform drives the code-hosting platforms that review and merge
// update PRs. Adapters shell out to the official CLIs (gh, az) and inherit
// whatever authentication those CLIs already carry.
package platform

import (
	"context"
	"fmt"
	"strings"
)

// Kind identifies a supported hosting platform.
type Kind string

const (
	KindGitHub Kind = "github"
	KindAzure  Kind = "azuredevops"
)

// Pusher uploads a local branch to origin. *git.Client satisfies it.
type Pusher interface {
	Push(ctx context.Context, dir, branch string) error
}

// OpenPRParams describes the update PR an adapter should open.
type OpenPRParams struct {
	RepoDir   string // local clone, pushed before the PR is opened
	RemoteURL string
	Branch    string // source branch
	Base      string // target branch, usually the remote default
	Title     string
	Body      string
	WorkItem  int // Azure DevOps work item to link; ignored on GitHub
}

// PullRequestRecord identifies a PR across save/load cycles.
type PullRequestRecord struct {
	Platform Kind   `json:"platform"`
	Repo     string `json:"repo"`          // github: owner/name; azure: project/name
	Org      string `json:"org,omitempty"` // azure organization URL
	ID       int    `json:"id"`
	URL      string `json:"url"`
	Branch   string `json:"branch"`
}

// PRState is the lifecycle state of a pull request.
type PRState string

const (
	StateOpen   PRState = "open"
	StateMerged PRState = "merged"
	StateClosed PRState = "closed"
)

// ChecksResult aggregates a PR's required checks and blocking policies.
type ChecksResult string

const (
	ChecksPending ChecksResult = "pending"
	ChecksPassed  ChecksResult = "passed"
	ChecksFailed  ChecksResult = "failed"
)

// PRStatus is a point-in-time view of a pull request.
type PRStatus struct {
	State  PRState
	Checks ChecksResult
}

// Platform is implemented once per hosting provider.
type Platform interface {
	Name() Kind
	// OpenUpdatePR pushes the branch and opens a PR against the base branch.
	OpenUpdatePR(ctx context.Context, p OpenPRParams) (*PullRequestRecord, error)
	// FindOpenPR returns the open PR for branch, or nil when there is none.
	FindOpenPR(ctx context.Context, remoteURL, branch string) (*PullRequestRecord, error)
	Status(ctx context.Context, rec *PullRequestRecord) (*PRStatus, error)
	// Complete asks the platform to merge the PR.
	Complete(ctx context.Context, rec *PullRequestRecord) error
	// Close abandons the PR and discards its source branch. The reason is
	// posted on the PR where the platform supports comments.
	Close(ctx context.Context, rec *PullRequestRecord, reason string) error
}

// Error tags a failure with the platform it came from and the operation
// that failed.
type Error struct {
	Platform Kind
	Op       string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Platform, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// DetectKind picks the adapter for a remote URL by its host.
func DetectKind(remoteURL string) (Kind, error) {
	host := hostOf(remoteURL)
	switch {
	case host == "github.com" || strings.HasSuffix(host, ".github.com"):
		return KindGitHub, nil
	case host == "dev.azure.com" || host == "ssh.dev.azure.com" || strings.HasSuffix(host, ".visualstudio.com"):
		return KindAzure, nil
	default:
		return "", fmt.Errorf("no platform adapter for host %q", host)
	}
}

// hostOf extracts the lowercase host from https, ssh and scp-like remotes.
func hostOf(remoteURL string) string {
	s := strings.TrimSpace(remoteURL)
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	}
	if i := strings.Index(s, "@"); i >= 0 {
		s = s[i+1:]
	}
	if i := strings.IndexAny(s, "/:"); i >= 0 {
		s = s[:i]
	}
	return strings.ToLower(s)
}
