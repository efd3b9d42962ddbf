package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// GitHub drives github.com through the gh CLI.
type GitHub struct {
	pusher Pusher
	token  string
	logger *slog.Logger
}

// NewGitHub returns a GitHub adapter. When token is empty, gh falls back to
// its own stored credentials.
func NewGitHub(pusher Pusher, token string, logger *slog.Logger) *GitHub {
	return &GitHub{pusher: pusher, token: token, logger: logger}
}

func (g *GitHub) Name() Kind { return KindGitHub }

func (g *GitHub) OpenUpdatePR(ctx context.Context, p OpenPRParams) (*PullRequestRecord, error) {
	repo, err := parseGitHubRepo(p.RemoteURL)
	if err != nil {
		return nil, &Error{Platform: KindGitHub, Op: "open pr", Err: err}
	}

	if err := g.pusher.Push(ctx, p.RepoDir, p.Branch); err != nil {
		return nil, &Error{Platform: KindGitHub, Op: "push", Err: err}
	}

	out, err := g.gh(ctx,
		"pr", "create",
		"-R", repo,
		"--head", p.Branch,
		"--base", p.Base,
		"--title", p.Title,
		"--body", p.Body,
	)
	if err != nil {
		return nil, &Error{Platform: KindGitHub, Op: "open pr", Err: err}
	}

	url, err := prURLFromOutput(out)
	if err != nil {
		return nil, &Error{Platform: KindGitHub, Op: "open pr", Err: err}
	}
	number, err := prNumberFromURL(url)
	if err != nil {
		return nil, &Error{Platform: KindGitHub, Op: "open pr", Err: err}
	}

	g.logger.Info("opened pull request", "platform", KindGitHub, "repo", repo, "pr", number)
	return &PullRequestRecord{
		Platform: KindGitHub,
		Repo:     repo,
		ID:       number,
		URL:      url,
		Branch:   p.Branch,
	}, nil
}

func (g *GitHub) FindOpenPR(ctx context.Context, remoteURL, branch string) (*PullRequestRecord, error) {
	repo, err := parseGitHubRepo(remoteURL)
	if err != nil {
		return nil, &Error{Platform: KindGitHub, Op: "find pr", Err: err}
	}

	out, err := g.gh(ctx,
		"pr", "list",
		"-R", repo,
		"--head", branch,
		"--state", "open",
		"--json", "number,url",
		"--limit", "1",
	)
	if err != nil {
		return nil, &Error{Platform: KindGitHub, Op: "find pr", Err: err}
	}

	var prs []struct {
		Number int    `json:"number"`
		URL    string `json:"url"`
	}
	if err := json.Unmarshal(out, &prs); err != nil {
		return nil, &Error{Platform: KindGitHub, Op: "find pr", Err: err}
	}
	if len(prs) == 0 {
		return nil, nil
	}

	return &PullRequestRecord{
		Platform: KindGitHub,
		Repo:     repo,
		ID:       prs[0].Number,
		URL:      prs[0].URL,
		Branch:   branch,
	}, nil
}

func (g *GitHub) Status(ctx context.Context, rec *PullRequestRecord) (*PRStatus, error) {
	out, err := g.gh(ctx,
		"pr", "view", strconv.Itoa(rec.ID),
		"-R", rec.Repo,
		"--json", "state,statusCheckRollup",
	)
	if err != nil {
		return nil, &Error{Platform: KindGitHub, Op: "status", Err: err}
	}

	var pr struct {
		State             string      `json:"state"`
		StatusCheckRollup []checkNode `json:"statusCheckRollup"`
	}
	if err := json.Unmarshal(out, &pr); err != nil {
		return nil, &Error{Platform: KindGitHub, Op: "status", Err: err}
	}

	return &PRStatus{
		State:  githubState(pr.State),
		Checks: aggregateChecks(normalizeChecks(pr.StatusCheckRollup)),
	}, nil
}

func (g *GitHub) Complete(ctx context.Context, rec *PullRequestRecord) error {
	_, err := g.gh(ctx,
		"pr", "merge", strconv.Itoa(rec.ID),
		"-R", rec.Repo,
		"--squash", "--delete-branch",
	)
	if err != nil {
		return &Error{Platform: KindGitHub, Op: "merge", Err: err}
	}
	return nil
}

func (g *GitHub) Close(ctx context.Context, rec *PullRequestRecord, reason string) error {
	args := []string{
		"pr", "close", strconv.Itoa(rec.ID),
		"-R", rec.Repo,
		"--delete-branch",
	}
	if reason != "" {
		args = append(args, "--comment", reason)
	}
	if _, err := g.gh(ctx, args...); err != nil {
		return &Error{Platform: KindGitHub, Op: "close", Err: err}
	}
	return nil
}

func (g *GitHub) gh(ctx context.Context, args ...string) ([]byte, error) {
	g.logger.Debug("gh", "args", strings.Join(args, " "))
	cmd := exec.CommandContext(ctx, "gh", args...)
	if g.token != "" {
		cmd.Env = append(os.Environ(), "GH_TOKEN="+g.token)
	}
	out, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return nil, fmt.Errorf("%w: %s", err, string(exitErr.Stderr))
		}
		return nil, err
	}
	return out, nil
}

// checkNode is one entry of gh's statusCheckRollup: either a check run
// (name/status/conclusion) or a legacy commit status (context/state).
type checkNode struct {
	Name       string `json:"name"`
	Status     string `json:"status"`
	Conclusion string `json:"conclusion"`
	Context    string `json:"context"`
	State      string `json:"state"`
}

type check struct {
	Name       string
	Status     string
	Conclusion string
}

// normalizeChecks folds check runs and legacy commit statuses into one shape.
func normalizeChecks(nodes []checkNode) []check {
	var checks []check
	for _, n := range nodes {
		name := n.Name
		if name == "" {
			name = n.Context
		}
		status := n.Status
		if status == "" {
			status = n.State
		}
		conclusion := n.Conclusion
		if conclusion == "" && n.State == "SUCCESS" {
			conclusion = "success"
		}
		if conclusion == "" && (n.State == "FAILURE" || n.State == "ERROR") {
			conclusion = "failure"
		}
		checks = append(checks, check{
			Name:       name,
			Status:     strings.ToUpper(status),
			Conclusion: strings.ToLower(conclusion),
		})
	}
	return checks
}

// aggregateChecks reduces a check list to one verdict. An empty list passes:
// a repository with no CI has nothing to wait for.
func aggregateChecks(checks []check) ChecksResult {
	result := ChecksPassed
	for _, c := range checks {
		switch c.Conclusion {
		case "failure", "timed_out", "cancelled", "action_required", "startup_failure":
			return ChecksFailed
		case "success", "neutral", "skipped":
		default:
			if c.Status != "COMPLETED" {
				result = ChecksPending
			}
		}
	}
	return result
}

func githubState(s string) PRState {
	switch s {
	case "MERGED":
		return StateMerged
	case "CLOSED":
		return StateClosed
	default:
		return StateOpen
	}
}

// parseGitHubRepo extracts "owner/name" from a github.com remote.
func parseGitHubRepo(remoteURL string) (string, error) {
	s := strings.TrimSpace(remoteURL)
	s = strings.TrimSuffix(s, "/")
	s = strings.TrimSuffix(s, ".git")

	var path string
	switch {
	case strings.Contains(s, "://"):
		rest := s[strings.Index(s, "://")+3:]
		if j := strings.Index(rest, "/"); j >= 0 {
			path = rest[j+1:]
		}
	case strings.Contains(s, "@"):
		if j := strings.Index(s, ":"); j >= 0 {
			path = s[j+1:]
		}
	default:
		path = s
	}

	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", fmt.Errorf("cannot parse github repo from %q", remoteURL)
	}
	return parts[0] + "/" + parts[1], nil
}

// prURLFromOutput finds the PR URL in gh's stdout; gh prints it as the last
// line of a successful pr create.
func prURLFromOutput(out []byte) (string, error) {
	var url string
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "https://") {
			url = line
		}
	}
	if url == "" {
		return "", errors.New("no PR URL in gh output")
	}
	return url, nil
}

func prNumberFromURL(url string) (int, error) {
	i := strings.LastIndex(url, "/")
	if i < 0 {
		return 0, fmt.Errorf("cannot parse PR number from %q", url)
	}
	n, err := strconv.Atoi(url[i+1:])
	if err != nil {
		return 0, fmt.Errorf("cannot parse PR number from %q", url)
	}
	return n, nil
}

var _ Platform = (*GitHub)(nil)
