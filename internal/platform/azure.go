package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// Azure drives Azure DevOps through the az CLI (azure-devops extension).
type Azure struct {
	pusher Pusher
	token  string
	logger *slog.Logger
}

// NewAzure returns an Azure DevOps adapter. When token is empty, az falls
// back to its own login (including interactive SSO).
func NewAzure(pusher Pusher, token string, logger *slog.Logger) *Azure {
	return &Azure{pusher: pusher, token: token, logger: logger}
}

func (a *Azure) Name() Kind { return KindAzure }

func (a *Azure) OpenUpdatePR(ctx context.Context, p OpenPRParams) (*PullRequestRecord, error) {
	repo, err := parseAzureRepo(p.RemoteURL)
	if err != nil {
		return nil, &Error{Platform: KindAzure, Op: "open pr", Err: err}
	}

	if err := a.pusher.Push(ctx, p.RepoDir, p.Branch); err != nil {
		return nil, &Error{Platform: KindAzure, Op: "push", Err: err}
	}

	args := []string{
		"repos", "pr", "create",
		"--organization", repo.Org,
		"--project", repo.Project,
		"--repository", repo.Name,
		"--source-branch", p.Branch,
		"--target-branch", p.Base,
		"--title", p.Title,
		"--description", p.Body,
		"--output", "json",
	}
	if p.WorkItem > 0 {
		args = append(args, "--work-items", strconv.Itoa(p.WorkItem))
	}

	out, err := a.az(ctx, args...)
	if err != nil {
		return nil, &Error{Platform: KindAzure, Op: "open pr", Err: err}
	}

	var created struct {
		PullRequestID int `json:"pullRequestId"`
		Repository    struct {
			WebURL string `json:"webUrl"`
		} `json:"repository"`
	}
	if err := json.Unmarshal(out, &created); err != nil {
		return nil, &Error{Platform: KindAzure, Op: "open pr", Err: err}
	}

	webURL := created.Repository.WebURL
	if webURL == "" {
		webURL = fmt.Sprintf("%s/%s/_git/%s", repo.Org, repo.Project, repo.Name)
	}
	webURL = fmt.Sprintf("%s/pullrequest/%d", webURL, created.PullRequestID)

	a.logger.Info("opened pull request",
		"platform", KindAzure, "repo", repo.Name, "pr", created.PullRequestID, "work_item", p.WorkItem)
	return &PullRequestRecord{
		Platform: KindAzure,
		Repo:     repo.Project + "/" + repo.Name,
		Org:      repo.Org,
		ID:       created.PullRequestID,
		URL:      webURL,
		Branch:   p.Branch,
	}, nil
}

func (a *Azure) FindOpenPR(ctx context.Context, remoteURL, branch string) (*PullRequestRecord, error) {
	repo, err := parseAzureRepo(remoteURL)
	if err != nil {
		return nil, &Error{Platform: KindAzure, Op: "find pr", Err: err}
	}

	out, err := a.az(ctx,
		"repos", "pr", "list",
		"--organization", repo.Org,
		"--project", repo.Project,
		"--repository", repo.Name,
		"--source-branch", branch,
		"--status", "active",
		"--output", "json",
	)
	if err != nil {
		return nil, &Error{Platform: KindAzure, Op: "find pr", Err: err}
	}

	var prs []struct {
		PullRequestID int `json:"pullRequestId"`
		Repository    struct {
			WebURL string `json:"webUrl"`
		} `json:"repository"`
	}
	if err := json.Unmarshal(out, &prs); err != nil {
		return nil, &Error{Platform: KindAzure, Op: "find pr", Err: err}
	}
	if len(prs) == 0 {
		return nil, nil
	}

	webURL := prs[0].Repository.WebURL
	if webURL == "" {
		webURL = fmt.Sprintf("%s/%s/_git/%s", repo.Org, repo.Project, repo.Name)
	}
	webURL = fmt.Sprintf("%s/pullrequest/%d", webURL, prs[0].PullRequestID)

	return &PullRequestRecord{
		Platform: KindAzure,
		Repo:     repo.Project + "/" + repo.Name,
		Org:      repo.Org,
		ID:       prs[0].PullRequestID,
		URL:      webURL,
		Branch:   branch,
	}, nil
}

func (a *Azure) Status(ctx context.Context, rec *PullRequestRecord) (*PRStatus, error) {
	out, err := a.az(ctx,
		"repos", "pr", "show",
		"--id", strconv.Itoa(rec.ID),
		"--organization", rec.Org,
		"--output", "json",
	)
	if err != nil {
		return nil, &Error{Platform: KindAzure, Op: "status", Err: err}
	}

	var pr struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(out, &pr); err != nil {
		return nil, &Error{Platform: KindAzure, Op: "status", Err: err}
	}

	state := azureState(pr.Status)
	checks := ChecksPassed
	if state == StateOpen {
		evals, err := a.policies(ctx, rec)
		if err != nil {
			return nil, err
		}
		checks = aggregatePolicies(evals)
	}

	return &PRStatus{State: state, Checks: checks}, nil
}

func (a *Azure) Complete(ctx context.Context, rec *PullRequestRecord) error {
	_, err := a.az(ctx,
		"repos", "pr", "update",
		"--id", strconv.Itoa(rec.ID),
		"--organization", rec.Org,
		"--status", "completed",
		"--delete-source-branch", "true",
		"--output", "json",
	)
	if err != nil {
		return &Error{Platform: KindAzure, Op: "complete", Err: err}
	}
	return nil
}

func (a *Azure) Close(ctx context.Context, rec *PullRequestRecord, reason string) error {
	// az has no flag to leave an abandon comment, so the reason only
	// reaches the log
	a.logger.Debug("abandoning pull request", "id", rec.ID, "reason", reason)
	_, err := a.az(ctx,
		"repos", "pr", "update",
		"--id", strconv.Itoa(rec.ID),
		"--organization", rec.Org,
		"--status", "abandoned",
		"--output", "json",
	)
	if err != nil {
		return &Error{Platform: KindAzure, Op: "abandon", Err: err}
	}
	return nil
}

func (a *Azure) policies(ctx context.Context, rec *PullRequestRecord) ([]policyEvaluation, error) {
	out, err := a.az(ctx,
		"repos", "pr", "policy", "list",
		"--id", strconv.Itoa(rec.ID),
		"--organization", rec.Org,
		"--output", "json",
	)
	if err != nil {
		return nil, &Error{Platform: KindAzure, Op: "policy list", Err: err}
	}

	var evals []policyEvaluation
	if err := json.Unmarshal(out, &evals); err != nil {
		return nil, &Error{Platform: KindAzure, Op: "policy list", Err: err}
	}
	return evals, nil
}

func (a *Azure) az(ctx context.Context, args ...string) ([]byte, error) {
	a.logger.Debug("az", "args", strings.Join(args, " "))
	cmd := exec.CommandContext(ctx, "az", args...)
	if a.token != "" {
		cmd.Env = append(os.Environ(), "AZURE_DEVOPS_EXT_PAT="+a.token)
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

type policyEvaluation struct {
	Status        string `json:"status"`
	Configuration struct {
		IsBlocking bool `json:"isBlocking"`
		IsEnabled  bool `json:"isEnabled"`
	} `json:"configuration"`
}

// aggregatePolicies reduces blocking policy evaluations to one verdict.
// Optional policies never gate the PR.
func aggregatePolicies(evals []policyEvaluation) ChecksResult {
	result := ChecksPassed
	for _, e := range evals {
		if !e.Configuration.IsBlocking || !e.Configuration.IsEnabled {
			continue
		}
		switch e.Status {
		case "rejected", "broken":
			return ChecksFailed
		case "queued", "running":
			result = ChecksPending
		}
	}
	return result
}

func azureState(s string) PRState {
	switch s {
	case "completed":
		return StateMerged
	case "abandoned":
		return StateClosed
	default:
		return StateOpen
	}
}

type azureRepo struct {
	Org     string // organization URL, as az --organization wants it
	Project string
	Name    string
}

// parseAzureRepo extracts organization, project and repository from the
// remote URL forms Azure DevOps hands out: dev.azure.com https remotes
// (with or without the user@ prefix), v3 ssh remotes, and legacy
// visualstudio.com remotes.
func parseAzureRepo(remoteURL string) (azureRepo, error) {
	s := strings.TrimSpace(remoteURL)
	s = strings.TrimSuffix(s, "/")
	host := hostOf(s)

	var segs []string
	switch {
	case strings.Contains(s, "://"):
		rest := s[strings.Index(s, "://")+3:]
		if i := strings.Index(rest, "/"); i >= 0 {
			segs = strings.Split(rest[i+1:], "/")
		}
	case strings.Contains(s, "@"):
		if i := strings.Index(s, ":"); i >= 0 {
			segs = strings.Split(s[i+1:], "/")
		}
	}

	switch {
	case host == "ssh.dev.azure.com":
		// v3/{org}/{project}/{repo}
		if len(segs) == 4 && segs[0] == "v3" {
			return azureRepo{
				Org:     "https://dev.azure.com/" + segs[1],
				Project: unescape(segs[2]),
				Name:    segs[3],
			}, nil
		}
	case host == "dev.azure.com":
		// {org}/{project}/_git/{repo}
		if len(segs) == 4 && segs[2] == "_git" {
			return azureRepo{
				Org:     "https://dev.azure.com/" + segs[0],
				Project: unescape(segs[1]),
				Name:    segs[3],
			}, nil
		}
	case strings.HasSuffix(host, ".visualstudio.com"):
		org := strings.TrimSuffix(host, ".visualstudio.com")
		if len(segs) > 0 && strings.EqualFold(segs[0], "defaultcollection") {
			segs = segs[1:]
		}
		// {project}/_git/{repo}
		if len(segs) == 3 && segs[1] == "_git" {
			return azureRepo{
				Org:     "https://dev.azure.com/" + org,
				Project: unescape(segs[0]),
				Name:    segs[2],
			}, nil
		}
	}

	return azureRepo{}, fmt.Errorf("cannot parse azure devops repo from %q", remoteURL)
}

// unescape decodes %20 and friends; project names with spaces appear
// URL-encoded in remotes but az wants them plain.
func unescape(seg string) string {
	if dec, err := url.PathUnescape(seg); err == nil {
		return dec
	}
	return seg
}

var _ Platform = (*Azure)(nil)
