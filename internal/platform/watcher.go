package platform

import (
	"context"
	"log/slog"
	"time"
)

// Verdict is the terminal outcome of watching a pull request.
type Verdict int

const (
	Succeeded Verdict = iota
	Failed
	TimedOut
)

func (v Verdict) String() string {
	switch v {
	case Succeeded:
		return "succeeded"
	case TimedOut:
		return "timed out"
	default:
		return "failed"
	}
}

// Watcher polls a pull request until it reaches a terminal verdict. When
// the PR's checks pass it asks the platform to complete the merge and keeps
// polling until the merge actually lands.
type Watcher struct {
	interval time.Duration
	logger   *slog.Logger
}

func NewWatcher(interval time.Duration, logger *slog.Logger) *Watcher {
	return &Watcher{interval: interval, logger: logger}
}

// Await blocks until rec merges (Succeeded), its checks fail or it is
// closed externally (Failed), or timeout elapses (TimedOut). On Failed and
// TimedOut the PR is abandoned unless leaveFailedOpen is set. Context
// cancellation aborts the whole run and is returned as an error, not a
// verdict.
func (w *Watcher) Await(ctx context.Context, p Platform, rec *PullRequestRecord, timeout time.Duration, leaveFailedOpen bool) (Verdict, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	completed := false
	for {
		st, err := p.Status(ctx, rec)
		if err != nil {
			return Failed, err
		}

		switch {
		case st.State == StateMerged:
			w.logger.Info("pull request merged", "pr", rec.URL)
			return Succeeded, nil

		case st.State == StateClosed:
			// closed by someone else, nothing left to clean up
			w.logger.Warn("pull request closed externally", "pr", rec.URL)
			return Failed, nil

		case st.Checks == ChecksFailed:
			w.logger.Warn("pull request checks failed", "pr", rec.URL)
			if !leaveFailedOpen {
				if err := p.Close(ctx, rec, "Automatically closed: required checks failed."); err != nil {
					w.logger.Warn("could not close failed pull request", "pr", rec.URL, "error", err)
				}
			}
			return Failed, nil

		case st.Checks == ChecksPassed && !completed:
			// completion can be rejected while approvals are still
			// outstanding; keep polling and retry
			if err := p.Complete(ctx, rec); err != nil {
				w.logger.Warn("completion rejected, will retry", "pr", rec.URL, "error", err)
			} else {
				w.logger.Info("completion requested", "pr", rec.URL)
				completed = true
			}
		}

		select {
		case <-ctx.Done():
			return Failed, ctx.Err()
		case <-deadline.C:
			w.logger.Warn("pull request timed out", "pr", rec.URL, "timeout", timeout)
			// a merge already requested is left to land on its own
			if !leaveFailedOpen && !completed {
				if err := p.Close(ctx, rec, "Automatically closed: timed out waiting for checks."); err != nil {
					w.logger.Warn("could not close timed-out pull request", "pr", rec.URL, "error", err)
				}
			}
			return TimedOut, nil
		case <-ticker.C:
		}
	}
}
