package platform

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

type scriptedPlatform struct {
	statuses    []PRStatus
	calls       int
	completes   int
	closes      int
	closeReason string
	completeErr error
}

var _ Platform = (*scriptedPlatform)(nil)

func (s *scriptedPlatform) Name() Kind { return KindGitHub }

func (s *scriptedPlatform) OpenUpdatePR(context.Context, OpenPRParams) (*PullRequestRecord, error) {
	return nil, nil
}

func (s *scriptedPlatform) FindOpenPR(context.Context, string, string) (*PullRequestRecord, error) {
	return nil, nil
}

// Status replays the scripted statuses, repeating the last one forever.
func (s *scriptedPlatform) Status(context.Context, *PullRequestRecord) (*PRStatus, error) {
	i := s.calls
	if i >= len(s.statuses) {
		i = len(s.statuses) - 1
	}
	s.calls++
	st := s.statuses[i]
	return &st, nil
}

func (s *scriptedPlatform) Complete(context.Context, *PullRequestRecord) error {
	s.completes++
	return s.completeErr
}

func (s *scriptedPlatform) Close(_ context.Context, _ *PullRequestRecord, reason string) error {
	s.closes++
	s.closeReason = reason
	return nil
}

func newTestWatcher() *Watcher {
	return NewWatcher(time.Millisecond, slog.New(slog.DiscardHandler))
}

func testRecord() *PullRequestRecord {
	return &PullRequestRecord{Platform: KindGitHub, Repo: "acme/tools", ID: 7, URL: "https://github.com/acme/tools/pull/7"}
}

func TestAwaitMergesWhenChecksPass(t *testing.T) {
	p := &scriptedPlatform{statuses: []PRStatus{
		{State: StateOpen, Checks: ChecksPending},
		{State: StateOpen, Checks: ChecksPassed},
		{State: StateMerged, Checks: ChecksPassed},
	}}

	verdict, err := newTestWatcher().Await(context.Background(), p, testRecord(), time.Second, false)
	if err != nil {
		t.Fatalf("Await() error = %v", err)
	}
	if verdict != Succeeded {
		t.Errorf("verdict = %v, want Succeeded", verdict)
	}
	if p.completes != 1 {
		t.Errorf("completes = %d, want 1", p.completes)
	}
	if p.closes != 0 {
		t.Errorf("closes = %d, want 0", p.closes)
	}
}

func TestAwaitClosesOnFailedChecks(t *testing.T) {
	p := &scriptedPlatform{statuses: []PRStatus{
		{State: StateOpen, Checks: ChecksPending},
		{State: StateOpen, Checks: ChecksFailed},
	}}

	verdict, err := newTestWatcher().Await(context.Background(), p, testRecord(), time.Second, false)
	if err != nil {
		t.Fatalf("Await() error = %v", err)
	}
	if verdict != Failed {
		t.Errorf("verdict = %v, want Failed", verdict)
	}
	if p.closes != 1 {
		t.Errorf("closes = %d, want 1", p.closes)
	}
	if !strings.Contains(p.closeReason, "checks failed") {
		t.Errorf("close reason = %q, want a checks-failed explanation", p.closeReason)
	}
	if p.completes != 0 {
		t.Errorf("completes = %d, want 0", p.completes)
	}
}

func TestAwaitLeavesFailedPROpen(t *testing.T) {
	p := &scriptedPlatform{statuses: []PRStatus{
		{State: StateOpen, Checks: ChecksFailed},
	}}

	verdict, err := newTestWatcher().Await(context.Background(), p, testRecord(), time.Second, true)
	if err != nil {
		t.Fatalf("Await() error = %v", err)
	}
	if verdict != Failed {
		t.Errorf("verdict = %v, want Failed", verdict)
	}
	if p.closes != 0 {
		t.Errorf("closes = %d, want 0", p.closes)
	}
}

func TestAwaitExternallyClosedPRIsNotReclosed(t *testing.T) {
	p := &scriptedPlatform{statuses: []PRStatus{
		{State: StateClosed, Checks: ChecksPending},
	}}

	verdict, err := newTestWatcher().Await(context.Background(), p, testRecord(), time.Second, false)
	if err != nil {
		t.Fatalf("Await() error = %v", err)
	}
	if verdict != Failed {
		t.Errorf("verdict = %v, want Failed", verdict)
	}
	if p.closes != 0 {
		t.Errorf("closes = %d, want 0", p.closes)
	}
}

func TestAwaitTimesOut(t *testing.T) {
	p := &scriptedPlatform{statuses: []PRStatus{
		{State: StateOpen, Checks: ChecksPending},
	}}

	verdict, err := newTestWatcher().Await(context.Background(), p, testRecord(), 20*time.Millisecond, false)
	if err != nil {
		t.Fatalf("Await() error = %v", err)
	}
	if verdict != TimedOut {
		t.Errorf("verdict = %v, want TimedOut", verdict)
	}
	if p.closes != 1 {
		t.Errorf("closes = %d, want the PR closed on timeout", p.closes)
	}
}

func TestAwaitTimeoutLeavesPROpenWhenAsked(t *testing.T) {
	p := &scriptedPlatform{statuses: []PRStatus{
		{State: StateOpen, Checks: ChecksPending},
	}}

	verdict, err := newTestWatcher().Await(context.Background(), p, testRecord(), 20*time.Millisecond, true)
	if err != nil {
		t.Fatalf("Await() error = %v", err)
	}
	if verdict != TimedOut {
		t.Errorf("verdict = %v, want TimedOut", verdict)
	}
	if p.closes != 0 {
		t.Errorf("closes = %d, want 0", p.closes)
	}
}

func TestAwaitRetriesRejectedCompletion(t *testing.T) {
	p := &scriptedPlatform{
		statuses:    []PRStatus{{State: StateOpen, Checks: ChecksPassed}},
		completeErr: errors.New("needs one more approval"),
	}

	verdict, err := newTestWatcher().Await(context.Background(), p, testRecord(), 25*time.Millisecond, true)
	if err != nil {
		t.Fatalf("Await() error = %v", err)
	}
	if verdict != TimedOut {
		t.Errorf("verdict = %v, want TimedOut", verdict)
	}
	if p.completes < 2 {
		t.Errorf("completes = %d, want repeated attempts", p.completes)
	}
}

func TestAwaitHonorsCancellation(t *testing.T) {
	p := &scriptedPlatform{statuses: []PRStatus{
		{State: StateOpen, Checks: ChecksPending},
	}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewWatcher(time.Minute, slog.New(slog.DiscardHandler)).Await(ctx, p, testRecord(), time.Hour, false)
	if err == nil {
		t.Fatal("Await() with cancelled context = nil error, want context error")
	}
}
