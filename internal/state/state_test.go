package state

import (
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/cascade-tools/cascade/internal/platform"
	"github.com/cascade-tools/cascade/internal/status"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(t.TempDir(), slog.New(slog.DiscardHandler))
}

func sampleState(session string) *PropagationState {
	return &PropagationState{
		Session:      session,
		Branch:       "cascade/" + session,
		Roots:        []string{"https://github.com/acme/x"},
		WorkItem:     1234,
		Order:        []string{"core", "x"},
		URLs:         map[string]string{"core": "https://github.com/acme/core", "x": "https://github.com/acme/x"},
		FixedCommits: map[string]string{"core": "1111111111", "x": "2222222222"},
		Statuses: map[string]status.RepoStatus{
			"core": {
				Status: status.Updated,
				PR:     &platform.PullRequestRecord{Platform: platform.KindGitHub, Repo: "acme/core", ID: 7, URL: "https://github.com/acme/core/pull/7"},
			},
			"x": {Status: status.Pending},
		},
	}
}

func TestSaveLoadRoundtrip(t *testing.T) {
	store := newTestStore(t)
	st := sampleState("update-20260101-120000")

	if err := store.Save(st); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := store.Load("update-20260101-120000")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.Branch != st.Branch {
		t.Errorf("Branch = %q, want %q", loaded.Branch, st.Branch)
	}
	if loaded.WorkItem != 1234 {
		t.Errorf("WorkItem = %d, want 1234", loaded.WorkItem)
	}
	if len(loaded.Order) != 2 || loaded.Order[0] != "core" {
		t.Errorf("Order = %v", loaded.Order)
	}
	if loaded.FixedCommits["core"] != "1111111111" {
		t.Errorf("FixedCommits = %v", loaded.FixedCommits)
	}
	rs := loaded.Statuses["core"]
	if rs.Status != status.Updated || rs.PR == nil || rs.PR.ID != 7 {
		t.Errorf("Statuses[core] = %+v", rs)
	}
	if loaded.SavedAt.IsZero() {
		t.Error("SavedAt not stamped")
	}
}

func TestSaveOverwritesCheckpoint(t *testing.T) {
	store := newTestStore(t)
	st := sampleState("update-20260101-120000")

	if err := store.Save(st); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	st.Statuses["x"] = status.RepoStatus{Status: status.Skipped}
	if err := store.Save(st); err != nil {
		t.Fatalf("second Save() error = %v", err)
	}

	loaded, err := store.Load("update-20260101-120000")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.Statuses["x"].Status != status.Skipped {
		t.Errorf("Statuses[x] = %+v, want the later checkpoint", loaded.Statuses["x"])
	}
}

func TestFindLatestPicksNewest(t *testing.T) {
	store := newTestStore(t)

	for _, session := range []string{"update-20260101-120000", "update-20260103-090000", "update-20260102-230000"} {
		if err := store.Save(sampleState(session)); err != nil {
			t.Fatalf("Save(%s) error = %v", session, err)
		}
	}

	latest, err := store.FindLatest()
	if err != nil {
		t.Fatalf("FindLatest() error = %v", err)
	}
	if latest != "update-20260103-090000" {
		t.Errorf("FindLatest() = %q, want update-20260103-090000", latest)
	}
}

func TestFindLatestNoSessions(t *testing.T) {
	store := newTestStore(t)

	_, err := store.FindLatest()
	if !errors.Is(err, ErrNoSessions) {
		t.Errorf("FindLatest() error = %v, want ErrNoSessions", err)
	}
}

func TestLoadRejectsMissingFixedCommits(t *testing.T) {
	store := newTestStore(t)
	st := sampleState("update-20260101-120000")
	st.FixedCommits = nil

	if err := store.Save(st); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	_, err := store.Load("update-20260101-120000")
	var loadErr *LoadError
	if !errors.As(err, &loadErr) {
		t.Fatalf("Load() error = %v, want *LoadError", err)
	}
}

func TestLoadRejectsMissingOrder(t *testing.T) {
	store := newTestStore(t)
	st := sampleState("update-20260101-120000")
	st.Order = nil

	if err := store.Save(st); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	var loadErr *LoadError
	if _, err := store.Load("update-20260101-120000"); !errors.As(err, &loadErr) {
		t.Fatalf("Load() error = %v, want *LoadError", err)
	}
}

func TestLoadUnknownSession(t *testing.T) {
	store := newTestStore(t)

	var loadErr *LoadError
	if _, err := store.Load("update-29990101-000000"); !errors.As(err, &loadErr) {
		t.Fatalf("Load() error = %v, want *LoadError", err)
	}
}

func TestListNewestFirst(t *testing.T) {
	store := newTestStore(t)
	for _, session := range []string{"update-20260102-120000", "update-20260101-120000"} {
		if err := store.Save(sampleState(session)); err != nil {
			t.Fatalf("Save(%s) error = %v", session, err)
		}
	}

	sessions, err := store.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(sessions) != 2 || sessions[0] != "update-20260102-120000" {
		t.Errorf("List() = %v, want newest first", sessions)
	}
}

func TestNewSessionID(t *testing.T) {
	ts := time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)
	if got := NewSessionID(ts); got != "update-20260102-150405" {
		t.Errorf("NewSessionID() = %q", got)
	}
}
