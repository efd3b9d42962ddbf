// Package state persists the full propagation checkpoint to disk after
// every repository, so an interruption at any point leaves a loadable
// resume point.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cascade-tools/cascade/internal/status"
)

const (
	sessionPrefix = "update-"
	stateFile     = "state.json"
)

// ErrNoSessions is returned by FindLatest when nothing has been saved yet.
var ErrNoSessions = errors.New("no saved sessions")

// PropagationState is everything a resumed run needs. FixedCommits is the
// commit snapshot taken when the original run started; it is restored
// as-is on resume, never recomputed.
type PropagationState struct {
	Session      string                       `json:"session"`
	Branch       string                       `json:"branch"`
	Roots        []string                     `json:"roots"`
	WorkItem     int                          `json:"work_item,omitempty"`
	Order        []string                     `json:"order"`
	URLs         map[string]string            `json:"urls"`
	FixedCommits map[string]string            `json:"fixed_commits"`
	Statuses     map[string]status.RepoStatus `json:"statuses"`
	SavedAt      time.Time                    `json:"saved_at"`
}

// LoadError reports an unusable saved state. Resuming from a checkpoint
// with missing required fields is unsafe and must not proceed.
type LoadError struct {
	Session string
	Err     error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load state %s: %v", e.Session, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// NewSessionID derives the session identifier FindLatest scans for: a
// fixed prefix plus a second-resolution timestamp, so lexical order is
// creation order.
func NewSessionID(t time.Time) string {
	return sessionPrefix + t.Format("20060102-150405")
}

// Store reads and writes per-session state files under the sessions
// directory.
type Store struct {
	sessionsDir string
	logger      *slog.Logger
}

func NewStore(sessionsDir string, logger *slog.Logger) *Store {
	return &Store{sessionsDir: sessionsDir, logger: logger}
}

// Save writes st atomically to the session's state file.
func (s *Store) Save(st *PropagationState) error {
	if st.Session == "" {
		return errors.New("save state: empty session")
	}

	dir := filepath.Join(s.sessionsDir, st.Session)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("save state: %w", err)
	}

	st.SavedAt = time.Now()
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("save state: %w", err)
	}

	// temp file plus rename so a crash mid-write never clobbers the
	// previous checkpoint
	tmp, err := os.CreateTemp(dir, stateFile+".tmp-*")
	if err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("save state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("save state: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(dir, stateFile)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("save state: %w", err)
	}

	s.logger.Debug("state saved", "session", st.Session)
	return nil
}

// FindLatest returns the most recent session that has a saved state file,
// or ErrNoSessions.
func (s *Store) FindLatest() (string, error) {
	sessions, err := s.List()
	if err != nil {
		return "", err
	}
	if len(sessions) == 0 {
		return "", ErrNoSessions
	}
	return sessions[0], nil
}

// List returns all sessions with a saved state file, newest first.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.sessionsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	var sessions []string
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), sessionPrefix) {
			continue
		}
		if _, err := os.Stat(filepath.Join(s.sessionsDir, e.Name(), stateFile)); err != nil {
			continue
		}
		sessions = append(sessions, e.Name())
	}

	sort.Sort(sort.Reverse(sort.StringSlice(sessions)))
	return sessions, nil
}

// Load reads and validates a session's state. It fails loudly when
// required fields are missing; in particular an empty fixed_commits map
// means the commit snapshot is gone and resuming would update repos
// against moving targets.
func (s *Store) Load(session string) (*PropagationState, error) {
	data, err := os.ReadFile(filepath.Join(s.sessionsDir, session, stateFile))
	if err != nil {
		return nil, &LoadError{Session: session, Err: err}
	}

	var st PropagationState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, &LoadError{Session: session, Err: err}
	}

	switch {
	case st.Branch == "":
		return nil, &LoadError{Session: session, Err: errors.New("missing branch")}
	case len(st.Order) == 0:
		return nil, &LoadError{Session: session, Err: errors.New("missing order")}
	case len(st.FixedCommits) == 0:
		return nil, &LoadError{Session: session, Err: errors.New("missing fixed_commits")}
	}
	if st.Session == "" {
		st.Session = session
	}

	return &st, nil
}
