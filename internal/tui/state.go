package tui

import "time"

type Snapshot struct {
	Timestamp time.Time
	Session   string
	Branch    string
	Repos     []RepoState
	Done      bool
}

type RepoState struct {
	Name      string
	Depth     int
	Status    string // pending|in_progress|updated|skipped|failed
	PRURL     string
	Detail    string
	UpdatedAt time.Time
}
