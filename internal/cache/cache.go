// Package cache persists computed repository update orders in a local
// SQLite database so repeated runs over the same roots can skip graph
// discovery.
package cache

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS update_orders (
	root_key TEXT PRIMARY KEY,
	roots TEXT NOT NULL,
	payload TEXT NOT NULL,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
`

// CachedOrder is a previously computed update order for a set of roots.
type CachedOrder struct {
	Order     []string          `json:"order"`
	URLs      map[string]string `json:"urls"`
	CreatedAt time.Time         `json:"-"`
}

// Store reads and writes cached orders. It is an optimization only and is
// never treated as a source of truth: stale entries are overwritten on the
// next fresh build.
type Store struct {
	db *sql.DB
}

// Open opens the cache database at path, creating the file and schema as
// needed.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open order cache: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize order cache: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the cached order for the given roots, or nil on a miss. The
// lookup is order-independent: the same roots in any sequence hit the same
// record.
func (s *Store) Get(ctx context.Context, roots []string) (*CachedOrder, error) {
	var (
		payload   string
		createdAt time.Time
	)

	err := s.db.QueryRowContext(ctx,
		"SELECT payload, created_at FROM update_orders WHERE root_key = ?",
		rootKey(roots),
	).Scan(&payload, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read order cache: %w", err)
	}

	var cached CachedOrder
	if err := json.Unmarshal([]byte(payload), &cached); err != nil {
		return nil, fmt.Errorf("failed to decode cached order: %w", err)
	}
	cached.CreatedAt = createdAt

	return &cached, nil
}

// Put stores the order for the given roots, replacing any previous record
// for the same root set.
func (s *Store) Put(ctx context.Context, roots, order []string, urls map[string]string) error {
	payload, err := json.Marshal(CachedOrder{Order: order, URLs: urls})
	if err != nil {
		return fmt.Errorf("failed to encode order: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO update_orders (root_key, roots, payload) VALUES (?, ?, ?)",
		rootKey(roots), strings.Join(normalizeRoots(roots), "\n"), string(payload),
	)
	if err != nil {
		return fmt.Errorf("failed to write order cache: %w", err)
	}

	return nil
}

// rootKey is the SHA-256 of the normalized, sorted root list.
func rootKey(roots []string) string {
	sum := sha256.Sum256([]byte(strings.Join(normalizeRoots(roots), "\n")))
	return hex.EncodeToString(sum[:])
}

func normalizeRoots(roots []string) []string {
	norm := make([]string, 0, len(roots))
	for _, r := range roots {
		r = strings.ToLower(strings.TrimSpace(r))
		r = strings.TrimRight(r, "/")
		r = strings.TrimSuffix(r, ".git")
		norm = append(norm, r)
	}
	sort.Strings(norm)
	return norm
}
