package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/lotas/tabsidebar/internal/types"
	_ "modernc.org/sqlite"
)

// Record is one persisted tab with the time it was last written.
type Record struct {
	TabID     int
	State     types.TabState
	UpdatedAt time.Time
}

// Backend persists tab records across restarts.
type Backend interface {
	LoadAll(ctx context.Context) (map[int]types.TabState, error)
	Save(ctx context.Context, tabID int, st types.TabState) error
	Remove(ctx context.Context, tabID int) error
	List(ctx context.Context) ([]Record, error)
	Close() error
}

// migration is a numbered schema change. Migrations are applied in order
// and tracked in the schema_migrations table so each runs exactly once.
type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "initial schema",
		SQL: `
CREATE TABLE IF NOT EXISTS tab_states (
    tab_id            INTEGER PRIMARY KEY,
    state             TEXT NOT NULL,
    ready             BOOLEAN NOT NULL DEFAULT 0,
    installed         BOOLEAN NOT NULL DEFAULT 0,
    annotation_count  INTEGER NOT NULL DEFAULT 0,
    updated_at        DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);`,
	},
	{
		Version:     2,
		Description: "add url column to tab_states",
		SQL:         `ALTER TABLE tab_states ADD COLUMN url TEXT NOT NULL DEFAULT '';`,
	},
}

// OpenDB opens (or creates) the SQLite database at dbPath and brings its
// schema up to date.
func OpenDB(dbPath string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Enable WAL mode so `states --watch` can read while serve writes.
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return db, nil
}

// runMigrations ensures the schema_migrations table exists and runs any
// pending migrations.
func runMigrations(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version     INTEGER PRIMARY KEY,
		description TEXT NOT NULL,
		applied_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		return fmt.Errorf("create schema_migrations table: %w", err)
	}

	for _, m := range migrations {
		var exists int
		err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = ?", m.Version).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}
		if exists > 0 {
			continue
		}

		if _, err := db.Exec(m.SQL); err != nil {
			return fmt.Errorf("apply migration %d (%s): %w", m.Version, m.Description, err)
		}
		if _, err := db.Exec(
			"INSERT INTO schema_migrations (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}
	}
	return nil
}

// DefaultDBPath returns the default database file path:
// ~/.local/share/tabsidebar/tabsidebar.db
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "tabsidebar", "tabsidebar.db"), nil
}

// TabStore keeps tab records in the tab_states table.
type TabStore struct {
	db *sql.DB
}

// OpenTabStore opens the database at dbPath.
func OpenTabStore(dbPath string) (*TabStore, error) {
	db, err := OpenDB(dbPath)
	if err != nil {
		return nil, err
	}
	return &TabStore{db: db}, nil
}

// NewTabStore wraps an already opened database.
func NewTabStore(db *sql.DB) *TabStore {
	return &TabStore{db: db}
}

// Close closes the underlying database.
func (s *TabStore) Close() error {
	return s.db.Close()
}

// LoadAll returns every persisted record keyed by tab id.
func (s *TabStore) LoadAll(ctx context.Context) (map[int]types.TabState, error) {
	records, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[int]types.TabState, len(records))
	for _, r := range records {
		out[r.TabID] = r.State
	}
	return out, nil
}

// Save upserts the record of a tab. Errored records are never persisted.
func (s *TabStore) Save(ctx context.Context, tabID int, st types.TabState) error {
	if err := checkPersistable(tabID, st); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO tab_states (tab_id, state, ready, installed, annotation_count, url, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(tab_id) DO UPDATE SET
    state = excluded.state,
    ready = excluded.ready,
    installed = excluded.installed,
    annotation_count = excluded.annotation_count,
    url = excluded.url,
    updated_at = excluded.updated_at`,
		tabID, st.State.String(), st.Ready, st.Installed, st.AnnotationCount, st.URL, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("save tab %d: %w", tabID, err)
	}
	return nil
}

// Remove deletes the record of a tab. Removing an unknown tab is not an error.
func (s *TabStore) Remove(ctx context.Context, tabID int) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM tab_states WHERE tab_id = ?", tabID); err != nil {
		return fmt.Errorf("remove tab %d: %w", tabID, err)
	}
	return nil
}

// List returns every persisted record ordered by tab id.
func (s *TabStore) List(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT tab_id, state, ready, installed, annotation_count, url, updated_at FROM tab_states ORDER BY tab_id",
	)
	if err != nil {
		return nil, fmt.Errorf("query tab states: %w", err)
	}
	defer rows.Close()

	var result []Record
	for rows.Next() {
		var r Record
		var state string
		if err := rows.Scan(&r.TabID, &state, &r.State.Ready, &r.State.Installed,
			&r.State.AnnotationCount, &r.State.URL, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan tab state: %w", err)
		}
		if r.State.State, err = types.ParseState(state); err != nil {
			return nil, fmt.Errorf("tab %d: %w", r.TabID, err)
		}
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tab states: %w", err)
	}
	return result, nil
}

func checkPersistable(tabID int, st types.TabState) error {
	if st.State == types.Errored {
		return fmt.Errorf("save tab %d: errored records are not persisted: %w", tabID, types.ErrInvalidState)
	}
	if err := st.Validate(); err != nil {
		return fmt.Errorf("save tab %d: %w", tabID, err)
	}
	return nil
}

// Backend names accepted by Open.
const (
	BackendSQLite = "sqlite"
	BackendFile   = "file"
)

// Open returns the backend named by kind. An empty path selects the
// backend's default location.
func Open(kind, path string) (Backend, error) {
	switch kind {
	case BackendSQLite, "":
		if path == "" {
			p, err := DefaultDBPath()
			if err != nil {
				return nil, err
			}
			path = p
		}
		return OpenTabStore(path)
	case BackendFile:
		if path == "" {
			p, err := DefaultFilePath()
			if err != nil {
				return nil, err
			}
			path = p
		}
		return NewFileStore(path), nil
	}
	return nil, fmt.Errorf("unknown storage backend %q", kind)
}
