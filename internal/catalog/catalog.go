// Package catalog tracks snapshot metadata, access history, and the
// archive tier in a SQLite database next to the snapshot files. The
// catalog is the authority for eviction decisions; the manifest on disk
// is derived from it.
package catalog

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"snapvault/internal/logging"
)

// Entry is a catalog row for a live snapshot.
type Entry struct {
	ID           string
	Size         int64
	Compressed   bool
	Sealed       bool
	Checksum     string
	Revision     int
	CreatedAt    time.Time
	UpdatedAt    time.Time
	LastAccessed time.Time
	AccessCount  int
}

// ArchivedEntry is a catalog row for an archived snapshot. Blob holds the
// stored file bytes so the snapshot file itself can be removed from disk.
type ArchivedEntry struct {
	Entry
	ArchivedAt time.Time
	Blob       []byte
}

// Catalog is the SQLite-backed snapshot catalog.
type Catalog struct {
	db   *sql.DB
	mu   sync.RWMutex
	path string
	log  *zap.Logger
}

// Open initializes the catalog database at the given path.
func Open(path string) (*Catalog, error) {
	log := logging.For(logging.CategoryCatalog)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create catalog directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		log.Debug("failed to set busy_timeout", zap.Error(err))
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		log.Debug("failed to set journal_mode=WAL", zap.Error(err))
	}
	// synchronous=NORMAL is safe under WAL and much faster than FULL.
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		log.Debug("failed to set synchronous=NORMAL", zap.Error(err))
	}

	c := &Catalog{db: db, path: path, log: log}
	if err := c.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	log.Debug("catalog opened", zap.String("path", path))
	return c, nil
}

// initialize creates the required tables.
func (c *Catalog) initialize() error {
	snapshotsTable := `
	CREATE TABLE IF NOT EXISTS snapshots (
		id TEXT PRIMARY KEY,
		size INTEGER NOT NULL,
		compressed INTEGER NOT NULL DEFAULT 0,
		sealed INTEGER NOT NULL DEFAULT 0,
		checksum TEXT NOT NULL,
		revision INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		last_accessed DATETIME NOT NULL,
		access_count INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_snapshots_last_accessed ON snapshots(last_accessed);
	`

	archiveTable := `
	CREATE TABLE IF NOT EXISTS archive (
		id TEXT PRIMARY KEY,
		size INTEGER NOT NULL,
		compressed INTEGER NOT NULL DEFAULT 0,
		sealed INTEGER NOT NULL DEFAULT 0,
		checksum TEXT NOT NULL,
		revision INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		last_accessed DATETIME NOT NULL,
		access_count INTEGER NOT NULL DEFAULT 0,
		archived_at DATETIME NOT NULL,
		payload BLOB NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_archive_archived_at ON archive(archived_at);
	`

	accessLogTable := `
	CREATE TABLE IF NOT EXISTS access_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		snapshot_id TEXT NOT NULL,
		op TEXT NOT NULL,
		at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_access_log_snapshot ON access_log(snapshot_id);
	CREATE INDEX IF NOT EXISTS idx_access_log_at ON access_log(at);
	`

	restorePointTable := `
	CREATE TABLE IF NOT EXISTS restore_point (
		slot INTEGER PRIMARY KEY CHECK (slot = 0),
		snapshot_id TEXT NOT NULL,
		set_at DATETIME NOT NULL
	);
	`

	for _, table := range []string{snapshotsTable, archiveTable, accessLogTable, restorePointTable} {
		if _, err := c.db.Exec(table); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	return nil
}

// Close closes the catalog database.
func (c *Catalog) Close() error {
	c.log.Debug("closing catalog")
	return c.db.Close()
}

// Record upserts a live snapshot row. Revision is taken from the entry.
func (c *Catalog) Record(e Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := c.db.Exec(
		`INSERT INTO snapshots (id, size, compressed, sealed, checksum, revision, created_at, updated_at, last_accessed, access_count)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0)
		 ON CONFLICT(id) DO UPDATE SET
		 size = excluded.size,
		 compressed = excluded.compressed,
		 sealed = excluded.sealed,
		 checksum = excluded.checksum,
		 revision = excluded.revision,
		 updated_at = excluded.updated_at,
		 last_accessed = excluded.last_accessed`,
		e.ID, e.Size, boolToInt(e.Compressed), boolToInt(e.Sealed), e.Checksum,
		e.Revision, e.CreatedAt.UTC(), e.UpdatedAt.UTC(), e.UpdatedAt.UTC(),
	)
	if err != nil {
		c.log.Error("failed to record snapshot", zap.String("id", e.ID), zap.Error(err))
		return fmt.Errorf("failed to record snapshot: %w", err)
	}
	return nil
}

// Touch updates access tracking for a snapshot and appends to the access log.
func (c *Catalog) Touch(id, op string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now().UTC()
	if _, err := c.db.Exec(
		"UPDATE snapshots SET last_accessed = ?, access_count = access_count + 1 WHERE id = ?",
		now, id,
	); err != nil {
		return fmt.Errorf("failed to update access tracking: %w", err)
	}
	if _, err := c.db.Exec(
		"INSERT INTO access_log (snapshot_id, op, at) VALUES (?, ?, ?)",
		id, op, now,
	); err != nil {
		c.log.Warn("failed to append access log", zap.String("id", id), zap.Error(err))
	}
	return nil
}

// Get returns the live entry for an id.
func (c *Catalog) Get(id string) (Entry, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var e Entry
	var compressed, sealed int
	err := c.db.QueryRow(
		`SELECT id, size, compressed, sealed, checksum, revision, created_at, updated_at, last_accessed, access_count
		 FROM snapshots WHERE id = ?`, id,
	).Scan(&e.ID, &e.Size, &compressed, &sealed, &e.Checksum, &e.Revision,
		&e.CreatedAt, &e.UpdatedAt, &e.LastAccessed, &e.AccessCount)
	if err == sql.ErrNoRows {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("failed to read snapshot row: %w", err)
	}
	e.Compressed = compressed != 0
	e.Sealed = sealed != 0
	return e, true, nil
}

// List returns all live entries ordered by creation time.
func (c *Catalog) List() ([]Entry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	rows, err := c.db.Query(
		`SELECT id, size, compressed, sealed, checksum, revision, created_at, updated_at, last_accessed, access_count
		 FROM snapshots ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var compressed, sealed int
		if err := rows.Scan(&e.ID, &e.Size, &compressed, &sealed, &e.Checksum, &e.Revision,
			&e.CreatedAt, &e.UpdatedAt, &e.LastAccessed, &e.AccessCount); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot row: %w", err)
		}
		e.Compressed = compressed != 0
		e.Sealed = sealed != 0
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Remove deletes a live snapshot row.
func (c *Catalog) Remove(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.db.Exec("DELETE FROM snapshots WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to remove snapshot row: %w", err)
	}
	return nil
}

// LiveBytes returns the total size of live snapshots.
func (c *Catalog) LiveBytes() (int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var total sql.NullInt64
	if err := c.db.QueryRow("SELECT SUM(size) FROM snapshots").Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to sum live bytes: %w", err)
	}
	return total.Int64, nil
}

// SetRestorePoint marks a snapshot as the active restore point.
func (c *Catalog) SetRestorePoint(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := c.db.Exec(
		`INSERT INTO restore_point (slot, snapshot_id, set_at) VALUES (0, ?, ?)
		 ON CONFLICT(slot) DO UPDATE SET snapshot_id = excluded.snapshot_id, set_at = excluded.set_at`,
		id, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to set restore point: %w", err)
	}
	return nil
}

// RestorePoint returns the current restore point id, if any.
func (c *Catalog) RestorePoint() (string, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var id string
	err := c.db.QueryRow("SELECT snapshot_id FROM restore_point WHERE slot = 0").Scan(&id)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read restore point: %w", err)
	}
	return id, true, nil
}

// Stats returns row counts for the catalog tables.
func (c *Catalog) Stats() (map[string]int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := make(map[string]int64)
	for _, table := range []string{"snapshots", "archive", "access_log"} {
		var count int64
		if err := c.db.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&count); err != nil {
			continue
		}
		stats[table] = count
	}
	return stats, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
