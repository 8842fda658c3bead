package catalog

import (
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// MaintenanceConfig configures a maintenance cycle.
type MaintenanceConfig struct {
	PurgeArchivedAfter time.Duration // Permanently drop archived snapshots older than this
	PruneAccessLogDays int           // Delete access log rows older than N days
	Vacuum             bool          // Run VACUUM to reclaim space
}

// MaintenanceStats reports the results of a maintenance cycle.
type MaintenanceStats struct {
	ArchivedPurged    int
	AccessLogsDeleted int
	Vacuumed          bool
}

// ArchiveCandidates returns live snapshots in eviction order until removing
// them would bring live bytes under budget. Ordered by last_accessed
// ascending with access_count as tiebreak. The restore point and snapshots
// younger than minAge are never candidates.
func (c *Catalog) ArchiveCandidates(budget int64, minAge time.Duration) ([]Entry, error) {
	live, err := c.LiveBytes()
	if err != nil {
		return nil, err
	}
	if budget <= 0 || live <= budget {
		return nil, nil
	}

	restoreID, _, err := c.RestorePoint()
	if err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	cutoff := time.Now().UTC().Add(-minAge)
	rows, err := c.db.Query(
		`SELECT id, size, compressed, sealed, checksum, revision, created_at, updated_at, last_accessed, access_count
		 FROM snapshots
		 WHERE created_at < ? AND id != ?
		 ORDER BY last_accessed ASC, access_count ASC`,
		cutoff, restoreID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query eviction candidates: %w", err)
	}
	defer rows.Close()

	var candidates []Entry
	excess := live - budget
	for rows.Next() && excess > 0 {
		var e Entry
		var compressed, sealed int
		if err := rows.Scan(&e.ID, &e.Size, &compressed, &sealed, &e.Checksum, &e.Revision,
			&e.CreatedAt, &e.UpdatedAt, &e.LastAccessed, &e.AccessCount); err != nil {
			return nil, fmt.Errorf("failed to scan candidate row: %w", err)
		}
		e.Compressed = compressed != 0
		e.Sealed = sealed != 0
		candidates = append(candidates, e)
		excess -= e.Size
	}
	return candidates, rows.Err()
}

// Archive moves a live snapshot into the archive tier, carrying the stored
// file bytes so the file can be removed from disk.
func (c *Catalog) Archive(id string, blob []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to start archive transaction: %w", err)
	}
	defer tx.Rollback()

	var e Entry
	var compressed, sealed int
	err = tx.QueryRow(
		`SELECT id, size, compressed, sealed, checksum, revision, created_at, updated_at, last_accessed, access_count
		 FROM snapshots WHERE id = ?`, id,
	).Scan(&e.ID, &e.Size, &compressed, &sealed, &e.Checksum, &e.Revision,
		&e.CreatedAt, &e.UpdatedAt, &e.LastAccessed, &e.AccessCount)
	if err != nil {
		return fmt.Errorf("snapshot %s not found in catalog: %w", id, err)
	}

	_, err = tx.Exec(
		`INSERT OR REPLACE INTO archive (id, size, compressed, sealed, checksum, revision, created_at, updated_at, last_accessed, access_count, archived_at, payload)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Size, compressed, sealed, e.Checksum, e.Revision,
		e.CreatedAt, e.UpdatedAt, e.LastAccessed, e.AccessCount, time.Now().UTC(), blob,
	)
	if err != nil {
		return fmt.Errorf("failed to insert archive row: %w", err)
	}

	if _, err := tx.Exec("DELETE FROM snapshots WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete live row after archive: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit archive transaction: %w", err)
	}

	c.log.Info("snapshot archived", zap.String("id", id), zap.Int64("size", e.Size))
	return nil
}

// IsArchived reports whether an id sits in the archive tier.
func (c *Catalog) IsArchived(id string) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var n int
	if err := c.db.QueryRow("SELECT COUNT(*) FROM archive WHERE id = ?", id).Scan(&n); err != nil {
		return false, fmt.Errorf("failed to check archive: %w", err)
	}
	return n > 0, nil
}

// GetArchived returns the archived entry metadata for an id, without the
// stored blob.
func (c *Catalog) GetArchived(id string) (Entry, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var e Entry
	var compressed, sealed int
	err := c.db.QueryRow(
		`SELECT id, size, compressed, sealed, checksum, revision, created_at, updated_at, last_accessed, access_count
		 FROM archive WHERE id = ?`, id,
	).Scan(&e.ID, &e.Size, &compressed, &sealed, &e.Checksum, &e.Revision,
		&e.CreatedAt, &e.UpdatedAt, &e.LastAccessed, &e.AccessCount)
	if err == sql.ErrNoRows {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("failed to read archive row: %w", err)
	}
	e.Compressed = compressed != 0
	e.Sealed = sealed != 0
	return e, true, nil
}

// RemoveArchived drops an archive row, discarding its stored bytes.
func (c *Catalog) RemoveArchived(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.db.Exec("DELETE FROM archive WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to remove archive row: %w", err)
	}
	return nil
}

// Rehydrate moves an archived snapshot back to the live tier and returns
// its entry and stored bytes so the caller can rewrite the snapshot file.
func (c *Catalog) Rehydrate(id string) (Entry, []byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.db.Begin()
	if err != nil {
		return Entry{}, nil, fmt.Errorf("failed to start rehydrate transaction: %w", err)
	}
	defer tx.Rollback()

	var e Entry
	var compressed, sealed int
	var blob []byte
	err = tx.QueryRow(
		`SELECT id, size, compressed, sealed, checksum, revision, created_at, updated_at, last_accessed, access_count, payload
		 FROM archive WHERE id = ?`, id,
	).Scan(&e.ID, &e.Size, &compressed, &sealed, &e.Checksum, &e.Revision,
		&e.CreatedAt, &e.UpdatedAt, &e.LastAccessed, &e.AccessCount, &blob)
	if err != nil {
		return Entry{}, nil, fmt.Errorf("snapshot %s not found in archive: %w", id, err)
	}
	e.Compressed = compressed != 0
	e.Sealed = sealed != 0

	_, err = tx.Exec(
		`INSERT OR REPLACE INTO snapshots (id, size, compressed, sealed, checksum, revision, created_at, updated_at, last_accessed, access_count)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Size, compressed, sealed, e.Checksum, e.Revision,
		e.CreatedAt, e.UpdatedAt, time.Now().UTC(), e.AccessCount,
	)
	if err != nil {
		return Entry{}, nil, fmt.Errorf("failed to restore live row: %w", err)
	}

	if _, err := tx.Exec("DELETE FROM archive WHERE id = ?", id); err != nil {
		return Entry{}, nil, fmt.Errorf("failed to delete archive row: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Entry{}, nil, fmt.Errorf("failed to commit rehydrate transaction: %w", err)
	}

	c.log.Info("snapshot rehydrated from archive", zap.String("id", id))
	return e, blob, nil
}

// PurgeArchived permanently deletes archived snapshots older than the given
// retention. Irreversible.
func (c *Catalog) PurgeArchived(olderThan time.Duration) (int, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("retention must be positive")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := time.Now().UTC().Add(-olderThan)
	result, err := c.db.Exec("DELETE FROM archive WHERE archived_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge archive: %w", err)
	}
	n, _ := result.RowsAffected()
	if n > 0 {
		c.log.Info("purged archived snapshots", zap.Int64("count", n))
	}
	return int(n), nil
}

// Maintenance runs a full maintenance cycle: purge expired archive rows,
// prune the access log, optionally VACUUM.
func (c *Catalog) Maintenance(cfg MaintenanceConfig) (MaintenanceStats, error) {
	stats := MaintenanceStats{}

	if cfg.PurgeArchivedAfter > 0 {
		purged, err := c.PurgeArchived(cfg.PurgeArchivedAfter)
		if err != nil {
			return stats, fmt.Errorf("archive purge failed: %w", err)
		}
		stats.ArchivedPurged = purged
	}

	if cfg.PruneAccessLogDays > 0 {
		c.mu.Lock()
		cutoff := time.Now().UTC().AddDate(0, 0, -cfg.PruneAccessLogDays)
		result, err := c.db.Exec("DELETE FROM access_log WHERE at < ?", cutoff)
		c.mu.Unlock()
		if err != nil {
			c.log.Warn("failed to prune access log", zap.Error(err))
		} else {
			n, _ := result.RowsAffected()
			stats.AccessLogsDeleted = int(n)
		}
	}

	if cfg.Vacuum {
		c.mu.Lock()
		_, err := c.db.Exec("VACUUM")
		c.mu.Unlock()
		if err != nil {
			return stats, fmt.Errorf("vacuum failed: %w", err)
		}
		stats.Vacuumed = true
	}

	c.log.Info("maintenance complete",
		zap.Int("archived_purged", stats.ArchivedPurged),
		zap.Int("access_logs_deleted", stats.AccessLogsDeleted),
		zap.Bool("vacuumed", stats.Vacuumed))
	return stats, nil
}
