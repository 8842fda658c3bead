// Package vault implements the snapshot store: one file per snapshot under
// the vault directory, an index.json manifest, a SQLite catalog for access
// tracking, size-budget eviction into an archive tier, and optional sealing
// at rest.
package vault

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"snapvault/internal/catalog"
	"snapvault/internal/logging"
	"snapvault/internal/metrics"
	"snapvault/internal/seal"
)

const (
	manifestName = "index.json"
	snapshotsDir = "snapshots"
	catalogName  = "catalog.db"
	saltName     = "seal.salt"
	lockName     = "vault.lock"
	snapSuffix   = ".snap"
)

var idPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]{0,63}$`)

// Snapshot is the decoded snapshot document.
type Snapshot struct {
	ID        string            `json:"id"`
	Labels    map[string]string `json:"labels,omitempty"`
	Revision  int               `json:"revision"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
	Payload   json.RawMessage   `json:"payload"`
}

// Options configures a vault.
type Options struct {
	// MaxBytes is the live-snapshot byte budget; 0 disables eviction.
	MaxBytes int64

	// MinAge exempts snapshots younger than this from eviction.
	MinAge time.Duration

	// CompressThreshold gzips documents larger than this many bytes.
	CompressThreshold int

	// Passphrase enables sealing when non-empty.
	Passphrase string

	// KDFIterations for key derivation; defaults to 200000.
	KDFIterations int

	// Watch starts an fsnotify watcher on the snapshots directory.
	Watch bool

	// Bus receives vault events; nil disables event emission.
	Bus *metrics.Bus

	// Registry receives vault counters and gauges; nil disables.
	Registry *metrics.Registry
}

// Stats summarizes vault contents.
type Stats struct {
	Snapshots    int    `json:"snapshots"`
	LiveBytes    int64  `json:"live_bytes"`
	Archived     int64  `json:"archived"`
	RestorePoint string `json:"restore_point,omitempty"`
	Sealed       bool   `json:"sealed"`
}

// Vault is an open snapshot vault. All mutating operations are serialized;
// a lock file guards against a second process opening the same directory.
type Vault struct {
	dir      string
	snapsDir string
	opts     Options

	cat     *catalog.Catalog
	key     *seal.Key
	bus     *metrics.Bus
	reg     *metrics.Registry
	log     *zap.Logger
	watcher *watcher

	mu       sync.Mutex
	manifest *Manifest
	dirty    atomic.Bool
	lockPath string
}

// Open opens (or initializes) the vault at dir.
func Open(dir string, opts Options) (*Vault, error) {
	log := logging.For(logging.CategoryVault)

	if opts.KDFIterations == 0 {
		opts.KDFIterations = 200000
	}

	snapsPath := filepath.Join(dir, snapshotsDir)
	if err := os.MkdirAll(snapsPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create vault directory: %w", err)
	}

	v := &Vault{
		dir:      dir,
		snapsDir: snapsPath,
		opts:     opts,
		bus:      opts.Bus,
		reg:      opts.Registry,
		log:      log,
	}

	if err := v.acquireLock(); err != nil {
		return nil, err
	}

	if opts.Passphrase != "" {
		key, err := v.deriveKey(opts.Passphrase, opts.KDFIterations)
		if err != nil {
			v.releaseLock()
			return nil, err
		}
		v.key = key
	}

	cat, err := catalog.Open(filepath.Join(dir, catalogName))
	if err != nil {
		v.releaseLock()
		return nil, err
	}
	v.cat = cat

	if err := v.loadManifest(); err != nil {
		cat.Close()
		v.releaseLock()
		return nil, err
	}

	v.mu.Lock()
	err = v.reconcileLocked()
	v.mu.Unlock()
	if err != nil {
		cat.Close()
		v.releaseLock()
		return nil, err
	}

	if opts.Watch {
		w, err := newWatcher(v)
		if err != nil {
			log.Warn("failed to start vault watcher", zap.Error(err))
		} else {
			v.watcher = w
		}
	}

	v.updateGauges()
	log.Info("vault opened",
		zap.String("dir", dir),
		zap.Int("snapshots", len(v.manifest.Entries)),
		zap.Bool("sealed", v.key != nil))
	return v, nil
}

// Close releases the vault lock and closes the catalog.
func (v *Vault) Close() error {
	if v.watcher != nil {
		v.watcher.stop()
	}
	err := v.cat.Close()
	v.releaseLock()
	v.log.Debug("vault closed", zap.String("dir", v.dir))
	return err
}

// Put stores a snapshot. An empty id generates one; an existing id is
// overwritten with its revision bumped.
func (v *Vault) Put(ctx context.Context, id string, payload json.RawMessage, labels map[string]string) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if id == "" {
		id = uuid.NewString()
	}
	if !idPattern.MatchString(id) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	if len(payload) == 0 || !json.Valid(payload) {
		return nil, ErrInvalidPayload
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.reconcileIfDirtyLocked(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	snap := &Snapshot{
		ID:        id,
		Labels:    labels,
		Revision:  1,
		CreatedAt: now,
		UpdatedAt: now,
		Payload:   payload,
	}
	if prev, ok := v.manifest.entry(id); ok {
		snap.Revision = prev.Revision + 1
		snap.CreatedAt = prev.CreatedAt
	} else if arch, ok, err := v.cat.GetArchived(id); err != nil {
		return nil, err
	} else if ok {
		// Overwriting an evicted id supersedes its archived copy: the
		// revision continues and the stale blob is dropped.
		snap.Revision = arch.Revision + 1
		snap.CreatedAt = arch.CreatedAt
		if err := v.cat.RemoveArchived(id); err != nil {
			return nil, err
		}
	}

	entry, err := v.writeSnapshotLocked(snap)
	if err != nil {
		return nil, err
	}

	if err := v.cat.Record(catalog.Entry{
		ID:         entry.ID,
		Size:       entry.Size,
		Compressed: entry.Compressed,
		Sealed:     entry.Sealed,
		Checksum:   entry.Checksum,
		Revision:   entry.Revision,
		CreatedAt:  entry.CreatedAt,
		UpdatedAt:  entry.UpdatedAt,
	}); err != nil {
		return nil, err
	}

	v.manifest.upsert(entry)
	if err := v.writeManifest(); err != nil {
		return nil, err
	}

	v.count("snapshots.put")
	v.emit(metrics.CategorySnapshot, "snapshot.put", id, map[string]string{
		"size":     fmt.Sprint(entry.Size),
		"revision": fmt.Sprint(entry.Revision),
	})
	v.log.Info("snapshot stored",
		zap.String("id", id),
		zap.Int64("size", entry.Size),
		zap.Int("revision", entry.Revision))

	if err := v.evictLocked(); err != nil {
		v.log.Warn("eviction failed", zap.Error(err))
	}
	v.updateGauges()

	return snap, nil
}

// Get loads a snapshot. Archived snapshots return ErrArchived; Restore
// rehydrates them.
func (v *Vault) Get(ctx context.Context, id string) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !idPattern.MatchString(id) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.reconcileIfDirtyLocked(); err != nil {
		return nil, err
	}

	snap, err := v.readSnapshotLocked(id)
	if err != nil {
		return nil, err
	}

	if err := v.cat.Touch(id, "get"); err != nil {
		v.log.Warn("failed to record access", zap.String("id", id), zap.Error(err))
	}
	v.count("snapshots.get")
	v.emit(metrics.CategorySnapshot, "snapshot.get", id, nil)
	return snap, nil
}

// Restore loads a snapshot and marks it as the active restore point,
// rehydrating it from the archive tier first when necessary.
func (v *Vault) Restore(ctx context.Context, id string) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !idPattern.MatchString(id) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.reconcileIfDirtyLocked(); err != nil {
		return nil, err
	}

	if _, ok := v.manifest.entry(id); !ok {
		archived, err := v.cat.IsArchived(id)
		if err != nil {
			return nil, err
		}
		if !archived {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if err := v.rehydrateLocked(id); err != nil {
			return nil, err
		}
	}

	snap, err := v.readSnapshotLocked(id)
	if err != nil {
		return nil, err
	}

	if err := v.cat.SetRestorePoint(id); err != nil {
		return nil, err
	}
	if err := v.cat.Touch(id, "restore"); err != nil {
		v.log.Warn("failed to record access", zap.String("id", id), zap.Error(err))
	}

	v.count("snapshots.restore")
	v.emit(metrics.CategorySnapshot, "snapshot.restore", id, nil)
	v.log.Info("snapshot restored", zap.String("id", id), zap.Int("revision", snap.Revision))
	return snap, nil
}

// Merge merges overlay onto base and stores the result as targetID (a new
// id when empty). Conflicts resolve toward the overlay.
func (v *Vault) Merge(ctx context.Context, baseID, overlayID, targetID string) (*Snapshot, error) {
	base, err := v.Get(ctx, baseID)
	if err != nil {
		return nil, fmt.Errorf("base snapshot: %w", err)
	}
	overlay, err := v.Get(ctx, overlayID)
	if err != nil {
		return nil, fmt.Errorf("overlay snapshot: %w", err)
	}

	merged, err := mergePayloads(base.Payload, overlay.Payload)
	if err != nil {
		return nil, err
	}

	labels := map[string]string{
		"merged_from_base":    baseID,
		"merged_from_overlay": overlayID,
	}
	snap, err := v.Put(ctx, targetID, merged, labels)
	if err != nil {
		return nil, err
	}

	v.count("snapshots.merge")
	v.emit(metrics.CategorySnapshot, "snapshot.merge", snap.ID, map[string]string{
		"base":    baseID,
		"overlay": overlayID,
	})
	return snap, nil
}

// Delete removes a snapshot from whichever tier holds it, live or
// archive, so the id cannot resurface later.
func (v *Vault) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !idPattern.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.reconcileIfDirtyLocked(); err != nil {
		return err
	}

	entry, ok := v.manifest.entry(id)
	if !ok {
		archived, err := v.cat.IsArchived(id)
		if err != nil {
			return err
		}
		if !archived {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if err := v.cat.RemoveArchived(id); err != nil {
			return err
		}
		v.count("snapshots.delete")
		v.emit(metrics.CategorySnapshot, "snapshot.delete", id, nil)
		v.log.Info("archived snapshot deleted", zap.String("id", id))
		return nil
	}

	if err := os.Remove(filepath.Join(v.dir, entry.Path)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove snapshot file: %w", err)
	}
	if err := v.cat.Remove(id); err != nil {
		return err
	}
	if err := v.cat.RemoveArchived(id); err != nil {
		return err
	}
	v.manifest.remove(id)
	if err := v.writeManifest(); err != nil {
		return err
	}

	v.count("snapshots.delete")
	v.emit(metrics.CategorySnapshot, "snapshot.delete", id, nil)
	v.updateGauges()
	v.log.Info("snapshot deleted", zap.String("id", id))
	return nil
}

// List returns the live manifest entries.
func (v *Vault) List(ctx context.Context) ([]ManifestEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.reconcileIfDirtyLocked(); err != nil {
		return nil, err
	}

	out := make([]ManifestEntry, len(v.manifest.Entries))
	copy(out, v.manifest.Entries)
	return out, nil
}

// VaultStats returns a summary of vault contents.
func (v *Vault) VaultStats(ctx context.Context) (Stats, error) {
	if err := ctx.Err(); err != nil {
		return Stats{}, err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	live, err := v.cat.LiveBytes()
	if err != nil {
		return Stats{}, err
	}
	counts, err := v.cat.Stats()
	if err != nil {
		return Stats{}, err
	}
	restoreID, _, err := v.cat.RestorePoint()
	if err != nil {
		return Stats{}, err
	}

	return Stats{
		Snapshots:    len(v.manifest.Entries),
		LiveBytes:    live,
		Archived:     counts["archive"],
		RestorePoint: restoreID,
		Sealed:       v.key != nil,
	}, nil
}

// Maintenance runs a catalog maintenance cycle.
func (v *Vault) Maintenance(ctx context.Context, cfg catalog.MaintenanceConfig) (catalog.MaintenanceStats, error) {
	if err := ctx.Err(); err != nil {
		return catalog.MaintenanceStats{}, err
	}

	stats, err := v.cat.Maintenance(cfg)
	if err != nil {
		return stats, err
	}
	v.count("maintenance.runs")
	v.emit(metrics.CategoryMaintenance, "maintenance.complete", "", map[string]string{
		"archived_purged": fmt.Sprint(stats.ArchivedPurged),
	})
	return stats, nil
}

// writeSnapshotLocked encodes, compresses, seals, and atomically writes the
// snapshot file, returning its manifest entry.
func (v *Vault) writeSnapshotLocked(snap *Snapshot) (ManifestEntry, error) {
	doc, err := json.Marshal(snap)
	if err != nil {
		return ManifestEntry{}, fmt.Errorf("failed to encode snapshot: %w", err)
	}

	body := doc
	compressed := false
	if v.opts.CompressThreshold > 0 && len(doc) > v.opts.CompressThreshold {
		body, err = compressBody(doc)
		if err != nil {
			return ManifestEntry{}, err
		}
		compressed = true
	}

	sealed := false
	if v.key != nil {
		body, err = v.key.Seal(body, snap.ID)
		if err != nil {
			return ManifestEntry{}, err
		}
		sealed = true
	}

	stored := encodeEnvelope(body, compressed, sealed)
	sum := sha256.Sum256(stored)

	relPath := filepath.Join(snapshotsDir, snap.ID+snapSuffix)
	if err := atomicWrite(filepath.Join(v.dir, relPath), stored); err != nil {
		return ManifestEntry{}, err
	}

	return ManifestEntry{
		ID:         snap.ID,
		Path:       relPath,
		Size:       int64(len(stored)),
		Compressed: compressed,
		Sealed:     sealed,
		Checksum:   hex.EncodeToString(sum[:]),
		Revision:   snap.Revision,
		CreatedAt:  snap.CreatedAt,
		UpdatedAt:  snap.UpdatedAt,
	}, nil
}

// readSnapshotLocked loads and decodes a live snapshot, verifying its
// checksum first.
func (v *Vault) readSnapshotLocked(id string) (*Snapshot, error) {
	entry, ok := v.manifest.entry(id)
	if !ok {
		archived, err := v.cat.IsArchived(id)
		if err != nil {
			return nil, err
		}
		if archived {
			return nil, fmt.Errorf("%w: %s", ErrArchived, id)
		}
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	stored, err := os.ReadFile(filepath.Join(v.dir, entry.Path))
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot file: %w", err)
	}

	sum := sha256.Sum256(stored)
	if hex.EncodeToString(sum[:]) != entry.Checksum {
		v.count("snapshots.corrupted")
		return nil, fmt.Errorf("%w: checksum mismatch for %s", ErrCorrupted, id)
	}

	body, compressed, sealed, err := decodeEnvelope(stored)
	if err != nil {
		return nil, err
	}

	if sealed {
		if v.key == nil {
			return nil, fmt.Errorf("%w: %s", ErrSealRequired, id)
		}
		body, err = v.key.Unseal(body, id)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
		}
	}
	if compressed {
		body, err = decompressBody(body)
		if err != nil {
			return nil, err
		}
	}

	var snap Snapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		return nil, fmt.Errorf("%w: bad snapshot document", ErrCorrupted)
	}
	return &snap, nil
}

// evictLocked archives least-recently-accessed snapshots until live bytes
// fit the budget.
func (v *Vault) evictLocked() error {
	if v.opts.MaxBytes <= 0 {
		return nil
	}

	candidates, err := v.cat.ArchiveCandidates(v.opts.MaxBytes, v.opts.MinAge)
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		return nil
	}

	for _, cand := range candidates {
		entry, ok := v.manifest.entry(cand.ID)
		if !ok {
			continue
		}
		path := filepath.Join(v.dir, entry.Path)
		blob, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read snapshot for archival: %w", err)
		}
		if err := v.cat.Archive(cand.ID, blob); err != nil {
			return err
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove archived snapshot file: %w", err)
		}
		v.manifest.remove(cand.ID)

		v.count("snapshots.evicted")
		v.emit(metrics.CategoryMaintenance, "snapshot.archived", cand.ID, map[string]string{
			"size": fmt.Sprint(cand.Size),
		})
		v.log.Info("snapshot evicted to archive",
			zap.String("id", cand.ID),
			zap.Int64("size", cand.Size))
	}

	return v.writeManifest()
}

// rehydrateLocked pulls an archived snapshot back into the live tier.
func (v *Vault) rehydrateLocked(id string) error {
	entry, blob, err := v.cat.Rehydrate(id)
	if err != nil {
		return err
	}

	relPath := filepath.Join(snapshotsDir, id+snapSuffix)
	if err := atomicWrite(filepath.Join(v.dir, relPath), blob); err != nil {
		return err
	}

	v.manifest.upsert(ManifestEntry{
		ID:         entry.ID,
		Path:       relPath,
		Size:       entry.Size,
		Compressed: entry.Compressed,
		Sealed:     entry.Sealed,
		Checksum:   entry.Checksum,
		Revision:   entry.Revision,
		CreatedAt:  entry.CreatedAt,
		UpdatedAt:  entry.UpdatedAt,
	})
	if err := v.writeManifest(); err != nil {
		return err
	}

	v.count("snapshots.rehydrated")
	v.emit(metrics.CategoryMaintenance, "snapshot.rehydrated", id, nil)
	return nil
}

// reconcileIfDirtyLocked reconciles after the watcher flagged out-of-band
// changes.
func (v *Vault) reconcileIfDirtyLocked() error {
	if !v.dirty.Swap(false) {
		return nil
	}
	return v.reconcileLocked()
}

// reconcileLocked brings manifest and catalog in line with the snapshots
// directory: entries whose file vanished are dropped, untracked snapshot
// files are adopted with recomputed metadata.
func (v *Vault) reconcileLocked() error {
	changed := false

	// Drop entries whose backing file is gone.
	kept := v.manifest.Entries[:0]
	for _, entry := range v.manifest.Entries {
		if _, err := os.Stat(filepath.Join(v.dir, entry.Path)); os.IsNotExist(err) {
			v.log.Warn("snapshot file missing, dropping from manifest", zap.String("id", entry.ID))
			if err := v.cat.Remove(entry.ID); err != nil {
				v.log.Warn("failed to remove catalog row", zap.String("id", entry.ID), zap.Error(err))
			}
			v.emit(metrics.CategoryVault, "vault.entry_dropped", entry.ID, nil)
			changed = true
			continue
		}
		kept = append(kept, entry)
	}
	v.manifest.Entries = kept

	// Adopt untracked snapshot files.
	files, err := os.ReadDir(v.snapsDir)
	if err != nil {
		return fmt.Errorf("failed to read snapshots directory: %w", err)
	}
	for _, f := range files {
		name := f.Name()
		if f.IsDir() || !strings.HasSuffix(name, snapSuffix) {
			continue
		}
		id := strings.TrimSuffix(name, snapSuffix)
		if _, ok := v.manifest.entry(id); ok {
			continue
		}
		if !idPattern.MatchString(id) {
			continue
		}

		relPath := filepath.Join(snapshotsDir, name)
		stored, err := os.ReadFile(filepath.Join(v.dir, relPath))
		if err != nil {
			v.log.Warn("failed to read untracked snapshot", zap.String("id", id), zap.Error(err))
			continue
		}
		_, compressed, sealed, err := decodeEnvelope(stored)
		if err != nil {
			v.log.Warn("untracked file is not a snapshot, skipping", zap.String("file", name), zap.Error(err))
			continue
		}

		info, err := f.Info()
		if err != nil {
			continue
		}
		sum := sha256.Sum256(stored)
		entry := ManifestEntry{
			ID:         id,
			Path:       relPath,
			Size:       int64(len(stored)),
			Compressed: compressed,
			Sealed:     sealed,
			Checksum:   hex.EncodeToString(sum[:]),
			Revision:   1,
			CreatedAt:  info.ModTime().UTC(),
			UpdatedAt:  info.ModTime().UTC(),
		}
		v.manifest.upsert(entry)
		if err := v.cat.Record(catalog.Entry{
			ID:         entry.ID,
			Size:       entry.Size,
			Compressed: entry.Compressed,
			Sealed:     entry.Sealed,
			Checksum:   entry.Checksum,
			Revision:   entry.Revision,
			CreatedAt:  entry.CreatedAt,
			UpdatedAt:  entry.UpdatedAt,
		}); err != nil {
			v.log.Warn("failed to record adopted snapshot", zap.String("id", id), zap.Error(err))
		}
		v.log.Info("adopted untracked snapshot", zap.String("id", id))
		v.emit(metrics.CategoryVault, "vault.entry_adopted", id, nil)
		changed = true
	}

	if changed {
		return v.writeManifest()
	}
	return nil
}

// deriveKey loads or creates the vault salt and derives the sealing key.
func (v *Vault) deriveKey(passphrase string, iterations int) (*seal.Key, error) {
	saltPath := filepath.Join(v.dir, saltName)
	salt, err := os.ReadFile(saltPath)
	if os.IsNotExist(err) {
		salt, err = seal.NewSalt()
		if err != nil {
			return nil, err
		}
		if err := os.WriteFile(saltPath, salt, 0600); err != nil {
			return nil, fmt.Errorf("failed to write salt file: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("failed to read salt file: %w", err)
	}

	key, err := seal.DeriveKey(passphrase, salt, iterations)
	if err != nil {
		return nil, err
	}
	return key, nil
}

// acquireLock takes the single-writer lock file. A lock whose recorded
// pid is no longer running is stale (crashed holder) and is reclaimed.
func (v *Vault) acquireLock() error {
	path := filepath.Join(v.dir, lockName)
	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			fmt.Fprintf(f, "%d\n", os.Getpid())
			f.Close()
			v.lockPath = path
			return nil
		}
		if !os.IsExist(err) {
			return fmt.Errorf("failed to create lock file: %w", err)
		}
		if attempt == 0 && lockHolderDead(path) {
			v.log.Warn("removing stale vault lock", zap.String("path", path))
			_ = os.Remove(path)
			continue
		}
		break
	}
	return fmt.Errorf("%w (lock file: %s)", ErrLocked, path)
}

// lockHolderDead reports whether the pid recorded in the lock file no
// longer refers to a running process. Unreadable contents count as stale.
func lockHolderDead(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return true
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return true
	}
	err = proc.Signal(syscall.Signal(0))
	return err != nil && (errors.Is(err, os.ErrProcessDone) || errors.Is(err, syscall.ESRCH))
}

func (v *Vault) releaseLock() {
	if v.lockPath != "" {
		_ = os.Remove(v.lockPath)
		v.lockPath = ""
	}
}

// emit publishes a bus event if a bus is attached.
func (v *Vault) emit(cat metrics.Category, kind, subject string, fields map[string]string) {
	if v.bus == nil {
		return
	}
	v.bus.Emit(metrics.Event{Category: cat, Kind: kind, Subject: subject, Fields: fields})
}

// count bumps a registry counter if a registry is attached.
func (v *Vault) count(name string) {
	if v.reg != nil {
		v.reg.Inc(name)
	}
}

// updateGauges refreshes registry gauges from the catalog.
func (v *Vault) updateGauges() {
	if v.reg == nil {
		return
	}
	if live, err := v.cat.LiveBytes(); err == nil {
		v.reg.Set("vault.live_bytes", float64(live))
	}
	v.reg.Set("vault.snapshots", float64(len(v.manifest.Entries)))
}
