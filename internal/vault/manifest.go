package vault

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// ManifestEntry describes one live snapshot file.
type ManifestEntry struct {
	ID         string    `json:"id"`
	Path       string    `json:"path"` // relative to the vault dir
	Size       int64     `json:"size"`
	Compressed bool      `json:"compressed"`
	Sealed     bool      `json:"sealed"`
	Checksum   string    `json:"checksum"` // sha256 over the stored file bytes
	Revision   int       `json:"revision"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Manifest enumerates the live snapshots in a vault. When the vault is
// keyed, MAC authenticates the canonical entry encoding.
type Manifest struct {
	Version   int             `json:"version"`
	UpdatedAt time.Time       `json:"updated_at"`
	MAC       string          `json:"mac,omitempty"`
	Entries   []ManifestEntry `json:"entries"`
}

const manifestVersion = 1

// canonicalEntries returns the deterministic encoding MACs are computed
// over: entries sorted by id, compact JSON.
func canonicalEntries(entries []ManifestEntry) ([]byte, error) {
	sorted := make([]ManifestEntry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	data, err := json.Marshal(sorted)
	if err != nil {
		return nil, fmt.Errorf("failed to encode manifest entries: %w", err)
	}
	return data, nil
}

// entry returns the manifest entry for id, if present.
func (m *Manifest) entry(id string) (ManifestEntry, bool) {
	for _, e := range m.Entries {
		if e.ID == id {
			return e, true
		}
	}
	return ManifestEntry{}, false
}

// upsert replaces or appends an entry.
func (m *Manifest) upsert(e ManifestEntry) {
	for i := range m.Entries {
		if m.Entries[i].ID == e.ID {
			m.Entries[i] = e
			return
		}
	}
	m.Entries = append(m.Entries, e)
}

// remove drops an entry by id.
func (m *Manifest) remove(id string) {
	for i := range m.Entries {
		if m.Entries[i].ID == id {
			m.Entries = append(m.Entries[:i], m.Entries[i+1:]...)
			return
		}
	}
}

// writeManifest atomically rewrites index.json. When the vault is keyed the
// manifest is signed first.
func (v *Vault) writeManifest() error {
	v.manifest.Version = manifestVersion
	v.manifest.UpdatedAt = time.Now().UTC()

	if v.key != nil {
		canonical, err := canonicalEntries(v.manifest.Entries)
		if err != nil {
			return err
		}
		v.manifest.MAC = v.key.SignManifest(canonical)
	} else {
		v.manifest.MAC = ""
	}

	data, err := json.MarshalIndent(v.manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}
	return atomicWrite(filepath.Join(v.dir, manifestName), data)
}

// loadManifest reads index.json, verifying its MAC when the vault is keyed.
// A missing manifest yields an empty one; reconciliation rebuilds it from
// the directory and catalog.
func (v *Vault) loadManifest() error {
	data, err := os.ReadFile(filepath.Join(v.dir, manifestName))
	if err != nil {
		if os.IsNotExist(err) {
			v.manifest = &Manifest{Version: manifestVersion}
			return nil
		}
		return fmt.Errorf("failed to read manifest: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("failed to parse manifest: %w", err)
	}
	if m.Version != manifestVersion {
		return fmt.Errorf("unsupported manifest version %d", m.Version)
	}

	if v.key != nil {
		canonical, err := canonicalEntries(m.Entries)
		if err != nil {
			return err
		}
		if m.MAC == "" || !v.key.VerifyManifest(canonical, m.MAC) {
			return fmt.Errorf("%w: manifest failed authentication", ErrCorrupted)
		}
	}

	v.manifest = &m
	return nil
}

// atomicWrite writes data via a temp file in the same directory, fsyncs,
// and renames over the target.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
