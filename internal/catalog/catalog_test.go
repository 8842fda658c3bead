package catalog

import (
	"path/filepath"
	"testing"
	"time"
)

func openTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatalf("failed to open catalog: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func testEntry(id string, size int64) Entry {
	now := time.Now().UTC()
	return Entry{
		ID:        id,
		Size:      size,
		Checksum:  "deadbeef",
		Revision:  1,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestOpenCreatesSchema(t *testing.T) {
	c := openTestCatalog(t)

	stats, err := c.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	for _, table := range []string{"snapshots", "archive", "access_log"} {
		if _, ok := stats[table]; !ok {
			t.Errorf("stats missing table %s", table)
		}
	}
}

func TestRecordGetRoundTrip(t *testing.T) {
	c := openTestCatalog(t)

	e := testEntry("snap-a", 123)
	e.Compressed = true
	e.Sealed = true
	if err := c.Record(e); err != nil {
		t.Fatalf("Record: %v", err)
	}

	got, ok, err := c.Get("snap-a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatal("entry not found after Record")
	}
	if got.Size != 123 || !got.Compressed || !got.Sealed || got.Revision != 1 {
		t.Errorf("unexpected entry: %+v", got)
	}

	// Upsert with a new revision
	e.Revision = 2
	e.Size = 456
	if err := c.Record(e); err != nil {
		t.Fatalf("Record upsert: %v", err)
	}
	got, _, _ = c.Get("snap-a")
	if got.Revision != 2 || got.Size != 456 {
		t.Errorf("upsert not applied: %+v", got)
	}

	_, ok, err = c.Get("missing")
	if err != nil || ok {
		t.Errorf("Get(missing) = ok=%v err=%v, want not found", ok, err)
	}
}

func TestTouchIncrementsAccess(t *testing.T) {
	c := openTestCatalog(t)
	if err := c.Record(testEntry("snap-a", 1)); err != nil {
		t.Fatalf("Record: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := c.Touch("snap-a", "get"); err != nil {
			t.Fatalf("Touch: %v", err)
		}
	}

	got, _, _ := c.Get("snap-a")
	if got.AccessCount != 3 {
		t.Errorf("access count = %d, want 3", got.AccessCount)
	}

	stats, _ := c.Stats()
	if stats["access_log"] != 3 {
		t.Errorf("access_log rows = %d, want 3", stats["access_log"])
	}
}

func TestRecordRefreshesLastAccessed(t *testing.T) {
	c := openTestCatalog(t)

	e := testEntry("a", 1)
	if err := c.Record(e); err != nil {
		t.Fatalf("Record: %v", err)
	}

	// Age the row, then overwrite it.
	aged := time.Now().UTC().Add(-24 * time.Hour)
	if _, err := c.db.Exec("UPDATE snapshots SET last_accessed = ? WHERE id = ?", aged, "a"); err != nil {
		t.Fatal(err)
	}
	e.Revision = 2
	e.UpdatedAt = time.Now().UTC()
	if err := c.Record(e); err != nil {
		t.Fatalf("Record upsert: %v", err)
	}

	got, _, _ := c.Get("a")
	if !got.LastAccessed.After(aged.Add(time.Hour)) {
		t.Errorf("last_accessed = %v, not refreshed by overwrite", got.LastAccessed)
	}
}

func TestGetAndRemoveArchived(t *testing.T) {
	c := openTestCatalog(t)

	if _, ok, err := c.GetArchived("missing"); err != nil || ok {
		t.Fatalf("GetArchived(missing) = ok=%v err=%v", ok, err)
	}

	c.Record(testEntry("a", 42))
	c.Archive("a", []byte("blob"))

	arch, ok, err := c.GetArchived("a")
	if err != nil || !ok {
		t.Fatalf("GetArchived = ok=%v err=%v", ok, err)
	}
	if arch.Revision != 1 || arch.Size != 42 {
		t.Errorf("archived entry = %+v", arch)
	}

	if err := c.RemoveArchived("a"); err != nil {
		t.Fatalf("RemoveArchived: %v", err)
	}
	if archived, _ := c.IsArchived("a"); archived {
		t.Error("archive row survived RemoveArchived")
	}

	// Removing an absent row is a no-op.
	if err := c.RemoveArchived("a"); err != nil {
		t.Errorf("RemoveArchived twice: %v", err)
	}
}

func TestLiveBytes(t *testing.T) {
	c := openTestCatalog(t)

	total, err := c.LiveBytes()
	if err != nil || total != 0 {
		t.Fatalf("empty catalog LiveBytes = %d, %v", total, err)
	}

	c.Record(testEntry("a", 100))
	c.Record(testEntry("b", 250))

	total, err = c.LiveBytes()
	if err != nil {
		t.Fatalf("LiveBytes: %v", err)
	}
	if total != 350 {
		t.Errorf("LiveBytes = %d, want 350", total)
	}
}

func TestRestorePoint(t *testing.T) {
	c := openTestCatalog(t)

	_, ok, err := c.RestorePoint()
	if err != nil || ok {
		t.Fatalf("unset restore point: ok=%v err=%v", ok, err)
	}

	if err := c.SetRestorePoint("snap-a"); err != nil {
		t.Fatalf("SetRestorePoint: %v", err)
	}
	id, ok, _ := c.RestorePoint()
	if !ok || id != "snap-a" {
		t.Errorf("restore point = %q ok=%v, want snap-a", id, ok)
	}

	// Replacing the slot
	c.SetRestorePoint("snap-b")
	id, _, _ = c.RestorePoint()
	if id != "snap-b" {
		t.Errorf("restore point = %q, want snap-b", id)
	}
}

func TestArchiveRehydrate(t *testing.T) {
	c := openTestCatalog(t)
	c.Record(testEntry("snap-a", 42))

	blob := []byte("stored-file-bytes")
	if err := c.Archive("snap-a", blob); err != nil {
		t.Fatalf("Archive: %v", err)
	}

	if _, ok, _ := c.Get("snap-a"); ok {
		t.Error("archived snapshot still live")
	}
	archived, err := c.IsArchived("snap-a")
	if err != nil || !archived {
		t.Fatalf("IsArchived = %v, %v", archived, err)
	}

	entry, gotBlob, err := c.Rehydrate("snap-a")
	if err != nil {
		t.Fatalf("Rehydrate: %v", err)
	}
	if string(gotBlob) != string(blob) {
		t.Errorf("rehydrated blob = %q, want %q", gotBlob, blob)
	}
	if entry.Size != 42 {
		t.Errorf("rehydrated entry size = %d, want 42", entry.Size)
	}

	if _, ok, _ := c.Get("snap-a"); !ok {
		t.Error("rehydrated snapshot not live")
	}
	if archived, _ := c.IsArchived("snap-a"); archived {
		t.Error("rehydrated snapshot still archived")
	}
}

func TestArchiveUnknownID(t *testing.T) {
	c := openTestCatalog(t)
	if err := c.Archive("missing", nil); err == nil {
		t.Error("archiving unknown id should fail")
	}
	if _, _, err := c.Rehydrate("missing"); err == nil {
		t.Error("rehydrating unknown id should fail")
	}
}

func TestArchiveCandidates(t *testing.T) {
	c := openTestCatalog(t)

	old := time.Now().UTC().Add(-24 * time.Hour)
	for _, id := range []string{"a", "b", "c"} {
		e := testEntry(id, 100)
		e.CreatedAt = old
		e.UpdatedAt = old
		if err := c.Record(e); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	// Fix distinct last_accessed times: a oldest, c newest.
	for i, id := range []string{"a", "b", "c"} {
		at := old.Add(time.Duration(i) * time.Hour)
		if _, err := c.db.Exec("UPDATE snapshots SET last_accessed = ? WHERE id = ?", at, id); err != nil {
			t.Fatalf("failed to fix last_accessed: %v", err)
		}
	}

	t.Run("under budget returns nothing", func(t *testing.T) {
		cands, err := c.ArchiveCandidates(1000, time.Minute)
		if err != nil {
			t.Fatalf("ArchiveCandidates: %v", err)
		}
		if len(cands) != 0 {
			t.Errorf("got %d candidates, want 0", len(cands))
		}
	})

	t.Run("LRU order until under budget", func(t *testing.T) {
		// live = 300, budget 150: must free 150 -> evict a (oldest) and b
		cands, err := c.ArchiveCandidates(150, time.Minute)
		if err != nil {
			t.Fatalf("ArchiveCandidates: %v", err)
		}
		if len(cands) != 2 || cands[0].ID != "a" || cands[1].ID != "b" {
			t.Fatalf("candidates = %+v, want [a b]", cands)
		}
	})

	t.Run("restore point exempt", func(t *testing.T) {
		if err := c.SetRestorePoint("a"); err != nil {
			t.Fatalf("SetRestorePoint: %v", err)
		}
		cands, err := c.ArchiveCandidates(150, time.Minute)
		if err != nil {
			t.Fatalf("ArchiveCandidates: %v", err)
		}
		for _, cand := range cands {
			if cand.ID == "a" {
				t.Error("restore point offered as eviction candidate")
			}
		}
	})

	t.Run("young snapshots exempt", func(t *testing.T) {
		cands, err := c.ArchiveCandidates(150, 48*time.Hour)
		if err != nil {
			t.Fatalf("ArchiveCandidates: %v", err)
		}
		if len(cands) != 0 {
			t.Errorf("young snapshots offered for eviction: %+v", cands)
		}
	})

	t.Run("zero budget disables eviction", func(t *testing.T) {
		cands, err := c.ArchiveCandidates(0, time.Minute)
		if err != nil || len(cands) != 0 {
			t.Errorf("zero budget: cands=%v err=%v", cands, err)
		}
	})
}

func TestPurgeArchived(t *testing.T) {
	c := openTestCatalog(t)
	c.Record(testEntry("old", 10))
	c.Record(testEntry("new", 10))
	c.Archive("old", []byte("x"))
	c.Archive("new", []byte("y"))

	// Age one archive row artificially
	aged := time.Now().UTC().Add(-100 * 24 * time.Hour)
	if _, err := c.db.Exec("UPDATE archive SET archived_at = ? WHERE id = ?", aged, "old"); err != nil {
		t.Fatalf("failed to age archive row: %v", err)
	}

	n, err := c.PurgeArchived(30 * 24 * time.Hour)
	if err != nil {
		t.Fatalf("PurgeArchived: %v", err)
	}
	if n != 1 {
		t.Errorf("purged %d rows, want 1", n)
	}
	if archived, _ := c.IsArchived("new"); !archived {
		t.Error("recent archive row was purged")
	}

	if _, err := c.PurgeArchived(0); err == nil {
		t.Error("zero retention should be rejected")
	}
}

func TestMaintenance(t *testing.T) {
	c := openTestCatalog(t)
	c.Record(testEntry("a", 10))
	c.Archive("a", []byte("x"))
	aged := time.Now().UTC().Add(-100 * 24 * time.Hour)
	c.db.Exec("UPDATE archive SET archived_at = ? WHERE id = ?", aged, "a")

	stats, err := c.Maintenance(MaintenanceConfig{
		PurgeArchivedAfter: 30 * 24 * time.Hour,
		PruneAccessLogDays: 30,
		Vacuum:             true,
	})
	if err != nil {
		t.Fatalf("Maintenance: %v", err)
	}
	if stats.ArchivedPurged != 1 {
		t.Errorf("ArchivedPurged = %d, want 1", stats.ArchivedPurged)
	}
	if !stats.Vacuumed {
		t.Error("expected vacuum to run")
	}
}
