package metrics

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestRegistryCountersAndGauges(t *testing.T) {
	r, err := NewRegistry("", 0)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	r.Inc("snapshot.put")
	r.Inc("snapshot.put")
	r.Add("bytes.written", 1024)
	r.Set("vault.live_bytes", 2048)

	s := r.StatsSnapshot()
	if s.Counters["snapshot.put"] != 2 {
		t.Errorf("snapshot.put = %d, want 2", s.Counters["snapshot.put"])
	}
	if s.Counters["bytes.written"] != 1024 {
		t.Errorf("bytes.written = %d, want 1024", s.Counters["bytes.written"])
	}
	if s.Gauges["vault.live_bytes"] != 2048 {
		t.Errorf("vault.live_bytes = %v, want 2048", s.Gauges["vault.live_bytes"])
	}
	if s.Since.IsZero() {
		t.Error("since not set")
	}
}

func TestStatsSnapshotIsACopy(t *testing.T) {
	r, _ := NewRegistry("", 0)
	r.Inc("a")

	s := r.StatsSnapshot()
	s.Counters["a"] = 999
	s.Gauges["g"] = 1

	if got := r.StatsSnapshot(); got.Counters["a"] != 1 {
		t.Errorf("mutating snapshot leaked into registry: a = %d", got.Counters["a"])
	}
}

func TestRegistryPersistence(t *testing.T) {
	dir := t.TempDir()

	r, err := NewRegistry(dir, time.Hour)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	r.Inc("snapshot.put")
	r.Set("vault.live_bytes", 77)
	if err := r.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	// A fresh registry over the same dir picks up the persisted state.
	r2, err := NewRegistry(dir, time.Hour)
	if err != nil {
		t.Fatalf("NewRegistry reload: %v", err)
	}
	s := r2.StatsSnapshot()
	if s.Counters["snapshot.put"] != 1 {
		t.Errorf("persisted counter = %d, want 1", s.Counters["snapshot.put"])
	}
	if s.Gauges["vault.live_bytes"] != 77 {
		t.Errorf("persisted gauge = %v, want 77", s.Gauges["vault.live_bytes"])
	}
}

func TestRegistryToleratesCorruptFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "metrics.json"), []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}

	r, err := NewRegistry(dir, time.Hour)
	if err != nil {
		t.Fatalf("NewRegistry over corrupt file: %v", err)
	}
	if s := r.StatsSnapshot(); len(s.Counters) != 0 {
		t.Errorf("corrupt file produced counters: %v", s.Counters)
	}
}

func TestRegistryDebouncedFlush(t *testing.T) {
	dir := t.TempDir()
	r, err := NewRegistry(dir, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	r.Inc("snapshot.put")
	path := filepath.Join(dir, "metrics.json")

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := os.Stat(path); err == nil {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("debounced flush never wrote metrics.json")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRegistryWithoutPersistence(t *testing.T) {
	r, _ := NewRegistry("", time.Millisecond)
	r.Inc("a")
	if err := r.Save(); err != nil {
		t.Errorf("Save without persistence: %v", err)
	}
}
