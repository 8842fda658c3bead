// Package metrics provides the vault's counters/gauges registry and the
// event bus that publishes vault activity to subscribers.
package metrics

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Stats is a point-in-time copy of the registry.
type Stats struct {
	Counters map[string]int64   `json:"counters"`
	Gauges   map[string]float64 `json:"gauges"`
	Since    time.Time          `json:"since"`
}

// Registry holds named counters and gauges, optionally persisted to a JSON
// file with debounced auto-save.
type Registry struct {
	mu       sync.Mutex
	counters map[string]int64
	gauges   map[string]float64
	since    time.Time

	filePath      string // empty disables persistence
	flushInterval time.Duration
	dirty         bool
}

// NewRegistry creates a registry. When dir is non-empty the registry is
// persisted to metrics.json inside it; a corrupt or missing file starts the
// registry empty.
func NewRegistry(dir string, flushInterval time.Duration) (*Registry, error) {
	r := &Registry{
		counters:      make(map[string]int64),
		gauges:        make(map[string]float64),
		since:         time.Now().UTC(),
		flushInterval: flushInterval,
	}
	if r.flushInterval <= 0 {
		r.flushInterval = 5 * time.Second
	}

	if dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create metrics dir: %w", err)
		}
		r.filePath = filepath.Join(dir, "metrics.json")
		r.load()
	}
	return r, nil
}

// load reads persisted stats, tolerating a missing or corrupt file.
func (r *Registry) load() {
	data, err := os.ReadFile(r.filePath)
	if err != nil {
		return
	}
	var s Stats
	if err := json.Unmarshal(data, &s); err != nil {
		return
	}
	if s.Counters != nil {
		r.counters = s.Counters
	}
	if s.Gauges != nil {
		r.gauges = s.Gauges
	}
	if !s.Since.IsZero() {
		r.since = s.Since
	}
}

// Inc increments a counter by one.
func (r *Registry) Inc(name string) {
	r.Add(name, 1)
}

// Add increments a counter by delta.
func (r *Registry) Add(name string, delta int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters[name] += delta
	r.markDirtyLocked()
}

// Set sets a gauge value.
func (r *Registry) Set(name string, value float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gauges[name] = value
	r.markDirtyLocked()
}

// StatsSnapshot returns a copy of the current registry contents.
func (r *Registry) StatsSnapshot() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := Stats{
		Counters: make(map[string]int64, len(r.counters)),
		Gauges:   make(map[string]float64, len(r.gauges)),
		Since:    r.since,
	}
	for k, v := range r.counters {
		s.Counters[k] = v
	}
	for k, v := range r.gauges {
		s.Gauges[k] = v
	}
	return s
}

// Save writes the registry to disk immediately.
func (r *Registry) Save() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.saveLocked()
}

func (r *Registry) saveLocked() error {
	if r.filePath == "" {
		return nil
	}
	s := Stats{Counters: r.counters, Gauges: r.gauges, Since: r.since}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metrics: %w", err)
	}
	if err := os.WriteFile(r.filePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write metrics: %w", err)
	}
	r.dirty = false
	return nil
}

// markDirtyLocked schedules a debounced save (must hold mu).
func (r *Registry) markDirtyLocked() {
	if r.filePath == "" || r.dirty {
		return
	}
	r.dirty = true
	time.AfterFunc(r.flushInterval, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.dirty {
			_ = r.saveLocked()
		}
	})
}
