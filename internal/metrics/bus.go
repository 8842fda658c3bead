package metrics

import (
	"reflect"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Category groups bus events by subsystem.
type Category string

const (
	CategorySnapshot    Category = "snapshot"
	CategoryVault       Category = "vault"
	CategoryMaintenance Category = "maintenance"
	CategoryServer      Category = "server"
)

// Event is a single vault event published on the bus.
type Event struct {
	ID        uint64            `json:"id"`
	Category  Category          `json:"category"`
	Kind      string            `json:"kind"` // e.g. snapshot.put, vault.external_change
	Subject   string            `json:"subject,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Bus collects events and dispatches them to subscriber channels. Events
// are batched over a short window to reduce subscriber churn and carry
// monotonic sequence numbers for ordering.
type Bus struct {
	mu          sync.RWMutex
	subscribers []chan<- Event
	enabled     atomic.Bool

	batchWindow time.Duration
	batchLimit  int

	buffer     []Event
	bufferMu   sync.Mutex
	flushTimer *time.Timer

	sequence atomic.Uint64

	categories map[Category]bool // empty means all allowed
}

// NewBus creates an event bus with default batching settings. The bus
// starts enabled.
func NewBus() *Bus {
	b := &Bus{
		batchWindow: 100 * time.Millisecond,
		batchLimit:  16,
		buffer:      make([]Event, 0, 32),
		categories:  make(map[Category]bool),
	}
	b.enabled.Store(true)
	return b
}

// Enable activates the bus.
func (b *Bus) Enable() { b.enabled.Store(true) }

// Disable deactivates the bus and flushes pending events.
func (b *Bus) Disable() {
	b.enabled.Store(false)
	b.Flush()
}

// SetCategories restricts dispatch to the given categories. Empty slice
// allows all.
func (b *Bus) SetCategories(categories []Category) {
	b.mu.Lock()
	b.categories = make(map[Category]bool)
	for _, c := range categories {
		b.categories[c] = true
	}
	b.mu.Unlock()
}

// Subscribe returns a buffered channel receiving events. Slow subscribers
// drop events rather than blocking emitters.
func (b *Bus) Subscribe() <-chan Event {
	ch := make(chan Event, 64)
	b.mu.Lock()
	b.subscribers = append(b.subscribers, ch)
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber channel and closes it.
func (b *Bus) Unsubscribe(ch <-chan Event) {
	if ch == nil {
		return
	}
	target := reflect.ValueOf(ch).Pointer()
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, sub := range b.subscribers {
		if reflect.ValueOf(sub).Pointer() == target {
			b.subscribers = append(b.subscribers[:i], b.subscribers[i+1:]...)
			close(sub)
			break
		}
	}
}

// Emit publishes an event, batched. Safe from any goroutine.
func (b *Bus) Emit(event Event) {
	if !b.enabled.Load() {
		return
	}

	b.mu.RLock()
	if len(b.categories) > 0 && !b.categories[event.Category] {
		b.mu.RUnlock()
		return
	}
	b.mu.RUnlock()

	event.ID = b.sequence.Add(1)
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.bufferMu.Lock()
	b.buffer = append(b.buffer, event)
	if len(b.buffer) >= b.batchLimit {
		b.flushLocked()
	} else if b.flushTimer == nil {
		b.flushTimer = time.AfterFunc(b.batchWindow, func() {
			b.bufferMu.Lock()
			b.flushLocked()
			b.bufferMu.Unlock()
		})
	}
	b.bufferMu.Unlock()
}

// Flush dispatches all buffered events immediately.
func (b *Bus) Flush() {
	b.bufferMu.Lock()
	b.flushLocked()
	b.bufferMu.Unlock()
}

// flushLocked sends buffered events (must hold bufferMu).
func (b *Bus) flushLocked() {
	if len(b.buffer) == 0 {
		return
	}

	if b.flushTimer != nil {
		b.flushTimer.Stop()
		b.flushTimer = nil
	}

	sort.Slice(b.buffer, func(i, j int) bool {
		return b.buffer[i].ID < b.buffer[j].ID
	})

	b.mu.RLock()
	for _, sub := range b.subscribers {
		for _, event := range b.buffer {
			select {
			case sub <- event:
			default: // drop if subscriber is full
			}
		}
	}
	b.mu.RUnlock()

	b.buffer = b.buffer[:0]
}

// Close shuts down the bus and closes all subscriber channels.
func (b *Bus) Close() {
	b.Disable()

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subscribers {
		close(sub)
	}
	b.subscribers = nil
}

// BusStats describes the current bus state.
type BusStats struct {
	Enabled         bool   `json:"enabled"`
	SubscriberCount int    `json:"subscriber_count"`
	BufferedEvents  int    `json:"buffered_events"`
	TotalEmitted    uint64 `json:"total_emitted"`
}

// Stats returns current bus statistics.
func (b *Bus) Stats() BusStats {
	b.mu.RLock()
	b.bufferMu.Lock()
	defer b.bufferMu.Unlock()
	defer b.mu.RUnlock()

	return BusStats{
		Enabled:         b.enabled.Load(),
		SubscriberCount: len(b.subscribers),
		BufferedEvents:  len(b.buffer),
		TotalEmitted:    b.sequence.Load(),
	}
}
