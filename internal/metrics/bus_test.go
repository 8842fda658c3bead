package metrics

import (
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func collect(t *testing.T, ch <-chan Event, n int) []Event {
	t.Helper()
	var events []Event
	deadline := time.After(2 * time.Second)
	for len(events) < n {
		select {
		case e, ok := <-ch:
			if !ok {
				t.Fatalf("channel closed after %d events, want %d", len(events), n)
			}
			events = append(events, e)
		case <-deadline:
			t.Fatalf("timed out after %d events, want %d", len(events), n)
		}
	}
	return events
}

func TestEmitAndFlush(t *testing.T) {
	b := NewBus()
	defer b.Close()
	ch := b.Subscribe()

	b.Emit(Event{Category: CategorySnapshot, Kind: "snapshot.put", Subject: "a"})
	b.Emit(Event{Category: CategorySnapshot, Kind: "snapshot.get", Subject: "a"})
	b.Flush()

	events := collect(t, ch, 2)
	if events[0].Kind != "snapshot.put" || events[1].Kind != "snapshot.get" {
		t.Errorf("unexpected order: %v, %v", events[0].Kind, events[1].Kind)
	}
	if events[0].ID >= events[1].ID {
		t.Errorf("sequence not monotonic: %d, %d", events[0].ID, events[1].ID)
	}
	if events[0].Timestamp.IsZero() {
		t.Error("timestamp not assigned")
	}
}

func TestBatchWindowFlushes(t *testing.T) {
	b := NewBus()
	b.batchWindow = 10 * time.Millisecond
	defer b.Close()
	ch := b.Subscribe()

	b.Emit(Event{Category: CategoryVault, Kind: "vault.opened"})

	// No explicit flush: the window timer must deliver it.
	events := collect(t, ch, 1)
	if events[0].Kind != "vault.opened" {
		t.Errorf("got kind %q", events[0].Kind)
	}
}

func TestBatchLimitFlushes(t *testing.T) {
	b := NewBus()
	b.batchWindow = time.Hour // ensure only the limit can trigger delivery
	defer b.Close()
	ch := b.Subscribe()

	for i := 0; i < b.batchLimit; i++ {
		b.Emit(Event{Category: CategorySnapshot, Kind: "snapshot.put"})
	}

	events := collect(t, ch, b.batchLimit)
	for i := 1; i < len(events); i++ {
		if events[i].ID <= events[i-1].ID {
			t.Fatalf("events not ordered by sequence at %d", i)
		}
	}
}

func TestDisabledBusDropsEvents(t *testing.T) {
	b := NewBus()
	defer b.Close()
	b.Disable()

	b.Emit(Event{Category: CategorySnapshot, Kind: "snapshot.put"})
	b.Flush()

	if stats := b.Stats(); stats.TotalEmitted != 0 {
		t.Errorf("disabled bus emitted %d events", stats.TotalEmitted)
	}
}

func TestCategoryFilter(t *testing.T) {
	b := NewBus()
	defer b.Close()
	b.SetCategories([]Category{CategoryServer})
	ch := b.Subscribe()

	b.Emit(Event{Category: CategorySnapshot, Kind: "snapshot.put"})
	b.Emit(Event{Category: CategoryServer, Kind: "server.request"})
	b.Flush()

	events := collect(t, ch, 1)
	if events[0].Category != CategoryServer {
		t.Errorf("got category %q, want server", events[0].Category)
	}
	select {
	case e := <-ch:
		t.Errorf("unexpected extra event: %+v", e)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribe(t *testing.T) {
	b := NewBus()
	defer b.Close()

	ch := b.Subscribe()
	if stats := b.Stats(); stats.SubscriberCount != 1 {
		t.Fatalf("subscriber count = %d, want 1", stats.SubscriberCount)
	}

	b.Unsubscribe(ch)
	if stats := b.Stats(); stats.SubscriberCount != 0 {
		t.Errorf("subscriber count = %d after unsubscribe", stats.SubscriberCount)
	}
	if _, ok := <-ch; ok {
		t.Error("channel not closed on unsubscribe")
	}

	// Unsubscribing again (or nil) must be a no-op.
	b.Unsubscribe(ch)
	b.Unsubscribe(nil)
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	b := NewBus()
	defer b.Close()
	ch := b.Subscribe()

	// Overflow the subscriber buffer; emits must not block.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			b.Emit(Event{Category: CategorySnapshot, Kind: "snapshot.put"})
		}
		b.Flush()
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("emitter blocked on slow subscriber")
	}
	if len(ch) != cap(ch) {
		t.Errorf("subscriber buffer = %d, want full (%d)", len(ch), cap(ch))
	}
}

func TestCloseClosesSubscribers(t *testing.T) {
	b := NewBus()
	ch := b.Subscribe()
	b.Close()

	for {
		if _, ok := <-ch; !ok {
			return
		}
	}
}
