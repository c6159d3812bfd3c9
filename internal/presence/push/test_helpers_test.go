package push

import (
	"sync"
	"testing"
	"time"
)

func mustEvent(t *testing.T, ch <-chan *Event, kind EventKind) *Event {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case ev := <-ch:
			if ev == nil {
				continue
			}
			if ev.Kind != kind {
				t.Fatalf("expected event kind %v, got %v (%+v)", kind, ev.Kind, ev)
			}
			return ev
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
	t.Fatalf("expected event kind %v not received", kind)
	return nil
}

func mustNoEvent(t *testing.T, ch <-chan *Event) {
	t.Helper()

	select {
	case ev, ok := <-ch:
		if ok {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-time.After(50 * time.Millisecond):
	}
}

// countingMetrics records broadcast calls for assertions.
type countingMetrics struct {
	mu         sync.Mutex
	broadcasts map[string]int
	dropped    int
	open       int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{broadcasts: make(map[string]int)}
}

func (c *countingMetrics) ConnectionOpened() {
	c.mu.Lock()
	c.open++
	c.mu.Unlock()
}

func (c *countingMetrics) ConnectionClosed() {
	c.mu.Lock()
	c.open--
	c.mu.Unlock()
}

func (c *countingMetrics) Identified() {}

func (c *countingMetrics) Broadcast(kind string, _ int) {
	c.mu.Lock()
	c.broadcasts[kind]++
	c.mu.Unlock()
}

func (c *countingMetrics) EventDropped() {
	c.mu.Lock()
	c.dropped++
	c.mu.Unlock()
}

func (c *countingMetrics) Heartbeat(string) {}

func (c *countingMetrics) RosterSize(string, int) {}

func (c *countingMetrics) totalBroadcasts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := 0
	for _, n := range c.broadcasts {
		total += n
	}
	return total
}

func (c *countingMetrics) openConns() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}
