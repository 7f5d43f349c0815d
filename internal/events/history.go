package events

import (
	"sync"

	"github.com/questline/questline-bot/internal/domain"
)

// history is a bounded ring of recently published events, retained for
// diagnostics and for idempotent replay by slow subscribers.
type history struct {
	mu    sync.Mutex
	ring  []domain.Event
	next  int
	count int
}

func newHistory(capacity int) *history {
	return &history{ring: make([]domain.Event, capacity)}
}

func (h *history) append(evts ...domain.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, e := range evts {
		h.ring[h.next] = e
		h.next = (h.next + 1) % len(h.ring)
		if h.count < len(h.ring) {
			h.count++
		}
	}
}

// snapshot returns up to limit retained events in publish order, newest last.
func (h *history) snapshot(limit int) []domain.Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	if limit <= 0 || limit > h.count {
		limit = h.count
	}

	out := make([]domain.Event, 0, limit)
	start := h.next - limit
	if start < 0 {
		start += len(h.ring)
	}

	for i := 0; i < limit; i++ {
		out = append(out, h.ring[(start+i)%len(h.ring)])
	}

	return out
}
