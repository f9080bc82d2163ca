package stream

import (
	"sync"
	"time"
)

// History is the in-memory measurement log plus the latest slot. The Supervisor is
// its only writer; readers get copies.
type History struct {
	mu    sync.RWMutex
	items []Measurement
	limit int
}

// NewHistory keeps at most limit measurements, dropping the oldest. Zero or less
// means unbounded.
func NewHistory(limit int) *History {
	if limit < 0 {
		limit = 0
	}
	return &History{limit: limit}
}

// Push appends a measurement taken at at. Timestamps never go backwards: an
// earlier at is raised to the previous timestamp.
func (h *History) Push(valueMeters float64, at time.Time) Measurement {
	h.mu.Lock()
	defer h.mu.Unlock()

	if n := len(h.items); n > 0 && at.Before(h.items[n-1].Timestamp) {
		at = h.items[n-1].Timestamp
	}
	m := Measurement{Timestamp: at, ValueMeters: valueMeters}
	h.items = append(h.items, m)
	if h.limit > 0 && len(h.items) > h.limit {
		// shift in place so the backing array does not grow without bound
		drop := len(h.items) - h.limit
		copy(h.items, h.items[drop:])
		h.items = h.items[:h.limit]
	}
	return m
}

func (h *History) Latest() (Measurement, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.items) == 0 {
		return Measurement{}, false
	}
	return h.items[len(h.items)-1], true
}

func (h *History) Snapshot() []Measurement {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Measurement, len(h.items))
	copy(out, h.items)
	return out
}

func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.items)
}
