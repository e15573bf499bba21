package scale

import (
	"sync"
	"time"
)

// DiagEntry is one line of the diagnostic frame log: either a raw frame with
// its parse outcome, or an event annotation (port opened, read error, no
// data).
type DiagEntry struct {
	TS         string   `json:"ts"`
	Raw        string   `json:"raw,omitempty"`
	Parsed     bool     `json:"parsed"`
	Grams      *float64 `json:"grams,omitempty"`
	RawCounts  *int64   `json:"raw_counts,omitempty"`
	StableHint *bool    `json:"stable_hint,omitempty"`
	Event      string   `json:"event,omitempty"`
}

// diagLog is a bounded ring of DiagEntry, oldest evicted first.
type diagLog struct {
	mu      sync.Mutex
	entries []DiagEntry
	cap     int
}

func newDiagLog(capacity int) *diagLog {
	if capacity <= 0 {
		capacity = 2000
	}
	return &diagLog{cap: capacity}
}

func (d *diagLog) append(entry DiagEntry) {
	if entry.TS == "" {
		entry.TS = time.Now().Format("2006-01-02T15:04:05.000Z07:00")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries = append(d.entries, entry)
	if len(d.entries) > d.cap {
		d.entries = d.entries[len(d.entries)-d.cap:]
	}
}

// tail returns up to limit newest entries, oldest first. limit is clamped to
// [1, capacity].
func (d *diagLog) tail(limit int) []DiagEntry {
	if limit < 1 {
		limit = 1
	}
	if limit > d.cap {
		limit = d.cap
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	start := len(d.entries) - limit
	if start < 0 {
		start = 0
	}
	out := make([]DiagEntry, len(d.entries)-start)
	copy(out, d.entries[start:])
	return out
}
