package observability

import (
	"sync"
	"time"
)

// DefaultTraceLogSize is the number of request records kept.
const DefaultTraceLogSize = 500

// RequestRecord is one completed request in the trace log.
type RequestRecord struct {
	ID         string    `json:"id"`
	Method     string    `json:"method"`
	Path       string    `json:"path"`
	Status     int       `json:"status"`
	DurationMS int64     `json:"duration_ms"`
	RunID      string    `json:"run_id,omitempty"`
	TraceID    string    `json:"trace_id,omitempty"`
	At         time.Time `json:"at"`
}

// TraceLog is a fixed-size ring of recent requests.
type TraceLog struct {
	mu    sync.Mutex
	buf   []RequestRecord
	next  int
	count int
}

// NewTraceLog creates a ring holding size records.
func NewTraceLog(size int) *TraceLog {
	if size <= 0 {
		size = DefaultTraceLogSize
	}
	return &TraceLog{buf: make([]RequestRecord, size)}
}

// Add appends a record, overwriting the oldest when full.
func (l *TraceLog) Add(r RequestRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buf[l.next] = r
	l.next = (l.next + 1) % len(l.buf)
	if l.count < len(l.buf) {
		l.count++
	}
}

// Recent returns up to limit records, newest first. A non-positive limit
// returns everything held.
func (l *TraceLog) Recent(limit int) []RequestRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	if limit <= 0 || limit > l.count {
		limit = l.count
	}
	out := make([]RequestRecord, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (l.next - i + len(l.buf)) % len(l.buf)
		out = append(out, l.buf[idx])
	}
	return out
}

// Len returns the number of records held.
func (l *TraceLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

// Clear drops all records.
func (l *TraceLog) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.next, l.count = 0, 0
	clear(l.buf)
}
