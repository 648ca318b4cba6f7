package daemon

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// SSE event names.
const (
	eventStep   = "step"
	eventQueued = "queued"
	eventError  = "error"
	eventDone   = "done"
)

var errNoFlusher = errors.New("response writer does not support flushing")

var dataEscaper = strings.NewReplacer("\r\n", `\n`, "\n", `\n`, "\r", `\r`)

// sseWriter frames server-sent events. Every event is flushed as soon as it
// is written; the first failed write is sticky.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	err     error
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errNoFlusher
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &sseWriter{w: w, flusher: flusher}, nil
}

// escapeData keeps one event on one data line.
func escapeData(s string) string {
	return dataEscaper.Replace(s)
}

// send writes one named event with a JSON payload.
func (s *sseWriter) send(event string, payload any) error {
	if s.err != nil {
		return s.err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", event, err)
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, escapeData(string(data))); err != nil {
		s.err = err
		return err
	}
	s.flusher.Flush()
	return nil
}

func (s *sseWriter) done() error {
	return s.send(eventDone, struct{}{})
}
