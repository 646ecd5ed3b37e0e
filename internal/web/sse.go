// Package web streams tracker events to browsers as Server-Sent Events.
package web

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/kamilpajak/opsdiag/internal/tracker"
)

// SSEEmitter implements tracker.Emitter by writing Server-Sent Events.
type SSEEmitter struct {
	mu      sync.Mutex
	w       io.Writer
	flusher http.Flusher
}

// NewSSEEmitter creates an SSEEmitter for the given ResponseWriter.
// Returns nil if the writer does not support flushing.
func NewSSEEmitter(w http.ResponseWriter) *SSEEmitter {
	f, ok := w.(http.Flusher)
	if !ok {
		return nil
	}
	return &SSEEmitter{w: w, flusher: f}
}

// SetHeaders sets the headers of an event stream response.
func SetHeaders(h http.Header) {
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}

// Emit writes an event as an SSE data line and flushes.
func (e *SSEEmitter) Emit(ev tracker.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	fmt.Fprintf(e.w, "data: %s\n\n", data)
	e.flusher.Flush()
}

// KeepAlive writes an SSE comment so idle proxies keep the stream open.
func (e *SSEEmitter) KeepAlive() {
	e.mu.Lock()
	defer e.mu.Unlock()
	fmt.Fprint(e.w, ": keepalive\n\n")
	e.flusher.Flush()
}
