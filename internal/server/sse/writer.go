// Package sse provides Server-Sent Events utilities for streaming chat
// responses. Payloads are JSON; event names distinguish framed chunks from
// the terminal signal and errors.
package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Event names on the chat stream. A response is any number of chunk events
// followed by exactly one done event, or an error event.
const (
	EventChunk = "chunk"
	EventDone  = "done"
	EventError = "error"
)

// Writer wraps an http.ResponseWriter for SSE streaming.
type Writer struct {
	w       io.Writer
	flusher http.Flusher
}

// NewWriter creates an SSE writer and sets the response headers. The
// ResponseWriter must support flushing; buffered transports cannot stream.
func NewWriter(w http.ResponseWriter) (*Writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support flusher interface")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // disable nginx buffering

	return &Writer{w: w, flusher: flusher}, nil
}

// WriteEvent sends one named event with a JSON-encoded payload, honoring
// context cancellation. Each write flushes so the client sees the event
// immediately.
func (w *Writer) WriteEvent(ctx context.Context, event string, payload any) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("context canceled: %w", ctx.Err())
	default:
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", event, err)
	}
	return w.writeData(event, string(data))
}

// WriteError sends an error event. It takes no context so a failure can be
// reported even after the request context is done.
func (w *Writer) WriteError(code, message string) error {
	data, err := json.Marshal(map[string]string{"code": code, "message": message})
	if err != nil {
		return fmt.Errorf("marshal error payload: %w", err)
	}
	return w.writeData(EventError, string(data))
}

// writeData writes one event in wire format. The SSE spec requires every
// line of a multi-line payload to carry its own "data: " prefix; a JSON
// payload is a single line, but embedded newlines from pretty-printed
// clients are handled anyway.
func (w *Writer) writeData(event, content string) error {
	if _, err := fmt.Fprintf(w.w, "event: %s\n", event); err != nil {
		return fmt.Errorf("write event name: %w", err)
	}

	for line := range strings.SplitSeq(content, "\n") {
		if _, err := fmt.Fprintf(w.w, "data: %s\n", line); err != nil {
			return fmt.Errorf("write data line: %w", err)
		}
	}

	// Blank line terminates the event.
	if _, err := io.WriteString(w.w, "\n"); err != nil {
		return fmt.Errorf("write terminator: %w", err)
	}

	w.flusher.Flush()
	return nil
}
