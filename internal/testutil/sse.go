package testutil

import (
	"bufio"
	"strings"
	"testing"
)

// SSEEvent is one event decoded from a text/event-stream body.
type SSEEvent struct {
	Type string
	Data string
}

// ParseSSEEvents decodes a complete SSE response body into events. It fails
// the test on anything the stream writer should never produce: an unknown
// field, an event opened before the previous one was terminated, or a stream
// that ends without a blank line.
//
// Field handling follows the event-stream format: multiple data fields join
// with a newline, a data field without a preceding event field yields the
// "message" type, lines starting with ":" are comments.
func ParseSSEEvents(t *testing.T, body string) []SSEEvent {
	t.Helper()

	var (
		events []SSEEvent
		ev     SSEEvent
		data   []string
	)

	flush := func() {
		if ev.Type == "" {
			return
		}
		ev.Data = strings.Join(data, "\n")
		events = append(events, ev)
		ev, data = SSEEvent{}, nil
	}

	scanner := bufio.NewScanner(strings.NewReader(body))
	line := 0
	for scanner.Scan() {
		line++
		text := scanner.Text()

		if text == "" {
			flush()
			continue
		}
		if strings.HasPrefix(text, ":") {
			continue
		}

		field, value, ok := strings.Cut(text, ":")
		if !ok {
			t.Fatalf("sse line %d: no field separator in %q", line, text)
		}
		value = strings.TrimPrefix(value, " ")

		switch field {
		case "event":
			if ev.Type != "" {
				t.Fatalf("sse line %d: event %q opened before %q was terminated", line, value, ev.Type)
			}
			ev.Type = value
		case "data":
			if ev.Type == "" {
				ev.Type = "message"
			}
			data = append(data, value)
		default:
			t.Fatalf("sse line %d: unexpected field %q", line, field)
		}
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scanning sse body: %v", err)
	}

	if ev.Type != "" {
		t.Fatalf("sse stream ended inside event %q, missing blank line", ev.Type)
	}
	return events
}

// FindEvent returns the first event of the given type, or nil.
func FindEvent(events []SSEEvent, eventType string) *SSEEvent {
	for i := range events {
		if events[i].Type == eventType {
			return &events[i]
		}
	}
	return nil
}

// FindAllEvents returns every event of the given type in stream order.
func FindAllEvents(events []SSEEvent, eventType string) []SSEEvent {
	var out []SSEEvent
	for _, e := range events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}
