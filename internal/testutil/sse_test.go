package testutil

import (
	"testing"
)

func TestParseSSEEvents(t *testing.T) {
	body := "event: chunk\ndata: Hello\n\nevent: done\ndata: Final\n\n"

	events := ParseSSEEvents(t, body)
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].Type != "chunk" || events[0].Data != "Hello" {
		t.Errorf("first event = %+v, want chunk/Hello", events[0])
	}
	if events[1].Type != "done" || events[1].Data != "Final" {
		t.Errorf("second event = %+v, want done/Final", events[1])
	}
}

func TestParseSSEEventsMultilineData(t *testing.T) {
	body := "event: chunk\ndata: Line1\ndata: Line2\ndata: Line3\n\n"

	events := ParseSSEEvents(t, body)
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if want := "Line1\nLine2\nLine3"; events[0].Data != want {
		t.Errorf("data = %q, want %q", events[0].Data, want)
	}
}

func TestParseSSEEventsDataBeforeEvent(t *testing.T) {
	// A data field with no event field yields the default "message" type.
	events := ParseSSEEvents(t, "data: hello\n\n")
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if events[0].Type != "message" {
		t.Errorf("type = %q, want message", events[0].Type)
	}
}

func TestParseSSEEventsComments(t *testing.T) {
	events := ParseSSEEvents(t, "event: chunk\n: keepalive\ndata: Hello\n\n")
	if len(events) != 1 || events[0].Data != "Hello" {
		t.Fatalf("events = %+v, want one chunk/Hello", events)
	}
}

func TestParseSSEEventsColonsInData(t *testing.T) {
	// Chunk payloads are JSON, so the data value itself is full of colons
	// and quotes. Only the first colon on the line separates the field.
	payload := `{"text":"a: b","is_boundary":true}`
	events := ParseSSEEvents(t, "event: chunk\ndata: "+payload+"\n\n")
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if events[0].Data != payload {
		t.Errorf("data = %q, want %q", events[0].Data, payload)
	}
}

func TestParseSSEEventsNoSpaceAfterColon(t *testing.T) {
	// The format permits omitting the space after the colon.
	events := ParseSSEEvents(t, "event:chunk\ndata:Hello\n\n")
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if events[0].Type != "chunk" || events[0].Data != "Hello" {
		t.Errorf("event = %+v, want chunk/Hello", events[0])
	}
}

func TestFindEvent(t *testing.T) {
	events := []SSEEvent{
		{Type: "chunk", Data: "one"},
		{Type: "chunk", Data: "two"},
		{Type: "done", Data: "final"},
	}

	if found := FindEvent(events, "done"); found == nil || found.Data != "final" {
		t.Errorf("FindEvent(done) = %v, want final", found)
	}
	if found := FindEvent(events, "error"); found != nil {
		t.Errorf("FindEvent(error) = %v, want nil", found)
	}
}

func TestFindAllEvents(t *testing.T) {
	events := []SSEEvent{
		{Type: "chunk", Data: "one"},
		{Type: "chunk", Data: "two"},
		{Type: "done", Data: "final"},
	}

	if got := len(FindAllEvents(events, "chunk")); got != 2 {
		t.Errorf("FindAllEvents(chunk) = %d events, want 2", got)
	}
	if got := len(FindAllEvents(events, "error")); got != 0 {
		t.Errorf("FindAllEvents(error) = %d events, want 0", got)
	}
}
