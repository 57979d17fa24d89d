// Package stream implements the chunk framing protocol between the chat
// engine and a transport.
//
// Providers deliver text in arbitrary fragments with no alignment to word
// boundaries. The Framer buffers fragments and re-emits them as Chunks that
// never split a word or an inline directive, so a client can render each
// chunk as it arrives. Concatenating Chunk.Text over one response reproduces
// the provider text byte for byte.
//
// # Inline directives
//
// A directive is a JSON object embedded in the text, opened by "@{" and
// closed when the braces balance (string literals and escapes are honored):
//
//	The forecast is ready. @{"kind":"citation","doc":"kb-17"} More text.
//
// A directive is always delivered as a single chunk whose Directive field
// holds the JSON object and whose Text field holds the raw bytes including
// the "@" marker. Balanced spans that are not valid JSON are demoted to
// plain text, as is a directive still open when the stream ends or one that
// exceeds the size cap.
//
// The Framer is a synchronous transform owned by one request; it needs no
// locking. The terminal signal is the transport Sink's Done call, issued by
// the engine only after the assistant turn is persisted.
package stream
