package stream

import "encoding/json"

// EmitFunc receives each framed chunk in generation order. Returning an
// error aborts framing; the framer passes it back unchanged.
type EmitFunc func(Chunk) error

// maxDirectiveBytes bounds how much text the framer withholds while waiting
// for a directive to close. A span growing past the cap is demoted to plain
// text so a missing brace cannot buffer an entire response.
const maxDirectiveBytes = 8 << 10

type frameMode int

const (
	modeText frameMode = iota
	modeDirective
)

// Framer buffers raw provider fragments and emits boundary-safe chunks.
// One Framer serves one request; it is not safe for concurrent use.
type Framer struct {
	emit EmitFunc

	buf  []byte
	mode frameMode

	// Directive scan state, valid in modeDirective. The open directive
	// always starts at buf[0]; scanPos is the next unscanned byte.
	scanPos  int
	depth    int
	inString bool
	escaped  bool

	// skipOpener disables opener detection within buf[:skipOpener] after a
	// demotion, so a demoted "@{" is not scanned again.
	skipOpener int

	emitted bool
}

// NewFramer creates a framer that delivers chunks through emit.
func NewFramer(emit EmitFunc) *Framer {
	return &Framer{emit: emit}
}

// Emitted reports whether any chunk has been emitted. It survives Reset:
// once bytes have reached the sink the response can no longer be restarted.
func (f *Framer) Emitted() bool {
	return f.emitted
}

// Reset discards buffered, never-emitted content and all scan state. The
// engine uses it to drop stray fragments from a reply that turned out to be
// a tool request.
func (f *Framer) Reset() {
	f.buf = f.buf[:0]
	f.mode = modeText
	f.scanPos, f.depth = 0, 0
	f.inString, f.escaped = false, false
	f.skipOpener = 0
}

// Checkpoint is a snapshot of buffered framer state, taken before a provider
// attempt so a failure that emitted nothing can be rolled back and retried.
type Checkpoint struct {
	buf        []byte
	mode       frameMode
	scanPos    int
	depth      int
	inString   bool
	escaped    bool
	skipOpener int
}

// Checkpoint captures the buffered, not-yet-emitted state.
func (f *Framer) Checkpoint() Checkpoint {
	return Checkpoint{
		buf:        append([]byte(nil), f.buf...),
		mode:       f.mode,
		scanPos:    f.scanPos,
		depth:      f.depth,
		inString:   f.inString,
		escaped:    f.escaped,
		skipOpener: f.skipOpener,
	}
}

// Restore rewinds to a checkpoint taken earlier in the same response. Valid
// only while no chunk has been emitted since the checkpoint; emitted bytes
// cannot be recalled.
func (f *Framer) Restore(cp Checkpoint) {
	f.buf = append(f.buf[:0], cp.buf...)
	f.mode = cp.mode
	f.scanPos = cp.scanPos
	f.depth = cp.depth
	f.inString = cp.inString
	f.escaped = cp.escaped
	f.skipOpener = cp.skipOpener
}

// Push appends one raw fragment and emits every chunk that became safe.
func (f *Framer) Push(fragment string) error {
	if fragment == "" {
		return nil
	}
	f.buf = append(f.buf, fragment...)
	return f.drain(false)
}

// Flush emits all remaining buffered content. The stream end is itself a
// safe boundary, so the final chunk may end mid-word; an unclosed directive
// is demoted to plain text. Flush must be called exactly once, after the
// last Push and before the transport's terminal signal.
func (f *Framer) Flush() error {
	return f.drain(true)
}

func (f *Framer) drain(final bool) error {
	for {
		if f.mode == modeDirective {
			closed, err := f.scanDirective()
			if err != nil {
				return err
			}
			if closed {
				continue
			}
			if final || len(f.buf) > maxDirectiveBytes {
				f.demote()
				continue
			}
			return nil
		}

		if opener := f.findOpener(); opener >= 0 {
			if opener > 0 {
				if err := f.emitText(opener); err != nil {
					return err
				}
			}
			f.openDirective()
			continue
		}

		if final {
			if len(f.buf) == 0 {
				return nil
			}
			c := Chunk{Text: string(f.buf), IsBoundary: true}
			f.buf = f.buf[:0]
			f.skipOpener = 0
			return f.emitChunk(c)
		}

		// Hold a trailing "@": the next fragment may complete an opener.
		limit := len(f.buf)
		if limit > 0 && f.buf[limit-1] == '@' {
			limit--
		}
		if cut := lastIndexSpace(f.buf[:limit]); cut >= 0 {
			return f.emitText(cut + 1)
		}
		return nil
	}
}

// findOpener returns the index of the first "@{" at or after skipOpener,
// or -1. A lone "@" at the end of the buffer is not an opener yet.
func (f *Framer) findOpener() int {
	for i := f.skipOpener; i+1 < len(f.buf); i++ {
		if f.buf[i] == '@' && f.buf[i+1] == '{' {
			return i
		}
	}
	return -1
}

// openDirective enters directive mode. The caller has arranged for the
// opener to sit at buf[0], so "@{" is consumed up front.
func (f *Framer) openDirective() {
	f.mode = modeDirective
	f.scanPos = 2
	f.depth = 1
	f.inString = false
	f.escaped = false
}

// scanDirective advances through the buffered directive, honoring JSON
// string literals and escapes. It reports whether the directive closed.
func (f *Framer) scanDirective() (bool, error) {
	for f.scanPos < len(f.buf) {
		b := f.buf[f.scanPos]
		f.scanPos++

		if f.inString {
			switch {
			case f.escaped:
				f.escaped = false
			case b == '\\':
				f.escaped = true
			case b == '"':
				f.inString = false
			}
			continue
		}

		switch b {
		case '"':
			f.inString = true
		case '{':
			f.depth++
		case '}':
			f.depth--
			if f.depth == 0 {
				return true, f.closeDirective()
			}
		}
	}
	return false, nil
}

// closeDirective emits the completed directive as a single chunk. Balanced
// spans that fail JSON validation are emitted as plain text instead.
func (f *Framer) closeDirective() error {
	raw := string(f.buf[:f.scanPos])
	f.buf = append(f.buf[:0], f.buf[f.scanPos:]...)
	f.mode = modeText
	f.scanPos, f.depth = 0, 0
	f.skipOpener = 0

	c := Chunk{Text: raw, IsBoundary: true}
	if payload := raw[1:]; json.Valid([]byte(payload)) {
		c.Directive = json.RawMessage(payload)
	} else {
		c.IsBoundary = false
	}
	return f.emitChunk(c)
}

// demote reclassifies an unfinished directive as plain text. Opener
// detection is disabled over the already-buffered bytes; text emission
// rules apply to them from here on.
func (f *Framer) demote() {
	f.mode = modeText
	f.skipOpener = len(f.buf)
	f.scanPos, f.depth = 0, 0
	f.inString, f.escaped = false, false
}

// emitText emits buf[:n] as a text chunk and trims the buffer.
func (f *Framer) emitText(n int) error {
	c := Chunk{Text: string(f.buf[:n]), IsBoundary: isSpace(f.buf[n-1])}
	f.buf = append(f.buf[:0], f.buf[n:]...)
	if f.skipOpener > n {
		f.skipOpener -= n
	} else {
		f.skipOpener = 0
	}
	return f.emitChunk(c)
}

func (f *Framer) emitChunk(c Chunk) error {
	f.emitted = true
	return f.emit(c)
}

func lastIndexSpace(b []byte) int {
	for i := len(b) - 1; i >= 0; i-- {
		if isSpace(b[i]) {
			return i
		}
	}
	return -1
}

// isSpace matches ASCII whitespace. Multi-byte runes never contain these
// bytes, so cutting right after one can never split a rune.
func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}
