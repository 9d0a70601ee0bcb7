package shadow

import (
	"bytes"
	"fmt"
)

// DefaultMaxDocumentBytes is used when NewAssembler is given a non-positive limit.
const DefaultMaxDocumentBytes = 64 << 10

// Assembler reassembles fragmented inbound messages into complete documents.
//
// Each topic owns one append-only buffer. A buffer only ever holds raw text
// awaiting completion; it is emptied as soon as a document is handed out.
type Assembler struct {
	buffers  map[string]*bytes.Buffer
	maxBytes int
}

// NewAssembler creates an Assembler that discards any stream growing past
// maxBytes without completing.
func NewAssembler(maxBytes int) *Assembler {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxDocumentBytes
	}
	return &Assembler{
		buffers:  make(map[string]*bytes.Buffer),
		maxBytes: maxBytes,
	}
}

// Append adds a fragment to the topic's buffer.
//
// The buffer is complete when its whitespace-trimmed content begins with '{'
// and ends with '}'. On completion the full buffer is returned and the buffer
// reset; otherwise (nil, false, nil) is returned and the buffer retained.
//
// The check can be satisfied early: by a brace inside a string value, or by a
// nested document split right after an inner '}'. Append does not detect
// that. It does resynchronise afterwards: a buffer whose content does not
// begin with '{' can never complete, so it is dropped with ErrStrayData
// instead of swallowing every later document on the topic.
//
// Returns:
//   - doc: The complete document (a copy), or nil
//   - complete: Whether doc is a complete document
//   - error: ErrStrayData or ErrBufferOverflow (buffer dropped in both cases)
func (a *Assembler) Append(topic string, fragment []byte) ([]byte, bool, error) {
	buf, ok := a.buffers[topic]
	if !ok {
		buf = &bytes.Buffer{}
		a.buffers[topic] = buf
	}

	buf.Write(fragment)

	if trimmed := bytes.TrimSpace(buf.Bytes()); len(trimmed) > 0 && trimmed[0] != '{' {
		size := buf.Len()
		buf.Reset()
		return nil, false, fmt.Errorf("%w: topic %s dropped %d bytes", ErrStrayData, topic, size)
	}

	if isComplete(buf.Bytes()) {
		doc := bytes.Clone(buf.Bytes())
		buf.Reset()
		return doc, true, nil
	}

	if buf.Len() > a.maxBytes {
		size := buf.Len()
		buf.Reset()
		return nil, false, fmt.Errorf("%w: topic %s reached %d bytes (limit %d)", ErrBufferOverflow, topic, size, a.maxBytes)
	}

	return nil, false, nil
}

// Pending returns the number of bytes buffered for topic.
func (a *Assembler) Pending(topic string) int {
	if buf, ok := a.buffers[topic]; ok {
		return buf.Len()
	}
	return 0
}

// Reset discards whatever is buffered for topic.
func (a *Assembler) Reset(topic string) {
	if buf, ok := a.buffers[topic]; ok {
		buf.Reset()
	}
}

// isComplete applies the brace framing check.
func isComplete(b []byte) bool {
	trimmed := bytes.TrimSpace(b)
	return len(trimmed) >= 2 && trimmed[0] == '{' && trimmed[len(trimmed)-1] == '}'
}
