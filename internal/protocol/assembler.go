package protocol

import (
	"strings"
	"sync"
)

// Assembler reassembles complete lines from arbitrarily-chunked PTY
// output, keeping one partial-line buffer per session. The same byte
// stream yields the same lines no matter where chunk boundaries fall.
type Assembler struct {
	mu      sync.Mutex
	buffers map[string]string
}

func NewAssembler() *Assembler {
	return &Assembler{buffers: make(map[string]string)}
}

// Feed appends chunk to the session's buffer and returns every complete
// line now available, in order. The trailing fragment (if any) stays
// buffered until a later chunk completes it. Returned lines are
// normalized for the classifier: trailing \r is stripped and empty
// lines are dropped, so the output is the non-empty payload lines, not
// the raw newline segments.
func (a *Assembler) Feed(sessionID string, chunk []byte) []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	data := a.buffers[sessionID] + string(chunk)
	parts := strings.Split(data, "\n")
	a.buffers[sessionID] = parts[len(parts)-1]

	var lines []string
	for _, part := range parts[:len(parts)-1] {
		part = strings.TrimRight(part, "\r")
		if part == "" {
			continue
		}
		lines = append(lines, part)
	}
	return lines
}

// Reset discards any buffered fragment for the session. Called when the
// session's process exits so a torn line never bleeds into the next run.
func (a *Assembler) Reset(sessionID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.buffers, sessionID)
}
