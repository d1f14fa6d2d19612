package proto

import (
	"bytes"
	"strings"
)

// Framer splits a stream of read chunks into newline-terminated lines.
// A partial trailing line is carried over to the next Push, so a line split
// across two reads is delivered intact exactly once and a truncated JSON
// line never reaches the parser.
type Framer struct {
	residual []byte
}

// Push appends a chunk to the buffered stream and returns every complete
// line it now holds, in arrival order and without terminators. Empty lines
// are dropped.
func (f *Framer) Push(chunk []byte) []string {
	f.residual = append(f.residual, chunk...)

	var lines []string
	for {
		i := bytes.IndexByte(f.residual, '\n')
		if i < 0 {
			break
		}
		line := strings.TrimRight(string(f.residual[:i]), "\r")
		f.residual = f.residual[i+1:]
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// Pending reports whether a partial line is buffered.
func (f *Framer) Pending() bool {
	return len(f.residual) > 0
}

// Reset drops any buffered partial line. Called when a connection is
// (re)established so stale bytes cannot bleed into the new stream.
func (f *Framer) Reset() {
	f.residual = nil
}
