package protocol

import (
	"bytes"
	"strings"
)

// Framer turns a raw byte stream into trimmed, newline-terminated lines.
//
// Chunks may be split anywhere, including inside a multi-byte character:
// bytes are only decoded once a line is complete, so the emitted lines do not
// depend on how the stream was chunked.
type Framer struct {
	buffer        []byte
	maxLineLength int
}

// NewFramer returns a framer. A maxLineLength of 0 disables the line length cap.
func NewFramer(maxLineLength int) *Framer {
	return &Framer{maxLineLength: maxLineLength}
}

// Feed appends chunk to the carry-over buffer and returns all completed,
// non-empty lines. The trailing partial line is kept for the next call.
func (framer *Framer) Feed(chunk []byte) ([]string, error) {
	framer.buffer = append(framer.buffer, chunk...)

	var lines []string
	for {
		end := bytes.IndexByte(framer.buffer, '\n')
		if end < 0 {
			break
		}
		line := decodeLine(framer.buffer[:end])
		framer.buffer = framer.buffer[end+1:]
		if line != "" {
			lines = append(lines, line)
		}
	}

	if framer.maxLineLength > 0 && len(framer.buffer) > framer.maxLineLength {
		pending := len(framer.buffer)
		framer.Reset()
		return lines, &FramingError{Pending: pending, Limit: framer.maxLineLength}
	}

	// Release the consumed prefix once the buffer is drained
	if len(framer.buffer) == 0 {
		framer.buffer = nil
	}

	return lines, nil
}

// Pending returns the number of buffered bytes not yet terminated by a newline.
func (framer *Framer) Pending() int {
	return len(framer.buffer)
}

// Reset drops any partially received line.
func (framer *Framer) Reset() {
	framer.buffer = nil
}

func decodeLine(raw []byte) string {
	return strings.TrimSpace(strings.ToValidUTF8(string(raw), "\uFFFD"))
}
