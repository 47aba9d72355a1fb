// Package dialect detects the wire dialect of a client request and
// translates between the supported shapes.
package dialect

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// DoneMarker terminates an OpenAI SSE stream.
const DoneMarker = "[DONE]"

// LineBuffer splits an SSE byte stream into complete lines, retaining any
// trailing partial line across feeds so chunk boundaries never split a
// data payload.
type LineBuffer struct {
	rem []byte
}

// Feed appends bytes and returns the complete lines now available, with
// line endings trimmed.
func (b *LineBuffer) Feed(p []byte) [][]byte {
	b.rem = append(b.rem, p...)

	var lines [][]byte
	for {
		i := bytes.IndexByte(b.rem, '\n')
		if i < 0 {
			return lines
		}
		line := bytes.TrimRight(b.rem[:i], "\r")
		lines = append(lines, line)
		b.rem = b.rem[i+1:]
	}
}

// DataPayload extracts the payload of a "data:" SSE line.
// Comment lines, event lines and blank lines yield ok=false.
func DataPayload(line []byte) ([]byte, bool) {
	if !bytes.HasPrefix(line, []byte("data:")) {
		return nil, false
	}
	payload := bytes.TrimPrefix(line, []byte("data:"))
	payload = bytes.TrimLeft(payload, " ")
	return payload, true
}

// formatEvent serializes a named SSE event frame.
func formatEvent(name string, data any) []byte {
	b, err := json.Marshal(data)
	if err != nil {
		return nil
	}
	return []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", name, b))
}
