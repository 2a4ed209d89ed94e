package llm

import (
	"bytes"
	"strings"
)

// sseDecoder incrementally decodes a server-sent-event byte stream.
// Bytes accumulate in a line buffer; only complete newline-terminated
// "data: <payload>" lines are surfaced. The decoder is agnostic to how the
// network fragments the stream, including splits in the middle of a line.
type sseDecoder struct {
	buf []byte
}

// Feed appends raw bytes and returns the data payloads of every line
// completed so far. Non-data lines (comments, keep-alives, blank lines) and
// the "[DONE]" marker are discarded silently.
func (d *sseDecoder) Feed(p []byte) []string {
	d.buf = append(d.buf, p...)

	var payloads []string
	for {
		i := bytes.IndexByte(d.buf, '\n')
		if i < 0 {
			return payloads
		}
		line := strings.TrimRight(string(d.buf[:i]), "\r")
		d.buf = d.buf[i+1:]

		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		if strings.TrimSpace(data) == "[DONE]" {
			continue
		}
		payloads = append(payloads, data)
	}
}
