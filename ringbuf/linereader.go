package ringbuf

import (
	"bufio"
	"bytes"
)

// newLineReader wraps a complete, already-delimited header block (no
// trailing blank-line separator) in a *bufio.Reader suitable for
// net/textproto, which expects to read a CRLF-terminated blank line to
// mark the end of headers.
func newLineReader(headerBlock []byte) *bufio.Reader {
	withTrailer := make([]byte, 0, len(headerBlock)+4)
	withTrailer = append(withTrailer, headerBlock...)
	withTrailer = append(withTrailer, '\r', '\n', '\r', '\n')
	return bufio.NewReader(bytes.NewReader(withTrailer))
}
