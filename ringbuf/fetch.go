/*
 * Copyright (c) 2014, Yawning Angel <yawning at torproject dot org>
 * All rights reserved.
 *
 * Redistribution and use in source and binary forms, with or without
 * modification, are permitted provided that the following conditions are met:
 *
 *  * Redistributions of source code must retain the above copyright notice,
 *    this list of conditions and the following disclaimer.
 *
 *  * Redistributions in binary form must reproduce the above copyright notice,
 *    this list of conditions and the following disclaimer in the documentation
 *    and/or other materials provided with the distribution.
 *
 * THIS SOFTWARE IS PROVIDED BY THE COPYRIGHT HOLDERS AND CONTRIBUTORS "AS IS"
 * AND ANY EXPRESS OR IMPLIED WARRANTIES, INCLUDING, BUT NOT LIMITED TO, THE
 * IMPLIED WARRANTIES OF MERCHANTABILITY AND FITNESS FOR A PARTICULAR PURPOSE
 * ARE DISCLAIMED. IN NO EVENT SHALL THE COPYRIGHT HOLDER OR CONTRIBUTORS BE
 * LIABLE FOR ANY DIRECT, INDIRECT, INCIDENTAL, SPECIAL, EXEMPLARY, OR
 * CONSEQUENTIAL DAMAGES (INCLUDING, BUT NOT LIMITED TO, PROCUREMENT OF
 * SUBSTITUTE GOODS OR SERVICES; LOSS OF USE, DATA, OR PROFITS; OR BUSINESS
 * INTERRUPTION) HOWEVER CAUSED AND ON ANY THEORY OF LIABILITY, WHETHER IN
 * CONTRACT, STRICT LIABILITY, OR TORT (INCLUDING NEGLIGENCE OR OTHERWISE)
 * ARISING IN ANY WAY OUT OF THE USE OF THIS SOFTWARE, EVEN IF ADVISED OF THE
 * POSSIBILITY OF SUCH DAMAGE.
 */

package ringbuf

import (
	"bytes"
	"net/textproto"
	"strconv"
)

// Status is the outcome of an incremental Fetch* call.
type Status int

const (
	// OK means a complete message was dequeued.
	OK Status = iota
	// Incomplete means not enough data has arrived yet; no bytes were
	// consumed, and the caller should retry once more data is appended.
	Incomplete
	// TooLong means the message exceeds the configured cap; this is a
	// protocol violation and the connection should be closed.
	TooLong
	// Protocol means the buffered bytes are present but malformed.
	Protocol
)

// FetchLine returns the next complete '\n'-terminated line (with any
// trailing '\r' stripped), consuming it from the buffer. If no newline is
// present yet, it returns Incomplete without consuming anything; if more
// than max bytes accumulate without a newline, it returns TooLong.
func (b *Buffer) FetchLine(max int) (line []byte, status Status) {
	data := b.Bytes()
	idx := bytes.IndexByte(data, '\n')
	if idx == -1 {
		if len(data) > max {
			return nil, TooLong
		}
		return nil, Incomplete
	}
	if idx > max {
		return nil, TooLong
	}

	raw := b.Drain(idx + 1)
	line = raw[:idx]
	line = bytes.TrimSuffix(line, []byte{'\r'})
	return line, OK
}

// FetchHTTP returns the parsed status line, headers, and body of a
// complete HTTP response once one is present, consuming it from the
// buffer. maxHeader bounds the header block (status line + headers up to
// the blank line separator); maxBody bounds the body once Content-Length
// is known. A response with no Content-Length is assumed to have an empty
// body, which holds for the CONNECT-reply use the proxy client makes of
// this.
func (b *Buffer) FetchHTTP(maxHeader, maxBody int) (statusLine string, headers textproto.MIMEHeader, body []byte, status Status) {
	data := b.Bytes()
	sep := []byte("\r\n\r\n")
	idx := bytes.Index(data, sep)
	if idx == -1 {
		if len(data) > maxHeader {
			return "", nil, nil, TooLong
		}
		return "", nil, nil, Incomplete
	}
	if idx > maxHeader {
		return "", nil, nil, TooLong
	}

	headerBlock := data[:idx]
	reader := textproto.NewReader(newLineReader(headerBlock))
	sl, err := reader.ReadLine()
	if err != nil {
		return "", nil, nil, Protocol
	}
	hdr, err := reader.ReadMIMEHeader()
	if err != nil && len(hdr) == 0 {
		return "", nil, nil, Protocol
	}

	contentLen := 0
	if cl := hdr.Get("Content-Length"); cl != "" {
		n, err := strconv.Atoi(cl)
		if err != nil || n < 0 {
			return "", nil, nil, Protocol
		}
		contentLen = n
	}
	if contentLen > maxBody {
		return "", nil, nil, TooLong
	}

	total := idx + len(sep) + contentLen
	if total > b.Len() {
		return "", nil, nil, Incomplete
	}

	raw := b.Drain(total)
	bodyStart := idx + len(sep)
	return sl, hdr, raw[bodyStart:], OK
}

/* vim :set ts=4 sw=4 sts=4 noet : */
