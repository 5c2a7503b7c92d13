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

// Package ringbuf implements a growable byte queue used for each
// Connection's inbuf/outbuf, plus the incremental message-framing fetch
// operations built on top of it (lines, HTTP responses, and anything else
// that needs "do I have a whole message yet" semantics without copying the
// unread tail on every call).
package ringbuf

import "fmt"

// compactThreshold bounds how much dead space (already-drained prefix) a
// Buffer tolerates before it slides the unread tail down to offset 0.
const compactThreshold = 4096

// Buffer is a byte-oriented read/write queue. The zero value is ready to
// use.
type Buffer struct {
	buf []byte
	off int
}

// Len returns the number of unread bytes buffered.
func (b *Buffer) Len() int {
	return len(b.buf) - b.off
}

// Append adds p to the tail of the buffer.
func (b *Buffer) Append(p []byte) {
	b.buf = append(b.buf, p...)
}

// Bytes returns the unread portion of the buffer. The slice is only valid
// until the next call to Append, Drain, or Reset.
func (b *Buffer) Bytes() []byte {
	return b.buf[b.off:]
}

// Peek returns up to n unread bytes without consuming them. If fewer than n
// bytes are buffered, it returns every unread byte.
func (b *Buffer) Peek(n int) []byte {
	avail := b.Len()
	if n > avail {
		n = avail
	}
	return b.buf[b.off : b.off+n]
}

// Drain consumes and returns the next n unread bytes. It panics if n
// exceeds Len(); callers must check availability first (that is the entire
// point of the Fetch* incremental parsers below).
func (b *Buffer) Drain(n int) []byte {
	if n > b.Len() {
		panic(fmt.Sprintf("BUG: ringbuf.Drain: %d > available %d", n, b.Len()))
	}
	out := make([]byte, n)
	copy(out, b.buf[b.off:b.off+n])
	b.off += n
	b.maybeCompact()
	return out
}

// Reset discards all buffered bytes.
func (b *Buffer) Reset() {
	b.buf = b.buf[:0]
	b.off = 0
}

func (b *Buffer) maybeCompact() {
	if b.off == len(b.buf) {
		b.buf = b.buf[:0]
		b.off = 0
		return
	}
	if b.off >= compactThreshold {
		n := copy(b.buf, b.buf[b.off:])
		b.buf = b.buf[:n]
		b.off = 0
	}
}

/* vim :set ts=4 sw=4 sts=4 noet : */
