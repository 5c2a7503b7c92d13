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

package cell

import (
	"encoding/binary"

	"git.torproject.org/tor-or-core.git/ringbuf"
)

// maxVarPayload bounds a variable cell's payload_len field; it is the
// largest value a uint16 can hold, which the wire format already enforces,
// but a connection-level cap (e.g. a CERTS cell bloated with garbage) is
// the caller's job via the certs/authenticate size limits in §6.
const maxVarPayload = 1<<16 - 1

// Dequeue pulls exactly one cell's worth of bytes off buf. It returns
// (fixedCell, nil, ringbuf.OK) for a fixed cell, (nil, varCell,
// ringbuf.OK) for a variable cell, or a zero-value pair with Incomplete /
// Protocol if the fetch cannot complete yet or the header is malformed.
//
// This is the spec's "fetch_var_cell" operation generalized to also
// recognize fixed cells, since telling the two apart requires peeking the
// same header bytes: the first VERSIONS cell before link-proto negotiation
// always carries a 2-byte circ-id, so callers pass linkProto=0 until a
// version has been selected.
func Dequeue(buf *ringbuf.Buffer, linkProto int) (*Cell, *VarCell, ringbuf.Status) {
	circIDLen := CircIDLen(linkProto)
	if buf.Len() < circIDLen+1 {
		return nil, nil, ringbuf.Incomplete
	}

	head := buf.Peek(circIDLen + 3)
	cmd := Command(head[circIDLen])

	if !IsVariableLength(cmd) {
		total := circIDLen + 1 + PayloadLen
		if buf.Len() < total {
			return nil, nil, ringbuf.Incomplete
		}
		raw := buf.Drain(total)
		c, err := Unpack(raw, linkProto)
		if err != nil {
			return nil, nil, ringbuf.Protocol
		}
		return c, nil, ringbuf.OK
	}

	// Variable-length cells always use a 2-byte circ-id header, even once a
	// wider link protocol has been negotiated.
	const varCircIDLen = 2
	if buf.Len() < varCircIDLen+3 {
		return nil, nil, ringbuf.Incomplete
	}
	hdrBytes := buf.Peek(5)
	var hdr [5]byte
	copy(hdr[:], hdrBytes)
	circID, _, payloadLen := UnpackVarHeader(hdr)

	if cmd == Versions && payloadLen%2 != 0 {
		return nil, nil, ringbuf.Protocol
	}
	if payloadLen > maxVarPayload {
		return nil, nil, ringbuf.Protocol
	}

	total := 5 + payloadLen
	if buf.Len() < total {
		return nil, nil, ringbuf.Incomplete
	}

	raw := buf.Drain(total)
	v := &VarCell{
		CircID:  circID,
		Command: cmd,
		Payload: append([]byte(nil), raw[5:]...),
	}
	return nil, v, ringbuf.OK
}

// EncodeVersionsPayload packs a list of link-protocol versions into the
// big-endian uint16 sequence VERSIONS carries as its payload.
func EncodeVersionsPayload(versions []uint16) []byte {
	out := make([]byte, len(versions)*2)
	for i, v := range versions {
		binary.BigEndian.PutUint16(out[i*2:], v)
	}
	return out
}

// DecodeVersionsPayload is the inverse of EncodeVersionsPayload. The
// payload length must already have been checked even by the caller; an odd
// length here is a bug, not a protocol error, because Dequeue rejects odd
// VERSIONS payloads before this is reached.
func DecodeVersionsPayload(payload []byte) []uint16 {
	out := make([]uint16, len(payload)/2)
	for i := range out {
		out[i] = binary.BigEndian.Uint16(payload[i*2:])
	}
	return out
}

/* vim :set ts=4 sw=4 sts=4 noet : */
