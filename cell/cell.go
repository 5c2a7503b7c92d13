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

// Package cell implements the OR-link wire format: fixed and variable
// length cells, and the handshake transcript digests fed from them.
package cell

import (
	"encoding/binary"
	"fmt"
)

// Command identifies the payload interpretation of a cell.
type Command byte

// Fixed-length commands used by the core.
const (
	Padding Command = 0
	Destroy Command = 4
	Netinfo Command = 8
)

// Variable-length commands used by the core.  VERSIONS always travels in
// the 2-byte circ-id framing regardless of negotiated link protocol, so
// that both sides can agree on a width before any wider cell is sent.
const (
	Versions      Command = 7
	Vpadding      Command = 128
	Certs         Command = 129
	AuthChallenge Command = 130
	Authenticate  Command = 131
)

// PayloadLen is the fixed cell payload size; it does not vary with the
// negotiated link protocol's circ-id width.
const PayloadLen = 509

// IsVariableLength reports whether cmd is carried in a VarCell instead of a
// Cell. Unrecognized commands are treated as fixed-length, matching a relay
// that does not understand the command and must still be able to frame it.
func IsVariableLength(cmd Command) bool {
	switch cmd {
	case Versions, Vpadding, Certs, AuthChallenge, Authenticate:
		return true
	default:
		return false
	}
}

// CircIDLen returns the width, in bytes, of the circ-id field for the given
// negotiated link protocol version.
func CircIDLen(linkProto int) int {
	if linkProto >= 4 {
		return 4
	}
	return 2
}

// Size returns the total on-wire size of a fixed cell for linkProto.
func Size(linkProto int) int {
	return CircIDLen(linkProto) + 1 + PayloadLen
}

// Cell is a fixed-width cell.
type Cell struct {
	CircID  uint32
	Command Command
	Payload [PayloadLen]byte
}

// VarCell is a variable-length cell: header circ_id||command||payload_len
// followed by payload_len bytes of payload.
type VarCell struct {
	CircID  uint32
	Command Command
	Payload []byte
}

// InvalidCellLengthError is returned by Unpack when buf is not exactly
// Size(linkProto) bytes.
type InvalidCellLengthError int

func (e InvalidCellLengthError) Error() string {
	return fmt.Sprintf("cell: invalid fixed cell length: %d", int(e))
}

// InvalidVarPayloadLenError describes a VERSIONS cell whose payload length
// is odd (VERSIONS payload is a sequence of big-endian uint16 version
// numbers). No function in this package returns it: Dequeue reports an odd
// VERSIONS payload as ringbuf.Protocol, and PackVar panics on one.
type InvalidVarPayloadLenError int

func (e InvalidVarPayloadLenError) Error() string {
	return fmt.Sprintf("cell: invalid VERSIONS payload length: %d", int(e))
}

// Pack serializes c for linkProto. The returned slice has length
// Size(linkProto).
func Pack(c *Cell, linkProto int) []byte {
	circIDLen := CircIDLen(linkProto)
	out := make([]byte, circIDLen+1+PayloadLen)
	putCircID(out, c.CircID, circIDLen)
	out[circIDLen] = byte(c.Command)
	copy(out[circIDLen+1:], c.Payload[:])
	return out
}

// Unpack deserializes a fixed cell from buf, which must be exactly
// Size(linkProto) bytes (the caller dequeues exactly that many bytes from
// the connection's inbuf before calling this).
func Unpack(buf []byte, linkProto int) (*Cell, error) {
	circIDLen := CircIDLen(linkProto)
	want := circIDLen + 1 + PayloadLen
	if len(buf) != want {
		return nil, InvalidCellLengthError(len(buf))
	}

	c := &Cell{
		CircID:  getCircID(buf, circIDLen),
		Command: Command(buf[circIDLen]),
	}
	copy(c.Payload[:], buf[circIDLen+1:])
	return c, nil
}

// PackVarHeader serializes the 5-byte header (always a 2-byte circ-id) of a
// variable cell; the payload follows separately.
func PackVarHeader(v *VarCell) [5]byte {
	var hdr [5]byte
	binary.BigEndian.PutUint16(hdr[0:2], uint16(v.CircID))
	hdr[2] = byte(v.Command)
	binary.BigEndian.PutUint16(hdr[3:5], uint16(len(v.Payload)))
	return hdr
}

// PackVar serializes a full variable cell (header + payload).
func PackVar(v *VarCell) []byte {
	hdr := PackVarHeader(v)
	out := make([]byte, 0, len(hdr)+len(v.Payload))
	out = append(out, hdr[:]...)
	out = append(out, v.Payload...)
	if v.Command == Versions && len(v.Payload)%2 != 0 {
		panic(fmt.Sprintf("BUG: PackVar: odd VERSIONS payload length: %d", len(v.Payload)))
	}
	return out
}

// UnpackVarHeader parses the 5-byte variable-cell header.
func UnpackVarHeader(hdr [5]byte) (circID uint32, cmd Command, payloadLen int) {
	circID = uint32(binary.BigEndian.Uint16(hdr[0:2]))
	cmd = Command(hdr[2])
	payloadLen = int(binary.BigEndian.Uint16(hdr[3:5]))
	return
}

func putCircID(out []byte, circID uint32, n int) {
	switch n {
	case 2:
		binary.BigEndian.PutUint16(out, uint16(circID))
	case 4:
		binary.BigEndian.PutUint32(out, circID)
	default:
		panic(fmt.Sprintf("BUG: putCircID: unsupported width: %d", n))
	}
}

func getCircID(buf []byte, n int) uint32 {
	switch n {
	case 2:
		return uint32(binary.BigEndian.Uint16(buf))
	case 4:
		return binary.BigEndian.Uint32(buf)
	default:
		panic(fmt.Sprintf("BUG: getCircID: unsupported width: %d", n))
	}
}

/* vim :set ts=4 sw=4 sts=4 noet : */
