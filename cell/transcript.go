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
	"crypto/sha256"
	"hash"
)

// Direction distinguishes which running digest a cell's on-wire bytes feed.
type Direction int

const (
	Outgoing Direction = iota
	Incoming
)

// Transcript holds the two running SHA-256 digests accumulated over every
// cell sent and received during a v3 OR handshake, from the first VERSIONS
// cell up to (but not including) AUTHENTICATE. AUTHENTICATE's signed body
// binds to both digests so that neither side can be man-in-the-middled
// into authenticating a different handshake.
//
// The gating flags mirror HandshakeState.digest_sent_data/digest_received_data:
// once stopped, further cells are not absorbed, matching the spec's
// requirement that the transcript be frozen at AUTHENTICATE time.
type Transcript struct {
	sentData, receivedData bool
	sent, received         hash.Hash
}

// NewTranscript returns a Transcript with both gates open, ready to absorb
// the first VERSIONS cell exchanged on a fresh OR link.
func NewTranscript() *Transcript {
	return &Transcript{
		sentData:     true,
		receivedData: true,
		sent:         sha256.New(),
		received:     sha256.New(),
	}
}

// StopSent freezes the sent-direction digest; called once AUTHENTICATE is
// about to be generated/verified.
func (t *Transcript) StopSent() { t.sentData = false }

// StopReceived freezes the received-direction digest.
func (t *Transcript) StopReceived() { t.receivedData = false }

// AbsorbCell feeds a fixed cell's on-wire bytes into the transcript for the
// given direction, provided that direction's gate is still open.
func (t *Transcript) AbsorbCell(c *Cell, linkProto int, dir Direction) {
	t.absorb(Pack(c, linkProto), dir)
}

// AbsorbVarCell feeds a variable cell's on-wire bytes (header + payload)
// into the transcript for the given direction.
func (t *Transcript) AbsorbVarCell(v *VarCell, dir Direction) {
	t.absorb(PackVar(v), dir)
}

func (t *Transcript) absorb(wire []byte, dir Direction) {
	switch dir {
	case Outgoing:
		if !t.sentData {
			return
		}
		t.sent.Write(wire)
	case Incoming:
		if !t.receivedData {
			return
		}
		t.received.Write(wire)
	}
}

// SentDigest returns the current SHA-256 digest of everything sent so far.
// It is only meaningful to call this after StopSent, at which point the
// digest is stable for the life of the handshake.
func (t *Transcript) SentDigest() [32]byte {
	return sum(t.sent)
}

// ReceivedDigest returns the current SHA-256 digest of everything received
// so far; meaningful after StopReceived.
func (t *Transcript) ReceivedDigest() [32]byte {
	return sum(t.received)
}

func sum(h hash.Hash) [32]byte {
	s := h.Sum(nil)
	var out [32]byte
	copy(out[:], s)
	return out
}

/* vim :set ts=4 sw=4 sts=4 noet : */
