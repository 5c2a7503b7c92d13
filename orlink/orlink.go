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

// Package orlink implements the OR-specific subclass of Connection: TLS
// wrapping, link-protocol version negotiation, the v2/v3 handshake cell
// sequence, NETINFO exchange, identity binding, and the per-identity
// selection/badness-marking policy used when extending circuits (§4.7).
package orlink

import (
	"bytes"
	"crypto/tls"
	"net"
	"time"

	"git.torproject.org/tor-or-core.git/bucket"
	"git.torproject.org/tor-or-core.git/cell"
	"git.torproject.org/tor-or-core.git/conn"
)

// CircIDType determines which half of the circuit-id space a link uses for
// new outgoing circuits.
type CircIDType int

const (
	CircIDLower CircIDType = iota
	CircIDHigher
	CircIDNeither
)

// IdentityDigest is the 20-byte SHA-1 fingerprint of a peer's long-term
// identity public key; the key under which OrLinkRegistry indexes links.
type IdentityDigest [20]byte

// IsZero reports whether the digest is unset ("unknown identity").
func (d IdentityDigest) IsZero() bool { return d == IdentityDigest{} }

// Lower reports whether a is lexicographically lower than b, the
// comparison used to assign CircIDType.
func Lower(a, b IdentityDigest) bool { return bytes.Compare(a[:], b[:]) < 0 }

// familyV3Min / familyV2Max bound the two link-protocol families the spec
// negotiates between: the legacy v2-and-below family, and the v3-and-above
// CERTS/AUTH_CHALLENGE/AUTHENTICATE family.
const (
	familyV2Max = 2
	familyV3Min = 3
)

// OurSupportedVersions lists every link-protocol version this core
// implements, across both families, in ascending order. Capped at 3: the
// §3 data model only defines link_proto ∈ {1,2,3}, and variable cells
// (CERTS, AUTH_CHALLENGE, AUTHENTICATE) are framed with a fixed 2-byte
// circ-id regardless of negotiated protocol, which only holds as long as
// no negotiated fixed-cell circ-id width ever exceeds 2 bytes either.
var OurSupportedVersions = []uint16{1, 2, 3}

// HandshakeState is the sub-record present only while an OrLink is
// handshaking (§3).
type HandshakeState struct {
	StartedHere bool

	Transcript *cell.Transcript

	SentVersionsAt time.Time

	// OurIDCert / OurAuthCert are this side's own certificate DER, supplied
	// by the caller's key material before the handshake starts and sent
	// verbatim in our CERTS cell.
	OurIDCert   []byte // DER, ID_1024
	OurAuthCert []byte // DER, TLS_LINK (responder) or AUTH_1024 (authenticating initiator)

	// PeerIDCert / PeerTLSLinkCert / PeerIDEd25519Cert are populated from
	// the peer's CERTS cell once received, and are what AUTHENTICATE
	// verification and the optional Ed25519 cross-cert check bind against.
	PeerIDCert        []byte // DER, ID_1024
	PeerTLSLinkCert   []byte // DER, TLS_LINK (only present on the responder's CERTS)
	PeerIDEd25519Cert []byte // supplemental ID_ED25519 entry, if offered

	// PeerChallenge is the 32-byte nonce from AUTH_CHALLENGE, retained on
	// the initiator side to build AUTHENTICATE.
	PeerChallenge [32]byte
	PeerAuthTypes []uint16
}

// Link is an OrLink: a Connection specialized for the OR protocol.
type Link struct {
	*conn.Connection

	IdentityDigest IdentityDigest
	RealAddr       string
	TLSState       *tls.ConnectionState
	LinkProto      int

	// OurAddrs is the set of addresses this node advertises as its own in
	// NETINFO (§6). Populated by the caller before the handshake starts
	// when this process is a relay; left nil for a client or a bridge's
	// outgoing link, per §4.7's v2-handshake rule that those omit it.
	OurAddrs []net.IP

	Handshake *HandshakeState

	NextCircID             uint32
	CircIDType             CircIDType
	IsCanonical            bool
	IsOutgoing             bool
	IsBadForNewCircs       bool
	IsConnectionWithClient bool

	BandwidthRate, BandwidthBurst int64
	ReadBucket, WriteBucket       *bucket.Bucket

	TLSError error

	LastLocalCircuit time.Time
	TimestampCreated time.Time

	// NextWithSameID is the intrusive-list pointer the original
	// implementation embeds. Nothing in this module reads or writes it:
	// registry.Registry keeps its own per-identity slices instead.
	NextWithSameID *Link
}

// New builds an outgoing or incoming OrLink wrapping a generic Connection.
// The Connection's hooks should be the *Hooks that NewHooks returns for
// this link, so that conn.Hooks dispatch reaches the OR-specific handlers
// in handshake.go.
func New(c *conn.Connection, outgoing bool) *Link {
	now := time.Now()
	return &Link{
		Connection:       c,
		IsOutgoing:       outgoing,
		TimestampCreated: now,
		LastLocalCircuit: now,
	}
}

// AssignIdentity records the peer's identity digest and derives
// CircIDType from the lexicographic comparison the spec requires. ours is
// this relay's own identity digest.
func (l *Link) AssignIdentity(ours, peer IdentityDigest) {
	l.IdentityDigest = peer
	switch {
	case peer.IsZero():
		l.CircIDType = CircIDNeither
	case Lower(ours, peer):
		l.CircIDType = CircIDLower
	default:
		l.CircIDType = CircIDHigher
	}
}

// SizeBuckets implements the per-link token-bucket sizing rule: a known
// relay gets the global per-node defaults; otherwise bucket.ResolveRateBurst
// picks the configured per-connection limit when it is positive and the
// consensus fallback when it is not.
func (l *Link) SizeBuckets(isKnownRelay bool, globalDefaultRate, globalDefaultBurst, configRate, configBurst, consensusRate, consensusBurst int64) {
	if isKnownRelay {
		l.BandwidthRate, l.BandwidthBurst = globalDefaultRate, globalDefaultBurst
	} else {
		l.BandwidthRate, l.BandwidthBurst = bucket.ResolveRateBurst(configRate, configBurst, consensusRate, consensusBurst)
	}
	if l.ReadBucket == nil {
		l.ReadBucket = bucket.NewBucket(l.BandwidthRate, l.BandwidthBurst)
	} else {
		l.ReadBucket.SetRateBurst(l.BandwidthRate, l.BandwidthBurst)
	}
	if l.WriteBucket == nil {
		l.WriteBucket = bucket.NewBucket(l.BandwidthRate, l.BandwidthBurst)
	} else {
		l.WriteBucket.SetRateBurst(l.BandwidthRate, l.BandwidthBurst)
	}
}

/* vim :set ts=4 sw=4 sts=4 noet : */
