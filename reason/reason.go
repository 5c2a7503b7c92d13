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

// Package reason implements the abstract error taxonomy of §7 and its
// mapping onto the externally-visible "end reason" byte reported to
// circuit initiators and control subscribers.
package reason

// Kind is the abstract error category a failure belongs to.
type Kind int

const (
	Io Kind = iota
	TlsError
	Protocol
	IdentityMismatch
	ResourceExhausted
	Timeout
	AdministrativeClose
	PeerClose
)

func (k Kind) String() string {
	switch k {
	case Io:
		return "io"
	case TlsError:
		return "tls_error"
	case Protocol:
		return "protocol"
	case IdentityMismatch:
		return "identity_mismatch"
	case ResourceExhausted:
		return "resource_exhausted"
	case Timeout:
		return "timeout"
	case AdministrativeClose:
		return "administrative_close"
	case PeerClose:
		return "peer_close"
	default:
		return "unknown"
	}
}

// EndReason is the byte-sized reason code carried in a DESTROY cell and
// reported to higher layers on link failure.
type EndReason byte

const (
	EndReasonNone                EndReason = 0
	EndReasonMisc                EndReason = 1
	EndReasonIOError             EndReason = 2
	EndReasonConnectFailed       EndReason = 4
	EndReasonOrIdentity          EndReason = 5
	EndReasonOrConnClosed        EndReason = 6
	EndReasonTimeout             EndReason = 7
	EndReasonResourceLimit       EndReason = 10
	EndReasonProtocolViolation   EndReason = 12
	EndReasonAdministrativeClose EndReason = 14
)

// FromKind maps an abstract error Kind to the wire-visible end reason. This
// is the single point of translation the spec requires (§7); callers
// should never hand-pick an EndReason directly.
func FromKind(k Kind) EndReason {
	switch k {
	case Io:
		return EndReasonIOError
	case TlsError:
		return EndReasonMisc
	case Protocol:
		return EndReasonProtocolViolation
	case IdentityMismatch:
		return EndReasonOrIdentity
	case ResourceExhausted:
		return EndReasonResourceLimit
	case Timeout:
		return EndReasonTimeout
	case AdministrativeClose:
		return EndReasonAdministrativeClose
	case PeerClose:
		return EndReasonOrConnClosed
	default:
		return EndReasonMisc
	}
}

// Error pairs a Kind with the underlying cause, so callers can both branch
// on the category and log/propagate the original error.
type Error struct {
	Kind  Kind
	Cause error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Cause.Error()
}

func (e *Error) Unwrap() error { return e.Cause }

// New wraps cause with Kind k.
func New(k Kind, cause error) *Error {
	return &Error{Kind: k, Cause: cause}
}

/* vim :set ts=4 sw=4 sts=4 noet : */
