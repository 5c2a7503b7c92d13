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

// Package conn implements the generic Connection lifecycle shared by every
// kind of managed socket: the read/write scheduler contract, close
// discipline, and linked in-process pairs. Kind-specific behavior (OrLink,
// Listener, ProxyClient, ...) plugs in via the Hooks interface.
package conn

import (
	"io"
	"log"
	"sync"
	"time"

	"git.torproject.org/tor-or-core.git/ringbuf"
)

// Kind identifies what a Connection is for; see spec §3.
type Kind int

const (
	OrListener Kind = iota
	OrLink
	ApListener
	ApStream
	DirListener
	DirStream
	ControlListener
	ControlStream
	Exit
	CpuWorker
)

func (k Kind) String() string {
	switch k {
	case OrListener:
		return "or_listener"
	case OrLink:
		return "or_link"
	case ApListener:
		return "ap_listener"
	case ApStream:
		return "ap_stream"
	case DirListener:
		return "dir_listener"
	case DirStream:
		return "dir_stream"
	case ControlListener:
		return "control_listener"
	case ControlStream:
		return "control_stream"
	case Exit:
		return "exit"
	case CpuWorker:
		return "cpu_worker"
	default:
		return "unknown"
	}
}

// State is a small integer whose interpretation depends on Kind (see
// spec §4.4's per-kind sub-state machines).
type State int

const (
	StateReady State = iota
	StateConnecting
	StateProxyHandshaking
	StateTlsHandshaking
	StateTlsClientRenegotiating
	StateTlsServerRenegotiating
	StateOrHandshakingV2
	StateOrHandshakingV3
	StateOpen
	StateClosed
)

// ProxyState tracks ProxyClient's upstream-proxy handshake progress (§3,
// §4.6). It lives on Connection because a connection is in exactly one
// proxy phase at a time, same as it is in exactly one lifecycle State.
type ProxyState int

const (
	ProxyNone ProxyState = iota
	ProxyInfant
	ProxyHttpsWantConnectOk
	ProxySocks4WantConnectOk
	ProxySocks5WantAuthMethodNone
	ProxySocks5WantAuthMethodUserPass
	ProxySocks5WantAuthUserPassOk
	ProxySocks5WantConnectOk
	ProxyConnected
)

// Socket is the minimal read/write/close surface a Connection needs; a
// real TCP/TLS conn, a Unix socket, or a test double all satisfy it without
// requiring the full net.Conn deadline API (deadlines are handled at the
// orlink/proxyclient layer, which knows whether TLS is involved).
type Socket interface {
	io.Reader
	io.Writer
	io.Closer
}

// Hooks is the set of kind-specific callbacks the generic read/write path
// invokes (spec §6, "Connection-scheduler hooks"). Embed NoopHooks to get
// default no-op behavior for the hooks a given kind does not need.
type Hooks interface {
	ProcessInbuf(c *Connection, allowPartialCell bool) error
	FlushedSome(c *Connection)
	FinishedFlushing(c *Connection) (closeRequested bool)
	FinishedConnecting(c *Connection) error
	ReachedEOF(c *Connection)
	AboutToClose(c *Connection)
}

// NoopHooks implements Hooks with do-nothing bodies so a kind only has to
// override the handful of hooks it actually cares about.
type NoopHooks struct{}

func (NoopHooks) ProcessInbuf(*Connection, bool) error         { return nil }
func (NoopHooks) FlushedSome(*Connection)                      {}
func (NoopHooks) FinishedFlushing(*Connection) bool            { return false }
func (NoopHooks) FinishedConnecting(*Connection) error         { return nil }
func (NoopHooks) ReachedEOF(*Connection)                       {}
func (NoopHooks) AboutToClose(*Connection)                     {}

// holdOpenGrace is how long a connection with HoldOpenUntilFlushed set may
// keep trying to drain its outbuf before teardown forces the issue.
const holdOpenGrace = 15 * time.Second

// Connection is the base record for any managed socket.
type Connection struct {
	ID   uint64
	Kind Kind

	State State
	Hooks Hooks

	socket Socket
	linked *Connection

	Addr string
	Port uint16

	Inbuf, Outbuf  ringbuf.Buffer
	OutbufFlushLen int

	HoldOpenUntilFlushed bool
	lastWriteProgress    time.Time

	TimestampCreated, TimestampLastRead, TimestampLastWritten time.Time

	ReadBlockedOnBW, WriteBlockedOnBW bool

	ProxyState ProxyState

	mu             sync.Mutex
	markedForClose bool
	markLoggedBug  bool
}

// New creates a Connection wrapping socket (nil for a connection that will
// be bonded via LinkTo instead).
func New(kind Kind, hooks Hooks, socket Socket) *Connection {
	now := time.Now()
	return &Connection{
		Kind:              kind,
		Hooks:             hooks,
		socket:            socket,
		TimestampCreated:  now,
		lastWriteProgress: now,
	}
}

// IsLinked reports whether this connection is bonded to an in-process peer
// instead of owning a socket. Spec invariant: linked and socket>=0 are
// mutually exclusive.
func (c *Connection) IsLinked() bool {
	return c.socket == nil && c.linked != nil
}

// LinkTo bonds a and b so that writes to one appear as reads on the
// other, with no socket involved. Used for tunneled directory traffic
// carried inside the same process.
func LinkTo(a, b *Connection) {
	if a.socket != nil || b.socket != nil {
		panic("BUG: conn.LinkTo: cannot link a connection that owns a socket")
	}
	a.linked = b
	b.linked = a
}

// Unlink breaks a linked bond; called before either side is freed.
func (c *Connection) Unlink() {
	if c.linked != nil {
		peer := c.linked
		c.linked = nil
		peer.linked = nil
	}
}

// IsMarkedForClose reports whether teardown has been queued.
func (c *Connection) IsMarkedForClose() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.markedForClose
}

// MarkForClose queues teardown on the next scheduler pass. It is monotonic
// and idempotent: a second call is logged once as a bug (matching the
// teacher's panic-on-double-free posture, but recoverable here) and
// otherwise produces no additional effect.
func (c *Connection) MarkForClose(logger *log.Logger) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.markedForClose {
		if logger != nil && !c.markLoggedBug {
			logger.Printf("[BUG] conn %d: mark_for_close() called twice", c.ID)
			c.markLoggedBug = true
		}
		return
	}
	c.markedForClose = true
}

// CloseImmediate releases the socket and discards outbuf; used on protocol
// death where flushing pending output would be pointless or unsafe.
func (c *Connection) CloseImmediate() {
	if c.socket != nil {
		_ = c.socket.Close()
	}
	c.Outbuf.Reset()
	c.OutbufFlushLen = 0
	c.State = StateClosed
}

// Teardown runs the kind-specific AboutToClose notification, then frees
// buffers, closes the socket, and unlinks any in-process peer.
func (c *Connection) Teardown() {
	if c.Hooks != nil {
		c.Hooks.AboutToClose(c)
	}
	c.Inbuf.Reset()
	c.Outbuf.Reset()
	c.OutbufFlushLen = 0
	if c.socket != nil {
		_ = c.socket.Close()
	}
	c.Unlink()
	c.State = StateClosed
}

// AppendOutbuf queues p for writing. The entire queued region becomes
// immediately eligible for draining; a collaborator that buffers ahead of
// a compression watermark (e.g. a zlib directory stream) calls
// SetFlushLen afterwards to pull the watermark back.
func (c *Connection) AppendOutbuf(p []byte) {
	c.Outbuf.Append(p)
	c.OutbufFlushLen = c.Outbuf.Len()
	if c.IsLinked() {
		c.pumpLinked()
	}
}

// SetFlushLen restricts the prefix of Outbuf currently eligible to be
// drained to the socket. Invariant: 0 <= n <= Outbuf.Len().
func (c *Connection) SetFlushLen(n int) {
	if n < 0 || n > c.Outbuf.Len() {
		panic("BUG: conn.SetFlushLen: out of range")
	}
	c.OutbufFlushLen = n
}

// pumpLinked moves every flush-eligible byte from c's outbuf directly into
// the peer's inbuf and invokes the peer's ProcessInbuf hook, modeling the
// no-socket in-process pipe of §4.4 "Linked pairs".
func (c *Connection) pumpLinked() {
	peer := c.linked
	if peer == nil {
		return
	}
	n := c.OutbufFlushLen
	if n == 0 {
		return
	}
	data := c.Outbuf.Drain(n)
	c.OutbufFlushLen = 0
	peer.Inbuf.Append(data)
	peer.TimestampLastRead = time.Now()
	if peer.Hooks != nil {
		_ = peer.Hooks.ProcessInbuf(peer, false)
	}
	if c.IsMarkedForClose() && c.Outbuf.Len() == 0 && peer.Hooks != nil {
		peer.Hooks.ReachedEOF(peer)
	}
}

// DoRead implements the read-path contract of §4.4: pull up to maxToRead
// bytes into Inbuf and dispatch to the kind's ProcessInbuf hook. Listener
// kinds do not use DoRead; they are driven by Accept instead.
func (c *Connection) DoRead(maxToRead int) error {
	if c.IsMarkedForClose() {
		return nil
	}
	if c.socket == nil {
		// Linked connections receive bytes via pumpLinked, not a socket read.
		return nil
	}
	if maxToRead <= 0 {
		return nil
	}

	buf := make([]byte, maxToRead)
	n, err := c.socket.Read(buf)
	if n > 0 {
		c.Inbuf.Append(buf[:n])
		c.TimestampLastRead = time.Now()
	}
	if err != nil {
		if err == io.EOF {
			if c.Hooks != nil {
				c.Hooks.ReachedEOF(c)
			}
			return nil
		}
		return err
	}

	if c.Hooks != nil {
		return c.Hooks.ProcessInbuf(c, false)
	}
	return nil
}

// FinishConnecting transitions a StateConnecting connection once the
// underlying dial has completed (successfully or not). Go's net.Dial is
// synchronous, so unlike the event-loop's SO_ERROR poll this is invoked
// directly by whatever goroutine performed the dial, but the state
// transition and hook dispatch remain exactly where the spec puts them:
// see DESIGN.md for why this is the idiomatic-Go substitution for async
// connect(2) completion.
func (c *Connection) FinishConnecting(dialErr error) error {
	if dialErr != nil {
		c.State = StateClosed
		return dialErr
	}
	if c.Hooks != nil {
		if err := c.Hooks.FinishedConnecting(c); err != nil {
			return err
		}
	}
	return nil
}

// DoWrite implements the write-path contract of §4.4: drain up to
// maxToWrite bytes from Outbuf to the socket, then run the
// finished-flushing / hold-open-deadline logic.
func (c *Connection) DoWrite(maxToWrite int) error {
	if c.IsMarkedForClose() {
		return nil
	}
	if c.State == StateConnecting {
		// Completion is delivered out of band via FinishConnecting; see its
		// doc comment.
		return nil
	}

	n := maxToWrite
	if n > c.OutbufFlushLen {
		n = c.OutbufFlushLen
	}
	if n > 0 {
		data := c.Outbuf.Peek(n)
		wrote, err := c.socket.Write(data)
		if wrote > 0 {
			c.Outbuf.Drain(wrote)
			c.OutbufFlushLen -= wrote
			now := time.Now()
			c.TimestampLastWritten = now
			c.lastWriteProgress = now
			if c.Hooks != nil {
				c.Hooks.FlushedSome(c)
			}
		}
		if err != nil {
			return err
		}
	}

	if c.OutbufFlushLen == 0 {
		if c.Hooks != nil && c.Hooks.FinishedFlushing(c) {
			c.CloseImmediate()
			c.MarkForClose(nil)
		}
		return nil
	}

	if c.HoldOpenUntilFlushed && time.Since(c.lastWriteProgress) > holdOpenGrace {
		c.CloseImmediate()
		c.MarkForClose(nil)
	}
	return nil
}

/* vim :set ts=4 sw=4 sts=4 noet : */
