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

// Package listener manages the set of configured ingress points and the
// reconciliation algorithm that opens/closes listeners when the desired
// port set changes (§4.5).
package listener

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"git.torproject.org/tor-or-core.git/conn"
)

// AutoPort requests that the OS choose a port.
const AutoPort = 0

// PortConfig describes one desired listener (§3).
type PortConfig struct {
	Kind           conn.Kind
	Addr           string
	Port           uint16 // AutoPort to let the OS pick
	IsUnixAddr     bool
	UnixPath       string
	NoListen       bool
	NoAdvertise    bool
	IPv4Only       bool
	IPv6Only       bool
	SessionGroup   int
	IsolationFlags uint32
}

// key identifies a listener for reconciliation matching purposes.
func (p PortConfig) key() string {
	if p.IsUnixAddr {
		return fmt.Sprintf("%v:unix:%s", p.Kind, p.UnixPath)
	}
	return fmt.Sprintf("%v:%s:%d", p.Kind, p.Addr, p.Port)
}

// matches implements the reconcile step 2 matching rule: same kind, same
// socket family, and either matching unix path or matching (addr, port)
// with Auto matching any already-bound port.
func (p PortConfig) matches(e *Listener) bool {
	if p.Kind != e.cfg.Kind || p.IsUnixAddr != e.cfg.IsUnixAddr {
		return false
	}
	if p.IsUnixAddr {
		return p.UnixPath == e.cfg.UnixPath
	}
	if p.Addr != e.cfg.Addr {
		return false
	}
	if p.Port == AutoPort {
		return true
	}
	return p.Port == e.cfg.Port
}

// Listener wraps a bound net.Listener together with the PortConfig that
// produced it and an accept loop feeding newly accepted sockets to Accept.
type Listener struct {
	cfg PortConfig
	ln  net.Listener

	// Accept is invoked once per accepted connection that passes the
	// admission predicate; it should allocate the Connection and run
	// post-accept initialization (e.g. starting a server-side TLS
	// handshake for OR listeners).
	Accept func(c net.Conn, cfg PortConfig)

	// Admit is the kind-specific admission policy predicate (client-entry
	// policy for AP, directory policy for Dir, ...). A nil Admit accepts
	// everything.
	Admit func(remote net.Addr) bool

	markedForClose bool
	stopOnce       sync.Once
	stopCh         chan struct{}
}

// Addr reports the address actually bound, which for an Auto port is the
// OS-chosen value discovered via getsockname.
func (l *Listener) Addr() net.Addr {
	if l.ln != nil {
		return l.ln.Addr()
	}
	return nil
}

// Config returns the PortConfig this listener realizes, with Port updated
// to the OS-chosen value if it was Auto.
func (l *Listener) Config() PortConfig { return l.cfg }

// Close stops the accept loop and releases the underlying socket.
func (l *Listener) Close() error {
	l.stopOnce.Do(func() {
		if l.stopCh != nil {
			close(l.stopCh)
		}
	})
	if l.ln != nil {
		return l.ln.Close()
	}
	return nil
}

// bind realizes cfg as a listening socket, applying the per-family setup
// of reconcile step 3: SO_REUSEADDR and getsockname for TCP, stale-file
// unlink for local stream sockets.
func bind(cfg PortConfig) (net.Listener, error) {
	if cfg.NoListen {
		return nil, nil
	}
	if cfg.IsUnixAddr {
		_ = os.Remove(cfg.UnixPath)
		ln, err := net.Listen("unix", cfg.UnixPath)
		if err != nil {
			return nil, err
		}
		_ = os.Chmod(cfg.UnixPath, 0660)
		return ln, nil
	}

	network := "tcp"
	if cfg.IPv4Only {
		network = "tcp4"
	} else if cfg.IPv6Only {
		network = "tcp6"
	}

	addr := fmt.Sprintf("%s:%d", cfg.Addr, cfg.Port)
	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var ctrlErr error
			err := c.Control(func(fd uintptr) {
				ctrlErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
			})
			if err != nil {
				return err
			}
			return ctrlErr
		},
	}
	ln, err := lc.Listen(context.Background(), network, addr)
	if err != nil {
		return nil, err
	}
	return ln, nil
}

// Open binds cfg and starts its accept loop in the background, delivering
// accepted sockets that pass Admit to Accept. logger receives EMFILE-style
// transient accept errors at a ratelimited cadence (see §7 ResourceExhausted).
func Open(cfg PortConfig, accept func(net.Conn, PortConfig), admit func(net.Addr) bool, logger *log.Logger) (*Listener, error) {
	ln, err := bind(cfg)
	if err != nil {
		return nil, err
	}
	if ln == nil {
		return &Listener{cfg: cfg, Accept: accept, Admit: admit}, nil
	}

	if !cfg.IsUnixAddr && cfg.Port == AutoPort {
		if tcpAddr, ok := ln.Addr().(*net.TCPAddr); ok {
			cfg.Port = uint16(tcpAddr.Port)
		}
	}

	l := &Listener{
		cfg:    cfg,
		ln:     ln,
		Accept: accept,
		Admit:  admit,
		stopCh: make(chan struct{}),
	}
	go l.acceptLoop(logger)
	return l, nil
}

func (l *Listener) acceptLoop(logger *log.Logger) {
	var lastWarn time.Time
	for {
		c, err := l.ln.Accept()
		if err != nil {
			select {
			case <-l.stopCh:
				return
			default:
			}
			if ne, ok := err.(net.Error); ok && ne.Temporary() {
				if logger != nil && time.Since(lastWarn) >= time.Minute {
					logger.Printf("[WARN] listener %s: temporary accept error: %v", l.cfg.key(), err)
					lastWarn = time.Now()
				}
				continue
			}
			return
		}

		if l.Admit != nil && !l.Admit(c.RemoteAddr()) {
			_ = c.Close()
			continue
		}
		if l.Accept != nil {
			l.Accept(c, l.cfg)
		}
	}
}

// Manager holds the currently realized listener set and runs reconciliation
// against a newly desired set on configuration change.
type Manager struct {
	mu       sync.Mutex
	existing []*Listener
	logger   *log.Logger
	accept   func(net.Conn, PortConfig)
	admitFor func(conn.Kind) func(net.Addr) bool
}

// NewManager builds an empty Manager. accept is shared by every listener
// opened by this manager; admitFor resolves the kind-specific admission
// predicate for a given PortConfig.Kind.
func NewManager(accept func(net.Conn, PortConfig), admitFor func(conn.Kind) func(net.Addr) bool, logger *log.Logger) *Manager {
	return &Manager{accept: accept, admitFor: admitFor, logger: logger}
}

// Listeners returns a snapshot of the currently realized listener set.
func (m *Manager) Listeners() []*Listener {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Listener, len(m.existing))
	copy(out, m.existing)
	return out
}

// Reconcile implements §4.5's reconcile algorithm: keep listeners whose
// config still appears in desired, close ones that don't, open one for
// every desired entry that had no match.
func (m *Manager) Reconcile(desired []PortConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing := make([]*Listener, len(m.existing))
	copy(existing, m.existing)

	var toLaunch []PortConfig
	kept := make([]*Listener, 0, len(existing))

	for _, p := range desired {
		matchedIdx := -1
		for i, e := range existing {
			if e == nil {
				continue
			}
			if p.matches(e) {
				matchedIdx = i
				break
			}
		}
		if matchedIdx >= 0 {
			kept = append(kept, existing[matchedIdx])
			existing[matchedIdx] = nil
		} else {
			toLaunch = append(toLaunch, p)
		}
	}

	// Step 4: retire whatever is left in existing.
	for _, e := range existing {
		if e != nil {
			_ = e.Close()
		}
	}

	var admit func(net.Addr) bool
	var firstErr error
	for _, p := range toLaunch {
		if m.admitFor != nil {
			admit = m.admitFor(p.Kind)
		}
		l, err := Open(p, m.accept, admit, m.logger)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		kept = append(kept, l)
	}

	m.existing = kept
	return firstErr
}

/* vim :set ts=4 sw=4 sts=4 noet : */
