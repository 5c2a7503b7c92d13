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

// Package noncefilter is a simple filter designed only to answer if it has
// seen a given byte sequence before.  The OR-link v3 handshake uses it to
// detect a responder replaying an AUTH_CHALLENGE nonce it has already
// issued on a prior link to the same identity.
package noncefilter

import (
	"container/list"
	"encoding/binary"
	"sync"

	"github.com/dchest/siphash"

	"git.torproject.org/tor-or-core.git/internal/csrand"
)

// maxFilterSize bounds the number of nonces tracked per Filter.  A relay
// that completes a v3 handshake every few seconds will not exceed this in
// the 2-hour window entries are kept for.
const maxFilterSize = 16 * 1024

// maxAgeSeconds is how long an entry is kept before it is no longer
// considered a replay.  This matches the +-1 hour clock skew tolerance
// the v3 handshake timestamp allows, doubled for margin.
const maxAgeSeconds = 3600 * 2

// Filter is based around comparing the SipHash-2-4 digest of data to match
// against.  Collisions are treated as positive matches; the probability of
// such occurrences is negligible for the 32-byte nonces this is used with.
type Filter struct {
	lock   sync.Mutex
	key    [2]uint64
	filter map[uint64]*filterEntry
	fifo   *list.List
}

type filterEntry struct {
	firstSeen int64
	hash      uint64
	element   *list.Element
}

// New creates a new Filter instance, keyed with a fresh random SipHash key
// so that the hash space used by one process cannot be predicted by
// another.
func New() (*Filter, error) {
	var key [16]byte
	if err := csrand.Bytes(key[:]); err != nil {
		return nil, err
	}

	f := new(Filter)
	f.key[0] = binary.BigEndian.Uint64(key[0:8])
	f.key[1] = binary.BigEndian.Uint64(key[8:16])
	f.filter = make(map[uint64]*filterEntry)
	f.fifo = list.New()

	return f, nil
}

// TestAndSet queries the filter for buf, adds it if it was not present, and
// returns whether it was already present (i.e. a replay).  Threadsafe.
func (f *Filter) TestAndSet(now int64, buf []byte) bool {
	hash := siphash.Hash(f.key[0], f.key[1], buf)

	f.lock.Lock()
	defer f.lock.Unlock()

	f.compact(now)

	if entry := f.filter[hash]; entry != nil {
		return true
	}

	entry := &filterEntry{hash: hash, firstSeen: now}
	entry.element = f.fifo.PushBack(entry)
	f.filter[hash] = entry

	return false
}

// compact purges entries older than maxAgeSeconds, or at least one entry if
// the filter has hit maxFilterSize.  Not threadsafe; callers hold f.lock.
func (f *Filter) compact(now int64) {
	e := f.fifo.Front()
	for e != nil {
		entry, _ := e.Value.(*filterEntry)

		if f.fifo.Len() < maxFilterSize {
			deltaT := now - entry.firstSeen
			if deltaT < 0 {
				// System clock jumped backwards by an unknown amount; the
				// filter's age bookkeeping is no longer trustworthy.
				f.reset()
				return
			}
			if deltaT < maxAgeSeconds {
				break
			}
		}

		eNext := e.Next()
		delete(f.filter, entry.hash)
		f.fifo.Remove(entry.element)
		entry.element = nil
		e = eNext
	}
}

// reset purges the entire filter. Not threadsafe; callers hold f.lock.
func (f *Filter) reset() {
	f.filter = make(map[uint64]*filterEntry)
	f.fifo = list.New()
}

/* vim :set ts=4 sw=4 sts=4 noet : */
