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

// Package bucket implements token-bucket bandwidth rate limiting: the
// global and per-connection buckets, their refill ticks, and the
// round-robin-ish limit formula that caps how much a single connection may
// read or write in one scheduler pass.
package bucket

import (
	"fmt"
	"sync"
	"time"
)

// Bucket is a single token bucket of bytes.
type Bucket struct {
	mu    sync.Mutex
	value int64
	rate  int64 // bytes refilled per Refill call
	burst int64 // cap on value
}

// NewBucket creates a Bucket already filled to its burst cap, matching the
// teacher's convention of starting connections unthrottled until the first
// tick observes real traffic.
func NewBucket(rate, burst int64) *Bucket {
	if rate < 0 || burst < 0 {
		panic(fmt.Sprintf("BUG: NewBucket: negative rate/burst: %d/%d", rate, burst))
	}
	return &Bucket{value: burst, rate: rate, burst: burst}
}

// SetRateBurst updates the refill rate and cap in place; an in-flight
// Consume is unaffected, matching a live consensus/config reload that must
// not retroactively penalize bytes already granted.
func (b *Bucket) SetRateBurst(rate, burst int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rate, b.burst = rate, burst
	if b.value > burst {
		b.value = burst
	}
}

// Refill adds one tick's worth of tokens, capped at burst.
func (b *Bucket) Refill() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.value += b.rate
	if b.value > b.burst {
		b.value = b.burst
	}
}

// Value returns the current token count.
func (b *Bucket) Value() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.value
}

// Consume removes n tokens (which may drive the bucket negative — Limit's
// lower clamp can grant more than the bucket currently holds, and a
// direct Consume from an unlimited/local-address exempt path may overshoot
// deliberately) and reports whether the bucket is now exhausted (<=0).
func (b *Bucket) Consume(n int64) (blocked bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.value -= n
	return b.value <= 0
}

// Class distinguishes the two global buckets a connection can draw from.
type Class int

const (
	// Normal is bandwidth attributable to locally originated or terminated
	// traffic.
	Normal Class = iota
	// Relayed is bandwidth attributable to forwarding someone else's
	// circuit, or serving directory data outward.
	Relayed
)

// Globals holds the two process-wide buckets.
type Globals struct {
	Normal, Relayed *Bucket
}

// NewGlobals creates the two global buckets with the given rate/burst.
func NewGlobals(rate, burst, relayedRate, relayedBurst int64) *Globals {
	return &Globals{
		Normal:  NewBucket(rate, burst),
		Relayed: NewBucket(relayedRate, relayedBurst),
	}
}

// Select returns the bucket for the given traffic class.
func (g *Globals) Select(class Class) *Bucket {
	if class == Relayed {
		return g.Relayed
	}
	return g.Normal
}

// RefillAll ticks both global buckets; called once per scheduler tick
// (typically every 100ms).
func (g *Globals) RefillAll() {
	g.Normal.Refill()
	g.Relayed.Refill()
}

/* vim :set ts=4 sw=4 sts=4 noet : */
