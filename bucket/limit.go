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

package bucket

import "time"

// Limit computes how many bytes a connection may move in one scheduler
// pass: min(connBucket, globalBucket), snapped down to a multiple of unit,
// then clamped to [lo, hi] where lo/hi scale with unit and whether the
// connection is high priority. unit is the cell size for OR links, or the
// relay payload size for anything else.
func Limit(connValue, globalValue int64, unit int, highPriority bool) int {
	if unit <= 0 {
		panic("BUG: bucket.Limit: non-positive unit")
	}

	n := connValue
	if globalValue < n {
		n = globalValue
	}
	if n <= 0 {
		return 0
	}

	lo := int64(2 * unit)
	hi := int64(16 * unit)
	if highPriority {
		lo = int64(4 * unit)
		hi = int64(32 * unit)
	}

	snapped := (n / int64(unit)) * int64(unit)
	if snapped < lo {
		snapped = lo
	}
	if snapped > hi {
		snapped = hi
	}
	return int(snapped)
}

// relayedIdleWindow is how long an OR link may go without carrying a
// locally originated circuit before its traffic counts as relayed.
const relayedIdleWindow = 30 * time.Second

// ClassifyOrLink implements the OR-link half of the "relayed" definition:
// a link counts as relayed when it has not carried a locally originated
// circuit within the last 30 seconds.
func ClassifyOrLink(lastLocalCircuit, now time.Time) Class {
	if now.Sub(lastLocalCircuit) >= relayedIdleWindow {
		return Relayed
	}
	return Normal
}

// ClassifyDirLink implements the directory-link half: any link serving
// descriptor/consensus data outward counts as relayed regardless of
// timing.
func ClassifyDirLink(servingOutward bool) Class {
	if servingOutward {
		return Relayed
	}
	return Normal
}

// ResolveRateBurst implements the config-vs-consensus precedence the spec
// leaves as an Open Question: an explicit, positive per-connection config
// value always wins; otherwise the consensus-parameter fallback applies.
// This is deliberately the single place that decision is made (see
// DESIGN.md), rather than scattered across call sites as in the original.
func ResolveRateBurst(configRate, configBurst, consensusRate, consensusBurst int64) (rate, burst int64) {
	rate = consensusRate
	if configRate > 0 {
		rate = configRate
	}
	burst = consensusBurst
	if configBurst > 0 {
		burst = configBurst
	}
	return rate, burst
}

/* vim :set ts=4 sw=4 sts=4 noet : */
