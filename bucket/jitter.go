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

import (
	"crypto/sha256"
	"encoding/binary"
	"io"
	"time"

	"golang.org/x/crypto/hkdf"

	"git.torproject.org/tor-or-core.git/internal/csrand"
)

// jitterInfo labels the HKDF expansion so that this derivation can never be
// confused with key material drawn from the same secret for another
// purpose.
var jitterInfo = []byte("tor-or-core tick-jitter")

// TickJitter derives a small, unpredictable offset around base (+-10%)
// from a freshly drawn CSPRNG secret, so that refill ticks are not emitted
// at a perfectly periodic, externally fingerprintable cadence.
func TickJitter(base time.Duration) (time.Duration, error) {
	var secret [32]byte
	if err := csrand.Bytes(secret[:]); err != nil {
		return 0, err
	}

	kdf := hkdf.New(sha256.New, secret[:], nil, jitterInfo)
	var raw [8]byte
	if _, err := io.ReadFull(kdf, raw[:]); err != nil {
		return 0, err
	}

	// Map the uniform 64-bit output onto [-10%, +10%] of base.
	frac := float64(binary.BigEndian.Uint64(raw[:])) / float64(1<<64)
	spread := float64(base) * 0.2
	offset := time.Duration(frac*spread - spread/2)
	return base + offset, nil
}

/* vim :set ts=4 sw=4 sts=4 noet : */
