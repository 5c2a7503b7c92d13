package registry

import (
	"time"

	"git.torproject.org/tor-or-core.git/orlink"
)

// GetForExtend looks up digest's chain and runs orlink's selection-for-reuse
// policy over it, so circuit-extend callers never need to touch the
// registry's locking or chain representation directly.
func (r *Registry) GetForExtend(digest orlink.IdentityDigest, targetAddr string, hasCircuits orlink.HasCircuits, now time.Time) (*orlink.Link, orlink.ExtendReason) {
	return orlink.GetForExtend(r.Find(digest), targetAddr, hasCircuits, now)
}

// SweepBadConnections runs orlink.SetBadConnections over every chain in the
// registry, for the periodic badness-marking pass described in §4.7.
func (r *Registry) SweepBadConnections(hasCircuits orlink.HasCircuits, now time.Time) map[orlink.IdentityDigest]orlink.BadnessCounts {
	out := make(map[orlink.IdentityDigest]orlink.BadnessCounts)
	for _, chain := range r.IterAll() {
		out[chain.Digest] = orlink.SetBadConnections(chain.Links, hasCircuits, now)
	}
	return out
}

/* vim :set ts=4 sw=4 sts=4 noet : */
