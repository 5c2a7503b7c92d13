// Package registry implements the identity-keyed multi-map of OR links:
// a relay may have several simultaneous links to the same peer, and the
// registry is the shared lookup every "find a link to extend through"
// and "mark old links bad" operation goes through.
//
// The original design threads an intrusive next_with_same_id pointer
// through each link so the registry's bucket is a linked list living
// inside the link itself. Go has no borrow checker forcing that
// economy, and an intrusive list tangles the link's lifetime with the
// registry's; a plain map[IdentityDigest][]*orlink.Link, as recommended
// for this port, avoids the cycle and lets the registry be torn down or
// rebuilt independently of any given link's Connection table entry.
package registry

import (
	"sync"

	"git.torproject.org/tor-or-core.git/orlink"
)

// Registry is the multi-map from identity digest to the chain of links
// sharing that identity (§4.8).
type Registry struct {
	mu     sync.Mutex
	chains map[orlink.IdentityDigest][]*orlink.Link
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{chains: make(map[orlink.IdentityDigest][]*orlink.Link)}
}

// SetIdentity implements set_identity: detach link from whatever chain it
// is currently keyed under (if any), then, unless digest is zero, insert
// it at the head of digest's chain. Calling this twice with the same
// digest is idempotent: the second call detaches the link from the
// chain it is already the head of and reinserts it at the head, so no
// duplicate entry is ever created.
func (r *Registry) SetIdentity(link *orlink.Link, digest orlink.IdentityDigest) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.detachLocked(link)
	link.IdentityDigest = digest
	if digest.IsZero() {
		return
	}
	r.chains[digest] = append([]*orlink.Link{link}, r.chains[digest]...)
}

// Remove implements remove: unlink link from its chain, if it has one.
func (r *Registry) Remove(link *orlink.Link) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.detachLocked(link)
	link.IdentityDigest = orlink.IdentityDigest{}
}

// detachLocked removes link from the chain keyed by its current
// IdentityDigest, if it is in one. Caller holds r.mu.
func (r *Registry) detachLocked(link *orlink.Link) {
	digest := link.IdentityDigest
	if digest.IsZero() {
		return
	}
	chain := r.chains[digest]
	for i, l := range chain {
		if l == link {
			chain = append(chain[:i], chain[i+1:]...)
			break
		}
	}
	if len(chain) == 0 {
		delete(r.chains, digest)
	} else {
		r.chains[digest] = chain
	}
}

// Find implements find(digest) -> &chain. The returned slice is a copy;
// callers may range over it freely without holding the registry's lock.
func (r *Registry) Find(digest orlink.IdentityDigest) []*orlink.Link {
	r.mu.Lock()
	defer r.mu.Unlock()
	chain := r.chains[digest]
	out := make([]*orlink.Link, len(chain))
	copy(out, chain)
	return out
}

// Chain is one (digest, links) pair as seen by IterAll.
type Chain struct {
	Digest orlink.IdentityDigest
	Links  []*orlink.Link
}

// IterAll implements iter_all(): a snapshot of every (digest, chain) pair,
// for reconciling the registry against a newly loaded consensus.
func (r *Registry) IterAll() []Chain {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Chain, 0, len(r.chains))
	for digest, chain := range r.chains {
		links := make([]*orlink.Link, len(chain))
		copy(links, chain)
		out = append(out, Chain{Digest: digest, Links: links})
	}
	return out
}

// Len reports how many distinct identities the registry currently holds.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.chains)
}

/* vim :set ts=4 sw=4 sts=4 noet : */
