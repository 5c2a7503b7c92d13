package registry

import (
	"testing"
	"time"

	"git.torproject.org/tor-or-core.git/conn"
	"git.torproject.org/tor-or-core.git/orlink"
)

func newLink(addr string) *orlink.Link {
	c := conn.New(conn.OrLink, conn.NoopHooks{}, nil)
	c.State = conn.StateOpen
	l := orlink.New(c, true)
	l.RealAddr = addr
	l.TimestampCreated = time.Unix(1700000000, 0)
	return l
}

func TestSetIdentityInsertsAtHead(t *testing.T) {
	r := New()
	digest := orlink.IdentityDigest{0x01}
	a := newLink("198.51.100.1")
	b := newLink("198.51.100.2")

	r.SetIdentity(a, digest)
	r.SetIdentity(b, digest)

	chain := r.Find(digest)
	if len(chain) != 2 {
		t.Fatalf("chain length = %d, want 2", len(chain))
	}
	if chain[0] != b {
		t.Fatalf("expected most recently set identity at chain head")
	}
}

func TestSetIdentityIsIdempotent(t *testing.T) {
	r := New()
	digest := orlink.IdentityDigest{0x02}
	a := newLink("198.51.100.1")

	r.SetIdentity(a, digest)
	r.SetIdentity(a, digest)

	chain := r.Find(digest)
	if len(chain) != 1 {
		t.Fatalf("chain length = %d, want 1 (no duplicate entry)", len(chain))
	}
	if chain[0] != a {
		t.Fatalf("expected the single link to still be a")
	}
}

func TestSetIdentityZeroDigestDetaches(t *testing.T) {
	r := New()
	digest := orlink.IdentityDigest{0x03}
	a := newLink("198.51.100.1")
	r.SetIdentity(a, digest)

	r.SetIdentity(a, orlink.IdentityDigest{})

	if len(r.Find(digest)) != 0 {
		t.Fatalf("expected link to be detached from its old chain")
	}
	if !a.IdentityDigest.IsZero() {
		t.Fatalf("expected link's identity digest to be cleared")
	}
}

func TestSetIdentityMovesBetweenDigests(t *testing.T) {
	r := New()
	d1 := orlink.IdentityDigest{0x04}
	d2 := orlink.IdentityDigest{0x05}
	a := newLink("198.51.100.1")

	r.SetIdentity(a, d1)
	r.SetIdentity(a, d2)

	if len(r.Find(d1)) != 0 {
		t.Fatalf("expected link removed from its former chain")
	}
	chain := r.Find(d2)
	if len(chain) != 1 || chain[0] != a {
		t.Fatalf("expected link present under its new digest")
	}
}

func TestRemoveUnlinksFromChain(t *testing.T) {
	r := New()
	digest := orlink.IdentityDigest{0x06}
	a := newLink("198.51.100.1")
	b := newLink("198.51.100.2")
	r.SetIdentity(a, digest)
	r.SetIdentity(b, digest)

	r.Remove(a)

	chain := r.Find(digest)
	if len(chain) != 1 || chain[0] != b {
		t.Fatalf("expected only b left in chain, got %v", chain)
	}
	if !a.IdentityDigest.IsZero() {
		t.Fatalf("expected removed link's identity digest cleared")
	}
}

func TestIterAllCoversEveryChainExactlyOnce(t *testing.T) {
	r := New()
	d1 := orlink.IdentityDigest{0x07}
	d2 := orlink.IdentityDigest{0x08}
	a := newLink("198.51.100.1")
	b := newLink("198.51.100.2")
	c := newLink("198.51.100.3")
	r.SetIdentity(a, d1)
	r.SetIdentity(b, d1)
	r.SetIdentity(c, d2)

	seen := make(map[orlink.IdentityDigest]int)
	for _, chain := range r.IterAll() {
		seen[chain.Digest] = len(chain.Links)
	}
	if seen[d1] != 2 || seen[d2] != 1 {
		t.Fatalf("iterAll = %v, want {d1:2, d2:1}", seen)
	}
}

func TestGetForExtendDelegatesToOrlinkPolicy(t *testing.T) {
	r := New()
	digest := orlink.IdentityDigest{0x09}
	a := newLink("203.0.113.5")
	r.SetIdentity(a, digest)

	now := time.Unix(1700000000, 0)
	best, why := r.GetForExtend(digest, "203.0.113.5", func(*orlink.Link) bool { return false }, now)
	if why != orlink.ExtendUseExisting || best != a {
		t.Fatalf("GetForExtend = (%v, %v), want (a, ExtendUseExisting)", best, why)
	}
}

func TestSweepBadConnectionsCoversEveryChain(t *testing.T) {
	r := New()
	digest := orlink.IdentityDigest{0x0a}
	old := newLink("203.0.113.5")
	old.TimestampCreated = time.Unix(1700000000, 0).Add(-8 * 24 * time.Hour)
	r.SetIdentity(old, digest)

	counts := r.SweepBadConnections(func(*orlink.Link) bool { return false }, time.Unix(1700000000, 0))
	if counts[digest].NOld != 1 {
		t.Fatalf("NOld = %d, want 1", counts[digest].NOld)
	}
	if !old.IsBadForNewCircs {
		t.Fatalf("expected old link marked bad")
	}
}

/* vim :set ts=4 sw=4 sts=4 noet : */
