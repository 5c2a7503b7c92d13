package orlink

import (
	"net"
	"testing"
	"time"

	"git.torproject.org/tor-or-core.git/conn"
)

func TestNetInfoRoundTrip(t *testing.T) {
	now := time.Unix(1700000000, 0)
	ours := []net.IP{net.ParseIP("198.51.100.7"), net.ParseIP("2001:db8::1")}
	body := EncodeNetInfo(now, net.ParseIP("203.0.113.5"), ours)

	got, err := DecodeNetInfo(body)
	if err != nil {
		t.Fatalf("DecodeNetInfo: %v", err)
	}
	if !got.Timestamp.Equal(now) {
		t.Fatalf("timestamp = %v, want %v", got.Timestamp, now)
	}
	if !got.TheirAddr.Equal(net.ParseIP("203.0.113.5")) {
		t.Fatalf("TheirAddr = %v", got.TheirAddr)
	}
	if len(got.OurAddrs) != 2 || !got.OurAddrs[0].Equal(ours[0]) || !got.OurAddrs[1].Equal(ours[1]) {
		t.Fatalf("OurAddrs = %v, want %v", got.OurAddrs, ours)
	}
}

func TestCertsRoundTripAndHasType(t *testing.T) {
	certs := []Cert{
		{Type: CertID1024, DER: []byte("id-cert-der")},
		{Type: CertTLSLink, DER: []byte("tls-link-der")},
	}
	body, err := EncodeCerts(certs)
	if err != nil {
		t.Fatalf("EncodeCerts: %v", err)
	}
	got, err := DecodeCerts(body)
	if err != nil {
		t.Fatalf("DecodeCerts: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d certs, want 2", len(got))
	}
	if !HasType(got, CertID1024) || !HasType(got, CertTLSLink) {
		t.Fatalf("expected both mandatory responder cert types present")
	}
	if HasType(got, CertAuth1024) {
		t.Fatalf("did not expect AUTH_1024 in responder cert set")
	}
}

func TestAuthChallengeRoundTrip(t *testing.T) {
	var nonce [32]byte
	for i := range nonce {
		nonce[i] = byte(i)
	}
	a := AuthChallenge{Challenge: nonce, Methods: []uint16{RSASha256TLSSecret}}
	body := EncodeAuthChallenge(a)
	got, err := DecodeAuthChallenge(body)
	if err != nil {
		t.Fatalf("DecodeAuthChallenge: %v", err)
	}
	if got.Challenge != nonce {
		t.Fatalf("challenge mismatch")
	}
	if !got.Accepts(RSASha256TLSSecret) {
		t.Fatalf("expected AUTH_CHALLENGE to accept RSA_SHA256_TLSSECRET")
	}
}

func TestIdentityAssignmentDerivesCircIDType(t *testing.T) {
	ours := IdentityDigest{0x10}
	lower := IdentityDigest{0x01}
	higher := IdentityDigest{0xff}

	l := &Link{}
	l.AssignIdentity(ours, lower)
	if l.CircIDType != CircIDHigher {
		t.Fatalf("expected CircIDHigher when peer identity is lower than ours, got %v", l.CircIDType)
	}

	l2 := &Link{}
	l2.AssignIdentity(ours, higher)
	if l2.CircIDType != CircIDLower {
		t.Fatalf("expected CircIDLower when peer identity is higher than ours, got %v", l2.CircIDType)
	}

	l3 := &Link{}
	l3.AssignIdentity(ours, IdentityDigest{})
	if l3.CircIDType != CircIDNeither {
		t.Fatalf("expected CircIDNeither for zero identity, got %v", l3.CircIDType)
	}
}

func alwaysFalse(*Link) bool { return false }

func newOpenLink(addr string, canonical bool, created time.Time) *Link {
	c := conn.New(conn.OrLink, conn.NoopHooks{}, nil)
	c.State = conn.StateOpen
	l := New(c, true)
	l.RealAddr = addr
	l.IsCanonical = canonical
	l.TimestampCreated = created
	return l
}

func TestGetForExtendIdentityMismatchScenario(t *testing.T) {
	now := time.Unix(1700000000, 0)
	existing := newOpenLink("198.51.100.7", false, now.Add(-2*time.Hour))
	chain := []*Link{existing}

	_, why := GetForExtend(chain, "203.0.113.5", alwaysFalse, now)
	if why != ExtendDialNewAllTooOld {
		t.Fatalf("GetForExtend reason = %v, want ExtendDialNewAllTooOld", why)
	}
}

func TestGetForExtendPrefersCanonical(t *testing.T) {
	now := time.Unix(1700000000, 0)
	nonCanonical := newOpenLink("203.0.113.5", false, now.Add(-time.Hour))
	canonical := newOpenLink("203.0.113.5", true, now.Add(-30*time.Minute))
	chain := []*Link{nonCanonical, canonical}

	best, why := GetForExtend(chain, "203.0.113.5", alwaysFalse, now)
	if why != ExtendUseExisting {
		t.Fatalf("reason = %v, want ExtendUseExisting", why)
	}
	if best != canonical {
		t.Fatalf("expected canonical link to win regardless of age")
	}
}

func TestSetBadConnectionsMarksOldLinks(t *testing.T) {
	now := time.Unix(1700000000, 0)
	old := newOpenLink("203.0.113.5", true, now.Add(-8*24*time.Hour))
	fresh := newOpenLink("203.0.113.6", true, now.Add(-time.Hour))
	chain := []*Link{old, fresh}

	counts := SetBadConnections(chain, alwaysFalse, now)
	if !old.IsBadForNewCircs {
		t.Fatalf("expected link older than 7 days to be marked bad")
	}
	if fresh.IsBadForNewCircs {
		t.Fatalf("fresh link should not be marked bad")
	}
	if counts.NOld != 1 {
		t.Fatalf("NOld = %d, want 1", counts.NOld)
	}
}

func TestSetBadConnectionsMarksNonCanonicalWhenCanonicalExists(t *testing.T) {
	now := time.Unix(1700000000, 0)
	canonical := newOpenLink("203.0.113.5", true, now.Add(-time.Hour))
	nonCanonical := newOpenLink("203.0.113.6", false, now.Add(-time.Hour))
	chain := []*Link{canonical, nonCanonical}

	SetBadConnections(chain, alwaysFalse, now)
	if nonCanonical.IsBadForNewCircs != true {
		t.Fatalf("expected non-canonical link to be marked bad once a canonical link exists")
	}
	if canonical.IsBadForNewCircs {
		t.Fatalf("canonical link must not be marked bad")
	}
}
