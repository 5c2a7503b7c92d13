package orlink

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"testing"
	"time"

	"git.torproject.org/tor-or-core.git/cell"
	"git.torproject.org/tor-or-core.git/conn"
	"git.torproject.org/tor-or-core.git/internal/noncefilter"
)

func authChallengeBytes(nonce [32]byte) []byte {
	ac := AuthChallenge{Challenge: nonce, Methods: []uint16{RSASha256TLSSecret}}
	v := &cell.VarCell{CircID: 0, Command: cell.AuthChallenge, Payload: EncodeAuthChallenge(ac)}
	return cell.PackVar(v)
}

func newInitiatorHooks(filter *noncefilter.Filter) (*conn.Connection, *Hooks) {
	c := conn.New(conn.OrLink, conn.NoopHooks{}, nil)
	l := New(c, true)
	h := NewHooks(l, IdentityDigest{0x01}, Callbacks{}, filter)
	c.Hooks = h
	h.BeginHandshake(true)
	return c, h
}

func TestAuthChallengeNonceReuseRejected(t *testing.T) {
	filter, err := noncefilter.New()
	if err != nil {
		t.Fatalf("noncefilter.New: %v", err)
	}
	var nonce [32]byte
	for i := range nonce {
		nonce[i] = byte(i)
	}

	c, h := newInitiatorHooks(filter)
	c.Inbuf.Append(authChallengeBytes(nonce))
	if err := h.ProcessInbuf(c, false); err != nil {
		t.Fatalf("first AUTH_CHALLENGE should be accepted, got %v", err)
	}
	if c.IsMarkedForClose() {
		t.Fatalf("link should still be open after first AUTH_CHALLENGE")
	}

	c2, h2 := newInitiatorHooks(filter)
	c2.Inbuf.Append(authChallengeBytes(nonce))
	if err := h2.ProcessInbuf(c2, false); err == nil {
		t.Fatalf("expected replayed AUTH_CHALLENGE nonce to be rejected")
	}
	if !c2.IsMarkedForClose() {
		t.Fatalf("expected link to be marked for close after nonce reuse")
	}
}

func TestAuthChallengeDistinctNoncesAccepted(t *testing.T) {
	filter, err := noncefilter.New()
	if err != nil {
		t.Fatalf("noncefilter.New: %v", err)
	}
	var nonceA, nonceB [32]byte
	nonceB[0] = 0xff

	c, h := newInitiatorHooks(filter)
	c.Inbuf.Append(authChallengeBytes(nonceA))
	if err := h.ProcessInbuf(c, false); err != nil {
		t.Fatalf("ProcessInbuf(nonceA): %v", err)
	}

	c2, h2 := newInitiatorHooks(filter)
	c2.Inbuf.Append(authChallengeBytes(nonceB))
	if err := h2.ProcessInbuf(c2, false); err != nil {
		t.Fatalf("ProcessInbuf(nonceB): %v", err)
	}
	if c2.IsMarkedForClose() {
		t.Fatalf("distinct nonce should not be rejected")
	}
}

func TestVersionsNegotiatesHighestCommon(t *testing.T) {
	c, h := newInitiatorHooks(nil)
	v := &cell.VarCell{CircID: 0, Command: cell.Versions, Payload: cell.EncodeVersionsPayload([]uint16{1, 2, 3})}
	c.Inbuf.Append(cell.PackVar(v))

	if err := h.ProcessInbuf(c, false); err != nil {
		t.Fatalf("ProcessInbuf: %v", err)
	}
	if h.Link.LinkProto != 3 {
		t.Fatalf("LinkProto = %d, want 3", h.Link.LinkProto)
	}
}

func TestNetInfoCompletesHandshakeAndFiresOnOpen(t *testing.T) {
	var opened *Link
	c := conn.New(conn.OrLink, conn.NoopHooks{}, nil)
	l := New(c, true)
	h := NewHooks(l, IdentityDigest{0x01}, Callbacks{OnOpen: func(l *Link) { opened = l }}, nil)
	c.Hooks = h
	h.BeginHandshake(false)
	l.LinkProto = 2

	body := EncodeNetInfo(time.Unix(1700000000, 0), nil, nil)
	fc := &cell.Cell{CircID: 0, Command: cell.Netinfo}
	copy(fc.Payload[:], body)
	c.Inbuf.Append(cell.Pack(fc, l.LinkProto))

	if err := h.ProcessInbuf(c, false); err != nil {
		t.Fatalf("ProcessInbuf: %v", err)
	}
	if l.State != conn.StateOpen {
		t.Fatalf("state = %v, want StateOpen", l.State)
	}
	if opened != l {
		t.Fatalf("expected OnOpen callback to fire with this link")
	}
}

func newResponderHooks(cb Callbacks) (*conn.Connection, *Hooks) {
	c := conn.New(conn.OrLink, conn.NoopHooks{}, nil)
	l := New(c, false)
	h := NewHooks(l, IdentityDigest{0x02}, cb, nil)
	c.Hooks = h
	h.BeginHandshake(true)
	return c, h
}

func TestOnVersionsV3ResponderSendsCertsChallengeAndNetInfo(t *testing.T) {
	c, h := newResponderHooks(Callbacks{})
	h.Link.Handshake.OurIDCert = []byte("server-id-cert")
	h.Link.Handshake.OurAuthCert = []byte("server-tls-link-cert")

	v := &cell.VarCell{CircID: 0, Command: cell.Versions, Payload: cell.EncodeVersionsPayload([]uint16{1, 2, 3})}
	c.Inbuf.Append(cell.PackVar(v))
	if err := h.ProcessInbuf(c, false); err != nil {
		t.Fatalf("ProcessInbuf: %v", err)
	}
	if h.Link.LinkProto != 3 {
		t.Fatalf("LinkProto = %d, want 3", h.Link.LinkProto)
	}

	out := c.Outbuf.Bytes()
	var varCmds []cell.Command
	for _, want := range []cell.Command{cell.Certs, cell.AuthChallenge} {
		if len(out) < 5 {
			t.Fatalf("outbuf ran out while expecting a %d cell", want)
		}
		var hdr [5]byte
		copy(hdr[:], out)
		_, cmd, payloadLen := cell.UnpackVarHeader(hdr)
		varCmds = append(varCmds, cmd)
		out = out[5+payloadLen:]
	}
	if varCmds[0] != cell.Certs || varCmds[1] != cell.AuthChallenge {
		t.Fatalf("var cell order = %v, want [Certs, AuthChallenge]", varCmds)
	}

	fixedSize := cell.Size(h.Link.LinkProto)
	if len(out) != fixedSize {
		t.Fatalf("trailing bytes = %d, want exactly one fixed cell (%d)", len(out), fixedSize)
	}
	if cell.Command(out[cell.CircIDLen(h.Link.LinkProto)]) != cell.Netinfo {
		t.Fatalf("expected the fixed cell following CERTS/AUTH_CHALLENGE to be NETINFO")
	}
}

func TestOnAuthenticateAcceptsValidSignature(t *testing.T) {
	clientKey, err := rsa.GenerateKey(rand.Reader, 1024)
	if err != nil {
		t.Fatalf("rsa.GenerateKey: %v", err)
	}

	_, h := newResponderHooks(Callbacks{
		PeerRSAKey: func(l *Link) *rsa.PublicKey { return &clientKey.PublicKey },
	})
	l := h.Link
	l.Handshake.OurIDCert = []byte("server-id-cert")
	l.Handshake.OurAuthCert = []byte("server-tls-link-cert")
	l.Handshake.PeerIDCert = []byte("client-id-cert")

	fields := AuthBodyFields{
		ClientIDSha256:    sha256.Sum256(l.Handshake.PeerIDCert),
		ServerIDSha256:    sha256.Sum256(l.Handshake.OurIDCert),
		ServerTranscript:  l.Handshake.Transcript.SentDigest(),
		ClientTranscript:  l.Handshake.Transcript.ReceivedDigest(),
		TLSLinkCertSha256: sha256.Sum256(l.Handshake.OurAuthCert),
		Time:              time.Unix(1700000000, 0),
	}
	body, err := BuildAuthenticateBodyRSA(fields, clientKey)
	if err != nil {
		t.Fatalf("BuildAuthenticateBodyRSA: %v", err)
	}
	a := AuthenticateCell{AuthType: RSASha256TLSSecret, Body: body}
	v := &cell.VarCell{CircID: 0, Command: cell.Authenticate, Payload: EncodeAuthenticate(a)}

	if err := h.dispatchVarCell(v); err != nil {
		t.Fatalf("expected AUTHENTICATE with a valid signature to be accepted, got %v", err)
	}
}

func TestOnAuthenticateRejectsForgedSignature(t *testing.T) {
	clientKey, err := rsa.GenerateKey(rand.Reader, 1024)
	if err != nil {
		t.Fatalf("rsa.GenerateKey: %v", err)
	}
	forgerKey, err := rsa.GenerateKey(rand.Reader, 1024)
	if err != nil {
		t.Fatalf("rsa.GenerateKey: %v", err)
	}

	_, h := newResponderHooks(Callbacks{
		PeerRSAKey: func(l *Link) *rsa.PublicKey { return &clientKey.PublicKey },
	})
	l := h.Link
	l.Handshake.OurIDCert = []byte("server-id-cert")
	l.Handshake.OurAuthCert = []byte("server-tls-link-cert")
	l.Handshake.PeerIDCert = []byte("client-id-cert")

	fields := AuthBodyFields{
		ClientIDSha256:    sha256.Sum256(l.Handshake.PeerIDCert),
		ServerIDSha256:    sha256.Sum256(l.Handshake.OurIDCert),
		ServerTranscript:  l.Handshake.Transcript.SentDigest(),
		ClientTranscript:  l.Handshake.Transcript.ReceivedDigest(),
		TLSLinkCertSha256: sha256.Sum256(l.Handshake.OurAuthCert),
		Time:              time.Unix(1700000000, 0),
	}
	// Signed by an impostor key, not the one PeerRSAKey resolves to.
	body, err := BuildAuthenticateBodyRSA(fields, forgerKey)
	if err != nil {
		t.Fatalf("BuildAuthenticateBodyRSA: %v", err)
	}
	a := AuthenticateCell{AuthType: RSASha256TLSSecret, Body: body}
	v := &cell.VarCell{CircID: 0, Command: cell.Authenticate, Payload: EncodeAuthenticate(a)}

	if err := h.dispatchVarCell(v); err == nil {
		t.Fatalf("expected a forged AUTHENTICATE signature to be rejected")
	}
	if !h.Link.IsMarkedForClose() {
		t.Fatalf("expected link to be marked for close after signature verification failure")
	}
}

func TestOnAuthenticateRejectsWithNoResolverConfigured(t *testing.T) {
	_, h := newResponderHooks(Callbacks{})
	l := h.Link
	body, err := BuildAuthenticateBodyRSA(AuthBodyFields{Time: time.Unix(1700000000, 0)}, mustRSAKey(t))
	if err != nil {
		t.Fatalf("BuildAuthenticateBodyRSA: %v", err)
	}
	a := AuthenticateCell{AuthType: RSASha256TLSSecret, Body: body}
	v := &cell.VarCell{CircID: 0, Command: cell.Authenticate, Payload: EncodeAuthenticate(a)}

	if err := h.dispatchVarCell(v); err == nil {
		t.Fatalf("expected AUTHENTICATE to be rejected with no PeerRSAKey resolver configured")
	}
	if !l.IsMarkedForClose() {
		t.Fatalf("expected link to be marked for close")
	}
}

/* vim :set ts=4 sw=4 sts=4 noet : */
