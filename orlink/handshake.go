package orlink

import (
	"crypto/rsa"
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/agl/ed25519"

	"git.torproject.org/tor-or-core.git/cell"
	"git.torproject.org/tor-or-core.git/conn"
	"git.torproject.org/tor-or-core.git/internal/csrand"
	"git.torproject.org/tor-or-core.git/internal/noncefilter"
	"git.torproject.org/tor-or-core.git/reason"
	"git.torproject.org/tor-or-core.git/ringbuf"
)

// Callbacks lets a collaborator (circuit layer, bootstrap reporter, guard
// state, key store / consensus cache) observe handshake progress and
// supply the peer key material this package cannot derive on its own,
// without orlink importing any of those packages.
type Callbacks struct {
	// OnOpen fires once, when the link transitions to conn.StateOpen.
	OnOpen func(l *Link)
	// OnCell fires for every DESTROY cell received and, once the link is
	// Open, for every other fixed cell except NETINFO and PADDING;
	// circuit-layer dispatch (relay cells, DESTROY-to-circuit delivery)
	// happens here.
	OnCell func(l *Link, c *cell.Cell)
	// OnFailure fires when the handshake is abandoned; err's reason.Kind
	// is already resolved via reason.FromKind by the caller if it needs
	// the wire-visible byte.
	OnFailure func(l *Link, err *reason.Error)
	// PeerRSAKey resolves the peer's long-term RSA identity public key,
	// used to verify an incoming AUTHENTICATE cell's signature (§4.7 step
	// 3). A nil callback, or one returning nil, means AUTHENTICATE cannot
	// be verified and the link is closed rather than trusted blindly.
	PeerRSAKey func(l *Link) *rsa.PublicKey
	// PeerEd25519Key resolves the peer's supplemental Ed25519 identity
	// public key, used to check the optional ID_ED25519 cross-cert in
	// CERTS. A nil callback, or one returning nil, means the cross-cert (if
	// offered) is left unchecked rather than rejected, since it is not
	// part of the mandatory v3 cert set.
	PeerEd25519Key func(l *Link) *[ed25519.PublicKeySize]byte
}

// Hooks adapts a Link + Callbacks pair to conn.Hooks, driving the OR
// handshake state machine and, once Open, the cell-dispatch loop.
type Hooks struct {
	conn.NoopHooks
	Link      *Link
	Callbacks Callbacks

	ourIdentity IdentityDigest
	nonces      *noncefilter.Filter
}

// NewHooks wires hooks up to drive l. ourIdentity is this relay's own
// identity digest, used for CircIDType assignment once the peer's
// identity is learned. nonces, if non-nil, is shared across every
// initiated link and rejects a responder replaying an AUTH_CHALLENGE
// nonce it has already issued on a prior link to the same process.
func NewHooks(l *Link, ourIdentity IdentityDigest, cb Callbacks, nonces *noncefilter.Filter) *Hooks {
	return &Hooks{Link: l, Callbacks: cb, ourIdentity: ourIdentity, nonces: nonces}
}

func (h *Hooks) fail(k reason.Kind, cause error) error {
	err := reason.New(k, cause)
	if h.Callbacks.OnFailure != nil {
		h.Callbacks.OnFailure(h.Link, err)
	}
	h.Link.MarkForClose(nil)
	return err
}

// FinishedConnecting starts the OR handshake once the TCP connect (and any
// proxy handshake) has completed; the caller has already installed a TLS
// socket before invoking this, or is about to.
func (h *Hooks) FinishedConnecting(c *conn.Connection) error {
	c.State = conn.StateTlsHandshaking
	return nil
}

// BeginHandshake transitions a link that has finished its TLS handshake
// (client renegotiation / server renegotiation is assumed already done by
// the caller) into version negotiation and sends our VERSIONS cell.
func (h *Hooks) BeginHandshake(v3Capable bool) []byte {
	l := h.Link
	l.Handshake = &HandshakeState{
		StartedHere: l.IsOutgoing,
		Transcript:  cell.NewTranscript(),
	}
	if v3Capable {
		l.State = conn.StateOrHandshakingV3
	} else {
		l.State = conn.StateOrHandshakingV2
	}

	versions := OurSupportedVersions
	if !v3Capable {
		versions = []uint16{1, familyV2Max}
	}
	v := &cell.VarCell{CircID: 0, Command: cell.Versions, Payload: cell.EncodeVersionsPayload(versions)}
	l.Handshake.Transcript.AbsorbVarCell(v, cell.Outgoing)
	l.Handshake.SentVersionsAt = time.Now()
	return cell.PackVar(v)
}

// ProcessInbuf implements the OR cell dispatch loop: dequeue complete
// cells from inbuf and drive them through the handshake state machine (or,
// once Open, hand fixed cells to Callbacks.OnCell).
func (h *Hooks) ProcessInbuf(c *conn.Connection, allowPartialCell bool) error {
	l := h.Link
	for {
		// l.LinkProto is 0 until VERSIONS negotiation completes, and
		// cell.CircIDLen treats anything below 4 as a 2-byte circ-id, which
		// is exactly the framing every pre-negotiation VERSIONS cell uses.
		fixed, varCell, status := cell.Dequeue(&c.Inbuf, l.LinkProto)
		switch status {
		case ringbuf.Incomplete:
			return nil
		case ringbuf.TooLong, ringbuf.Protocol:
			return h.fail(reason.Protocol, fmt.Errorf("orlink: malformed cell on wire"))
		}

		var err error
		if varCell != nil {
			err = h.dispatchVarCell(varCell)
		} else {
			err = h.dispatchFixedCell(fixed)
		}
		if err != nil {
			return err
		}
		if c.IsMarkedForClose() {
			return nil
		}
	}
}

func (h *Hooks) dispatchVarCell(v *cell.VarCell) error {
	l := h.Link
	if l.Handshake == nil {
		return h.fail(reason.Protocol, fmt.Errorf("orlink: variable cell %d outside handshake", v.Command))
	}
	if v.Command == cell.Authenticate {
		// The transcript AUTHENTICATE's signature binds to is frozen as of
		// the last cell before AUTHENTICATE itself (§4.7 step 3); absorbing
		// this cell's own bytes first would make the receiver's digest
		// disagree with what the signer computed.
		l.Handshake.Transcript.StopReceived()
	} else {
		l.Handshake.Transcript.AbsorbVarCell(v, cell.Incoming)
	}

	switch v.Command {
	case cell.Versions:
		return h.onVersions(v)
	case cell.Certs:
		return h.onCerts(v)
	case cell.AuthChallenge:
		return h.onAuthChallenge(v)
	case cell.Authenticate:
		return h.onAuthenticate(v)
	case cell.Vpadding:
		return nil
	default:
		return h.fail(reason.Protocol, fmt.Errorf("orlink: unrecognized variable command %d", v.Command))
	}
}

func (h *Hooks) dispatchFixedCell(c *cell.Cell) error {
	l := h.Link
	if l.Handshake != nil {
		l.Handshake.Transcript.AbsorbCell(c, l.LinkProto, cell.Incoming)
	}

	switch c.Command {
	case cell.Netinfo:
		return h.onNetInfo(c)
	case cell.Destroy:
		if h.Callbacks.OnCell != nil {
			h.Callbacks.OnCell(l, c)
		}
		return nil
	case cell.Padding:
		return nil
	default:
		if l.State != conn.StateOpen {
			return h.fail(reason.Protocol, fmt.Errorf("orlink: fixed cell %d before handshake completion", c.Command))
		}
		if h.Callbacks.OnCell != nil {
			h.Callbacks.OnCell(l, c)
		}
		return nil
	}
}

func (h *Hooks) onVersions(v *cell.VarCell) error {
	l := h.Link
	if l.LinkProto != 0 {
		return h.fail(reason.Protocol, fmt.Errorf("orlink: duplicate VERSIONS"))
	}
	peerVersions := cell.DecodeVersionsPayload(v.Payload)

	best := uint16(0)
	for _, ours := range OurSupportedVersions {
		for _, theirs := range peerVersions {
			if ours == theirs && ours > best {
				best = ours
			}
		}
	}
	if best == 0 {
		return h.fail(reason.Protocol, fmt.Errorf("orlink: no common link-protocol version"))
	}
	l.LinkProto = int(best)

	if best >= familyV3Min {
		if !l.IsOutgoing {
			// The responder sends CERTS + AUTH_CHALLENGE (then NETINFO)
			// unprompted, per §4.7 step 4; the initiator just waits.
			return h.sendCertsAndChallenge()
		}
		return nil // initiator waits for CERTS before proceeding, per §4.7
	}
	// v2 family: go straight to NETINFO exchange.
	return h.sendNetInfo()
}

func (h *Hooks) sendNetInfo() error {
	l := h.Link
	body := EncodeNetInfo(time.Now(), parseHostIP(l.RealAddr), l.OurAddrs)
	c := &cell.Cell{CircID: 0, Command: cell.Netinfo}
	copy(c.Payload[:], body)
	if l.Handshake != nil {
		l.Handshake.Transcript.AbsorbCell(c, l.LinkProto, cell.Outgoing)
		// NETINFO is always the last cell either side sends before an
		// optional AUTHENTICATE (§4.7 step 3/4); freeze the sent digest
		// here so a later AUTHENTICATE verification reads a stable value.
		l.Handshake.Transcript.StopSent()
	}
	l.Connection.AppendOutbuf(cell.Pack(c, l.LinkProto))
	return nil
}

func (h *Hooks) onNetInfo(c *cell.Cell) error {
	l := h.Link
	if _, err := DecodeNetInfo(c.Payload[:]); err != nil {
		return h.fail(reason.Protocol, err)
	}
	if l.State == conn.StateOpen {
		return nil
	}
	l.State = conn.StateOpen
	l.Handshake = nil
	if h.Callbacks.OnOpen != nil {
		h.Callbacks.OnOpen(l)
	}
	return nil
}

func (h *Hooks) onCerts(v *cell.VarCell) error {
	l := h.Link
	certs, err := DecodeCerts(v.Payload)
	if err != nil {
		return h.fail(reason.Protocol, err)
	}
	if !HasType(certs, CertID1024) {
		return h.fail(reason.Protocol, fmt.Errorf("orlink: CERTS missing ID_1024"))
	}
	if l.IsOutgoing && !HasType(certs, CertTLSLink) {
		return h.fail(reason.Protocol, fmt.Errorf("orlink: responder's CERTS missing TLS_LINK"))
	}
	l.Handshake.PeerIDCert = firstOfType(certs, CertID1024)
	l.Handshake.PeerTLSLinkCert = firstOfType(certs, CertTLSLink)
	l.Handshake.PeerIDEd25519Cert = firstOfType(certs, CertIDEd25519)

	if l.Handshake.PeerIDEd25519Cert != nil && h.Callbacks.PeerEd25519Key != nil {
		if pub := h.Callbacks.PeerEd25519Key(l); pub != nil {
			cert := Cert{Type: CertIDEd25519, DER: l.Handshake.PeerIDEd25519Cert}
			if err := VerifyIDEd25519Cert(l.IdentityDigest, cert, pub); err != nil {
				return h.fail(reason.Protocol, err)
			}
		}
	}
	// The responder already sent its own CERTS + AUTH_CHALLENGE proactively
	// from onVersions (§4.7 step 4); any CERTS cell reaching this side of
	// the dispatch is the optional client-authentication exchange, and
	// needs no reply of its own.
	return nil
}

func (h *Hooks) sendCertsAndChallenge() error {
	l := h.Link
	// The concrete certificate bytes (identity key DER, TLS-link binding)
	// are supplied by the caller's key material via Link.Handshake before
	// the handshake starts; here the cell framing/transcript bookkeeping
	// is what belongs to this package.
	body, err := EncodeCerts([]Cert{
		{Type: CertID1024, DER: l.Handshake.OurIDCert},
		{Type: CertTLSLink, DER: l.Handshake.OurAuthCert},
	})
	if err != nil {
		return h.fail(reason.Protocol, err)
	}
	certsCell := &cell.VarCell{CircID: 0, Command: cell.Certs, Payload: body}
	l.Handshake.Transcript.AbsorbVarCell(certsCell, cell.Outgoing)
	l.Connection.AppendOutbuf(cell.PackVar(certsCell))

	var nonce [32]byte
	if err := csrand.Bytes(nonce[:]); err != nil {
		return h.fail(reason.Io, err)
	}
	challenge := AuthChallenge{Challenge: nonce, Methods: []uint16{RSASha256TLSSecret}}
	l.Handshake.PeerChallenge = challenge.Challenge
	challengeCell := &cell.VarCell{CircID: 0, Command: cell.AuthChallenge, Payload: EncodeAuthChallenge(challenge)}
	l.Handshake.Transcript.AbsorbVarCell(challengeCell, cell.Outgoing)
	l.Connection.AppendOutbuf(cell.PackVar(challengeCell))

	// §4.7 step 4 / §8 scenario 2: the responder's v3 sequence is CERTS,
	// AUTH_CHALLENGE, then NETINFO, sent as one batch.
	return h.sendNetInfo()
}

func (h *Hooks) onAuthChallenge(v *cell.VarCell) error {
	l := h.Link
	ac, err := DecodeAuthChallenge(v.Payload)
	if err != nil {
		return h.fail(reason.Protocol, err)
	}
	if h.nonces != nil && h.nonces.TestAndSet(time.Now().Unix(), ac.Challenge[:]) {
		return h.fail(reason.Protocol, fmt.Errorf("orlink: AUTH_CHALLENGE nonce reused"))
	}
	l.Handshake.PeerChallenge = ac.Challenge
	l.Handshake.PeerAuthTypes = ac.Methods
	// Authentication is optional; if the caller has no client-auth key
	// configured it skips straight to NETINFO, matching "if no
	// AUTHENTICATE was required, its absence is not an error" (§8).
	return h.sendNetInfo()
}

func (h *Hooks) onAuthenticate(v *cell.VarCell) error {
	l := h.Link
	a, err := DecodeAuthenticate(v.Payload)
	if err != nil {
		return h.fail(reason.Protocol, err)
	}
	if a.AuthType != RSASha256TLSSecret {
		return h.fail(reason.Protocol, fmt.Errorf("orlink: unsupported AUTHENTICATE type %d", a.AuthType))
	}
	// Resolving the peer's RSA identity public key is a collaborator
	// concern (key store / consensus cache); an AUTHENTICATE that cannot
	// be checked against a known key is treated the same as one that
	// fails to verify (§8: "An AUTHENTICATE signature that doesn't verify
	// closes the link").
	if h.Callbacks.PeerRSAKey == nil {
		return h.fail(reason.Protocol, fmt.Errorf("orlink: AUTHENTICATE received with no peer key resolver configured"))
	}
	peerKey := h.Callbacks.PeerRSAKey(l)
	if peerKey == nil {
		return h.fail(reason.Protocol, fmt.Errorf("orlink: unknown peer identity key for AUTHENTICATE"))
	}

	serverIDDER, clientIDDER := l.Handshake.OurIDCert, l.Handshake.PeerIDCert
	serverTLSLinkDER := l.Handshake.OurAuthCert
	serverTranscript, clientTranscript := l.Handshake.Transcript.SentDigest(), l.Handshake.Transcript.ReceivedDigest()
	if l.IsOutgoing {
		serverIDDER, clientIDDER = l.Handshake.PeerIDCert, l.Handshake.OurIDCert
		serverTLSLinkDER = l.Handshake.PeerTLSLinkCert
		serverTranscript, clientTranscript = clientTranscript, serverTranscript
	}
	expect := AuthBodyFields{
		ClientIDSha256:    sha256.Sum256(clientIDDER),
		ServerIDSha256:    sha256.Sum256(serverIDDER),
		ServerTranscript:  serverTranscript,
		ClientTranscript:  clientTranscript,
		TLSLinkCertSha256: sha256.Sum256(serverTLSLinkDER),
	}
	if err := VerifyAuthenticateBodyRSA(a.Body, expect, peerKey); err != nil {
		return h.fail(reason.Protocol, err)
	}
	return nil
}

func firstOfType(certs []Cert, t CertType) []byte {
	for _, c := range certs {
		if c.Type == t {
			return c.DER
		}
	}
	return nil
}

/* vim :set ts=4 sw=4 sts=4 noet : */
