package orlink

import (
	"encoding/binary"
	"fmt"
)

// CertType identifies the role a certificate plays within a CERTS cell
// (§6: "Required cert types on responder: ID_1024=2 and TLS_LINK=1; on
// authenticating initiator: ID_1024=2 and AUTH_1024=3").
type CertType byte

const (
	CertTLSLink  CertType = 1
	CertID1024   CertType = 2
	CertAuth1024 CertType = 3
	// CertIDEd25519 is not part of the original v3 handshake's mandatory
	// set; it is carried as an additional, optional entry so a relay that
	// also holds an Ed25519 master identity key (github.com/agl/ed25519)
	// can offer a supplemental self-signed binding a peer may check.
	CertIDEd25519 CertType = 4
)

// Cert is one entry of a CERTS cell.
type Cert struct {
	Type CertType
	DER  []byte
}

// EncodeCerts serializes the CERTS cell body: n_certs(1) || (cert_type(1)
// || cert_len(2) || cert_der(cert_len))*n_certs.
func EncodeCerts(certs []Cert) ([]byte, error) {
	if len(certs) > 255 {
		return nil, fmt.Errorf("orlink: too many certs (%d) for CERTS cell", len(certs))
	}
	out := []byte{byte(len(certs))}
	for _, c := range certs {
		if len(c.DER) > 1<<16-1 {
			return nil, fmt.Errorf("orlink: cert too large (%d bytes)", len(c.DER))
		}
		var hdr [3]byte
		hdr[0] = byte(c.Type)
		binary.BigEndian.PutUint16(hdr[1:], uint16(len(c.DER)))
		out = append(out, hdr[:]...)
		out = append(out, c.DER...)
	}
	return out, nil
}

// DecodeCerts is the inverse of EncodeCerts.
func DecodeCerts(payload []byte) ([]Cert, error) {
	if len(payload) < 1 {
		return nil, fmt.Errorf("orlink: CERTS payload too short")
	}
	n := int(payload[0])
	rest := payload[1:]
	out := make([]Cert, 0, n)
	for i := 0; i < n; i++ {
		if len(rest) < 3 {
			return nil, fmt.Errorf("orlink: truncated CERTS entry %d", i)
		}
		typ := CertType(rest[0])
		certLen := int(binary.BigEndian.Uint16(rest[1:3]))
		rest = rest[3:]
		if len(rest) < certLen {
			return nil, fmt.Errorf("orlink: truncated cert body in entry %d", i)
		}
		out = append(out, Cert{Type: typ, DER: append([]byte(nil), rest[:certLen]...)})
		rest = rest[certLen:]
	}
	return out, nil
}

// HasType reports whether certs contains an entry of the given type; used
// to enforce the "CERTS cell missing ID_1024 or TLS_LINK is a protocol
// error" boundary behavior.
func HasType(certs []Cert, t CertType) bool {
	for _, c := range certs {
		if c.Type == t {
			return true
		}
	}
	return false
}

// AuthChallenge is the parsed body of an AUTH_CHALLENGE cell.
type AuthChallenge struct {
	Challenge [32]byte
	Methods   []uint16
}

// RSASha256TLSSecret is the only authentication-type code this core
// accepts (§4.7 step 2).
const RSASha256TLSSecret uint16 = 1

// EncodeAuthChallenge serializes challenge(32) || n_methods(2) ||
// method(2)*n_methods.
func EncodeAuthChallenge(a AuthChallenge) []byte {
	out := make([]byte, 0, 34+2*len(a.Methods))
	out = append(out, a.Challenge[:]...)
	var n [2]byte
	binary.BigEndian.PutUint16(n[:], uint16(len(a.Methods)))
	out = append(out, n[:]...)
	for _, m := range a.Methods {
		var b [2]byte
		binary.BigEndian.PutUint16(b[:], m)
		out = append(out, b[:]...)
	}
	return out
}

// DecodeAuthChallenge is the inverse of EncodeAuthChallenge.
func DecodeAuthChallenge(payload []byte) (*AuthChallenge, error) {
	if len(payload) < 34 {
		return nil, fmt.Errorf("orlink: AUTH_CHALLENGE payload too short")
	}
	var a AuthChallenge
	copy(a.Challenge[:], payload[:32])
	n := int(binary.BigEndian.Uint16(payload[32:34]))
	rest := payload[34:]
	if len(rest) < n*2 {
		return nil, fmt.Errorf("orlink: truncated AUTH_CHALLENGE method list")
	}
	a.Methods = make([]uint16, n)
	for i := 0; i < n; i++ {
		a.Methods[i] = binary.BigEndian.Uint16(rest[i*2:])
	}
	return &a, nil
}

// Accepts reports whether the challenge lists method.
func (a *AuthChallenge) Accepts(method uint16) bool {
	for _, m := range a.Methods {
		if m == method {
			return true
		}
	}
	return false
}

// AuthenticateCell is the parsed header of an AUTHENTICATE cell; Body's
// internal layout is defined by authBodyPreimage/ParseAuthBodyFields in
// authenticate.go.
type AuthenticateCell struct {
	AuthType uint16
	Body     []byte
}

// EncodeAuthenticate serializes authtype(2) || body_len(2) || body.
func EncodeAuthenticate(a AuthenticateCell) []byte {
	out := make([]byte, 4, 4+len(a.Body))
	binary.BigEndian.PutUint16(out[0:2], a.AuthType)
	binary.BigEndian.PutUint16(out[2:4], uint16(len(a.Body)))
	out = append(out, a.Body...)
	return out
}

// DecodeAuthenticate is the inverse of EncodeAuthenticate.
func DecodeAuthenticate(payload []byte) (*AuthenticateCell, error) {
	if len(payload) < 4 {
		return nil, fmt.Errorf("orlink: AUTHENTICATE payload too short")
	}
	authType := binary.BigEndian.Uint16(payload[0:2])
	bodyLen := int(binary.BigEndian.Uint16(payload[2:4]))
	if len(payload) < 4+bodyLen {
		return nil, fmt.Errorf("orlink: truncated AUTHENTICATE body")
	}
	return &AuthenticateCell{AuthType: authType, Body: payload[4 : 4+bodyLen]}, nil
}

/* vim :set ts=4 sw=4 sts=4 noet : */
