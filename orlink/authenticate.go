package orlink

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/agl/ed25519"
)

// authBodyMagic is the fixed prefix of the AUTHENTICATE signed body (§4.7
// step 3: `"AUTH0001" || ...`).
var authBodyMagic = []byte("AUTH0001")

// authBodyFixedLen is the length, in bytes, of everything between the
// magic prefix and the trailing signature: six 32-byte hash fields, an
// 8-byte Unix timestamp, and a 16-byte nonce.
const authBodyFixedLen = 32*6 + 8 + 16

// AuthBodyFields bundles every field that goes into the AUTHENTICATE body
// besides the trailing signature, so BuildAuthenticateBodyRSA and
// VerifyAuthenticateBodyRSA share one layout definition. It is exported so
// a collaborator (the caller building an outgoing AUTHENTICATE, or this
// package's own onAuthenticate reconstructing what the peer should have
// signed) can actually construct one.
type AuthBodyFields struct {
	ClientIDSha256    [32]byte
	ServerIDSha256    [32]byte
	ServerTranscript  [32]byte
	ClientTranscript  [32]byte
	TLSLinkCertSha256 [32]byte
	TLSSecretsHMAC    [32]byte
	Time              time.Time
	Nonce             [16]byte
}

// authBodyPreimage serializes every field up to (but not including) the
// signature: the data the signing key signs over is sha256 of this.
func authBodyPreimage(f AuthBodyFields) []byte {
	out := make([]byte, 0, len(authBodyMagic)+authBodyFixedLen)
	out = append(out, authBodyMagic...)
	out = append(out, f.ClientIDSha256[:]...)
	out = append(out, f.ServerIDSha256[:]...)
	out = append(out, f.ServerTranscript[:]...)
	out = append(out, f.ClientTranscript[:]...)
	out = append(out, f.TLSLinkCertSha256[:]...)
	out = append(out, f.TLSSecretsHMAC[:]...)
	var t [8]byte
	binary.BigEndian.PutUint64(t[:], uint64(f.Time.Unix()))
	out = append(out, t[:]...)
	out = append(out, f.Nonce[:]...)
	return out
}

// ParseAuthBodyFields parses an AUTHENTICATE body's magic prefix and fixed
// fields back into an AuthBodyFields, and returns the trailing signature
// bytes separately. The Time and Nonce fields are whatever the signer put
// there: a verifier checks them by re-deriving the preimage and verifying
// the signature over it, not by expecting a particular value in advance.
func ParseAuthBodyFields(body []byte) (fields AuthBodyFields, sig []byte, err error) {
	if len(body) < len(authBodyMagic)+authBodyFixedLen {
		return AuthBodyFields{}, nil, errors.New("orlink: AUTHENTICATE body shorter than the fixed header")
	}
	if !bytes.Equal(body[:len(authBodyMagic)], authBodyMagic) {
		return AuthBodyFields{}, nil, errors.New("orlink: AUTHENTICATE body missing AUTH0001 magic")
	}
	rest := body[len(authBodyMagic):]
	off := 0
	next32 := func() [32]byte {
		var b [32]byte
		copy(b[:], rest[off:off+32])
		off += 32
		return b
	}
	fields.ClientIDSha256 = next32()
	fields.ServerIDSha256 = next32()
	fields.ServerTranscript = next32()
	fields.ClientTranscript = next32()
	fields.TLSLinkCertSha256 = next32()
	fields.TLSSecretsHMAC = next32()
	fields.Time = time.Unix(int64(binary.BigEndian.Uint64(rest[off:off+8])), 0)
	off += 8
	copy(fields.Nonce[:], rest[off:off+16])
	off += 16
	return fields, rest[off:], nil
}

// BuildAuthenticateBodyRSA signs the handshake binding with the client's
// long-term RSA identity key and returns the full AUTHENTICATE body (§4.7
// step 3, RSA_SHA256_TLSSECRET).
func BuildAuthenticateBodyRSA(f AuthBodyFields, signingKey *rsa.PrivateKey) ([]byte, error) {
	preimage := authBodyPreimage(f)
	digest := sha256.Sum256(preimage)
	sig, err := rsa.SignPKCS1v15(rand.Reader, signingKey, 0, digest[:])
	if err != nil {
		return nil, fmt.Errorf("orlink: signing AUTHENTICATE body: %w", err)
	}
	return append(preimage, sig...), nil
}

// VerifyAuthenticateBodyRSA parses body and checks that its identity- and
// transcript-binding fields match expect (the values this side of the
// handshake independently knows to be true) before verifying the trailing
// signature against the peer's RSA identity public key. A mismatch in
// either step means the AUTHENTICATE does not prove what it claims to.
func VerifyAuthenticateBodyRSA(body []byte, expect AuthBodyFields, peerKey *rsa.PublicKey) error {
	parsed, sig, err := ParseAuthBodyFields(body)
	if err != nil {
		return err
	}
	if parsed.ClientIDSha256 != expect.ClientIDSha256 ||
		parsed.ServerIDSha256 != expect.ServerIDSha256 ||
		parsed.ServerTranscript != expect.ServerTranscript ||
		parsed.ClientTranscript != expect.ClientTranscript ||
		parsed.TLSLinkCertSha256 != expect.TLSLinkCertSha256 {
		return errors.New("orlink: AUTHENTICATE body does not match this handshake's transcript/identity")
	}
	preimage := authBodyPreimage(parsed)
	digest := sha256.Sum256(preimage)
	if err := rsa.VerifyPKCS1v15(peerKey, 0, digest[:], sig); err != nil {
		return fmt.Errorf("orlink: AUTHENTICATE signature does not verify: %w", err)
	}
	return nil
}

// VerifyIDEd25519Cert checks the optional supplemental ID_ED25519 cert
// entry against a raw Ed25519 signature over the identity's RSA
// fingerprint, binding the two identity key types together when a relay
// advertises both. This is not part of the mandatory v3 cert set; its
// absence is never an error.
func VerifyIDEd25519Cert(rsaIdentityDigest IdentityDigest, cert Cert, pub *[ed25519.PublicKeySize]byte) error {
	if cert.Type != CertIDEd25519 {
		return fmt.Errorf("orlink: not an ID_ED25519 cert (type %d)", cert.Type)
	}
	if len(cert.DER) != ed25519.SignatureSize {
		return errors.New("orlink: malformed ID_ED25519 cert signature length")
	}
	var sig [ed25519.SignatureSize]byte
	copy(sig[:], cert.DER)
	if !ed25519.Verify(pub, rsaIdentityDigest[:], &sig) {
		return errors.New("orlink: ID_ED25519 cert signature does not verify")
	}
	return nil
}

/* vim :set ts=4 sw=4 sts=4 noet : */
