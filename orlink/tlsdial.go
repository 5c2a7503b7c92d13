package orlink

import (
	"crypto/tls"
	"net"

	utls "github.com/refraction-networking/utls"
	"golang.org/x/net/idna"
)

// NormalizeSNIHost ASCII-encodes host for use as a TLS ServerName, so a
// configured bridge line or directory mirror with a Unicode hostname still
// produces a valid ClientHello SNI value instead of failing the dial
// outright.
func NormalizeSNIHost(host string) (string, error) {
	return idna.Lookup.ToASCII(host)
}

// DialOptions configures the client-side TLS handshake an initiator runs
// before starting the OR handshake.
type DialOptions struct {
	TLSConfig *tls.Config
	// FingerprintHelloID, if non-nil, drives the outgoing ClientHello
	// through uTLS with this fingerprint (e.g. utls.HelloChrome_Auto)
	// instead of Go's own crypto/tls ClientHello shape, so a censor doing
	// TLS fingerprinting sees an ordinary browser handshake. nil selects
	// the stdlib crypto/tls path.
	FingerprintHelloID *utls.ClientHelloID
}

// DialClientTLS runs the client TLS handshake over conn (already
// TCP/proxy-connected) and returns the resulting net.Conn, suitable for use
// as a Connection's Socket. Only the stdlib path populates a usable
// *tls.ConnectionState for Link.TLSState; uTLS's ConnectionState is a
// distinct type and is not translated here, matching this being an
// optional, off-by-default anti-fingerprinting measure rather than a
// Link-visible protocol detail.
func DialClientTLS(conn net.Conn, opts DialOptions) (net.Conn, error) {
	if opts.TLSConfig.ServerName != "" {
		host, err := NormalizeSNIHost(opts.TLSConfig.ServerName)
		if err != nil {
			return nil, err
		}
		cfg := opts.TLSConfig.Clone()
		cfg.ServerName = host
		opts.TLSConfig = cfg
	}
	if opts.FingerprintHelloID == nil {
		tlsConn := tls.Client(conn, opts.TLSConfig)
		if err := tlsConn.Handshake(); err != nil {
			return nil, err
		}
		return tlsConn, nil
	}

	uConfig := &utls.Config{
		ServerName:         opts.TLSConfig.ServerName,
		InsecureSkipVerify: opts.TLSConfig.InsecureSkipVerify,
	}
	uConn := utls.UClient(conn, uConfig, *opts.FingerprintHelloID)
	if err := uConn.Handshake(); err != nil {
		return nil, err
	}
	return uConn, nil
}

/* vim :set ts=4 sw=4 sts=4 noet : */
