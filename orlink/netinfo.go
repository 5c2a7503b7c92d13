package orlink

import (
	"encoding/binary"
	"fmt"
	"net"
	"time"
)

// addrTypeIPv4, addrTypeIPv6 are the NETINFO/AUTHENTICATE address-encoding
// type bytes (§6: "type=4 len=4 IPv4, type=6 len=16 IPv6").
const (
	addrTypeIPv4 = 4
	addrTypeIPv6 = 6
)

// encodeAddr serializes one address as type(1) || len(1) || addr(len).
func encodeAddr(ip net.IP) []byte {
	if v4 := ip.To4(); v4 != nil {
		return append([]byte{addrTypeIPv4, 4}, v4...)
	}
	v6 := ip.To16()
	return append([]byte{addrTypeIPv6, 16}, v6...)
}

// decodeAddr parses one type||len||addr triple, returning the address and
// the number of bytes consumed.
func decodeAddr(buf []byte) (net.IP, int, error) {
	if len(buf) < 2 {
		return nil, 0, fmt.Errorf("orlink: truncated address encoding")
	}
	typ, length := buf[0], int(buf[1])
	if len(buf) < 2+length {
		return nil, 0, fmt.Errorf("orlink: truncated address body")
	}
	switch typ {
	case addrTypeIPv4:
		if length != 4 {
			return nil, 0, fmt.Errorf("orlink: IPv4 address with length %d", length)
		}
	case addrTypeIPv6:
		if length != 16 {
			return nil, 0, fmt.Errorf("orlink: IPv6 address with length %d", length)
		}
	default:
		return nil, 0, fmt.Errorf("orlink: unknown address type %d", typ)
	}
	return net.IP(buf[2 : 2+length]), 2 + length, nil
}

// parseHostIP extracts the IP address out of a Link.RealAddr value, which
// may be a bare address or a "host:port" pair. It returns nil (rather than
// an error) for anything that does not resolve to a literal IP, since a
// NETINFO cell simply omits the address in that case.
func parseHostIP(addr string) net.IP {
	if addr == "" {
		return nil
	}
	host := addr
	if h, _, err := net.SplitHostPort(addr); err == nil {
		host = h
	}
	return net.ParseIP(host)
}

// NetInfo is the parsed body of a NETINFO cell (§6).
type NetInfo struct {
	Timestamp time.Time
	TheirAddr net.IP
	OurAddrs  []net.IP
}

// EncodeNetInfo serializes a NETINFO cell body. Relays include their own
// address list; clients (and bridges on outgoing links) pass an empty
// ourAddrs, per §4.7's v2-handshake rule.
func EncodeNetInfo(now time.Time, theirAddr net.IP, ourAddrs []net.IP) []byte {
	out := make([]byte, 4)
	binary.BigEndian.PutUint32(out, uint32(now.Unix()))
	out = append(out, encodeAddr(theirAddr)...)
	out = append(out, byte(len(ourAddrs)))
	for _, a := range ourAddrs {
		out = append(out, encodeAddr(a)...)
	}
	return out
}

// DecodeNetInfo is the inverse of EncodeNetInfo.
func DecodeNetInfo(payload []byte) (*NetInfo, error) {
	if len(payload) < 4 {
		return nil, fmt.Errorf("orlink: NETINFO payload too short")
	}
	ts := time.Unix(int64(binary.BigEndian.Uint32(payload[:4])), 0)
	rest := payload[4:]

	theirAddr, n, err := decodeAddr(rest)
	if err != nil {
		return nil, err
	}
	rest = rest[n:]

	if len(rest) < 1 {
		return nil, fmt.Errorf("orlink: NETINFO missing our-address count")
	}
	count := int(rest[0])
	rest = rest[1:]

	ours := make([]net.IP, 0, count)
	for i := 0; i < count; i++ {
		addr, n, err := decodeAddr(rest)
		if err != nil {
			return nil, err
		}
		ours = append(ours, addr)
		rest = rest[n:]
	}

	return &NetInfo{Timestamp: ts, TheirAddr: theirAddr, OurAddrs: ours}, nil
}

/* vim :set ts=4 sw=4 sts=4 noet : */
