package listener

import (
	pt "git.torproject.org/pluggable-transports/goptlib.git"
)

// Isolation flag bits, one per criterion that must match between two
// client streams before they may share a circuit.
const (
	IsolateClientAddr uint32 = 1 << iota
	IsolateClientProtocol
	IsolateDestAddr
	IsolateDestPort
	IsolateSessionGroup
)

// ParseIsolationFlags parses a PortConfig's isolation flag set from a
// pluggable-transports-style key=value list (the same "k1=v1;k2=v2" dialect
// goptlib's pt.Args already parses for transport options), reusing that
// vetted parser instead of hand-rolling a second one. Recognized keys are
// "client_addr", "client_protocol", "dest_addr", "dest_port", and
// "session_group"; any present with a non-empty value sets the
// corresponding bit. An empty raw string yields no flags set.
func ParseIsolationFlags(raw string) (uint32, error) {
	if raw == "" {
		return 0, nil
	}
	args, err := pt.ParseClientParameters(raw)
	if err != nil {
		return 0, err
	}

	var flags uint32
	for key, bit := range map[string]uint32{
		"client_addr":     IsolateClientAddr,
		"client_protocol": IsolateClientProtocol,
		"dest_addr":       IsolateDestAddr,
		"dest_port":       IsolateDestPort,
		"session_group":   IsolateSessionGroup,
	} {
		if args.Get(key) != "" {
			flags |= bit
		}
	}
	return flags, nil
}

/* vim :set ts=4 sw=4 sts=4 noet : */
