package orlink

import (
	"git.torproject.org/tor-or-core.git/cell"
	"git.torproject.org/tor-or-core.git/reason"
)

// SendDestroy queues a DESTROY(circ_id, reason) cell: a single-cell write
// with a reason byte, the caller supplying the reason (§4.7 "Destroy").
// Receiving DESTROY is the circuit layer's concern (Hooks.Callbacks.OnCell
// above); this package only ever originates them.
func (l *Link) SendDestroy(circID uint32, why reason.EndReason) {
	c := &cell.Cell{CircID: circID, Command: cell.Destroy}
	c.Payload[0] = byte(why)
	l.Connection.AppendOutbuf(cell.Pack(c, l.LinkProto))
}

/* vim :set ts=4 sw=4 sts=4 noet : */
