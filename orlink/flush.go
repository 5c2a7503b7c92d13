package orlink

// Watermarks for the OR outbuf scheduler, in bytes (§4.7 "Flushed-some
// hook").
const (
	lowWatermark   = 16 * 1024
	highWatermark  = 32 * 1024
	tlsRecordAlign = 15872
)

// CircuitSource supplies more cell bytes from the active-circuit priority
// queue attached to a link; returning fewer than requested is not an
// error, it just means the queue ran dry for this pass.
type CircuitSource func(l *Link, want int) []byte

// FlushedSome implements the refill-toward-high-watermark behavior: when
// outbuf has drained below lowWatermark, pull more cells from source until
// either highWatermark is reached or source runs dry, then apply the TLS
// record-boundary rounding rule.
func (l *Link) FlushedSome(source CircuitSource) {
	if l.Connection.Outbuf.Len() >= lowWatermark {
		return
	}
	for l.Connection.Outbuf.Len() < highWatermark {
		want := highWatermark - l.Connection.Outbuf.Len()
		chunk := source(l, want)
		if len(chunk) == 0 {
			break
		}
		l.Connection.AppendOutbuf(chunk)
	}
	l.alignFlushLenToTLSRecord()
}

// alignFlushLenToTLSRecord rounds outbuf_flushlen down to tlsRecordAlign
// when it is about to cross that boundary upward, so a TLS record
// boundary is hit promptly instead of being split across two writes.
func (l *Link) alignFlushLenToTLSRecord() {
	n := l.Connection.OutbufFlushLen
	if n > tlsRecordAlign {
		l.Connection.SetFlushLen(tlsRecordAlign)
	}
}

/* vim :set ts=4 sw=4 sts=4 noet : */
