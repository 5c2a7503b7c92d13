package orlink

import (
	"time"

	"git.torproject.org/tor-or-core.git/conn"
)

// graceWindow is how long a just-built link is protected from being
// passed over in favor of an older link that merely happens to carry
// circuits already (§4.7 step 4).
const graceWindow = 15 * time.Minute

// maxAge is how old an OR link may get before it is barred from hosting
// new circuits (§4.7 "Badness marking" pass 1).
const maxAge = 7 * 24 * time.Hour

// ExtendReason is the human-readable outcome of GetForExtend.
type ExtendReason int

const (
	ExtendUseExisting ExtendReason = iota
	ExtendConnectingWait
	ExtendDialNew
	ExtendDialNewAllTooOld
)

func (r ExtendReason) String() string {
	switch r {
	case ExtendUseExisting:
		return "use existing link"
	case ExtendConnectingWait:
		return "connecting, wait"
	case ExtendDialNew:
		return "not connected, dial new"
	case ExtendDialNewAllTooOld:
		return "all too old/noncanonical, dial new"
	default:
		return "unknown"
	}
}

// HasCircuits reports whether a link is known to carry any circuits; it is
// supplied by the caller (the circuit layer owns that bookkeeping) rather
// than stored on Link itself.
type HasCircuits func(l *Link) bool

// GetForExtend implements §4.7's selection-for-reuse policy over one
// identity's chain of links.
func GetForExtend(chain []*Link, targetAddr string, hasCircuits HasCircuits, now time.Time) (*Link, ExtendReason) {
	var candidates []*Link
	var anySkippedOld bool
	var anyInProgress bool

	for _, l := range chain {
		if l.IsMarkedForClose() || l.IsConnectionWithClient {
			continue
		}
		if l.State != conn.StateOpen {
			if l.RealAddr == targetAddr {
				anyInProgress = true
			}
			continue
		}
		if l.IsBadForNewCircs {
			anySkippedOld = true
			continue
		}
		// A non-canonical link only candidates for the address it was
		// actually opened to; a canonical link remains a candidate even
		// when the peer is being reached under a different address (§4.7
		// step 1).
		if l.RealAddr != targetAddr && !l.IsCanonical {
			anySkippedOld = true
			continue
		}
		candidates = append(candidates, l)
	}

	best := pickBest(candidates, hasCircuits, now)
	if best != nil {
		return best, ExtendUseExisting
	}
	if anySkippedOld {
		return nil, ExtendDialNewAllTooOld
	}
	if anyInProgress {
		return nil, ExtendConnectingWait
	}
	return nil, ExtendDialNew
}

// pickBest implements step 4's "best" ordering: canonical beats
// non-canonical unconditionally; then prefer the one with circuits unless
// the other is within the grace window; then prefer the newer link.
func pickBest(candidates []*Link, hasCircuits HasCircuits, now time.Time) *Link {
	var best *Link
	for _, l := range candidates {
		if best == nil {
			best = l
			continue
		}
		if l.IsCanonical != best.IsCanonical {
			if l.IsCanonical {
				best = l
			}
			continue
		}
		lHas, bHas := hasCircuits(l), hasCircuits(best)
		if lHas != bHas {
			newer := best
			if best.TimestampCreated.Before(l.TimestampCreated) {
				newer = l
			}
			if now.Sub(newer.TimestampCreated) < graceWindow {
				best = newer
				continue
			}
			if lHas {
				best = l
			}
			continue
		}
		if l.TimestampCreated.After(best.TimestampCreated) {
			best = l
		}
	}
	return best
}

// BadnessCounts tallies the population statistics §4.7's badness-marking
// pass 1 collects alongside marking links bad for new circuits.
type BadnessCounts struct {
	NCanonical        int
	NOpenNoncanonical int
	NOld              int
	NInProgress       int
}

// SetBadConnections implements §4.7's three-pass badness-marking sweep
// over one identity's chain.
func SetBadConnections(chain []*Link, hasCircuits HasCircuits, now time.Time) BadnessCounts {
	var counts BadnessCounts

	for _, l := range chain {
		if l.IsMarkedForClose() {
			continue
		}
		if l.State != conn.StateOpen {
			counts.NInProgress++
			continue
		}
		if now.Sub(l.TimestampCreated) > maxAge {
			l.IsBadForNewCircs = true
			counts.NOld++
			continue
		}
		if l.IsCanonical {
			counts.NCanonical++
		} else {
			counts.NOpenNoncanonical++
		}
	}

	if counts.NCanonical >= 1 {
		for _, l := range chain {
			if l.IsMarkedForClose() || l.State != conn.StateOpen || l.IsBadForNewCircs {
				continue
			}
			if !l.IsCanonical {
				l.IsBadForNewCircs = true
			}
		}
	}

	var good []*Link
	for _, l := range chain {
		if !l.IsMarkedForClose() && l.State == conn.StateOpen && !l.IsBadForNewCircs {
			good = append(good, l)
		}
	}
	best := pickBest(good, hasCircuits, now)
	if best != nil {
		for _, l := range good {
			if l == best {
				continue
			}
			if best.IsCanonical {
				l.IsBadForNewCircs = true
			} else if l.RealAddr == best.RealAddr {
				l.IsBadForNewCircs = true
			}
		}
	}

	return counts
}

/* vim :set ts=4 sw=4 sts=4 noet : */
