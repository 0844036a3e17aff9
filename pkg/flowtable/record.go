// Package flowtable implements the per-context associative store
// mapping canonical 5-tuples to flow records: lookup-or-create,
// expiration scanning, and drain-for-output. Grounded on the
// teacher's pkg/capture/flow.go FlowLog, generalized from a
// query-aggregation map into a flow-record table whose records carry
// per-observer sub-records instead of goProbe's fixed byte/packet
// counters alone.
package flowtable

import (
	"time"

	"github.com/tlsflow/tlsflow/pkg/flowkey"
)

// ObserverID identifies one of the optional per-flow sub-records a
// Record may carry.
type ObserverID int

// Enumeration of observer identities dispatch knows about.
const (
	ObserverTLS ObserverID = iota
	ObserverDNS
	ObserverByteDist
	numObservers
)

// Record is a flow record: the fields a flowtable.Table owns
// exclusively per spec.md §3 ("Flow record. Owned exclusively by the
// flow table entry").
type Record struct {
	Key flowkey.Key

	FirstSeen time.Time
	LastSeen  time.Time

	PacketsIn  uint64
	PacketsOut uint64
	BytesIn    uint64
	BytesOut   uint64

	// directionConfident marks whether any packet of the flow received
	// a direction other than DirectionUnknown (port-ordering guesses
	// included, see flowkey.Direction.IsConfidenceHigh), in the place of
	// the teacher's Flow.directionConfidenceHigh.
	directionConfident bool

	// finRecv/finSent track half-close state so the table can detect
	// a cleanly terminated TCP flow (spec.md §3: "both directions' FIN-ACK").
	finRecv, finSent bool
	rstSeen          bool

	lastPayloadSeen time.Time

	finalized bool

	subRecords [numObservers]any
}

// SubRecord returns the sub-record stored under id, or nil if the
// observer has not yet seen a packet for this flow.
func (r *Record) SubRecord(id ObserverID) any {
	return r.subRecords[id]
}

// SetSubRecord installs sub as the sub-record for id. It is a no-op
// once the record has been finalized, matching spec.md §3's
// "finalization flag: once set, no observer may mutate".
func (r *Record) SetSubRecord(id ObserverID, sub any) {
	if r.finalized {
		return
	}
	r.subRecords[id] = sub
}

// Finalize marks the record so that no observer may mutate it further.
func (r *Record) Finalize() { r.finalized = true }

// Finalized reports whether Finalize was called.
func (r *Record) Finalized() bool { return r.finalized }

// Update applies one observed packet's counters to the record. dir
// tells Update whether the packet travels in the canonical key's
// forward or reverse direction. payloadLen is the TCP/UDP payload
// length, not the on-wire frame length: spec.md §8 invariant 1
// requires sum(BytesIn)+sum(BytesOut) to equal the sum of observed
// TCP payload lengths, not Ethernet/IP/TCP header bytes.
func (r *Record) Update(now time.Time, dir flowkey.Direction, tcpFlags byte, isTCP bool, payloadLen int) {
	if r.FirstSeen.IsZero() {
		r.FirstSeen = now
	}
	r.LastSeen = now
	if payloadLen > 0 {
		r.lastPayloadSeen = now
	}

	if dir.IsConfidenceHigh() {
		r.directionConfident = true
	}

	forward := dir != flowkey.DirectionReverts
	if forward {
		r.PacketsOut++
		r.BytesOut += uint64(payloadLen)
	} else {
		r.PacketsIn++
		r.BytesIn += uint64(payloadLen)
	}

	if isTCP {
		if flowkey.IsRST(tcpFlags) {
			r.rstSeen = true
		}
		if flowkey.IsFINACK(tcpFlags) {
			if forward {
				r.finSent = true
			} else {
				r.finRecv = true
			}
		}
	}
}

// Terminated reports whether the TCP session underlying this flow has
// ended (both directions' FIN-ACK observed, or an RST) per spec.md §4.2.
func (r *Record) Terminated() bool {
	return r.rstSeen || (r.finSent && r.finRecv)
}

// IdleSince returns how long it has been since the last packet was
// observed for this flow.
func (r *Record) IdleSince(now time.Time) time.Duration {
	return now.Sub(r.LastSeen)
}

// ApplicationIdleSince returns how long it has been since a packet
// with non-empty application payload was observed — used by the
// preemptive-timeout policy (spec.md §4.2).
func (r *Record) ApplicationIdleSince(now time.Time) time.Duration {
	if r.lastPayloadSeen.IsZero() {
		return now.Sub(r.FirstSeen)
	}
	return now.Sub(r.lastPayloadSeen)
}
