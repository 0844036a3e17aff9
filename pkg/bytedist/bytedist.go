// Package bytedist implements the byte-distribution/entropy observer:
// a running histogram of payload byte values per flow and the Shannon
// entropy derived from it, grounded on joy's byte_distribution /
// report_entropy config keys (original_source/joy/src/config.c) — the
// original C structure itself was not present in the retrieval pack,
// so the histogram shape follows joy's own README description of the
// feature (a 256-bin count over all payload bytes seen) rather than a
// literal port.
package bytedist

import (
	"math"

	"github.com/tlsflow/tlsflow/pkg/flowtable"
	"github.com/tlsflow/tlsflow/pkg/observer"
)

// MaxPayloadBytes caps how many payload bytes feed the histogram per
// flow, matching the resource-cap pattern used throughout tlsinspect.
const MaxPayloadBytes = 1 << 20

// SubRecord is the per-flow byte-distribution state.
type SubRecord struct {
	counts [256]uint64
	total  uint64
}

// Distribution is the JSON-serializable output of a SubRecord.
type Distribution struct {
	Counts  [256]uint64 `json:"counts"`
	Total   uint64      `json:"total"`
	Entropy float64     `json:"entropy"`
}

// Observer implements observer.Observer for byte distribution.
type Observer struct{}

// New returns a byte-distribution Observer.
func New() *Observer { return &Observer{} }

// ID implements observer.Observer.
func (*Observer) ID() flowtable.ObserverID { return flowtable.ObserverByteDist }

// Matches implements observer.Observer: every packet with payload is
// a candidate, unconditionally.
func (*Observer) Matches(_ *flowtable.Record, _ observer.PacketHeader) bool { return true }

// Update implements observer.Observer.
func (*Observer) Update(rec *flowtable.Record, _ observer.PacketHeader, payload []byte) {
	if len(payload) == 0 {
		return
	}
	existing := rec.SubRecord(flowtable.ObserverByteDist)
	sub, _ := existing.(*SubRecord)
	if sub == nil {
		sub = &SubRecord{}
		rec.SetSubRecord(flowtable.ObserverByteDist, sub)
	}
	for _, b := range payload {
		if sub.total >= MaxPayloadBytes {
			break
		}
		sub.counts[b]++
		sub.total++
	}
}

// Finalize implements observer.Observer.
func (*Observer) Finalize(rec *flowtable.Record) any {
	existing := rec.SubRecord(flowtable.ObserverByteDist)
	sub, _ := existing.(*SubRecord)
	if sub == nil || sub.total == 0 {
		return nil
	}
	return Distribution{
		Counts:  sub.counts,
		Total:   sub.total,
		Entropy: shannonEntropy(sub.counts, sub.total),
	}
}

// shannonEntropy computes the Shannon entropy, in bits, of the byte
// histogram — the same quantity joy's report_entropy config key names.
func shannonEntropy(counts [256]uint64, total uint64) float64 {
	var h float64
	for _, c := range counts {
		if c == 0 {
			continue
		}
		p := float64(c) / float64(total)
		h -= p * math.Log2(p)
	}
	return h
}
