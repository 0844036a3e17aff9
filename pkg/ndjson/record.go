// Package ndjson serializes finalized flow records to newline-delimited
// JSON, one object per line, per spec.md §6 "Output". Field ordering
// inside every emitted array (ciphersuites, extensions, certificates,
// RDN items) is whatever order the source slice holds, which is
// insertion order throughout the flowtable/tlsinspect packages, so no
// extra bookkeeping is needed here to preserve it.
package ndjson

import (
	"time"

	"github.com/tlsflow/tlsflow/pkg/flowtable"
)

// Record is the flattened, JSON-serializable shape of one emitted flow,
// built from a flowtable.Record and its finalized observer outputs.
type Record struct {
	SrcIP   string `json:"sa"`
	DstIP   string `json:"da"`
	SrcPort uint16 `json:"sp"`
	DstPort uint16 `json:"dp"`
	Proto   byte   `json:"pr"`

	FirstSeen time.Time `json:"time_start"`
	LastSeen  time.Time `json:"time_end"`

	PacketsIn  uint64 `json:"pkts_in"`
	PacketsOut uint64 `json:"pkts_out"`
	BytesIn    uint64 `json:"bytes_in"`
	BytesOut   uint64 `json:"bytes_out"`

	TLS  any `json:"tls,omitempty"`
	DNS  any `json:"dns,omitempty"`
	Dist any `json:"byte_dist,omitempty"`
}

// observerNames maps flowtable observer identities to their output
// field, used to select FinalizeAll results by name.
var observerNames = map[flowtable.ObserverID]string{
	flowtable.ObserverTLS:      "tls",
	flowtable.ObserverDNS:      "dns",
	flowtable.ObserverByteDist: "byte_dist",
}

// ObserverNames exposes observerNames for engine wiring (FinalizeAll's
// name map parameter).
func ObserverNames() map[flowtable.ObserverID]string { return observerNames }

// BuildRecord flattens rec and its finalized observer outputs (keyed by
// ObserverNames) into a Record ready for marshaling. When twin is
// non-nil its counters are folded in as the opposite direction, for the
// bidirectional flow-merge case (spec.md §4.2).
func BuildRecord(rec *flowtable.Record, outputs map[string]any, twin *flowtable.Record) Record {
	key := rec.Key

	r := Record{
		SrcIP:      key.SrcAddr().String(),
		DstIP:      key.DstAddr().String(),
		SrcPort:    key.SrcPort,
		DstPort:    key.DstPort,
		Proto:      key.Protocol,
		FirstSeen:  rec.FirstSeen,
		LastSeen:   rec.LastSeen,
		PacketsIn:  rec.PacketsIn,
		PacketsOut: rec.PacketsOut,
		BytesIn:    rec.BytesIn,
		BytesOut:   rec.BytesOut,
	}
	if twin != nil {
		r.PacketsIn += twin.PacketsOut
		r.BytesIn += twin.BytesOut
		r.PacketsOut += twin.PacketsIn
		r.BytesOut += twin.BytesIn
		if twin.FirstSeen.Before(r.FirstSeen) {
			r.FirstSeen = twin.FirstSeen
		}
		if twin.LastSeen.After(r.LastSeen) {
			r.LastSeen = twin.LastSeen
		}
	}

	if v, ok := outputs["tls"]; ok {
		r.TLS = v
	}
	if v, ok := outputs["dns"]; ok {
		r.DNS = v
	}
	if v, ok := outputs["byte_dist"]; ok {
		r.Dist = v
	}
	return r
}
