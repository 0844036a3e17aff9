// Package observer defines the capability contract every per-flow
// feature plugs into the packet dispatch loop through, and the
// dispatcher that drives them. Grounded on the plugin-style
// interfaces used throughout the teacher's plugins/resolver packages
// (a small Match/Update-shaped contract resolved per flow), adapted
// from name resolution to per-packet feature extraction.
package observer

import (
	"time"

	"github.com/tlsflow/tlsflow/pkg/flowkey"
	"github.com/tlsflow/tlsflow/pkg/flowtable"
)

// PacketHeader is the subset of a decoded packet an observer needs:
// enough to classify without re-parsing the wire frame.
type PacketHeader struct {
	Key      flowkey.Key
	TCPFlags byte
	Dir      flowkey.Direction
	Time     time.Time
}

// Observer is a pure per-flow accumulator. Implementations must not
// retain references to payload beyond the call (spec.md §4.3:
// "observers must be non-blocking and allocation-bounded" / "must not
// retain references to the payload slice beyond the call").
type Observer interface {
	// ID identifies which sub-record slot on flowtable.Record this
	// observer owns.
	ID() flowtable.ObserverID

	// Matches reports whether this observer should run for the given
	// flow record and packet header (e.g. the TLS observer matches
	// TCP flows where either endpoint is port 443, or any flow whose
	// sub-record already carries a TLS role from a prior packet).
	Matches(rec *flowtable.Record, hdr PacketHeader) bool

	// Update is invoked once per matching packet. It must allocate a
	// sub-record on first call (via rec.SetSubRecord) and mutate it
	// thereafter. It must never panic on malformed payload — any
	// parse failure is the observer's own business to recover from.
	Update(rec *flowtable.Record, hdr PacketHeader, payload []byte)

	// Finalize produces the JSON-serializable representation of the
	// sub-record for a flow about to be emitted, or nil if this
	// observer never saw a packet for the flow.
	Finalize(rec *flowtable.Record) any
}

// Dispatcher holds the enabled observers and drives them against each
// packet in the per-packet path.
type Dispatcher struct {
	observers []Observer
}

// NewDispatcher builds a Dispatcher from the given observers, in the
// order they should run.
func NewDispatcher(observers ...Observer) *Dispatcher {
	return &Dispatcher{observers: observers}
}

// Dispatch invokes every observer whose selector matches for this
// packet. It never aborts early on an individual observer failing
// internally — spec.md §7: "No error propagation uses ambient throw
// semantics; every observer call returns control to dispatch without
// altering unrelated flows." To honor that even against a programming
// error in a third-party-style observer, each Update call is wrapped
// in a recover so one observer's panic cannot take down the packet
// loop or poison other flows.
func (d *Dispatcher) Dispatch(rec *flowtable.Record, hdr PacketHeader, payload []byte) {
	if rec.Finalized() {
		return
	}
	for _, obs := range d.observers {
		if !obs.Matches(rec, hdr) {
			continue
		}
		dispatchOne(obs, rec, hdr, payload)
	}
}

func dispatchOne(obs Observer, rec *flowtable.Record, hdr PacketHeader, payload []byte) {
	defer func() {
		_ = recover()
	}()
	obs.Update(rec, hdr, payload)
}

// FinalizeAll collects every observer's Finalize output for rec into
// a map keyed by a stable name, skipping observers that never saw a
// packet for this flow (Finalize returned nil).
func (d *Dispatcher) FinalizeAll(rec *flowtable.Record, names map[flowtable.ObserverID]string) map[string]any {
	out := make(map[string]any, len(d.observers))
	for _, obs := range d.observers {
		v := obs.Finalize(rec)
		if v == nil {
			continue
		}
		name, ok := names[obs.ID()]
		if !ok {
			continue
		}
		out[name] = v
	}
	return out
}
