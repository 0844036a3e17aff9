// Package engine wires the wire decoder, flow tables, observer
// dispatch, anonymization, and output sink into a running system: N
// independent contexts, each owning one flow table and fed packets by
// a hash of the packet's canonical key, supervised by a small run
// group and a cooperative shutdown signal. Grounded on the teacher's
// pkg/capture (capture.Manager's multi-worker layout) and
// pkg/capture/rungroup.go's waitgroup-wrapping helper.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/zeebo/xxh3"

	"github.com/tlsflow/tlsflow/pkg/anon"
	"github.com/tlsflow/tlsflow/pkg/flowkey"
	"github.com/tlsflow/tlsflow/pkg/flowtable"
	"github.com/tlsflow/tlsflow/pkg/logging"
	"github.com/tlsflow/tlsflow/pkg/metrics"
	"github.com/tlsflow/tlsflow/pkg/ndjson"
	"github.com/tlsflow/tlsflow/pkg/observer"
	"github.com/tlsflow/tlsflow/pkg/wire"
)

// Shared holds process-wide state every context needs read access to,
// passed explicitly rather than kept in package-level globals.
type Shared struct {
	AnonKey     *anon.Key
	AnonSubnets *anon.SubnetSet
	AnonUsers   *anon.UsernameSet

	Dispatcher *observer.Dispatcher
	Sink       *ndjson.Sink

	Bidir bool
	NAT   bool

	HighWater      int
	IdleTimeout    time.Duration
	PreemptTimeout time.Duration
}

// runGroup wraps the common waitgroup setup for goroutines that need
// to finish before shutdown completes.
type runGroup struct {
	wg sync.WaitGroup
}

func (rg *runGroup) run(f func()) {
	rg.wg.Add(1)
	go func() {
		defer rg.wg.Done()
		f()
	}()
}

func (rg *runGroup) wait() {
	rg.wg.Wait()
}

// Runtime supervises a fixed number of Context workers.
type Runtime struct {
	shared   *Shared
	contexts []*Context
	rg       runGroup
}

// NewRuntime builds n contexts, each with its own flow table and
// packet channel.
func NewRuntime(n int, shared *Shared) *Runtime {
	rt := &Runtime{shared: shared}
	for i := 0; i < n; i++ {
		rt.contexts = append(rt.contexts, newContext(i, shared))
	}
	return rt
}

// Start launches every context's packet loop and expiration ticker.
// It returns immediately; cancel ctx to request shutdown and call Wait
// to block until every goroutine has exited.
func (rt *Runtime) Start(ctx context.Context) {
	for _, c := range rt.contexts {
		c := c
		rt.rg.run(func() { c.run(ctx) })
	}
}

// Wait blocks until every context goroutine has exited.
func (rt *Runtime) Wait() {
	rt.rg.wait()
}

// Submit routes a decoded packet to the context owning its flow, based
// on a seeded hash of the packet's NAT-resilient canonical key so that
// every packet of a flow lands on the same context regardless of which
// direction it travels.
func (rt *Runtime) Submit(pkt wire.Packet, captureTime time.Time) {
	shardKey := pkt.Key.NATResilient()
	idx := int(xxh3.HashSeed(shardKey.Bytes(), 0) % uint64(len(rt.contexts)))
	rt.contexts[idx].submit(pkt, captureTime)
}

// Drain flushes every context's remaining flow records to the sink,
// for a clean shutdown (e.g. end of an offline pcap file).
func (rt *Runtime) Drain() {
	for _, c := range rt.contexts {
		c.drainAndEmit()
	}
}

// Context owns one flow table and a single-goroutine packet loop, so
// no locking is needed inside it; cross-context work only happens via
// Runtime.Submit's sharding decision and the shared Sink, which is
// itself safe for concurrent writers.
type Context struct {
	id     int
	shared *Shared
	table  *flowtable.Table
	in     chan submission
}

type submission struct {
	pkt  wire.Packet
	time time.Time
}

func newContext(id int, shared *Shared) *Context {
	return &Context{
		id:     id,
		shared: shared,
		table: flowtable.New(
			flowtable.WithBidir(shared.Bidir),
			flowtable.WithNAT(shared.NAT),
			flowtable.WithHighWaterMark(shared.HighWater),
		),
		in: make(chan submission, 1024),
	}
}

func (c *Context) submit(pkt wire.Packet, t time.Time) {
	c.in <- submission{pkt: pkt, time: t}
}

// expirationInterval is how often a context scans its table for idle
// or terminated flows; spec.md §4.2 requires at least 1 Hz.
const expirationInterval = 500 * time.Millisecond

func (c *Context) run(ctx context.Context) {
	ticker := time.NewTicker(expirationInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.drainAndEmit()
			return
		case s := <-c.in:
			c.handle(s)
		case <-ticker.C:
			c.expire(time.Now())
		}
	}
}

func (c *Context) handle(s submission) {
	pkt := s.pkt
	raw := pkt.Key

	rec, _, evicted := c.table.LookupOrCreate(raw, s.time)
	if evicted != nil {
		metrics.FlowsEvicted.Inc()
		c.emit([]*flowtable.Record{evicted})
	}

	dir := classify(raw, pkt.TCPFlags, pkt.AuxInfo)
	isTCP := raw.Protocol == flowkey.TCP
	rec.Update(s.time, dir, pkt.TCPFlags, isTCP, len(pkt.Payload))

	hdr := observer.PacketHeader{Key: raw, TCPFlags: pkt.TCPFlags, Dir: dir, Time: s.time}
	c.shared.Dispatcher.Dispatch(rec, hdr, pkt.Payload)

	metrics.FlowsActive.Set(float64(c.table.Len()))
}

// anonymizeRecord replaces a record's address strings with their
// anonymized hex form when the address falls inside the configured
// subnet set, per spec.md §5.
func anonymizeRecord(out ndjson.Record, key flowkey.Key, shared *Shared) ndjson.Record {
	if shared.AnonKey == nil {
		return out
	}
	if src := key.SrcAddr(); shared.AnonSubnets.Contains(src) {
		out.SrcIP = shared.AnonKey.Address(src)
	}
	if dst := key.DstAddr(); shared.AnonSubnets.Contains(dst) {
		out.DstIP = shared.AnonKey.Address(dst)
	}
	return out
}

func classify(raw flowkey.Key, tcpFlags, auxInfo byte) flowkey.Direction {
	switch raw.Protocol {
	case flowkey.TCP:
		return flowkey.ClassifyTCP(raw, tcpFlags)
	case flowkey.ICMP:
		return flowkey.ClassifyICMP(raw, auxInfo, false)
	case flowkey.ICMPv6:
		return flowkey.ClassifyICMP(raw, auxInfo, true)
	default:
		return flowkey.DirectionUnknown
	}
}

func (c *Context) expire(now time.Time) {
	expired := c.table.ScanExpired(now, c.shared.IdleTimeout, c.shared.PreemptTimeout > 0, c.shared.PreemptTimeout)
	metrics.FlowsExpired.Add(float64(len(expired)))
	metrics.FlowsActive.Set(float64(c.table.Len()))
	c.emit(expired)
}

func (c *Context) drainAndEmit() {
	c.emit(c.table.Drain())
}

func (c *Context) emit(records []*flowtable.Record) {
	for _, rec := range records {
		var twin *flowtable.Record
		if c.shared.Bidir {
			twin = c.table.TwinOf(rec.Key)
		}
		outputs := c.shared.Dispatcher.FinalizeAll(rec, ndjson.ObserverNames())
		out := ndjson.BuildRecord(rec, outputs, twin)
		out = anonymizeRecord(out, rec.Key, c.shared)
		if err := c.shared.Sink.Write(out); err != nil {
			metrics.SinkErrors.Inc()
			logging.Logger().Warn("sink write failed", "err", err)
		}
	}
}
