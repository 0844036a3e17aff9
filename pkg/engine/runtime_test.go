package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tlsflow/tlsflow/pkg/flowkey"
	"github.com/tlsflow/tlsflow/pkg/ndjson"
	"github.com/tlsflow/tlsflow/pkg/observer"
	"github.com/tlsflow/tlsflow/pkg/wire"
)

func testShared(buf *bytes.Buffer) *Shared {
	return &Shared{
		Dispatcher:  observer.NewDispatcher(),
		Sink:        ndjson.NewWriterSink(buf),
		Bidir:       true,
		HighWater:   0,
		IdleTimeout: time.Minute,
	}
}

func testPacket(srcPort, dstPort uint16, flags byte) wire.Packet {
	var k flowkey.Key
	k.IsIPv4 = true
	k.Protocol = flowkey.TCP
	k.SrcIP[15] = 1
	k.DstIP[15] = 2
	k.SrcPort, k.DstPort = srcPort, dstPort
	return wire.Packet{Key: k, TCPFlags: flags, Payload: []byte{1, 2, 3}, TotalLen: 64}
}

func TestSubmitRoutesBothDirectionsToSameContext(t *testing.T) {
	var buf bytes.Buffer
	rt := NewRuntime(4, testShared(&buf))

	fwd := testPacket(50000, 443, 0x02)
	rev := testPacket(443, 50000, 0x12)

	fwdKey := fwd.Key.NATResilient()
	revKey := rev.Key.NATResilient()

	idxFwd := shardIndex(rt, fwdKey)
	idxRev := shardIndex(rt, revKey)
	require.Equal(t, idxFwd, idxRev)
}

func shardIndex(rt *Runtime, key flowkey.Key) int {
	rt.Submit(wire.Packet{Key: key}, time.Now())
	for i, c := range rt.contexts {
		select {
		case s := <-c.in:
			c.in <- s
			return i
		default:
		}
	}
	return -1
}

func TestContextHandleUpdatesTableAndDispatches(t *testing.T) {
	var buf bytes.Buffer
	shared := testShared(&buf)
	c := newContext(0, shared)

	c.handle(submission{pkt: testPacket(50000, 443, 0x02), time: time.Now()})
	require.Equal(t, 1, c.table.Len())
}

func TestContextExpireEmitsIdleFlows(t *testing.T) {
	var buf bytes.Buffer
	shared := testShared(&buf)
	shared.IdleTimeout = time.Millisecond
	c := newContext(0, shared)

	now := time.Now()
	c.handle(submission{pkt: testPacket(50000, 443, 0x02), time: now})
	c.expire(now.Add(time.Hour))

	require.Equal(t, 0, c.table.Len())
	require.Greater(t, buf.Len(), 0)

	var rec ndjson.Record
	line := strings.TrimRight(buf.String(), "\n")
	require.NoError(t, json.Unmarshal([]byte(line), &rec))
}

func TestRuntimeDrainFlushesEveryContext(t *testing.T) {
	var buf bytes.Buffer
	shared := testShared(&buf)
	rt := NewRuntime(2, shared)

	rt.contexts[0].handle(submission{pkt: testPacket(50000, 443, 0x02), time: time.Now()})
	rt.contexts[1].handle(submission{pkt: testPacket(51000, 8443, 0x02), time: time.Now()})

	rt.Drain()

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 2)
	require.Equal(t, 0, rt.contexts[0].table.Len())
	require.Equal(t, 0, rt.contexts[1].table.Len())
}

func TestRuntimeStartAndContextCancellationDrains(t *testing.T) {
	var buf bytes.Buffer
	shared := testShared(&buf)
	rt := NewRuntime(1, shared)

	ctx, cancel := context.WithCancel(context.Background())
	rt.Start(ctx)

	rt.Submit(testPacket(50000, 443, 0x02), time.Now())
	time.Sleep(50 * time.Millisecond)

	cancel()
	rt.Wait()

	require.Greater(t, buf.Len(), 0)
}

func TestHighWaterMarkEvictionEmitsTheEvictedFlow(t *testing.T) {
	var buf bytes.Buffer
	shared := testShared(&buf)
	shared.HighWater = 1
	c := newContext(0, shared)

	c.handle(submission{pkt: testPacket(50000, 443, 0x02), time: time.Now()})
	require.Equal(t, 0, buf.Len(), "no eviction yet, nothing should be emitted")

	c.handle(submission{pkt: testPacket(51000, 8443, 0x02), time: time.Now().Add(time.Second)})

	require.Equal(t, 1, c.table.EvictedCount())
	require.Equal(t, 1, c.table.Len(), "only the second, newer flow survives")
	require.Greater(t, buf.Len(), 0, "the evicted flow must have been written to the sink")
}
