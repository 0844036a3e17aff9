package ndjson

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tlsflow/tlsflow/pkg/flowkey"
	"github.com/tlsflow/tlsflow/pkg/flowtable"
)

func TestWriterSinkWritesOneLinePerRecord(t *testing.T) {
	var buf bytes.Buffer
	sink := NewWriterSink(&buf)

	require.NoError(t, sink.Write(Record{SrcIP: "10.0.0.1", DstPort: 443}))
	require.NoError(t, sink.Write(Record{SrcIP: "10.0.0.2", DstPort: 80}))

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 2)

	var r Record
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &r))
	require.Equal(t, "10.0.0.1", r.SrcIP)
}

func TestBuildRecordFoldsTwinCounters(t *testing.T) {
	now := time.Now()
	fwd := &flowtable.Record{
		Key:        testKey(),
		FirstSeen:  now,
		LastSeen:   now.Add(time.Second),
		PacketsOut: 3,
		BytesOut:   300,
	}
	twin := &flowtable.Record{
		FirstSeen:  now.Add(-time.Second),
		LastSeen:   now.Add(2 * time.Second),
		PacketsOut: 5,
		BytesOut:   500,
	}

	r := BuildRecord(fwd, nil, twin)
	require.Equal(t, uint64(5), r.PacketsIn)
	require.Equal(t, uint64(500), r.BytesIn)
	require.Equal(t, uint64(3), r.PacketsOut)
	require.Equal(t, now.Add(-time.Second), r.FirstSeen)
	require.Equal(t, now.Add(2*time.Second), r.LastSeen)
}

func TestBuildRecordSelectsObserverOutputsByName(t *testing.T) {
	r := BuildRecord(&flowtable.Record{Key: testKey()}, map[string]any{
		"tls":       "tls-payload",
		"dns":       "dns-payload",
		"byte_dist": "dist-payload",
	}, nil)

	require.Equal(t, "tls-payload", r.TLS)
	require.Equal(t, "dns-payload", r.DNS)
	require.Equal(t, "dist-payload", r.Dist)
}

func testKey() flowkey.Key {
	var k flowkey.Key
	k.IsIPv4 = true
	k.Protocol = flowkey.TCP
	k.SrcIP[15] = 1
	k.DstIP[15] = 2
	k.SrcPort, k.DstPort = 50000, 443
	return k
}
