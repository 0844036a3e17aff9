package tlsinspect

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tlsflow/tlsflow/pkg/flowkey"
	"github.com/tlsflow/tlsflow/pkg/flowtable"
	"github.com/tlsflow/tlsflow/pkg/observer"
)

// buildClientHelloRecord wraps a ClientHello body (which declares TLS
// 1.2 via {3,3}) in a record layer frozen at {3,1}, matching how real
// TLS stacks send ClientHello: the negotiated version only ever comes
// from the handshake body, never the record header.
func buildClientHelloRecord(host string) []byte {
	body := buildClientHelloBody(host, []uint16{0x0035})
	hs := append([]byte{handshakeClientHello}, u24be(len(body))...)
	hs = append(hs, body...)
	rec := append([]byte{contentTypeHandshake, 3, 1}, u16be(len(hs))...)
	rec = append(rec, hs...)
	return rec
}

func TestFeedWholeRecordInOneSegment(t *testing.T) {
	sub := &SubRecord{}
	feed(sub, buildClientHelloRecord("example.com"), time.Now())

	require.False(t, sub.Corrupt)
	require.Equal(t, "example.com", sub.SNI)
	require.Len(t, sub.MsgStats, 1)
}

func TestFeedDecodesVersionFromHandshakeBodyNotRecordHeader(t *testing.T) {
	sub := &SubRecord{}
	feed(sub, buildClientHelloRecord("example.com"), time.Now())

	require.False(t, sub.Corrupt)
	require.Equal(t, Version12, sub.Version, "record header is frozen at {3,1} but the ClientHello body declares {3,3}")
}

func TestFeedReassemblesRecordHeaderSplitAcrossSegments(t *testing.T) {
	full := buildClientHelloRecord("example.com")
	sub := &SubRecord{}

	feed(sub, full[:3], time.Now())
	require.False(t, sub.Corrupt)
	require.Empty(t, sub.SNI)

	feed(sub, full[3:], time.Now())
	require.False(t, sub.Corrupt)
	require.Equal(t, "example.com", sub.SNI)
}

func TestFeedReassemblesRecordBodySplitAcrossSegments(t *testing.T) {
	full := buildClientHelloRecord("example.com")
	sub := &SubRecord{}
	mid := 10

	feed(sub, full[:mid], time.Now())
	require.False(t, sub.Corrupt)

	feed(sub, full[mid:], time.Now())
	require.False(t, sub.Corrupt)
	require.Equal(t, "example.com", sub.SNI)
}

func TestFeedAlertBeforeHandshakeMarksCorrupt(t *testing.T) {
	sub := &SubRecord{}
	alert := append([]byte{contentTypeAlert, 3, 3}, u16be(2)...)
	alert = append(alert, 0x02, 0x28)
	feed(sub, alert, time.Now())
	require.True(t, sub.Corrupt)
}

func TestInspectorMatchesPort443(t *testing.T) {
	insp := New()
	hdr := observer.PacketHeader{}
	hdr.Key.Protocol = flowkey.TCP
	hdr.Key.DstPort = 443
	require.True(t, insp.Matches(&flowtable.Record{}, hdr))

	hdr2 := observer.PacketHeader{}
	hdr2.Key.Protocol = flowkey.TCP
	hdr2.Key.DstPort = 8080
	require.False(t, insp.Matches(&flowtable.Record{}, hdr2))
}

func TestInspectorUpdateAndFinalize(t *testing.T) {
	insp := New()
	rec := &flowtable.Record{}
	hdr := observer.PacketHeader{Time: time.Now()}
	hdr.Key.DstPort = 443

	insp.Update(rec, hdr, buildClientHelloRecord("example.com"))
	out := insp.Finalize(rec)
	sub, ok := out.(*SubRecord)
	require.True(t, ok)
	require.Equal(t, "example.com", sub.SNI)
}
