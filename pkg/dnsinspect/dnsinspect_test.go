package dnsinspect

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tlsflow/tlsflow/pkg/flowtable"
	"github.com/tlsflow/tlsflow/pkg/observer"
)

func encodeName(labels ...string) []byte {
	var out []byte
	for _, l := range labels {
		out = append(out, byte(len(l)))
		out = append(out, l...)
	}
	return append(out, 0)
}

func buildQuery(id uint16, name []byte) []byte {
	h := make([]byte, 12)
	h[0], h[1] = byte(id>>8), byte(id)
	h[4], h[5] = 0, 1 // QDCOUNT=1
	msg := append(h, name...)
	msg = append(msg, 0, 1, 0, 1) // QTYPE=A, QCLASS=IN
	return msg
}

func TestParseMessageDecodesQuestionName(t *testing.T) {
	msg := buildQuery(0x1234, encodeName("www", "example", "com"))

	parsed, ok := parseMessage(msg)
	require.True(t, ok)
	require.False(t, parsed.QR)
	require.Equal(t, []string{"www.example.com"}, parsed.Questions)
}

func TestMatchesOnPort53(t *testing.T) {
	obs := New()
	hdr := observer.PacketHeader{}
	hdr.Key.DstPort = 53
	require.True(t, obs.Matches(&flowtable.Record{}, hdr))

	hdr2 := observer.PacketHeader{}
	hdr2.Key.DstPort = 80
	require.False(t, obs.Matches(&flowtable.Record{}, hdr2))
}

func TestUpdateAccumulatesMessagesUpToCap(t *testing.T) {
	obs := New()
	rec := &flowtable.Record{}
	msg := buildQuery(1, encodeName("example", "com"))

	for i := 0; i < MaxNumDNSPkt+5; i++ {
		obs.Update(rec, observer.PacketHeader{}, msg)
	}

	out := obs.Finalize(rec).(*SubRecord)
	require.Len(t, out.Messages, MaxNumDNSPkt)
}

func TestParseMessageRejectsShortData(t *testing.T) {
	_, ok := parseMessage([]byte{1, 2, 3})
	require.False(t, ok)
}

func TestParseMessageHandlesCompressionPointer(t *testing.T) {
	// A name at offset 12 followed by an answer whose owner name is a
	// pointer back to offset 12.
	h := make([]byte, 12)
	h[4], h[5] = 0, 1 // QDCOUNT=1
	h[6], h[7] = 0, 1 // ANCOUNT=1
	h[2] = 0x80       // QR=1 (response)

	name := encodeName("example", "com")
	msg := append(h, name...)
	msg = append(msg, 0, 1, 0, 1) // QTYPE/QCLASS

	answer := []byte{0xc0, 0x0c} // pointer to offset 12
	answer = append(answer, 0, 1, 0, 1) // TYPE/CLASS
	answer = append(answer, 0, 0, 0, 60) // TTL
	answer = append(answer, 0, 4) // RDLENGTH
	answer = append(answer, 1, 2, 3, 4) // RDATA

	msg = append(msg, answer...)

	parsed, ok := parseMessage(msg)
	require.True(t, ok)
	require.True(t, parsed.QR)
	require.Equal(t, []string{"example.com"}, parsed.Answers)
}
