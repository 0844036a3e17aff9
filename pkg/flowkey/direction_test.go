package flowkey

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassifyTCPHandshake(t *testing.T) {
	syn := v4Key("10.0.0.1", "10.0.0.2", 50000, 443, TCP)
	dir := ClassifyTCP(syn, tcpFlagSYN)
	require.True(t, dir.IsConfidenceHigh())

	synAck := v4Key("10.0.0.2", "10.0.0.1", 443, 50000, TCP)
	dirAck := ClassifyTCP(synAck, tcpFlagSYN|tcpFlagACK)
	require.True(t, dirAck.IsConfidenceHigh())

	// Both packets of the same flow, classified independently, must
	// agree once translated onto the shared canonical key: the SYN
	// traveled forward, the SYN-ACK traveled in reverse.
	require.NotEqual(t, dir, dirAck)
}

func TestClassifyICMPEcho(t *testing.T) {
	req := v4Key("10.0.0.1", "10.0.0.2", 0, 0, ICMP)
	require.Equal(t, DirectionRemains, ClassifyICMP(req, 0x08, false))

	reply := v4Key("10.0.0.2", "10.0.0.1", 0, 0, ICMP)
	dir := ClassifyICMP(reply, 0x00, false)
	require.True(t, dir.IsConfidenceHigh())
}

func TestClassifyICMPUnknownType(t *testing.T) {
	k := v4Key("10.0.0.1", "10.0.0.2", 0, 0, ICMP)
	require.Equal(t, DirectionUnknown, ClassifyICMP(k, 0xff, false))
}

func TestIsFINACKAndRST(t *testing.T) {
	require.True(t, IsFINACK(tcpFlagFIN|tcpFlagACK))
	require.False(t, IsFINACK(tcpFlagFIN))
	require.True(t, IsRST(tcpFlagRST))
	require.False(t, IsRST(tcpFlagACK))
}
