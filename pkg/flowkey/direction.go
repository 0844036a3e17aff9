package flowkey

// Direction classifies whether an observed packet's (src,dst) ordering
// matches or inverts the canonical flow key it was folded into.
// Grounded on the teacher's capturetypes.ClassifyPacketDirection
// heuristics (TCP handshake flags, then port privilege, then ICMP
// type), generalized from byte-slice EPHash fields to flowkey.Key.
type Direction uint8

const (
	// DirectionUnknown means no heuristic could classify the packet.
	DirectionUnknown Direction = iota
	// DirectionRemains means the packet's ordering matches the canonical key.
	DirectionRemains
	// DirectionReverts means the packet is travelling in the reverse direction.
	DirectionReverts
)

const (
	tcpFlagFIN = 0x01
	tcpFlagSYN = 0x02
	tcpFlagRST = 0x04
	tcpFlagACK = 0x10
)

// IsConfidenceHigh reports whether any direction verdict was reached.
// Direction does not record which heuristic produced it, so a
// port-ordering guess counts the same as a TCP handshake flag or an
// ICMP request/reply type.
func (d Direction) IsConfidenceHigh() bool {
	return d != DirectionUnknown
}

// ClassifyTCP inspects the TCP flag byte of a packet keyed by raw
// (not yet canonicalized) key against its own canonical form.
func ClassifyTCP(raw Key, flags byte) Direction {
	if flags&tcpFlagSYN != 0 {
		if flags&tcpFlagACK != 0 {
			return reversionOf(raw, DirectionReverts)
		}
		return reversionOf(raw, DirectionRemains)
	}
	return classifyByPorts(raw)
}

// ClassifyICMP inspects an ICMP(v6) type byte.
func ClassifyICMP(raw Key, icmpType byte, isV6 bool) Direction {
	if isV6 {
		switch icmpType {
		case 0x81, 0x01, 0x03, 0x04:
			return reversionOf(raw, DirectionReverts)
		case 0x80:
			return reversionOf(raw, DirectionRemains)
		}
		return DirectionUnknown
	}
	switch icmpType {
	case 0x00, 0x03, 0x0B, 0x0C, 0x0E:
		return reversionOf(raw, DirectionReverts)
	case 0x08, 0x0D:
		return reversionOf(raw, DirectionRemains)
	}
	return DirectionUnknown
}

// classifyByPorts applies the low-confidence port-ordering heuristic:
// a non-ephemeral destination port next to an ephemeral source port
// suggests a client->server packet.
func classifyByPorts(raw Key) Direction {
	srcEph, dstEph := IsEphemeralPort(raw.SrcPort), IsEphemeralPort(raw.DstPort)
	switch {
	case srcEph && !dstEph:
		return reversionOf(raw, DirectionRemains)
	case !srcEph && dstEph:
		return reversionOf(raw, DirectionReverts)
	case raw.DstPort < raw.SrcPort:
		return reversionOf(raw, DirectionRemains)
	case raw.SrcPort < raw.DstPort:
		return reversionOf(raw, DirectionReverts)
	}
	return reversionOf(raw, DirectionRemains)
}

// reversionOf translates a verdict phrased against raw's own ordering
// into a verdict phrased against raw's canonical ordering: if raw
// needed reversal to reach canonical form, remains/reverts flip.
func reversionOf(raw Key, verdict Direction) Direction {
	if !raw.isReverseOrdered() {
		return verdict
	}
	if verdict == DirectionRemains {
		return DirectionReverts
	}
	if verdict == DirectionReverts {
		return DirectionRemains
	}
	return verdict
}

// IsFINACK reports whether flags carries both FIN and ACK, the signal
// the flow table uses (in combination with the reverse direction's
// FIN-ACK) to detect a cleanly terminated TCP flow.
func IsFINACK(flags byte) bool {
	return flags&tcpFlagFIN != 0 && flags&tcpFlagACK != 0
}

// IsRST reports whether flags carries RST.
func IsRST(flags byte) bool {
	return flags&tcpFlagRST != 0
}
