// Package flowkey implements the canonical 5-tuple flow key used to
// correlate packets belonging to the same bidirectional flow.
package flowkey

import (
	"encoding/hex"
	"net/netip"
)

// Enumeration of the IP protocols this package knows how to key on.
const (
	ICMP   = 0x01
	TCP    = 0x06
	UDP    = 0x11
	ESP    = 0x32
	ICMPv6 = 0x3A
)

// Size of a Key's address field, fixed at 16 bytes so that IPv4
// addresses (stored in the low 4 bytes) and IPv6 addresses share one
// representation.
const addrSize = 16

// Key is the 5-tuple (src_ip, dst_ip, src_port, dst_port, protocol)
// identifying one unidirectional packet stream. A Key holds the ports
// as observed; NATResilient derives the form that zeroes the ephemeral
// side's address and port the same way the teacher's EPHash does, so
// that request and response packets of a flow using an ephemeral
// source port still land on symmetric keys.
type Key struct {
	SrcIP    [addrSize]byte
	DstIP    [addrSize]byte
	SrcPort  uint16
	DstPort  uint16
	Protocol byte
	IsIPv4   bool
}

// Bytes returns a stable byte representation suitable as a map key or
// hash input. It deliberately avoids allocating a struct copy beyond
// the returned slice.
func (k Key) Bytes() []byte {
	buf := make([]byte, 0, addrSize*2+5)
	buf = append(buf, k.SrcIP[:]...)
	buf = append(buf, k.DstIP[:]...)
	buf = append(buf, byte(k.SrcPort>>8), byte(k.SrcPort))
	buf = append(buf, byte(k.DstPort>>8), byte(k.DstPort))
	buf = append(buf, k.Protocol)
	return buf
}

// Reverse returns the key with source and destination endpoints
// swapped, i.e. the key the opposite-direction packets of the same
// flow carry.
func (k Key) Reverse() Key {
	return Key{
		SrcIP:    k.DstIP,
		DstIP:    k.SrcIP,
		SrcPort:  k.DstPort,
		DstPort:  k.SrcPort,
		Protocol: k.Protocol,
		IsIPv4:   k.IsIPv4,
	}
}

// Canonical orders the two endpoints of k so that forward and reverse
// halves of a bidirectional flow are represented by the same key
// (spec: "canonical form orders endpoints so that forward and reverse
// halves of a bidirectional flow share a key").
func (k Key) Canonical() Key {
	if k.isReverseOrdered() {
		return k.Reverse()
	}
	return k
}

func (k Key) isReverseOrdered() bool {
	for i := 0; i < addrSize; i++ {
		if k.SrcIP[i] != k.DstIP[i] {
			return k.SrcIP[i] > k.DstIP[i]
		}
	}
	if k.SrcPort != k.DstPort {
		return k.SrcPort > k.DstPort
	}
	return false
}

// NATResilient returns a key that hashes only the server-side tuple
// when the client port looks ephemeral, so that NAT-induced client
// port churn does not fragment one logical flow into many records
// (spec: "nat-resilient form hashes only the server-side tuple when
// the client port is ephemeral").
func (k Key) NATResilient() Key {
	canon := k.Canonical()
	if IsEphemeralPort(canon.SrcPort) && !IsEphemeralPort(canon.DstPort) {
		canon.SrcPort = 0
		canon.SrcIP = [addrSize]byte{}
	} else if IsEphemeralPort(canon.DstPort) && !IsEphemeralPort(canon.SrcPort) {
		canon.DstPort = 0
		canon.DstIP = [addrSize]byte{}
	}
	return canon
}

// Ephemeral port range as the union of the IANA-suggested range
// (RFC 6335, 49152-65535) and the range used by most Linux kernels
// (32768-60999) — matches the teacher's capturetypes.isEphemeralPort.
const (
	minEphemeralPort uint16 = 32768
)

// IsEphemeralPort reports whether port falls in the ephemeral range.
func IsEphemeralPort(port uint16) bool {
	return port == 0 || port >= minEphemeralPort
}

// SrcAddr returns the source address as a netip.Addr, correctly
// narrowed to 4 bytes for IPv4 keys.
func (k Key) SrcAddr() netip.Addr {
	return addrFromBytes(k.SrcIP, k.IsIPv4)
}

// DstAddr returns the destination address as a netip.Addr.
func (k Key) DstAddr() netip.Addr {
	return addrFromBytes(k.DstIP, k.IsIPv4)
}

func addrFromBytes(b [addrSize]byte, isIPv4 bool) netip.Addr {
	if isIPv4 {
		var v4 [4]byte
		copy(v4[:], b[12:16])
		return netip.AddrFrom4(v4)
	}
	return netip.AddrFrom16(b)
}

// String renders the key in a debug-friendly "src:port->dst:port/proto" form.
func (k Key) String() string {
	return k.SrcAddr().String() + ":" + portString(k.SrcPort) + "->" +
		k.DstAddr().String() + ":" + portString(k.DstPort) + "/" + hex.EncodeToString([]byte{k.Protocol})
}

func portString(p uint16) string {
	return itoa(int(p))
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [5]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
