// Package wire implements the link-layer-through-transport-layer
// decoder: it turns a raw captured frame into a flowkey.Key, the
// relevant TCP/UDP/ICMP auxiliary byte, and a slice referencing the
// application payload inside the original buffer.
//
// Every field access is bounds-checked explicitly (no unsafe pointer
// arithmetic over the frame buffer), returning ErrTruncated instead of
// panicking on any short read, per the redesign note in spec.md §9.
package wire

import (
	"errors"
	"fmt"

	"github.com/tlsflow/tlsflow/pkg/flowkey"
)

// ErrTruncated indicates the frame was too short to contain a field
// the decoder needed to read.
var ErrTruncated = errors.New("frame truncated")

// ErrInvalidIPHeader indicates neither an IPv4 nor an IPv6 header was
// found at the expected offset.
var ErrInvalidIPHeader = errors.New("no IPv4 or IPv6 header found")

// ErrFragmented indicates an IPv4 packet carries a non-zero fragment
// offset, i.e. is not the first fragment and therefore lacks a
// transport-layer header the decoder could key on.
var ErrFragmented = errors.New("fragmented IP packet without transport header")

const (
	etherHeaderLen = 14
	etherTypeIPv4  = 0x0800
	etherTypeIPv6  = 0x86DD
	etherTypeVLAN  = 0x8100
	vlanTagLen     = 4

	ipv4MinHeaderLen = 20
	ipv6HeaderLen    = 40
	tcpMinHeaderLen  = 20
)

// Packet is the result of decoding one captured frame.
type Packet struct {
	Key       flowkey.Key
	TCPFlags  byte // valid only when Key.Protocol == flowkey.TCP
	AuxInfo   byte // ICMP type when Key.Protocol is ICMP/ICMPv6, else 0
	Payload   []byte
	TotalLen  uint32
}

type cursor struct {
	buf []byte
	pos int
}

func (c *cursor) remaining() int { return len(c.buf) - c.pos }

func (c *cursor) skip(n int) error {
	if c.remaining() < n {
		return ErrTruncated
	}
	c.pos += n
	return nil
}

func (c *cursor) byteAt(offset int) (byte, error) {
	if c.pos+offset >= len(c.buf) {
		return 0, ErrTruncated
	}
	return c.buf[c.pos+offset], nil
}

func (c *cursor) slice(offset, n int) ([]byte, error) {
	if c.pos+offset+n > len(c.buf) {
		return nil, ErrTruncated
	}
	return c.buf[c.pos+offset : c.pos+offset+n], nil
}

// Decode parses a captured Ethernet II frame (with at most one VLAN
// tag) carrying IPv4 or IPv6, and TCP/UDP/ICMP on top. It returns
// ErrTruncated, ErrInvalidIPHeader or ErrFragmented on malformed
// input, never panics.
func Decode(frame []byte, totalLen uint32) (Packet, error) {
	c := &cursor{buf: frame}
	if err := c.skip(etherHeaderLen); err != nil {
		return Packet{}, err
	}

	etherType, err := etherTypeAt(frame, etherHeaderLen-2)
	if err != nil {
		return Packet{}, err
	}
	if etherType == etherTypeVLAN {
		if err := c.skip(vlanTagLen); err != nil {
			return Packet{}, err
		}
		etherType, err = etherTypeAt(frame, c.pos-2)
		if err != nil {
			return Packet{}, err
		}
	}

	switch etherType {
	case etherTypeIPv4:
		return decodeIPv4(c, totalLen)
	case etherTypeIPv6:
		return decodeIPv6(c, totalLen)
	default:
		return Packet{}, fmt.Errorf("%w: unsupported ethertype 0x%04x", ErrInvalidIPHeader, etherType)
	}
}

func etherTypeAt(frame []byte, offset int) (uint16, error) {
	if offset+2 > len(frame) {
		return 0, ErrTruncated
	}
	return uint16(frame[offset])<<8 | uint16(frame[offset+1]), nil
}

func decodeIPv4(c *cursor, totalLen uint32) (Packet, error) {
	ihlByte, err := c.byteAt(0)
	if err != nil {
		return Packet{}, err
	}
	ihl := int(ihlByte&0x0F) * 4
	if ihl < ipv4MinHeaderLen || c.pos+ihl > len(c.buf) {
		return Packet{}, fmt.Errorf("%w: invalid IHL %d", ErrTruncated, ihl)
	}

	totalLenField, err := c.slice(2, 2)
	if err != nil {
		return Packet{}, err
	}
	ipTotalLen := int(uint16(totalLenField[0])<<8 | uint16(totalLenField[1]))
	if ipTotalLen < ihl || c.pos+ipTotalLen > len(c.buf) {
		return Packet{}, fmt.Errorf("%w: IP total length %d shorter than header or past frame bounds", ErrTruncated, ipTotalLen)
	}

	protoByte, err := c.byteAt(9)
	if err != nil {
		return Packet{}, err
	}
	proto := protoByte

	var key flowkey.Key
	key.IsIPv4 = true
	key.Protocol = proto
	srcRaw, err := c.slice(12, 4)
	if err != nil {
		return Packet{}, err
	}
	dstRaw, err := c.slice(16, 4)
	if err != nil {
		return Packet{}, err
	}
	copy(key.SrcIP[12:16], srcRaw)
	copy(key.DstIP[12:16], dstRaw)

	if proto != flowkey.ESP {
		flagsFrag, err := c.slice(6, 2)
		if err != nil {
			return Packet{}, err
		}
		fragOffset := (uint16(flagsFrag[0]&0x1F) << 8) | uint16(flagsFrag[1])
		if fragOffset != 0 {
			return Packet{}, ErrFragmented
		}
	}

	pkt := Packet{Key: key, TotalLen: totalLen}
	if err := c.skip(ihl); err != nil {
		return Packet{}, err
	}

	switch proto {
	case flowkey.TCP, flowkey.UDP:
		if err := decodeTransportPorts(c, &pkt.Key); err != nil {
			return Packet{}, err
		}
		if proto == flowkey.TCP {
			dataOffByte, err := c.byteAt(12)
			if err != nil {
				return Packet{}, ErrTruncated
			}
			dataOff := int(dataOffByte>>4) * 4
			if dataOff < tcpMinHeaderLen {
				return Packet{}, fmt.Errorf("%w: TCP data offset %d too small", ErrTruncated, dataOff)
			}
			flags, err := c.byteAt(13)
			if err != nil {
				return Packet{}, ErrTruncated
			}
			pkt.TCPFlags = flags
			if err := c.skip(dataOff); err != nil {
				return Packet{}, err
			}
		} else {
			if err := c.skip(8); err != nil {
				return Packet{}, err
			}
		}
	case flowkey.ICMP:
		t, err := c.byteAt(0)
		if err != nil {
			return Packet{}, err
		}
		pkt.AuxInfo = t
	}

	pkt.Payload = c.buf[c.pos:]
	return pkt, nil
}

func decodeIPv6(c *cursor, totalLen uint32) (Packet, error) {
	if err := func() error {
		if c.remaining() < ipv6HeaderLen {
			return ErrTruncated
		}
		return nil
	}(); err != nil {
		return Packet{}, err
	}

	proto, err := c.byteAt(6)
	if err != nil {
		return Packet{}, err
	}

	var key flowkey.Key
	key.IsIPv4 = false
	key.Protocol = proto
	srcRaw, err := c.slice(8, 16)
	if err != nil {
		return Packet{}, err
	}
	dstRaw, err := c.slice(24, 16)
	if err != nil {
		return Packet{}, err
	}
	copy(key.SrcIP[:], srcRaw)
	copy(key.DstIP[:], dstRaw)

	pkt := Packet{Key: key, TotalLen: totalLen}
	if err := c.skip(ipv6HeaderLen); err != nil {
		return Packet{}, err
	}

	switch proto {
	case flowkey.TCP, flowkey.UDP:
		if err := decodeTransportPorts(c, &pkt.Key); err != nil {
			return Packet{}, err
		}
		if proto == flowkey.TCP {
			flags, err := c.byteAt(13)
			if err != nil {
				return Packet{}, ErrTruncated
			}
			pkt.TCPFlags = flags
			dataOffByte, _ := c.byteAt(12)
			dataOff := int(dataOffByte>>4) * 4
			if dataOff < tcpMinHeaderLen {
				return Packet{}, fmt.Errorf("%w: TCP data offset %d too small", ErrTruncated, dataOff)
			}
			if err := c.skip(dataOff); err != nil {
				return Packet{}, err
			}
		} else {
			if err := c.skip(8); err != nil {
				return Packet{}, err
			}
		}
	case flowkey.ICMPv6:
		t, err := c.byteAt(0)
		if err != nil {
			return Packet{}, err
		}
		pkt.AuxInfo = t
	}

	pkt.Payload = c.buf[c.pos:]
	return pkt, nil
}

func decodeTransportPorts(c *cursor, key *flowkey.Key) error {
	ports, err := c.slice(0, 4)
	if err != nil {
		return err
	}
	key.SrcPort = uint16(ports[0])<<8 | uint16(ports[1])
	key.DstPort = uint16(ports[2])<<8 | uint16(ports[3])
	return nil
}
