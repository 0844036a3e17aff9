// Package dnsinspect implements the DNS question/answer-name observer,
// grounded on original_source/joy/src/include/dns.h's dns_t structure
// (a capped list of packets with their lengths, keyed on UDP/TCP port
// 53) — joy's own dns.c was not present in the retrieval pack, so the
// question-name extraction below follows RFC 1035's label encoding
// directly rather than a literal port.
package dnsinspect

import (
	"strings"

	"github.com/tlsflow/tlsflow/pkg/flowtable"
	"github.com/tlsflow/tlsflow/pkg/observer"
)

// dnsPort is the well-known DNS port, matching joy's dns_filter macro
// (record->app == 53 || dp == 53 || sp == 53).
const dnsPort = 53

// MaxNumDNSPkt caps how many DNS messages contribute a record per
// flow, matching joy's MAX_NUM_DNS_PKT.
const MaxNumDNSPkt = 200

// MaxDNSNameLen caps one decoded name's length, matching joy's
// MAX_DNS_NAME_LEN.
const MaxDNSNameLen = 256

// Message is one observed DNS message's extracted names.
type Message struct {
	Length    int      `json:"length"`
	QR        bool     `json:"qr"`
	Questions []string `json:"questions,omitempty"`
	Answers   []string `json:"answers,omitempty"`
}

// SubRecord is the per-flow DNS state.
type SubRecord struct {
	Messages []Message
}

// Observer implements observer.Observer for DNS.
type Observer struct{}

// New returns a DNS Observer.
func New() *Observer { return &Observer{} }

// ID implements observer.Observer.
func (*Observer) ID() flowtable.ObserverID { return flowtable.ObserverDNS }

// Matches implements observer.Observer: either endpoint on port 53,
// per joy's dns_filter.
func (*Observer) Matches(_ *flowtable.Record, hdr observer.PacketHeader) bool {
	return hdr.Key.SrcPort == dnsPort || hdr.Key.DstPort == dnsPort
}

// Update implements observer.Observer.
func (*Observer) Update(rec *flowtable.Record, _ observer.PacketHeader, payload []byte) {
	msg, ok := parseMessage(payload)
	if !ok {
		return
	}
	existing := rec.SubRecord(flowtable.ObserverDNS)
	sub, _ := existing.(*SubRecord)
	if sub == nil {
		sub = &SubRecord{}
		rec.SetSubRecord(flowtable.ObserverDNS, sub)
	}
	if len(sub.Messages) >= MaxNumDNSPkt {
		return
	}
	sub.Messages = append(sub.Messages, msg)
}

// Finalize implements observer.Observer.
func (*Observer) Finalize(rec *flowtable.Record) any {
	existing := rec.SubRecord(flowtable.ObserverDNS)
	sub, _ := existing.(*SubRecord)
	if sub == nil {
		return nil
	}
	return sub
}

// parseMessage decodes a DNS header and the question section's names,
// plus each answer record's owner name, per RFC 1035 §4.1. A message
// shorter than the 12-byte header, or whose first question name cannot
// be decoded, is skipped (ok=false); names decoded before a later
// truncation are kept and returned with ok=true. It never panics.
func parseMessage(data []byte) (Message, bool) {
	if len(data) < 12 {
		return Message{}, false
	}
	flags := uint16(data[2])<<8 | uint16(data[3])
	qdCount := int(uint16(data[4])<<8 | uint16(data[5]))
	anCount := int(uint16(data[6])<<8 | uint16(data[7]))

	msg := Message{Length: len(data), QR: flags&0x8000 != 0}
	pos := 12

	for i := 0; i < qdCount; i++ {
		name, next, ok := readName(data, pos)
		if !ok {
			return msg, len(msg.Questions) > 0 || len(msg.Answers) > 0
		}
		msg.Questions = append(msg.Questions, name)
		pos = next + 4 // QTYPE + QCLASS
	}

	for i := 0; i < anCount && i < MaxNumDNSPkt; i++ {
		name, next, ok := readName(data, pos)
		if !ok {
			break
		}
		msg.Answers = append(msg.Answers, name)
		pos = next
		if pos+10 > len(data) {
			break
		}
		rdLen := int(uint16(data[pos+8])<<8 | uint16(data[pos+9]))
		pos += 10 + rdLen
	}

	return msg, true
}

// readName decodes one RFC 1035 label sequence (or compression
// pointer) starting at pos, returning the dotted name and the offset
// just past it in the original message (not following the pointer).
func readName(data []byte, pos int) (string, int, bool) {
	var labels []string
	start := pos
	jumped := false
	steps := 0

	for {
		steps++
		if steps > 128 || pos >= len(data) {
			return "", 0, false
		}
		l := int(data[pos])
		switch {
		case l == 0:
			pos++
			if !jumped {
				start = pos
			}
			name := strings.Join(labels, ".")
			if len(name) > MaxDNSNameLen {
				name = name[:MaxDNSNameLen]
			}
			return name, start, true
		case l&0xc0 == 0xc0:
			if pos+1 >= len(data) {
				return "", 0, false
			}
			if !jumped {
				start = pos + 2
				jumped = true
			}
			pos = int(l&0x3f)<<8 | int(data[pos+1])
		default:
			if pos+1+l > len(data) {
				return "", 0, false
			}
			labels = append(labels, string(data[pos+1:pos+1+l]))
			pos += 1 + l
		}
	}
}
