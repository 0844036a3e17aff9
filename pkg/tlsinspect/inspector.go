// Package tlsinspect implements the TLS handshake observer: a
// three-phase state machine (accumulate, parse, observe) that
// reconstructs TLS records out of arbitrarily segmented TCP payload
// and extracts the fields named in spec.md §3 "TLS sub-record".
package tlsinspect

import (
	"sync"
	"time"

	"github.com/tlsflow/tlsflow/pkg/flowkey"
	"github.com/tlsflow/tlsflow/pkg/flowtable"
	"github.com/tlsflow/tlsflow/pkg/observer"
)

// certMu serializes every call into crypto/x509's certificate parser.
// The teacher's packages don't share this particular problem, but
// spec.md calls for a single process-wide guarded path rather than one
// mutex per flow; x509.ParseCertificate is safe for concurrent use in
// practice, but centralizing the call site here keeps the bound on
// concurrent DER parsing (and any future global parse cache) in one
// place instead of scattered across flows.
var certMu sync.Mutex

// tlsPort is the well-known port the inspector uses to decide whether
// a flow is worth attempting to parse as TLS, per spec.md §4.1.
const tlsPort = 443

// Inspector implements observer.Observer for TLS.
type Inspector struct{}

// New returns a TLS Inspector.
func New() *Inspector { return &Inspector{} }

// ID implements observer.Observer.
func (*Inspector) ID() flowtable.ObserverID { return flowtable.ObserverTLS }

// Matches implements observer.Observer: a flow is a TLS candidate if
// it is TCP and either endpoint is port 443, or a sub-record already
// exists (so a flow that started matching keeps being fed even if only
// one direction used the standard port).
func (*Inspector) Matches(rec *flowtable.Record, hdr observer.PacketHeader) bool {
	if rec.SubRecord(flowtable.ObserverTLS) != nil {
		return true
	}
	if hdr.Key.Protocol != flowkey.TCP {
		return false
	}
	return hdr.Key.SrcPort == tlsPort || hdr.Key.DstPort == tlsPort
}

// Update implements observer.Observer.
func (*Inspector) Update(rec *flowtable.Record, hdr observer.PacketHeader, payload []byte) {
	if len(payload) == 0 {
		return
	}
	existing := rec.SubRecord(flowtable.ObserverTLS)
	sub, _ := existing.(*SubRecord)
	if sub == nil {
		sub = &SubRecord{}
		rec.SetSubRecord(flowtable.ObserverTLS, sub)
	}
	if sub.Corrupt {
		return
	}
	feed(sub, payload, hdr.Time)
}

// Finalize implements observer.Observer.
func (*Inspector) Finalize(rec *flowtable.Record) any {
	existing := rec.SubRecord(flowtable.ObserverTLS)
	sub, _ := existing.(*SubRecord)
	if sub == nil {
		return nil
	}
	sub.freeHandshakeBuffer()
	return sub
}

// feed walks payload record-by-record, reassembling records split
// across TCP segments via sub.pendingHeader/pendingType/pendingRemaining,
// and routes each complete record body to accumulate, parse, or
// observe depending on sub.DoneHandshake and content type.
func feed(sub *SubRecord, payload []byte, now time.Time) {
	pos := 0

	if sub.pendingRemaining > 0 {
		n := sub.pendingRemaining
		if n > len(payload) {
			n = len(payload)
		}
		consumeBody(sub, sub.pendingType, payload[:n], now)
		sub.pendingRemaining -= n
		pos = n
	}

	for pos < len(payload) && sub.pendingRemaining == 0 {
		hdrBytes := sub.pendingHeader
		need := 5 - len(hdrBytes)
		if need > 0 {
			n := need
			if n > len(payload)-pos {
				n = len(payload) - pos
			}
			hdrBytes = append(hdrBytes, payload[pos:pos+n]...)
			pos += n
			if len(hdrBytes) < 5 {
				sub.pendingHeader = hdrBytes
				return
			}
		}
		sub.pendingHeader = nil

		c := newCursor(hdrBytes)
		h, err := readRecordHeader(c)
		if err != nil {
			sub.Corrupt = true
			return
		}
		bodyLen := int(h.Length)
		available := len(payload) - pos
		n := bodyLen
		if n > available {
			n = available
		}
		consumeBody(sub, h.ContentType, payload[pos:pos+n], now)
		pos += n

		if n < bodyLen {
			sub.pendingType = h.ContentType
			sub.pendingRemaining = bodyLen - n
			recordMsgStat(sub, h, now)
		} else {
			recordMsgStat(sub, h, now)
		}
	}
}

func recordMsgStat(sub *SubRecord, h recordHeader, now time.Time) {
	if len(sub.MsgStats) >= NumPktLenTLS {
		return
	}
	sub.MsgStats = append(sub.MsgStats, MsgStat{
		ContentType: h.ContentType,
		Length:      h.Length,
		Timestamp:   now,
	})
}

// consumeBody routes one (possibly segment-spanning, already
// length-bounded) record body to the accumulate/observe phases.
func consumeBody(sub *SubRecord, contentType byte, body []byte, now time.Time) {
	switch {
	case !sub.DoneHandshake && contentType == contentTypeHandshake:
		// Phase A (Accumulate): per the resolved reading of spec.md's
		// open question, only Handshake-record bodies are appended to
		// the reassembly buffer, never whole raw packets.
		if !sub.appendHandshakeBytes(body) {
			return
		}
		parseBufferedHandshake(sub)
	case !sub.DoneHandshake && contentType == contentTypeChangeCipherSpec:
		// ChangeCipherSpec does not carry handshake framing; it neither
		// feeds the buffer nor flips done_handshake by itself.
	case !sub.DoneHandshake && contentType == contentTypeAlert:
		sub.Corrupt = true
	default:
		// Phase C (Observe): post-handshake, or any non-handshake
		// content type once the handshake is already done. Only
		// msg_stats bookkeeping applies; bodies are not retained.
		if contentType == contentTypeHandshake && !sub.DoneHandshake {
			sub.DoneHandshake = true
		}
	}
}

// parseBufferedHandshake is Phase B (Parse): walk whatever complete
// handshake messages now sit in the buffer starting at sub.segOffset,
// dispatching each by msg_type, and leave any trailing partial message
// for the next call. done_handshake is set, and the buffer released,
// once a Finished message has been consumed or a message type outside
// the TLS handshake ranges marks the flow corrupt.
func parseBufferedHandshake(sub *SubRecord) {
	for {
		remaining := sub.handshakeBuffer[sub.segOffset:]
		if len(remaining) < 4 {
			return
		}
		c := newCursor(remaining)
		h, err := readHandshakeHeader(c)
		if err != nil {
			return
		}
		if isNotTLSHandshakeType(h.MsgType) {
			sub.Corrupt = true
			sub.DoneHandshake = true
			sub.freeHandshakeBuffer()
			return
		}
		total := 4 + int(h.Length)
		if total > len(remaining) {
			// incomplete message, wait for more bytes
			return
		}
		body := remaining[4:total]
		dispatchHandshakeMessage(sub, h.MsgType, body)
		sub.segOffset += total

		if h.MsgType == handshakeFinished {
			sub.DoneHandshake = true
			sub.freeHandshakeBuffer()
			return
		}
	}
}

func dispatchHandshakeMessage(sub *SubRecord, msgType byte, body []byte) {
	switch msgType {
	case handshakeClientHello:
		_ = parseClientHello(sub, body)
	case handshakeServerHello:
		_ = parseServerHello(sub, body)
	case handshakeCertificate:
		certMu.Lock()
		_ = parseCertificateMessage(sub, body)
		certMu.Unlock()
	case handshakeClientKeyExchange:
		parseClientKeyExchange(sub, body)
	case handshakeServerHelloDone:
		// no fields to extract. msg_stats entries hold only the
		// enclosing record's content type, length and time, so the
		// handshake message type is not recorded there.
	default:
		// ServerKeyExchange, CertificateRequest, CertificateVerify,
		// NewSessionTicket, HelloRequest: framing only, no field
		// extraction per spec.md §4.4.
	}
}
