package tlsinspect

import (
	"time"

	"github.com/tlsflow/tlsflow/pkg/metrics"
)

// Role is which side of the handshake a flow's TLS sub-record was
// observed to be, per spec.md §3.
type Role int

// Enumeration of TLS roles.
const (
	RoleUnknown Role = iota
	RoleClient
	RoleServer
	RoleFlowData
)

// Caps bound every growable sequence on SubRecord, per spec.md §3/§7
// ("Resource cap reached ... silently drop further additions; set a
// warning flag").
const (
	MaxHandshakeBufferBytes = 11000
	MaxCiphersuites         = 256
	MaxExtensions           = 64
	MaxServerExtensionLen   = 256 // server extensions whose length exceeds this are dropped
	MaxCertificates         = 8
	MaxRDNItems             = 16
	MaxCertExtensions       = 32
	MaxSignatureBytes       = 512
	MaxSerialBytes          = 24
	MaxClientKeyExchange    = 1024
	NumPktLenTLS            = 10
)

// Extension is a {type, data} TLS extension as carried in ClientHello
// or ServerHello.
type Extension struct {
	Type uint16 `json:"type"`
	Data []byte `json:"data"`
}

// RDNItem is one attribute of an X.509 RDN sequence (subject or
// issuer), e.g. {"commonName", "github.com"}.
type RDNItem struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// CertExtension is a decoded X.509 certificate extension.
type CertExtension struct {
	OID   string `json:"oid"`
	Value []byte `json:"value"`
}

// Certificate holds everything spec.md §3 asks the inspector to
// extract from one DER certificate, independently tolerant of any one
// field failing to parse.
type Certificate struct {
	Length int `json:"length"`

	Serial []byte `json:"serial,omitempty"`

	Issuer  []RDNItem `json:"issuer,omitempty"`
	Subject []RDNItem `json:"subject,omitempty"`

	NotBefore string `json:"validity_not_before,omitempty"`
	NotAfter  string `json:"validity_not_after,omitempty"`

	Extensions []CertExtension `json:"extensions,omitempty"`

	Signature          []byte `json:"signature,omitempty"`
	SignatureAlgorithm string `json:"signature_algorithm,omitempty"`
	SignatureKeyBits   int    `json:"signature_key_size,omitempty"`

	SubjectPublicKeyAlgorithm string `json:"subject_public_key_algorithm,omitempty"`
	SubjectPublicKeyBits      int    `json:"subject_public_key_size,omitempty"`

	// Warning records a non-fatal extraction failure (a certificate
	// that failed to parse, a field truncated at its cap, or extensions
	// dropped at MaxCertExtensions) so callers can surface it without
	// aborting the rest of the certificate. RDN items past MaxRDNItems
	// are dropped without setting Warning.
	Warning string `json:"warning,omitempty"`
}

// MsgStat is one entry of msg_stats: per-record bookkeeping kept for
// the first NumPktLenTLS TLS records observed on a flow.
type MsgStat struct {
	ContentType    uint8     `json:"content_type"`
	Length         uint16    `json:"length"`
	Timestamp      time.Time `json:"timestamp"`
	HandshakeTypes []uint8   `json:"handshake_types,omitempty"`
	HandshakeLens  []uint32  `json:"handshake_lens,omitempty"`
}

// SubRecord is the per-flow TLS state, exactly as specified in
// spec.md §3 "TLS sub-record".
type SubRecord struct {
	Role    Role
	Version Version

	handshakeBuffer []byte
	DoneHandshake   bool
	segOffset       int

	// pendingType/pendingRemaining track a TLS record whose body
	// crosses a TCP segment boundary: once a record header has been
	// read, pendingRemaining counts the body bytes still owed before
	// the record is complete, across however many Update calls it
	// takes to arrive.
	pendingType      byte
	pendingRemaining int
	// pendingHeader buffers a partial 5-byte record header split
	// across segments.
	pendingHeader []byte

	Ciphersuites      []uint16
	Extensions        []Extension
	ServerExtensions  []Extension
	SNI               string
	SessionID         []byte
	Random            [32]byte
	ClientKeyExchange []byte
	ClientKeyBits     int

	Certificates []Certificate

	MsgStats []MsgStat

	// Corrupt is set once a malformed record/message aborts the walk;
	// no further TLS updates are applied to this flow (spec.md §7).
	Corrupt bool

	// Warning records that some resource cap was reached during
	// extraction (spec.md §7 "Resource cap reached").
	Warning bool
}

// appendHandshakeBytes appends b to the handshake buffer, capped at
// MaxHandshakeBufferBytes. On overflow it marks the flow corrupt and
// returns false, per spec.md §4.4 Phase A.
func (s *SubRecord) appendHandshakeBytes(b []byte) bool {
	if len(s.handshakeBuffer)+len(b) > MaxHandshakeBufferBytes {
		s.Corrupt = true
		metrics.TLSHandshakeBufferOverflows.Inc()
		return false
	}
	s.handshakeBuffer = append(s.handshakeBuffer, b...)
	return true
}

// freeHandshakeBuffer releases the accumulation buffer once parsing
// has completed, per spec.md §3's invariant that the buffer only
// exists between the first Handshake record and done_handshake.
func (s *SubRecord) freeHandshakeBuffer() {
	s.handshakeBuffer = nil
	s.segOffset = 0
}
