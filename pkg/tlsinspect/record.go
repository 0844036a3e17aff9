package tlsinspect

// TLS record content types, per spec.md §4.4.
const (
	contentTypeChangeCipherSpec = 20
	contentTypeAlert            = 21
	contentTypeHandshake        = 22
	contentTypeApplicationData  = 23
)

// TLS handshake message types this inspector extracts fields from;
// everything else still contributes to msg_stats but is otherwise
// skipped, per spec.md §4.4.
const (
	handshakeHelloRequest       = 0
	handshakeClientHello        = 1
	handshakeServerHello        = 2
	handshakeNewSessionTicket   = 4
	handshakeCertificate        = 11
	handshakeServerKeyExchange  = 12
	handshakeCertificateRequest = 13
	handshakeServerHelloDone    = 14
	handshakeCertificateVerify  = 15
	handshakeClientKeyExchange  = 16
	handshakeFinished           = 20
)

// isNotTLSHandshakeType reports whether msgType falls in the ranges
// spec.md §4.4 says "are treated as not-TLS and abort the walk":
// {5..10} ∪ {17..19} ∪ {>23}.
func isNotTLSHandshakeType(msgType byte) bool {
	return (msgType >= 5 && msgType <= 10) ||
		(msgType >= 17 && msgType <= 19) ||
		msgType > 23
}

// recordHeader is the 5-byte TLS record header: content_type(1),
// version(2), length(2), per spec.md §4.4.
type recordHeader struct {
	ContentType byte
	Major       byte
	Minor       byte
	Length      uint16
}

func readRecordHeader(c *cursor) (recordHeader, error) {
	var h recordHeader
	ct, err := c.u8()
	if err != nil {
		return h, err
	}
	maj, err := c.u8()
	if err != nil {
		return h, err
	}
	min, err := c.u8()
	if err != nil {
		return h, err
	}
	l, err := c.u16()
	if err != nil {
		return h, err
	}
	h.ContentType, h.Major, h.Minor, h.Length = ct, maj, min, l
	return h, nil
}

// handshakeHeader is the 4-byte handshake message header: msg_type(1),
// length(3, u24 big-endian).
type handshakeHeader struct {
	MsgType byte
	Length  uint32
}

func readHandshakeHeader(c *cursor) (handshakeHeader, error) {
	var h handshakeHeader
	t, err := c.u8()
	if err != nil {
		return h, err
	}
	l, err := c.u24()
	if err != nil {
		return h, err
	}
	h.MsgType, h.Length = t, l
	return h, nil
}
