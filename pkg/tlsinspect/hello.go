package tlsinspect

// parseClientHello decodes a ClientHello handshake body per spec.md
// §4.4: version (if unset), 32-byte random, session_id, ciphersuites
// vector, compression methods, then extensions (extension 0 also
// yields the SNI).
func parseClientHello(s *SubRecord, body []byte) error {
	c := newCursor(body)

	major, err := c.u8()
	if err != nil {
		return err
	}
	minor, err := c.u8()
	if err != nil {
		return err
	}
	if s.Version == VersionUnsupported {
		s.Version = versionOf(major, minor)
	}
	s.Role = RoleClient

	random, err := c.bytes(32)
	if err != nil {
		return err
	}
	copy(s.Random[:], random)

	sidLen, err := c.u8()
	if err != nil {
		return err
	}
	sid, err := c.bytes(int(sidLen))
	if err != nil {
		return err
	}
	s.SessionID = append([]byte(nil), sid...)

	csLen, err := c.u16()
	if err != nil {
		return err
	}
	csBytes, err := c.bytes(int(csLen))
	if err != nil {
		return err
	}
	readCiphersuites(s, csBytes)

	compLen, err := c.u8()
	if err != nil {
		return err
	}
	if err := c.skip(int(compLen)); err != nil {
		return err
	}

	return parseExtensions(s, c, false)
}

// parseServerHello decodes a ServerHello handshake body per spec.md
// §4.4: for TLS 1.3 the 32-byte random is followed directly by the
// selected cipher suite and then extensions; otherwise session_id, the
// selected cipher suite, and one compression method byte precede
// extensions.
func parseServerHello(s *SubRecord, body []byte) error {
	c := newCursor(body)

	major, err := c.u8()
	if err != nil {
		return err
	}
	minor, err := c.u8()
	if err != nil {
		return err
	}
	if s.Version == VersionUnsupported {
		s.Version = versionOf(major, minor)
	}
	s.Role = RoleServer

	if _, err := c.bytes(32); err != nil {
		return err
	}

	if s.Version != Version13 && s.Version != Version13Draft {
		sidLen, err := c.u8()
		if err != nil {
			return err
		}
		if err := c.skip(int(sidLen)); err != nil {
			return err
		}

		cs, err := c.u16()
		if err != nil {
			return err
		}
		if len(s.Ciphersuites) == 0 {
			s.Ciphersuites = append(s.Ciphersuites, cs)
		}

		if err := c.skip(1); err != nil { // single compression method byte
			return err
		}
	} else {
		cs, err := c.u16()
		if err != nil {
			return err
		}
		if len(s.Ciphersuites) == 0 {
			s.Ciphersuites = append(s.Ciphersuites, cs)
		}
	}

	return parseExtensions(s, c, true)
}

func readCiphersuites(s *SubRecord, data []byte) {
	n := len(data) / 2
	if n > MaxCiphersuites {
		n = MaxCiphersuites
		s.Warning = true
	}
	for i := 0; i < n; i++ {
		cs := uint16(data[i*2])<<8 | uint16(data[i*2+1])
		s.Ciphersuites = append(s.Ciphersuites, cs)
	}
}

// parseExtensions reads a sequence of {type:u16, len:u16, data[len]}
// extensions. When fromServer is true, extensions whose declared
// length exceeds MaxServerExtensionLen are dropped per spec.md §4.4
// ServerHello handling ("drop extensions whose length field exceeds
// 256"). Extension type 0 additionally yields the SNI.
func parseExtensions(s *SubRecord, c *cursor, fromServer bool) error {
	// extensions vector is itself length-prefixed when present; if the
	// buffer is exhausted there simply are no extensions.
	if c.remaining() == 0 {
		return nil
	}
	totalLen, err := c.u16()
	if err != nil {
		return nil //nolint:nilerr // absent extensions vector is not an error
	}
	end := c.pos + int(totalLen)
	if end > len(c.buf) {
		return errShortRead
	}

	for c.pos < end {
		typ, err := c.u16()
		if err != nil {
			return err
		}
		l, err := c.u16()
		if err != nil {
			return err
		}
		if fromServer && l > MaxServerExtensionLen {
			if err := c.skip(int(l)); err != nil {
				return err
			}
			continue
		}
		data, err := c.bytes(int(l))
		if err != nil {
			return err
		}

		target := &s.Extensions
		if fromServer {
			target = &s.ServerExtensions
		}
		if len(*target) >= MaxExtensions {
			s.Warning = true
			continue
		}
		*target = append(*target, Extension{Type: typ, Data: append([]byte(nil), data...)})

		if typ == 0 && !fromServer {
			extractSNI(s, data)
		}
	}
	return nil
}

// extractSNI decodes the server_name extension body: a list length
// (u16), then for the first entry a name type byte (0 = host_name)
// and a 16-bit length-prefixed host name, at offset 7 per spec.md
// §4.4 ("offset 7 of its data is a 16-bit length followed by the host
// name").
func extractSNI(s *SubRecord, data []byte) {
	if len(data) < 9 {
		return
	}
	hostLen := int(data[7])<<8 | int(data[8])
	if 9+hostLen > len(data) {
		return
	}
	s.SNI = string(data[9 : 9+hostLen])
}

// parseClientKeyExchange records the client key length in bits and
// stores the body up to MaxClientKeyExchange bytes, per spec.md §4.4.
// A resulting bit-length of 8193 or more is treated as corruption and
// silently dropped.
func parseClientKeyExchange(s *SubRecord, body []byte) {
	bits := len(body) * 8
	if bits >= 8193 {
		return
	}
	s.ClientKeyBits = bits
	n := len(body)
	if n > MaxClientKeyExchange {
		n = MaxClientKeyExchange
		s.Warning = true
	}
	s.ClientKeyExchange = append([]byte(nil), body[:n]...)
}
