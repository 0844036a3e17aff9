package anon

import (
	"bufio"
	"fmt"
	"net/netip"
	"os"
	"strings"
)

const hexDigits = "0123456789abcdef"

// toHex renders a 16-byte block as 32 lowercase hex characters without
// pulling in encoding/hex for a single fixed-size conversion.
func toHex(b [keySize]byte) string {
	out := make([]byte, keySize*2)
	for i, v := range b {
		out[i*2] = hexDigits[v>>4]
		out[i*2+1] = hexDigits[v&0x0f]
	}
	return string(out)
}

// Address anonymizes an IP address: the address bytes (4 for IPv4, 16
// for IPv6) are placed at the start of a zero-padded 16-byte block and
// AES-128 encrypted under k, per anon.c's addr_get_anon_hexstring.
func (k *Key) Address(addr netip.Addr) string {
	var pt [keySize]byte
	b := addr.As16()
	if addr.Is4() {
		a4 := addr.As4()
		copy(pt[:4], a4[:])
	} else {
		copy(pt[:], b[:])
	}
	return toHex(k.encryptBlock(pt))
}

// SubnetSet is a parsed allow-list of CIDR blocks whose member
// addresses should be anonymized; addresses outside every block pass
// through unanonymized, matching anon.c's addr_is_in_set.
type SubnetSet struct {
	prefixes []netip.Prefix
}

// LoadSubnetFile parses a subnet list file: one "A.B.C.D/n" (or
// IPv6 equivalent) CIDR per line, blank lines and lines starting with
// '#' ignored.
func LoadSubnetFile(path string) (*SubnetSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("anon: open subnet file %s: %w", path, err)
	}
	defer f.Close()

	var s SubnetSet
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		p, err := netip.ParsePrefix(line)
		if err != nil {
			return nil, fmt.Errorf("anon: %s:%d: %w", path, lineNo, err)
		}
		s.prefixes = append(s.prefixes, p.Masked())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("anon: read subnet file %s: %w", path, err)
	}
	return &s, nil
}

// Contains reports whether addr falls within any configured subnet.
// A nil SubnetSet matches nothing, so the caller can treat "no subnet
// file configured" as "anonymize nothing" uniformly.
func (s *SubnetSet) Contains(addr netip.Addr) bool {
	if s == nil {
		return false
	}
	for _, p := range s.prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
