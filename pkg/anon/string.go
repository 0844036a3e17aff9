package anon

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// String anonymizes a string of up to 16 bytes, padding the remainder
// of the block with 0xff (not zero, unlike Address) per anon.c's
// anon_string. Strings longer than 16 bytes are truncated to the first
// 16 before anonymizing, since the underlying cipher only ever sees
// one block.
func (k *Key) String(s string) string {
	var pt [keySize]byte
	for i := range pt {
		pt[i] = 0xff
	}
	b := []byte(s)
	if len(b) > keySize {
		b = b[:keySize]
	}
	copy(pt[:], b)
	return toHex(k.encryptBlock(pt))
}

// UsernameSet is a parsed allow-list of HTTP usernames that should be
// anonymized when observed, one per line, '#'-prefixed lines ignored.
type UsernameSet struct {
	names map[string]struct{}
}

// LoadUsernameFile parses a username list file in the same format as
// LoadSubnetFile.
func LoadUsernameFile(path string) (*UsernameSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("anon: open username file %s: %w", path, err)
	}
	defer f.Close()

	set := &UsernameSet{names: make(map[string]struct{})}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		set.names[line] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("anon: read username file %s: %w", path, err)
	}
	return set, nil
}

// Contains reports whether name is in the configured allow-list. A nil
// UsernameSet matches nothing.
func (u *UsernameSet) Contains(name string) bool {
	if u == nil {
		return false
	}
	_, ok := u.names[name]
	return ok
}
