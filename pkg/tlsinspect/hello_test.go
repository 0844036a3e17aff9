package tlsinspect

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func u16be(n int) []byte { return []byte{byte(n >> 8), byte(n)} }

// serverNameExtensionData builds a server_name extension body matching
// this package's offset-7 reading of extractSNI (spec.md §4.4's
// literal text), not the real RFC 6066 offset.
func serverNameExtensionData(host string) []byte {
	data := make([]byte, 7)
	data = append(data, u16be(len(host))...)
	data = append(data, host...)
	return data
}

func buildClientHelloBody(host string, ciphersuites []uint16) []byte {
	var body []byte
	body = append(body, 3, 3) // TLS 1.2
	body = append(body, make([]byte, 32)...)
	body = append(body, 0) // session_id len 0

	var cs []byte
	for _, c := range ciphersuites {
		cs = append(cs, byte(c>>8), byte(c))
	}
	body = append(body, u16be(len(cs))...)
	body = append(body, cs...)

	body = append(body, 1, 0) // one compression method, null

	ext := serverNameExtensionData(host)
	extEntry := append([]byte{0, 0}, u16be(len(ext))...)
	extEntry = append(extEntry, ext...)
	body = append(body, u16be(len(extEntry))...)
	body = append(body, extEntry...)
	return body
}

func TestParseClientHelloExtractsSNIAndCiphersuites(t *testing.T) {
	sub := &SubRecord{}
	body := buildClientHelloBody("example.com", []uint16{0x0035, 0x002f})

	err := parseClientHello(sub, body)
	require.NoError(t, err)
	require.Equal(t, RoleClient, sub.Role)
	require.Equal(t, Version12, sub.Version)
	require.Equal(t, "example.com", sub.SNI)
	require.Equal(t, []uint16{0x0035, 0x002f}, sub.Ciphersuites)
}

func TestExtractSNIRespectsOffsetSeven(t *testing.T) {
	sub := &SubRecord{}
	data := serverNameExtensionData("host.example")
	extractSNI(sub, data)
	require.Equal(t, "host.example", sub.SNI)
}

func TestExtractSNITruncatedDataIsIgnored(t *testing.T) {
	sub := &SubRecord{}
	extractSNI(sub, make([]byte, 8))
	require.Empty(t, sub.SNI)
}

func buildServerHelloBody(selected uint16) []byte {
	var body []byte
	body = append(body, 3, 3)
	body = append(body, make([]byte, 32)...)
	body = append(body, 0) // session_id len 0
	body = append(body, byte(selected>>8), byte(selected))
	body = append(body, 0) // compression method
	return body
}

func TestParseServerHelloTLS12(t *testing.T) {
	sub := &SubRecord{}
	body := buildServerHelloBody(0x002f)

	err := parseServerHello(sub, body)
	require.NoError(t, err)
	require.Equal(t, RoleServer, sub.Role)
	require.Equal(t, Version12, sub.Version)
	require.Equal(t, []uint16{0x002f}, sub.Ciphersuites)
}

func TestParseClientKeyExchangeCapsAndBitLength(t *testing.T) {
	sub := &SubRecord{}
	parseClientKeyExchange(sub, make([]byte, 256))
	require.Equal(t, 256*8, sub.ClientKeyBits)
	require.Len(t, sub.ClientKeyExchange, 256)

	// 1124 bytes is 8992 bits, at or above the 8193-bit corruption
	// bound, so the body is dropped rather than truncated to the cap.
	sub2 := &SubRecord{}
	parseClientKeyExchange(sub2, make([]byte, MaxClientKeyExchange+100))
	require.Empty(t, sub2.ClientKeyExchange)
	require.False(t, sub2.Warning)
}
