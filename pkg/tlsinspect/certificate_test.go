package tlsinspect

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func selfSignedDER(t *testing.T, commonName string) []byte {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(42),
		Subject:      pkix.Name{CommonName: commonName, Organization: []string{"Example Org"}},
		Issuer:       pkix.Name{CommonName: commonName},
		NotBefore:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		NotAfter:     time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	return der
}

func u24be(n int) []byte { return []byte{byte(n >> 16), byte(n >> 8), byte(n)} }

func buildCertificateMessageBody(ders ...[]byte) []byte {
	var list []byte
	for _, der := range ders {
		list = append(list, u24be(len(der))...)
		list = append(list, der...)
	}
	body := u24be(len(list))
	body = append(body, list...)
	return body
}

func TestParseCertificateMessageExtractsFields(t *testing.T) {
	der := selfSignedDER(t, "example.com")
	body := buildCertificateMessageBody(der)

	sub := &SubRecord{}
	err := parseCertificateMessage(sub, body)
	require.NoError(t, err)
	require.Len(t, sub.Certificates, 1)

	cert := sub.Certificates[0]
	require.Equal(t, len(der), cert.Length)
	require.Equal(t, "Jan 1 00:00:00 2026 GMT", cert.NotBefore)
	require.Equal(t, "Jan 1 00:00:00 2027 GMT", cert.NotAfter)
	require.Empty(t, cert.Warning)

	var foundCN bool
	for _, item := range cert.Subject {
		if item.Name == "commonName" && item.Value == "example.com" {
			foundCN = true
		}
	}
	require.True(t, foundCN)
	require.Equal(t, 2048, cert.SubjectPublicKeyBits)
}

func TestParseCertificateMessageToleratesMalformedDER(t *testing.T) {
	body := buildCertificateMessageBody([]byte("not a certificate"))

	sub := &SubRecord{}
	err := parseCertificateMessage(sub, body)
	require.NoError(t, err)
	require.Len(t, sub.Certificates, 1)
	require.NotEmpty(t, sub.Certificates[0].Warning)
}

func TestParseCertificateMessageCapsCount(t *testing.T) {
	ders := make([][]byte, MaxCertificates+2)
	for i := range ders {
		ders[i] = []byte("x")
	}
	body := buildCertificateMessageBody(ders...)

	sub := &SubRecord{}
	err := parseCertificateMessage(sub, body)
	require.NoError(t, err)
	require.Len(t, sub.Certificates, MaxCertificates)
	require.True(t, sub.Warning)
}
