package tlsinspect

import (
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"

	"github.com/tlsflow/tlsflow/pkg/metrics"
)

// parseCertificateMessage decodes a Certificate (11) handshake body: a
// u24-prefixed list of u24-prefixed DER certificates, per spec.md §4.4
// "Certificate (11)". Certificates beyond MaxCertificates are dropped
// and Warning is set; a single certificate failing to parse produces a
// Certificate record carrying only Length and Warning, never aborting
// its siblings.
func parseCertificateMessage(s *SubRecord, body []byte) error {
	c := newCursor(body)

	listLen, err := c.u24()
	if err != nil {
		return err
	}
	end := c.pos + int(listLen)
	if end > len(c.buf) {
		return errShortRead
	}

	for c.pos < end {
		certLen, err := c.u24()
		if err != nil {
			return err
		}
		der, err := c.bytes(int(certLen))
		if err != nil {
			return err
		}

		if len(s.Certificates) >= MaxCertificates {
			s.Warning = true
			continue
		}
		s.Certificates = append(s.Certificates, decodeCertificate(der))
	}
	return nil
}

// decodeCertificate extracts the fields spec.md §3 names from one DER
// certificate via crypto/x509, tolerating partial failure: a field that
// cannot be extracted is simply omitted and Warning records that this
// happened, but sibling fields are still populated.
func decodeCertificate(der []byte) Certificate {
	rec := Certificate{Length: len(der)}

	cert, err := x509.ParseCertificate(der)
	if err != nil {
		rec.Warning = fmt.Sprintf("parse failed: %v", err)
		metrics.TLSCertificateParseFailures.Inc()
		return rec
	}

	rec.Serial = capBytes(cert.SerialNumber.Bytes(), MaxSerialBytes, &rec)
	rec.Issuer = rdnItems(cert.Issuer)
	rec.Subject = rdnItems(cert.Subject)
	// Matches OpenSSL's ASN1_TIME_print text form (e.g. "Mar 31 18:28:35
	// 2017 GMT"), per spec.md §8's own worked example.
	rec.NotBefore = cert.NotBefore.UTC().Format("Jan 2 15:04:05 2006") + " GMT"
	rec.NotAfter = cert.NotAfter.UTC().Format("Jan 2 15:04:05 2006") + " GMT"

	for _, ext := range cert.Extensions {
		if len(rec.Extensions) >= MaxCertExtensions {
			rec.Warning = "extension cap reached"
			break
		}
		rec.Extensions = append(rec.Extensions, CertExtension{
			OID:   ext.Id.String(),
			Value: append([]byte(nil), ext.Value...),
		})
	}

	rec.Signature = capBytes(cert.Signature, MaxSignatureBytes, &rec)
	rec.SignatureAlgorithm = signatureAlgorithmName(cert.SignatureAlgorithm)

	rec.SubjectPublicKeyAlgorithm = publicKeyAlgorithmName(cert.PublicKeyAlgorithm)
	rec.SubjectPublicKeyBits = publicKeyBits(cert.PublicKey)
	rec.SignatureKeyBits = rec.SubjectPublicKeyBits

	return rec
}

func capBytes(b []byte, max int, rec *Certificate) []byte {
	if len(b) <= max {
		return append([]byte(nil), b...)
	}
	rec.Warning = "field truncated at cap"
	return append([]byte(nil), b[:max]...)
}

// rdnItems flattens a pkix.Name into ordered {name, value} pairs,
// capped at MaxRDNItems; items past the cap are dropped silently.
func rdnItems(name pkix.Name) []RDNItem {
	var items []RDNItem
	add := func(n, v string) bool {
		if v == "" || len(items) >= MaxRDNItems {
			return len(items) < MaxRDNItems
		}
		items = append(items, RDNItem{Name: n, Value: v})
		return true
	}
	for _, cn := range name.Country {
		if !add("countryName", cn) {
			return items
		}
	}
	for _, o := range name.Organization {
		if !add("organizationName", o) {
			return items
		}
	}
	for _, ou := range name.OrganizationalUnit {
		if !add("organizationalUnitName", ou) {
			return items
		}
	}
	for _, l := range name.Locality {
		if !add("localityName", l) {
			return items
		}
	}
	for _, p := range name.Province {
		if !add("stateOrProvinceName", p) {
			return items
		}
	}
	if name.CommonName != "" {
		add("commonName", name.CommonName)
	}
	return items
}

func signatureAlgorithmName(alg x509.SignatureAlgorithm) string {
	if s := alg.String(); s != "" && s != "UnknownSignatureAlgorithm" {
		return s
	}
	return "unknown"
}

func publicKeyAlgorithmName(alg x509.PublicKeyAlgorithm) string {
	if s := alg.String(); s != "" {
		return s
	}
	return "unknown"
}

func publicKeyBits(pub any) int {
	switch k := pub.(type) {
	case *rsa.PublicKey:
		return k.N.BitLen()
	case *ecdsa.PublicKey:
		return k.Curve.Params().BitSize
	default:
		return 0
	}
}
