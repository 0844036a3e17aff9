// Package flowerrors defines the error kinds of the analyzer's error
// handling design, each carrying the recovery policy in its own
// doc comment rather than in ad-hoc call-site logic.
package flowerrors

import (
	"fmt"

	"log/slog"
)

// MalformedPacketError indicates that a captured frame failed wire
// decoding. Recovery policy: drop the packet, increment a counter,
// continue.
type MalformedPacketError struct {
	Reason string
}

func (e *MalformedPacketError) Error() string {
	return fmt.Sprintf("malformed packet: %s", e.Reason)
}

// LogValue implements slog.LogValuer.
func (e *MalformedPacketError) LogValue() slog.Value {
	return slog.GroupValue(slog.String("reason", e.Reason))
}

// MalformedTLSRecordError indicates that a TLS record or handshake
// message could not be parsed. Recovery policy: mark the flow's TLS
// sub-record as corrupt and stop TLS updates for that flow; other
// observers keep running.
type MalformedTLSRecordError struct {
	Reason string
}

func (e *MalformedTLSRecordError) Error() string {
	return fmt.Sprintf("malformed TLS record: %s", e.Reason)
}

func (e *MalformedTLSRecordError) LogValue() slog.Value {
	return slog.GroupValue(slog.String("reason", e.Reason))
}

// CertificateParseError indicates one certificate in a Certificate
// handshake message failed to parse. Recovery policy: skip this
// certificate, continue with its siblings.
type CertificateParseError struct {
	Index int
	Err   error
}

func (e *CertificateParseError) Error() string {
	return fmt.Sprintf("certificate %d parse failure: %v", e.Index, e.Err)
}

func (e *CertificateParseError) Unwrap() error { return e.Err }

func (e *CertificateParseError) LogValue() slog.Value {
	return slog.GroupValue(slog.Int("index", e.Index), slog.Any("err", e.Err))
}

// ResourceCapError indicates a bounded buffer or sequence (handshake
// buffer, extension count, certificate count, ...) reached its cap.
// Recovery policy: silently drop further additions and set a warning
// flag on the owning sub-record.
type ResourceCapError struct {
	Resource string
	Cap      int
}

func (e *ResourceCapError) Error() string {
	return fmt.Sprintf("%s reached its cap of %d", e.Resource, e.Cap)
}

func (e *ResourceCapError) LogValue() slog.Value {
	return slog.GroupValue(slog.String("resource", e.Resource), slog.Int("cap", e.Cap))
}

// KeyfileError indicates the anonymization keyfile could not be read,
// decrypted, created or written. Recovery policy: fatal at startup;
// the process must refuse to enable anonymization.
type KeyfileError struct {
	Path string
	Err  error
}

func (e *KeyfileError) Error() string {
	return fmt.Sprintf("keyfile %q: %v", e.Path, e.Err)
}

func (e *KeyfileError) Unwrap() error { return e.Err }

// SinkError indicates the output sink failed to accept a record.
// Recovery policy: the engine counts it in metrics.SinkErrors and logs
// a warning; the record is not retried and processing continues.
type SinkError struct {
	Err     error
	Retries int
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("output sink failed after %d retries: %v", e.Retries, e.Err)
}

func (e *SinkError) Unwrap() error { return e.Err }
