package ndjson

import (
	"fmt"
	"io"
	"os"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"github.com/klauspost/compress/zstd"

	"github.com/tlsflow/tlsflow/pkg/flowerrors"
)

var api = jsoniter.ConfigCompatibleWithStandardLibrary

// Sink writes one JSON object per line to an underlying writer,
// optionally zstd-compressed. It is safe for concurrent use by
// multiple engine contexts.
type Sink struct {
	mu     sync.Mutex
	w      io.Writer
	closer io.Closer
	zw     *zstd.Encoder
}

// NewFileSink opens path for writing (creating or truncating it) and
// returns a Sink. When compress is true the stream is zstd-compressed,
// matching the teacher's use of klauspost/compress for on-disk
// encoding.
func NewFileSink(path string, compress bool) (*Sink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("ndjson: open output %s: %w", path, err)
	}
	if !compress {
		return &Sink{w: f, closer: f}, nil
	}
	zw, err := zstd.NewWriter(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("ndjson: init zstd writer: %w", err)
	}
	return &Sink{w: zw, closer: f, zw: zw}, nil
}

// NewWriterSink wraps an already-open writer (e.g. stdout), uncompressed.
func NewWriterSink(w io.Writer) *Sink {
	return &Sink{w: w}
}

// Write serializes rec as one compact JSON line. A marshal or write
// failure is returned as a *flowerrors.SinkError; the caller decides
// whether that is retryable.
func (s *Sink) Write(rec Record) error {
	b, err := api.Marshal(rec)
	if err != nil {
		return &flowerrors.SinkError{Err: err}
	}
	b = append(b, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(b); err != nil {
		return &flowerrors.SinkError{Err: err}
	}
	return nil
}

// Close flushes and releases the underlying writer(s).
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.zw != nil {
		if err := s.zw.Close(); err != nil {
			return err
		}
	}
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}
