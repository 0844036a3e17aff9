// Package pcapsrc reads an offline pcap file into raw frames for the
// read loop in cmd/tlsflowd, using gopacket/pcapgo's pure-Go reader so the
// module never links against libpcap. Grounded on the pack's several
// gopacket-based capture tools (packaged as an adapter rather than a
// full decode pipeline, since wire decoding itself lives in pkg/wire).
package pcapsrc

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/gopacket/pcapgo"
)

// RawPacket is one frame read off the file, paired with its capture
// timestamp and the original on-wire length (which can exceed the
// captured/snaplen-truncated length).
type RawPacket struct {
	Data     []byte
	Time     time.Time
	TotalLen uint32
}

// FileSource reads packets sequentially from a single pcap file.
type FileSource struct {
	f    *os.File
	r    *pcapgo.Reader
	ngr  *pcapgo.NgReader
	isNg bool
}

// Open opens path, auto-detecting classic pcap vs pcapng framing, per
// spec.md's "offline pcap file" input.
func Open(path string) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("pcapsrc: open %s: %w", path, err)
	}

	if ngr, err := pcapgo.NewNgReader(f, pcapgo.DefaultNgReaderOptions); err == nil {
		return &FileSource{f: f, ngr: ngr, isNg: true}, nil
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		return nil, fmt.Errorf("pcapsrc: seek %s: %w", path, err)
	}
	r, err := pcapgo.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("pcapsrc: %s is not a recognized pcap file: %w", path, err)
	}
	return &FileSource{f: f, r: r}, nil
}

// Next returns the next packet, or io.EOF once the file is exhausted.
func (s *FileSource) Next() (RawPacket, error) {
	if s.isNg {
		d, info, err := s.ngr.ZeroCopyReadPacketData()
		if err != nil {
			return RawPacket{}, err
		}
		return RawPacket{
			Data:     append([]byte(nil), d...),
			Time:     info.Timestamp,
			TotalLen: uint32(info.Length),
		}, nil
	}

	d, info, err := s.r.ZeroCopyReadPacketData()
	if err != nil {
		return RawPacket{}, err
	}
	return RawPacket{
		Data:     append([]byte(nil), d...),
		Time:     info.Timestamp,
		TotalLen: uint32(info.Length),
	}, nil
}

// Close releases the underlying file handle.
func (s *FileSource) Close() error {
	return s.f.Close()
}
