// Package source defines the frame source contract used by capture sessions.
//
// Implementations live in sub-packages: pcap (live libpcap device), afpacket (Linux
// AF_PACKET ring) and file (pcap/pcapng replay). A source is owned by exactly one capture
// worker and is not safe for concurrent use.
package source

import (
	"errors"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"firestige.xyz/sniff/internal/core"
)

var (
	ErrOpen      = errors.New("sniff: cannot open capture source")
	ErrExhausted = errors.New("sniff: capture source exhausted")
	ErrTimeout   = errors.New("sniff: capture read timeout")
	ErrPredicate = errors.New("sniff: invalid capture predicate")
)

// Source yields raw frames.
type Source interface {
	// ReadFrame returns the next frame. ErrExhausted marks the end of a file source and
	// ErrTimeout a live read that expired with no frame; any other error ends the
	// current capture run.
	ReadFrame() (core.RawFrame, error)

	// SetPredicate installs a BPF expression. Frames it rejects never reach ReadFrame.
	// An empty expression removes the predicate.
	SetPredicate(expr string) error

	LinkType() layers.LinkType
	SnapLen() int
	Close() error
}

// Rewinder is implemented by sources that can restart from their first frame.
type Rewinder interface {
	Rewind() error
}

// Options configure live sources.
type Options struct {
	SnapLen      int
	Promiscuous  bool
	ReadTimeout  time.Duration
	BufferSizeMB int
}

// DefaultOptions returns the options used when none are configured.
func DefaultOptions() Options {
	return Options{
		SnapLen:      65535,
		Promiscuous:  true,
		ReadTimeout:  100 * time.Millisecond,
		BufferSizeMB: 8,
	}
}

// WithDefaults fills zero fields from DefaultOptions.
func (o Options) WithDefaults() Options {
	d := DefaultOptions()
	if o.SnapLen <= 0 {
		o.SnapLen = d.SnapLen
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = d.ReadTimeout
	}
	if o.BufferSizeMB <= 0 {
		o.BufferSizeMB = d.BufferSizeMB
	}
	return o
}

// FrameFromCapture converts gopacket capture metadata into a RawFrame.
func FrameFromCapture(data []byte, ci gopacket.CaptureInfo) core.RawFrame {
	return core.RawFrame{
		Data:           data,
		Timestamp:      ci.Timestamp,
		CaptureLen:     uint32(ci.CaptureLength),
		OrigLen:        uint32(ci.Length),
		InterfaceIndex: ci.InterfaceIndex,
	}
}

// CaptureInfo is the inverse of FrameFromCapture, used when persisting frames.
func CaptureInfo(f core.RawFrame) gopacket.CaptureInfo {
	capLen := int(f.CaptureLen)
	if capLen == 0 || capLen > len(f.Data) {
		capLen = len(f.Data)
	}
	origLen := int(f.OrigLen)
	if origLen < capLen {
		origLen = capLen
	}
	return gopacket.CaptureInfo{
		Timestamp:      f.Timestamp,
		CaptureLength:  capLen,
		Length:         origLen,
		InterfaceIndex: f.InterfaceIndex,
	}
}
