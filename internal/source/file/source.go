// Package file replays frames from a pcap or pcapng capture file.
package file

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"firestige.xyz/sniff/internal/core"
	"firestige.xyz/sniff/internal/source"
	"firestige.xyz/sniff/internal/utils"
)

const pcapngMagic = 0x0A0D0D0A

type packetReader interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
}

// Source reads frames sequentially from a capture file. It implements source.Rewinder.
type Source struct {
	path    string
	f       *os.File
	reader  packetReader
	snapLen int
	matcher *utils.Matcher
}

// Open opens a pcap or pcapng file. The format is detected from the magic number.
func Open(path string) (*Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", source.ErrOpen, path, err)
	}
	s := &Source{path: path, f: f}
	if err := s.reset(); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %s: %w", source.ErrOpen, path, err)
	}
	return s, nil
}

func (s *Source) reset() error {
	if _, err := s.f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	br := bufio.NewReader(s.f)
	magic, err := br.Peek(4)
	if err != nil {
		return fmt.Errorf("reading file header: %w", err)
	}

	if binary.LittleEndian.Uint32(magic) == pcapngMagic {
		r, err := pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
		if err != nil {
			return err
		}
		s.reader = r
		s.snapLen = 65535
		return nil
	}

	r, err := pcapgo.NewReader(br)
	if err != nil {
		return err
	}
	s.reader = r
	s.snapLen = int(r.Snaplen())
	return nil
}

// ReadFrame returns the next frame accepted by the predicate, or source.ErrExhausted at the
// end of the file. A truncated trailing record also counts as the end of the file.
func (s *Source) ReadFrame() (core.RawFrame, error) {
	if s.reader == nil {
		return core.RawFrame{}, source.ErrExhausted
	}
	for {
		data, ci, err := s.reader.ReadPacketData()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return core.RawFrame{}, source.ErrExhausted
			}
			return core.RawFrame{}, fmt.Errorf("reading %s: %w", s.path, err)
		}
		if s.matcher != nil && !s.matcher.Match(data) {
			continue
		}
		return source.FrameFromCapture(data, ci), nil
	}
}

// SetPredicate compiles expr for the file's link type and evaluates it in user space.
func (s *Source) SetPredicate(expr string) error {
	if expr == "" {
		s.matcher = nil
		return nil
	}
	m, err := utils.NewMatcher(s.LinkType(), s.snapLen, expr)
	if err != nil {
		return fmt.Errorf("%w: %w", source.ErrPredicate, err)
	}
	s.matcher = m
	return nil
}

// Rewind restarts reading from the first frame. The predicate is kept.
func (s *Source) Rewind() error {
	if s.f == nil {
		return fmt.Errorf("rewinding %s: %w", s.path, os.ErrClosed)
	}
	if err := s.reset(); err != nil {
		return fmt.Errorf("rewinding %s: %w", s.path, err)
	}
	return nil
}

func (s *Source) LinkType() layers.LinkType {
	if s.reader == nil {
		return layers.LinkTypeEthernet
	}
	return s.reader.LinkType()
}

func (s *Source) SnapLen() int {
	return s.snapLen
}

func (s *Source) Path() string {
	return s.path
}

func (s *Source) Close() error {
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	s.reader = nil
	return err
}
