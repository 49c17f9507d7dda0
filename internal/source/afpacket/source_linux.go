//go:build linux

// Package afpacket captures frames from a live device through a Linux AF_PACKET
// TPACKET_V3 ring.
package afpacket

import (
	"errors"
	"fmt"
	"os"

	"github.com/google/gopacket/afpacket"
	"github.com/google/gopacket/layers"

	"firestige.xyz/sniff/internal/core"
	"firestige.xyz/sniff/internal/source"
	"firestige.xyz/sniff/internal/utils"
)

// Source is a TPACKET_V3 socket bound to one device.
type Source struct {
	device  string
	snapLen int
	handle  *afpacket.TPacket
}

// Open binds a ring sized from opts to the device. The poll timeout is the configured read
// timeout, so ReadFrame returns source.ErrTimeout on an idle device.
func Open(device string, opts source.Options) (*Source, error) {
	opts = opts.WithDefaults()

	frameSize, blockSize, numBlocks, err := ringGeometry(opts.BufferSizeMB, opts.SnapLen, os.Getpagesize())
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", source.ErrOpen, device, err)
	}

	tp, err := afpacket.NewTPacket(
		afpacket.OptInterface(device),
		afpacket.OptFrameSize(frameSize),
		afpacket.OptBlockSize(blockSize),
		afpacket.OptNumBlocks(numBlocks),
		afpacket.OptPollTimeout(opts.ReadTimeout),
		afpacket.SocketRaw,
		afpacket.TPacketVersion3,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", source.ErrOpen, device, err)
	}
	return &Source{device: device, snapLen: opts.SnapLen, handle: tp}, nil
}

func (s *Source) ReadFrame() (core.RawFrame, error) {
	if s.handle == nil {
		return core.RawFrame{}, source.ErrExhausted
	}
	data, ci, err := s.handle.ReadPacketData()
	switch {
	case err == nil:
		return source.FrameFromCapture(data, ci), nil
	case errors.Is(err, afpacket.ErrTimeout):
		return core.RawFrame{}, source.ErrTimeout
	default:
		return core.RawFrame{}, fmt.Errorf("reading %s: %w", s.device, err)
	}
}

// SetPredicate compiles expr with libpcap and attaches it to the socket. An empty
// expression compiles to an accept-all program.
func (s *Source) SetPredicate(expr string) error {
	raw, err := utils.CompileBpf(layers.LinkTypeEthernet, s.snapLen, expr)
	if err != nil {
		return fmt.Errorf("%w: %w", source.ErrPredicate, err)
	}
	if err := s.handle.SetBPF(raw); err != nil {
		return fmt.Errorf("%w: %w", source.ErrPredicate, err)
	}
	return nil
}

func (s *Source) LinkType() layers.LinkType {
	return layers.LinkTypeEthernet
}

func (s *Source) SnapLen() int {
	return s.snapLen
}

func (s *Source) Device() string {
	return s.device
}

func (s *Source) Close() error {
	if s.handle != nil {
		s.handle.Close()
		s.handle = nil
	}
	return nil
}
