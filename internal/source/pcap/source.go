// Package pcap captures frames from a live device through libpcap.
package pcap

import (
	"errors"
	"fmt"
	"io"
	"net/netip"

	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"

	"firestige.xyz/sniff/internal/core"
	"firestige.xyz/sniff/internal/source"
)

// Source is a live libpcap handle opened with a read timeout, so ReadFrame returns
// source.ErrTimeout on an idle device instead of blocking forever.
type Source struct {
	device string
	handle *pcap.Handle
}

// Open activates a capture handle on the named device.
func Open(device string, opts source.Options) (*Source, error) {
	opts = opts.WithDefaults()

	inactive, err := pcap.NewInactiveHandle(device)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", source.ErrOpen, device, err)
	}
	defer inactive.CleanUp()

	if err := inactive.SetSnapLen(opts.SnapLen); err != nil {
		return nil, fmt.Errorf("%w: %s: snaplen: %w", source.ErrOpen, device, err)
	}
	if err := inactive.SetPromisc(opts.Promiscuous); err != nil {
		return nil, fmt.Errorf("%w: %s: promisc: %w", source.ErrOpen, device, err)
	}
	if err := inactive.SetTimeout(opts.ReadTimeout); err != nil {
		return nil, fmt.Errorf("%w: %s: timeout: %w", source.ErrOpen, device, err)
	}
	if err := inactive.SetBufferSize(opts.BufferSizeMB * 1024 * 1024); err != nil {
		return nil, fmt.Errorf("%w: %s: buffer size: %w", source.ErrOpen, device, err)
	}

	handle, err := inactive.Activate()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", source.ErrOpen, device, err)
	}
	return &Source{device: device, handle: handle}, nil
}

func (s *Source) ReadFrame() (core.RawFrame, error) {
	if s.handle == nil {
		return core.RawFrame{}, source.ErrExhausted
	}
	data, ci, err := s.handle.ReadPacketData()
	switch {
	case err == nil:
		return source.FrameFromCapture(data, ci), nil
	case err == pcap.NextErrorTimeoutExpired:
		return core.RawFrame{}, source.ErrTimeout
	case errors.Is(err, io.EOF), err == pcap.NextErrorNoMorePackets:
		return core.RawFrame{}, source.ErrExhausted
	default:
		return core.RawFrame{}, fmt.Errorf("reading %s: %w", s.device, err)
	}
}

// SetPredicate installs the expression in the kernel via libpcap.
func (s *Source) SetPredicate(expr string) error {
	if err := s.handle.SetBPFFilter(expr); err != nil {
		return fmt.Errorf("%w: %w", source.ErrPredicate, err)
	}
	return nil
}

func (s *Source) LinkType() layers.LinkType {
	return s.handle.LinkType()
}

func (s *Source) SnapLen() int {
	return s.handle.SnapLen()
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

// Interface describes a capture device.
type Interface struct {
	Name        string       `json:"name" yaml:"name"`
	Description string       `json:"description,omitempty" yaml:"description,omitempty"`
	Addresses   []netip.Addr `json:"addresses,omitempty" yaml:"addresses,omitempty"`
}

// ListInterfaces returns the devices libpcap can capture on.
func ListInterfaces() ([]Interface, error) {
	devs, err := pcap.FindAllDevs()
	if err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}
	out := make([]Interface, 0, len(devs))
	for _, d := range devs {
		iface := Interface{Name: d.Name, Description: d.Description}
		for _, a := range d.Addresses {
			if addr, ok := netip.AddrFromSlice(a.IP); ok {
				iface.Addresses = append(iface.Addresses, addr.Unmap())
			}
		}
		out = append(out, iface)
	}
	return out, nil
}
