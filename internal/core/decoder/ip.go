// Package decoder implements protocol decoding.
package decoder

import (
	"fmt"
	"net/netip"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"firestige.xyz/sniff/internal/core"
)

const (
	ipv4HeaderMinLen = 20
	ipv6HeaderLen    = 40
)

// decodeIPv4 decodes IPv4 header.
// Returns IPv4Header and remaining payload.
func decodeIPv4(data []byte) (core.IPv4Header, []byte, error) {
	if len(data) < ipv4HeaderMinLen {
		return core.IPv4Header{}, nil, core.ErrPacketTooShort
	}
	if version := data[0] >> 4; version != 4 {
		return core.IPv4Header{}, nil, fmt.Errorf("%w: ip version %d in ipv4 frame", core.ErrUnsupportedProto, version)
	}

	var ip layers.IPv4
	if err := ip.DecodeFromBytes(data, gopacket.NilDecodeFeedback); err != nil {
		return core.IPv4Header{}, nil, err
	}

	src, ok := netip.AddrFromSlice(ip.SrcIP.To4())
	if !ok {
		return core.IPv4Header{}, nil, core.ErrPacketTooShort
	}
	dst, ok := netip.AddrFromSlice(ip.DstIP.To4())
	if !ok {
		return core.IPv4Header{}, nil, core.ErrPacketTooShort
	}

	hdr := core.IPv4Header{
		SrcIP:      src,
		DstIP:      dst,
		Protocol:   uint8(ip.Protocol),
		TTL:        ip.TTL,
		TotalLen:   ip.Length,
		ID:         ip.Id,
		Flags:      uint8(ip.Flags),
		FragOffset: ip.FragOffset,
		Checksum:   ip.Checksum,
	}
	return hdr, ip.Payload, nil
}

// decodeIPv6 decodes IPv6 fixed header.
// Extension headers are not walked: a next-header outside TCP/UDP/ICMPv6 fails the dispatch.
func decodeIPv6(data []byte) (core.IPv6Header, []byte, error) {
	if len(data) < ipv6HeaderLen {
		return core.IPv6Header{}, nil, core.ErrPacketTooShort
	}
	if version := data[0] >> 4; version != 6 {
		return core.IPv6Header{}, nil, fmt.Errorf("%w: ip version %d in ipv6 frame", core.ErrUnsupportedProto, version)
	}

	var ip layers.IPv6
	if err := ip.DecodeFromBytes(data, gopacket.NilDecodeFeedback); err != nil {
		return core.IPv6Header{}, nil, err
	}

	src, ok := netip.AddrFromSlice(ip.SrcIP.To16())
	if !ok {
		return core.IPv6Header{}, nil, core.ErrPacketTooShort
	}
	dst, ok := netip.AddrFromSlice(ip.DstIP.To16())
	if !ok {
		return core.IPv6Header{}, nil, core.ErrPacketTooShort
	}

	hdr := core.IPv6Header{
		SrcIP:        src,
		DstIP:        dst,
		NextHeader:   uint8(ip.NextHeader),
		HopLimit:     ip.HopLimit,
		PayloadLen:   ip.Length,
		TrafficClass: ip.TrafficClass,
		FlowLabel:    ip.FlowLabel,
	}
	return hdr, ip.Payload, nil
}
