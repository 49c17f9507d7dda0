// Package decoder implements L2-L4 protocol stack decoding.
//
// Decoding is strictly top-down: Ethernet, then IPv4 or IPv6, then TCP, UDP or ICMP.
// Each step consumes the payload left by the previous one and pushes exactly one header.
// Any failure at any layer drops the whole frame; partial layer stacks are never returned.
package decoder

import (
	"fmt"

	"firestige.xyz/sniff/internal/core"
)

// Decoder decodes raw frames into structured format.
type Decoder interface {
	Decode(raw core.RawFrame) (*core.DecodedPacket, error)
}

// Config contains decoder options.
type Config struct {
	MaxVLANTags int // 802.1Q / QinQ tags unwrapped in the Ethernet layer (default 2)
}

// StandardDecoder decodes Ethernet/IP/transport frames. It holds no mutable state and is
// safe for concurrent use.
type StandardDecoder struct {
	maxVLANTags int
}

// NewStandardDecoder creates a decoder.
func NewStandardDecoder(cfg Config) *StandardDecoder {
	if cfg.MaxVLANTags <= 0 {
		cfg.MaxVLANTags = 2
	}
	return &StandardDecoder{maxVLANTags: cfg.MaxVLANTags}
}

// Decode decodes one frame. Errors always wrap core.ErrMalformed.
func (d *StandardDecoder) Decode(raw core.RawFrame) (pkt *core.DecodedPacket, err error) {
	defer func() {
		if r := recover(); r != nil {
			pkt = nil
			err = fmt.Errorf("%w: decoder panic: %v", core.ErrMalformed, r)
		}
	}()

	p := &core.DecodedPacket{
		Layers:     make([]core.Header, 0, 3),
		Length:     raw.OrigLen,
		CaptureLen: raw.CaptureLen,
		Timestamp:  raw.Timestamp,
	}
	if p.Length == 0 {
		p.Length = uint32(len(raw.Data))
	}
	if p.CaptureLen == 0 {
		p.CaptureLen = uint32(len(raw.Data))
	}

	eth, payload, err := decodeEthernet(raw.Data, d.maxVLANTags)
	if err != nil {
		return nil, malformed("ethernet", err)
	}
	p.Layers = append(p.Layers, eth)

	var proto uint8
	switch eth.EtherType {
	case etherTypeIPv4:
		ip, rest, err := decodeIPv4(payload)
		if err != nil {
			return nil, malformed("ipv4", err)
		}
		p.Layers = append(p.Layers, ip)
		p.SrcIP, p.DstIP = ip.SrcIP, ip.DstIP
		proto, payload = ip.Protocol, rest
		if proto == protocolICMPv6 {
			return nil, malformed("ipv4", fmt.Errorf("%w: icmpv6 over ipv4", core.ErrUnsupportedProto))
		}
	case etherTypeIPv6:
		ip, rest, err := decodeIPv6(payload)
		if err != nil {
			return nil, malformed("ipv6", err)
		}
		p.Layers = append(p.Layers, ip)
		p.SrcIP, p.DstIP = ip.SrcIP, ip.DstIP
		proto, payload = ip.NextHeader, rest
		if proto == protocolICMPv4 {
			return nil, malformed("ipv6", fmt.Errorf("%w: icmpv4 over ipv6", core.ErrUnsupportedProto))
		}
	default:
		return nil, malformed("ethernet", fmt.Errorf("%w: ethertype 0x%04x", core.ErrUnsupportedProto, eth.EtherType))
	}

	h, err := decodeTransport(payload, proto)
	if err != nil {
		return nil, malformed("transport", err)
	}
	p.Layers = append(p.Layers, h)
	switch t := h.(type) {
	case core.TCPHeader:
		p.SrcPort, p.DstPort = t.SrcPort, t.DstPort
	case core.UDPHeader:
		p.SrcPort, p.DstPort = t.SrcPort, t.DstPort
	}

	return p, nil
}

func malformed(layer string, err error) error {
	return fmt.Errorf("%w: %s: %w", core.ErrMalformed, layer, err)
}
