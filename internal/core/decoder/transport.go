// Package decoder implements protocol decoding.
package decoder

import (
	"fmt"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"firestige.xyz/sniff/internal/core"
)

const (
	udpHeaderLen    = 8
	tcpHeaderMinLen = 20
	icmpv4HeaderLen = 8
	icmpv6HeaderLen = 4

	// Protocol numbers
	protocolICMPv4 = uint8(layers.IPProtocolICMPv4)
	protocolTCP    = uint8(layers.IPProtocolTCP)
	protocolUDP    = uint8(layers.IPProtocolUDP)
	protocolICMPv6 = uint8(layers.IPProtocolICMPv6)
)

// decodeTransport decodes the header at the transport position. Protocols outside
// TCP/UDP/ICMP fail the whole frame.
func decodeTransport(data []byte, protocol uint8) (core.Header, error) {
	switch protocol {
	case protocolTCP:
		return decodeTCP(data)
	case protocolUDP:
		return decodeUDP(data)
	case protocolICMPv4:
		return decodeICMPv4(data)
	case protocolICMPv6:
		return decodeICMPv6(data)
	default:
		return nil, fmt.Errorf("%w: ip protocol %d", core.ErrUnsupportedProto, protocol)
	}
}

// decodeUDP decodes UDP header.
func decodeUDP(data []byte) (core.UDPHeader, error) {
	if len(data) < udpHeaderLen {
		return core.UDPHeader{}, core.ErrPacketTooShort
	}

	var udp layers.UDP
	if err := udp.DecodeFromBytes(data, gopacket.NilDecodeFeedback); err != nil {
		return core.UDPHeader{}, err
	}

	return core.UDPHeader{
		SrcPort:  uint16(udp.SrcPort),
		DstPort:  uint16(udp.DstPort),
		Length:   udp.Length,
		Checksum: udp.Checksum,
	}, nil
}

// decodeTCP decodes TCP header.
func decodeTCP(data []byte) (core.TCPHeader, error) {
	if len(data) < tcpHeaderMinLen {
		return core.TCPHeader{}, core.ErrPacketTooShort
	}

	var tcp layers.TCP
	if err := tcp.DecodeFromBytes(data, gopacket.NilDecodeFeedback); err != nil {
		return core.TCPHeader{}, err
	}

	return core.TCPHeader{
		SrcPort:  uint16(tcp.SrcPort),
		DstPort:  uint16(tcp.DstPort),
		SeqNum:   tcp.Seq,
		AckNum:   tcp.Ack,
		Flags:    tcpFlags(&tcp),
		Window:   tcp.Window,
		Checksum: tcp.Checksum,
	}, nil
}

// decodeICMPv4 decodes ICMPv4 header. ICMP carries no ports and its body is not decoded.
func decodeICMPv4(data []byte) (core.ICMPHeader, error) {
	if len(data) < icmpv4HeaderLen {
		return core.ICMPHeader{}, core.ErrPacketTooShort
	}

	var icmp layers.ICMPv4
	if err := icmp.DecodeFromBytes(data, gopacket.NilDecodeFeedback); err != nil {
		return core.ICMPHeader{}, err
	}

	return core.ICMPHeader{
		Version:  4,
		Type:     icmp.TypeCode.Type(),
		Code:     icmp.TypeCode.Code(),
		Checksum: icmp.Checksum,
	}, nil
}

// decodeICMPv6 decodes ICMPv6 header.
func decodeICMPv6(data []byte) (core.ICMPHeader, error) {
	if len(data) < icmpv6HeaderLen {
		return core.ICMPHeader{}, core.ErrPacketTooShort
	}

	var icmp layers.ICMPv6
	if err := icmp.DecodeFromBytes(data, gopacket.NilDecodeFeedback); err != nil {
		return core.ICMPHeader{}, err
	}

	return core.ICMPHeader{
		Version:  6,
		Type:     icmp.TypeCode.Type(),
		Code:     icmp.TypeCode.Code(),
		Checksum: icmp.Checksum,
	}, nil
}

func tcpFlags(tcp *layers.TCP) uint8 {
	var f uint8
	if tcp.FIN {
		f |= core.TCPFlagFIN
	}
	if tcp.SYN {
		f |= core.TCPFlagSYN
	}
	if tcp.RST {
		f |= core.TCPFlagRST
	}
	if tcp.PSH {
		f |= core.TCPFlagPSH
	}
	if tcp.ACK {
		f |= core.TCPFlagACK
	}
	if tcp.URG {
		f |= core.TCPFlagURG
	}
	return f
}
