// Package core defines core types with zero external dependencies.
package core

import (
	"net"
	"net/netip"
)

// Header is one decoded protocol header. The set of implementations is closed:
// EthernetHeader, ARPHeader, IPv4Header, IPv6Header, TCPHeader, UDPHeader and ICMPHeader.
type Header interface {
	Layer() LayerType
	header()
}

// EthernetHeader represents L2 Ethernet frame header.
type EthernetHeader struct {
	SrcMAC    net.HardwareAddr
	DstMAC    net.HardwareAddr
	EtherType uint16   // 0x0800=IPv4, 0x86DD=IPv6, after VLAN unwrapping
	VLANs     []uint16 // 0~2 VLAN IDs (QinQ scenarios have 2)
}

// ARPHeader represents an ARP request or reply.
type ARPHeader struct {
	Operation uint16
	SenderMAC net.HardwareAddr
	SenderIP  netip.Addr
	TargetMAC net.HardwareAddr
	TargetIP  netip.Addr
}

// IPv4Header represents L3 IPv4 header.
type IPv4Header struct {
	SrcIP      netip.Addr
	DstIP      netip.Addr
	Protocol   uint8 // TCP=6, UDP=17, ICMP=1
	TTL        uint8
	TotalLen   uint16
	ID         uint16
	Flags      uint8
	FragOffset uint16
	Checksum   uint16
}

// IPv6Header represents L3 IPv6 fixed header.
type IPv6Header struct {
	SrcIP        netip.Addr
	DstIP        netip.Addr
	NextHeader   uint8
	HopLimit     uint8
	PayloadLen   uint16
	TrafficClass uint8
	FlowLabel    uint32
}

// TCPHeader represents L4 TCP header.
type TCPHeader struct {
	SrcPort  uint16
	DstPort  uint16
	SeqNum   uint32
	AckNum   uint32
	Flags    uint8 // URG, ACK, PSH, RST, SYN, FIN in the low six bits
	Window   uint16
	Checksum uint16
}

// UDPHeader represents L4 UDP header.
type UDPHeader struct {
	SrcPort  uint16
	DstPort  uint16
	Length   uint16
	Checksum uint16
}

// ICMPHeader represents an ICMPv4 or ICMPv6 header.
type ICMPHeader struct {
	Version  uint8 // 4 or 6
	Type     uint8
	Code     uint8
	Checksum uint16
}

// TCP flag bits.
const (
	TCPFlagFIN uint8 = 1 << iota
	TCPFlagSYN
	TCPFlagRST
	TCPFlagPSH
	TCPFlagACK
	TCPFlagURG
)

func (EthernetHeader) Layer() LayerType { return LayerEthernet }
func (ARPHeader) Layer() LayerType      { return LayerARP }
func (IPv4Header) Layer() LayerType     { return LayerIPv4 }
func (IPv6Header) Layer() LayerType     { return LayerIPv6 }
func (TCPHeader) Layer() LayerType      { return LayerTCP }
func (UDPHeader) Layer() LayerType      { return LayerUDP }
func (ICMPHeader) Layer() LayerType     { return LayerICMP }

func (EthernetHeader) header() {}
func (ARPHeader) header()      {}
func (IPv4Header) header()     {}
func (IPv6Header) header()     {}
func (TCPHeader) header()      {}
func (UDPHeader) header()      {}
func (ICMPHeader) header()     {}
