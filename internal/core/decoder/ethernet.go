// Package decoder implements protocol decoding.
package decoder

import (
	"fmt"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"firestige.xyz/sniff/internal/core"
)

const (
	// Ethernet constants
	ethernetHeaderLen = 14
	vlanHeaderLen     = 4

	// EtherType values
	etherTypeIPv4 = uint16(layers.EthernetTypeIPv4)
	etherTypeIPv6 = uint16(layers.EthernetTypeIPv6)
	etherTypeVLAN = uint16(layers.EthernetTypeDot1Q)
	etherTypeQinQ = uint16(layers.EthernetTypeQinQ)
)

// decodeEthernet decodes Ethernet frame header (including VLAN tags).
// Returns EthernetHeader and remaining payload.
func decodeEthernet(data []byte, maxVLANTags int) (core.EthernetHeader, []byte, error) {
	if len(data) < ethernetHeaderLen {
		return core.EthernetHeader{}, nil, core.ErrPacketTooShort
	}

	var eth layers.Ethernet
	if err := eth.DecodeFromBytes(data, gopacket.NilDecodeFeedback); err != nil {
		return core.EthernetHeader{}, nil, err
	}

	hdr := core.EthernetHeader{
		SrcMAC:    cloneMAC(eth.SrcMAC),
		DstMAC:    cloneMAC(eth.DstMAC),
		EtherType: uint16(eth.EthernetType),
	}
	payload := eth.Payload

	// Handle VLAN tags (can be nested: QinQ)
	for hdr.EtherType == etherTypeVLAN || hdr.EtherType == etherTypeQinQ {
		if len(hdr.VLANs) >= maxVLANTags {
			return hdr, nil, fmt.Errorf("%w: more than %d vlan tags", core.ErrUnsupportedProto, maxVLANTags)
		}
		if len(payload) < vlanHeaderLen {
			return hdr, nil, core.ErrPacketTooShort
		}
		var tag layers.Dot1Q
		if err := tag.DecodeFromBytes(payload, gopacket.NilDecodeFeedback); err != nil {
			return hdr, nil, err
		}
		hdr.VLANs = append(hdr.VLANs, tag.VLANIdentifier)
		hdr.EtherType = uint16(tag.Type)
		payload = tag.Payload
	}

	return hdr, payload, nil
}

// cloneMAC detaches the address from the capture buffer.
func cloneMAC(mac net.HardwareAddr) net.HardwareAddr {
	out := make(net.HardwareAddr, len(mac))
	copy(out, mac)
	return out
}
