// Package core defines core types.
package core

// LayerType identifies one decoded protocol header within a frame.
type LayerType uint8

// Layer types in the fixed decode vocabulary.
const (
	LayerEthernet LayerType = iota + 1
	LayerARP
	LayerIPv4
	LayerIPv6
	LayerTCP
	LayerUDP
	LayerICMP
)

var layerNames = map[LayerType]string{
	LayerEthernet: "ether",
	LayerARP:      "arp",
	LayerIPv4:     "ip4",
	LayerIPv6:     "ip6",
	LayerTCP:      "tcp",
	LayerUDP:      "udp",
	LayerICMP:     "icmp",
}

// String returns the short protocol tag ("ether", "ip4", "tcp", ...).
func (t LayerType) String() string {
	if name, ok := layerNames[t]; ok {
		return name
	}
	return "unknown"
}
