// Package core defines core data structures with zero external dependencies.
package core

import (
	"fmt"
	"net/netip"
	"strings"
	"time"
)

// RawFrame is one frame as handed over by a frame source. It is consumed once by the decoder.
type RawFrame struct {
	Data           []byte    // Raw frame data
	Timestamp      time.Time // Capture timestamp
	CaptureLen     uint32    // Actual captured length
	OrigLen        uint32    // Original frame length on the wire
	InterfaceIndex int       // Network interface index, 0 when unknown
}

// DecodedPacket is the result of decoding one frame. Layers run outermost to innermost
// and always start with the link layer. A DecodedPacket is never modified after Decode
// returns it, so it may be shared freely between goroutines.
type DecodedPacket struct {
	Layers     []Header
	SrcIP      netip.Addr
	DstIP      netip.Addr
	SrcPort    uint16
	DstPort    uint16
	Length     uint32 // Original frame length
	CaptureLen uint32
	Timestamp  time.Time
}

// SourceAddress returns the textual source address, or "" if no network layer matched.
func (p *DecodedPacket) SourceAddress() string {
	return addrText(p.SrcIP)
}

// DestAddress returns the textual destination address, or "" if no network layer matched.
func (p *DecodedPacket) DestAddress() string {
	return addrText(p.DstIP)
}

// HasLayer reports whether a header of the given type was decoded.
func (p *DecodedPacket) HasLayer(t LayerType) bool {
	for _, h := range p.Layers {
		if h.Layer() == t {
			return true
		}
	}
	return false
}

// Transport returns the innermost layer type, e.g. LayerTCP.
func (p *DecodedPacket) Transport() LayerType {
	if len(p.Layers) == 0 {
		return 0
	}
	return p.Layers[len(p.Layers)-1].Layer()
}

// Summary is the flat, serializable view of a decoded packet.
type Summary struct {
	Time       time.Time `json:"time"`
	Src        string    `json:"src,omitempty"`
	Dst        string    `json:"dst,omitempty"`
	SrcPort    uint16    `json:"sport,omitempty"`
	DstPort    uint16    `json:"dport,omitempty"`
	Protocol   string    `json:"protocol"`
	Layers     []string  `json:"layers"`
	Length     uint32    `json:"length"`
	CaptureLen uint32    `json:"caplen"`
	Info       string    `json:"info"`
}

// Summary flattens p.
func (p *DecodedPacket) Summary() Summary {
	return Summary{
		Time:       p.Timestamp,
		Src:        p.SourceAddress(),
		Dst:        p.DestAddress(),
		SrcPort:    p.SrcPort,
		DstPort:    p.DstPort,
		Protocol:   p.Transport().String(),
		Layers:     p.layerNames(),
		Length:     p.Length,
		CaptureLen: p.CaptureLen,
		Info:       p.String(),
	}
}

func (p *DecodedPacket) layerNames() []string {
	names := make([]string, 0, len(p.Layers))
	for _, h := range p.Layers {
		names = append(names, h.Layer().String())
	}
	return names
}

// String renders a one-line summary: "src -> dst sport dport proto len".
func (p *DecodedPacket) String() string {
	return fmt.Sprintf("%s %s -> %s %d %d %s len=%d",
		p.Timestamp.Format("15:04:05.000000"),
		p.SourceAddress(), p.DestAddress(), p.SrcPort, p.DstPort,
		strings.Join(p.layerNames(), "/"), p.Length)
}

func addrText(a netip.Addr) string {
	if !a.IsValid() {
		return ""
	}
	return a.String()
}
