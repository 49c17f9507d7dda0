// Package sourcetest provides frame builders and an in-memory source for tests.
package sourcetest

import (
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"firestige.xyz/sniff/internal/core"
	"firestige.xyz/sniff/internal/source"
)

var (
	SrcMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
	DstMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x02}
)

func serialize(ls ...gopacket.SerializableLayer) []byte {
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, ls...); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

func ipLayer(src, dst string, proto layers.IPProtocol) (gopacket.SerializableLayer, gopacket.NetworkLayer, layers.EthernetType) {
	s, d := net.ParseIP(src), net.ParseIP(dst)
	if s.To4() != nil {
		ip := &layers.IPv4{Version: 4, TTL: 64, Protocol: proto, SrcIP: s.To4(), DstIP: d.To4()}
		return ip, ip, layers.EthernetTypeIPv4
	}
	ip := &layers.IPv6{Version: 6, HopLimit: 64, NextHeader: proto, SrcIP: s, DstIP: d}
	return ip, ip, layers.EthernetTypeIPv6
}

// TCPFrame builds an Ethernet/IP/TCP frame. The IP version follows the address family.
func TCPFrame(src, dst string, sport, dport uint16) []byte {
	ipl, nl, et := ipLayer(src, dst, layers.IPProtocolTCP)
	eth := &layers.Ethernet{SrcMAC: SrcMAC, DstMAC: DstMAC, EthernetType: et}
	tcp := &layers.TCP{SrcPort: layers.TCPPort(sport), DstPort: layers.TCPPort(dport), ACK: true, PSH: true, Window: 512}
	_ = tcp.SetNetworkLayerForChecksum(nl)
	return serialize(eth, ipl, tcp, gopacket.Payload("payload"))
}

// UDPFrame builds an Ethernet/IP/UDP frame.
func UDPFrame(src, dst string, sport, dport uint16) []byte {
	ipl, nl, et := ipLayer(src, dst, layers.IPProtocolUDP)
	eth := &layers.Ethernet{SrcMAC: SrcMAC, DstMAC: DstMAC, EthernetType: et}
	udp := &layers.UDP{SrcPort: layers.UDPPort(sport), DstPort: layers.UDPPort(dport)}
	_ = udp.SetNetworkLayerForChecksum(nl)
	return serialize(eth, ipl, udp, gopacket.Payload("payload"))
}

// GarbageFrame returns a frame the decoder rejects.
func GarbageFrame() []byte {
	return []byte{0xde, 0xad, 0xbe, 0xef}
}

// Raw wraps data in a RawFrame stamped with ts.
func Raw(data []byte, ts time.Time) core.RawFrame {
	return core.RawFrame{Data: data, Timestamp: ts, CaptureLen: uint32(len(data)), OrigLen: uint32(len(data))}
}

// WritePcap writes frames to path in pcap format.
func WritePcap(t testing.TB, path string, frames ...[]byte) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()

	w := pcapgo.NewWriter(f)
	if err := w.WriteFileHeader(65535, layers.LinkTypeEthernet); err != nil {
		t.Fatalf("write header: %v", err)
	}
	ts := time.Unix(1700000000, 0)
	for i, data := range frames {
		ci := source.CaptureInfo(Raw(data, ts.Add(time.Duration(i)*time.Millisecond)))
		if err := w.WritePacket(ci, data); err != nil {
			t.Fatalf("write packet: %v", err)
		}
	}
}

// Slice is an in-memory source.Source. Once its frames are consumed it reports
// source.ErrExhausted, or source.ErrTimeout when Live is set. It implements source.Rewinder.
type Slice struct {
	mu        sync.Mutex
	frames    []core.RawFrame
	pos       int
	predicate string
	closed    bool
	rewinds   int

	Live bool
	// Gate, when set, is received from before every frame is returned.
	Gate chan struct{}
	// ReadErr, when set, is returned once after the frames are consumed.
	ReadErr error
}

// NewSlice returns a source yielding frames in order.
func NewSlice(frames ...[]byte) *Slice {
	s := &Slice{}
	ts := time.Unix(1700000000, 0)
	for i, data := range frames {
		s.frames = append(s.frames, Raw(data, ts.Add(time.Duration(i)*time.Millisecond)))
	}
	return s
}

func (s *Slice) ReadFrame() (core.RawFrame, error) {
	if s.Gate != nil && s.remaining() > 0 {
		<-s.Gate
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return core.RawFrame{}, os.ErrClosed
	}
	if s.pos < len(s.frames) {
		f := s.frames[s.pos]
		s.pos++
		return f, nil
	}
	if s.ReadErr != nil {
		err := s.ReadErr
		s.ReadErr = nil
		return core.RawFrame{}, err
	}
	if s.Live {
		s.mu.Unlock()
		time.Sleep(time.Millisecond)
		s.mu.Lock()
		return core.RawFrame{}, source.ErrTimeout
	}
	return core.RawFrame{}, source.ErrExhausted
}

func (s *Slice) remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames) - s.pos
}

func (s *Slice) SetPredicate(expr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.predicate = expr
	return nil
}

func (s *Slice) Predicate() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.predicate
}

func (s *Slice) Rewind() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pos = 0
	s.rewinds++
	return nil
}

func (s *Slice) Rewinds() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rewinds
}

func (s *Slice) LinkType() layers.LinkType { return layers.LinkTypeEthernet }

func (s *Slice) SnapLen() int { return 65535 }

func (s *Slice) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *Slice) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
