package utils

import (
	"fmt"

	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	"golang.org/x/net/bpf"
)

// CompileBpf compiles a tcpdump-style expression into raw BPF for the given link type.
func CompileBpf(linkType layers.LinkType, snapLen int, filter string) ([]bpf.RawInstruction, error) {
	pcapBpf, err := pcap.CompileBPFFilter(linkType, snapLen, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to compile BPF filter: %w", err)
	}

	rawBpf := make([]bpf.RawInstruction, len(pcapBpf))
	for i, ins := range pcapBpf {
		rawBpf[i] = bpf.RawInstruction{Op: ins.Code, Jt: ins.Jt, Jf: ins.Jf, K: ins.K}
	}
	return rawBpf, nil
}

// Matcher runs a compiled BPF program in user space. It is used where no kernel or libpcap
// handle can apply the program, such as frames read back from a capture file.
type Matcher struct {
	filter string
	vm     *bpf.VM
}

func NewMatcher(linkType layers.LinkType, snapLen int, filter string) (*Matcher, error) {
	raw, err := CompileBpf(linkType, snapLen, filter)
	if err != nil {
		return nil, err
	}
	prog, ok := bpf.Disassemble(raw)
	if !ok {
		return nil, fmt.Errorf("BPF filter %q uses instructions the user-space VM cannot run", filter)
	}
	vm, err := bpf.NewVM(prog)
	if err != nil {
		return nil, fmt.Errorf("failed to load BPF filter: %w", err)
	}
	return &Matcher{filter: filter, vm: vm}, nil
}

// Match reports whether the program accepts the frame.
func (m *Matcher) Match(data []byte) bool {
	n, err := m.vm.Run(data)
	return err == nil && n > 0
}

func (m *Matcher) String() string {
	return m.filter
}
