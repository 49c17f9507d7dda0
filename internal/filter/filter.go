package filter

import (
	"strings"

	"firestige.xyz/sniff/internal/core"
)

// Expression is a conjunction of flags. The zero value matches every packet.
type Expression struct {
	flags []Flag
}

// NewExpression builds an expression from flags, in order.
func NewExpression(flags ...Flag) Expression {
	return Expression{flags: append([]Flag(nil), flags...)}
}

// ParseExpression parses a whitespace-separated list of flags. The first bad token fails the
// whole expression.
func ParseExpression(s string) (Expression, error) {
	tokens := strings.Fields(s)
	flags := make([]Flag, 0, len(tokens))
	for _, tok := range tokens {
		f, err := ParseFlag(tok)
		if err != nil {
			return Expression{}, err
		}
		flags = append(flags, f)
	}
	return Expression{flags: flags}, nil
}

// MustParseExpression is like ParseExpression but panics on error.
func MustParseExpression(s string) Expression {
	e, err := ParseExpression(s)
	if err != nil {
		panic(err)
	}
	return e
}

func (e Expression) Flags() []Flag {
	return append([]Flag(nil), e.flags...)
}

func (e Expression) Len() int {
	return len(e.flags)
}

func (e Expression) IsEmpty() bool {
	return len(e.flags) == 0
}

// With returns a copy of e with f appended.
func (e Expression) With(f Flag) Expression {
	flags := make([]Flag, 0, len(e.flags)+1)
	flags = append(flags, e.flags...)
	return Expression{flags: append(flags, f)}
}

// String returns the canonical text, re-parseable to an equal expression.
func (e Expression) String() string {
	parts := make([]string, len(e.flags))
	for i, f := range e.flags {
		parts[i] = f.String()
	}
	return strings.Join(parts, " ")
}

// Match reports whether every flag of e is contained in the packet's signature.
func (e Expression) Match(pkt *core.DecodedPacket) bool {
	if len(e.flags) == 0 {
		return true
	}
	if pkt == nil {
		return false
	}
	sig := NewSignature(pkt)
	for _, f := range e.flags {
		if !sig.Contains(f) {
			return false
		}
	}
	return true
}

// Signature is the attribute set of one decoded packet. It only ever holds concrete
// flags (sip, dip, sport, dport and protocol tags), never the generic ip or port forms.
type Signature map[Flag]struct{}

var layerTags = map[core.LayerType]Kind{
	core.LayerEthernet: KindEther,
	core.LayerIPv4:     KindIP4,
	core.LayerIPv6:     KindIP6,
	core.LayerTCP:      KindTCP,
	core.LayerUDP:      KindUDP,
	core.LayerICMP:     KindICMP,
}

// NewSignature derives the signature of pkt. Addresses and ports are always present, even
// when zero or unset.
func NewSignature(pkt *core.DecodedPacket) Signature {
	sig := Signature{
		SIP(pkt.SrcIP):     {},
		DIP(pkt.DstIP):     {},
		Sport(pkt.SrcPort): {},
		Dport(pkt.DstPort): {},
	}
	for _, l := range pkt.Layers {
		if k, ok := layerTags[l.Layer()]; ok {
			sig[Tag(k)] = struct{}{}
		}
	}
	return sig
}

// Contains resolves generic port and ip flags to either direction; every other flag must be
// an exact member.
func (s Signature) Contains(f Flag) bool {
	switch f.Kind {
	case KindPort:
		return s.has(Sport(f.Port)) || s.has(Dport(f.Port))
	case KindIP:
		return s.has(SIP(f.Addr)) || s.has(DIP(f.Addr))
	default:
		return s.has(f)
	}
}

func (s Signature) has(f Flag) bool {
	_, ok := s[f]
	return ok
}
