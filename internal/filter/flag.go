// Package filter implements the flag grammar used to select decoded packets while a capture runs.
//
// An expression is a whitespace-separated list of flags. Bare flags name a protocol layer
// (icmp, ip4, ip6, tcp, udp, ether); keyed flags take the form key|value where key is one of
// ip, sip, dip, port, sport or dport.
package filter

import (
	"errors"
	"fmt"
	"net/netip"
	"strconv"
	"strings"
)

var (
	ErrUnknownFlag  = errors.New("sniff: unknown filter flag")
	ErrInvalidValue = errors.New("sniff: invalid filter value")
)

// ParseError identifies the token that failed to parse.
type ParseError struct {
	Token string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%v: %q", e.Err, e.Token)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Kind is the flag discriminator.
type Kind uint8

const (
	KindPort Kind = iota + 1
	KindSport
	KindDport
	KindIP
	KindSIP
	KindDIP
	KindICMP
	KindIP4
	KindIP6
	KindTCP
	KindUDP
	KindEther
)

var kindNames = map[Kind]string{
	KindPort:  "port",
	KindSport: "sport",
	KindDport: "dport",
	KindIP:    "ip",
	KindSIP:   "sip",
	KindDIP:   "dip",
	KindICMP:  "icmp",
	KindIP4:   "ip4",
	KindIP6:   "ip6",
	KindTCP:   "tcp",
	KindUDP:   "udp",
	KindEther: "ether",
}

var (
	tagKinds   = map[string]Kind{}
	keyedKinds = map[string]Kind{}
)

func init() {
	for k, name := range kindNames {
		if k.keyed() {
			keyedKinds[name] = k
		} else {
			tagKinds[name] = k
		}
	}
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

func (k Kind) keyed() bool {
	return k >= KindPort && k <= KindDIP
}

func (k Kind) isPort() bool {
	return k == KindPort || k == KindSport || k == KindDport
}

// Flag is a single filter token. Flags are comparable and usable as map keys.
// Port carries the value of port kinds, Addr the value of address kinds; the unused
// field stays zero.
type Flag struct {
	Kind Kind
	Port uint16
	Addr netip.Addr
}

func Port(p uint16) Flag  { return Flag{Kind: KindPort, Port: p} }
func Sport(p uint16) Flag { return Flag{Kind: KindSport, Port: p} }
func Dport(p uint16) Flag { return Flag{Kind: KindDport, Port: p} }

func IP(a netip.Addr) Flag  { return Flag{Kind: KindIP, Addr: a} }
func SIP(a netip.Addr) Flag { return Flag{Kind: KindSIP, Addr: a} }
func DIP(a netip.Addr) Flag { return Flag{Kind: KindDIP, Addr: a} }

// Tag returns a bare protocol flag.
func Tag(k Kind) Flag { return Flag{Kind: k} }

// ParseFlag parses one token. Matching is case-insensitive.
func ParseFlag(token string) (Flag, error) {
	s := strings.ToLower(token)
	if k, ok := tagKinds[s]; ok {
		return Tag(k), nil
	}

	key, val, ok := strings.Cut(s, "|")
	if !ok {
		return Flag{}, &ParseError{Token: token, Err: ErrUnknownFlag}
	}
	k, ok := keyedKinds[key]
	if !ok {
		return Flag{}, &ParseError{Token: token, Err: ErrUnknownFlag}
	}

	if k.isPort() {
		p, err := strconv.ParseUint(val, 10, 16)
		if err != nil {
			return Flag{}, &ParseError{Token: token, Err: fmt.Errorf("%w: %w", ErrInvalidValue, err)}
		}
		return Flag{Kind: k, Port: uint16(p)}, nil
	}

	// An empty address is the unset address of a packet without an IP layer.
	if val == "" {
		return Flag{Kind: k}, nil
	}
	a, err := netip.ParseAddr(val)
	if err != nil {
		return Flag{}, &ParseError{Token: token, Err: fmt.Errorf("%w: %w", ErrInvalidValue, err)}
	}
	return Flag{Kind: k, Addr: a}, nil
}

// String returns the canonical text of the flag. ParseFlag(f.String()) == f for every
// flag produced by ParseFlag or the constructors above.
func (f Flag) String() string {
	switch {
	case f.Kind.isPort():
		return f.Kind.String() + "|" + strconv.FormatUint(uint64(f.Port), 10)
	case f.Kind.keyed():
		if !f.Addr.IsValid() {
			return f.Kind.String() + "|"
		}
		return f.Kind.String() + "|" + f.Addr.String()
	default:
		return f.Kind.String()
	}
}
