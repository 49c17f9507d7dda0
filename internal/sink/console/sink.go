// Package console prints decoded packets to a terminal or pipe.
package console

import (
	"encoding/json"
	"fmt"
	"io"

	"firestige.xyz/sniff/internal/core"
)

// Output formats.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Sink writes one line per packet.
type Sink struct {
	out  io.Writer
	enc  *json.Encoder
	sent int
}

// NewSink returns a sink writing format to out.
func NewSink(out io.Writer, format string) (*Sink, error) {
	s := &Sink{out: out}
	switch format {
	case "", FormatText:
	case FormatJSON:
		s.enc = json.NewEncoder(out)
	default:
		return nil, fmt.Errorf("unknown output format %q (must be text or json)", format)
	}
	return s, nil
}

func (s *Sink) Send(pkt *core.DecodedPacket) error {
	var err error
	if s.enc != nil {
		err = s.enc.Encode(pkt.Summary())
	} else {
		_, err = fmt.Fprintln(s.out, pkt.String())
	}
	if err == nil {
		s.sent++
	}
	return err
}

// Sent returns the number of packets written.
func (s *Sink) Sent() int {
	return s.sent
}
