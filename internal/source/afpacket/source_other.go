//go:build !linux

// Package afpacket captures frames from a live device through a Linux AF_PACKET
// TPACKET_V3 ring. On other platforms Open always fails.
package afpacket

import (
	"fmt"
	"runtime"

	"firestige.xyz/sniff/internal/source"
)

// Source is unavailable on this platform.
type Source struct {
	source.Source
}

func Open(device string, _ source.Options) (*Source, error) {
	return nil, fmt.Errorf("%w: %s: af_packet is not supported on %s", source.ErrOpen, device, runtime.GOOS)
}
