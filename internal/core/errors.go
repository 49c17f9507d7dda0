// Package core defines sentinel errors.
package core

import "errors"

// Sentinel errors following the ADR-021 error handling pattern.
var (
	// Frame decoding errors. Every decode failure wraps ErrMalformed.
	ErrMalformed        = errors.New("sniff: malformed frame")
	ErrPacketTooShort   = errors.New("sniff: packet too short")
	ErrUnsupportedProto = errors.New("sniff: unsupported protocol")

	// Configuration errors
	ErrConfigInvalid = errors.New("sniff: invalid configuration")
)
