package session

import (
	"fmt"

	"firestige.xyz/sniff/internal/config"
	"firestige.xyz/sniff/internal/core/decoder"
	"firestige.xyz/sniff/internal/source"
	"firestige.xyz/sniff/internal/source/afpacket"
	"firestige.xyz/sniff/internal/source/file"
	"firestige.xyz/sniff/internal/source/pcap"
)

// OpenDevice opens a live source on the configured capture backend.
func OpenDevice(name string, cfg config.CaptureConfig) (source.Source, error) {
	opts := source.Options{
		SnapLen:      cfg.SnapLen,
		Promiscuous:  cfg.Promiscuous,
		ReadTimeout:  cfg.ReadTimeout,
		BufferSizeMB: cfg.BufferSizeMB,
	}
	switch cfg.Backend {
	case "", "pcap":
		src, err := pcap.Open(name, opts)
		if err != nil {
			return nil, err
		}
		return src, nil
	case "afpacket":
		src, err := afpacket.Open(name, opts)
		if err != nil {
			return nil, err
		}
		return src, nil
	default:
		return nil, fmt.Errorf("%w: unknown capture backend %q", source.ErrOpen, cfg.Backend)
	}
}

// OptionsFromConfig builds session options. Device sessions persist when session.persist is
// set, file sessions when session.persist_files is set.
func OptionsFromConfig(cfg *config.Config, label string, isFile bool) Options {
	persist := cfg.Session.Persist
	if isFile {
		persist = cfg.Session.PersistFiles
	}
	return Options{
		Label:         label,
		Predicate:     cfg.Capture.Predicate,
		Persist:       persist,
		TempDir:       cfg.Session.TempDir,
		Rewind:        cfg.Session.Rewind,
		CommandBuffer: cfg.Session.CommandBuffer,
		Decoder:       decoder.NewStandardDecoder(decoder.Config{MaxVLANTags: cfg.Decoder.MaxVLANTags}),
	}
}

// NewDeviceSession opens a live capture on the named device.
func NewDeviceSession(name string, cfg *config.Config) (*Session, error) {
	src, err := OpenDevice(name, cfg.Capture)
	if err != nil {
		return nil, err
	}
	return New(src, OptionsFromConfig(cfg, name, false))
}

// NewFileSession replays a capture file.
func NewFileSession(path string, cfg *config.Config) (*Session, error) {
	src, err := file.Open(path)
	if err != nil {
		return nil, err
	}
	return New(src, OptionsFromConfig(cfg, path, true))
}
