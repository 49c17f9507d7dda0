// Package config loads the sniff configuration using viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"firestige.xyz/sniff/internal/core"
	"firestige.xyz/sniff/internal/log"
)

// Config is the top-level configuration, found under the `sniff:` root key.
type Config struct {
	Log     log.Config    `mapstructure:"log" yaml:"log"`
	Capture CaptureConfig `mapstructure:"capture" yaml:"capture"`
	Decoder DecoderConfig `mapstructure:"decoder" yaml:"decoder"`
	Session SessionConfig `mapstructure:"session" yaml:"session"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
}

// CaptureConfig configures live capture sources.
type CaptureConfig struct {
	Backend      string        `mapstructure:"backend" yaml:"backend"` // pcap | afpacket
	SnapLen      int           `mapstructure:"snap_len" yaml:"snap_len"`
	Promiscuous  bool          `mapstructure:"promiscuous" yaml:"promiscuous"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	BufferSizeMB int           `mapstructure:"buffer_size_mb" yaml:"buffer_size_mb"`
	Predicate    string        `mapstructure:"predicate" yaml:"predicate"` // BPF, applied at the source
}

// DecoderConfig configures frame decoding.
type DecoderConfig struct {
	MaxVLANTags int `mapstructure:"max_vlan_tags" yaml:"max_vlan_tags"`
}

// SessionConfig configures capture sessions.
type SessionConfig struct {
	CommandBuffer int    `mapstructure:"command_buffer" yaml:"command_buffer"`
	Persist       bool   `mapstructure:"persist" yaml:"persist"`             // device sessions
	PersistFiles  bool   `mapstructure:"persist_files" yaml:"persist_files"` // file sessions
	TempDir       string `mapstructure:"temp_dir" yaml:"temp_dir"`
	Rewind        bool   `mapstructure:"rewind" yaml:"rewind"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Listen  string `mapstructure:"listen" yaml:"listen"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// ServerConfig configures the websocket stream server.
type ServerConfig struct {
	Listen         string        `mapstructure:"listen" yaml:"listen"`
	Path           string        `mapstructure:"path" yaml:"path"`
	AllowedOrigins []string      `mapstructure:"allowed_origins" yaml:"allowed_origins"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	SendBuffer     int           `mapstructure:"send_buffer" yaml:"send_buffer"`
	// SaveDir receives captures saved by clients. Save paths are relative to it.
	SaveDir string `mapstructure:"save_dir" yaml:"save_dir"`
	// DataDir, when set, confines select_file to files under it.
	DataDir string `mapstructure:"data_dir" yaml:"data_dir"`
}

// configRoot is the top-level wrapper matching the YAML structure `sniff: ...`.
type configRoot struct {
	Sniff Config `mapstructure:"sniff" yaml:"sniff"`
}

// Load reads the configuration file at path, applies SNIFF_* environment overrides and
// defaults, then validates. An empty path loads defaults and environment only.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// The `sniff.` key prefix maps to SNIFF_ in env vars through the key replacer,
	// e.g. "sniff.capture.snap_len" → SNIFF_CAPTURE_SNAP_LEN.
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var root configRoot
	hooks := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&root, hooks); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.Sniff

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Default returns the configuration used when no file is given and no environment is set.
func Default() *Config {
	cfg := &Config{
		Log: log.DefaultConfig(),
		Capture: CaptureConfig{
			Backend:      "pcap",
			SnapLen:      65535,
			Promiscuous:  true,
			ReadTimeout:  100 * time.Millisecond,
			BufferSizeMB: 8,
		},
		Decoder: DecoderConfig{MaxVLANTags: 2},
		Session: SessionConfig{
			CommandBuffer: 16,
			Persist:       true,
			Rewind:        true,
		},
		Metrics: MetricsConfig{
			Listen: ":9091",
			Path:   "/metrics",
		},
		Server: ServerConfig{
			Listen:       "127.0.0.1:8080",
			Path:         "/ws",
			WriteTimeout: 5 * time.Second,
			SendBuffer:   256,
			SaveDir:      "captures",
		},
	}
	return cfg
}

// setDefaults mirrors Default() under the "sniff." prefix.
func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("sniff.log.level", d.Log.Level)
	v.SetDefault("sniff.log.pattern", d.Log.Pattern)
	v.SetDefault("sniff.log.time", d.Log.Time)
	v.SetDefault("sniff.log.console", d.Log.Console)
	v.SetDefault("sniff.log.file.enabled", false)
	v.SetDefault("sniff.log.file.filename", "sniff.log")
	v.SetDefault("sniff.log.file.max_size", 100)
	v.SetDefault("sniff.log.file.max_backups", 5)
	v.SetDefault("sniff.log.file.max_age", 30)
	v.SetDefault("sniff.log.file.compress", true)

	v.SetDefault("sniff.capture.backend", d.Capture.Backend)
	v.SetDefault("sniff.capture.snap_len", d.Capture.SnapLen)
	v.SetDefault("sniff.capture.promiscuous", d.Capture.Promiscuous)
	v.SetDefault("sniff.capture.read_timeout", d.Capture.ReadTimeout)
	v.SetDefault("sniff.capture.buffer_size_mb", d.Capture.BufferSizeMB)
	v.SetDefault("sniff.capture.predicate", "")

	v.SetDefault("sniff.decoder.max_vlan_tags", d.Decoder.MaxVLANTags)

	v.SetDefault("sniff.session.command_buffer", d.Session.CommandBuffer)
	v.SetDefault("sniff.session.persist", d.Session.Persist)
	v.SetDefault("sniff.session.persist_files", d.Session.PersistFiles)
	v.SetDefault("sniff.session.temp_dir", "")
	v.SetDefault("sniff.session.rewind", d.Session.Rewind)

	v.SetDefault("sniff.metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("sniff.metrics.listen", d.Metrics.Listen)
	v.SetDefault("sniff.metrics.path", d.Metrics.Path)

	v.SetDefault("sniff.server.listen", d.Server.Listen)
	v.SetDefault("sniff.server.path", d.Server.Path)
	v.SetDefault("sniff.server.allowed_origins", []string{})
	v.SetDefault("sniff.server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("sniff.server.send_buffer", d.Server.SendBuffer)
	v.SetDefault("sniff.server.save_dir", d.Server.SaveDir)
	v.SetDefault("sniff.server.data_dir", d.Server.DataDir)
}

// ValidateAndApplyDefaults validates configuration and fills runtime defaults. Errors wrap
// core.ErrConfigInvalid.
func (cfg *Config) ValidateAndApplyDefaults() error {
	cfg.Log.Level = strings.ToLower(cfg.Log.Level)
	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Log.Level] {
		return invalid("log.level %q (must be trace/debug/info/warn/error)", cfg.Log.Level)
	}
	if cfg.Log.Pattern == "" {
		cfg.Log.Pattern = log.DefaultPattern
	}
	if cfg.Log.Time == "" {
		cfg.Log.Time = log.DefaultTime
	}
	if cfg.Log.File.Enabled && cfg.Log.File.Filename == "" {
		return invalid("log.file.filename is required when log.file.enabled=true")
	}

	switch cfg.Capture.Backend {
	case "pcap", "afpacket":
	default:
		return invalid("capture.backend %q (must be pcap/afpacket)", cfg.Capture.Backend)
	}
	if cfg.Capture.SnapLen <= 0 || cfg.Capture.SnapLen > 262144 {
		return invalid("capture.snap_len %d (must be 1..262144)", cfg.Capture.SnapLen)
	}
	if cfg.Capture.ReadTimeout <= 0 {
		return invalid("capture.read_timeout must be positive, got %s", cfg.Capture.ReadTimeout)
	}
	if cfg.Capture.BufferSizeMB <= 0 {
		return invalid("capture.buffer_size_mb must be positive, got %d", cfg.Capture.BufferSizeMB)
	}

	if cfg.Decoder.MaxVLANTags < 0 {
		return invalid("decoder.max_vlan_tags must not be negative, got %d", cfg.Decoder.MaxVLANTags)
	}

	if cfg.Session.CommandBuffer < 1 {
		return invalid("session.command_buffer must be at least 1, got %d", cfg.Session.CommandBuffer)
	}

	if cfg.Metrics.Enabled && cfg.Metrics.Listen == "" {
		return invalid("metrics.listen is required when metrics.enabled=true")
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	if !strings.HasPrefix(cfg.Server.Path, "/") {
		return invalid("server.path %q must start with /", cfg.Server.Path)
	}
	if cfg.Server.SendBuffer < 1 {
		return invalid("server.send_buffer must be at least 1, got %d", cfg.Server.SendBuffer)
	}
	if cfg.Server.SaveDir == "" {
		return invalid("server.save_dir must not be empty")
	}
	if cfg.Server.WriteTimeout <= 0 {
		cfg.Server.WriteTimeout = 5 * time.Second
	}
	return nil
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", core.ErrConfigInvalid, fmt.Sprintf(format, args...))
}

// YAML renders the configuration under its root key.
func (cfg *Config) YAML() ([]byte, error) {
	return yaml.Marshal(configRoot{Sniff: *cfg})
}
