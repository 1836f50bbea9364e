// Package config loads the cangate TOML configuration
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"cangate/host/serial"
	"cangate/protocol"

	"github.com/BurntSushi/toml"
)

// ErrInvalidConfig wraps every validation failure
var ErrInvalidConfig = errors.New("invalid config")

// Config is the full process configuration
type Config struct {
	HTTP     HTTPConfig      `toml:"http"`
	Serial   SerialConfig    `toml:"serial"`
	Protocol ProtocolConfig  `toml:"protocol"`
	Protect  ProtectConfig   `toml:"protect"`
	Store    StoreConfig     `toml:"store"`
	Log      LogConfig       `toml:"log"`
	Catalog  []CatalogConfig `toml:"catalog"`
}

// HTTPConfig configures the operator API listener
type HTTPConfig struct {
	Addr        string   `toml:"addr"`
	CORSOrigins []string `toml:"cors_origins"`
}

// SerialConfig selects the gateway UART
type SerialConfig struct {
	Device        string `toml:"device"`
	Baud          int    `toml:"baud"`
	ReadTimeoutMs int    `toml:"read_timeout_ms"`
	AutoConnect   bool   `toml:"auto_connect"`
}

// ReadTimeout returns the configured read timeout as a duration
func (s SerialConfig) ReadTimeout() time.Duration {
	return time.Duration(s.ReadTimeoutMs) * time.Millisecond
}

// ProtocolConfig tunes the receive decoder
type ProtocolConfig struct {
	// AttackFlag expects the trailing attack flag byte on received frames
	AttackFlag    bool   `toml:"attack_flag"`
	Strict        bool   `toml:"strict"`
	MaxPayload    int    `toml:"max_payload"`
	PayloadFormat string `toml:"payload_format"`
}

// Decoder builds the receive decoder for these settings
func (p ProtocolConfig) Decoder() protocol.Decoder {
	return protocol.Decoder{
		HasAttackFlag: p.AttackFlag,
		Strict:        p.Strict,
		MaxPayload:    p.MaxPayload,
	}
}

// Format returns the parsed payload format (text when unset or invalid)
func (p ProtocolConfig) Format() protocol.PayloadFormat {
	f, err := protocol.ParsePayloadFormat(p.PayloadFormat)
	if err != nil {
		return protocol.PayloadText
	}
	return f
}

// ProtectConfig configures protection mode
type ProtectConfig struct {
	// EnabledFilter turns the receive-side protection filter on.
	// The basic testbed has no protection mode at all.
	EnabledFilter bool   `toml:"enabled_filter"`
	StateFile     string `toml:"state_file"`
}

// StoreConfig sizes and locates the collaborator tables
type StoreConfig struct {
	// Path is the bbolt database file. Empty keeps the tables in memory.
	Path           string `toml:"path"`
	MaxReceiveRows int    `toml:"max_receive_rows"`
}

// LogConfig sets the zerolog level
type LogConfig struct {
	Level string `toml:"level"`
}

// CatalogConfig seeds one CAN catalog entry
type CatalogConfig struct {
	CANID       string        `toml:"can_id"`
	Mode        protocol.Mode `toml:"mode"`
	Description string        `toml:"description"`
}

// Default returns the configuration used when no file is given
func Default() Config {
	return Config{
		HTTP: HTTPConfig{
			Addr: ":5000",
		},
		Serial: SerialConfig{
			Baud:          115200,
			ReadTimeoutMs: 1000,
		},
		Protocol: ProtocolConfig{
			AttackFlag:    true,
			PayloadFormat: "text",
		},
		Protect: ProtectConfig{
			EnabledFilter: true,
			StateFile:     "protect_state.json",
		},
		Store: StoreConfig{
			Path:           "cangate.db",
			MaxReceiveRows: 1000,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads a TOML file over the defaults
func Load(path string) (Config, error) {
	cfg := Default()
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	return finish(cfg, meta)
}

// Parse decodes TOML text over the defaults
func Parse(data string) (Config, error) {
	cfg := Default()
	meta, err := toml.Decode(data, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return finish(cfg, meta)
}

func finish(cfg Config, meta toml.MetaData) (Config, error) {
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return Config{}, fmt.Errorf("%w: unknown keys %s", ErrInvalidConfig, strings.Join(keys, ", "))
	}

	// A configured device connects at startup unless told otherwise
	if cfg.Serial.Device != "" && !meta.IsDefined("serial", "auto_connect") {
		cfg.Serial.AutoConnect = true
	}

	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyDefaults fills zero values left by a partial file
func applyDefaults(cfg *Config) {
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = ":5000"
	}
	if cfg.Serial.Baud == 0 {
		cfg.Serial.Baud = 115200
	}
	if cfg.Serial.ReadTimeoutMs == 0 {
		cfg.Serial.ReadTimeoutMs = 1000
	}
	if cfg.Protocol.PayloadFormat == "" {
		cfg.Protocol.PayloadFormat = "text"
	}
	if cfg.Store.MaxReceiveRows == 0 {
		cfg.Store.MaxReceiveRows = 1000
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}

	cfg.Serial.Device = strings.TrimSpace(cfg.Serial.Device)
	cfg.Store.Path = strings.TrimSpace(cfg.Store.Path)
	for i := range cfg.Catalog {
		cfg.Catalog[i].CANID = strings.TrimSpace(cfg.Catalog[i].CANID)
	}
}

// Validate rejects values the runtime cannot use
func (c Config) Validate() error {
	if !supportedBaud(c.Serial.Baud) {
		return fmt.Errorf("%w: serial.baud %d not in %v", ErrInvalidConfig, c.Serial.Baud, serial.Baudrates)
	}
	if c.Serial.ReadTimeoutMs < 0 {
		return fmt.Errorf("%w: serial.read_timeout_ms %d", ErrInvalidConfig, c.Serial.ReadTimeoutMs)
	}
	if c.Serial.AutoConnect && c.Serial.Device == "" {
		return fmt.Errorf("%w: serial.auto_connect requires serial.device", ErrInvalidConfig)
	}
	if c.Protocol.MaxPayload < 0 || c.Protocol.MaxPayload > protocol.PayloadMax {
		return fmt.Errorf("%w: protocol.max_payload %d", ErrInvalidConfig, c.Protocol.MaxPayload)
	}
	if _, err := protocol.ParsePayloadFormat(c.Protocol.PayloadFormat); err != nil {
		return fmt.Errorf("%w: protocol.payload_format: %v", ErrInvalidConfig, err)
	}
	if c.Store.MaxReceiveRows < 0 {
		return fmt.Errorf("%w: store.max_receive_rows %d", ErrInvalidConfig, c.Store.MaxReceiveRows)
	}

	seen := make(map[string]bool, len(c.Catalog))
	for i, e := range c.Catalog {
		id, err := protocol.ParseCANID(e.Mode, e.CANID)
		if err != nil {
			return fmt.Errorf("%w: catalog[%d]: %v", ErrInvalidConfig, i, err)
		}
		key := fmt.Sprintf("%X", id)
		if seen[key] {
			return fmt.Errorf("%w: catalog[%d]: duplicate can_id %s", ErrInvalidConfig, i, key)
		}
		seen[key] = true
	}
	return nil
}

func supportedBaud(baud int) bool {
	for _, b := range serial.Baudrates {
		if b == baud {
			return true
		}
	}
	return false
}
