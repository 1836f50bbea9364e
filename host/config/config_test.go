package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"cangate/protocol"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default config invalid: %v", err)
	}
	if !cfg.Protocol.AttackFlag || !cfg.Protect.EnabledFilter {
		t.Error("Expected attack flag and protection filter on by default")
	}
	if cfg.Serial.ReadTimeout() != time.Second {
		t.Errorf("Expected 1s read timeout, got %v", cfg.Serial.ReadTimeout())
	}
	if cfg.Store.Path != "cangate.db" {
		t.Errorf("Expected default store path, got %q", cfg.Store.Path)
	}
}

func TestStorePath(t *testing.T) {
	cfg, err := Parse("[store]\npath = \" /var/lib/cangate/tables.db \"\n")
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Store.Path != "/var/lib/cangate/tables.db" {
		t.Fatalf("unexpected store path: %q", cfg.Store.Path)
	}

	cfg, err = Parse("[store]\npath = \"\"\n")
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Store.Path != "" {
		t.Fatalf("expected an empty path to keep the store in memory, got %q", cfg.Store.Path)
	}
}

func TestLoadDefaultsAndOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cangate.toml")
	content := `
[http]
addr = "127.0.0.1:8080"
cors_origins = ["http://localhost:3000"]

[serial]
device = "/dev/ttyUSB0"
baud = 57600

[protocol]
attack_flag = false
max_payload = 7
payload_format = "hex"

[protect]
state_file = ""

[[catalog]]
can_id = "1234"
mode = "Standard"
description = "Engine RPM"

[[catalog]]
can_id = "18FEF100"
mode = "extended"
description = "Cruise control"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.HTTP.Addr != "127.0.0.1:8080" {
		t.Fatalf("unexpected addr: %q", cfg.HTTP.Addr)
	}
	if len(cfg.HTTP.CORSOrigins) != 1 {
		t.Fatalf("expected one cors origin, got %d", len(cfg.HTTP.CORSOrigins))
	}
	if cfg.Serial.Device != "/dev/ttyUSB0" || cfg.Serial.Baud != 57600 {
		t.Fatalf("unexpected serial config: %+v", cfg.Serial)
	}
	if !cfg.Serial.AutoConnect {
		t.Fatalf("expected auto_connect to follow a configured device")
	}
	if cfg.Serial.ReadTimeoutMs != 1000 {
		t.Fatalf("expected default read timeout, got %d", cfg.Serial.ReadTimeoutMs)
	}
	if cfg.Protocol.AttackFlag {
		t.Fatalf("expected attack_flag override to false")
	}
	if cfg.Protocol.Format() != protocol.PayloadHex {
		t.Fatalf("expected hex payload format")
	}
	if d := cfg.Protocol.Decoder(); d.HasAttackFlag || d.MaxPayload != 7 {
		t.Fatalf("unexpected decoder: %+v", d)
	}
	if cfg.Protect.StateFile != "" {
		t.Fatalf("expected empty state file, got %q", cfg.Protect.StateFile)
	}
	if !cfg.Protect.EnabledFilter {
		t.Fatalf("expected protection filter to keep its default")
	}
	if len(cfg.Catalog) != 2 {
		t.Fatalf("expected two catalog entries, got %d", len(cfg.Catalog))
	}
	if cfg.Catalog[1].Mode != protocol.ModeExtended {
		t.Fatalf("unexpected catalog mode: %v", cfg.Catalog[1].Mode)
	}
}

func TestLoadExplicitAutoConnectOff(t *testing.T) {
	cfg, err := Parse(`
[serial]
device = "/dev/ttyACM0"
auto_connect = false
`)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Serial.AutoConnect {
		t.Fatalf("expected auto_connect to stay off")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"unknown key", "[serial]\nspeed = 9600\n"},
		{"unsupported baud", "[serial]\nbaud = 12345\n"},
		{"negative timeout", "[serial]\nread_timeout_ms = -1\n"},
		{"auto connect without device", "[serial]\nauto_connect = true\n"},
		{"max payload too large", "[protocol]\nmax_payload = 300\n"},
		{"bad payload format", "[protocol]\npayload_format = \"base64\"\n"},
		{"negative receive rows", "[store]\nmax_receive_rows = -5\n"},
		{"bad catalog id", "[[catalog]]\ncan_id = \"12345\"\nmode = \"Standard\"\n"},
		{"duplicate catalog id", "[[catalog]]\ncan_id = \"7ff\"\n[[catalog]]\ncan_id = \"07FF\"\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.data)
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("Parse() error = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestParseRejectsBadMode(t *testing.T) {
	_, err := Parse("[[catalog]]\ncan_id = \"1\"\nmode = \"fd\"\n")
	if err == nil {
		t.Fatal("expected error for unknown catalog mode")
	}
}
