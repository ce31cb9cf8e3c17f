package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/linkctl/internal/service"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "linkctl.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadTemplate(t *testing.T) {
	cfg, err := Load(writeConfig(t, Template()))
	if err != nil {
		t.Fatalf("load template: %v", err)
	}
	if cfg.NodeID != "linkctl.local" {
		t.Fatalf("unexpected node id: %q", cfg.NodeID)
	}
	if cfg.Transport.Kind != service.TransportSerial {
		t.Fatalf("unexpected transport: %q", cfg.Transport.Kind)
	}
	if cfg.Transport.Serial.Device != "/dev/ttyUSB0" || cfg.Transport.Serial.BaudRate != 115200 {
		t.Fatalf("unexpected serial: %+v", cfg.Transport.Serial)
	}
	if cfg.Link.LeaveTimeout != 500*time.Millisecond {
		t.Fatalf("unexpected leave timeout: %v", cfg.Link.LeaveTimeout)
	}
	if cfg.Link.Limits.MaxPayloadBytes != 65536 {
		t.Fatalf("unexpected payload cap: %d", cfg.Link.Limits.MaxPayloadBytes)
	}
	if cfg.Bridge.Listen != "" || cfg.Admin.Listen != "" || cfg.Relay.NATSURL != "" {
		t.Fatalf("optional surfaces should stay disabled: %+v", cfg)
	}
	if len(cfg.Admin.CORSOrigins) != 1 {
		t.Fatalf("unexpected cors origins: %+v", cfg.Admin.CORSOrigins)
	}
}

func TestLoadOverridesOnlyDefinedKeys(t *testing.T) {
	path := writeConfig(t, `
node_id = "bench-a"

[transport]
kind = "TCP"
address = "127.0.0.1:7300"
read_poll_ms = 25

[link]
ack_timeout = "1s"
backoff_max_ms = 800

[bridge]
grpc_listen = "127.0.0.1:7400"

[relay]
nats_url = "nats://127.0.0.1:4222"
presence_ttl = "10s"
downlink_depth = 64
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	def := service.DefaultConfig()
	if cfg.NodeID != "bench-a" || cfg.Transport.Kind != service.TransportTCP {
		t.Fatalf("unexpected identity: %q %q", cfg.NodeID, cfg.Transport.Kind)
	}
	if cfg.Transport.ReadPoll != 25*time.Millisecond {
		t.Fatalf("unexpected read poll: %v", cfg.Transport.ReadPoll)
	}
	if cfg.Link.AckTimeout != time.Second {
		t.Fatalf("unexpected ack timeout: %v", cfg.Link.AckTimeout)
	}
	if cfg.Link.LeaveTimeout != def.Link.LeaveTimeout {
		t.Fatalf("leave timeout should keep default: %v", cfg.Link.LeaveTimeout)
	}
	if cfg.Link.Backoff.MaxDelay != 800*time.Millisecond {
		t.Fatalf("unexpected backoff max: %v", cfg.Link.Backoff.MaxDelay)
	}
	if cfg.Link.Backoff.InitialDelay != def.Link.Backoff.InitialDelay {
		t.Fatalf("backoff initial should keep default: %v", cfg.Link.Backoff.InitialDelay)
	}
	if cfg.Bridge.Listen != "127.0.0.1:7400" {
		t.Fatalf("unexpected bridge listen: %q", cfg.Bridge.Listen)
	}
	if cfg.Relay.Relay.PresenceTTL != 10*time.Second || cfg.Relay.Relay.DownlinkDepth != 64 {
		t.Fatalf("unexpected relay config: %+v", cfg.Relay.Relay)
	}
	if cfg.Relay.Relay.UplinkSubject != def.Relay.Relay.UplinkSubject {
		t.Fatalf("uplink subject should keep default: %q", cfg.Relay.Relay.UplinkSubject)
	}
}

func TestLoadMillisecondsWin(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
[transport]
kind = "tcp"
address = "127.0.0.1:1"

[link]
leave_timeout = "2s"
leave_timeout_ms = 150
`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Link.LeaveTimeout != 150*time.Millisecond {
		t.Fatalf("unexpected leave timeout: %v", cfg.Link.LeaveTimeout)
	}
}

func TestLoadRejectsBadInput(t *testing.T) {
	cases := map[string]string{
		"unknown key":  "[link]\nleave_timeot = \"1s\"\n",
		"bad duration": "[link]\nack_timeout = \"soon\"\n",
		"syntax":       "node_id = \n",
	}
	for name, body := range cases {
		if _, err := Load(writeConfig(t, body)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}

	_, err := Load(writeConfig(t, "[transport]\nkind = \"tcp\"\n"))
	if !errors.Is(err, service.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig for tcp without address, got %v", err)
	}
	_, err = Load(writeConfig(t, "[transport]\nkind = \"carrier-pigeon\"\n"))
	if !errors.Is(err, service.ErrUnknownTransport) {
		t.Fatalf("expected ErrUnknownTransport, got %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err == nil || !strings.Contains(err.Error(), "config load failed") {
		t.Fatalf("expected load failure, got %v", err)
	}
}

func TestWriteTemplate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "linkctl.toml")
	if err := WriteTemplate(path, false); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := WriteTemplate(path, false); err == nil {
		t.Fatalf("expected refusal to overwrite")
	}
	if err := WriteTemplate(path, true); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != Template() {
		t.Fatalf("template mismatch")
	}
}
