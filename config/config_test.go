package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load should tolerate a missing file, got: %v", err)
	}
	if cfg.ListenAddr != ":8080" {
		t.Fatalf("expected default listen_addr :8080, got %q", cfg.ListenAddr)
	}
	if cfg.Writer.MaxMessageContinuousPacketCount != 4 {
		t.Fatalf("expected default fairness budget 4, got %d", cfg.Writer.MaxMessageContinuousPacketCount)
	}
	if cfg.Writer.MaxMessageCountMultiplex != 32 {
		t.Fatalf("expected default multiplex window 32, got %d", cfg.Writer.MaxMessageCountMultiplex)
	}
	if cfg.Writer.MaxMessageCountResponseWait != 16 {
		t.Fatalf("expected default response-wait window 16, got %d", cfg.Writer.MaxMessageCountResponseWait)
	}
}

func TestLoadFromYAMLFile(t *testing.T) {
	yaml := `
listen_addr: "0.0.0.0:9100"
advertise_addr: "10.0.0.5:9100"
etcd_endpoints:
  - "127.0.0.1:2379"
writer:
  max_message_count: 128
  max_message_continuous_packet_count: 8
  can_send_relayed_messages: false
  keep_alive_interval: 45s
`
	path := filepath.Join(t.TempDir(), "mprpc.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.ListenAddr != "0.0.0.0:9100" {
		t.Fatalf("expected listen_addr override, got %q", cfg.ListenAddr)
	}
	if len(cfg.EtcdEndpoints) != 1 || cfg.EtcdEndpoints[0] != "127.0.0.1:2379" {
		t.Fatalf("expected one etcd endpoint, got %v", cfg.EtcdEndpoints)
	}
	if cfg.Writer.MaxMessageCount != 128 {
		t.Fatalf("expected max_message_count 128, got %d", cfg.Writer.MaxMessageCount)
	}
	if cfg.Writer.CanSendRelayedMessages {
		t.Fatal("expected can_send_relayed_messages to be overridden to false")
	}
	if cfg.Writer.KeepAliveInterval != 45*time.Second {
		t.Fatalf("expected keep_alive_interval 45s, got %v", cfg.Writer.KeepAliveInterval)
	}

	wc := cfg.Writer.ToWriterConfig()
	if wc.MaxMessageCount != 128 {
		t.Fatalf("ToWriterConfig did not carry MaxMessageCount through, got %d", wc.MaxMessageCount)
	}
}
