package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig(writeConfig(t, "mqtt:\n  broker: tcp://broker:1883\n"))
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if cfg.MQTT.Namespace != "pura365" {
		t.Errorf("namespace = %q", cfg.MQTT.Namespace)
	}
	if !strings.HasPrefix(cfg.MQTT.ClientID, "camlink-") {
		t.Errorf("client id = %q", cfg.MQTT.ClientID)
	}
	if cfg.Heartbeat.Enabled == nil || !*cfg.Heartbeat.Enabled {
		t.Errorf("heartbeat enabled = %v, want on by default", cfg.Heartbeat.Enabled)
	}
	if cfg.Heartbeat.Interval != time.Minute || cfg.Heartbeat.OfflineThreshold != 3*time.Minute {
		t.Errorf("heartbeat = %v / %v", cfg.Heartbeat.Interval, cfg.Heartbeat.OfflineThreshold)
	}
	if cfg.Store.Backend != "bolt" || cfg.Signaling.Backend != "memory" {
		t.Errorf("backends = %q / %q", cfg.Store.Backend, cfg.Signaling.Backend)
	}
	if cfg.Web.Listen != "127.0.0.1:8080" {
		t.Errorf("listen = %q", cfg.Web.Listen)
	}
}

func TestLoadConfigDurations(t *testing.T) {
	cfg, err := loadConfig(writeConfig(t, `
mqtt:
  broker: tcp://broker:1883
  publish_timeout: 2s
heartbeat:
  enabled: true
  interval: 30s
  offline_threshold: 90s
`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.MQTT.PublishTimeout != 2*time.Second {
		t.Errorf("publish timeout = %v", cfg.MQTT.PublishTimeout)
	}
	if !*cfg.Heartbeat.Enabled || cfg.Heartbeat.Interval != 30*time.Second || cfg.Heartbeat.OfflineThreshold != 90*time.Second {
		t.Errorf("heartbeat = %+v", cfg.Heartbeat)
	}
}

func TestLoadConfigHeartbeatDisabled(t *testing.T) {
	cfg, err := loadConfig(writeConfig(t, "mqtt:\n  broker: tcp://broker:1883\nheartbeat:\n  enabled: false\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Heartbeat.Enabled == nil || *cfg.Heartbeat.Enabled {
		t.Errorf("heartbeat enabled = %v, want explicit false kept", cfg.Heartbeat.Enabled)
	}
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"missing broker", "mqtt:\n  namespace: x\n", "mqtt.broker"},
		{"bad namespace", "mqtt:\n  broker: tcp://b:1883\n  namespace: a/b\n", "mqtt.namespace"},
		{"bad store backend", "mqtt:\n  broker: tcp://b:1883\nstore:\n  backend: sqlite\n", "store.backend"},
		{"threshold below interval", "mqtt:\n  broker: tcp://b:1883\nheartbeat:\n  interval: 60s\n  offline_threshold: 30s\n", "heartbeat.offline_threshold"},
		{"kafka without brokers", "mqtt:\n  broker: tcp://b:1883\nkafka:\n  enabled: true\n  topic: t\n", "kafka.brokers"},
		{"redis without addr", "mqtt:\n  broker: tcp://b:1883\nsignaling:\n  backend: redis\n", "signaling.redis.addr"},
		{"bad log level", "mqtt:\n  broker: tcp://b:1883\nlog:\n  level: loud\n", "log.level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := loadConfig(writeConfig(t, tt.body))
			if err != nil {
				t.Fatal(err)
			}
			err = cfg.validate()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("validate() = %v, want error mentioning %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadConfigErrors(t *testing.T) {
	if _, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
	if _, err := loadConfig(writeConfig(t, "mqtt: [")); err == nil {
		t.Error("expected error for malformed yaml")
	}
}

func TestOpenStoreMemory(t *testing.T) {
	cfg := &Config{}
	cfg.Store.Backend = "memory"
	st, err := openStore(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	if _, err := st.ListDevices(); err != nil {
		t.Errorf("list: %v", err)
	}
}
