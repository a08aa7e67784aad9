package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleYAML = `
server:
  addr: ":9090"
  read_timeout: "5s"
logging:
  level: "debug"
  console: true
storage:
  path: "./test.db"
  busy_timeout: "2s"
telegram:
  send_timeout: "8s"
  rate_per_sec: 10
broadcast:
  recipient_concurrency: 8
scheduler:
  enabled: false
  interval: "30s"
`

func TestParseYAML(t *testing.T) {
	cfg, err := Parse("config.yaml", []byte(sampleYAML))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Addr != ":9090" {
		t.Errorf("addr = %q", cfg.Server.Addr)
	}
	if cfg.Logging.Level != "debug" || !cfg.Logging.Console {
		t.Errorf("logging = %+v", cfg.Logging)
	}
	if cfg.Telegram.RatePerSec != 10 {
		t.Errorf("rate = %d", cfg.Telegram.RatePerSec)
	}
	if cfg.Broadcast.RecipientConcurrency != 8 {
		t.Errorf("concurrency = %d", cfg.Broadcast.RecipientConcurrency)
	}
	if cfg.Scheduler.IsEnabled() {
		t.Error("scheduler should be disabled")
	}
	if got := MustDuration(cfg.Scheduler.Interval, 0); got != 30*time.Second {
		t.Errorf("interval = %v", got)
	}
}

func TestSchedulerDefaultsEnabled(t *testing.T) {
	cfg, err := Parse("c.yaml", []byte("storage:\n  path: \"./x.db\"\n"))
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.Scheduler.IsEnabled() {
		t.Error("omitted scheduler block should default to enabled")
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("addr default = %q", cfg.Server.Addr)
	}
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	_, err := Parse("c.yaml", []byte("storage:\n  path: \"./x.db\"\n  pathh: \"typo\"\n"))
	if err == nil {
		t.Fatal("unknown key must be rejected")
	}
}

func TestParseRejectsBadDuration(t *testing.T) {
	_, err := Parse("c.yaml", []byte("storage:\n  path: \"./x.db\"\n  busy_timeout: \"5 parsecs\"\n"))
	if err == nil {
		t.Fatal("bad duration must be rejected")
	}
}

func TestParseRequiresStoragePath(t *testing.T) {
	if _, err := Parse("c.yaml", []byte("logging:\n  level: info\n")); err == nil {
		t.Fatal("missing storage.path must be rejected")
	}
}

func TestParseJSON(t *testing.T) {
	cfg, err := Parse("c.json", []byte(`{"storage":{"path":"./x.db"},"server":{"addr":":7070"}}`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Addr != ":7070" {
		t.Errorf("addr = %q", cfg.Server.Addr)
	}
}

func TestManagerReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	m, err := NewManager(path)
	if err != nil {
		t.Fatal(err)
	}
	if m.Get().Server.Addr != ":9090" {
		t.Fatalf("addr = %q", m.Get().Server.Addr)
	}

	sub := m.Subscribe()
	if err := os.WriteFile(path, []byte("storage:\n  path: \"./other.db\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := m.reload(); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-sub:
		if cfg.Storage.Path != "./other.db" {
			t.Errorf("path = %q", cfg.Storage.Path)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber never notified")
	}
	if m.Get().Storage.Path != "./other.db" {
		t.Error("Get not updated after reload")
	}
}

func TestMustDuration(t *testing.T) {
	if got := MustDuration("", 5*time.Second); got != 5*time.Second {
		t.Errorf("empty: %v", got)
	}
	if got := MustDuration("garbage", 5*time.Second); got != 5*time.Second {
		t.Errorf("invalid: %v", got)
	}
	if got := MustDuration("750ms", 0); got != 750*time.Millisecond {
		t.Errorf("valid: %v", got)
	}
}
