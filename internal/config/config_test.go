package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.PrimaryWSURL == "" {
		t.Error("expected a default primary URL")
	}
	if cfg.FallbackWSURL == "" {
		t.Error("expected a default fallback URL")
	}
	if cfg.TeardownGrace != 30*time.Second {
		t.Errorf("expected 30s default grace, got %v", cfg.TeardownGrace)
	}
	if cfg.PrometheusPort != 9090 {
		t.Errorf("expected default port 9090, got %d", cfg.PrometheusPort)
	}
	if !cfg.EnableTUI {
		t.Error("expected TUI enabled by default")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("STREAM_RPC_WS_URL", "wss://rpc.example/ws")
	t.Setenv("TEARDOWN_GRACE_SECONDS", "5")
	t.Setenv("PROMETHEUS_PORT", "9999")
	t.Setenv("ENABLE_TUI", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.PrimaryWSURL != "wss://rpc.example/ws" {
		t.Errorf("unexpected primary URL %q", cfg.PrimaryWSURL)
	}
	if cfg.TeardownGrace != 5*time.Second {
		t.Errorf("expected 5s grace, got %v", cfg.TeardownGrace)
	}
	if cfg.PrometheusPort != 9999 {
		t.Errorf("expected port 9999, got %d", cfg.PrometheusPort)
	}
	if cfg.EnableTUI {
		t.Error("expected TUI disabled")
	}
}

func TestValidate(t *testing.T) {
	valid := &Config{
		PrimaryWSURL:   "wss://rpc.example/ws",
		FallbackWSURL:  "wss://api.example/ws",
		TeardownGrace:  30 * time.Second,
		PrometheusPort: 9090,
	}
	if err := valid.Validate(); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}

	missing := *valid
	missing.FallbackWSURL = ""
	if err := missing.Validate(); err == nil {
		t.Error("expected error for missing fallback URL")
	}

	badGrace := *valid
	badGrace.TeardownGrace = 0
	if err := badGrace.Validate(); err == nil {
		t.Error("expected error for zero grace")
	}

	badPort := *valid
	badPort.PrometheusPort = 70000
	if err := badPort.Validate(); err == nil {
		t.Error("expected error for out-of-range port")
	}
}

func TestMaskSecret(t *testing.T) {
	if got := maskSecret(""); got != "(not set)" {
		t.Errorf("empty secret: got %q", got)
	}
	if got := maskSecret("short"); got != "****" {
		t.Errorf("short secret: got %q", got)
	}
	masked := maskSecret("wss://rpc.example/ws/abcdef123456")
	if masked != "wss:****3456" {
		t.Errorf("long secret: got %q", masked)
	}
}
