package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.DoTListen != DefaultDoTListen {
		t.Errorf("DoTListen = %q, want %q", cfg.DoTListen, DefaultDoTListen)
	}
	if cfg.ProxyListen != DefaultProxyListen {
		t.Errorf("ProxyListen = %q, want %q", cfg.ProxyListen, DefaultProxyListen)
	}
	if cfg.Upstream != DefaultUpstream {
		t.Errorf("Upstream = %q, want %q", cfg.Upstream, DefaultUpstream)
	}
}

func TestLoadOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	data := `external_address: 203.0.113.7
dot_listen: ":8853"
upstream: "9.9.9.9:53"
data_dir: /tmp/zt-test
log_level: debug
`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.ExternalAddress != "203.0.113.7" {
		t.Errorf("ExternalAddress = %q", cfg.ExternalAddress)
	}
	if cfg.DoTListen != ":8853" {
		t.Errorf("DoTListen = %q", cfg.DoTListen)
	}
	if cfg.Upstream != "9.9.9.9:53" {
		t.Errorf("Upstream = %q", cfg.Upstream)
	}
	// Unset fields keep defaults
	if cfg.ProxyListen != DefaultProxyListen {
		t.Errorf("ProxyListen = %q, want default", cfg.ProxyListen)
	}
}

func TestLoadBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	if err := os.WriteFile(path, []byte("{not yaml"), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Error("expected error for malformed config")
	}
}

func TestClientAddresses(t *testing.T) {
	cfg := Default()
	cfg.ExternalAddress = "203.0.113.7"

	if got := cfg.DoTAddress(); got != "203.0.113.7:853" {
		t.Errorf("DoTAddress = %q", got)
	}
	if got := cfg.ProxyAddress(); got != "203.0.113.7:8443" {
		t.Errorf("ProxyAddress = %q", got)
	}

	cfg.DoTListen = "0.0.0.0:8853"
	if got := cfg.DoTAddress(); got != "203.0.113.7:8853" {
		t.Errorf("DoTAddress with explicit listen = %q", got)
	}
}

func TestResolveExternalAddressKeepsConfigured(t *testing.T) {
	cfg := Default()
	cfg.ExternalAddress = "198.51.100.4"

	if got := cfg.ResolveExternalAddress(); got != "198.51.100.4" {
		t.Errorf("ResolveExternalAddress = %q", got)
	}
}
