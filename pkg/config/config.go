package config

import (
	"fmt"
	"net"
	"os"

	"gopkg.in/yaml.v3"
)

// Defaults for the gateway listeners and upstream resolver
const (
	DefaultDoTListen   = ":853"
	DefaultProxyListen = ":8443"
	DefaultAdminListen = ":5001"
	DefaultUpstream    = "1.1.1.1:53"
	DefaultDataDir     = "/opt/zerotrust-dns"
)

// Config holds the gateway configuration
type Config struct {
	// ExternalAddress is the address clients reach the gateway on.
	// Discovered automatically when empty.
	ExternalAddress string `yaml:"external_address"`

	// Listener addresses
	DoTListen   string `yaml:"dot_listen"`
	ProxyListen string `yaml:"proxy_listen"`
	AdminListen string `yaml:"admin_listen"`

	// Upstream is the public resolver non-private queries are forwarded to
	Upstream string `yaml:"upstream"`

	// DataDir holds certs/, data/, and binaries/
	DataDir string `yaml:"data_dir"`

	// Logging
	LogLevel string `yaml:"log_level"`
	LogJSON  bool   `yaml:"log_json"`
}

// Default returns a Config populated with defaults
func Default() *Config {
	return &Config{
		DoTListen:   DefaultDoTListen,
		ProxyListen: DefaultProxyListen,
		AdminListen: DefaultAdminListen,
		Upstream:    DefaultUpstream,
		DataDir:     DefaultDataDir,
		LogLevel:    "info",
		LogJSON:     true,
	}
}

// Load reads a YAML config file, filling unset fields with defaults.
// A missing file is not an error; defaults are returned.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if cfg.DoTListen == "" {
		cfg.DoTListen = DefaultDoTListen
	}
	if cfg.ProxyListen == "" {
		cfg.ProxyListen = DefaultProxyListen
	}
	if cfg.AdminListen == "" {
		cfg.AdminListen = DefaultAdminListen
	}
	if cfg.Upstream == "" {
		cfg.Upstream = DefaultUpstream
	}
	if cfg.DataDir == "" {
		cfg.DataDir = DefaultDataDir
	}

	return cfg, nil
}

// ResolveExternalAddress fills ExternalAddress when unset. Connecting a
// UDP socket to a public address makes the kernel pick the outbound
// interface; no packet is sent. Falls back to 127.0.0.1.
func (c *Config) ResolveExternalAddress() string {
	if c.ExternalAddress != "" {
		return c.ExternalAddress
	}

	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err == nil {
		addr := conn.LocalAddr().(*net.UDPAddr)
		conn.Close()
		c.ExternalAddress = addr.IP.String()
		return c.ExternalAddress
	}

	c.ExternalAddress = "127.0.0.1"
	return c.ExternalAddress
}

// DoTAddress returns the host:port clients use for DNS over TLS
func (c *Config) DoTAddress() string {
	return joinExternal(c.ExternalAddress, c.DoTListen, "853")
}

// ProxyAddress returns the host:port clients use for the transport proxy
func (c *Config) ProxyAddress() string {
	return joinExternal(c.ExternalAddress, c.ProxyListen, "8443")
}

func joinExternal(host, listen, fallback string) string {
	_, port, err := net.SplitHostPort(listen)
	if err != nil || port == "" {
		port = fallback
	}
	return net.JoinHostPort(host, port)
}
