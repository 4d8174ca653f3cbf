package gateway

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/ztdns/gateway/pkg/admin"
	"github.com/ztdns/gateway/pkg/config"
	"github.com/ztdns/gateway/pkg/dns"
	"github.com/ztdns/gateway/pkg/log"
	"github.com/ztdns/gateway/pkg/metrics"
	"github.com/ztdns/gateway/pkg/proxy"
	"github.com/ztdns/gateway/pkg/security"
	"github.com/ztdns/gateway/pkg/storage"
)

// Gateway wires the data store, certificate authority, and the three
// listeners into one long-running process.
type Gateway struct {
	cfg    *config.Config
	logger zerolog.Logger
	store  storage.Store
	ca     *security.CertAuthority

	dnsServer   *dns.Server
	proxyServer *proxy.Server
	adminServer *admin.Server
	collector   *metrics.Collector
}

// New bootstraps the gateway: data directory, store, and CA material.
// Credential failures here are fatal; the gateway refuses to serve
// without a trust anchor.
func New(cfg *config.Config) (*Gateway, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	logger := log.WithComponent("gateway")

	external := cfg.ResolveExternalAddress()
	logger.Info().
		Str("external_address", external).
		Msg("external address resolved")

	store, err := storage.NewFileStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open data store: %w", err)
	}

	ca := security.NewCertAuthority(cfg.DataDir)
	if err := ca.Bootstrap(external); err != nil {
		return nil, fmt.Errorf("failed to bootstrap CA: %w", err)
	}

	g := &Gateway{
		cfg:    cfg,
		logger: logger,
		store:  store,
		ca:     ca,
	}

	g.dnsServer = dns.NewServer(store, &dns.Config{
		ListenAddr: cfg.DoTListen,
		Upstream:   cfg.Upstream,
		TLSConfig:  ca.ServerTLSConfig(),
	})
	g.proxyServer = proxy.NewServer(store, &proxy.Config{
		ListenAddr: cfg.ProxyListen,
		TLSConfig:  ca.ServerTLSConfig(),
	})
	g.adminServer = admin.NewServer(store, ca, cfg)
	g.collector = metrics.NewCollector(store)

	return g, nil
}

// Start brings up the three listeners
func (g *Gateway) Start(ctx context.Context) error {
	if err := g.dnsServer.Start(ctx); err != nil {
		return err
	}
	if err := g.proxyServer.Start(ctx); err != nil {
		g.dnsServer.Stop()
		return err
	}
	if err := g.adminServer.Start(ctx); err != nil {
		g.proxyServer.Stop()
		g.dnsServer.Stop()
		return err
	}
	g.collector.Start()

	g.logger.Info().
		Str("dot", g.cfg.DoTAddress()).
		Str("proxy", g.cfg.ProxyAddress()).
		Str("admin", g.cfg.AdminListen).
		Msg("gateway running")
	return nil
}

// Stop closes the listeners; in-flight connections unwind on socket
// errors and release their sockets.
func (g *Gateway) Stop() {
	g.collector.Stop()
	g.adminServer.Stop()
	g.proxyServer.Stop()
	g.dnsServer.Stop()
	g.store.Close()
}

// Store exposes the registry, mainly for tests and tooling
func (g *Gateway) Store() storage.Store {
	return g.store
}

// CA exposes the certificate authority
func (g *Gateway) CA() *security.CertAuthority {
	return g.ca
}
