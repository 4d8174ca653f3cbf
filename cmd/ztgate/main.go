package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ztdns/gateway/pkg/config"
	"github.com/ztdns/gateway/pkg/gateway"
	"github.com/ztdns/gateway/pkg/log"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "ztgate",
	Short: "ztgate - Zero-trust access gateway",
	Long: `ztgate is a zero-trust access gateway combining a mutually
authenticated DNS-over-TLS resolver with a TLS transport proxy.

Peers are identified by the CN in their client certificate; private
zones resolve to the gateway, and the proxy tunnels authorized
connections to backends whose addresses clients never see.`,
	Version: Version,
}

func init() {
	// Set version template
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"ztgate version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("config", "", "Path to gateway config file")
	serveCmd.Flags().String("data-dir", "", "Data directory (certs, registry, binaries)")
	serveCmd.Flags().String("external-address", "", "Externally visible gateway address")
	serveCmd.Flags().String("log-level", "", "Log level (debug, info, warn, error)")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gateway",
	Long: `Run the gateway: the DNS-over-TLS resolver on 853, the transport
proxy on 8443, and the administrative API on 5001.

CA material is generated on first start under <data-dir>/certs.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")

		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		if v, _ := cmd.Flags().GetString("data-dir"); v != "" {
			cfg.DataDir = v
		}
		if v, _ := cmd.Flags().GetString("external-address"); v != "" {
			cfg.ExternalAddress = v
		}
		if v, _ := cmd.Flags().GetString("log-level"); v != "" {
			cfg.LogLevel = v
		}

		log.Init(log.Config{
			Level:      log.Level(cfg.LogLevel),
			JSONOutput: cfg.LogJSON,
		})

		gw, err := gateway.New(cfg)
		if err != nil {
			return fmt.Errorf("failed to create gateway: %v", err)
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		if err := gw.Start(ctx); err != nil {
			return fmt.Errorf("failed to start gateway: %v", err)
		}

		// Wait for shutdown signal
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		log.Info("shutting down")
		gw.Stop()
		return nil
	},
}
