package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ztdns/gateway/pkg/endpoint"
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
	Use:   "ztendpoint",
	Short: "ztendpoint - ZeroTrust endpoint agent",
	Long: `ztendpoint runs on a client or service machine with the contents of
its deployment bundle. It verifies the signed configuration against the
bundled CA certificate, then serves local DNS on 127.0.0.1 and relays
queries to the gateway over mutually-authenticated DNS-over-TLS.`,
	Version: Version,
	RunE:    run,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"ztendpoint version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.Flags().String("dir", ".", "Directory holding the bundle contents")
	rootCmd.Flags().String("log-level", "info", "Log level (debug, info, warn, error)")
}

func run(cmd *cobra.Command, args []string) error {
	dir, _ := cmd.Flags().GetString("dir")
	level, _ := cmd.Flags().GetString("log-level")

	log.Init(log.Config{
		Level:      log.Level(level),
		JSONOutput: false,
	})

	rt, err := endpoint.Load(dir)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %v", err)
	}

	log.Logger.Info().
		Str("component", "endpoint").
		Str("type", rt.Payload().Type).
		Str("server", rt.Payload().Server).
		Msg("configuration verified")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fwd := endpoint.NewForwarder(rt)
	if err := fwd.Start(ctx); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	return fwd.Stop()
}
