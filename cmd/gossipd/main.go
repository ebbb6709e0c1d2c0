// Command gossipd wires the transport, gossip, and connection manager
// components into a runnable validator gossip overlay.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cosmossdk.io/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/paw-chain/gossip-overlay/internal/adminapi"
	"github.com/paw-chain/gossip-overlay/internal/config"
	"github.com/paw-chain/gossip-overlay/internal/connmgr"
	"github.com/paw-chain/gossip-overlay/internal/consensusnotify"
	"github.com/paw-chain/gossip-overlay/internal/gossip"
	"github.com/paw-chain/gossip-overlay/internal/settings"
	"github.com/paw-chain/gossip-overlay/internal/transport"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gossipd",
		Short: "Validator gossip overlay and connection manager",
		RunE:  runGossipd,
	}
	cmd.Flags().String("config", "", "path to a YAML/TOML/JSON config file")
	config.BindFlags(cmd.Flags())
	return cmd
}

func runGossipd(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := log.NewLogger(os.Stderr)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	tcpCfg := transport.DefaultTCPConfig()
	tcpCfg.ChainID = cfg.ChainID
	tcpCfg.NodeID = cfg.NodeID
	tp := transport.NewTCPTransport(tcpCfg, logger)

	notifier := consensusnotify.NewLoggingNotifier(logger)
	settingsCache := settings.NewStaticCache(nil)

	g := gossip.New(logger, tp, notifier, settingsCache, nil, cfg.GossipConfig())
	// connmgr.New wires itself into g (BindConnectionManagerLock/
	// BindStatusSetter/BindConnectionManager); g.Start below launches it.
	connmgr.New(logger, tp, g, cfg.ConnManagerConfig(), connmgr.NewLoggingHealthSink(logger), nil)

	if err := g.Start(ctx); err != nil {
		return fmt.Errorf("start gossip: %w", err)
	}
	defer func() { _ = g.Stop(context.Background()) }()

	startMetricsServer(logger, cfg.MetricsAddr)

	admin := adminapi.New(logger, g, cfg.AdminAddr)
	admin.Start()
	defer func() { _ = admin.Stop(context.Background()) }()

	logger.Info("gossipd running", "peering_mode", cfg.PeeringMode, "self_endpoint", cfg.SelfEndpoint)
	<-ctx.Done()
	logger.Info("gossipd shutting down")
	return nil
}

// startMetricsServer exposes /metrics in a background goroutine.
func startMetricsServer(logger log.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server stopped unexpectedly", "error", err)
		}
	}()
}
