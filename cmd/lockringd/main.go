// Command lockringd runs one node of a lockring cluster: the Raft
// consensus node, the gRPC lock service, the metrics/health HTTP
// endpoints, and (for multi-region deployments) the cross-region quorum
// client.
package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cuemby/lockring/pkg/api"
	"github.com/cuemby/lockring/pkg/config"
	"github.com/cuemby/lockring/pkg/events"
	"github.com/cuemby/lockring/pkg/lockservice"
	"github.com/cuemby/lockring/pkg/log"
	"github.com/cuemby/lockring/pkg/metrics"
	"github.com/cuemby/lockring/pkg/raftnode"
	"github.com/cuemby/lockring/pkg/region"
	"github.com/cuemby/lockring/pkg/storage"
	"github.com/spf13/cobra"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "lockringd",
	Short:   "lockringd runs a node of a distributed lock manager cluster",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("lockringd version %s (%s)\n", Version, Commit))
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	cobra.OnInitialize(initLogging)
	rootCmd.AddCommand(startCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOutput, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(level), JSONOutput: jsonOutput})
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a lockringd node",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		peersFlag, _ := cmd.Flags().GetStringToString("peer")
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		log.Info(fmt.Sprintf("starting lockringd node_id=%s region_id=%s", cfg.NodeID, cfg.RegionID))

		broker := events.NewBroker()
		broker.Start()

		node, err := raftnode.New(raftnode.Config{
			NodeID:            cfg.NodeID,
			BindAddr:          cfg.BindAddr,
			DataDir:           cfg.DataDir,
			ElectionTimeout:   time.Duration(cfg.ElectionTimeoutMs) * time.Millisecond,
			HeartbeatInterval: time.Duration(cfg.HeartbeatIntervalMs) * time.Millisecond,
		}, broker)
		if err != nil {
			return fmt.Errorf("create raft node: %w", err)
		}

		peers := map[string]string{cfg.NodeID: cfg.BindAddr}
		for _, entry := range cfg.Peers {
			id, addr, ok := strings.Cut(entry, "=")
			if !ok {
				id, addr = entry, entry
			}
			peers[id] = addr
		}
		for id, addr := range peersFlag {
			peers[id] = addr
		}
		if err := node.Bootstrap(peers); err != nil {
			return fmt.Errorf("bootstrap cluster: %w", err)
		}
		log.Info("raft node bootstrapped")

		var audit *storage.AuditStore
		if cfg.DataDir != "" {
			audit, err = storage.NewAuditStore(cfg.DataDir + "/audit.db")
			if err != nil {
				return fmt.Errorf("open audit store: %w", err)
			}
			defer audit.Close()
		}

		var quorum *region.Client
		if len(cfg.RegionPeers) > 0 {
			peers := make([]region.Peer, 0, len(cfg.RegionPeers))
			for _, addr := range cfg.RegionPeers {
				peers = append(peers, region.Peer{RegionID: addr, Addr: addr})
			}
			quorum = region.NewClient(cfg.RegionID, peers, region.GRPCDialer, 0)
		}

		advisory := region.NewAdvisoryStore()

		var svc *lockservice.Service
		if quorum != nil {
			svc = lockservice.New(node, cfg, broker, audit, quorum, advisory)
		} else {
			svc = lockservice.New(node, cfg, broker, audit, nil, advisory)
		}

		collector := metrics.NewCollector(node, node.Store())
		collector.Start()
		defer collector.Stop()

		health := api.NewHealthServer(node)
		go func() {
			if err := health.Start(metricsAddr); err != nil && err != http.ErrServerClosed {
				log.Error(fmt.Sprintf("health server error: %v", err))
			}
		}()
		log.Info(fmt.Sprintf("health/metrics listening on %s", metricsAddr))

		server := api.NewServer(svc, node.Store(), advisory, cfg.RegionID)
		errCh := make(chan error, 1)
		go func() {
			if err := server.Start(cfg.APIAddr); err != nil {
				errCh <- err
			}
		}()
		log.Info(fmt.Sprintf("lock service gRPC listening on %s", cfg.APIAddr))

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case <-sigCh:
			log.Info("shutting down")
		case err := <-errCh:
			log.Error(fmt.Sprintf("server error: %v", err))
		}

		server.Stop()
		broker.Stop()
		if err := node.Shutdown(); err != nil {
			return fmt.Errorf("shutdown raft node: %w", err)
		}
		log.Info("shutdown complete")
		return nil
	},
}

func init() {
	startCmd.Flags().String("config", "./lockring.yaml", "Path to node configuration file")
	startCmd.Flags().StringToString("peer", map[string]string{}, "Additional peer node_id=raft_addr pairs for cluster bootstrap")
	startCmd.Flags().String("metrics-addr", "127.0.0.1:9090", "Prometheus metrics listen address")
}
