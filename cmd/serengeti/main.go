// Command serengeti runs one node of a Serengeti cluster: the LSM
// storage engine, catalog, query executor, cluster discovery,
// replication transport, persistence scheduler, and HTTP boundary.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/serengeti-db/serengeti/internal/api"
	"github.com/serengeti-db/serengeti/internal/backup"
	"github.com/serengeti-db/serengeti/internal/catalog"
	"github.com/serengeti-db/serengeti/internal/cluster"
	"github.com/serengeti-db/serengeti/internal/config"
	"github.com/serengeti-db/serengeti/internal/executor"
	"github.com/serengeti-db/serengeti/internal/logging"
	"github.com/serengeti-db/serengeti/internal/memory"
	"github.com/serengeti-db/serengeti/internal/metrics"
	"github.com/serengeti-db/serengeti/internal/persistence"
	"github.com/serengeti-db/serengeti/internal/replication"
)

// shutdownTimeout bounds how long graceful shutdown waits for
// in-flight requests and background loops to drain.
const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	log := logging.New(os.Stdout, logging.ParseLevel(cfg.LogLevel))

	if err := run(cfg, log); err != nil {
		log.Error("fatal", logging.F("error", err.Error()))
		os.Exit(1)
	}
}

func run(cfg config.Config, log *logging.Logger) error {
	reg := metrics.New()

	selfID := uuid.NewString()
	selfIP, err := cluster.LocalIPv4()
	if err != nil {
		log.Warn("could not determine local IPv4, falling back to loopback", logging.F("error", err.Error()))
		selfIP = "127.0.0.1"
	}

	cat, err := catalog.New(cfg.DataPath, nil, log)
	if err != nil {
		return fmt.Errorf("open catalog: %w", err)
	}

	membership := cluster.NewMembership(selfID, selfIP, reg)

	transportCfg := replication.DefaultConfig(selfID)
	transport := replication.New(transportCfg, membership, cat, reg, log)
	cat.SetSink(transport)
	membership.OnNewPeer(func(ip string) {
		if err := transport.DialPeerBroadcast(ip); err != nil {
			log.Warn("dial peer broadcast failed", logging.F("ip", ip), logging.F("error", err.Error()))
		}
	})

	reshuffler := replication.NewReshuffler(transport, cat)

	discCfg := cluster.DefaultConfig(selfID, selfIP, cfg.Port)
	discCfg.PingInterval = time.Duration(cfg.PingIntervalMs) * time.Millisecond
	discCfg.NetworkTimeout = time.Duration(cfg.NetworkTimeoutMs) * time.Millisecond
	discovery := cluster.NewDiscovery(discCfg, membership, reshuffler, log)

	stats := executor.NewCatalogStatistics(cat)
	memMgr := memory.New(cfg.QueryMemoryBudgetBytes, cfg.QueryMemoryFraction, reg)
	exec := executor.New(cat, stats, reg, log, memMgr)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	uploader, err := backup.New(ctx, backup.Config{
		Bucket:  cfg.S3BackupBucket,
		DataDir: cfg.DataPath,
		NodeID:  selfID,
	}, log)
	cancel()
	if err != nil {
		return fmt.Errorf("init backup uploader: %w", err)
	}
	var persistBackup persistence.Backup
	if uploader != nil {
		persistBackup = uploader
	}

	scheduler := persistence.New(cat, discovery, persistBackup, time.Duration(cfg.PersistIntervalS)*time.Second, log)

	adminAuth, err := api.NewAdminAuth(filepath.Join(cfg.DataPath, "admin.token"), cfg.AdminToken)
	if err != nil {
		return fmt.Errorf("init admin auth: %w", err)
	}

	apiServer := api.New(cat, exec, membership, transport, scheduler, reg, log, adminAuth, cfg.Port)

	if err := transport.Start(); err != nil {
		return fmt.Errorf("start replication transport: %w", err)
	}
	discovery.Start()
	scheduler.Start()

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      apiServer.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("http api listening", logging.F("addr", httpServer.Addr), logging.F("node_id", selfID), logging.F("ip", selfIP))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("shutting down", logging.F("signal", sig.String()))
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("http server shutdown error", logging.F("error", err.Error()))
	}

	scheduler.Stop()
	discovery.Stop()
	transport.Stop()

	return nil
}
