package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/uhyunpark/hyperport/params"
	"github.com/uhyunpark/hyperport/pkg/api"
	"github.com/uhyunpark/hyperport/pkg/chain"
	"github.com/uhyunpark/hyperport/pkg/conduit"
	"github.com/uhyunpark/hyperport/pkg/metrics"
	"github.com/uhyunpark/hyperport/pkg/settlement"
	"github.com/uhyunpark/hyperport/pkg/storage"
	"github.com/uhyunpark/hyperport/pkg/util"
)

func main() {
	// HYPERPORT_CONFIG points at an optional YAML file; .env and HYPERPORT_*
	// variables are applied on top.
	cfg, err := params.Load(os.Getenv("HYPERPORT_CONFIG"), "")
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	var logger *zap.Logger
	if cfg.Log.File != "" {
		logger, err = util.NewLoggerWithFile(cfg.Log.File, cfg.Log.Level)
	} else {
		logger, err = util.NewLogger(cfg.Log.Level)
	}
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Log.File, "level", cfg.Log.Level)

	if err := run(cfg, logger); err != nil {
		sugar.Fatalw("node_failed", "err", err)
	}
	sugar.Info("node_stopped")
}

func run(cfg *params.Config, logger *zap.Logger) error {
	sugar := logger.Sugar()

	// ---- Ledger & conduits ----
	state := chain.NewState()
	controller, err := conduit.NewController(state, cfg.Node.Controller(), logger.Named("conduit"))
	if err != nil {
		return err
	}
	for _, c := range cfg.Conduits {
		owner := c.OwnerAddress()
		addr, err := controller.CreateConduit(owner, c.ConduitKey(), owner)
		if err != nil {
			return fmt.Errorf("create conduit %s: %w", c.Key, err)
		}
		if err := controller.UpdateChannel(owner, addr, cfg.Node.Engine(), true); err != nil {
			return fmt.Errorf("open channel on %s: %w", addr.Hex(), err)
		}
		sugar.Infow("conduit_ready", "key", c.Key, "conduit", addr.Hex())
	}

	// ---- Storage ----
	if err := os.MkdirAll(cfg.Node.DataDir, 0o755); err != nil {
		return err
	}
	store, err := storage.NewPebbleStore(filepath.Join(cfg.Node.DataDir, "settlement"), logger)
	if err != nil {
		return err
	}
	defer store.Close()

	sinks := settlement.MultiSink{store}
	if cfg.Node.EventWAL != "" {
		wal, err := storage.NewFileWAL(cfg.Node.EventWAL)
		if err != nil {
			return err
		}
		defer func() {
			if err := wal.Err(); err != nil {
				sugar.Warnw("event_wal_degraded", "err", err)
			}
			wal.Close()
		}()
		sinks = append(sinks, wal)
	}

	// ---- Engine ----
	m := metrics.NewSettlementMetrics(nil)
	hub := api.NewHub(logger.Named("ws"))
	sinks = append(sinks, hub, m)

	engine, err := settlement.New(settlement.Config{
		Address:  cfg.Node.Engine(),
		ChainID:  cfg.Node.Chain(),
		State:    state,
		Store:    store,
		Conduits: controller,
		Sink:     sinks,
		Logger:   logger.Named("settlement"),
		Metrics:  m,
	})
	if err != nil {
		return err
	}
	info := engine.Information()
	sugar.Infow("node_starting",
		"chain_id", cfg.Node.ChainID,
		"engine", info.Address.Hex(),
		"conduit_controller", info.ConduitController.Hex(),
		"domain_separator", info.DomainSeparator.Hex(),
		"data_dir", cfg.Node.DataDir,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		hub.Run(ctx)
		return nil
	})

	if cfg.API.Enabled {
		server, err := api.NewServer(api.Options{
			Engine:          engine,
			Hub:             hub,
			Events:          store,
			AllowedOrigins:  cfg.API.AllowedOrigins,
			ShutdownTimeout: cfg.Node.ShutdownTimeout,
			Logger:          logger.Named("api"),
		})
		if err != nil {
			return err
		}
		g.Go(func() error {
			sugar.Infow("api_server_starting", "addr", cfg.API.Addr)
			return server.Start(ctx, cfg.API.Addr)
		})
	} else {
		sugar.Info("api_disabled")
	}

	<-ctx.Done()
	sugar.Infow("shutdown_requested", "timeout", cfg.Node.ShutdownTimeout)
	return g.Wait()
}
