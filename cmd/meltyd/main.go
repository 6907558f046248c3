package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"meltyfi/config"
	"meltyfi/native/lottery"
	"meltyfi/native/reward"
	"meltyfi/observability"
	"meltyfi/observability/logging"
	"meltyfi/storage"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	logger := logging.Setup("meltyd", nil)

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Error("failed to load config", "path", *configFile, "error", err)
		os.Exit(1)
	}
	params, err := cfg.Params()
	if err != nil {
		logger.Error("invalid protocol parameters", "error", err)
		os.Exit(1)
	}
	supplyCap, err := cfg.SupplyCap()
	if err != nil {
		logger.Error("invalid reward supply cap", "error", err)
		os.Exit(1)
	}

	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "state"))
	if err != nil {
		logger.Error("failed to open state database", "dir", cfg.DataDir, "error", err)
		os.Exit(1)
	}
	defer db.Close()
	state := storage.NewState(db)

	factory, rewardAdmin, err := reward.NewFactory(state, supplyCap)
	if err != nil {
		logger.Error("failed to initialize reward factory", "error", err)
		os.Exit(1)
	}
	engineAddr := storage.ModuleAddress("lottery-engine")
	if err := factory.AuthorizeMinter(rewardAdmin, engineAddr); err != nil && !errors.Is(err, reward.ErrAlreadyAuthorized) {
		logger.Error("failed to authorize lottery engine as minter", "error", err)
		os.Exit(1)
	}

	registry, _, err := lottery.NewRegistry(state, params)
	if err != nil {
		logger.Error("failed to initialize registry", "error", err)
		os.Exit(1)
	}

	engine := lottery.NewEngine()
	engine.SetState(state)
	engine.SetRewards(factory.MinterFor(engineAddr))
	engine.SetRandomSource(lottery.CryptoRandSource{})
	if err := engine.SetParams(params); err != nil {
		logger.Error("failed to apply engine parameters", "error", err)
		os.Exit(1)
	}

	if err := observability.LotteryMetrics().Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", "error", err)
		os.Exit(1)
	}

	paused, err := registry.Paused()
	if err != nil {
		logger.Error("failed to read registry state", "error", err)
		os.Exit(1)
	}
	active, err := registry.ActiveLotteries()
	if err != nil {
		logger.Error("failed to read active lotteries", "error", err)
		os.Exit(1)
	}
	logger.Info("protocol state loaded", "paused", paused, "activeLotteries", len(active))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: cfg.MetricsAddress, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics endpoint listening", "address", cfg.MetricsAddress)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", fmt.Sprintf("%v", sig))
	case err := <-errCh:
		logger.Error("metrics server failed", "error", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("metrics server shutdown", "error", err)
	}
}
