// XOS daily activity service.
// Runs the per-account swap and check-in cycle and serves the control API.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"

	"github.com/gateway-fm/xosactivity/internal/account"
	"github.com/gateway-fm/xosactivity/internal/activity"
	"github.com/gateway-fm/xosactivity/internal/checkin"
	"github.com/gateway-fm/xosactivity/internal/config"
	"github.com/gateway-fm/xosactivity/internal/errs"
	"github.com/gateway-fm/xosactivity/internal/logstream"
	"github.com/gateway-fm/xosactivity/internal/metrics"
	"github.com/gateway-fm/xosactivity/internal/nonce"
	"github.com/gateway-fm/xosactivity/internal/provider"
	"github.com/gateway-fm/xosactivity/internal/proxy"
	"github.com/gateway-fm/xosactivity/internal/scheduler"
	"github.com/gateway-fm/xosactivity/internal/storage"
	"github.com/gateway-fm/xosactivity/internal/submitter"
	"github.com/gateway-fm/xosactivity/internal/transport"
	"github.com/gateway-fm/xosactivity/internal/txbuilder"
	"github.com/gateway-fm/xosactivity/internal/wallet"
)

// drainGrace is added to the receipt timeout when waiting for in-flight
// work at shutdown.
const drainGrace = 30 * time.Second

func main() {
	cfg, err := config.Load(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	// Setup logger
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	hub := logstream.NewHub(logstream.DefaultBufferSize)
	logger := logstream.NewLogger(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}), hub)
	slog.SetDefault(logger)

	if err := run(cfg, hub, logger); err != nil {
		logger.Error("fatal error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(cfg *config.Config, hub *logstream.Hub, logger *slog.Logger) error {
	accounts, err := account.Load(cfg.Files.Accounts)
	if err != nil {
		return fmt.Errorf("load accounts: %w", err)
	}
	if len(accounts) == 0 {
		logger.Warn("No accounts loaded; cycles cannot start", slog.String("path", cfg.Files.Accounts))
	}

	proxies, err := proxy.Load(cfg.Files.Proxies)
	if err != nil {
		return fmt.Errorf("load proxies: %w", err)
	}
	logger.Info("Loaded accounts and proxies",
		slog.Int("accounts", len(accounts)),
		slog.Int("proxies", len(proxies)),
	)

	activityStore := config.NewActivityStore(cfg.Files.Activity, logger)
	if err := activityStore.Load(); err != nil {
		logger.Warn("Using default activity config", slog.String("error", err.Error()))
	}

	store, err := storage.NewSQLiteStorage(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("initialize storage at %s: %w", cfg.DatabasePath, err)
	}
	defer store.Close()
	logger.Info("initialized storage", slog.String("path", cfg.DatabasePath))

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewPrometheusMetrics(reg)

	resolver := provider.New(provider.Config{
		URL:               cfg.RPCURL,
		ChainID:           cfg.ChainID,
		MaxRetries:        cfg.Provider.MaxRetries,
		RetryDelay:        cfg.Provider.RetryDelay,
		Timeout:           cfg.Provider.Timeout,
		RequestsPerSecond: cfg.Provider.RequestsPerSecond,
		Burst:             cfg.Provider.Burst,
	}, logger)

	nonces := nonce.NewTracker(nil, logger)
	sub := submitter.New(nonces, submitter.Config{
		ChainID:        cfg.ChainID,
		ReceiptTimeout: cfg.ReceiptTimeout,
		PollInterval:   cfg.ReceiptPoll,
	}, logger)

	builderCfg, err := builderConfig(cfg)
	if err != nil {
		return err
	}
	tokens := make([]txbuilder.Token, 0, len(cfg.Tokens))
	precision := map[string]int32{cfg.Swap.NativeSymbol: cfg.Swap.NativePrecision}
	for _, t := range cfg.Tokens {
		sym := strings.ToUpper(t.Symbol)
		tokens = append(tokens, txbuilder.Token{Symbol: sym, Address: common.HexToAddress(t.Address), Decimals: t.Decimals})
		precision[sym] = t.Precision
	}

	executor := activity.New(activity.Config{
		Builder:   builderCfg,
		Tokens:    tokens,
		Submitter: sub,
		Recorder:  store,
		Metrics:   m,
		Logger:    logger,
	})

	snapshots := wallet.New(wallet.Config{
		Accounts:     accounts,
		Proxies:      proxies,
		Tokens:       tokens,
		NativeSymbol: cfg.Swap.NativeSymbol,
		Connector:    resolver,
		Metrics:      m,
		Logger:       logger,
	})
	sub.OnConfirmed(snapshots.RequestRefresh)

	// Operations outlive a stop request; they are only cancelled once the
	// shutdown drain gives up.
	opsCtx, cancelOps := context.WithCancel(context.Background())
	defer cancelOps()

	sched := scheduler.New(scheduler.Config{
		Accounts:     accounts,
		Proxies:      proxies,
		Connector:    resolver,
		Operator:     executor,
		CheckIn:      checkin.New(cfg.CheckInURL, 0, logger),
		Activity:     activityStore,
		Nonces:       nonces,
		Recorder:     store,
		Metrics:      m,
		Logger:       logger,
		Precision:    precision,
		NativeSymbol: cfg.Swap.NativeSymbol,
		SwapDelayMin: cfg.Schedule.SwapDelayMin,
		SwapDelayMax: cfg.Schedule.SwapDelayMax,
		AccountDelay: cfg.Schedule.AccountDelay,
		Reschedule:   cfg.Schedule.Reschedule,
		StopPoll:     cfg.Schedule.StopPoll,
		BaseContext:  opsCtx,
	})
	nonces.SetStopSignal(sched)

	svc := &Service{
		chainID:  cfg.ChainID,
		accounts: accounts,
		proxies:  proxies,
		resolver: resolver,
		executor: executor,
		sched:    sched,
		wallets:  snapshots,
		activity: activityStore,
		store:    store,
		hub:      hub,
		logger:   logger,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go snapshots.Run(ctx)

	server := transport.NewServer(svc, svc, transport.Streams{Logs: hub, Wallets: snapshots}, reg, logger, cfg.CORSAllowedOrigins)
	go server.WebSocket().Run(ctx)

	if cfg.Schedule.AutoStart != "" {
		stopCron, err := sched.AutoStart(cfg.Schedule.AutoStart)
		if err != nil {
			return fmt.Errorf("autostart schedule %q: %w", cfg.Schedule.AutoStart, err)
		}
		defer stopCron()
	}
	if cfg.Schedule.StartOnBoot {
		if err := sched.Start(); err != nil {
			logger.Error("Failed to start daily activity", slog.String("error", err.Error()))
		}
	}

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting HTTP server", slog.String("addr", cfg.ListenAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down...")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("HTTP server: %w", err)
		}
	}

	drain(sched, cfg.ReceiptTimeout+drainGrace, logger)
	cancelOps()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown incomplete", slog.String("error", err.Error()))
	}
	return nil
}

// drain stops a running cycle and waits up to timeout for in-flight work.
func drain(sched *scheduler.Scheduler, timeout time.Duration, logger *slog.Logger) {
	if err := sched.Stop(); err != nil {
		if !errors.Is(err, errs.ErrNotRunning) {
			logger.Warn("Stop failed", slog.String("error", err.Error()))
		}
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := sched.WaitIdle(ctx); err != nil {
		logger.Warn("Gave up waiting for in-flight operations",
			slog.Int64("inFlight", sched.Status().InFlight),
		)
	}
}

func builderConfig(cfg *config.Config) (txbuilder.Config, error) {
	minOut, ok := new(big.Int).SetString(strings.TrimSpace(cfg.Swap.AmountOutMinimum), 10)
	if !ok || minOut.Sign() < 0 {
		return txbuilder.Config{}, fmt.Errorf("swap.amount_out_minimum: invalid amount %q", cfg.Swap.AmountOutMinimum)
	}
	return txbuilder.Config{
		WrappedNative:    common.HexToAddress(cfg.Contracts.WrappedNative),
		SwapRouter:       common.HexToAddress(cfg.Contracts.SwapRouter),
		TokenFactory:     common.HexToAddress(cfg.Contracts.TokenFactory),
		DeployRouter:     common.HexToAddress(cfg.Contracts.DeployRouter),
		PoolFee:          cfg.Swap.PoolFee,
		Deadline:         cfg.Swap.Deadline,
		AmountOutMinimum: minOut,
		NativeSymbol:     cfg.Swap.NativeSymbol,
	}, nil
}
