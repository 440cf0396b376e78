package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/polystatics/polystatics/internal/api"
	"github.com/polystatics/polystatics/internal/config"
	"github.com/polystatics/polystatics/internal/logger"
	"github.com/polystatics/polystatics/internal/metrics"
	"github.com/polystatics/polystatics/internal/monitor"
	"github.com/polystatics/polystatics/internal/polymarket"
	"github.com/polystatics/polystatics/internal/storage"
	"github.com/polystatics/polystatics/internal/telegram"
)

var configPath = flag.String("config", "configs/config.yaml", "Path to configuration file")

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	defer logger.Sync()
	logger.Info("Configuration loaded from %s", *configPath)

	m := metrics.New()

	store, err := storage.New(cfg.Storage.DBPath, cfg.Storage.MaxAlerts)
	if err != nil {
		logger.Fatal("Failed to initialize storage: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close storage: %v", err)
		}
	}()

	polyClient := polymarket.NewClient(cfg.Polymarket.GammaAPIURL, polymarket.ClientConfig{
		Timeout:             cfg.Polymarket.Timeout,
		PageSize:            cfg.Polymarket.PageSize,
		CacheTTL:            cfg.Polymarket.CacheTTL,
		MaxRetries:          cfg.Polymarket.MaxRetries,
		RetryDelayBase:      cfg.Polymarket.RetryDelayBase,
		MaxIdleConns:        cfg.Polymarket.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.Polymarket.MaxIdleConnsPerHost,
		IdleConnTimeout:     cfg.Polymarket.IdleConnTimeout,
		Metrics:             m,
	})
	defer polyClient.Close()

	var notifier monitor.Notifier
	var telegramClient *telegram.Client
	if cfg.Telegram.Enabled {
		telegramClient, err = telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID, telegram.Options{
			MaxRetries:     cfg.Telegram.MaxRetries,
			RetryDelayBase: cfg.Telegram.RetryDelayBase,
			SendInterval:   cfg.Telegram.SendInterval,
			QueueSize:      cfg.Telegram.QueueSize,
			DrainTimeout:   cfg.Telegram.DrainTimeout,
			Metrics:        m,
		})
		if err != nil {
			logger.Fatal("Failed to initialize Telegram client: %v", err)
		}
		notifier = telegramClient
		logger.Info("Telegram client initialized successfully")
	} else {
		logger.Info("Telegram notifications disabled, alerts will be logged")
	}

	mon := monitor.New(polyClient, notifier, monitor.Config{
		PollInterval:   cfg.Monitor.PollInterval,
		UniverseLimit:  cfg.Monitor.UniverseLimit,
		SortField:      cfg.Monitor.SortField,
		Ascending:      cfg.Monitor.Ascending,
		LiquidityFloor: cfg.Monitor.LiquidityFloor,
		HistorySize:    cfg.Monitor.HistorySize,
		Detector: monitor.Detector{
			Window:    cfg.Monitor.Window,
			Tolerance: cfg.Monitor.WindowTolerance,
			Threshold: cfg.Monitor.Threshold,
			Cooldown:  cfg.Monitor.Cooldown,
		},
	}, monitor.WithJournal(store), monitor.WithMetrics(m))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, cleaning up...")
		mon.Stop()
		cancel()
	}()

	var apiServer *api.Server
	if cfg.API.Enabled {
		apiServer = api.NewServer(cfg.API, polyClient, store, mon, m.Handler())
		go func() {
			if err := apiServer.Start(); err != nil {
				logger.Error("Read API stopped: %v", err)
			}
		}()
	}

	if telegramClient != nil {
		telegramClient.ListenForCommands(ctx, func() string { return statusText(mon.Status()) })
		if err := telegramClient.SendStartup(cfg.Monitor.Threshold, cfg.Monitor.Window, cfg.Monitor.LiquidityFloor); err != nil {
			logger.Warn("Failed to send startup notification: %v", err)
		}
	}

	mon.Run(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if apiServer != nil {
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("Failed to shut down read API: %v", err)
		}
	}
	if telegramClient != nil {
		if err := telegramClient.Close(); err != nil {
			logger.Error("Failed to close Telegram client: %v", err)
		}
	}
	logger.Info("Service stopped")
}

func statusText(s monitor.Status) string {
	state := "stopped"
	if s.Running {
		state = "running"
	}
	return fmt.Sprintf("Monitor %s\nTracked markets: %s\nCycles: %s\nLast cycle: %d scanned, %d alerts in %v\nConsecutive failures: %d",
		state,
		humanize.Comma(int64(s.Tracked)),
		humanize.Comma(int64(s.Cycles)),
		s.LastCycle.Scanned, s.LastCycle.Alerts, s.LastCycle.Duration.Round(time.Millisecond),
		s.ConsecutiveFailures,
	)
}
