// Package main provides the walletbridged daemon: a wallet host that serves
// embedded plugins over the provider bridge.
package main

import (
	"context"
	"flag"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/klingon-exchange/walletbridge/internal/backend"
	"github.com/klingon-exchange/walletbridge/internal/config"
	"github.com/klingon-exchange/walletbridge/internal/prompt"
	"github.com/klingon-exchange/walletbridge/internal/rpc"
	"github.com/klingon-exchange/walletbridge/internal/storage"
	"github.com/klingon-exchange/walletbridge/internal/wallet"
	"github.com/klingon-exchange/walletbridge/pkg/logging"
)

var (
	version = rpc.Version
	commit  = "unknown"
)

func main() {
	// Parse flags
	var (
		dataDir     = flag.String("data-dir", "~/.walletbridge", "Data directory")
		configFile  = flag.String("config", "", "Config file path (default: <data-dir>/config.yaml)")
		apiAddr     = flag.String("api", "", "HTTP API address, overrides config")
		logLevel    = flag.String("log-level", "", "Log level (debug, info, warn, error), overrides config")
		autoApprove = flag.String("auto-approve", "", "Prompt kinds to approve without a UI (comma-separated, development only)")
		showVersion = flag.Bool("version", false, "Show version and exit")
	)
	flag.Parse()

	// Set up logging (initial, may be overridden by config)
	log := logging.New(&logging.Config{
		Level:      firstNonEmpty(*logLevel, "info"),
		TimeFormat: time.TimeOnly,
	})
	logging.SetDefault(log)

	if *showVersion {
		log.Infof("walletbridged %s (commit: %s)", version, commit)
		os.Exit(0)
	}

	// Load or create config file
	var cfg *config.Config
	var err error

	configPath := config.ConfigPath(*dataDir)
	if *configFile != "" {
		configPath = config.ExpandPath(*configFile)
	}
	cfg, err = config.LoadConfigFile(configPath, *dataDir)
	if err != nil {
		log.Fatal("Failed to load config", "error", err)
	}

	// Apply CLI overrides (CLI flags take precedence over config file)
	if *apiAddr != "" {
		cfg.API.Listen = *apiAddr
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if *autoApprove != "" {
		cfg.Prompts.AutoApprove = splitList(*autoApprove)
	}
	if *configFile == "" {
		cfg.Storage.DataDir = *dataDir
	}

	if err := cfg.Validate(); err != nil {
		log.Fatal("Invalid config", "error", err)
	}

	// Update logging with config settings
	var output io.Writer = os.Stderr
	if cfg.Logging.File != "" {
		f, err := os.OpenFile(config.ExpandPath(cfg.Logging.File), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			log.Fatal("Failed to open log file", "path", cfg.Logging.File, "error", err)
		}
		defer f.Close()
		output = f
	}
	log = logging.New(&logging.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		TimeFormat: time.TimeOnly,
		Output:     output,
	})
	logging.SetDefault(log)

	log.Info("Config loaded", "path", configPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize storage
	dataPath := config.ExpandPath(cfg.Storage.DataDir)
	store, err := storage.New(&storage.Config{DataDir: dataPath})
	if err != nil {
		log.Fatal("Failed to initialize storage", "error", err)
	}
	defer store.Close()
	log.Info("Storage initialized", "path", store.Path())

	if prev := store.GetSettingOr("daemon_version", ""); prev != version {
		if prev != "" {
			log.Info("Daemon upgraded", "from", prev, "to", version)
		}
		if err := store.SetSetting("daemon_version", version); err != nil {
			log.Warn("Failed to record daemon version", "error", err)
		}
	}

	currencies := cfg.Currencies()

	// Initialize backend registry for blockchain access
	backends, err := backend.NewRegistryFor(currencies, cfg.Backends)
	if err != nil {
		log.Fatal("Failed to initialize backends", "error", err)
	}
	defer backends.CloseAll()
	log.Info("Backend registry initialized", "backends", backends.List())

	go func() {
		connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		for id, err := range backends.ConnectAll(connectCtx) {
			log.Warn("Backend unavailable", "plugin", id, "error", err)
		}
	}()

	walletService := wallet.NewService(&wallet.ServiceConfig{
		DataDir:        dataPath,
		Currencies:     currencies,
		EnabledPlugins: cfg.Wallet.EnabledPlugins,
		Account:        cfg.Wallet.Account,
		Backends:       backends,
		Logger:         log,
	})
	log.Info("Wallet service initialized", "has_wallet", walletService.HasWallet())

	kinds, err := prompt.ParseKinds(cfg.Prompts.AutoApprove)
	if err != nil {
		log.Fatal("Invalid auto-approve setting", "error", err)
	}
	if len(kinds) > 0 {
		log.Warn("Prompts are auto-approved, do not use with real funds", "kinds", kinds)
	}
	prompts := prompt.NewBroker(prompt.Config{
		Timeout:     cfg.Prompts.Timeout,
		AutoApprove: kinds,
		Logger:      log,
	}, nil)

	// Start RPC server
	rpcServer := rpc.NewServer(rpc.ServerConfig{
		Config:     cfg,
		Currencies: currencies,
		Storage:    store,
		Wallet:     walletService,
		Prompts:    prompts,
		Version:    version,
		Logger:     log,
	})
	if err := rpcServer.Start(cfg.API.Listen); err != nil {
		log.Fatal("Failed to start RPC server", "error", err)
	}

	printBanner(log, cfg, rpcServer.Addr(), currencies.Len())

	// Start status ticker
	go func() {
		ticker := time.NewTicker(60 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				log.Info("Status",
					"sessions", len(rpcServer.Sessions()),
					"ws_clients", rpcServer.WSHub().ClientCount(),
					"unlocked", walletService.IsUnlocked())
			}
		}
	}()

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	<-sigCh
	log.Info("Shutting down...")

	cancel()

	if err := rpcServer.Stop(); err != nil {
		log.Error("Error stopping RPC server", "error", err)
	}
	walletService.Lock()

	log.Info("Goodbye!")
}

func printBanner(log *logging.Logger, cfg *config.Config, apiAddr string, currencies int) {
	log.Info("")
	log.Info("=================================================")
	log.Info("  Wallet Bridge")
	log.Infof("  Version: %s", version)
	log.Info("=================================================")
	log.Info("")
	log.Infof("  API:     http://%s", apiAddr)
	log.Infof("  WS:      ws://%s/ws", apiAddr)
	log.Infof("  Bridge:  ws://%s/plugins/{pluginId}/bridge", apiAddr)
	if cfg.API.Metrics {
		log.Infof("  Metrics: http://%s/metrics", apiAddr)
	}
	log.Info("")
	log.Infof("  Currencies: %d | Plugins: %d", currencies, len(cfg.Plugins))
	for _, p := range cfg.Plugins {
		log.Infof("    %s (%s)", p.DisplayName, p.ID)
	}
	log.Infof("  Data dir: %s", config.ExpandPath(cfg.Storage.DataDir))
	log.Info("")
	log.Info("=================================================")
	log.Info("")
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
