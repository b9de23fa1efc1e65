// Package main provides the tidepoold daemon - the swap backend.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/tidepool-exchange/tidepool/internal/chain"
	"github.com/tidepool-exchange/tidepool/internal/config"
	"github.com/tidepool-exchange/tidepool/internal/lightning"
	"github.com/tidepool-exchange/tidepool/internal/rates"
	"github.com/tidepool-exchange/tidepool/internal/rpc"
	"github.com/tidepool-exchange/tidepool/internal/storage"
	"github.com/tidepool-exchange/tidepool/internal/swap"
	"github.com/tidepool-exchange/tidepool/internal/wallet"
	"github.com/tidepool-exchange/tidepool/pkg/logging"
)

var (
	version = "0.1.0-dev"
	commit  = "unknown"
)

func main() {
	var (
		dataDir     = flag.String("data-dir", "~/.tidepool", "Data directory")
		apiHost     = flag.String("api-host", "", "JSON-RPC API host, overrides config")
		apiPort     = flag.Int("api-port", 0, "JSON-RPC API port, overrides config")
		logLevel    = flag.String("log-level", "", "Log level (debug, info, warn, error), overrides config")
		showVersion = flag.Bool("version", false, "Show version and exit")
	)
	flag.Parse()

	// Initial logger, replaced once the config level is known.
	log := logging.New(&logging.Config{
		Level:      *logLevel,
		TimeFormat: time.TimeOnly,
	})
	logging.SetDefault(log)

	if *showVersion {
		log.Infof("tidepoold %s (commit: %s)", version, commit)
		os.Exit(0)
	}

	cfg, err := config.Load(*dataDir)
	if err != nil {
		log.Fatal("Failed to load config", "error", err)
	}

	// CLI flags take precedence over the config file.
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if *apiHost != "" {
		cfg.API.Host = *apiHost
	}
	if *apiPort != 0 {
		cfg.API.Port = *apiPort
	}
	cfg.Storage.DataDir = *dataDir

	log = logging.New(&logging.Config{
		Level:      cfg.Logging.Level,
		TimeFormat: time.TimeOnly,
	})
	logging.SetDefault(log)

	log.Info("Config loaded", "path", filepath.Join(expandPath(*dataDir), config.ConfigFileName))

	store, err := storage.New(&cfg.Storage)
	if err != nil {
		log.Fatal("Failed to initialize storage", "error", err)
	}
	defer store.Close()
	log.Info("Storage initialized", "path", expandPath(cfg.Storage.DataDir))

	// A fresh seed phrase is generated on first run and written back to the
	// config file, so lockup outputs stay refundable across restarts.
	if cfg.Wallet.Mnemonic == "" {
		mnemonic, err := wallet.GenerateMnemonic()
		if err != nil {
			log.Fatal("Failed to generate seed", "error", err)
		}
		cfg.Wallet.Mnemonic = mnemonic
		if err := cfg.Save(filepath.Join(expandPath(*dataDir), config.ConfigFileName)); err != nil {
			log.Fatal("Failed to persist seed", "error", err)
		}
		log.Info("Generated new wallet seed")
	}

	currencies, wallets, err := buildCurrencies(log, cfg)
	if err != nil {
		log.Fatal("Failed to set up currencies", "error", err)
	}

	registry, err := chain.NewRegistry(currencies)
	if err != nil {
		log.Fatal("Failed to build currency registry", "error", err)
	}
	log.Info("Currencies initialized", "symbols", registry.Symbols())

	keyParams, err := cfg.Currencies[0].ChainParams()
	if err != nil {
		log.Fatal("Failed to resolve chain parameters", "error", err)
	}
	nextIndex, err := store.NextKeyIndex()
	if err != nil {
		log.Fatal("Failed to recover key index", "error", err)
	}
	keys, err := wallet.NewKeyProvider(cfg.Wallet.Mnemonic, keyParams, 0, nextIndex)
	if err != nil {
		log.Fatal("Failed to initialize key provider", "error", err)
	}
	log.Info("Key provider initialized", "next_index", nextIndex)

	events := swap.NewEventBus()
	manager := swap.NewManager(log, registry, store, wallets, keys, events)
	log.Info("Swap manager initialized")

	watcher := swap.NewInvoiceExpiryWatcher(log, store, registry, events, cfg.Watcher.Interval, nil)
	watcher.Start()
	log.Info("Invoice expiry watcher started", "interval", cfg.Watcher.Interval)

	var rateProvider *rates.Provider
	if cfg.Rates.BaseURL != "" {
		rateProvider = rates.NewProvider(log, rates.NewHTTPSource(cfg.Rates.BaseURL), cfg.Pairs, cfg.Rates.Interval)
		rateProvider.Start()
		log.Info("Rate provider started", "pairs", cfg.Pairs)
	}

	rpcServer := rpc.NewServer(log, manager, store, wallets, rateProvider, events)
	if err := rpcServer.Start(rpc.Config(cfg.API)); err != nil {
		log.Fatal("Failed to start RPC server", "error", err)
	}

	printBanner(log, cfg, rpcServer.Addr())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	<-sigCh
	log.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := rpcServer.Stop(shutdownCtx); err != nil {
		log.Error("Error stopping RPC server", "error", err)
	}
	watcher.Stop()
	if rateProvider != nil {
		rateProvider.Stop()
	}

	log.Info("Goodbye!")
}

// buildCurrencies constructs the chain clients and wallet providers of every
// configured currency.
func buildCurrencies(log *logging.Logger, cfg *config.Config) ([]*chain.Currency, map[string]wallet.Provider, error) {
	currencies := make([]*chain.Currency, 0, len(cfg.Currencies))
	wallets := make(map[string]wallet.Provider, len(cfg.Currencies))

	for i := range cfg.Currencies {
		cc := &cfg.Currencies[i]

		params, err := cc.ChainParams()
		if err != nil {
			return nil, nil, err
		}

		currency := &chain.Currency{
			Symbol:     cc.Symbol,
			Params:     params,
			AssetLabel: cc.AssetLabel,
			AssetHash:  cc.AssetHash,
		}

		if cc.Confidential {
			client := chain.NewElementsClient(log, cc.RPC, cc.Symbol)
			assetLabel := cc.AssetLabel
			if assetLabel == "" {
				assetLabel = chain.DefaultAssetLabel
				currency.AssetLabel = assetLabel
			}
			currency.Client = client
			wallets[cc.Symbol] = wallet.NewElementsWalletProvider(log, client, assetLabel)
		} else {
			client := chain.NewBitcoinClient(log, cc.RPC, cc.Symbol)
			currency.Client = client
			wallets[cc.Symbol] = wallet.NewCoreWalletProvider(log, client)
		}

		if cc.Lightning != nil {
			currency.Lightning = lightning.NewLndClient(*cc.Lightning)
		}

		currencies = append(currencies, currency)
	}

	return currencies, wallets, nil
}

// expandPath expands ~ to home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}

func printBanner(log *logging.Logger, cfg *config.Config, apiAddr string) {
	log.Info("")
	log.Info("=================================================")
	log.Infof("  Tidepool Swap Daemon")
	log.Infof("  Version: %s", version)
	log.Info("=================================================")
	log.Info("")
	log.Infof("  API: http://%s", apiAddr)
	log.Infof("  WS:  ws://%s/ws", apiAddr)
	log.Info("")
	log.Infof("  Currencies: %d | Pairs: %v", len(cfg.Currencies), cfg.Pairs)
	log.Infof("  Data dir: %s", expandPath(cfg.Storage.DataDir))
	log.Info("")
	log.Info("=================================================")
	log.Info("")
}
