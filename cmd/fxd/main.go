package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"fxchain/config"
	"fxchain/core"
	"fxchain/crypto"
	"fxchain/explorer"
	"fxchain/gateway"
	"fxchain/native/oracle"
	"fxchain/observability/logging"
	"fxchain/storage"
)

const envName = "FX_ENV"

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	genesisFlag := flag.String("genesis", "", "Path to a genesis YAML file (overrides config GenesisFile)")
	keygen := flag.Bool("keygen", false, "Generate a new account key and exit")
	flag.Parse()

	if *keygen {
		if err := generateKey(os.Stdout); err != nil {
			panic(fmt.Sprintf("Failed to generate key: %v", err))
		}
		return
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	env := strings.TrimSpace(os.Getenv(envName))
	logger := logging.SetupWith("fxd", env, logging.Options{
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
	})

	db, err := openDatabase(cfg)
	if err != nil {
		logger.Error("Failed to open database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	genesisPath := cfg.GenesisFile
	if *genesisFlag != "" {
		genesisPath = *genesisFlag
	}
	genesis, err := config.LoadGenesis(genesisPath)
	if err != nil {
		logger.Error("Failed to load genesis", slog.Any("error", err))
		os.Exit(1)
	}
	state, err := genesis.ProtocolState(cfg.Protocol.StateID)
	if err != nil {
		logger.Error("Invalid genesis document", slog.Any("error", err))
		os.Exit(1)
	}
	allocs, err := genesis.Allocations()
	if err != nil {
		logger.Error("Invalid genesis allocations", slog.Any("error", err))
		os.Exit(1)
	}

	proto := core.NewProtocol(db, core.Options{
		StateID:       cfg.Protocol.StateID,
		PoolID:        cfg.Protocol.PoolID,
		PausedModules: cfg.Protocol.PausedModules,
		Logger:        logger,
	})

	indexer, err := explorer.Open(filepath.Join(cfg.DataDir, "explorer.db"), logger)
	if err != nil {
		logger.Error("Failed to open explorer index", slog.Any("error", err))
		os.Exit(1)
	}
	proto.RegisterSink(indexer)

	if err := proto.InitGenesis(state, cfg.Protocol.PoolID, allocs); err != nil {
		logger.Error("Genesis initialisation failed", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	aggregator := oracle.NewAggregator(cfg.Oracle.FeedPriority, time.Duration(cfg.Oracle.MaxQuoteAgeSeconds)*time.Second)
	aggregator.Register("manual", oracle.NewManualFeed())
	go runPriceKeeper(ctx, proto, aggregator, cfg.Oracle, logger)

	server := gateway.NewServer(proto, gateway.Config{
		ListenAddress: cfg.Gateway.ListenAddress,
		Auth: gateway.AuthConfig{
			Enabled:    cfg.JWTSecretValue() != "",
			HMACSecret: cfg.JWTSecretValue(),
		},
		RateLimitPerSecond: cfg.Gateway.RateLimitPerSecond,
		RateLimitBurst:     cfg.Gateway.RateLimitBurst,
		AdminStateID:       cfg.Protocol.StateID,
		Logger:             logger,
	})

	logger.Info("fxd started",
		slog.String("network", cfg.NetworkName),
		slog.String("listen", cfg.Gateway.ListenAddress),
		slog.String("backend", cfg.StorageBackend))

	if err := server.Serve(ctx); err != nil {
		logger.Error("Gateway stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

// generateKey prints a fresh account key pair: the bech32 address for genesis
// allocations and gateway calls, the hex private key for the caller's wallet.
func generateKey(w io.Writer) error {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "address: %s\n", key.PubKey().Address().String())
	fmt.Fprintf(w, "private key: %s\n", hex.EncodeToString(key.Bytes()))
	return nil
}

func openDatabase(cfg *config.Config) (storage.Database, error) {
	switch cfg.StorageBackend {
	case "memory":
		return storage.NewMemDB(), nil
	default:
		return storage.NewLevelDB(filepath.Join(cfg.DataDir, "state"))
	}
}

// runPriceKeeper pushes fresh oracle observations into the engine on a fixed
// interval. A feed gap is logged and skipped; the staleness guard inside the
// engine decides when the gap becomes fatal for user operations.
func runPriceKeeper(ctx context.Context, proto *core.Protocol, aggregator *oracle.Aggregator, cfg config.Oracle, logger *slog.Logger) {
	ticker := time.NewTicker(time.Duration(cfg.UpdateIntervalSeconds) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			quote, err := aggregator.GetPrice(cfg.Asset)
			if err != nil {
				logger.Warn("No fresh oracle quote", slog.String("asset", cfg.Asset), slog.Any("error", err))
				continue
			}
			if err := proto.UpdatePrice(quote.PriceE9, quote.Timestamp); err != nil {
				logger.Warn("Price update rejected", slog.Any("error", err))
			}
		}
	}
}
