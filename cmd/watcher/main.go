package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/fanstake/fanstake/internal/chain"
	"github.com/fanstake/fanstake/internal/config"
	"github.com/fanstake/fanstake/internal/database"
	"github.com/fanstake/fanstake/internal/ingest"
	"github.com/fanstake/fanstake/internal/logger"
	"github.com/fanstake/fanstake/internal/pool"
	"github.com/joho/godotenv"
)

func main() {
	// Parse command-line arguments
	envFile := flag.String("envFile", ".env", "Path to .env file")
	flag.Parse()

	// Load environment variables from the specified file
	if err := godotenv.Load(*envFile); err != nil {
		log.Printf("No .env file found at %s, using environment variables", *envFile)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	baseLogger := logger.New(cfg.LogLevel)

	db, err := database.Connect(cfg)
	if err != nil {
		baseLogger.Fatal().Err(err).Msg("Failed to connect to database")
	}

	chainClient, err := chain.NewClient(cfg.RPCEndpoints, cfg.FactoryAddresses, time.Duration(cfg.RPCTimeoutSeconds)*time.Second)
	if err != nil {
		baseLogger.Fatal().Err(err).Msg("Failed to create chain client")
	}
	defer chainClient.Close()

	poolManager := pool.NewManager(db, chainClient, baseLogger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// One watcher per configured chain
	var wg sync.WaitGroup
	for chainID := range cfg.RPCEndpoints {
		watcher := ingest.NewWatcher(
			db,
			chainClient,
			poolManager,
			chainID,
			time.Duration(cfg.WatchIntervalSeconds)*time.Second,
			cfg.WatchBlockRange,
			baseLogger,
		)

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := watcher.Run(ctx); err != nil && err != context.Canceled {
				baseLogger.Error().Err(err).Msg("Watcher stopped")
			}
		}()
	}

	// Wait for shutdown signal
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	baseLogger.Info().Msg("Shutting down watchers")
	cancel()
	wg.Wait()
}
