package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fanstake/fanstake/internal/api"
	"github.com/fanstake/fanstake/internal/chain"
	"github.com/fanstake/fanstake/internal/config"
	"github.com/fanstake/fanstake/internal/dashboard"
	"github.com/fanstake/fanstake/internal/database"
	"github.com/fanstake/fanstake/internal/ledger"
	"github.com/fanstake/fanstake/internal/logger"
	"github.com/fanstake/fanstake/internal/pool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
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
	stakeLedger := ledger.New(db, baseLogger)
	aggregator := dashboard.New(db, stakeLedger, baseLogger)

	server := api.NewServer(db, poolManager, stakeLedger, aggregator, cfg.APIPort, baseLogger)

	// Serve Prometheus metrics on a separate port
	go func() {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(":"+cfg.MetricsPort, metricsMux); err != nil {
			baseLogger.Error().Err(err).Msg("Metrics server failed")
		}
	}()

	go func() {
		if err := server.Start(); err != nil {
			baseLogger.Fatal().Err(err).Msg("API server failed")
		}
	}()

	// Wait for shutdown signal
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	baseLogger.Info().Msg("Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		baseLogger.Error().Err(err).Msg("Shutdown failed")
	}
}
