// Package main provides the main entry point for the sequencer node.
// It initializes and coordinates all services using the service registry
// pattern.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/cmatc13/sequencer/internal/api"
	"github.com/cmatc13/sequencer/internal/committee"
	"github.com/cmatc13/sequencer/internal/connectivity"
	"github.com/cmatc13/sequencer/internal/consensus"
	"github.com/cmatc13/sequencer/internal/epochstore"
	"github.com/cmatc13/sequencer/internal/submitter"
	"github.com/cmatc13/sequencer/pkg/config"
	"github.com/cmatc13/sequencer/pkg/health"
	"github.com/cmatc13/sequencer/pkg/logging"
	"github.com/cmatc13/sequencer/pkg/metrics"
	"github.com/cmatc13/sequencer/pkg/service"
)

func main() {
	// Load .env file if present. Environment variables override it.
	_ = godotenv.Load()

	configFile := pflag.String("config", "", "Path to configuration file")
	logLevel := pflag.String("log-level", "", "Log level (debug, info, warn, error)")
	pflag.Parse()

	opts := config.DefaultLoadOptions()
	if *configFile != "" {
		opts.ConfigFile = *configFile
	}

	cfg, err := config.LoadWithOptions(opts)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}

	logger := logging.New(logging.Config{
		Level:       logging.LogLevel(cfg.Log.Level),
		Output:      os.Stdout,
		ServiceName: "sequencer",
		Environment: cfg.Log.Environment,
	})

	var metricsCollector *metrics.Metrics
	if cfg.Metrics.Enabled {
		metricsCollector = metrics.New(metrics.Config{
			Namespace:   cfg.Metrics.Namespace,
			ServiceName: "sequencer",
		})
	}

	// Validator identity and epoch committee
	keypair, err := committee.ImportKeypair(cfg.Node.ValidatorKey)
	if err != nil {
		logger.WithError(err).Error("failed to import validator key")
		os.Exit(1)
	}
	epochCommittee, peerToValidator, err := committee.LoadGenesis(cfg.Node.CommitteeFile)
	if err != nil {
		logger.WithError(err).Error("failed to load committee file")
		os.Exit(1)
	}
	if epochCommittee.Epoch() != cfg.Node.Epoch {
		logger.
			WithField("committee_epoch", epochCommittee.Epoch()).
			WithField("configured_epoch", cfg.Node.Epoch).
			Error("committee file epoch does not match configured epoch")
		os.Exit(1)
	}

	logger.
		WithField("validator", keypair.ID).
		WithField("epoch", epochCommittee.Epoch()).
		WithField("committee_size", epochCommittee.Size()).
		Info("sequencer identity loaded")

	// Epoch store
	store, err := epochstore.NewRedisStore(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB, cfg.Node.Epoch, epochCommittee)
	if err != nil {
		logger.WithError(err).Error("failed to connect to epoch store")
		os.Exit(1)
	}
	defer store.Close()

	// Consensus hand-off
	consensusClient, err := consensus.NewKafkaClient(cfg.Kafka.Brokers, cfg.Kafka.ConsensusTopic, logger)
	if err != nil {
		logger.WithError(err).Error("failed to create consensus client")
		os.Exit(1)
	}
	defer consensusClient.Close()

	// Connectivity monitor
	connSource, err := connectivity.NewKafkaSource(cfg.Kafka.Brokers, cfg.Kafka.ConsumerGroup, cfg.Kafka.ConnectivityTopic, logger)
	if err != nil {
		logger.WithError(err).Error("failed to create connectivity source")
		os.Exit(1)
	}
	monitor := connectivity.NewMonitor(peerToValidator, logger, metricsCollector)
	monitorService := connectivity.NewMonitorService(monitor, connSource)

	// Submitter
	sub, err := submitter.New(
		store,
		consensusClient,
		keypair.ID,
		monitor,
		logger,
		metricsCollector,
		submitter.Config{
			AckTimeout:   cfg.Submitter.AckTimeout,
			RetryBackoff: cfg.Submitter.RetryBackoff,
			WarnInterval: cfg.Submitter.WarnInterval,
		},
	)
	if err != nil {
		logger.WithError(err).Error("failed to create submitter")
		os.Exit(1)
	}
	submitterService := submitter.NewService(sub)

	// Health checks
	healthRegistry := health.NewRegistry(logger)
	healthRegistry.Register("redis", health.RedisChecker(cfg.Redis.Address, store.Ping))
	healthRegistry.Register("kafka", health.KafkaChecker(cfg.Kafka.Brokers, consensusClient.Ping))
	healthRegistry.Register("submitter", health.ServiceChecker("submitter", func(ctx context.Context) error {
		return submitterService.Health()
	}))

	// API
	apiService := api.NewAPIService(cfg, submitterService, logger, metricsCollector, healthRegistry)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := service.NewRegistry(logger)
	for _, svc := range []service.Service{monitorService, submitterService, apiService} {
		if err := registry.Register(svc); err != nil {
			logger.WithError(err).WithField("service", svc.Name()).Error("failed to register service")
			os.Exit(1)
		}
	}

	if err := registry.StartAll(ctx); err != nil {
		logger.WithError(err).Error("failed to start services")
		os.Exit(1)
	}
	logger.Info("all services started")

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs

	logger.Info("shutdown signal received, stopping services")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := registry.StopAll(shutdownCtx); err != nil {
		logger.WithError(err).Error("error during shutdown")
	}
	logger.Info("shutdown complete")
}
