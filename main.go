package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"optionflow/collector"
	"optionflow/config"
	"optionflow/instruments"
	"optionflow/internal/channel"
	"optionflow/internal/metrics"
	"optionflow/logger"
	"optionflow/market"
	"optionflow/provider"
	"optionflow/provider/kite"
	"optionflow/provider/sim"
	"optionflow/storage"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service": cfg.Optionflow.Name,
		"version": cfg.Optionflow.Version,
	}).Info("starting optionflow")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if strings.ToLower(cfg.Logging.Level) == "report" {
		logger.StartReport(ctx, log, 30*time.Second)
	}
	if cfg.Metrics.CloudWatch.Enabled {
		logger.InitCloudWatch(cfg.Metrics.CloudWatch.Region, cfg.Metrics.CloudWatch.Namespace, cfg.Metrics.CloudWatch.Dashboard)
	}

	m := metrics.New("optionflow")
	msrv := metrics.NewServer(cfg.Metrics.Addr, m, log)
	if err := msrv.Start(); err != nil {
		log.WithError(err).Error("Failed to start metrics server")
		os.Exit(1)
	}

	cal, err := market.NewCalendar(cfg.Market.Timezone, cfg.Market.Open, cfg.Market.Close, cfg.Market.Holidays)
	if err != nil {
		log.WithError(err).Error("Failed to build market calendar")
		os.Exit(1)
	}

	channels := channel.NewChannels(cfg.Channels.BatchBuffer)

	var source provider.Source
	switch strings.ToLower(cfg.Provider.Kind) {
	case "sim":
		source = sim.New(log)
	default:
		source, err = kite.New(cfg.Provider.Kite, cfg.Provider.Timeout, log)
		if err != nil {
			log.WithError(err).Error("Failed to build kite provider")
			os.Exit(1)
		}
	}

	client := provider.NewClient(source, cfg.Provider, m, log)
	registry := instruments.NewRegistry(client, cfg.Cache.InstrumentsTTL, m, log)

	sinks := make([]storage.Sink, 0, 3)
	if cfg.Storage.CSV.Enabled {
		csvSink, err := storage.NewCSVSink(cfg.Storage.CSV, cal.Location(), log)
		if err != nil {
			log.WithError(err).Error("Failed to create CSV sink")
			os.Exit(1)
		}
		sinks = append(sinks, csvSink)
	}
	if cfg.Storage.Influx.Enabled {
		influxSink, err := storage.NewInfluxSink(ctx, cfg.Storage.Influx, log)
		if err != nil {
			log.WithError(err).Error("Failed to create influx sink")
			os.Exit(1)
		}
		sinks = append(sinks, influxSink)
	}
	if cfg.Storage.S3.Enabled {
		parquetSink, err := storage.NewParquetSink(ctx, cfg.Storage.S3, cfg.Optionflow.Version, cal.Location(), log)
		if err != nil {
			log.WithError(err).Error("Failed to create S3 parquet sink")
			os.Exit(1)
		}
		sinks = append(sinks, parquetSink)
	}
	if len(sinks) == 0 {
		log.WithComponent("main").Warn("No storage sinks enabled, collected batches will be discarded")
	}

	router := storage.NewRouter(sinks, channels.Batches, m, log)
	if err := router.Start(); err != nil {
		log.WithError(err).Error("Failed to start storage router")
		os.Exit(1)
	}

	col := collector.NewCollector(client, registry, channels, cal, m, log)
	sched := collector.NewScheduler(col, cfg.Collector, cfg.EnabledIndices(), cal, m, log)
	if err := sched.Start(ctx); err != nil {
		log.WithError(err).Error("Failed to start scheduler")
		os.Exit(1)
	}

	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")

	log.Info("starting graceful shutdown")
	cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)

		log.Info("stopping scheduler")
		sched.Stop()

		log.Info("closing batch channel")
		channels.Close()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 25*time.Second)
		defer shutdownCancel()

		log.Info("draining storage router")
		router.Stop(shutdownCtx)

		log.Info("stopping metrics server")
		msrv.Stop()
	}()

	select {
	case <-done:
		log.Info("graceful shutdown completed")
	case <-time.After(30 * time.Second):
		log.Warn("graceful shutdown timeout exceeded")
	}

	log.Info("optionflow stopped")
}
