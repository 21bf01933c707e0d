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

	"bookflow/client"
	"bookflow/config"
	"bookflow/logger"
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
		"service": cfg.Bookflow.Name,
		"version": cfg.Bookflow.Version,
	}).Info("starting bookflow")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Metrics.CloudWatch.Enabled {
		logger.InitCloudWatch(cfg.Metrics.CloudWatch.Region, cfg.Metrics.CloudWatch.Namespace)
	}

	if strings.ToLower(cfg.Logging.Level) == "report" {
		logger.StartReport(ctx, log, 30*time.Second)
	}

	cl, err := client.New(ctx, cfg)
	if err != nil {
		log.WithError(err).Error("Failed to construct client")
		os.Exit(1)
	}

	if err := cl.Subscribe(ctx); err != nil {
		log.WithError(err).Error("Failed to subscribe to market stream")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"username": cfg.Venue.Username,
		"tickers":  cfg.Trading.Tickers,
	}).Info("bookflow running")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")

	cancel()
	cl.Unsubscribe()

	log.Info("bookflow stopped")
}
