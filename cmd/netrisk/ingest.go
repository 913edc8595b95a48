package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	inputredis "netrisk/internal/input/redis"
	"netrisk/internal/logger"
	"netrisk/internal/metrics"
	"netrisk/internal/output/jsonl"
	"netrisk/internal/pipeline"
)

func runIngest(args []string) {
	configArg := ""
	if len(args) > 0 {
		configArg = args[0]
	}
	cfg, configPath, err := loadConfig(configArg)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if configPath == "" {
		log.Printf("Warning: no %s found, running with defaults", defaultConfigFile)
	}
	defer logger.Sync()
	n := cfg.NetRisk

	logger.Infof("NetRisk ingest starting")
	if configPath != "" {
		logger.Infof("Config: %s", configPath)
	}
	logger.Infof("Redis input: %s (key=%s)", n.Input.Redis.Addr, n.Input.Redis.Key)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	var metricsServer *http.Server
	if n.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler(reg))
		metricsServer = &http.Server{Addr: n.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Errorf("Metrics server error: %v", err)
			}
		}()
		logger.Infof("Metrics endpoint: %s/metrics", n.Metrics.Addr)
	}

	consumer, err := inputredis.NewConsumer(inputredis.Config{
		Addr:         n.Input.Redis.Addr,
		Password:     n.Input.Redis.Password,
		DB:           n.Input.Redis.DB,
		Key:          n.Input.Redis.Key,
		BlockTimeout: n.Input.Redis.BlockTimeout,
	})
	if err != nil {
		logger.Errorf("Failed to create Redis consumer: %v", err)
		log.Fatalf("Failed to create Redis consumer: %v", err)
	}

	detector, err := newDetector(cfg, m)
	if err != nil {
		logger.Errorf("Failed to build anomaly pipeline: %v", err)
		log.Fatalf("Failed to build anomaly pipeline: %v", err)
	}

	findingWriter, err := newFindingWriter(cfg, "")
	if err != nil {
		logger.Errorf("Failed to create findings writer: %v", err)
		log.Fatalf("Failed to create findings writer: %v", err)
	}

	var rawWriter pipeline.RawWriter
	if n.ReplayCapture.Enabled {
		w, err := jsonl.NewWriter[json.RawMessage](n.ReplayCapture.File.Path)
		if err != nil {
			logger.Errorf("Failed to create replay capture writer: %v", err)
			log.Fatalf("Failed to create replay capture writer: %v", err)
		}
		rawWriter = w
		logger.Infof("Replay capture: file (%s)", n.ReplayCapture.File.Path)
	}

	pipe, err := pipeline.NewRedisFindingsPipeline(consumer, detector, findingWriter, rawWriter, pipeline.Config{
		Workers:         n.Pipeline.Workers,
		BatchSize:       n.Pipeline.BatchSize,
		FlushInterval:   n.Pipeline.FlushInterval,
		DedupeCacheSize: n.Pipeline.DedupeCacheSize,
		RetryDelay:      n.Pipeline.RetryDelay,
	})
	if err != nil {
		logger.Errorf("Failed to create pipeline: %v", err)
		log.Fatalf("Failed to create pipeline: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := pipe.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Errorf("Pipeline error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
		logger.Infof("Shutting down")
	case <-done:
		logger.Warnf("Pipeline exited")
	}
	cancel()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		logger.Warnf("Pipeline did not stop within 10s")
	}

	if err := pipe.Close(); err != nil {
		logger.Errorf("Error closing pipeline: %v", err)
	}
	if metricsServer != nil {
		shutdownCtx, stop := context.WithTimeout(context.Background(), 2*time.Second)
		_ = metricsServer.Shutdown(shutdownCtx)
		stop()
	}

	logger.Infof("NetRisk ingest stopped")
}
