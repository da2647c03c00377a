package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"

	"matchd/config"
	"matchd/domain/instrument"
	"matchd/infra/kafka"
	"matchd/infra/outbox"
	"matchd/jobs/broadcaster"
	"matchd/service"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config load failed", zap.Error(err))
	}

	// ---------------- Instrument metadata ----------------

	instruments, err := instrument.LoadFile(cfg.InstrumentFile)
	if err != nil {
		logger.Fatal("instrument load failed",
			zap.String("file", cfg.InstrumentFile), zap.Error(err))
	}
	meta := instrument.NewCache()
	if err := meta.PutAll(instruments); err != nil {
		logger.Fatal("instrument metadata invalid", zap.Error(err))
	}
	logger.Info("instruments loaded", zap.Int("count", meta.Len()))

	// ---------------- Outbox journal ----------------

	journal, err := outbox.Open(filepath.Join(cfg.DataDir, "outbox"))
	if err != nil {
		logger.Fatal("outbox open failed", zap.Error(err))
	}
	defer journal.Close()

	// ---------------- Engine + recovery ----------------

	engine := service.NewEngine(service.EngineConfig{
		DataDir:           cfg.DataDir,
		SnapshotInterval:  cfg.SnapshotInterval,
		DepthLevels:       cfg.DepthLevels,
		ProcessedCapacity: cfg.ProcessedCapacity,
		Meta:              meta,
		Outbound:          journal,
		Logger:            logger,
	})
	if err := engine.RecoverExisting(); err != nil {
		logger.Fatal("recovery failed", zap.Error(err))
	}

	// ---------------- Background jobs ----------------

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bc, err := broadcaster.New(journal, cfg.Kafka.Brokers, cfg.Kafka.EventTopic, logger)
	if err != nil {
		logger.Fatal("broadcaster init failed", zap.Error(err))
	}
	go bc.Run(ctx)

	// ---------------- Inbound feed ----------------

	consumer := kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers:   cfg.Kafka.Brokers,
		Topic:     cfg.Kafka.OrderTopic,
		Partition: cfg.Kafka.Partition,
		Logger:    logger,
	}, engine)

	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		if err := consumer.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("consumer stopped", zap.Error(err))
		}
	}()

	// ---------------- Shutdown ----------------

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig
	logger.Info("shutting down", zap.String("signal", s.String()))

	cancel()
	<-consumerDone
	if err := consumer.Close(); err != nil {
		logger.Warn("consumer close failed", zap.Error(err))
	}
	engine.Shutdown()
	if err := bc.Close(); err != nil {
		logger.Warn("broadcaster close failed", zap.Error(err))
	}
	logger.Info("shutdown complete")
}
