package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"matchd/domain/book"
	"matchd/service"
)

// ConsumerConfig wires the inbound order feed.
type ConsumerConfig struct {
	Brokers   []string
	Topic     string
	Partition int
	BatchSize int
	Linger    time.Duration
	Logger    *zap.Logger
}

// Consumer pulls order events from a single Kafka partition and feeds
// them to the engine in arrival order. It owns its offset: on startup
// it resumes just past the highest offset the engine has durably
// folded, so redelivered events are handled by the duplicate filter
// rather than by broker-side commits.
type Consumer struct {
	reader    *kafka.Reader
	engine    *service.Engine
	partition int32
	batchSize int
	linger    time.Duration
	log       *zap.Logger
}

func NewConsumer(cfg ConsumerConfig, engine *service.Engine) *Consumer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Linger <= 0 {
		cfg.Linger = 20 * time.Millisecond
	}
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:   cfg.Brokers,
			Topic:     cfg.Topic,
			Partition: cfg.Partition,
			MinBytes:  1,
			MaxBytes:  10 << 20,
		}),
		engine:    engine,
		partition: int32(cfg.Partition),
		batchSize: cfg.BatchSize,
		linger:    cfg.Linger,
		log:       cfg.Logger.Named("consumer"),
	}
}

// Run consumes until the context is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	resume := c.engine.OffsetForPartition(c.partition) + 1
	if resume > 0 {
		if err := c.reader.SetOffset(resume); err != nil {
			return err
		}
	}
	c.log.Info("consuming",
		zap.Int32("partition", c.partition),
		zap.Int64("startOffset", resume))

	batch := make([]service.Envelope, 0, c.batchSize)
	deadline := time.Now().Add(c.linger)
	for {
		fetchCtx, cancel := context.WithDeadline(ctx, deadline)
		msg, err := c.reader.FetchMessage(fetchCtx)
		cancel()

		switch {
		case err == nil:
			if env, ok := c.decode(msg); ok {
				batch = append(batch, env)
			}
			if len(batch) < c.batchSize {
				continue
			}
		case errors.Is(err, context.DeadlineExceeded):
			// Linger expired; flush what we have.
		case errors.Is(err, context.Canceled), errors.Is(err, io.EOF):
			c.flush(batch)
			return ctx.Err()
		default:
			c.log.Error("fetch failed", zap.Error(err))
			time.Sleep(time.Second)
		}

		c.flush(batch)
		batch = batch[:0]
		deadline = time.Now().Add(c.linger)
	}
}

func (c *Consumer) decode(msg kafka.Message) (service.Envelope, bool) {
	var order book.Order
	if err := json.Unmarshal(msg.Value, &order); err != nil {
		c.log.Warn("undecodable order event",
			zap.Int64("offset", msg.Offset),
			zap.Error(err))
		return service.Envelope{}, false
	}
	partition := int32(msg.Partition)
	offset := msg.Offset
	return service.Envelope{
		Order:     &order,
		Partition: &partition,
		Offset:    &offset,
	}, true
}

func (c *Consumer) flush(batch []service.Envelope) {
	if len(batch) == 0 {
		return
	}
	if err := c.engine.ProcessBatch(batch); err != nil {
		c.log.Error("batch submit failed", zap.Error(err))
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
