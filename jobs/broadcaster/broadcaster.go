package broadcaster

import (
	"context"
	"strconv"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"matchd/infra/outbox"
)

// DefaultInterval is how often the journal is drained.
const DefaultInterval = 250 * time.Millisecond

// Broadcaster drains the outbox journal to Kafka. Each record is
// marked SENT before publish and ACKED after the broker confirms it,
// so a crash at any point replays the event rather than losing it.
// Downstream consumers must tolerate duplicates.
type Broadcaster struct {
	journal  *outbox.Journal
	producer sarama.SyncProducer
	topic    string
	interval time.Duration
	log      *zap.Logger
}

func New(journal *outbox.Journal, brokers []string, topic string, log *zap.Logger) (*Broadcaster, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, err
	}
	return &Broadcaster{
		journal:  journal,
		producer: producer,
		topic:    topic,
		interval: DefaultInterval,
		log:      log.Named("broadcaster"),
	}, nil
}

// Run drains the journal on a ticker until the context is cancelled.
func (b *Broadcaster) Run(ctx context.Context) {
	b.log.Info("started", zap.String("topic", b.topic), zap.Duration("interval", b.interval))
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.log.Info("stopped")
			return
		case <-ticker.C:
			b.drainOnce()
		}
	}
}

func (b *Broadcaster) drainOnce() {
	err := b.journal.ScanUnacked(func(rec *outbox.Record) error {
		if err := b.journal.MarkSent(rec.InstrumentID, rec.Seq); err != nil {
			return err
		}

		msg := &sarama.ProducerMessage{
			Topic: b.topic,
			// Keying by instrument keeps one instrument's events on
			// one partition, preserving their sequence order.
			Key:   sarama.StringEncoder(strconv.FormatInt(rec.InstrumentID, 10)),
			Value: sarama.ByteEncoder(rec.Payload),
		}
		if _, _, err := b.producer.SendMessage(msg); err != nil {
			// Left in SENT; the next pass retries it.
			b.log.Warn("publish failed",
				zap.Int64("instrumentId", rec.InstrumentID),
				zap.Uint64("seq", rec.Seq),
				zap.Error(err))
			return nil
		}

		return b.journal.MarkAcked(rec.InstrumentID, rec.Seq)
	})
	if err != nil {
		b.log.Error("journal scan failed", zap.Error(err))
	}
}

func (b *Broadcaster) Close() error {
	return b.producer.Close()
}
