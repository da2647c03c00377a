package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"matchd/domain/book"
	"matchd/domain/instrument"
	"matchd/infra/wal"
	"matchd/snapshot"
)

// ErrLaneClosed rejects submissions after shutdown.
var ErrLaneClosed = errors.New("service: lane closed")

// Envelope is one inbound order plus its optional upstream bus
// position.
type Envelope struct {
	Order     *book.Order
	Partition *int32
	Offset    *int64
}

// Outbound is the publish journal the lane hands applied entries to.
type Outbound interface {
	Enqueue(instrumentID int64, seq uint64, payload []byte) error
	Seen(instrumentID int64, seq uint64) bool
	PurgeAcked(instrumentID int64, upToSeq uint64) error
}

// ProcessorConfig wires one lane.
type ProcessorConfig struct {
	InstrumentID      int64
	DataDir           string
	SnapshotInterval  uint64
	DepthLevels       int
	ProcessedCapacity int
	Meta              *instrument.Cache
	Outbound          Outbound // optional
	Logger            *zap.Logger
}

// Processor owns one instrument's lane end to end: order book, WAL and
// snapshot store, mutated by exactly one worker goroutine. Batches are
// submitted through a channel; price-time priority is simply the order
// in which the worker dequeues them.
type Processor struct {
	instrumentID int64
	book         *book.OrderBook
	wal          *wal.WAL
	snapshots    *snapshot.Store
	outbound     Outbound
	depthLevels  int
	log          *zap.Logger

	offsetMu sync.Mutex
	offsets  map[int32]int64

	batches chan []Envelope
	done    chan struct{}
	closeMu sync.Mutex
	closed  bool
}

func NewProcessor(cfg ProcessorConfig) (*Processor, error) {
	if cfg.DepthLevels <= 0 {
		cfg.DepthLevels = 10
	}
	w, err := wal.Open(cfg.DataDir, cfg.InstrumentID, cfg.Logger)
	if err != nil {
		return nil, err
	}
	return &Processor{
		instrumentID: cfg.InstrumentID,
		book:         book.NewOrderBook(cfg.InstrumentID, cfg.Meta, cfg.ProcessedCapacity),
		wal:          w,
		snapshots:    snapshot.NewStore(cfg.DataDir, cfg.InstrumentID, cfg.SnapshotInterval, cfg.Logger),
		outbound:     cfg.Outbound,
		depthLevels:  cfg.DepthLevels,
		log:          cfg.Logger.Named("processor").With(zap.Int64("instrumentId", cfg.InstrumentID)),
		offsets:      make(map[int32]int64),
		batches:      make(chan []Envelope, 64),
		done:         make(chan struct{}),
	}, nil
}

// Init performs startup recovery: snapshot restore, WAL load, then
// replay of every entry past the snapshot's sequence. Replay applies
// absolute quantities, so re-running it is idempotent. Init must
// complete before Start.
func (p *Processor) Init() error {
	state, err := p.snapshots.Load()
	if err != nil {
		return fmt.Errorf("recover instrument %d: %w", p.instrumentID, err)
	}
	var replayFrom uint64 = 1
	if state != nil {
		for _, o := range state.OpenOrders {
			p.book.Restore(o)
		}
		p.book.RestoreProcessedIDs(state.ProcessedOrderIDs)
		for partition, offset := range state.PartitionOffsets {
			p.offsets[partition] = offset
		}
		replayFrom = state.LastSeq + 1
	}

	if err := p.wal.LoadExisting(); err != nil {
		return fmt.Errorf("recover instrument %d: %w", p.instrumentID, err)
	}

	replayed := 0
	for _, entry := range p.wal.ReadFrom(replayFrom) {
		p.book.Apply(entry.MatchResult)
		p.book.MarkProcessed(entry.MatchResult.TakerOrder.OrderID)
		p.trackOffset(entry.Partition, entry.Offset)
		// A crash between WAL append and outbox enqueue loses the
		// event; re-enqueueing replayed entries heals the gap.
		if p.outbound != nil && !p.outbound.Seen(p.instrumentID, entry.Seq) {
			payload, err := json.Marshal(entry)
			if err != nil {
				return fmt.Errorf("recover instrument %d: encode entry %d: %w", p.instrumentID, entry.Seq, err)
			}
			if err := p.outbound.Enqueue(p.instrumentID, entry.Seq, payload); err != nil {
				return fmt.Errorf("recover instrument %d: %w", p.instrumentID, err)
			}
		}
		replayed++
	}
	p.log.Info("lane recovered",
		zap.Uint64("snapshotSeq", replayFrom-1),
		zap.Int("replayedEntries", replayed),
		zap.Int("openOrders", p.book.OpenOrderCount()))
	return nil
}

// Start launches the lane's worker.
func (p *Processor) Start() {
	go func() {
		defer close(p.done)
		for batch := range p.batches {
			p.processBatch(batch)
		}
	}()
}

// Submit queues one batch for the lane's worker.
func (p *Processor) Submit(batch []Envelope) error {
	p.closeMu.Lock()
	defer p.closeMu.Unlock()
	if p.closed {
		return ErrLaneClosed
	}
	p.batches <- batch
	return nil
}

// Shutdown stops accepting batches, drains queued work and closes the
// WAL. Anything already WAL-confirmed is committed: restart replay
// re-derives the same state.
func (p *Processor) Shutdown() {
	p.closeMu.Lock()
	if p.closed {
		p.closeMu.Unlock()
		<-p.done
		return
	}
	p.closed = true
	close(p.batches)
	p.closeMu.Unlock()

	<-p.done
	if err := p.wal.Close(); err != nil {
		p.log.Warn("wal close failed", zap.Error(err))
	}
}

// processBatch runs the lane pipeline for each order in arrival order:
// route check, duplicate suppression, validation, match, WAL append,
// apply, mark processed. A WAL or metadata failure halts the batch;
// orders already applied stay applied.
func (p *Processor) processBatch(batch []Envelope) {
	var lastSeq uint64
	for _, env := range batch {
		order := env.Order
		if order == nil {
			continue
		}
		if order.InstrumentID != p.instrumentID {
			p.log.Warn("order routed to wrong lane",
				zap.Int64("orderId", order.OrderID),
				zap.Int64("expected", p.instrumentID),
				zap.Int64("actual", order.InstrumentID))
			continue
		}
		if err := order.Validate(); err != nil {
			p.log.Warn("order rejected", zap.Int64("orderId", order.OrderID), zap.Error(err))
			continue
		}
		if p.book.AlreadyProcessed(order.OrderID) {
			continue
		}

		result, err := p.book.Match(order)
		if err != nil {
			// Missing instrument metadata is a configuration fault;
			// wrong fees must never be written.
			p.log.Error("match aborted", zap.Int64("orderId", order.OrderID), zap.Error(err))
			break
		}

		entries, err := p.wal.Append([]wal.AppendRequest{{
			Result:    result,
			Depth:     p.book.Depth(p.depthLevels),
			Partition: env.Partition,
			Offset:    env.Offset,
		}})
		if err != nil {
			// Never mutate the book without a durable record.
			p.log.Error("wal append failed", zap.Int64("orderId", order.OrderID), zap.Error(err))
			break
		}
		entry := entries[0]

		p.book.Apply(result)
		p.book.MarkProcessed(order.OrderID)
		p.trackOffset(env.Partition, env.Offset)
		lastSeq = entry.Seq

		if p.outbound != nil {
			payload, err := json.Marshal(entry)
			if err != nil {
				p.log.Error("event encode failed", zap.Uint64("seq", entry.Seq), zap.Error(err))
			} else if err := p.outbound.Enqueue(p.instrumentID, entry.Seq, payload); err != nil {
				// The WAL already holds the entry; recovery re-enqueues.
				p.log.Error("outbox enqueue failed", zap.Uint64("seq", entry.Seq), zap.Error(err))
			}
		}

		if len(result.Trades) > 0 {
			p.log.Debug("order matched",
				zap.Int64("orderId", order.OrderID),
				zap.Int("trades", len(result.Trades)),
				zap.Uint64("seq", entry.Seq))
		}
	}

	if lastSeq > 0 {
		if err := p.snapshots.MaybeSnapshot(lastSeq, p.book, p.snapshotOffsets()); err != nil {
			p.log.Error("snapshot failed", zap.Uint64("seq", lastSeq), zap.Error(err))
		} else if p.outbound != nil && p.snapshots.LastSnapshotSeq() == lastSeq {
			if err := p.outbound.PurgeAcked(p.instrumentID, lastSeq); err != nil {
				p.log.Warn("outbox purge failed", zap.Error(err))
			}
		}
	}
}

func (p *Processor) trackOffset(partition *int32, offset *int64) {
	if partition == nil || offset == nil {
		return
	}
	p.offsetMu.Lock()
	defer p.offsetMu.Unlock()
	if current, ok := p.offsets[*partition]; !ok || *offset > current {
		p.offsets[*partition] = *offset
	}
}

func (p *Processor) snapshotOffsets() map[int32]int64 {
	p.offsetMu.Lock()
	defer p.offsetMu.Unlock()
	out := make(map[int32]int64, len(p.offsets))
	for partition, offset := range p.offsets {
		out[partition] = offset
	}
	return out
}

// OffsetForPartition returns the highest upstream offset folded into
// this lane, or -1 when none is known.
func (p *Processor) OffsetForPartition(partition int32) int64 {
	p.offsetMu.Lock()
	defer p.offsetMu.Unlock()
	if offset, ok := p.offsets[partition]; ok {
		return offset
	}
	return -1
}

// Book exposes the order book for tests and maintenance queries. The
// caller must not touch it while the lane is running.
func (p *Processor) Book() *book.OrderBook {
	return p.book
}

// LastSeq reports the lane's highest durable WAL sequence.
func (p *Processor) LastSeq() uint64 {
	return p.wal.LastSeq()
}
