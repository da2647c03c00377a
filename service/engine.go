package service

import (
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"

	"matchd/domain/instrument"
	"matchd/infra/wal"
)

// EngineConfig configures the lane registry.
type EngineConfig struct {
	DataDir           string
	SnapshotInterval  uint64
	DepthLevels       int
	ProcessedCapacity int
	Meta              *instrument.Cache
	Outbound          Outbound // optional
	Logger            *zap.Logger
}

// Engine owns one Processor per instrument and routes batches to them.
// Lanes are created lazily on first order and recovered eagerly at
// startup for every instrument that left a WAL behind.
type Engine struct {
	cfg EngineConfig
	log *zap.Logger

	mu         sync.Mutex
	processors map[int64]*Processor
}

func NewEngine(cfg EngineConfig) *Engine {
	return &Engine{
		cfg:        cfg,
		log:        cfg.Logger.Named("engine"),
		processors: make(map[int64]*Processor),
	}
}

// RecoverExisting scans the data directory and brings up a lane for
// every instrument with a WAL file, so recovery happens before the
// first inbound order rather than on demand.
func (e *Engine) RecoverExisting() error {
	dirEntries, err := os.ReadDir(e.cfg.DataDir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("scan data dir: %w", err)
	}
	for _, entry := range dirEntries {
		if entry.IsDir() {
			continue
		}
		instrumentID, ok := wal.ParseFileName(entry.Name())
		if !ok {
			continue
		}
		if _, err := e.processor(instrumentID); err != nil {
			return err
		}
	}
	return nil
}

// ProcessBatch fans one inbound batch out to the per-instrument lanes,
// preserving arrival order within each instrument.
func (e *Engine) ProcessBatch(batch []Envelope) error {
	grouped := make(map[int64][]Envelope)
	order := make([]int64, 0, 4)
	for _, env := range batch {
		if env.Order == nil {
			continue
		}
		id := env.Order.InstrumentID
		if _, ok := grouped[id]; !ok {
			order = append(order, id)
		}
		grouped[id] = append(grouped[id], env)
	}
	for _, id := range order {
		proc, err := e.processor(id)
		if err != nil {
			return err
		}
		if err := proc.Submit(grouped[id]); err != nil {
			return err
		}
	}
	return nil
}

// OffsetForPartition reports the highest upstream offset any lane has
// durably folded for the partition, or -1 when none is known. The
// consumer resumes at this offset plus one.
func (e *Engine) OffsetForPartition(partition int32) int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	highest := int64(-1)
	for _, proc := range e.processors {
		if offset := proc.OffsetForPartition(partition); offset > highest {
			highest = offset
		}
	}
	return highest
}

// Shutdown drains and stops every lane.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	procs := make([]*Processor, 0, len(e.processors))
	for _, proc := range e.processors {
		procs = append(procs, proc)
	}
	e.mu.Unlock()

	var wg sync.WaitGroup
	for _, proc := range procs {
		wg.Add(1)
		go func(p *Processor) {
			defer wg.Done()
			p.Shutdown()
		}(proc)
	}
	wg.Wait()
	e.log.Info("all lanes stopped", zap.Int("lanes", len(procs)))
}

func (e *Engine) processor(instrumentID int64) (*Processor, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if proc, ok := e.processors[instrumentID]; ok {
		return proc, nil
	}
	proc, err := NewProcessor(ProcessorConfig{
		InstrumentID:      instrumentID,
		DataDir:           e.cfg.DataDir,
		SnapshotInterval:  e.cfg.SnapshotInterval,
		DepthLevels:       e.cfg.DepthLevels,
		ProcessedCapacity: e.cfg.ProcessedCapacity,
		Meta:              e.cfg.Meta,
		Outbound:          e.cfg.Outbound,
		Logger:            e.cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create lane for instrument %d: %w", instrumentID, err)
	}
	if err := proc.Init(); err != nil {
		return nil, err
	}
	proc.Start()
	e.processors[instrumentID] = proc
	e.log.Info("lane started", zap.Int64("instrumentId", instrumentID))
	return proc, nil
}
