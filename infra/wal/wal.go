package wal

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"matchd/infra/sequence"
)

var (
	// ErrCorruptEntry aborts recovery: a WAL that cannot be read in
	// full must not seed a live book.
	ErrCorruptEntry = errors.New("wal: corrupt entry")
	// ErrClosed rejects appends after Close.
	ErrClosed = errors.New("wal: closed")
)

// FileName returns the log file name for an instrument.
func FileName(instrumentID int64) string {
	return fmt.Sprintf("wal-%d.wal", instrumentID)
}

// ParseFileName extracts the instrument id from a WAL file name.
func ParseFileName(name string) (int64, bool) {
	var instrumentID int64
	if _, err := fmt.Sscanf(name, "wal-%d.wal", &instrumentID); err != nil {
		return 0, false
	}
	if FileName(instrumentID) != name {
		return 0, false
	}
	return instrumentID, true
}

// WAL is the append-only, sequence-numbered log of matching decisions
// for one instrument: one JSON object per line, fsynced before Append
// returns. It is the durability barrier between "matched" and
// "committed": no decision may reach the book before it is on disk.
//
// Like the book it protects, a WAL is owned by its lane's worker;
// methods are not safe for concurrent use.
type WAL struct {
	instrumentID int64
	path         string
	file         *os.File
	seq          *sequence.Sequencer
	entries      []*Entry
	log          *zap.Logger
}

// Open creates or opens the instrument's log file for appending.
func Open(dir string, instrumentID int64, log *zap.Logger) (*WAL, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("wal: create dir %s: %w", dir, err)
	}
	path := filepath.Join(dir, FileName(instrumentID))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("wal: open %s: %w", path, err)
	}
	return &WAL{
		instrumentID: instrumentID,
		path:         path,
		file:         f,
		seq:          sequence.New(0),
		log:          log.Named("wal").With(zap.Int64("instrumentId", instrumentID)),
	}, nil
}

// LoadExisting reads the log sequentially, rebuilding the in-memory
// entry list and the sequence counter. A line that fails to parse, or a
// sequence gap, aborts the load: recovery fails fast rather than run a
// book that disagrees with the durable record.
func (w *WAL) LoadExisting() error {
	f, err := os.Open(w.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("wal: open for load: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	var last uint64
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var entry Entry
		if err := json.Unmarshal(raw, &entry); err != nil {
			return fmt.Errorf("%w: %s line %d: %v", ErrCorruptEntry, w.path, line, err)
		}
		if entry.Seq != last+1 {
			return fmt.Errorf("%w: %s line %d: seq %d after %d", ErrCorruptEntry, w.path, line, entry.Seq, last)
		}
		last = entry.Seq
		w.entries = append(w.entries, &entry)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("wal: read %s: %w", w.path, err)
	}
	w.seq.Reset(last)
	w.log.Info("wal loaded", zap.Int("entries", len(w.entries)), zap.Uint64("lastSeq", last))
	return nil
}

// Append assigns each result the next sequence number, writes all
// entries as JSON lines and syncs to disk before returning. On any
// failure nothing is committed: the sequencer rolls back and the
// in-memory entry list is untouched, so the caller must not apply the
// results.
func (w *WAL) Append(requests []AppendRequest) ([]*Entry, error) {
	if w.file == nil {
		return nil, ErrClosed
	}
	if len(requests) == 0 {
		return nil, nil
	}

	base := w.seq.Current()
	appended := make([]*Entry, 0, len(requests))
	var buf bytes.Buffer
	for i, req := range requests {
		entry := &Entry{
			Seq:           base + uint64(i) + 1,
			Partition:     req.Partition,
			Offset:        req.Offset,
			MatchResult:   req.Result,
			DepthSnapshot: req.Depth,
			AppendedAt:    time.Now(),
		}
		line, err := json.Marshal(entry)
		if err != nil {
			return nil, fmt.Errorf("wal: encode entry seq %d: %w", entry.Seq, err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
		appended = append(appended, entry)
	}

	if _, err := w.file.Write(buf.Bytes()); err != nil {
		return nil, fmt.Errorf("wal: append: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		return nil, fmt.Errorf("wal: sync: %w", err)
	}

	w.seq.Reset(base + uint64(len(appended)))
	w.entries = append(w.entries, appended...)
	return appended, nil
}

// ReadFrom returns all entries with sequence >= seq, in order.
func (w *WAL) ReadFrom(seq uint64) []*Entry {
	for i, entry := range w.entries {
		if entry.Seq >= seq {
			return w.entries[i:]
		}
	}
	return nil
}

// LastSeq returns the highest durable sequence, 0 when empty.
func (w *WAL) LastSeq() uint64 {
	return w.seq.Current()
}

func (w *WAL) Close() error {
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}
