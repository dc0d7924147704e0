package wal

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"cfdb/pkg/listener"
	"cfdb/pkg/types"
)

const (
	segmentSuffix = ".log"

	// DefaultSegmentSizeBytes is the rotation threshold for log segments.
	DefaultSegmentSizeBytes = 4 * 1024 * 1024
)

// AppendResult reports the durability outcome of a single append.
type AppendResult struct {
	SeqNum types.SeqNum
	Err    error
}

// Manager owns the WAL directory: a run of sequentially numbered segments,
// exactly one of which is open for appending. All appends funnel through one
// writer goroutine, preserving the global sequence order on disk.
type Manager struct {
	*listener.Listener[Record]

	mu          sync.Mutex
	dir         string
	file        *os.File
	writer      *bufio.Writer
	segIndex    uint64
	segBytes    int64
	segMaxSize  int64
	sealedMaxes map[uint64]types.SeqNum // sealed segment index -> highest seq it holds
	curMax      types.SeqNum

	inputCh  chan Record
	doneCh   chan AppendResult
	stopOnce sync.Once
}

// New opens the WAL directory, continuing segment numbering after whatever
// segments already exist. Existing segments are left untouched for replay.
func New(dir string, segMaxSize int64) (*Manager, error) {
	if dir == "" {
		return nil, fmt.Errorf("empty WAL dir")
	}
	dir = filepath.Clean(dir)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create WAL directory: %w", err)
	}
	if segMaxSize <= 0 {
		segMaxSize = DefaultSegmentSizeBytes
	}

	indexes, err := segmentIndexes(dir)
	if err != nil {
		return nil, err
	}
	next := uint64(1)
	if n := len(indexes); n > 0 {
		next = indexes[n-1] + 1
	}

	m := &Manager{
		dir:         dir,
		segIndex:    next,
		segMaxSize:  segMaxSize,
		sealedMaxes: make(map[uint64]types.SeqNum),
		inputCh:     make(chan Record, 3),
		doneCh:      make(chan AppendResult, 3),
	}
	if err := m.openSegment(next); err != nil {
		return nil, err
	}

	m.Listener = listener.New(m.inputCh, m.writeRecord, m.stop)

	return m, nil
}

// Append enqueues a record for the writer goroutine. The caller must wait on
// Done for the matching sequence number before treating the write as durable.
func (m *Manager) Append(rec Record) {
	m.inputCh <- rec
}

// Done delivers one AppendResult per appended record, in append order.
func (m *Manager) Done() <-chan AppendResult {
	return m.doneCh
}

// writeRecord runs on the listener goroutine.
func (m *Manager) writeRecord(rec Record) error {
	m.mu.Lock()
	err := m.writeLocked(rec)
	m.mu.Unlock()

	m.doneCh <- AppendResult{SeqNum: rec.SeqNum, Err: err}

	return nil
}

func (m *Manager) writeLocked(rec Record) error {
	if m.writer == nil {
		return fmt.Errorf("WAL writer is closed")
	}

	frame, err := encodeRecord(rec)
	if err != nil {
		return fmt.Errorf("failed to encode WAL record: %w", err)
	}
	if _, err := m.writer.Write(frame); err != nil {
		return fmt.Errorf("failed to write WAL record: %w", err)
	}
	if err := m.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush WAL: %w", err)
	}
	if err := m.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync WAL: %w", err)
	}

	m.segBytes += int64(len(frame))
	if rec.SeqNum > m.curMax {
		m.curMax = rec.SeqNum
	}

	if m.segBytes >= m.segMaxSize {
		if err := m.rotateLocked(); err != nil {
			return fmt.Errorf("failed to rotate WAL segment: %w", err)
		}
	}

	return nil
}

// Rotate seals the active segment and opens the next one. Used by the engine
// right before a checkpoint so the checkpoint covers only sealed segments.
func (m *Manager) Rotate() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rotateLocked()
}

func (m *Manager) rotateLocked() error {
	if m.segBytes == 0 {
		return nil // nothing written, reuse the open segment
	}
	if err := m.closeSegmentLocked(); err != nil {
		return err
	}
	m.sealedMaxes[m.segIndex] = m.curMax
	m.segIndex++
	m.curMax = 0
	return m.openSegment(m.segIndex)
}

// Replay streams every record of every segment, oldest segment first,
// records in append order. Segment max sequences are rebuilt along the way so
// later pruning works after a restart. Malformed data fails the replay.
func (m *Manager) Replay(callback func(Record) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.writer != nil {
		if err := m.writer.Flush(); err != nil {
			return fmt.Errorf("failed to flush WAL before replay: %w", err)
		}
	}

	indexes, err := segmentIndexes(m.dir)
	if err != nil {
		return err
	}

	for _, idx := range indexes {
		max, err := m.replaySegment(idx, callback)
		if err != nil {
			return err
		}
		if idx == m.segIndex {
			m.curMax = max
			continue
		}
		m.sealedMaxes[idx] = max
	}

	return nil
}

func (m *Manager) replaySegment(idx uint64, callback func(Record) error) (types.SeqNum, error) {
	path := m.segmentPath(idx)
	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open WAL segment for reading: %w", err)
	}
	defer func() {
		if cerr := file.Close(); cerr != nil {
			slog.Warn("failed to close WAL segment after replay", "segment", path, "error", cerr)
		}
	}()

	var max types.SeqNum
	reader := bufio.NewReader(file)
	for {
		rec, err := decodeRecord(reader)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return 0, fmt.Errorf("segment %s: %w", filepath.Base(path), err)
		}
		if rec.SeqNum > max {
			max = rec.SeqNum
		}
		if err := callback(rec); err != nil {
			return 0, fmt.Errorf("WAL replay callback failed: %w", err)
		}
	}

	return max, nil
}

// PruneTo deletes sealed segments whose every record has sequence <= seq.
// Called after a checkpoint has made those records durable elsewhere.
func (m *Manager) PruneTo(seq types.SeqNum) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for idx, max := range m.sealedMaxes {
		if idx == m.segIndex || max > seq {
			continue
		}
		if err := os.Remove(m.segmentPath(idx)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove obsolete WAL segment: %w", err)
		}
		delete(m.sealedMaxes, idx)
		slog.Debug("pruned WAL segment", "segment", idx, "max_seq", max)
	}

	return nil
}

func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeSegmentLocked()
}

func (m *Manager) openSegment(idx uint64) error {
	file, err := os.OpenFile(m.segmentPath(idx), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("failed to open WAL segment: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to stat WAL segment: %w", err)
	}

	m.file = file
	m.writer = bufio.NewWriter(file)
	m.segBytes = info.Size()

	return nil
}

func (m *Manager) closeSegmentLocked() error {
	if m.writer != nil {
		if err := m.writer.Flush(); err != nil {
			return fmt.Errorf("failed to flush WAL on close: %w", err)
		}
		m.writer = nil
	}
	if m.file != nil {
		if err := m.file.Sync(); err != nil {
			return fmt.Errorf("failed to sync WAL on close: %w", err)
		}
		if err := m.file.Close(); err != nil {
			return fmt.Errorf("failed to close WAL segment: %w", err)
		}
		m.file = nil
	}
	return nil
}

func (m *Manager) segmentPath(idx uint64) string {
	return filepath.Join(m.dir, fmt.Sprintf("%06d%s", idx, segmentSuffix))
}

func (m *Manager) stop() {
	m.stopOnce.Do(func() {
		close(m.inputCh)
		close(m.doneCh)
	})
}

func segmentIndexes(dir string) ([]uint64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list WAL directory: %w", err)
	}

	var indexes []uint64
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, segmentSuffix) {
			continue
		}
		idx, err := strconv.ParseUint(strings.TrimSuffix(name, segmentSuffix), 10, 64)
		if err != nil {
			continue // foreign file, not ours
		}
		indexes = append(indexes, idx)
	}
	sort.Slice(indexes, func(i, j int) bool { return indexes[i] < indexes[j] })

	return indexes, nil
}
