// Package storage implements the coordinator that glues the three core
// subsystems together: the write-ahead log, the append-only mmap value
// log, and the in-memory learned index tree. It owns exactly one of each
// and is the only thing that ever mutates them.
//
// On a mutation, the coordinator logs to the WAL first, appends to the
// value log second, and only then updates the index, the order that
// makes a crash between any two steps recoverable by replaying the WAL
// against whatever the value log already reflects. On open, it rebuilds
// the index from the value log (the source of truth for "what is
// durable"), then replays any WAL records written after that data became
// durable, then checkpoints to start the next run with an empty log.
package storage

import (
	"math"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/omendb/omen-sub000/internal/metrics"
	"github.com/omendb/omen-sub000/internal/leaf"
	"github.com/omendb/omen-sub000/internal/tree"
	"github.com/omendb/omen-sub000/internal/valuelog"
	"github.com/omendb/omen-sub000/internal/wal"
	ignerrors "github.com/omendb/omen-sub000/pkg/errors"
	"github.com/omendb/omen-sub000/pkg/filesys"
	"github.com/omendb/omen-sub000/pkg/options"
	"go.uber.org/zap"
)

const (
	dataFileName = "data.bin"
	walFileName  = "wal.log"
)

// Stats is a point-in-time snapshot of the coordinator's bookkeeping,
// useful for the CLI's stats subcommand and for tests asserting recovery
// completed the way they expect.
type Stats struct {
	Entries                   int
	Leaves                    int
	DataFileBytes             int64
	WALEntriesSinceCheckpoint int
}

// Storage is the single-writer coordinator owning the value log, the WAL,
// and the learned index tree. Mutations must be serialized by the caller;
// Get is safe to call concurrently with other Gets.
type Storage struct {
	mu      sync.RWMutex
	closed  atomic.Bool
	log     *zap.SugaredLogger
	options *options.Options

	dataLog *valuelog.Log
	wal     *wal.WAL
	index   *tree.Tree[valuelog.Pointer]

	entriesSinceCheckpoint int
}

// Config carries everything needed to open a Storage.
type Config struct {
	Options *options.Options
	Logger  *zap.SugaredLogger
}

// New opens (creating if absent) the store at config.Options.DataDir:
// the value log is scanned to rebuild the index, then the WAL is replayed
// for anything written after the value log's last durable record, then a
// checkpoint clears the WAL so the next crash has less to replay.
func New(config *Config) (*Storage, error) {
	if config == nil || config.Options == nil || config.Logger == nil {
		return nil, ignerrors.NewValidationError(
			nil, ignerrors.ErrorCodeInvalidInput, "storage configuration is required",
		).WithField("config").WithRule("required").WithProvided(config)
	}

	if err := filesys.CreateDir(config.Options.DataDir, 0755, true); err != nil {
		return nil, ignerrors.NewStorageError(err, ignerrors.ErrorCodeIO, "create data directory").
			WithPath(config.Options.DataDir)
	}

	dataPath := filepath.Join(config.Options.DataDir, dataFileName)
	walPath := filepath.Join(config.Options.DataDir, walFileName)

	config.Logger.Infow("opening value log", "path", dataPath)
	dataLog, err := valuelog.Open(dataPath, config.Options.ChunkGrowBytes)
	if err != nil {
		return nil, err
	}

	s := &Storage{
		log:     config.Logger,
		options: config.Options,
		dataLog: dataLog,
	}

	config.Logger.Infow("rebuilding index from value log")
	pairs, err := s.scanDataLog()
	if err != nil {
		dataLog.Close()
		return nil, err
	}
	s.index = tree.BulkLoad(pairs, config.Options.LeafMaxDensity, config.Options.LeafExpansionFactor)
	metrics.LeavesTotal.Set(float64(s.index.NumLeaves()))

	config.Logger.Infow("opening write-ahead log", "path", walPath)
	w, err := wal.Open(walPath, config.Options.SyncOnWrite)
	if err != nil {
		dataLog.Close()
		return nil, err
	}
	s.wal = w

	config.Logger.Infow("replaying write-ahead log")
	if err := s.replayWAL(); err != nil {
		dataLog.Close()
		w.Close()
		return nil, err
	}

	if err := s.Checkpoint(); err != nil {
		dataLog.Close()
		w.Close()
		return nil, err
	}

	config.Logger.Infow("storage opened",
		"leaves", s.index.NumLeaves(), "dataFileBytes", s.dataLog.Tail())
	return s, nil
}

// scanDataLog walks data.bin from the start, folding every complete record
// into the live key set: an insert record sets the key's latest pointer, a
// tombstone removes it. It stops at the first incomplete trailing record
// rather than erroring: that tail is a torn write from a crash mid-append
// and is treated as never having happened, per the torn-tail rule.
func (s *Storage) scanDataLog() ([]leaf.Pair[valuelog.Pointer], error) {
	live := make(map[int64]valuelog.Pointer)
	var scanned int
	err := s.dataLog.Scan(func(rec valuelog.Record) bool {
		scanned++
		if rec.Tombstone {
			delete(live, rec.Key)
		} else {
			live[rec.Key] = rec.Pointer
		}
		return true
	})
	if err != nil {
		// A torn record at the tail is not corruption, it's ignored; any
		// other scan error means a record claimed a length that reaches
		// past a byte range the value log believes is fully written,
		// which Scan only returns for the tail (see valuelog.ReadRecord),
		// so it is always safe to stop here and keep what was read.
		s.log.Warnw("stopped value log scan at torn tail", "recordsScanned", scanned)
	}

	pairs := make([]leaf.Pair[valuelog.Pointer], 0, len(live))
	for key, ptr := range live {
		pairs = append(pairs, leaf.Pair[valuelog.Pointer]{Key: key, Value: ptr})
	}
	return pairs, nil
}

// replayWAL applies every record written to the WAL, in order, skipping
// any INSERT whose key the rebuilt index already reflects at a position
// predating this replay (idempotency: the value log is the source of truth
// for what is durable, so such a record was already applied before the
// last crash). An INSERT for a key whose index entry was written by this
// same replay is applied as an overwrite: it is a later event for that
// key, not a duplicate. A CHECKPOINT record only resets the count of
// entries since the last checkpoint; replaying
// starts from the beginning of whatever wal.log currently contains, which
// is already just the post-last-checkpoint tail because Checkpoint
// truncates.
func (s *Storage) replayWAL() error {
	replayStart := s.dataLog.Tail()
	return s.wal.Replay(func(rec wal.Record) error {
		switch rec.Type {
		case wal.RecordInsert:
			if ptr, ok := s.index.Get(rec.Key); ok && ptr.Offset < replayStart {
				return nil
			}
			ptr, err := s.dataLog.Append(rec.Key, rec.Value)
			if err != nil {
				return err
			}
			s.index.Insert(rec.Key, ptr)
			s.entriesSinceCheckpoint++
		case wal.RecordDelete:
			if s.index.Delete(rec.Key) {
				// The delete never reached the value log before the crash;
				// write the tombstone now so the next rebuild agrees.
				if err := s.dataLog.AppendTombstone(rec.Key); err != nil {
					return err
				}
			}
			s.entriesSinceCheckpoint++
		case wal.RecordCheckpoint:
			s.entriesSinceCheckpoint = 0
		}
		return nil
	})
}

// checkValueSize rejects values too long to encode in a record's u32
// length header, before anything about the operation reaches the WAL.
func checkValueSize(value []byte) error {
	if uint64(len(value)) >= math.MaxUint32 {
		return ignerrors.NewStorageError(nil, ignerrors.ErrorCodeCapacity, "value exceeds maximum record length").
			WithDetail("valueLen", len(value))
	}
	return nil
}

// Insert durably records key=value: WAL first, then the value log, then
// the index. A crash after the WAL write but before this call returns is
// recoverable by replay on the next open.
func (s *Storage) Insert(key int64, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Load() {
		return ignerrors.NewStorageError(nil, ignerrors.ErrorCodeIO, "storage is closed")
	}
	if err := checkValueSize(value); err != nil {
		return err
	}

	if err := s.wal.AppendInsert(key, value); err != nil {
		return err
	}

	ptr, err := s.dataLog.Append(key, value)
	if err != nil {
		return err
	}
	if err := s.dataLog.Sync(s.options.SyncOnWrite); err != nil {
		return err
	}

	leavesBefore := s.index.NumLeaves()
	s.index.Insert(key, ptr)
	s.observeIndexShape(leavesBefore)

	return s.maybeCheckpointLocked(1)
}

// BulkInsert inserts every (key, value) pair as one batch: each record is
// logged to the WAL, all are appended to the value log with a single flush
// at the end, and the whole batch goes through the index's sorted-group
// insert so each leaf is visited once per run of keys it owns and only the
// leaves that actually overflow get split.
func (s *Storage) BulkInsert(pairs []leaf.Pair[[]byte]) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Load() {
		return ignerrors.NewStorageError(nil, ignerrors.ErrorCodeIO, "storage is closed")
	}
	for _, p := range pairs {
		if err := checkValueSize(p.Value); err != nil {
			return err
		}
	}

	for _, p := range pairs {
		if err := s.wal.AppendInsert(p.Key, p.Value); err != nil {
			return err
		}
	}

	ptrPairs := make([]leaf.Pair[valuelog.Pointer], 0, len(pairs))
	for _, p := range pairs {
		ptr, err := s.dataLog.Append(p.Key, p.Value)
		if err != nil {
			return err
		}
		ptrPairs = append(ptrPairs, leaf.Pair[valuelog.Pointer]{Key: p.Key, Value: ptr})
	}
	if err := s.dataLog.Sync(s.options.SyncOnWrite); err != nil {
		return err
	}

	leavesBefore := s.index.NumLeaves()
	s.index.BulkInsert(ptrPairs)
	s.observeIndexShape(leavesBefore)

	return s.maybeCheckpointLocked(len(pairs))
}

// Delete removes key, returning whether it was present: a DELETE record
// goes to the WAL first, then a tombstone to the value log, then the index
// entry is dropped. The tombstone is what keeps the delete effective across
// a reopen after the WAL record has been discarded by a checkpoint; the
// dead value bytes themselves are reclaimed only by Compact.
func (s *Storage) Delete(key int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Load() {
		return false, ignerrors.NewStorageError(nil, ignerrors.ErrorCodeIO, "storage is closed")
	}

	if err := s.wal.AppendDelete(key); err != nil {
		return false, err
	}

	_, existed := s.index.Get(key)
	if existed {
		if err := s.dataLog.AppendTombstone(key); err != nil {
			return false, err
		}
		if err := s.dataLog.Sync(s.options.SyncOnWrite); err != nil {
			return false, err
		}
		s.index.Delete(key)
	}

	return existed, s.maybeCheckpointLocked(1)
}

// Get returns an owned copy of the value stored for key, or false if
// absent. Returning owned bytes rather than a slice aliasing the mmap
// means a Get result stays valid even across a later Insert that grows
// and remaps the value log.
func (s *Storage) Get(key int64) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed.Load() {
		return nil, false, ignerrors.NewStorageError(nil, ignerrors.ErrorCodeIO, "storage is closed")
	}

	ptr, ok := s.index.Get(key)
	if !ok {
		return nil, false, nil
	}

	value, err := s.dataLog.Read(ptr)
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// Contains reports whether key is present without reading its value.
func (s *Storage) Contains(key int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.index.Get(key)
	return ok
}

// observeIndexShape refreshes the index gauges after a mutation and counts
// any splits the mutation caused as the growth in leaf count. Callers must
// hold s.mu and capture NumLeaves before mutating.
func (s *Storage) observeIndexShape(leavesBefore int) {
	after := s.index.NumLeaves()
	if after > leavesBefore {
		metrics.SplitsTotal.Add(float64(after - leavesBefore))
	}
	metrics.LeavesTotal.Set(float64(after))
	metrics.ValueLogBytes.Set(float64(s.dataLog.Tail()))
}

// maybeCheckpointLocked records n newly written WAL entries and checkpoints
// if the count since the last checkpoint has crossed the configured
// threshold. Callers must hold s.mu.
func (s *Storage) maybeCheckpointLocked(n int) error {
	s.entriesSinceCheckpoint += n
	metrics.WALEntriesSinceCheckpoint.Set(float64(s.entriesSinceCheckpoint))
	if s.entriesSinceCheckpoint < s.options.CheckpointThreshold {
		return nil
	}
	return s.checkpointLocked()
}

// Checkpoint forces a WAL checkpoint regardless of the entry count,
// useful after a bulk load or before a clean shutdown.
func (s *Storage) Checkpoint() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkpointLocked()
}

func (s *Storage) checkpointLocked() error {
	if err := s.dataLog.PersistTail(); err != nil {
		return err
	}
	if err := s.wal.Checkpoint(); err != nil {
		return err
	}
	s.entriesSinceCheckpoint = 0
	metrics.WALEntriesSinceCheckpoint.Set(0)
	metrics.CheckpointsTotal.Inc()
	return nil
}

// All iterates every occupied (key, pointer) pair in the index, in key
// order. Used by compaction to rewrite the value log.
func (s *Storage) All(yield func(key int64, ptr valuelog.Pointer) bool) {
	s.index.All(yield)
}

// ReadAt reads the raw bytes at ptr, used by compaction when copying
// surviving records into a fresh value log.
func (s *Storage) ReadAt(ptr valuelog.Pointer) ([]byte, error) {
	return s.dataLog.Read(ptr)
}

// Reindex replaces the coordinator's data log and index wholesale,
// called once by compaction after it has written a fresh value log
// containing only live entries and renamed it into place. The old log is
// discarded rather than closed: its file no longer exists under its path,
// and persisting its stale tail would clobber the replacement's sidecar.
func (s *Storage) Reindex(dataLog *valuelog.Log, index *tree.Tree[valuelog.Pointer]) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.dataLog
	s.dataLog = dataLog
	s.index = index
	metrics.LeavesTotal.Set(float64(s.index.NumLeaves()))
	metrics.ValueLogBytes.Set(float64(s.dataLog.Tail()))
	metrics.CompactionsTotal.Inc()

	return old.Discard()
}

// Stats returns a snapshot of the coordinator's current bookkeeping.
func (s *Storage) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := 0
	s.index.All(func(int64, valuelog.Pointer) bool { entries++; return true })
	return Stats{
		Entries:                   entries,
		Leaves:                    s.index.NumLeaves(),
		DataFileBytes:             s.dataLog.Tail(),
		WALEntriesSinceCheckpoint: s.entriesSinceCheckpoint,
	}
}

// DataPath returns the absolute path to the value log file, used by
// compaction to find its sibling.
func (s *Storage) DataPath() string {
	return filepath.Join(s.options.DataDir, dataFileName)
}

// Options returns the configuration this storage was opened with.
func (s *Storage) Options() *options.Options { return s.options }

// Logger returns the logger this storage was opened with.
func (s *Storage) Logger() *zap.SugaredLogger { return s.log }

// Close flushes the WAL and value log and releases their file handles.
// No final checkpoint is required: an unclean shutdown is recoverable by
// replay on the next open.
func (s *Storage) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return ignerrors.NewStorageError(nil, ignerrors.ErrorCodeIO, "storage already closed")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tailErr := s.dataLog.PersistTail()
	walErr := s.wal.Close()
	dataErr := s.dataLog.Close()
	if tailErr != nil {
		return tailErr
	}
	if walErr != nil {
		return walErr
	}
	return dataErr
}
