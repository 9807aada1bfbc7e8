// Package engine provides the core database engine implementation for the
// storage system: the thin orchestration layer between the public API
// (pkg/ignite) and the storage coordinator (internal/storage), which in
// turn owns the write-ahead log, the value log, and the learned index
// tree. The engine itself holds no storage-related state beyond the
// coordinator; its job is lifecycle management (open/close) and exposing
// compaction as an explicit, caller-invoked operation.
package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/omendb/omen-sub000/internal/compaction"
	"github.com/omendb/omen-sub000/internal/metrics"
	"github.com/omendb/omen-sub000/internal/storage"
	"github.com/omendb/omen-sub000/internal/leaf"
	"github.com/omendb/omen-sub000/pkg/options"
	"go.uber.org/zap"
)

var (
	// ErrEngineClosed is returned when attempting to perform operations on a closed engine.
	ErrEngineClosed = errors.New("operation failed: cannot access closed engine")
)

// Engine represents the main database engine that coordinates all subsystems.
// It acts as the primary interface for database operations and manages the lifecycle
// of all internal components. The engine is designed to be thread-safe and supports
// concurrent operations while maintaining data consistency.
type Engine struct {
	options    *options.Options       // options contains all configuration parameters for the engine and its subsystems.
	log        *zap.SugaredLogger     // log provides structured logging capabilities throughout the engine.
	closed     atomic.Bool            // closed is an atomic boolean that tracks the engine's lifecycle state.
	storage    *storage.Storage       // storage owns the WAL, value log, and learned index tree.
	compaction *compaction.Compaction // compaction rewrites the value log to reclaim deleted/overwritten space.
}

// Config holds all the parameters needed to initialize a new Engine instance.
type Config struct {
	Options *options.Options
	Logger  *zap.SugaredLogger
}

// New creates and initializes a new Engine instance with the provided
// configuration. Opening the storage coordinator performs recovery:
// rebuilding the index from the value log, replaying the WAL, and
// checkpointing.
func New(ctx context.Context, config *Config) (*Engine, error) {
	_ = ctx // no cancellation point during open; accepted for API symmetry with the rest of the stack.

	st, err := storage.New(&storage.Config{
		Logger:  config.Logger,
		Options: config.Options,
	})
	if err != nil {
		return nil, err
	}

	return &Engine{
		options:    config.Options,
		log:        config.Logger,
		storage:    st,
		compaction: compaction.New(config.Logger),
	}, nil
}

// outcome maps an operation's (error, found) result to the label recorded
// on the ops counter.
func outcome(err error, found bool) string {
	switch {
	case err != nil:
		return "error"
	case !found:
		return "not_found"
	default:
		return "ok"
	}
}

// Insert stores key=value, durable once this call returns successfully.
func (e *Engine) Insert(key int64, value []byte) error {
	if e.closed.Load() {
		return ErrEngineClosed
	}
	start := time.Now()
	err := e.storage.Insert(key, value)
	metrics.ObserveOp("insert", outcome(err, true), time.Since(start).Seconds())
	return err
}

// BulkInsert stores every (key, value) pair in one batch: each record is
// written to the WAL on its own (and fsynced on its own when SyncOnWrite is
// set), and a single value-log flush covers the whole group.
func (e *Engine) BulkInsert(pairs []leaf.Pair[[]byte]) error {
	if e.closed.Load() {
		return ErrEngineClosed
	}
	return e.storage.BulkInsert(pairs)
}

// Get returns the value for key, if present.
func (e *Engine) Get(key int64) ([]byte, bool, error) {
	if e.closed.Load() {
		return nil, false, ErrEngineClosed
	}
	start := time.Now()
	value, found, err := e.storage.Get(key)
	metrics.ObserveOp("get", outcome(err, found), time.Since(start).Seconds())
	return value, found, err
}

// Contains reports whether key is present.
func (e *Engine) Contains(key int64) bool {
	if e.closed.Load() {
		return false
	}
	return e.storage.Contains(key)
}

// Delete removes key, reporting whether it was present.
func (e *Engine) Delete(key int64) (bool, error) {
	if e.closed.Load() {
		return false, ErrEngineClosed
	}
	start := time.Now()
	existed, err := e.storage.Delete(key)
	metrics.ObserveOp("delete", outcome(err, existed), time.Since(start).Seconds())
	return existed, err
}

// Len returns the number of live entries in the store.
func (e *Engine) Len() (uint64, error) {
	if e.closed.Load() {
		return 0, ErrEngineClosed
	}
	return uint64(e.storage.Stats().Entries), nil
}

// Checkpoint forces a WAL checkpoint outside the automatic threshold.
func (e *Engine) Checkpoint() error {
	if e.closed.Load() {
		return ErrEngineClosed
	}
	return e.storage.Checkpoint()
}

// Compact rewrites the value log to drop space held by deleted or
// overwritten entries.
func (e *Engine) Compact() error {
	if e.closed.Load() {
		return ErrEngineClosed
	}
	return e.compaction.Rewrite(e.storage)
}

// Stats returns the storage coordinator's current bookkeeping snapshot.
func (e *Engine) Stats() storage.Stats {
	return e.storage.Stats()
}

// Close gracefully shuts down the engine and releases all associated resources.
// This method ensures that all pending operations complete and that data is
// properly persisted before the engine becomes unusable.
func (e *Engine) Close() error {
	// Use atomic compare-and-swap to transition from open (false) to closed (true).
	// This operation is atomic and thread-safe, ensuring only one goroutine
	// can successfully close the engine. The operation returns true if the
	// swap was successful (engine was open) or false if it failed (already closed).
	if !e.closed.CompareAndSwap(false, true) {
		return ErrEngineClosed
	}

	// Perform the actual shutdown by closing the storage subsystem.
	return e.storage.Close()
}
