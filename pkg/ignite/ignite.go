// Package ignite provides the public API of the learned-index embedded
// key/value store: an append-only storage engine whose primary index is a
// dynamic, piecewise-linear learned model rather than a B-tree or a hash
// table. It targets point lookups on monotonically growing or clustered
// integer keys (time-series identifiers, monotonic IDs, sorted hashes)
// where its learned index can beat a tuned B-tree by a wide margin on
// reads while staying competitive on bulk writes.
//
// Instance is the primary entry point for interacting with the store,
// wrapping internal/engine and internal/storage behind a stable API that
// front ends (a SQL/wire protocol layer, an OLAP tier, a per-row cache)
// consume without depending on the storage engine's internals directly.
package ignite

import (
	"context"

	"github.com/omendb/omen-sub000/internal/engine"
	"github.com/omendb/omen-sub000/internal/storage"
	"github.com/omendb/omen-sub000/internal/leaf"
	"github.com/omendb/omen-sub000/pkg/logger"
	"github.com/omendb/omen-sub000/pkg/options"
)

// Pair is a (key, value) observation for BulkInsert.
type Pair = leaf.Pair[[]byte]

// Instance represents an instance of the store.
// It encapsulates the core engine responsible for data handling and
// the configuration options for this specific database instance.
type Instance struct {
	engine  *engine.Engine   // The underlying database engine handling read/write operations.
	options *options.Options // Configuration options applied to this DB instance.
}

// Open creates and initializes a store instance rooted at the directory
// named by options.WithDataDir (or the default data directory if not
// overridden). Recovery runs synchronously inside Open: the index is
// rebuilt from the value log, the write-ahead log is replayed, and a
// checkpoint clears it before Open returns.
func Open(ctx context.Context, service string, opts ...options.OptionFunc) (*Instance, error) {
	log := logger.New(service)

	defaultOpts := options.NewDefaultOptions()
	for _, opt := range opts {
		opt(&defaultOpts)
	}

	eng, err := engine.New(ctx, &engine.Config{Logger: log, Options: &defaultOpts})
	if err != nil {
		return nil, err
	}

	return &Instance{engine: eng, options: &defaultOpts}, nil
}

// NewInstance is a deprecated alias for Open retained for call sites
// written against the earlier Bitcask-style constructor name.
func NewInstance(ctx context.Context, service string, opts ...options.OptionFunc) (*Instance, error) {
	return Open(ctx, service, opts...)
}

// Insert stores key=value in the database. If key already exists, its
// value is overwritten in place (last-writer-wins). The operation is
// durable, written to the write-ahead log and flushed, before this call
// returns successfully.
func (i *Instance) Insert(ctx context.Context, key int64, value []byte) error {
	return i.engine.Insert(key, value)
}

// BulkInsert stores every (key, value) pair in pairs as a single batch:
// each record is written to the WAL on its own (and fsynced on its own when
// SyncOnWrite is set), one value-log flush covers the whole group, and the
// index groups the sorted batch by target leaf instead of retraining
// per record.
func (i *Instance) BulkInsert(ctx context.Context, pairs []Pair) error {
	return i.engine.BulkInsert(pairs)
}

// Get retrieves the value associated with key, if present. The returned
// slice is an owned copy; it remains valid across subsequent mutations.
func (i *Instance) Get(ctx context.Context, key int64) ([]byte, bool, error) {
	return i.engine.Get(key)
}

// Contains reports whether key is present, without reading its value.
func (i *Instance) Contains(ctx context.Context, key int64) bool {
	return i.engine.Contains(key)
}

// Delete removes key from the database, returning whether it previously
// existed. A DELETE record goes to the write-ahead log first, then a
// tombstone record to the value log, so the deletion stays effective
// across reopens even after a checkpoint discards the WAL record. The
// dead value bytes are reclaimed only by a later Compact.
func (i *Instance) Delete(ctx context.Context, key int64) (bool, error) {
	return i.engine.Delete(key)
}

// Len returns the number of live key/value entries in the store.
func (i *Instance) Len(ctx context.Context) (uint64, error) {
	return i.engine.Len()
}

// Checkpoint forces a write-ahead log checkpoint outside the automatic
// threshold configured by options.WithCheckpointThreshold.
func (i *Instance) Checkpoint(ctx context.Context) error {
	return i.engine.Checkpoint()
}

// Compact rewrites the value log, dropping space held by keys that have
// since been deleted or overwritten.
func (i *Instance) Compact(ctx context.Context) error {
	return i.engine.Compact()
}

// Stats returns a snapshot of the storage coordinator's bookkeeping:
// live entry count, leaf count, value-log size, and WAL entries pending
// checkpoint.
func (i *Instance) Stats(ctx context.Context) storage.Stats {
	return i.engine.Stats()
}

// Close gracefully shuts down the instance, flushing the write-ahead log
// and the value log and releasing their file handles. An unclean process
// exit without calling Close is still recoverable: the next Open replays
// whatever the write-ahead log holds.
func (i *Instance) Close(ctx context.Context) error {
	return i.engine.Close()
}
