// Package options provides data structures and functions for configuring
// the store. It defines various parameters that control storage behavior,
// performance, and maintenance operations, such as directory paths, leaf
// sizing, checkpointing, and compaction intervals.
package options

import (
	"strings"
	"time"
)

// Defines the configuration parameters for Ignite DB.
// It provides control over storage, performance and maintenance aspects.
type Options struct {
	// Specifies the base path where files will be stored.
	//
	// Default: "/var/lib/ignitedb"
	DataDir string `json:"dataDir"`

	// Defines how often an external scheduler should run compaction to
	// reclaim space held by deleted or overwritten values. The core never
	// schedules compaction itself; this is advisory for callers that do.
	//
	// Default: 5h
	CompactInterval time.Duration `json:"compactInterval"`

	// CheckpointThreshold is the number of WAL entries written since the
	// last checkpoint that triggers an automatic checkpoint (WAL truncation).
	//
	// Default: 1000
	CheckpointThreshold int `json:"checkpointThreshold"`

	// ChunkGrowBytes controls how much the value log's memory mapping grows
	// by each time it needs to cover more of the file. Larger values
	// amortize remap cost across more writes at the expense of mapping
	// memory that outpaces actual file size temporarily.
	//
	// Default: 16MiB
	ChunkGrowBytes uint64 `json:"chunkGrowBytes"`

	// LeafMaxDensity is the occupied/capacity ratio above which a gapped
	// leaf splits. Must be in (0.5, 0.9].
	//
	// Default: 0.8
	LeafMaxDensity float64 `json:"leafMaxDensity"`

	// LeafExpansionFactor controls how much extra capacity a freshly built
	// leaf is given beyond its occupied key count, as a fraction of gaps.
	// Must be >= 0.
	//
	// Default: 1.0
	LeafExpansionFactor float64 `json:"leafExpansionFactor"`

	// SyncOnWrite, when true, fsyncs the WAL after every flush instead of
	// relying on the OS page cache alone. This protects against power loss
	// at the cost of write latency.
	//
	// Default: false
	SyncOnWrite bool `json:"syncOnWrite"`
}

// OptionFunc is a function type that modifies the Ignite system's configuration.
type OptionFunc func(*Options)

// Applies a predefined set of default configuration values to the Options struct.
func WithDefaultOptions() OptionFunc {
	return func(o *Options) {
		opts := NewDefaultOptions()
		o.DataDir = opts.DataDir
		o.CompactInterval = opts.CompactInterval
		o.CheckpointThreshold = opts.CheckpointThreshold
		o.ChunkGrowBytes = opts.ChunkGrowBytes
		o.LeafMaxDensity = opts.LeafMaxDensity
		o.LeafExpansionFactor = opts.LeafExpansionFactor
		o.SyncOnWrite = opts.SyncOnWrite
	}
}

// Sets the primary data directory for Ignite.
func WithDataDir(directory string) OptionFunc {
	return func(o *Options) {
		directory = strings.TrimSpace(directory)
		if directory != "" {
			o.DataDir = directory
		}
	}
}

// Sets the advisory compaction interval; Ignite does not schedule
// compaction itself. Intervals not longer than DefaultCompactInterval are
// ignored.
func WithCompactInterval(interval time.Duration) OptionFunc {
	return func(o *Options) {
		if interval > DefaultCompactInterval {
			o.CompactInterval = interval
		}
	}
}

// Sets the number of WAL entries between automatic checkpoints.
func WithCheckpointThreshold(threshold int) OptionFunc {
	return func(o *Options) {
		if threshold > 0 {
			o.CheckpointThreshold = threshold
		}
	}
}

// Sets the growth granularity of the value log's memory mapping.
func WithChunkGrowBytes(bytes uint64) OptionFunc {
	return func(o *Options) {
		if bytes > 0 {
			o.ChunkGrowBytes = bytes
		}
	}
}

// Sets the density threshold above which a gapped leaf splits.
// Values outside (0.5, 0.9] are ignored, keeping the previous value.
func WithLeafMaxDensity(density float64) OptionFunc {
	return func(o *Options) {
		if density > 0.5 && density <= 0.9 {
			o.LeafMaxDensity = density
		}
	}
}

// Sets the fraction of extra capacity given to freshly built leaves.
func WithLeafExpansionFactor(factor float64) OptionFunc {
	return func(o *Options) {
		if factor >= 0 {
			o.LeafExpansionFactor = factor
		}
	}
}

// Enables fsync after every WAL flush for crash safety against power loss.
func WithSyncOnWrite(sync bool) OptionFunc {
	return func(o *Options) {
		o.SyncOnWrite = sync
	}
}
