package options

import "time"

const (
	// Specifies the default base directory where IgniteDB will store its data files.
	// If no other directory is specified during initialization, this path will be used.
	DefaultDataDir = "/var/lib/ignitedb"

	// Defines the default time duration between automatic compaction operations.
	// By default, compaction will run every 5 hours.
	DefaultCompactInterval = time.Hour * 5

	// DefaultCheckpointThreshold is the number of WAL entries written before
	// an automatic checkpoint truncates the log.
	DefaultCheckpointThreshold = 1000

	// DefaultChunkGrowBytes is the granularity by which the value log's
	// memory mapping grows when it falls behind the file size (16MiB).
	DefaultChunkGrowBytes uint64 = 16 * 1024 * 1024

	// DefaultLeafMaxDensity is the occupied/capacity ratio above which a
	// gapped leaf splits.
	DefaultLeafMaxDensity = 0.8

	// DefaultLeafExpansionFactor is the fraction of extra (gap) capacity
	// given to a freshly built leaf beyond its occupied key count.
	DefaultLeafExpansionFactor = 1.0

	// DefaultSyncOnWrite controls whether every WAL flush is additionally
	// fsynced. Off by default: OS-level flush is assumed sufficient for the
	// target workload, per the durability contract documented on
	// Options.SyncOnWrite.
	DefaultSyncOnWrite = false
)

// Holds the default configuration settings for an IgniteDB instance.
var defaultOptions = Options{
	DataDir:             DefaultDataDir,
	CompactInterval:     DefaultCompactInterval,
	CheckpointThreshold: DefaultCheckpointThreshold,
	ChunkGrowBytes:      DefaultChunkGrowBytes,
	LeafMaxDensity:      DefaultLeafMaxDensity,
	LeafExpansionFactor: DefaultLeafExpansionFactor,
	SyncOnWrite:         DefaultSyncOnWrite,
}

func NewDefaultOptions() Options {
	return defaultOptions
}
