// Package valuelog implements the append-only, memory-mapped value log: the
// single file holding every record's key and value bytes. The index never
// stores value bytes itself, only a Pointer into this log, keeping leaves
// small and cache-friendly.
//
// Record format, little-endian:
//
//	value_len uint32
//	key       int64
//	value     [value_len]byte
//
// The mapped region is grown in fixed-size chunks rather than remapped on
// every write, so most appends touch already-mapped memory.
package valuelog

import (
	"encoding/binary"
	"math"
	"os"

	"golang.org/x/sys/unix"

	ignerrors "github.com/omendb/omen-sub000/pkg/errors"
	"github.com/omendb/omen-sub000/pkg/filesys"
)

const recordHeaderSize = 4 + 8 // value_len + key

// tombstoneLen is the value_len sentinel marking a deletion record: the key
// is dead and carries no value bytes. Real values are capped one below it,
// so the sentinel can never collide with a legitimate length.
const tombstoneLen = math.MaxUint32

// Pointer locates a record written to the log: Offset is the byte offset of
// the record's header (not the value), Length is the value payload length.
type Pointer struct {
	Offset int64
	Length uint32
}

// Record is a fully materialized (key, value, location) entry, returned
// while scanning the log during recovery or compaction. Tombstone records
// mark a deleted key and carry no value.
type Record struct {
	Key       int64
	Value     []byte
	Tombstone bool
	Pointer   Pointer
}

// Log is an append-only value store backed by a memory-mapped file. Log has
// no locking of its own: the caller must serialize writers against each
// other and against readers, because an Append that outgrows the mapping
// unmaps and remaps the region that Read copies from.
//
// The file on disk is grown ahead of the logical tail in chunkGrow-sized
// steps (the deferred-remap amortization), so its raw size is not a
// reliable tail on reopen: the bytes between the last record and the next
// chunk boundary are zero padding that would otherwise be indistinguishable
// from a legitimate zero-length record. The true tail is instead persisted
// to a small sidecar file next to path, written on every PersistTail (the
// coordinator calls it at each checkpoint) and on Close. Absent a sidecar
// (a file from before this log was ever checkpointed), Open conservatively
// starts the tail at zero; anything durable that predates the first
// checkpoint is still recoverable because the WAL is written before the
// value log on every insert.
type Log struct {
	file      *os.File
	data      []byte
	fileSize  int64 // bytes actually backing the file on disk
	tail      int64 // offset of the next record to be written
	chunkGrow uint64
	path      string
	tailPath  string
	closed    bool
}

// Open opens or creates the value log at path, mapping it into memory.
// chunkGrowBytes controls the granularity of future remaps; it must be > 0.
func Open(path string, chunkGrowBytes uint64) (*Log, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, ignerrors.NewStorageError(err, ignerrors.ErrorCodeIO, "open value log").WithPath(path)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, ignerrors.NewStorageError(err, ignerrors.ErrorCodeIO, "stat value log").WithPath(path)
	}

	tailPath := path + ".tail"
	tail, err := readPersistedTail(tailPath)
	if err != nil {
		f.Close()
		return nil, err
	}
	if tail > info.Size() {
		tail = info.Size()
	}

	l := &Log{
		file:      f,
		chunkGrow: chunkGrowBytes,
		path:      path,
		tailPath:  tailPath,
		tail:      tail,
	}

	initialSize := info.Size()
	if initialSize == 0 {
		initialSize = int64(chunkGrowBytes)
	} else if rem := initialSize % int64(chunkGrowBytes); rem != 0 {
		initialSize += int64(chunkGrowBytes) - rem
	}

	if err := f.Truncate(initialSize); err != nil {
		f.Close()
		return nil, ignerrors.NewStorageError(err, ignerrors.ErrorCodeIO, "truncate value log").WithPath(path)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(initialSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, ignerrors.NewStorageError(err, ignerrors.ErrorCodeIO, "mmap value log").WithPath(path)
	}

	l.data = data
	l.fileSize = initialSize
	return l, nil
}

// readPersistedTail reads the last tail PersistTail recorded, or 0 if the
// sidecar does not exist yet.
func readPersistedTail(tailPath string) (int64, error) {
	buf, err := os.ReadFile(tailPath)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, ignerrors.NewStorageError(err, ignerrors.ErrorCodeIO, "read value log tail sidecar").WithPath(tailPath)
	}
	if len(buf) != 8 {
		return 0, nil
	}
	return int64(binary.LittleEndian.Uint64(buf)), nil
}

// PersistTail durably records the current tail so the next Open can trust
// it instead of scanning past undefined padding. Callers should call this
// after a point the tail is known consistent with the index and WAL state
// (a checkpoint, or a clean shutdown).
func (l *Log) PersistTail() error {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, uint64(l.tail))
	tmp := l.tailPath + ".tmp"
	if err := os.WriteFile(tmp, buf, 0644); err != nil {
		return ignerrors.NewStorageError(err, ignerrors.ErrorCodeIO, "write value log tail sidecar").WithPath(tmp)
	}
	if err := filesys.Rename(tmp, l.tailPath); err != nil {
		return ignerrors.NewStorageError(err, ignerrors.ErrorCodeIO, "install value log tail sidecar").WithPath(l.tailPath)
	}
	return nil
}

// Tail returns the offset one past the last fully written record. Anything
// from Tail onward is either unwritten or a torn write from a crash.
func (l *Log) Tail() int64 { return l.tail }

// Append writes (key, value) to the end of the log and returns a Pointer to
// it. The caller is responsible for calling Sync (directly or via the WAL's
// flush contract) before treating the write as durable. A value as long as
// the tombstone sentinel is refused.
func (l *Log) Append(key int64, value []byte) (Pointer, error) {
	if uint64(len(value)) >= tombstoneLen {
		return Pointer{}, ignerrors.NewStorageError(nil, ignerrors.ErrorCodeCapacity, "value exceeds maximum record length").
			WithDetail("valueLen", len(value))
	}

	needed := int64(recordHeaderSize + len(value))
	if err := l.ensureCapacity(l.tail + needed); err != nil {
		return Pointer{}, err
	}

	offset := l.tail
	binary.LittleEndian.PutUint32(l.data[offset:], uint32(len(value)))
	binary.LittleEndian.PutUint64(l.data[offset+4:], uint64(key))
	copy(l.data[offset+recordHeaderSize:], value)

	l.tail = offset + needed
	return Pointer{Offset: offset, Length: uint32(len(value))}, nil
}

// AppendTombstone writes a deletion marker for key. Tombstones keep deletes
// visible to the index rebuild on the next open even after the WAL's DELETE
// record has been discarded by a checkpoint; without them a checkpoint
// would resurrect the deleted key from its older insert records.
func (l *Log) AppendTombstone(key int64) error {
	if err := l.ensureCapacity(l.tail + recordHeaderSize); err != nil {
		return err
	}

	offset := l.tail
	binary.LittleEndian.PutUint32(l.data[offset:], tombstoneLen)
	binary.LittleEndian.PutUint64(l.data[offset+4:], uint64(key))

	l.tail = offset + recordHeaderSize
	return nil
}

// Read returns a copy of the value at ptr. Owned copies (rather than slices
// aliasing the mapped region) are returned deliberately: callers may hold
// onto the bytes across a later Append that grows and remaps the file,
// which would otherwise invalidate any alias into the old mapping.
func (l *Log) Read(ptr Pointer) ([]byte, error) {
	end := ptr.Offset + recordHeaderSize + int64(ptr.Length)
	if ptr.Offset < 0 || end > l.tail {
		return nil, ignerrors.NewStorageError(nil, ignerrors.ErrorCodeInvalidated, "pointer out of range").
			WithDetail("offset", ptr.Offset)
	}

	out := make([]byte, ptr.Length)
	copy(out, l.data[ptr.Offset+recordHeaderSize:end])
	return out, nil
}

// ReadRecord reads the full record (key and value) whose header starts at
// offset, returning the record and the offset immediately following it.
// Used while scanning the log sequentially during recovery or compaction.
func (l *Log) ReadRecord(offset int64) (Record, int64, error) {
	if offset+recordHeaderSize > l.tail {
		return Record{}, 0, ignerrors.NewStorageError(nil, ignerrors.ErrorCodeLogCorrupted, "torn record header").
			WithDetail("offset", offset)
	}

	valueLen := binary.LittleEndian.Uint32(l.data[offset:])
	key := int64(binary.LittleEndian.Uint64(l.data[offset+4:]))

	if valueLen == tombstoneLen {
		return Record{
			Key:       key,
			Tombstone: true,
			Pointer:   Pointer{Offset: offset},
		}, offset + recordHeaderSize, nil
	}

	end := offset + recordHeaderSize + int64(valueLen)
	if end > l.tail {
		return Record{}, 0, ignerrors.NewStorageError(nil, ignerrors.ErrorCodeLogCorrupted, "torn record value").
			WithDetail("offset", offset)
	}

	value := make([]byte, valueLen)
	copy(value, l.data[offset+recordHeaderSize:end])

	return Record{
		Key:     key,
		Value:   value,
		Pointer: Pointer{Offset: offset, Length: valueLen},
	}, end, nil
}

// Scan walks every record in the log from the beginning, calling yield for
// each. Scanning stops early if yield returns false.
func (l *Log) Scan(yield func(Record) bool) error {
	offset := int64(0)
	for offset < l.tail {
		rec, next, err := l.ReadRecord(offset)
		if err != nil {
			return err
		}
		if !yield(rec) {
			return nil
		}
		offset = next
	}
	return nil
}

// Sync flushes the mapped region to disk. sync chooses between an
// asynchronous flush (return immediately, OS completes it) and a
// synchronous one (block until durable).
func (l *Log) Sync(sync bool) error {
	flag := unix.MS_ASYNC
	if sync {
		flag = unix.MS_SYNC
	}
	if err := unix.Msync(l.data, flag); err != nil {
		return ignerrors.NewStorageError(err, ignerrors.ErrorCodeIO, "msync value log").WithPath(l.path)
	}
	return nil
}

// ensureCapacity grows the file and remaps it in chunkGrow-sized steps
// until it covers at least `upto` bytes.
func (l *Log) ensureCapacity(upto int64) error {
	if upto <= l.fileSize {
		return nil
	}

	newSize := l.fileSize
	for newSize < upto {
		newSize += int64(l.chunkGrow)
	}

	if err := unix.Munmap(l.data); err != nil {
		return ignerrors.NewStorageError(err, ignerrors.ErrorCodeIO, "munmap value log").WithPath(l.path)
	}

	if err := l.file.Truncate(newSize); err != nil {
		return ignerrors.NewStorageError(err, ignerrors.ErrorCodeIO, "truncate value log").WithPath(l.path)
	}

	data, err := unix.Mmap(int(l.file.Fd()), 0, int(newSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return ignerrors.NewStorageError(err, ignerrors.ErrorCodeIO, "mmap value log").WithPath(l.path)
	}

	l.data = data
	l.fileSize = newSize
	return nil
}

// Discard unmaps and closes the underlying file without syncing or
// persisting the tail. Used when the log has been replaced on disk (a
// compaction rename) and writing its stale tail over the replacement's
// sidecar would corrupt the next open.
func (l *Log) Discard() error {
	if l.closed {
		return nil
	}
	l.closed = true

	if err := unix.Munmap(l.data); err != nil {
		l.file.Close()
		return ignerrors.NewStorageError(err, ignerrors.ErrorCodeIO, "munmap discarded value log").WithPath(l.path)
	}
	l.data = nil
	return l.file.Close()
}

// Close persists the tail, unmaps, and closes the underlying file, syncing
// first. A process that exits without Close leaves the tail sidecar stale;
// the WAL covers whatever was written after it.
func (l *Log) Close() error {
	if l.closed {
		return nil
	}
	l.closed = true

	if err := l.PersistTail(); err != nil {
		return err
	}
	if err := unix.Msync(l.data, unix.MS_SYNC); err != nil {
		return ignerrors.NewStorageError(err, ignerrors.ErrorCodeIO, "final msync value log").WithPath(l.path)
	}
	if err := unix.Munmap(l.data); err != nil {
		return ignerrors.NewStorageError(err, ignerrors.ErrorCodeIO, "munmap value log").WithPath(l.path)
	}
	l.data = nil
	return l.file.Close()
}
