// Package wal implements the write-ahead log that makes every mutation
// durable before it is acknowledged to the caller. Every insert and delete
// is appended here first; only once the append (and, if configured, an
// fsync) has completed does the coordinator touch the value log or the
// index. Replay walks the log from the start and is idempotent: applying
// the same record twice has the same effect as applying it once, so a
// crash between writing a record and checkpointing never loses or
// duplicates a mutation.
package wal

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"
	"sync"

	ignerrors "github.com/omendb/omen-sub000/pkg/errors"
)

// Record tags. INSERT and DELETE carry a key (and INSERT a value);
// CHECKPOINT carries neither and simply marks that the coordinator's state
// was durable as of this point in the log.
const (
	RecordInsert     byte = 0x01
	RecordDelete     byte = 0x02
	RecordCheckpoint byte = 0xFF
)

// Record is one decoded entry read back during Replay.
type Record struct {
	Type  byte
	Key   int64
	Value []byte
}

// WAL is an append-only, binary-tagged log of mutations.
type WAL struct {
	mu          sync.Mutex
	file        *os.File
	path        string
	syncOnWrite bool
	closed      bool
}

// Open opens or creates the WAL file at path. syncOnWrite controls whether
// every append additionally fsyncs; when false, writes still leave process
// memory (via os.File.Write) before Append returns, relying on the OS page
// cache for the remainder of the durability story.
func Open(path string, syncOnWrite bool) (*WAL, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, ignerrors.NewWALError(err, ignerrors.ErrorCodeIO, "open WAL").WithPath(path)
	}
	return &WAL{file: f, path: path, syncOnWrite: syncOnWrite}, nil
}

// AppendInsert durably appends an INSERT record for (key, value).
func (w *WAL) AppendInsert(key int64, value []byte) error {
	buf := make([]byte, 1+8+4+len(value))
	buf[0] = RecordInsert
	binary.LittleEndian.PutUint64(buf[1:9], uint64(key))
	binary.LittleEndian.PutUint32(buf[9:13], uint32(len(value)))
	copy(buf[13:], value)
	return w.appendAndFlush(buf)
}

// AppendDelete durably appends a DELETE record for key.
func (w *WAL) AppendDelete(key int64) error {
	buf := make([]byte, 1+8)
	buf[0] = RecordDelete
	binary.LittleEndian.PutUint64(buf[1:9], uint64(key))
	return w.appendAndFlush(buf)
}

func (w *WAL) appendAndFlush(buf []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ignerrors.NewWALError(nil, ignerrors.ErrorCodeIO, "WAL is closed").WithPath(w.path)
	}

	if _, err := w.file.Write(buf); err != nil {
		return ignerrors.NewWALError(err, ignerrors.ErrorCodeIO, "append WAL record").WithPath(w.path)
	}
	if w.syncOnWrite {
		if err := w.file.Sync(); err != nil {
			return ignerrors.NewWALError(err, ignerrors.ErrorCodeIO, "fsync WAL").WithPath(w.path)
		}
	}
	return nil
}

// Checkpoint writes a CHECKPOINT marker, flushes it, then truncates the WAL
// back to empty. Callers must have already made the value log and index
// durable up to this point; Checkpoint only discards the log entries that
// recorded mutations already reflected elsewhere.
func (w *WAL) Checkpoint() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ignerrors.NewWALError(nil, ignerrors.ErrorCodeIO, "WAL is closed").WithPath(w.path)
	}

	if _, err := w.file.Write([]byte{RecordCheckpoint}); err != nil {
		return ignerrors.NewWALError(err, ignerrors.ErrorCodeIO, "append checkpoint record").WithPath(w.path)
	}
	if err := w.file.Sync(); err != nil {
		return ignerrors.NewWALError(err, ignerrors.ErrorCodeIO, "fsync checkpoint record").WithPath(w.path)
	}

	if err := w.file.Truncate(0); err != nil {
		return ignerrors.NewWALError(err, ignerrors.ErrorCodeIO, "truncate WAL").WithPath(w.path)
	}
	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return ignerrors.NewWALError(err, ignerrors.ErrorCodeIO, "seek WAL after truncate").WithPath(w.path)
	}
	return nil
}

// Replay reads every record from the start of the log and calls handler for
// each, in order. A record that is cut short mid-write (a torn tail left by
// a crash between Write and the next append) is silently discarded and
// replay stops there, since nothing after it could have been acknowledged
// to a caller. An unrecognized tag byte is treated as real corruption, not
// a torn tail, and replay stops with an error.
func (w *WAL) Replay(handler func(Record) error) error {
	f, err := os.Open(w.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return ignerrors.NewWALError(err, ignerrors.ErrorCodeIO, "open WAL for replay").WithPath(w.path)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var offset int64

	for {
		tagBuf := [1]byte{}
		if _, err := io.ReadFull(r, tagBuf[:]); err != nil {
			return nil // clean end of log
		}

		switch tagBuf[0] {
		case RecordInsert:
			keyBuf := [8]byte{}
			if _, err := io.ReadFull(r, keyBuf[:]); err != nil {
				return nil
			}
			lenBuf := [4]byte{}
			if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
				return nil
			}
			valLen := binary.LittleEndian.Uint32(lenBuf[:])
			value := make([]byte, valLen)
			if _, err := io.ReadFull(r, value); err != nil {
				return nil
			}
			key := int64(binary.LittleEndian.Uint64(keyBuf[:]))
			if err := handler(Record{Type: RecordInsert, Key: key, Value: value}); err != nil {
				return err
			}
			offset += 1 + 8 + 4 + int64(valLen)

		case RecordDelete:
			keyBuf := [8]byte{}
			if _, err := io.ReadFull(r, keyBuf[:]); err != nil {
				return nil
			}
			key := int64(binary.LittleEndian.Uint64(keyBuf[:]))
			if err := handler(Record{Type: RecordDelete, Key: key}); err != nil {
				return err
			}
			offset += 1 + 8

		case RecordCheckpoint:
			if err := handler(Record{Type: RecordCheckpoint}); err != nil {
				return err
			}
			offset++

		default:
			return ignerrors.NewUnknownRecordTypeError(tagBuf[0], offset)
		}
	}
}

// Close closes the underlying file.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	return w.file.Close()
}
