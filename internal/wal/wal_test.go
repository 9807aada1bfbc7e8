package wal

import (
	"os"
	"path/filepath"
	"testing"
)

func open(t *testing.T, syncOnWrite bool) (*WAL, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "wal.log")
	w, err := Open(path, syncOnWrite)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { w.Close() })
	return w, path
}

func TestAppendAndReplayInOrder(t *testing.T) {
	w, _ := open(t, false)

	if err := w.AppendInsert(1, []byte("one")); err != nil {
		t.Fatalf("AppendInsert: %v", err)
	}
	if err := w.AppendInsert(2, []byte("two")); err != nil {
		t.Fatalf("AppendInsert: %v", err)
	}
	if err := w.AppendDelete(1); err != nil {
		t.Fatalf("AppendDelete: %v", err)
	}

	var records []Record
	err := w.Replay(func(r Record) error {
		records = append(records, r)
		return nil
	})
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}

	if len(records) != 3 {
		t.Fatalf("got %d records, want 3", len(records))
	}
	if records[0].Type != RecordInsert || records[0].Key != 1 || string(records[0].Value) != "one" {
		t.Fatalf("record 0 = %+v", records[0])
	}
	if records[1].Type != RecordInsert || records[1].Key != 2 || string(records[1].Value) != "two" {
		t.Fatalf("record 1 = %+v", records[1])
	}
	if records[2].Type != RecordDelete || records[2].Key != 1 {
		t.Fatalf("record 2 = %+v", records[2])
	}
}

func TestCheckpointTruncatesAndReplayIsEmptyAfter(t *testing.T) {
	w, path := open(t, false)

	w.AppendInsert(1, []byte("v"))
	if err := w.Checkpoint(); err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Size() != 0 {
		t.Fatalf("WAL size after checkpoint = %d, want 0", info.Size())
	}

	var count int
	w.Replay(func(Record) error { count++; return nil })
	if count != 0 {
		t.Fatalf("replay after checkpoint produced %d records, want 0", count)
	}
}

func TestReplayOnMissingFileIsEmpty(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(filepath.Join(dir, "wal.log"), false)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer w.Close()

	// Remove the file out from under the WAL to exercise the os.IsNotExist path.
	os.Remove(filepath.Join(dir, "wal.log"))

	var count int
	if err := w.Replay(func(Record) error { count++; return nil }); err != nil {
		t.Fatalf("Replay on missing file: %v", err)
	}
	if count != 0 {
		t.Fatalf("got %d records from a missing WAL file, want 0", count)
	}
}

func TestTornTailIsDiscardedNotErrored(t *testing.T) {
	w, path := open(t, false)
	w.AppendInsert(1, []byte("complete"))
	w.Close()

	// Reopen the raw file and append a torn record: a tag byte and a
	// partial key, simulating a crash mid-write.
	f, err := os.OpenFile(path, os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	f.Write([]byte{RecordInsert, 0x01, 0x02}) // tag + 2 of 8 key bytes
	f.Close()

	w2, err := Open(path, false)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer w2.Close()

	var records []Record
	if err := w2.Replay(func(r Record) error { records = append(records, r); return nil }); err != nil {
		t.Fatalf("Replay with torn tail: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1 (torn tail discarded)", len(records))
	}
	if records[0].Key != 1 {
		t.Fatalf("unexpected record %+v", records[0])
	}
}

func TestUnknownRecordTypeIsRealCorruption(t *testing.T) {
	w, path := open(t, false)
	w.AppendInsert(1, []byte("v"))
	w.Close()

	f, err := os.OpenFile(path, os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	f.Write([]byte{0x77}) // not INSERT, DELETE, or CHECKPOINT
	f.Close()

	w2, err := Open(path, false)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer w2.Close()

	err = w2.Replay(func(Record) error { return nil })
	if err == nil {
		t.Fatalf("Replay with an unknown record type byte should error")
	}
}

func TestAppendAfterCloseErrors(t *testing.T) {
	w, _ := open(t, false)
	w.Close()
	if err := w.AppendInsert(1, []byte("v")); err == nil {
		t.Fatalf("AppendInsert after Close should error")
	}
}
