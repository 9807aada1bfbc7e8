package compaction

import (
	"fmt"
	"testing"

	"github.com/omendb/omen-sub000/internal/storage"
	"github.com/omendb/omen-sub000/pkg/logger"
	"github.com/omendb/omen-sub000/pkg/options"
)

func openStore(t *testing.T, dir string) *storage.Storage {
	t.Helper()
	opts := options.NewDefaultOptions()
	opts.DataDir = dir
	s, err := storage.New(&storage.Config{Options: &opts, Logger: logger.Nop()})
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	return s
}

func TestRewriteDropsDeadRecordsAndSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	s := openStore(t, dir)

	const n = 200
	for i := int64(0); i < n; i++ {
		if err := s.Insert(i, []byte(fmt.Sprintf("value-%d", i))); err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
	}
	// Overwrites and deletes both leave dead bytes behind in the value log.
	for i := int64(0); i < n; i += 2 {
		if _, err := s.Delete(i); err != nil {
			t.Fatalf("Delete(%d): %v", i, err)
		}
	}
	for i := int64(1); i < n; i += 4 {
		if err := s.Insert(i, []byte(fmt.Sprintf("rewritten-%d", i))); err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
	}

	before := s.Stats().DataFileBytes

	c := New(logger.Nop())
	if err := c.Rewrite(s); err != nil {
		t.Fatalf("Rewrite: %v", err)
	}

	after := s.Stats().DataFileBytes
	if after >= before {
		t.Fatalf("data file did not shrink: before=%d after=%d", before, after)
	}

	verify := func(s *storage.Storage, when string) {
		for i := int64(0); i < n; i++ {
			got, ok, err := s.Get(i)
			if err != nil {
				t.Fatalf("%s: Get(%d): %v", when, i, err)
			}
			if i%2 == 0 {
				if ok {
					t.Fatalf("%s: deleted key %d reappeared as %q", when, i, got)
				}
				continue
			}
			want := fmt.Sprintf("value-%d", i)
			if (i-1)%4 == 0 {
				want = fmt.Sprintf("rewritten-%d", i)
			}
			if !ok || string(got) != want {
				t.Fatalf("%s: Get(%d) = %q, %v, want %q", when, i, got, ok, want)
			}
		}
	}
	verify(s, "after compaction")

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	s2 := openStore(t, dir)
	defer s2.Close()
	verify(s2, "after reopen")
}
