// Package compaction implements a single-shot rewrite of the value log
// that drops any byte range no longer reachable from the index, most
// commonly the space held by values whose key has since been deleted or
// overwritten. It is caller-invoked only; there is no background
// scheduler. Callers that want periodic compaction drive it themselves,
// typically off Options.CompactInterval.
package compaction

import (
	"path/filepath"

	"github.com/omendb/omen-sub000/internal/storage"
	"github.com/omendb/omen-sub000/internal/leaf"
	"github.com/omendb/omen-sub000/internal/tree"
	"github.com/omendb/omen-sub000/internal/valuelog"
	ignerrors "github.com/omendb/omen-sub000/pkg/errors"
	"github.com/omendb/omen-sub000/pkg/filesys"
	"go.uber.org/zap"
)

// Compaction rewrites a Storage's value log in place, given the storage
// coordinator it operates on.
type Compaction struct {
	log *zap.SugaredLogger
}

// New returns a Compaction bound to the given logger.
func New(log *zap.SugaredLogger) *Compaction {
	return &Compaction{log: log}
}

// Rewrite builds a fresh value log at dataPath+".compact" containing only
// the records the index currently references, in key order, then swaps it
// in for the storage's existing value log and renames it over the
// original file. The index is rebuilt against the new offsets and handed
// back to the storage coordinator via Reindex.
func (c *Compaction) Rewrite(s *storage.Storage) error {
	opts := s.Options()
	dataPath := s.DataPath()
	tmpPath := dataPath + ".compact"

	c.log.Infow("starting value log compaction", "path", dataPath)

	// An interrupted earlier compaction may have left a partial rewrite
	// (and its tail sidecar) behind; clear both before starting over.
	for _, stale := range []string{tmpPath, tmpPath + ".tail"} {
		ok, err := filesys.Exists(stale)
		if err != nil {
			return ignerrors.NewStorageError(err, ignerrors.ErrorCodeIO, "stat stale compaction file").
				WithPath(stale)
		}
		if !ok {
			continue
		}
		if err := filesys.DeleteFile(stale); err != nil {
			return ignerrors.NewStorageError(err, ignerrors.ErrorCodeIO, "remove stale compaction file").
				WithPath(stale)
		}
	}

	newLog, err := valuelog.Open(tmpPath, opts.ChunkGrowBytes)
	if err != nil {
		return err
	}

	var pairs []leaf.Pair[valuelog.Pointer]
	var rewriteErr error
	s.All(func(key int64, ptr valuelog.Pointer) bool {
		value, err := s.ReadAt(ptr)
		if err != nil {
			rewriteErr = err
			return false
		}
		newPtr, err := newLog.Append(key, value)
		if err != nil {
			rewriteErr = err
			return false
		}
		pairs = append(pairs, leaf.Pair[valuelog.Pointer]{Key: key, Value: newPtr})
		return true
	})
	if rewriteErr != nil {
		newLog.Close()
		return rewriteErr
	}

	if err := newLog.PersistTail(); err != nil {
		newLog.Close()
		return err
	}
	if err := newLog.Sync(true); err != nil {
		newLog.Close()
		return err
	}
	if err := newLog.Close(); err != nil {
		return err
	}

	if err := filesys.Rename(tmpPath, dataPath); err != nil {
		return ignerrors.NewStorageError(err, ignerrors.ErrorCodeIO, "rename compacted value log into place").
			WithPath(filepath.Dir(dataPath))
	}
	// The sidecar holding the persisted tail must move with the data file;
	// otherwise the next Open would trust the stale pre-compaction tail.
	if err := filesys.Rename(tmpPath+".tail", dataPath+".tail"); err != nil {
		return ignerrors.NewStorageError(err, ignerrors.ErrorCodeIO, "rename compacted value log tail sidecar").
			WithPath(filepath.Dir(dataPath))
	}

	reopened, err := valuelog.Open(dataPath, opts.ChunkGrowBytes)
	if err != nil {
		return err
	}

	newIndex := tree.BulkLoad(pairs, opts.LeafMaxDensity, opts.LeafExpansionFactor)

	c.log.Infow("value log compaction complete", "entries", len(pairs))

	return s.Reindex(reopened, newIndex)
}
