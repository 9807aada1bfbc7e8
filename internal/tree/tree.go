// Package tree implements the single-level learned index: an ordered array
// of leaf.Leaf values plus a parallel array of split keys, routed by binary
// search. Splits are local: only the leaf that overflowed is rebuilt, and
// its two replacements are spliced into the arrays in place. Nothing about
// an insert or split ever touches a leaf other than the one it targets.
package tree

import (
	"sort"

	"github.com/omendb/omen-sub000/internal/leaf"
)

// Tree routes keys to the leaf responsible for them and delegates
// inserts, lookups, and deletes to that leaf, splitting it locally when it
// reports it has grown too dense.
type Tree[V any] struct {
	leaves          []*leaf.Leaf[V]
	splitKeys       []int64 // splitKeys[i] is the minimum key routed to leaves[i+1].
	maxDensity      float64
	expansionFactor float64
}

// New returns an empty tree with a single empty leaf.
func New[V any](maxDensity, expansionFactor float64) *Tree[V] {
	return &Tree[V]{
		leaves:          []*leaf.Leaf[V]{leaf.Build[V](nil, maxDensity, expansionFactor)},
		maxDensity:      maxDensity,
		expansionFactor: expansionFactor,
	}
}

// BulkLoad returns a new tree whose leaves are built from pairs, which
// need not be sorted; BulkLoad sorts and groups them into evenly sized
// leaves itself. Used at startup when rebuilding the index from the value
// log, and by compaction when rebuilding it over the rewritten log,
// instead of growing it key by key.
func BulkLoad[V any](pairs []leaf.Pair[V], maxDensity, expansionFactor float64) *Tree[V] {
	t := &Tree[V]{maxDensity: maxDensity, expansionFactor: expansionFactor}

	if len(pairs) == 0 {
		t.leaves = []*leaf.Leaf[V]{leaf.Build[V](nil, maxDensity, expansionFactor)}
		return t
	}

	sorted := sortAndDedup(pairs)

	const targetLeafSize = 256
	for start := 0; start < len(sorted); start += targetLeafSize {
		end := start + targetLeafSize
		if end > len(sorted) {
			end = len(sorted)
		}
		group := sorted[start:end]
		lf := leaf.Build(group, maxDensity, expansionFactor)
		if len(t.leaves) > 0 {
			t.splitKeys = append(t.splitKeys, group[0].Key)
		}
		t.leaves = append(t.leaves, lf)
	}

	return t
}

// sortAndDedup returns a copy of pairs sorted by key with duplicate keys
// collapsed to their last occurrence, preserving last-writer-wins for a
// batch (or a value-log scan) that wrote the same key more than once.
func sortAndDedup[V any](pairs []leaf.Pair[V]) []leaf.Pair[V] {
	sorted := make([]leaf.Pair[V], len(pairs))
	copy(sorted, pairs)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Key < sorted[j].Key })

	out := sorted[:0]
	for _, p := range sorted {
		if len(out) > 0 && out[len(out)-1].Key == p.Key {
			out[len(out)-1] = p
			continue
		}
		out = append(out, p)
	}
	return out
}

// route returns the index of the leaf responsible for key: the last leaf
// whose split key is <= key, via binary search over splitKeys.
func (t *Tree[V]) route(key int64) int {
	return sort.Search(len(t.splitKeys), func(i int) bool {
		return t.splitKeys[i] > key
	})
}

// Get looks up key, delegating to the leaf it routes to.
func (t *Tree[V]) Get(key int64) (V, bool) {
	idx := t.route(key)
	return t.leaves[idx].Get(key)
}

// Insert inserts or overwrites (key, value), splitting the target leaf
// locally if the insert pushes it past its density threshold. No other
// leaf is retrained or touched.
func (t *Tree[V]) Insert(key int64, value V) {
	idx := t.route(key)
	result := t.leaves[idx].Insert(key, value)
	if result != leaf.NeedsSplit {
		return
	}
	t.splitLeaf(idx)
}

// BulkInsert inserts pairs as one batch: sorted, then grouped by target
// leaf in a single linear pass over the sorted keys, so each leaf is
// routed to once per run of keys it owns rather than once per key. Leaves
// that overflow split mid-group; no leaf outside the batch's key ranges is
// touched or retrained.
func (t *Tree[V]) BulkInsert(pairs []leaf.Pair[V]) {
	sorted := sortAndDedup(pairs)

	i := 0
	for i < len(sorted) {
		idx := t.route(sorted[i].Key)

		// This group runs until the next split key; past it, keys belong
		// to a later leaf.
		bounded := idx < len(t.splitKeys)
		var bound int64
		if bounded {
			bound = t.splitKeys[idx]
		}

		for i < len(sorted) && (!bounded || sorted[i].Key < bound) {
			res := t.leaves[idx].Insert(sorted[i].Key, sorted[i].Value)
			i++
			if res == leaf.NeedsSplit {
				// The entry landed before the leaf reported overflow; split
				// it and re-route the rest of the batch.
				t.splitLeaf(idx)
				break
			}
		}
	}
}

// Delete removes key, returning true if it was present.
func (t *Tree[V]) Delete(key int64) bool {
	idx := t.route(key)
	return t.leaves[idx].Delete(key)
}

// splitLeaf replaces leaves[idx] with the two leaves produced by splitting
// it, inserting the new split key into splitKeys at the matching position.
// Every other leaf and split key is untouched.
func (t *Tree[V]) splitLeaf(idx int) {
	left, splitKey, right := t.leaves[idx].Split()

	newLeaves := make([]*leaf.Leaf[V], 0, len(t.leaves)+1)
	newLeaves = append(newLeaves, t.leaves[:idx]...)
	newLeaves = append(newLeaves, left, right)
	newLeaves = append(newLeaves, t.leaves[idx+1:]...)
	t.leaves = newLeaves

	newSplitKeys := make([]int64, 0, len(t.splitKeys)+1)
	newSplitKeys = append(newSplitKeys, t.splitKeys[:idx]...)
	newSplitKeys = append(newSplitKeys, splitKey)
	newSplitKeys = append(newSplitKeys, t.splitKeys[idx:]...)
	t.splitKeys = newSplitKeys
}

// NumLeaves returns the number of leaves currently in the tree, mainly for
// tests and stats reporting.
func (t *Tree[V]) NumLeaves() int { return len(t.leaves) }

// All iterates every occupied (key, value) pair across every leaf, in key
// order, used by compaction and full-index rebuilds.
func (t *Tree[V]) All(yield func(key int64, value V) bool) {
	for _, lf := range t.leaves {
		for _, e := range lf.Entries() {
			if !yield(e.Key, e.Value) {
				return
			}
		}
	}
}
