// Package leaf implements the gapped-array leaf node of the learned index:
// a fixed-capacity slot array with an occupancy flag per slot and a linear
// model predicting, for any key, the slot it should occupy. Inserts use the
// predicted position plus a bounded exponential/linear search to find the
// exact slot, shifting at most a handful of neighboring entries to open a
// gap. A leaf never retrains in response to an insert; it only retrains
// when it is built fresh, either at startup or as one of the two leaves
// produced by a split.
package leaf

import (
	"math"

	"github.com/omendb/omen-sub000/internal/model"
)

// InsertResult reports what Insert did, including whether the leaf has
// crossed its density threshold and needs to be split by the caller.
type InsertResult int

const (
	// Inserted indicates a new key was added to a previously unoccupied slot.
	Inserted InsertResult = iota
	// Updated indicates an existing key's value was overwritten in place.
	Updated
	// NeedsSplit indicates the insert succeeded but pushed the leaf's
	// density above MaxDensity; the caller must call Split and replace
	// this leaf with the two returned leaves.
	NeedsSplit
)

// Pair is a (key, value) observation used to build or inspect a leaf.
type Pair[V any] struct {
	Key   int64
	Value V
}

type slot[V any] struct {
	key      int64
	value    V
	occupied bool
}

// Leaf is a fixed-capacity gapped array plus the linear model that predicts
// slot positions for it. The zero value is not usable; construct one with
// Build.
type Leaf[V any] struct {
	slots           []slot[V]
	model           model.Linear
	numKeys         int
	maxDensity      float64
	expansionFactor float64
}

// Build constructs a leaf from pairs, which must already be sorted by Key in
// strictly increasing order (the tree guarantees this at every call site).
// Capacity is sized from len(pairs) and expansionFactor so that the leaf has
// room to accept inserts before it must split again; the model is trained
// fresh over the chosen initial slot assignment, and MaxError is recomputed
// by scanning every occupied slot, per the bounded-error invariant.
func Build[V any](pairs []Pair[V], maxDensity, expansionFactor float64) *Leaf[V] {
	n := len(pairs)
	capacity := capacityFor(n, expansionFactor)

	lf := &Leaf[V]{
		slots:           make([]slot[V], capacity),
		maxDensity:      maxDensity,
		expansionFactor: expansionFactor,
	}

	if n == 0 {
		lf.model = model.Train(nil)
		return lf
	}

	samples := make([]model.Sample, 0, n)
	lastPlaced := -1
	for i, p := range pairs {
		target := (i * capacity) / n
		if target <= lastPlaced {
			target = lastPlaced + 1
		}
		if target >= capacity {
			target = capacity - 1
		}
		lf.slots[target] = slot[V]{key: p.Key, value: p.Value, occupied: true}
		samples = append(samples, model.Sample{Key: p.Key, Position: target})
		lastPlaced = target
	}
	lf.numKeys = n
	lf.model = model.Train(samples)
	lf.retrainMaxError()

	return lf
}

// initialLeafCapacity sizes a leaf built with no keys at all (the tree's
// very first leaf). Anything derived from n*(1+expansionFactor) would be
// zero, and a one-slot leaf would split on its first insert.
const initialLeafCapacity = 64

// capacityFor computes ceil(n * (1+expansionFactor)), but never less than
// n+1, so a freshly built leaf always has at least one free slot.
func capacityFor(n int, expansionFactor float64) int {
	if n == 0 {
		return initialLeafCapacity
	}
	capacity := int(math.Ceil(float64(n) * (1 + expansionFactor)))
	if capacity <= n {
		capacity = n + 1
	}
	return capacity
}

// retrainMaxError scans every occupied slot and sets the model's MaxError to
// the true maximum observed error, per the invariant that MaxError always
// dominates the actual error across the full occupied set, not a sample.
func (lf *Leaf[V]) retrainMaxError() {
	var maxErr uint32
	for i, s := range lf.slots {
		if !s.occupied {
			continue
		}
		if e := lf.model.ActualError(s.key, i); e > maxErr {
			maxErr = e
		}
	}
	lf.model.MaxError = maxErr
}

// Capacity returns the leaf's fixed slot count.
func (lf *Leaf[V]) Capacity() int { return len(lf.slots) }

// NumKeys returns the number of occupied slots.
func (lf *Leaf[V]) NumKeys() int { return lf.numKeys }

// Density returns the occupied/capacity ratio.
func (lf *Leaf[V]) Density() float64 {
	return float64(lf.numKeys) / float64(len(lf.slots))
}

// Model returns the leaf's current linear model, mainly for tests asserting
// the bounded-error invariant.
func (lf *Leaf[V]) Model() model.Linear { return lf.model }

// MinKey returns the smallest occupied key and true, or zero/false if empty.
func (lf *Leaf[V]) MinKey() (int64, bool) {
	for _, s := range lf.slots {
		if s.occupied {
			return s.key, true
		}
	}
	return 0, false
}

// Entries returns the occupied (key, value) pairs in slot order, which by
// the leaf's in-order invariant is also strictly increasing key order.
func (lf *Leaf[V]) Entries() []Pair[V] {
	out := make([]Pair[V], 0, lf.numKeys)
	for _, s := range lf.slots {
		if s.occupied {
			out = append(out, Pair[V]{Key: s.key, Value: s.value})
		}
	}
	return out
}

func (lf *Leaf[V]) predict(key int64) int {
	capacity := len(lf.slots)
	p := lf.model.Predict(key)
	if p < 0 {
		return 0
	}
	if p >= int64(capacity) {
		return capacity - 1
	}
	return int(p)
}

// locateNeighbors searches outward from p with doubling radius for the
// nearest occupied slot at or after p whose key is >= target (rightIdx,
// capacity if none) and the nearest occupied slot at or before p whose key
// is <= target (leftIdx, -1 if none). The radius keeps doubling past
// MaxError as a fallback, eventually covering the whole leaf, matching the
// "fall back to capacity" rule for a stale or degenerate model.
func (lf *Leaf[V]) locateNeighbors(p int, key int64) (rightIdx, leftIdx int) {
	capacity := len(lf.slots)

	for radius := 1; ; radius *= 2 {
		lo := p - radius
		hi := p + radius
		if lo < 0 {
			lo = 0
		}
		if hi > capacity-1 {
			hi = capacity - 1
		}

		rightIdx = capacity
		for i := p; i <= hi; i++ {
			if lf.slots[i].occupied && lf.slots[i].key >= key {
				rightIdx = i
				break
			}
		}
		leftIdx = -1
		for i := p; i >= lo; i-- {
			if lf.slots[i].occupied && lf.slots[i].key <= key {
				leftIdx = i
				break
			}
		}

		exhausted := lo == 0 && hi == capacity-1
		if (rightIdx != capacity && leftIdx != -1) || exhausted {
			return
		}
	}
}

// findNearestGap searches outward from `from` for the nearest unoccupied
// slot, checking the right candidate before the left one at each radius.
// It always terminates with ok=false only if the leaf is entirely full,
// which cannot happen mid-Insert: Build always leaves at least one free
// slot, and the tree splits a leaf as soon as its density crosses
// MaxDensity.
func (lf *Leaf[V]) findNearestGap(from int) (gapIdx int, ok bool) {
	capacity := len(lf.slots)
	for radius := 0; ; radius++ {
		right := from + radius
		left := from - radius

		if right < capacity && !lf.slots[right].occupied {
			return right, true
		}
		if left >= 0 && left != right && !lf.slots[left].occupied {
			return left, true
		}
		if right >= capacity && left < 0 {
			return 0, false
		}
	}
}

// shiftToward moves the run of occupied slots between gapIdx and target one
// step toward the gap, opening target up for a new entry while preserving
// the relative (and therefore key) order of every slot it touches.
func (lf *Leaf[V]) shiftToward(gapIdx, target int) {
	switch {
	case gapIdx < target:
		for i := gapIdx; i < target; i++ {
			lf.slots[i] = lf.slots[i+1]
		}
	case gapIdx > target:
		for i := gapIdx; i > target; i-- {
			lf.slots[i] = lf.slots[i-1]
		}
	}
	lf.slots[target] = slot[V]{}
}

// findSuccessor returns the index of the leftmost occupied slot whose key is
// >= key, or capacity if every resident key is smaller. Like locateNeighbors
// it searches outward from the predicted slot with doubling radius, so the
// expected window is bounded by the model's MaxError; the radius keeps
// doubling past MaxError as a fallback, eventually covering the whole leaf
// when the model has gone stale. The answer is final only once the window
// shows a smaller occupied key (which bounds it, by the in-order invariant)
// or reaches the leaf's edge.
func (lf *Leaf[V]) findSuccessor(p int, key int64) int {
	capacity := len(lf.slots)

	for radius := 1; ; radius *= 2 {
		lo := p - radius
		hi := p + radius
		if lo < 0 {
			lo = 0
		}
		if hi > capacity-1 {
			hi = capacity - 1
		}

		// Leftmost occupied slot in the window with key >= target, plus
		// whether a smaller occupied key precedes it inside the window.
		succ := capacity
		boundedLeft := false
		for i := lo; i <= hi; i++ {
			if !lf.slots[i].occupied {
				continue
			}
			if lf.slots[i].key >= key {
				succ = i
				break
			}
			boundedLeft = true
		}

		if succ < capacity {
			if boundedLeft || lo == 0 {
				return succ
			}
			// Every occupied slot in the window qualifies; an overshooting
			// prediction may have left earlier qualifying slots to the
			// left of lo. Widen.
		} else if boundedLeft {
			if hi == capacity-1 {
				return capacity
			}
			// The successor, if any, is to the right of hi. Widen.
		} else if lo == 0 && hi == capacity-1 {
			return capacity
		}
	}
}

// lastOccupied returns the highest occupied slot index, or -1 if empty.
func (lf *Leaf[V]) lastOccupied() int {
	for i := len(lf.slots) - 1; i >= 0; i-- {
		if lf.slots[i].occupied {
			return i
		}
	}
	return -1
}

// Insert places (key, value) into the leaf. If key is already present, its
// value is overwritten and Updated is returned. Otherwise the key is
// inserted immediately left of its in-order successor, shifting neighbors
// toward the nearest gap as needed, and Inserted is returned, unless the
// insert pushed density above MaxDensity, in which case NeedsSplit is
// returned and the caller must Split this leaf.
func (lf *Leaf[V]) Insert(key int64, value V) InsertResult {
	capacity := len(lf.slots)
	p := lf.predict(key)
	succ := lf.findSuccessor(p, key)

	if succ < capacity && lf.slots[succ].key == key {
		lf.slots[succ].value = value
		return Updated
	}

	var s int
	if succ == capacity {
		// key is greater than every resident key, the steady state for
		// monotonically increasing keys. Place it at the predicted slot
		// when that is free and past the current maximum, preserving the
		// model's intended gaps; otherwise right after the last occupant.
		last := lf.lastOccupied()
		s = p
		if s <= last {
			s = last + 1
		}
		if s >= capacity {
			s = capacity - 1
		}
	} else {
		s = succ - 1
		if s < 0 {
			s = 0
		}
	}

	if !lf.slots[s].occupied {
		lf.slots[s] = slot[V]{key: key, value: value, occupied: true}
	} else {
		gapIdx, ok := lf.findNearestGap(s)
		if !ok {
			// The leaf is completely full; this should be unreachable
			// because the tree splits as soon as density crosses
			// MaxDensity, but guard rather than write out of bounds.
			return NeedsSplit
		}
		// Shifting right moves keys >= key (from succ onward) out of the
		// way; shifting left moves keys < key. Either direction keeps the
		// occupied slots in key order.
		target := s
		if gapIdx > s {
			target = succ
		}
		lf.shiftToward(gapIdx, target)
		lf.slots[target] = slot[V]{key: key, value: value, occupied: true}
	}

	lf.numKeys++
	if lf.Density() > lf.maxDensity {
		return NeedsSplit
	}
	return Inserted
}

// Get returns the value stored for key, if present. The search starts from
// the predicted slot and expands outward, so it remains correct even if the
// model's MaxError has gone stale relative to the leaf's current layout.
func (lf *Leaf[V]) Get(key int64) (V, bool) {
	p := lf.predict(key)
	rightIdx, leftIdx := lf.locateNeighbors(p, key)

	if rightIdx < len(lf.slots) && lf.slots[rightIdx].key == key {
		return lf.slots[rightIdx].value, true
	}
	if leftIdx >= 0 && lf.slots[leftIdx].key == key {
		return lf.slots[leftIdx].value, true
	}
	var zero V
	return zero, false
}

// Delete removes key from the leaf, returning true if it was present.
func (lf *Leaf[V]) Delete(key int64) bool {
	p := lf.predict(key)
	rightIdx, leftIdx := lf.locateNeighbors(p, key)

	idx := -1
	if rightIdx < len(lf.slots) && lf.slots[rightIdx].key == key {
		idx = rightIdx
	} else if leftIdx >= 0 && lf.slots[leftIdx].key == key {
		idx = leftIdx
	}
	if idx < 0 {
		return false
	}
	lf.slots[idx] = slot[V]{}
	lf.numKeys--
	return true
}

// Split partitions the leaf's occupied entries at their median (the lower
// of the two middle entries when the count is even) and builds two fresh
// leaves from the halves. splitKey is the minimum key of the right leaf; an
// entry whose key equals splitKey always lands in the right leaf.
func (lf *Leaf[V]) Split() (left *Leaf[V], splitKey int64, right *Leaf[V]) {
	entries := lf.Entries()
	n := len(entries)
	m := (n - 1) / 2

	left = Build(entries[:m], lf.maxDensity, lf.expansionFactor)
	right = Build(entries[m:], lf.maxDensity, lf.expansionFactor)
	splitKey = entries[m].Key
	return
}
