package posindex

import (
	"sync"

	"github.com/checkerls/checkerls/server/wire"
	"github.com/google/btree"
)

const degree = 16

// Segment is one stored range and the payload reachable inside it.
type Segment struct {
	Range   wire.Range
	Payload string
}

// entry is a stored segment. A remainder is the tail of an older segment cut
// by a later insert, so its start was never the start of an inserted range.
type entry struct {
	Segment
	remainder bool
}

func entryLess(a, b entry) bool {
	return a.Range.Start.Less(b.Range.Start)
}

func key(p wire.Position) entry {
	return entry{Segment: Segment{Range: wire.Range{Start: p}}}
}

// Index maps disjoint ranges of a file to hover payloads. Each point of the
// file is covered by at most one segment, so a lookup is a floor search on
// the segment starts.
type Index struct {
	mu   sync.RWMutex
	tree *btree.BTreeG[entry]
}

func New() *Index {
	return &Index{tree: btree.NewG(degree, entryLess)}
}

// Insert stores payload over r. When an earlier insert started at r.Start the
// payload is appended to that segment's payload, joined by a newline. Any
// part of an older segment that falls outside r keeps its old payload. The
// tail left behind by such a split never takes appends: a range starting
// where it begins replaces it.
func (idx *Index) Insert(r wire.Range, payload string) {
	if r.IsEmpty() {
		r.End = wire.Position{Line: r.Start.Line, Character: r.Start.Character + 1}
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if existing, ok := idx.tree.Get(key(r.Start)); ok && !existing.remainder {
		payload = existing.Payload + "\n" + payload
	}

	for _, s := range idx.overlapping(r) {
		idx.tree.Delete(s)
		if s.Range.Start.Less(r.Start) {
			idx.tree.ReplaceOrInsert(entry{
				Segment:   Segment{Range: wire.Range{Start: s.Range.Start, End: r.Start}, Payload: s.Payload},
				remainder: s.remainder,
			})
		}
		if r.End.Less(s.Range.End) {
			idx.tree.ReplaceOrInsert(entry{
				Segment:   Segment{Range: wire.Range{Start: r.End, End: s.Range.End}, Payload: s.Payload},
				remainder: true,
			})
		}
	}

	idx.tree.ReplaceOrInsert(entry{Segment: Segment{Range: r, Payload: payload}})
}

// overlapping collects the segments intersecting r. The caller holds the lock.
func (idx *Index) overlapping(r wire.Range) []entry {
	var found []entry

	idx.tree.DescendLessOrEqual(key(r.Start), func(s entry) bool {
		if r.Start.Less(s.Range.End) {
			found = append(found, s)
		}
		return false
	})

	idx.tree.AscendRange(
		key(r.Start),
		key(r.End),
		func(s entry) bool {
			if s.Range.Start != r.Start {
				found = append(found, s)
			}
			return true
		},
	)

	return found
}

// Lookup returns the payload of the segment containing p.
func (idx *Index) Lookup(p wire.Position) (string, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var (
		payload string
		found   bool
	)
	idx.tree.DescendLessOrEqual(key(p), func(s entry) bool {
		if s.Range.Contains(p) {
			payload, found = s.Payload, true
		}
		return false
	})
	return payload, found
}

func (idx *Index) Clear() {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.tree.Clear(false)
}

func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.tree.Len()
}

// Segments returns the stored segments ordered by start.
func (idx *Index) Segments() []Segment {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	segments := make([]Segment, 0, idx.tree.Len())
	idx.tree.Ascend(func(s entry) bool {
		segments = append(segments, s.Segment)
		return true
	})
	return segments
}
