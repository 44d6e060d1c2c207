package index

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/Adithya-Monish-Kumar-K/rtsearch/internal/search"
	apperrors "github.com/Adithya-Monish-Kumar-K/rtsearch/pkg/errors"
)

// MemoryIndex is one fixed-capacity generation of the in-memory inverted
// index. Documents get dense slots in arrival order; a slot is never reused.
// Re-adding a DocID soft-deletes its previous slot, so at most one slot per
// DocID is live at query time.
type MemoryIndex struct {
	maxDocs int
	parser  search.Parser
	next    atomic.Int64
	docIDs  []atomic.Pointer[search.DocID]
	slots   sync.Map // search.DocID -> int
	pending sync.Map // search.DocID -> struct{}
	deleted *deleteSet
	terms   *termMap
	matcher *search.TermBasedMatcher
}

// Stats describes a generation.
type Stats struct {
	Capacity int
	Slots    int
	Deletes  int
	Terms    int
}

// Live returns the number of non-deleted slots.
func (s Stats) Live() int {
	return s.Slots - s.Deletes
}

// NewMemoryIndex returns an empty generation holding at most maxDocs
// documents. facets may be nil.
func NewMemoryIndex(maxDocs int, parser search.Parser, facets search.FacetProvider) *MemoryIndex {
	m := &MemoryIndex{
		maxDocs: maxDocs,
		parser:  parser,
		docIDs:  make([]atomic.Pointer[search.DocID], maxDocs),
		deleted: newDeleteSet(maxDocs),
		terms:   newTermMap(),
	}
	m.matcher = &search.TermBasedMatcher{Terms: m, Facets: facets}
	return m
}

// Add indexes doc under id. It fails with ErrCapacityExceeded, leaving the
// generation untouched, once every slot has been handed out.
func (m *MemoryIndex) Add(id search.DocID, doc search.Document) error {
	slot, err := m.allocate()
	if err != nil {
		return err
	}
	for field, text := range doc.Fields {
		tokens := m.parser.ParseField(field, text)
		if len(tokens) == 0 {
			continue
		}
		positions := make(map[string][]int)
		for _, tok := range tokens {
			positions[tok.Term] = append(positions[tok.Term], tok.Position)
		}
		for term, pos := range positions {
			slices.Sort(pos)
			m.terms.GetOrCreate(search.TermKey{Field: field, Term: term}).Append(slot, pos, len(tokens))
		}
	}
	m.docIDs[slot].Store(&id)
	m.publish(id, slot)
	return nil
}

// publish makes slot the live version of id unless a later slot already
// is. Concurrent adds of one id may finish in any order; the highest slot
// wins and every other slot is soft-deleted.
func (m *MemoryIndex) publish(id search.DocID, slot int) {
	for {
		prev, loaded := m.slots.LoadOrStore(id, slot)
		if !loaded {
			return
		}
		if prev.(int) > slot {
			m.deleted.Set(slot)
			return
		}
		if m.slots.CompareAndSwap(id, prev, slot) {
			m.deleted.Set(prev.(int))
			return
		}
	}
}

func (m *MemoryIndex) allocate() (int, error) {
	for {
		c := m.next.Load()
		if c >= int64(m.maxDocs) {
			return 0, fmt.Errorf("all %d slots in use: %w", m.maxDocs, apperrors.ErrCapacityExceeded)
		}
		if m.next.CompareAndSwap(c, c+1) {
			return int(c), nil
		}
	}
}

// Del soft-deletes id's live slot, if any, and records the delete so
// HasChanges keeps reporting it even when the add never reached this
// generation.
func (m *MemoryIndex) Del(id search.DocID) {
	m.pending.Store(id, struct{}{})
	if slot, ok := m.slots.LoadAndDelete(id); ok {
		m.deleted.Set(slot.(int))
	}
}

// HasChanges reports whether id is live here or was deleted here.
func (m *MemoryIndex) HasChanges(id search.DocID) bool {
	if _, ok := m.slots.Load(id); ok {
		return true
	}
	_, ok := m.pending.Load(id)
	return ok
}

// Matches returns the live postings of field:term.
func (m *MemoryIndex) Matches(field, term string) search.MatchIterator {
	list := m.terms.Get(search.TermKey{Field: field, Term: term})
	if list == nil {
		return search.EmptyIterator{}
	}
	return list.Iterator(m.deleted.Test)
}

// RangeMatches returns the terms of field in [from, to), at most
// search.MaxRangeTerms of them. An empty to is unbounded.
func (m *MemoryIndex) RangeMatches(field, from, to string) []search.TermMatches {
	var out []search.TermMatches
	m.terms.Ascend(search.TermKey{Field: field, Term: from}, search.TermKey{Field: field, Term: to},
		func(key search.TermKey, list *PostingList) bool {
			out = append(out, search.TermMatches{Term: key.Term, Matches: list.Iterator(m.deleted.Test)})
			return len(out) < search.MaxRangeTerms
		})
	return out
}

// AllDocs yields live slots in ascending order.
func (m *MemoryIndex) AllDocs() iter.Seq[int] {
	return func(yield func(int) bool) {
		n := int(m.next.Load())
		for slot := 0; slot < n; slot++ {
			if m.deleted.Test(slot) || m.docIDs[slot].Load() == nil {
				continue
			}
			if !yield(slot) {
				return
			}
		}
	}
}

// Decode maps slots to DocIDs and divides scores by boostedNorm. Slots that
// are not yet published or were superseded are dropped.
func (m *MemoryIndex) Decode(raw []search.RawMatch, boostedNorm float64) []search.ScoredMatch {
	out := make([]search.ScoredMatch, 0, len(raw))
	for _, r := range raw {
		if r.Slot < 0 || r.Slot >= m.maxDocs {
			continue
		}
		id := m.docIDs[r.Slot].Load()
		if id == nil {
			continue
		}
		if cur, ok := m.slots.Load(*id); !ok || cur.(int) != r.Slot {
			continue
		}
		out = append(out, search.ScoredMatch{DocID: *id, Score: r.Score / boostedNorm})
	}
	return out
}

// FindMatches runs q against this generation.
func (m *MemoryIndex) FindMatches(ctx context.Context, q search.Query, filter search.DocFilter, limit int, scorer search.Scorer) (*search.ResultSet, error) {
	return m.matcher.FindMatches(ctx, q, filter, limit, scorer)
}

// CountMatches counts the matches of q in this generation.
func (m *MemoryIndex) CountMatches(ctx context.Context, q search.Query, filter search.DocFilter) (int, error) {
	return m.matcher.CountMatches(ctx, q, filter)
}

// Stats returns a point-in-time view of the generation's counters.
func (m *MemoryIndex) Stats() Stats {
	return Stats{
		Capacity: m.maxDocs,
		Slots:    int(min(m.next.Load(), int64(m.maxDocs))),
		Deletes:  m.deleted.Count(),
		Terms:    m.terms.Len(),
	}
}
