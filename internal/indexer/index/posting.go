package index

import (
	"sync/atomic"

	"github.com/Adithya-Monish-Kumar-K/rtsearch/internal/search"
)

// Posting is one document's occurrences of a term inside a generation.
type Posting struct {
	Slot      int
	Positions []int
	Norm      float64
}

type postingNode struct {
	posting Posting
	next    atomic.Pointer[postingNode]
}

// PostingList is an append-only linked list of postings. Appends are
// lock-free and may run concurrently with each other and with iterators.
type PostingList struct {
	head atomic.Pointer[postingNode]
	tail atomic.Pointer[postingNode]
	size atomic.Int64
}

// NewPostingList returns an empty list.
func NewPostingList() *PostingList {
	l := &PostingList{}
	sentinel := &postingNode{}
	l.head.Store(sentinel)
	l.tail.Store(sentinel)
	return l
}

// Append adds a posting for slot. positions must be ascending and are owned
// by the list afterwards.
func (l *PostingList) Append(slot int, positions []int, contextSize int) {
	n := &postingNode{posting: Posting{
		Slot:      slot,
		Positions: positions,
		Norm:      search.NormFor(contextSize),
	}}
	for {
		tail := l.tail.Load()
		next := tail.next.Load()
		if next != nil {
			// Another appender linked a node but has not swung the tail yet.
			l.tail.CompareAndSwap(tail, next)
			continue
		}
		if tail.next.CompareAndSwap(nil, n) {
			l.tail.CompareAndSwap(tail, n)
			l.size.Add(1)
			return
		}
	}
}

// Len returns the number of postings appended so far, deleted or not.
func (l *PostingList) Len() int {
	return int(l.size.Load())
}

// Iterator returns a forward iterator in append order. Postings whose slot
// satisfies deleted are skipped; deleted may be nil.
func (l *PostingList) Iterator(deleted func(slot int) bool) *PostingIterator {
	return &PostingIterator{node: l.head.Load(), deleted: deleted}
}

// PostingIterator implements search.MatchIterator over a PostingList.
type PostingIterator struct {
	node    *postingNode
	deleted func(slot int) bool
}

func (it *PostingIterator) Next() bool {
	for {
		next := it.node.next.Load()
		if next == nil {
			return false
		}
		it.node = next
		if it.deleted == nil || !it.deleted(next.posting.Slot) {
			return true
		}
	}
}

func (it *PostingIterator) Match() search.TermMatch {
	p := it.node.posting
	return search.TermMatch{
		Slot:      p.Slot,
		Freq:      len(p.Positions),
		Positions: p.Positions,
		Norm:      p.Norm,
	}
}

// SkipTo does nothing: postings are in append order, not slot order, so
// skipping ahead could drop matches.
func (it *PostingIterator) SkipTo(int) {}
