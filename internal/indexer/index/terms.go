package index

import (
	"math/bits"
	"math/rand/v2"
	"sync/atomic"

	"github.com/Adithya-Monish-Kumar-K/rtsearch/internal/search"
)

const maxTermLevel = 24

type termNode struct {
	key   search.TermKey
	list  *PostingList
	level int
	next  [maxTermLevel]atomic.Pointer[termNode]
}

// termMap is an insert-only concurrent skip list from TermKey to posting list.
// Readers never block; inserts link each level with compare-and-swap and the
// bottom level is the linearisation point, so only one list is ever installed
// per key.
type termMap struct {
	head termNode
	size atomic.Int64
}

func newTermMap() *termMap {
	m := &termMap{}
	m.head.level = maxTermLevel
	return m
}

func randomLevel() int {
	lvl := 1 + bits.TrailingZeros64(rand.Uint64())/2
	if lvl > maxTermLevel {
		lvl = maxTermLevel
	}
	return lvl
}

// find fills preds and succs for every level and returns the node holding key
// at the bottom level, if any.
func (m *termMap) find(key search.TermKey, preds, succs *[maxTermLevel]*termNode) *termNode {
	pred := &m.head
	for lvl := maxTermLevel - 1; lvl >= 0; lvl-- {
		curr := pred.next[lvl].Load()
		for curr != nil && curr.key.Compare(key) < 0 {
			pred = curr
			curr = pred.next[lvl].Load()
		}
		preds[lvl] = pred
		succs[lvl] = curr
	}
	if succs[0] != nil && succs[0].key.Compare(key) == 0 {
		return succs[0]
	}
	return nil
}

// Get returns the list for key or nil.
func (m *termMap) Get(key search.TermKey) *PostingList {
	pred := &m.head
	for lvl := maxTermLevel - 1; lvl >= 0; lvl-- {
		curr := pred.next[lvl].Load()
		for curr != nil && curr.key.Compare(key) < 0 {
			pred = curr
			curr = pred.next[lvl].Load()
		}
		if curr != nil && curr.key.Compare(key) == 0 {
			return curr.list
		}
	}
	return nil
}

// GetOrCreate returns the list for key, installing an empty one if absent.
func (m *termMap) GetOrCreate(key search.TermKey) *PostingList {
	var preds, succs [maxTermLevel]*termNode
	if found := m.find(key, &preds, &succs); found != nil {
		return found.list
	}
	node := &termNode{key: key, list: NewPostingList(), level: randomLevel()}
	for {
		node.next[0].Store(succs[0])
		if preds[0].next[0].CompareAndSwap(succs[0], node) {
			break
		}
		if found := m.find(key, &preds, &succs); found != nil {
			return found.list
		}
	}
	m.size.Add(1)
	for lvl := 1; lvl < node.level; lvl++ {
		for {
			node.next[lvl].Store(succs[lvl])
			if preds[lvl].next[lvl].CompareAndSwap(succs[lvl], node) {
				break
			}
			m.find(key, &preds, &succs)
		}
	}
	return node.list
}

// Len returns the number of distinct keys.
func (m *termMap) Len() int {
	return int(m.size.Load())
}

// Ascend calls fn for each key in [from, to) in order until fn returns false.
// A zero to bounds the walk at the end of from's field.
func (m *termMap) Ascend(from, to search.TermKey, fn func(key search.TermKey, list *PostingList) bool) {
	var preds, succs [maxTermLevel]*termNode
	m.find(from, &preds, &succs)
	for curr := succs[0]; curr != nil; curr = curr.next[0].Load() {
		if curr.key.Field != from.Field {
			return
		}
		if to.Term != "" && curr.key.Compare(to) >= 0 {
			return
		}
		if !fn(curr.key, curr.list) {
			return
		}
	}
}
