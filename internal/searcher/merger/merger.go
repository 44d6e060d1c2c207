package merger

import (
	"container/heap"

	"github.com/Adithya-Monish-Kumar-K/rtsearch/internal/search"
)

// Merge keeps the limit best matches across per-segment results, ordered by
// descending score then ascending DocID. A negative limit keeps everything.
func Merge(shardResults [][]search.ScoredMatch, limit int) []search.ScoredMatch {
	if limit < 0 {
		var all []search.ScoredMatch
		for _, results := range shardResults {
			all = append(all, results...)
		}
		search.SortMatches(all)
		return all
	}
	h := &scoredHeap{}
	heap.Init(h)
	for _, results := range shardResults {
		for _, doc := range results {
			heap.Push(h, doc)
			if h.Len() > limit {
				heap.Pop(h)
			}
		}
	}
	result := make([]search.ScoredMatch, h.Len())
	for i := len(result) - 1; i >= 0; i-- {
		result[i] = heap.Pop(h).(search.ScoredMatch)
	}
	return result
}

type scoredHeap []search.ScoredMatch

func (h scoredHeap) Len() int { return len(h) }

func (h scoredHeap) Less(i, j int) bool {
	if h[i].Score != h[j].Score {
		return h[i].Score < h[j].Score
	}
	return h[i].DocID > h[j].DocID
}

func (h scoredHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *scoredHeap) Push(x interface{}) {
	*h = append(*h, x.(search.ScoredMatch))
}

func (h *scoredHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
