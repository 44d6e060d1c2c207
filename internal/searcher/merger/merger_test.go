package merger

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Adithya-Monish-Kumar-K/rtsearch/internal/search"
)

func TestMergeTopK(t *testing.T) {
	shards := [][]search.ScoredMatch{
		{{DocID: "a", Score: 3}, {DocID: "b", Score: 1}},
		{{DocID: "c", Score: 2}, {DocID: "d", Score: 2}},
	}
	got := Merge(shards, 3)
	assert.Equal(t, []search.ScoredMatch{
		{DocID: "a", Score: 3},
		{DocID: "c", Score: 2},
		{DocID: "d", Score: 2},
	}, got)
}

func TestMergeUnlimited(t *testing.T) {
	shards := [][]search.ScoredMatch{{{DocID: "x", Score: 1}}, {{DocID: "y", Score: 5}}}
	got := Merge(shards, -1)
	assert.Equal(t, []search.DocID{"y", "x"}, []search.DocID{got[0].DocID, got[1].DocID})
	assert.Empty(t, Merge(shards, 0))
}
