package rti

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/rtsearch/internal/search"
	apperrors "github.com/Adithya-Monish-Kumar-K/rtsearch/pkg/errors"
)

type wordParser struct{}

func (wordParser) ParseField(_, text string) []search.Token {
	var tokens []search.Token
	for i, w := range strings.Fields(text) {
		tokens = append(tokens, search.Token{Term: w, Position: i})
	}
	return tokens
}

var query = search.TermQuery{Field: "body", Term: "x"}

func find(t *testing.T, m search.QueryMatcher) []search.DocID {
	t.Helper()
	rs, err := m.FindMatches(context.Background(), query, nil, 100, nil)
	require.NoError(t, err)
	out := make([]search.DocID, len(rs.Matches))
	for i, match := range rs.Matches {
		out[i] = match.DocID
	}
	return out
}

func TestStateTransitions(t *testing.T) {
	r := New(4, wordParser{}, nil)
	assert.False(t, r.IsMarked())
	require.ErrorIs(t, r.ClearToMark(), apperrors.ErrInvalidStateTransition)

	require.NoError(t, r.Mark())
	assert.True(t, r.IsMarked())
	require.ErrorIs(t, r.Mark(), apperrors.ErrInvalidStateTransition)

	require.NoError(t, r.ClearToMark())
	assert.False(t, r.IsMarked())
}

func TestMarkAloneChangesNoResults(t *testing.T) {
	r := New(8, wordParser{}, nil)
	require.NoError(t, r.Add("a", search.NewDocument("body", "x y")))
	require.NoError(t, r.Add("b", search.NewDocument("body", "x")))
	require.NoError(t, r.Add("c", search.NewDocument("body", "y z")))
	require.NoError(t, r.Add("a", search.NewDocument("body", "x z z")))
	r.Del("b")

	queries := []search.Query{
		search.TermQuery{Field: "body", Term: "x"},
		search.TermQuery{Field: "body", Term: "y"},
		search.TermQuery{Field: "body", Term: "z"},
		search.AndQuery{Clauses: []search.Query{
			search.TermQuery{Field: "body", Term: "x"},
			search.TermQuery{Field: "body", Term: "z"},
		}},
		search.OrQuery{Clauses: []search.Query{
			search.TermQuery{Field: "body", Term: "x"},
			search.TermQuery{Field: "body", Term: "y"},
		}},
		search.NotQuery{Include: search.AllQuery{}, Exclude: search.TermQuery{Field: "body", Term: "y"}},
		search.RangeQuery{Field: "body", From: "x", To: "zz"},
	}
	snapshot := func() ([]*search.ResultSet, []int) {
		ctx := context.Background()
		session := r.SearchSession()
		var results []*search.ResultSet
		var counts []int
		for _, q := range queries {
			rs, err := session.FindMatches(ctx, q, nil, 100, nil)
			require.NoError(t, err)
			results = append(results, rs)
			n, err := session.CountMatches(ctx, q, nil)
			require.NoError(t, err)
			counts = append(counts, n)
		}
		return results, counts
	}

	before, beforeCounts := snapshot()
	require.NoError(t, r.Mark())
	after, afterCounts := snapshot()

	assert.Equal(t, beforeCounts, afterCounts)
	for i := range queries {
		assert.Equal(t, before[i].Total, after[i].Total, queries[i].String())
		assert.Equal(t, before[i].Matches, after[i].Matches, queries[i].String())
	}
	assert.Equal(t, []search.DocID{"a"}, find(t, r.SearchSession()))
	for _, id := range []search.DocID{"a", "b", "c"} {
		assert.True(t, r.SearchSession().HasChanges(id), id)
	}
}

func TestMarkStartsFreshGeneration(t *testing.T) {
	r := New(2, wordParser{}, nil)
	require.NoError(t, r.Add("a", search.NewDocument("body", "x")))
	require.NoError(t, r.Add("b", search.NewDocument("body", "x")))
	require.ErrorIs(t, r.Add("c", search.NewDocument("body", "x")), apperrors.ErrCapacityExceeded)

	require.NoError(t, r.Mark())
	require.NoError(t, r.Add("c", search.NewDocument("body", "x")))

	st := r.Stats()
	assert.True(t, st.IsMarked)
	assert.Equal(t, 1, st.Current.Slots)
	assert.Equal(t, 2, st.Marked.Slots)
	assert.ElementsMatch(t, []search.DocID{"a", "b", "c"}, find(t, r.SearchSession()))
}

func TestMarkedDocumentsHiddenByCurrentChanges(t *testing.T) {
	r := New(8, wordParser{}, nil)
	require.NoError(t, r.Add("a", search.NewDocument("body", "x")))
	require.NoError(t, r.Add("b", search.NewDocument("body", "x")))
	require.NoError(t, r.Mark())

	r.Del("a")
	require.NoError(t, r.Add("b", search.NewDocument("body", "y")))
	assert.Empty(t, find(t, r.SearchSession()))
}

func TestSessionSurvivesClear(t *testing.T) {
	r := New(8, wordParser{}, nil)
	require.NoError(t, r.Add("a", search.NewDocument("body", "x")))
	require.NoError(t, r.Mark())
	session := r.SearchSession()

	require.NoError(t, r.ClearToMark())
	assert.Equal(t, []search.DocID{"a"}, find(t, session))
	assert.Empty(t, find(t, r.SearchSession()))
}

func TestConcurrentWritesAndTransitions(t *testing.T) {
	r := New(10000, wordParser{}, nil)
	var wg sync.WaitGroup
	for w := range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 500 {
				_ = r.Add(search.DocID(string(rune('a'+w))+string(rune('0'+i%10))), search.NewDocument("body", "x"))
				_ = r.SearchSession()
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for range 50 {
			if r.Mark() == nil {
				_ = r.ClearToMark()
			}
		}
	}()
	wg.Wait()
	assert.False(t, r.IsMarked())
}
