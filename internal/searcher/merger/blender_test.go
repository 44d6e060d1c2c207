package merger

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/rtsearch/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/rtsearch/internal/search"
)

type wordParser struct{}

func (wordParser) ParseField(_, text string) []search.Token {
	var tokens []search.Token
	for i, w := range strings.Fields(text) {
		tokens = append(tokens, search.Token{Term: w, Position: i})
	}
	return tokens
}

// stubMatcher returns canned results, honouring filter and limit.
type stubMatcher struct {
	matches []search.ScoredMatch
	total   int
	changed map[search.DocID]bool
	facets  map[string]map[string]int
	err     error
}

func (s *stubMatcher) FindMatches(_ context.Context, _ search.Query, filter search.DocFilter, limit int, _ search.Scorer) (*search.ResultSet, error) {
	if s.err != nil {
		return nil, s.err
	}
	rs := &search.ResultSet{Total: s.total, Facets: s.facets}
	for _, m := range s.matches {
		if filter.Accepts(m.DocID) && (limit < 0 || len(rs.Matches) < limit) {
			rs.Matches = append(rs.Matches, m)
		}
	}
	return rs, nil
}

func (s *stubMatcher) CountMatches(context.Context, search.Query, search.DocFilter) (int, error) {
	return s.total, s.err
}

func (s *stubMatcher) HasChanges(id search.DocID) bool { return s.changed[id] }

var anyQuery = search.TermQuery{Field: "body", Term: "x"}

func TestBlenderStaleHistoryIsHidden(t *testing.T) {
	history := index.NewMemoryIndex(8, wordParser{}, nil)
	current := index.NewMemoryIndex(8, wordParser{}, nil)
	require.NoError(t, history.Add("a", search.NewDocument("body", "x")))
	require.NoError(t, history.Add("b", search.NewDocument("body", "x")))
	require.NoError(t, history.Add("c", search.NewDocument("body", "x")))
	// a was rewritten without the term, b was deleted.
	require.NoError(t, current.Add("a", search.NewDocument("body", "y")))
	current.Del("b")

	rs, err := NewBlender(history, current).FindMatches(context.Background(), anyQuery, nil, 10, nil)
	require.NoError(t, err)
	require.Len(t, rs.Matches, 1)
	assert.Equal(t, search.DocID("c"), rs.Matches[0].DocID)
	assert.Equal(t, 1, rs.Total)
}

func TestBlenderDedupCurrentWins(t *testing.T) {
	cur := &stubMatcher{matches: []search.ScoredMatch{{DocID: "a", Score: 1}}, total: 1}
	hist := &stubMatcher{matches: []search.ScoredMatch{{DocID: "a", Score: 9}, {DocID: "b", Score: 2}}, total: 2}

	rs, err := NewBlender(hist, cur).FindMatches(context.Background(), anyQuery, nil, 10, nil)
	require.NoError(t, err)
	assert.Equal(t, []search.ScoredMatch{{DocID: "b", Score: 2}, {DocID: "a", Score: 1}}, rs.Matches)
	assert.Equal(t, 2, rs.Total)
}

func TestBlenderTiesPreferCurrent(t *testing.T) {
	cur := &stubMatcher{matches: []search.ScoredMatch{{DocID: "z", Score: 1}}, total: 1}
	hist := &stubMatcher{matches: []search.ScoredMatch{{DocID: "a", Score: 1}}, total: 1}

	rs, err := NewBlender(hist, cur).FindMatches(context.Background(), anyQuery, nil, 10, nil)
	require.NoError(t, err)
	assert.Equal(t, search.DocID("z"), rs.Matches[0].DocID)
}

func TestBlenderTotals(t *testing.T) {
	ctx := context.Background()
	many := func(n int, prefix string) []search.ScoredMatch {
		out := make([]search.ScoredMatch, n)
		for i := range out {
			out[i] = search.ScoredMatch{DocID: search.DocID(prefix + string(rune('a'+i))), Score: float64(n - i)}
		}
		return out
	}

	t.Run("full page keeps summed total", func(t *testing.T) {
		cur := &stubMatcher{matches: many(5, "c"), total: 40}
		hist := &stubMatcher{matches: many(5, "h"), total: 60}
		rs, err := NewBlender(hist, cur).FindMatches(ctx, anyQuery, nil, 5, nil)
		require.NoError(t, err)
		assert.Len(t, rs.Matches, 5)
		assert.Equal(t, 100, rs.Total)
	})

	t.Run("approximate side makes total negative", func(t *testing.T) {
		cur := &stubMatcher{matches: many(5, "c"), total: -40}
		hist := &stubMatcher{matches: many(5, "h"), total: 60}
		rs, err := NewBlender(hist, cur).FindMatches(ctx, anyQuery, nil, 5, nil)
		require.NoError(t, err)
		assert.Equal(t, -100, rs.Total)
	})

	t.Run("short page is exact", func(t *testing.T) {
		cur := &stubMatcher{matches: many(2, "c"), total: -7}
		hist := &stubMatcher{matches: many(1, "h"), total: 3}
		rs, err := NewBlender(hist, cur).FindMatches(ctx, anyQuery, nil, 10, nil)
		require.NoError(t, err)
		assert.Equal(t, 3, rs.Total)
	})
}

func TestBlenderFacetsSummed(t *testing.T) {
	cur := &stubMatcher{facets: map[string]map[string]int{"color": {"red": 1}}}
	hist := &stubMatcher{facets: map[string]map[string]int{"color": {"red": 2, "blue": 1}}}

	rs, err := NewBlender(hist, cur).FindMatches(context.Background(), anyQuery, nil, 10, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]map[string]int{"color": {"red": 3, "blue": 1}}, rs.Facets)
}

func TestBlenderPagination(t *testing.T) {
	history := index.NewMemoryIndex(16, wordParser{}, nil)
	current := index.NewMemoryIndex(16, wordParser{}, nil)
	for _, id := range []search.DocID{"h1", "h2", "h3", "h4"} {
		require.NoError(t, history.Add(id, search.NewDocument("body", "x")))
	}
	for _, id := range []search.DocID{"c1", "c2", "c3"} {
		require.NoError(t, current.Add(id, search.NewDocument("body", "x")))
	}
	b := NewBlender(history, current)
	ctx := context.Background()

	var pages []search.DocID
	for offset := 0; offset < 7; offset += 2 {
		rs, err := b.FindMatches(ctx, anyQuery, nil, offset+2, nil)
		require.NoError(t, err)
		for _, m := range search.Page(rs, offset, 2).Matches {
			pages = append(pages, m.DocID)
		}
	}
	assert.Equal(t, []search.DocID{"c1", "c2", "c3", "h1", "h2", "h3", "h4"}, pages)
}

func TestBlenderCountAndChanges(t *testing.T) {
	cur := &stubMatcher{total: 2, changed: map[search.DocID]bool{"a": true}}
	hist := &stubMatcher{total: -5, changed: map[search.DocID]bool{"b": true}}
	b := NewBlender(hist, cur)

	n, err := b.CountMatches(context.Background(), anyQuery, nil)
	require.NoError(t, err)
	assert.Equal(t, -7, n)
	assert.True(t, b.HasChanges("a"))
	assert.True(t, b.HasChanges("b"))
	assert.False(t, b.HasChanges("c"))
}

func TestBlenderPropagatesErrors(t *testing.T) {
	boom := errors.New("boom")
	b := NewBlender(&stubMatcher{err: boom}, &stubMatcher{})
	_, err := b.FindMatches(context.Background(), anyQuery, nil, 10, nil)
	assert.ErrorIs(t, err, boom)
}
