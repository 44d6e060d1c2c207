package merger

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/rtsearch/internal/search"
)

// Blender answers queries over two indices holding different versions of the
// same documents. Current is authoritative for every document it has seen
// (added or deleted); History only contributes documents Current knows
// nothing about.
type Blender struct {
	History search.QueryMatcher
	Current search.QueryMatcher
}

// NewBlender returns a Blender preferring current over history.
func NewBlender(history, current search.QueryMatcher) *Blender {
	return &Blender{History: history, Current: current}
}

func (b *Blender) historyFilter(filter search.DocFilter) search.DocFilter {
	return func(id search.DocID) bool {
		return !b.Current.HasChanges(id) && filter.Accepts(id)
	}
}

// FindMatches queries both sides concurrently and merges the results by
// descending score, current first on ties.
func (b *Blender) FindMatches(ctx context.Context, q search.Query, filter search.DocFilter, limit int, scorer search.Scorer) (*search.ResultSet, error) {
	var cur, hist *search.ResultSet
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rs, err := b.Current.FindMatches(gctx, q, filter, limit, scorer)
		cur = rs
		return err
	})
	g.Go(func() error {
		rs, err := b.History.FindMatches(gctx, q, b.historyFilter(filter), limit, scorer)
		hist = rs
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Current may have picked up a document after the history filter ran.
	inCurrent := make(map[search.DocID]struct{}, len(cur.Matches))
	for _, m := range cur.Matches {
		inCurrent[m.DocID] = struct{}{}
	}
	older := make([]search.ScoredMatch, 0, len(hist.Matches))
	for _, m := range hist.Matches {
		if _, ok := inCurrent[m.DocID]; !ok {
			older = append(older, m)
		}
	}

	merged := mergeSorted(cur.Matches, older, limit)
	total := addTotals(cur.Total, hist.Total)
	if limit < 0 || len(merged) < limit {
		total = len(merged)
	}
	return &search.ResultSet{
		Total:   total,
		Matches: merged,
		Facets:  search.MergeFacets(search.MergeFacets(nil, cur.Facets), hist.Facets),
	}, nil
}

// CountMatches sums the counts of both sides, history restricted to
// documents current has not changed.
func (b *Blender) CountMatches(ctx context.Context, q search.Query, filter search.DocFilter) (int, error) {
	var cur, hist int
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := b.Current.CountMatches(gctx, q, filter)
		cur = n
		return err
	})
	g.Go(func() error {
		n, err := b.History.CountMatches(gctx, q, b.historyFilter(filter))
		hist = n
		return err
	})
	if err := g.Wait(); err != nil {
		return 0, err
	}
	return addTotals(cur, hist), nil
}

// HasChanges reports whether either side has seen id.
func (b *Blender) HasChanges(id search.DocID) bool {
	return b.Current.HasChanges(id) || b.History.HasChanges(id)
}

// addTotals adds two possibly approximate counts. The sum is approximate if
// either input is.
func addTotals(a, b int) int {
	sum := search.Abs(a) + search.Abs(b)
	if a < 0 || b < 0 {
		return -sum
	}
	return sum
}

func mergeSorted(cur, hist []search.ScoredMatch, limit int) []search.ScoredMatch {
	n := len(cur) + len(hist)
	if limit >= 0 && n > limit {
		n = limit
	}
	out := make([]search.ScoredMatch, 0, n)
	i, j := 0, 0
	for len(out) < n {
		switch {
		case j >= len(hist) || (i < len(cur) && cur[i].Score >= hist[j].Score):
			out = append(out, cur[i])
			i++
		default:
			out = append(out, hist[j])
			j++
		}
	}
	return out
}
