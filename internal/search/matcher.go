package search

import (
	"context"
	"fmt"
	"math"

	apperrors "github.com/Adithya-Monish-Kumar-K/rtsearch/pkg/errors"
)

// checkEvery is how many postings are visited between cancellation checks.
const checkEvery = 256

// TermBasedMatcher evaluates a query tree against a single TermMatcher.
type TermBasedMatcher struct {
	Terms  TermMatcher
	Facets FacetProvider
}

// FindMatches returns up to limit matches ordered by descending score. Total
// counts every match that passed filter.
func (m *TermBasedMatcher) FindMatches(ctx context.Context, q Query, filter DocFilter, limit int, scorer Scorer) (*ResultSet, error) {
	decoded, err := m.decoded(ctx, q)
	if err != nil {
		return nil, err
	}
	rs := &ResultSet{Matches: make([]ScoredMatch, 0, len(decoded))}
	for _, match := range decoded {
		if !filter.Accepts(match.DocID) {
			continue
		}
		if scorer != nil {
			match.Score = scorer.Score(match.DocID, match.Score)
		}
		rs.Matches = append(rs.Matches, match)
		if m.Facets != nil {
			rs.Facets = tally(rs.Facets, m.Facets(match.DocID))
		}
	}
	SortMatches(rs.Matches)
	rs.Total = len(rs.Matches)
	if limit >= 0 && len(rs.Matches) > limit {
		rs.Matches = rs.Matches[:limit]
	}
	return rs, nil
}

// CountMatches counts the matches that pass filter.
func (m *TermBasedMatcher) CountMatches(ctx context.Context, q Query, filter DocFilter) (int, error) {
	decoded, err := m.decoded(ctx, q)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, match := range decoded {
		if filter.Accepts(match.DocID) {
			n++
		}
	}
	return n, nil
}

// HasChanges delegates to the underlying index.
func (m *TermBasedMatcher) HasChanges(id DocID) bool {
	return m.Terms.HasChanges(id)
}

func (m *TermBasedMatcher) decoded(ctx context.Context, q Query) ([]ScoredMatch, error) {
	if err := interrupted(ctx); err != nil {
		return nil, err
	}
	e := &evaluator{ctx: ctx, terms: m.Terms}
	scores, err := e.eval(q)
	if err != nil {
		return nil, err
	}
	raw := make([]RawMatch, 0, len(scores))
	for slot, score := range scores {
		raw = append(raw, RawMatch{Slot: slot, Score: score})
	}
	norm := math.Sqrt(e.boostSq)
	if norm == 0 {
		norm = 1
	}
	return m.Terms.Decode(raw, norm), nil
}

type evaluator struct {
	ctx     context.Context
	terms   TermMatcher
	visited int
	boostSq float64
}

func (e *evaluator) eval(q Query) (map[int]float64, error) {
	switch q := q.(type) {
	case TermQuery:
		b := boostOf(q.Boost)
		e.boostSq += b * b
		out := make(map[int]float64)
		it := e.terms.Matches(q.Field, q.Term)
		for it.Next() {
			if err := e.tick(); err != nil {
				return nil, err
			}
			match := it.Match()
			out[match.Slot] += match.TermScore() * b
		}
		return out, nil
	case RangeQuery:
		b := boostOf(q.Boost)
		e.boostSq += b * b
		squares := make(map[int]float64)
		for _, tm := range e.terms.RangeMatches(q.Field, q.From, q.To) {
			for tm.Matches.Next() {
				if err := e.tick(); err != nil {
					return nil, err
				}
				match := tm.Matches.Match()
				squares[match.Slot] += match.SquareTermScore()
			}
		}
		for slot, sq := range squares {
			squares[slot] = math.Sqrt(sq) * b
		}
		return squares, nil
	case AndQuery:
		if len(q.Clauses) == 0 {
			return map[int]float64{}, nil
		}
		acc, err := e.eval(q.Clauses[0])
		if err != nil {
			return nil, err
		}
		for _, clause := range q.Clauses[1:] {
			next, err := e.eval(clause)
			if err != nil {
				return nil, err
			}
			for slot := range acc {
				if s, ok := next[slot]; ok {
					acc[slot] += s
				} else {
					delete(acc, slot)
				}
			}
		}
		return acc, nil
	case OrQuery:
		acc := make(map[int]float64)
		for _, clause := range q.Clauses {
			next, err := e.eval(clause)
			if err != nil {
				return nil, err
			}
			for slot, s := range next {
				acc[slot] += s
			}
		}
		return acc, nil
	case NotQuery:
		acc, err := e.eval(q.Include)
		if err != nil {
			return nil, err
		}
		saved := e.boostSq
		excluded, err := e.eval(q.Exclude)
		if err != nil {
			return nil, err
		}
		e.boostSq = saved
		for slot := range excluded {
			delete(acc, slot)
		}
		return acc, nil
	case AllQuery:
		e.boostSq++
		out := make(map[int]float64)
		for slot := range e.terms.AllDocs() {
			if err := e.tick(); err != nil {
				return nil, err
			}
			out[slot] = 1
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported query node %T: %w", q, apperrors.ErrInvalidInput)
	}
}

func (e *evaluator) tick() error {
	e.visited++
	if e.visited%checkEvery != 0 {
		return nil
	}
	return interrupted(e.ctx)
}

func interrupted(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", apperrors.ErrInterrupted, err)
	}
	return nil
}

func tally(facets map[string]map[string]int, values map[string]string) map[string]map[string]int {
	if len(values) == 0 {
		return facets
	}
	if facets == nil {
		facets = make(map[string]map[string]int)
	}
	for field, value := range values {
		counts, ok := facets[field]
		if !ok {
			counts = make(map[string]int)
			facets[field] = counts
		}
		counts[value]++
	}
	return facets
}
