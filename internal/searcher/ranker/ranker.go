// Package ranker turns textual match scores into final ranking scores using
// per-document dynamic data.
package ranker

import (
	"math"

	"github.com/Adithya-Monish-Kumar-K/rtsearch/internal/boosts"
	"github.com/Adithya-Monish-Kumar-K/rtsearch/internal/search"
)

// Identity keeps the textual score.
var Identity search.Scorer = search.ScorerFunc(func(_ search.DocID, textScore float64) float64 {
	return textScore
})

// BoostLookup is the read side of the boosts store.
type BoostLookup interface {
	Get(id search.DocID) (boosts.Entry, bool)
}

// BoostScorer multiplies the text score by 1 + the document's primary
// boost. Documents without boosts keep their text score.
type BoostScorer struct {
	Boosts BoostLookup
}

func NewBoostScorer(store BoostLookup) *BoostScorer {
	return &BoostScorer{Boosts: store}
}

func (s *BoostScorer) Score(id search.DocID, textScore float64) float64 {
	e, ok := s.Boosts.Get(id)
	if !ok || len(e.Boosts) == 0 {
		return round(textScore)
	}
	return round(textScore * (1 + e.Boosts[0]))
}

func round(score float64) float64 {
	return math.Round(score*10000) / 10000
}
