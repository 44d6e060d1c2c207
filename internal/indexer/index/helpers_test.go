package index

import (
	"strings"

	"github.com/Adithya-Monish-Kumar-K/rtsearch/internal/search"
)

type fieldsParser struct{}

func (fieldsParser) ParseField(_, text string) []search.Token {
	words := strings.Fields(strings.ToLower(text))
	tokens := make([]search.Token, len(words))
	for i, w := range words {
		tokens[i] = search.Token{Term: w, Position: i}
	}
	return tokens
}

func drain(it search.MatchIterator) []search.TermMatch {
	var out []search.TermMatch
	for it.Next() {
		out = append(out, it.Match())
	}
	return out
}
