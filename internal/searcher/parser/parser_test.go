package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/rtsearch/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/rtsearch/internal/search"
	apperrors "github.com/Adithya-Monish-Kumar-K/rtsearch/pkg/errors"
)

func body(word string) search.TermQuery {
	return search.TermQuery{Field: "body", Term: tokenizer.Term(word)}
}

func TestParse(t *testing.T) {
	p := New(tokenizer.New("lang"))

	tests := []struct {
		input string
		want  search.Query
	}{
		{"fox", body("fox")},
		{"quick fox", search.AndQuery{Clauses: []search.Query{body("quick"), body("fox")}}},
		{"quick AND fox", search.AndQuery{Clauses: []search.Query{body("quick"), body("fox")}}},
		{"quick OR fox", search.OrQuery{Clauses: []search.Query{body("quick"), body("fox")}}},
		{"quick fox OR dog", search.OrQuery{Clauses: []search.Query{
			search.AndQuery{Clauses: []search.Query{body("quick"), body("fox")}},
			body("dog"),
		}}},
		{"quick (fox OR dog)", search.AndQuery{Clauses: []search.Query{
			body("quick"),
			search.OrQuery{Clauses: []search.Query{body("fox"), body("dog")}},
		}}},
		{"fox NOT dog", search.NotQuery{Include: body("fox"), Exclude: body("dog")}},
		{"fox -dog -cat", search.NotQuery{
			Include: body("fox"),
			Exclude: search.OrQuery{Clauses: []search.Query{body("dog"), body("cat")}},
		}},
		{"NOT dog", search.NotQuery{Include: search.AllQuery{}, Exclude: body("dog")}},
		{"title:fox", search.TermQuery{Field: "title", Term: tokenizer.Term("fox")}},
		{"lang:EN-us", search.TermQuery{Field: "lang", Term: "en-us"}},
		{"fo*", search.RangeQuery{Field: "body", From: "fo", To: "fp"}},
		{"title:Fo*", search.RangeQuery{Field: "title", From: "fo", To: "fp"}},
		{"fox^2", search.TermQuery{Field: "body", Term: tokenizer.Term("fox"), Boost: 2}},
		{"*", search.AllQuery{}},
		{"the", nil},
		{"the fox", body("fox")},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := p.Parse(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseDefaultFields(t *testing.T) {
	p := New(tokenizer.New(), "title", "body")
	got, err := p.Parse("fox")
	require.NoError(t, err)
	assert.Equal(t, search.OrQuery{Clauses: []search.Query{
		search.TermQuery{Field: "title", Term: tokenizer.Term("fox")},
		body("fox"),
	}}, got)
}

func TestParseErrors(t *testing.T) {
	p := New(tokenizer.New())
	for _, input := range []string{"", "   ", "(fox", "fox)", "fox NOT", "title:", "fox^0", "fox^x", "OR"} {
		t.Run(input, func(t *testing.T) {
			_, err := p.Parse(input)
			assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
		})
	}
}
