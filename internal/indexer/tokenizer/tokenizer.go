// Package tokenizer provides text tokenisation for the search engine.
// It segments input on UAX#29 word boundaries, NFKC-normalises and
// lower-cases each word, removes stop-words, and applies a simple
// suffix-based stemmer.
package tokenizer

import (
	"strings"
	"unicode"

	"github.com/clipperhouse/uax29/v2/words"
	"golang.org/x/text/unicode/norm"

	"github.com/Adithya-Monish-Kumar-K/rtsearch/internal/search"
)

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {},
	"be": {}, "by": {}, "for": {}, "from": {}, "has": {}, "he": {},
	"in": {}, "is": {}, "it": {}, "its": {}, "of": {}, "on": {},
	"or": {}, "that": {}, "the": {}, "to": {}, "was": {}, "were": {},
	"will": {}, "with": {}, "this": {}, "but": {}, "they": {},
	"have": {}, "had": {}, "what": {}, "when": {}, "where": {},
	"who": {}, "which": {}, "their": {}, "if": {}, "each": {},
	"do": {}, "not": {}, "no": {}, "so": {}, "can": {},
}

// Parser implements search.Parser. Fields listed in KeywordFields are
// indexed as a single normalised token instead of being split into words.
type Parser struct {
	KeywordFields map[string]bool
}

// New returns a Parser treating the given fields as keywords.
func New(keywordFields ...string) *Parser {
	p := &Parser{KeywordFields: make(map[string]bool, len(keywordFields))}
	for _, f := range keywordFields {
		p.KeywordFields[f] = true
	}
	return p
}

// ParseField tokenises the text of one field.
func (p *Parser) ParseField(field, text string) []search.Token {
	if p.KeywordFields[field] {
		term := Normalize(strings.TrimSpace(text))
		if term == "" {
			return nil
		}
		return []search.Token{{Term: term, Position: 0}}
	}
	return Tokenize(text)
}

// Normalize applies NFKC normalisation and lower-casing without stemming.
func Normalize(s string) string {
	return strings.ToLower(norm.NFKC.String(s))
}

// Tokenize breaks text into a slice of stemmed, lowercased Tokens with
// stop-words removed.
func Tokenize(text string) []search.Token {
	segments := words.FromString(Normalize(text))
	var tokens []search.Token
	pos := 0
	for segments.Next() {
		word := segments.Value()
		if len(word) < 2 || !isWord(word) {
			continue
		}
		if _, isStop := stopWords[word]; isStop {
			continue
		}
		stemmed := stem(word)
		if stemmed == "" {
			continue
		}
		tokens = append(tokens, search.Token{
			Term:     stemmed,
			Position: pos,
		})
		pos++
	}
	return tokens
}

// Term normalises a single query word the same way Tokenize would. It
// returns "" for stop-words and punctuation.
func Term(word string) string {
	tokens := Tokenize(word)
	if len(tokens) == 0 {
		return ""
	}
	return tokens[0].Term
}

// isWord reports whether a segment carries a letter or digit; UAX#29 also
// yields whitespace and punctuation segments.
func isWord(seg string) bool {
	for _, r := range seg {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

// stem applies a simple suffix-stripping stemmer to the given word.
func stem(word string) string {
	suffixes := []struct {
		suffix      string
		replacement string
		minLen      int
	}{
		{"ational", "ate", 2},
		{"tional", "tion", 2},
		{"encies", "ence", 2},
		{"ances", "ance", 2},
		{"ments", "ment", 2},
		{"izing", "ize", 2},
		{"ating", "ate", 2},
		{"iness", "y", 2},
		{"ously", "ous", 2},
		{"ively", "ive", 2},
		{"eness", "ene", 2},
		{"ments", "ment", 2},
		{"tion", "t", 3},
		{"sion", "s", 3},
		{"ying", "y", 2},
		{"ling", "l", 3},
		{"ies", "y", 2},
		{"ing", "", 3},
		{"ers", "er", 2},
		{"est", "", 3},
		{"ful", "", 3},
		{"ous", "", 3},
		{"ess", "", 3},
		{"ble", "", 3},
		{"ed", "", 3},
		{"er", "", 3},
		{"ly", "", 3},
		{"es", "", 3},
		{"ss", "ss", 2},
		{"s", "", 3},
	}
	for _, rule := range suffixes {
		if strings.HasSuffix(word, rule.suffix) {
			newWord := word[:len(word)-len(rule.suffix)] + rule.replacement
			if len(newWord) >= rule.minLen {
				return newWord
			}
		}
	}
	return word
}
