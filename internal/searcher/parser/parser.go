// Package parser turns user query strings into search.Query trees.
//
// Grammar, loosest binding first:
//
//	query   := and ("OR" and)*
//	and     := clause (["AND"] clause)*
//	clause  := ["NOT" | "-"] primary
//	primary := "(" query ")" | [field ":"] word ["*"] ["^" boost]
//
// Adjacent clauses are ANDed. A word without a field is searched in every
// default field. A trailing "*" turns the word into a prefix range.
package parser

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/Adithya-Monish-Kumar-K/rtsearch/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/rtsearch/internal/search"
	apperrors "github.com/Adithya-Monish-Kumar-K/rtsearch/pkg/errors"
)

// Parser analyses query words with the same analyzer the index uses.
type Parser struct {
	analyzer      *tokenizer.Parser
	defaultFields []string
}

func New(analyzer *tokenizer.Parser, defaultFields ...string) *Parser {
	if len(defaultFields) == 0 {
		defaultFields = []string{"body"}
	}
	return &Parser{analyzer: analyzer, defaultFields: defaultFields}
}

// Parse parses query. "*" matches every document. A query made only of
// stop words yields nil and no error.
func (p *Parser) Parse(query string) (search.Query, error) {
	toks := lex(query)
	if len(toks) == 0 {
		return nil, fmt.Errorf("empty query: %w", apperrors.ErrInvalidInput)
	}
	st := &state{p: p, toks: toks}
	q, err := st.parseOr()
	if err != nil {
		return nil, err
	}
	if t := st.peek(); t != "" {
		return nil, fmt.Errorf("unexpected %q at position %d: %w", t, st.pos, apperrors.ErrInvalidInput)
	}
	return q, nil
}

func lex(s string) []string {
	var toks []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			toks = append(toks, cur.String())
			cur.Reset()
		}
	}
	for _, r := range s {
		switch {
		case r == '(' || r == ')':
			flush()
			toks = append(toks, string(r))
		case unicode.IsSpace(r):
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return toks
}

type state struct {
	p    *Parser
	toks []string
	pos  int
}

func (s *state) peek() string {
	if s.pos >= len(s.toks) {
		return ""
	}
	return s.toks[s.pos]
}

func (s *state) next() string {
	t := s.peek()
	if t != "" {
		s.pos++
	}
	return t
}

func (s *state) parseOr() (search.Query, error) {
	var clauses []search.Query
	for {
		q, err := s.parseAnd()
		if err != nil {
			return nil, err
		}
		if q != nil {
			clauses = append(clauses, q)
		}
		if s.peek() != "OR" {
			break
		}
		s.next()
	}
	return combine(clauses, func(c []search.Query) search.Query { return search.OrQuery{Clauses: c} }), nil
}

func (s *state) parseAnd() (search.Query, error) {
	var include, exclude []search.Query
	start := s.pos
	for {
		t := s.peek()
		if t == "" || t == ")" || t == "OR" {
			break
		}
		if t == "AND" {
			s.next()
			continue
		}
		negate := false
		if t == "NOT" {
			s.next()
			negate = true
		} else if len(t) > 1 && t[0] == '-' {
			s.toks[s.pos] = t[1:]
			negate = true
		}
		q, err := s.parsePrimary()
		if err != nil {
			return nil, err
		}
		switch {
		case q == nil:
		case negate:
			exclude = append(exclude, q)
		default:
			include = append(include, q)
		}
	}
	if s.pos == start {
		return nil, fmt.Errorf("expected a term at position %d: %w", s.pos, apperrors.ErrInvalidInput)
	}
	if len(include) == 0 && len(exclude) == 0 {
		return nil, nil
	}
	inc := combine(include, func(c []search.Query) search.Query { return search.AndQuery{Clauses: c} })
	if inc == nil {
		inc = search.AllQuery{}
	}
	if len(exclude) == 0 {
		return inc, nil
	}
	exc := combine(exclude, func(c []search.Query) search.Query { return search.OrQuery{Clauses: c} })
	return search.NotQuery{Include: inc, Exclude: exc}, nil
}

func (s *state) parsePrimary() (search.Query, error) {
	t := s.next()
	switch t {
	case "":
		return nil, fmt.Errorf("query ends where a term was expected: %w", apperrors.ErrInvalidInput)
	case "(":
		q, err := s.parseOr()
		if err != nil {
			return nil, err
		}
		if s.next() != ")" {
			return nil, fmt.Errorf("missing closing parenthesis: %w", apperrors.ErrInvalidInput)
		}
		return q, nil
	case ")", "AND", "OR", "NOT":
		return nil, fmt.Errorf("unexpected %q where a term was expected: %w", t, apperrors.ErrInvalidInput)
	}
	return s.p.word(t)
}

func (p *Parser) word(w string) (search.Query, error) {
	var boost float64
	if i := strings.LastIndexByte(w, '^'); i > 0 {
		b, err := strconv.ParseFloat(w[i+1:], 64)
		if err != nil || b <= 0 {
			return nil, fmt.Errorf("invalid boost in %q: %w", w, apperrors.ErrInvalidInput)
		}
		boost = b
		w = w[:i]
	}
	if w == "*" {
		return search.AllQuery{}, nil
	}
	fields := p.defaultFields
	if i := strings.IndexByte(w, ':'); i > 0 {
		fields = []string{w[:i]}
		w = w[i+1:]
	}
	if w == "" {
		return nil, fmt.Errorf("field without a term: %w", apperrors.ErrInvalidInput)
	}
	prefix := strings.HasSuffix(w, "*")
	w = strings.TrimSuffix(w, "*")

	var clauses []search.Query
	for _, f := range fields {
		if q := p.fieldQuery(f, w, prefix, boost); q != nil {
			clauses = append(clauses, q)
		}
	}
	return combine(clauses, func(c []search.Query) search.Query { return search.OrQuery{Clauses: c} }), nil
}

func (p *Parser) fieldQuery(field, w string, prefix bool, boost float64) search.Query {
	if prefix {
		from, to := search.PrefixRange(tokenizer.Normalize(w))
		return search.RangeQuery{Field: field, From: from, To: to, Boost: boost}
	}
	tokens := p.analyzer.ParseField(field, w)
	terms := make([]search.Query, len(tokens))
	for i, tok := range tokens {
		terms[i] = search.TermQuery{Field: field, Term: tok.Term, Boost: boost}
	}
	return combine(terms, func(c []search.Query) search.Query { return search.AndQuery{Clauses: c} })
}

func combine(clauses []search.Query, build func([]search.Query) search.Query) search.Query {
	switch len(clauses) {
	case 0:
		return nil
	case 1:
		return clauses[0]
	default:
		return build(clauses)
	}
}
