package search

import (
	"fmt"
	"strings"
)

// Query is a node of the query tree.
type Query interface {
	fmt.Stringer
	isQuery()
}

// TermQuery matches documents containing Term in Field.
type TermQuery struct {
	Field string
	Term  string
	Boost float64
}

// RangeQuery matches every term of Field in [From, To).
type RangeQuery struct {
	Field string
	From  string
	To    string
	Boost float64
}

// AndQuery matches documents matched by every clause.
type AndQuery struct {
	Clauses []Query
}

// OrQuery matches documents matched by any clause.
type OrQuery struct {
	Clauses []Query
}

// NotQuery matches Include minus Exclude.
type NotQuery struct {
	Include Query
	Exclude Query
}

// AllQuery matches every live document.
type AllQuery struct{}

func (TermQuery) isQuery()  {}
func (RangeQuery) isQuery() {}
func (AndQuery) isQuery()   {}
func (OrQuery) isQuery()    {}
func (NotQuery) isQuery()   {}
func (AllQuery) isQuery()   {}

func (q TermQuery) String() string { return q.Field + ":" + q.Term }

func (q RangeQuery) String() string {
	return fmt.Sprintf("%s:[%s TO %s}", q.Field, q.From, q.To)
}

func (q AndQuery) String() string { return joinClauses(q.Clauses, " AND ") }
func (q OrQuery) String() string  { return joinClauses(q.Clauses, " OR ") }

func (q NotQuery) String() string {
	return fmt.Sprintf("(%s NOT %s)", q.Include, q.Exclude)
}

func (AllQuery) String() string { return "*:*" }

func joinClauses(clauses []Query, sep string) string {
	parts := make([]string, len(clauses))
	for i, c := range clauses {
		parts[i] = c.String()
	}
	return "(" + strings.Join(parts, sep) + ")"
}

// PrefixRange returns the half-open bound [prefix, upper) covering every term
// that starts with prefix. An empty upper bound means unbounded.
func PrefixRange(prefix string) (string, string) {
	b := []byte(prefix)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] < 0xFF {
			b[i]++
			return prefix, string(b[:i+1])
		}
	}
	return prefix, ""
}

func boostOf(b float64) float64 {
	if b == 0 {
		return 1
	}
	return b
}
