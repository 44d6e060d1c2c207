// Package search holds the types shared by every index in the engine: document
// identifiers, posting matches, result sets, the query tree and the matcher
// contracts the in-memory generations, durable segments and the blender all
// satisfy.
package search

import (
	"iter"
	"math"
)

// DocID is the stable external key of a document. It is compared by byte
// content and joins versions of a document across generations and indices.
type DocID string

// NewDocID derives a DocID from a source-supplied string id.
func NewDocID(id string) DocID {
	return DocID(id)
}

// Bytes returns a copy of the identifier's bytes.
func (id DocID) Bytes() []byte {
	return []byte(id)
}

// Document maps field names to field text. Indices tokenise it and keep only
// what they derive from it.
type Document struct {
	Fields map[string]string `json:"fields"`
}

// NewDocument builds a Document from alternating field, text pairs.
func NewDocument(fieldsAndText ...string) Document {
	doc := Document{Fields: make(map[string]string, len(fieldsAndText)/2)}
	for i := 0; i+1 < len(fieldsAndText); i += 2 {
		doc.Fields[fieldsAndText[i]] = fieldsAndText[i+1]
	}
	return doc
}

// Token is a single normalised term and its position within a field.
type Token struct {
	Term     string
	Position int
}

// Parser turns the text of one field into tokens.
type Parser interface {
	ParseField(field, text string) []Token
}

// TermKey orders the postings of an index: by field, then by term.
type TermKey struct {
	Field string
	Term  string
}

// Compare returns -1, 0 or 1.
func (k TermKey) Compare(o TermKey) int {
	switch {
	case k.Field < o.Field:
		return -1
	case k.Field > o.Field:
		return 1
	case k.Term < o.Term:
		return -1
	case k.Term > o.Term:
		return 1
	default:
		return 0
	}
}

// TermMatch is one posting entry as seen by a query.
type TermMatch struct {
	Slot      int
	Freq      int
	Positions []int
	Norm      float64
}

// TermScore is sqrt(freq) scaled by the length normalisation.
func (m TermMatch) TermScore() float64 {
	return math.Sqrt(float64(m.Freq)) * m.Norm
}

// SquareTermScore is TermScore squared, without the square root.
func (m TermMatch) SquareTermScore() float64 {
	return float64(m.Freq) * m.Norm * m.Norm
}

// NormFor returns the length normalisation for a field of contextSize tokens.
func NormFor(contextSize int) float64 {
	if contextSize <= 0 {
		return 1
	}
	return math.Sqrt(1 / float64(contextSize))
}

// MatchIterator walks the postings of one term. It is forward only and cannot
// be restarted.
type MatchIterator interface {
	Next() bool
	Match() TermMatch
	// SkipTo is an optimisation hook. Implementations may ignore it; callers
	// must not depend on it for correctness.
	SkipTo(slot int)
}

// MaxRangeTerms caps the number of distinct terms a range lookup expands to.
const MaxRangeTerms = 1000

// TermMatches pairs a term with its postings for range lookups.
type TermMatches struct {
	Term    string
	Matches MatchIterator
}

// RawMatch is a slot-level match before it is decoded to a DocID.
type RawMatch struct {
	Slot  int
	Score float64
}

// ScoredMatch is a decoded, scored result.
type ScoredMatch struct {
	DocID DocID   `json:"doc_id"`
	Score float64 `json:"score"`
}

// TermMatcher is the per-index contract the query evaluator runs against.
type TermMatcher interface {
	Matches(field, term string) MatchIterator
	RangeMatches(field, from, to string) []TermMatches
	AllDocs() iter.Seq[int]
	HasChanges(id DocID) bool
	Decode(raw []RawMatch, boostedNorm float64) []ScoredMatch
}

// EmptyIterator matches nothing.
type EmptyIterator struct{}

func (EmptyIterator) Next() bool       { return false }
func (EmptyIterator) Match() TermMatch { return TermMatch{} }
func (EmptyIterator) SkipTo(int)       {}

// SliceIterator iterates a decoded posting slice, skipping deleted slots.
type SliceIterator struct {
	matches []TermMatch
	deleted func(slot int) bool
	pos     int
}

// NewSliceIterator returns an iterator over matches. deleted may be nil.
func NewSliceIterator(matches []TermMatch, deleted func(slot int) bool) *SliceIterator {
	return &SliceIterator{matches: matches, deleted: deleted, pos: -1}
}

func (it *SliceIterator) Next() bool {
	for it.pos+1 < len(it.matches) {
		it.pos++
		if it.deleted == nil || !it.deleted(it.matches[it.pos].Slot) {
			return true
		}
	}
	it.pos = len(it.matches)
	return false
}

func (it *SliceIterator) Match() TermMatch {
	return it.matches[it.pos]
}

func (it *SliceIterator) SkipTo(int) {}
