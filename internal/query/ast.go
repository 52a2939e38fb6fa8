package query

import (
	"strings"

	"github.com/basekick-labs/insight/internal/dataset"
	"github.com/basekick-labs/insight/internal/schema"
)

// Query is the validated form of a query document. It is built once by
// Parse and never modified afterwards.
type Query struct {
	Dataset   string
	Kind      schema.Kind
	Filter    Filter
	Columns   []Column
	Order     *Order     // nil keeps discovery order
	Transform *Transform // nil for plain projection
}

// FieldKey is a resolved "datasetId_field" reference.
type FieldKey struct {
	Key     string // as written in the query, e.g. "sections_avg"
	Dataset string
	Field   schema.Field
}

// Column is one requested output column. Exactly one of Field or Apply is set.
type Column struct {
	Name  string
	Field *FieldKey
	Apply bool
}

// Direction of an ORDER clause.
type Direction int

const (
	Up Direction = iota
	Down
)

// Order lists sort keys, compared left to right.
type Order struct {
	Dir  Direction
	Keys []string
}

// Token names an aggregate function.
type Token string

const (
	TokenMax   Token = "MAX"
	TokenMin   Token = "MIN"
	TokenAvg   Token = "AVG"
	TokenSum   Token = "SUM"
	TokenCount Token = "COUNT"
)

func parseToken(s string) (Token, bool) {
	switch t := Token(s); t {
	case TokenMax, TokenMin, TokenAvg, TokenSum, TokenCount:
		return t, true
	}
	return "", false
}

// ApplyRule computes one named aggregate per group.
type ApplyRule struct {
	Name  string
	Token Token
	Field FieldKey
}

// Transform groups filtered records and applies aggregates to each group.
type Transform struct {
	Group []FieldKey
	Apply []ApplyRule
}

// groupIndex returns the position of key among the GROUP keys, or -1.
func (t *Transform) groupIndex(key string) int {
	for i, g := range t.Group {
		if g.Key == key {
			return i
		}
	}
	return -1
}

func (t *Transform) applyIndex(name string) int {
	for i, r := range t.Apply {
		if r.Name == name {
			return i
		}
	}
	return -1
}

// Filter is a node of the WHERE expression tree.
type Filter interface {
	Matches(r dataset.Record) bool
	filterNode()
}

// Always matches every record. It is the filter of an empty WHERE.
type Always struct{}

// And matches when every child matches.
type And struct{ Children []Filter }

// Or matches when any child matches.
type Or struct{ Children []Filter }

// Not inverts its child.
type Not struct{ Child Filter }

// CompareOp is a numeric comparison operator.
type CompareOp string

const (
	OpGT CompareOp = "GT"
	OpLT CompareOp = "LT"
	OpEQ CompareOp = "EQ"
)

// Compare tests a numeric field against a literal.
type Compare struct {
	Op    CompareOp
	Field FieldKey
	Value float64
}

// Match tests a textual field against a pattern with optional leading
// and trailing '*' wildcards.
type Match struct {
	Field   FieldKey
	Pattern string
}

func (Always) filterNode()  {}
func (And) filterNode()     {}
func (Or) filterNode()      {}
func (Not) filterNode()     {}
func (Compare) filterNode() {}
func (Match) filterNode()   {}

func (Always) Matches(dataset.Record) bool { return true }

func (f And) Matches(r dataset.Record) bool {
	for _, c := range f.Children {
		if !c.Matches(r) {
			return false
		}
	}
	return true
}

func (f Or) Matches(r dataset.Record) bool {
	for _, c := range f.Children {
		if c.Matches(r) {
			return true
		}
	}
	return false
}

func (f Not) Matches(r dataset.Record) bool { return !f.Child.Matches(r) }

func (f Compare) Matches(r dataset.Record) bool {
	v, ok := r.Number(f.Field.Field.Internal)
	if !ok {
		return false
	}
	switch f.Op {
	case OpGT:
		return v > f.Value
	case OpLT:
		return v < f.Value
	case OpEQ:
		return v == f.Value
	}
	return false
}

func (f Match) Matches(r dataset.Record) bool {
	s, ok := r.Text(f.Field.Field.Internal)
	if !ok {
		return false
	}
	return matchWildcard(s, f.Pattern)
}

func matchWildcard(s, pattern string) bool {
	lead := strings.HasPrefix(pattern, "*")
	trail := strings.HasSuffix(pattern, "*")
	switch {
	case lead && trail && len(pattern) >= 2:
		return strings.Contains(s, pattern[1:len(pattern)-1])
	case lead:
		return strings.HasSuffix(s, pattern[1:])
	case trail:
		return strings.HasPrefix(s, pattern[:len(pattern)-1])
	default:
		return s == pattern
	}
}

// validPattern rejects wildcards anywhere but the first and last position.
func validPattern(pattern string) bool {
	if len(pattern) <= 2 {
		return true
	}
	return !strings.Contains(pattern[1:len(pattern)-1], "*")
}
