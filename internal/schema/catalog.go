// Package schema holds the static field catalog for the two dataset kinds
// and the alias table between query-facing and stored field names.
package schema

import (
	"fmt"
	"strings"
)

// Kind is the record shape of a dataset.
type Kind string

const (
	KindSections Kind = "sections"
	KindRooms    Kind = "rooms"
)

// ParseKind converts a user supplied kind string.
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindSections:
		return KindSections, nil
	case KindRooms:
		return KindRooms, nil
	default:
		return "", fmt.Errorf("unknown dataset kind %q (valid: sections, rooms)", s)
	}
}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	return k == KindSections || k == KindRooms
}

// FieldClass separates fields usable in numeric comparisons from those
// usable in string matches.
type FieldClass int

const (
	Numeric FieldClass = iota
	Textual
)

func (c FieldClass) String() string {
	if c == Numeric {
		return "numeric"
	}
	return "textual"
}

// Field is one query-facing field of a kind.
type Field struct {
	Name     string // name used in queries, e.g. "avg"
	Internal string // name in stored records, e.g. "Avg"
	Class    FieldClass
}

// Alias table: position i of queryNames maps to position i of storedNames.
var (
	queryNames = []string{
		"uuid", "id", "title", "instructor", "dept", "year", "avg", "pass", "fail", "audit",
		"fullname", "shortname", "number", "name", "address", "type", "furniture", "href", "lat", "lon", "seats",
	}
	storedNames = []string{
		"id", "Course", "Title", "Professor", "Subject", "Year", "Avg", "Pass", "Fail", "Audit",
		"fullname", "shortname", "number", "name", "address", "type", "furniture", "href", "lat", "lon", "seats",
	}
)

var (
	sectionsNumeric = []string{"avg", "pass", "fail", "audit", "year"}
	sectionsTextual = []string{"dept", "id", "instructor", "title", "uuid"}
	roomsNumeric    = []string{"lat", "lon", "seats"}
	roomsTextual    = []string{"fullname", "shortname", "number", "name", "address", "type", "furniture", "href"}
)

var (
	aliases = make(map[string]string, len(queryNames))
	fields  = map[Kind]map[string]Field{}
	ordered = map[Kind][]Field{}
)

func init() {
	if len(queryNames) != len(storedNames) {
		panic("schema: alias table columns are not aligned")
	}
	for i, name := range queryNames {
		aliases[name] = storedNames[i]
	}
	register(KindSections, sectionsNumeric, sectionsTextual)
	register(KindRooms, roomsNumeric, roomsTextual)
}

func register(kind Kind, numeric, textual []string) {
	set := make(map[string]Field, len(numeric)+len(textual))
	var list []Field
	add := func(name string, class FieldClass) {
		f := Field{Name: name, Internal: aliases[name], Class: class}
		set[name] = f
		list = append(list, f)
	}
	for _, name := range numeric {
		add(name, Numeric)
	}
	for _, name := range textual {
		add(name, Textual)
	}
	fields[kind] = set
	ordered[kind] = list
}

// Lookup returns the catalog entry for a query-facing field name of kind.
func Lookup(kind Kind, name string) (Field, bool) {
	f, ok := fields[kind][name]
	return f, ok
}

// Fields returns the fields of kind, numeric fields first.
func Fields(kind Kind) []Field {
	out := make([]Field, len(ordered[kind]))
	copy(out, ordered[kind])
	return out
}

// InternalName maps a query-facing field name to the stored record field.
func InternalName(name string) (string, bool) {
	n, ok := aliases[name]
	return n, ok
}

// Required returns the stored field names every record of kind carries.
func Required(kind Kind) []string {
	list := ordered[kind]
	out := make([]string, 0, len(list))
	for _, f := range list {
		out = append(out, f.Internal)
	}
	return out
}
