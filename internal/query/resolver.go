package query

import (
	"strings"

	"github.com/basekick-labs/insight/internal/dataset"
	"github.com/basekick-labs/insight/internal/schema"
)

// Registry is the read-only view of loaded datasets a query runs against.
type Registry interface {
	Datasets() []dataset.Info
	Records(id string) ([]dataset.Record, error)
}

type fieldClass int

const (
	classAny fieldClass = iota
	classNumeric
	classTextual
)

func (c fieldClass) String() string {
	switch c {
	case classNumeric:
		return "numeric"
	case classTextual:
		return "textual"
	default:
		return "any"
	}
}

// binding ties one validation pass to a single dataset. The first scoped
// key resolved fixes id and kind.
type binding struct {
	known map[string]schema.Kind
	id    string
	kind  schema.Kind
}

func newBinding(infos []dataset.Info) *binding {
	known := make(map[string]schema.Kind, len(infos))
	for _, info := range infos {
		known[info.ID] = info.Kind
	}
	return &binding{known: known}
}

func (b *binding) bound() bool { return b.id != "" }

// isScoped reports whether key has the datasetId_field form separator.
func isScoped(key string) bool { return strings.Contains(key, "_") }

func (b *binding) resolve(key string, class fieldClass) (FieldKey, error) {
	if key == "" {
		return FieldKey{}, invalidf("empty key")
	}
	parts := strings.Split(key, "_")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return FieldKey{}, invalidf("malformed key %q", key)
	}
	id, name := parts[0], parts[1]

	if !b.bound() {
		kind, ok := b.known[id]
		if !ok {
			return FieldKey{}, invalidf("dataset %q not added", id)
		}
		b.id, b.kind = id, kind
	} else if id != b.id {
		return FieldKey{}, invalidf("cannot query more than one dataset (%q and %q)", b.id, id)
	}

	field, ok := schema.Lookup(b.kind, name)
	if !ok {
		return FieldKey{}, invalidf("invalid key %q for %s dataset", key, b.kind)
	}
	switch {
	case class == classNumeric && field.Class != schema.Numeric,
		class == classTextual && field.Class != schema.Textual:
		return FieldKey{}, invalidf("key %q is %s, expected %s", key, field.Class, class)
	}
	return FieldKey{Key: key, Dataset: id, Field: field}, nil
}
