package query

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"

	"github.com/basekick-labs/insight/internal/dataset"
)

// Top-level and OPTIONS keys of a query document.
const (
	keyWhere     = "WHERE"
	keyOptions   = "OPTIONS"
	keyTransform = "TRANSFORMATIONS"
	keyColumns   = "COLUMNS"
	keyOrder     = "ORDER"
	keyGroup     = "GROUP"
	keyApply     = "APPLY"
)

// Decode reads a query document that must be exactly one JSON object.
// Numbers stay json.Number so integer and decimal literals keep their text.
// Every failure wraps ErrInvalidQuery.
func Decode(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidQuery, err)
	}
	if doc == nil {
		return nil, invalidf("query must be a JSON object")
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, invalidf("unexpected data after query object")
	}
	return doc, nil
}

// Parse validates a decoded query document against the known datasets
// and returns its immutable AST. Every failure wraps ErrInvalidQuery.
func Parse(doc map[string]any, infos []dataset.Info) (*Query, error) {
	if doc == nil {
		return nil, invalidf("query is not an object")
	}
	for k := range doc {
		if k != keyWhere && k != keyOptions && k != keyTransform {
			return nil, invalidf("unexpected top-level key %q", k)
		}
	}
	whereRaw, ok := doc[keyWhere]
	if !ok {
		return nil, invalidf("missing %s", keyWhere)
	}
	optsRaw, ok := doc[keyOptions]
	if !ok {
		return nil, invalidf("missing %s", keyOptions)
	}

	p := &parser{b: newBinding(infos)}
	q := &Query{}

	where, ok := whereRaw.(map[string]any)
	if !ok {
		return nil, invalidf("%s must be an object", keyWhere)
	}
	if len(where) == 0 {
		q.Filter = Always{}
	} else {
		f, err := p.filter(where)
		if err != nil {
			return nil, err
		}
		q.Filter = f
	}

	columns, order, err := p.options(optsRaw)
	if err != nil {
		return nil, err
	}

	if raw, ok := doc[keyTransform]; ok {
		t, err := p.transform(raw)
		if err != nil {
			return nil, err
		}
		q.Transform = t
	}

	if q.Columns, err = p.columns(columns, q.Transform); err != nil {
		return nil, err
	}
	if order != nil {
		for _, k := range order.Keys {
			if !slices.Contains(columns, k) {
				return nil, invalidf("ORDER key %q must be in COLUMNS", k)
			}
		}
		q.Order = order
	}

	if !p.b.bound() {
		return nil, invalidf("empty query")
	}
	q.Dataset, q.Kind = p.b.id, p.b.kind
	return q, nil
}

type parser struct {
	b *binding
}

func (p *parser) filter(node map[string]any) (Filter, error) {
	if len(node) != 1 {
		return nil, invalidf("filter must have exactly one operator, got %d", len(node))
	}
	for op, val := range node {
		switch op {
		case "AND", "OR":
			children, err := p.children(op, val)
			if err != nil {
				return nil, err
			}
			if op == "AND" {
				return And{Children: children}, nil
			}
			return Or{Children: children}, nil
		case "NOT":
			inner, ok := val.(map[string]any)
			if !ok {
				return nil, invalidf("NOT must be an object")
			}
			child, err := p.filter(inner)
			if err != nil {
				return nil, err
			}
			return Not{Child: child}, nil
		case "GT", "LT", "EQ":
			key, raw, err := singleEntry(op, val)
			if err != nil {
				return nil, err
			}
			fk, err := p.b.resolve(key, classNumeric)
			if err != nil {
				return nil, err
			}
			n, ok := toNumber(raw)
			if !ok {
				return nil, invalidf("invalid type in %s, expected number", op)
			}
			return Compare{Op: CompareOp(op), Field: fk, Value: n}, nil
		case "IS":
			key, raw, err := singleEntry(op, val)
			if err != nil {
				return nil, err
			}
			fk, err := p.b.resolve(key, classTextual)
			if err != nil {
				return nil, err
			}
			pattern, ok := raw.(string)
			if !ok {
				return nil, invalidf("invalid type in IS, expected string")
			}
			if !validPattern(pattern) {
				return nil, invalidf("asterisks can only be the first or last characters of %q", pattern)
			}
			return Match{Field: fk, Pattern: pattern}, nil
		default:
			return nil, invalidf("invalid filter key %q", op)
		}
	}
	panic("unreachable")
}

func (p *parser) children(op string, val any) ([]Filter, error) {
	list, ok := val.([]any)
	if !ok {
		return nil, invalidf("%s must be an array", op)
	}
	if len(list) == 0 {
		return nil, invalidf("%s must be a non-empty array", op)
	}
	out := make([]Filter, 0, len(list))
	for _, item := range list {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, invalidf("%s elements must be objects", op)
		}
		f, err := p.filter(obj)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

func singleEntry(op string, val any) (string, any, error) {
	obj, ok := val.(map[string]any)
	if !ok || len(obj) != 1 {
		return "", nil, invalidf("%s must be an object with one key", op)
	}
	for k, v := range obj {
		return k, v, nil
	}
	panic("unreachable")
}

// options validates COLUMNS and ORDER. Scoped columns are resolved here so
// they bind the dataset in document order; bare names wait for APPLY.
func (p *parser) options(raw any) ([]string, *Order, error) {
	opts, ok := raw.(map[string]any)
	if !ok {
		return nil, nil, invalidf("%s must be an object", keyOptions)
	}
	for k := range opts {
		if k != keyColumns && k != keyOrder {
			return nil, nil, invalidf("invalid key %q in %s", k, keyOptions)
		}
	}
	colsRaw, ok := opts[keyColumns]
	if !ok {
		return nil, nil, invalidf("%s missing %s", keyOptions, keyColumns)
	}
	columns, err := stringList(keyColumns, colsRaw)
	if err != nil {
		return nil, nil, err
	}
	for _, c := range columns {
		if isScoped(c) {
			if _, err := p.b.resolve(c, classAny); err != nil {
				return nil, nil, err
			}
		}
	}

	orderRaw, ok := opts[keyOrder]
	if !ok {
		return columns, nil, nil
	}
	order, err := parseOrder(orderRaw)
	if err != nil {
		return nil, nil, err
	}
	return columns, order, nil
}

func parseOrder(raw any) (*Order, error) {
	switch v := raw.(type) {
	case string:
		if v == "" {
			return nil, invalidf("ORDER key is empty")
		}
		return &Order{Dir: Up, Keys: []string{v}}, nil
	case map[string]any:
		if len(v) != 2 {
			return nil, invalidf("ORDER must have exactly dir and keys")
		}
		dirRaw, ok := v["dir"]
		if !ok {
			return nil, invalidf("ORDER missing dir")
		}
		keysRaw, ok := v["keys"]
		if !ok {
			return nil, invalidf("ORDER missing keys")
		}
		o := &Order{}
		switch dirRaw {
		case "UP":
			o.Dir = Up
		case "DOWN":
			o.Dir = Down
		default:
			return nil, invalidf("invalid ORDER direction %v", dirRaw)
		}
		keys, err := stringList("ORDER keys", keysRaw)
		if err != nil {
			return nil, err
		}
		o.Keys = keys
		return o, nil
	default:
		return nil, invalidf("invalid ORDER type")
	}
}

func (p *parser) transform(raw any) (*Transform, error) {
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, invalidf("%s must be an object", keyTransform)
	}
	if len(obj) != 2 {
		return nil, invalidf("%s must have exactly %s and %s", keyTransform, keyGroup, keyApply)
	}
	groupRaw, ok := obj[keyGroup]
	if !ok {
		return nil, invalidf("%s missing %s", keyTransform, keyGroup)
	}
	applyRaw, ok := obj[keyApply]
	if !ok {
		return nil, invalidf("%s missing %s", keyTransform, keyApply)
	}

	t := &Transform{}
	keys, err := stringList(keyGroup, groupRaw)
	if err != nil {
		return nil, err
	}
	for _, k := range keys {
		fk, err := p.b.resolve(k, classAny)
		if err != nil {
			return nil, err
		}
		t.Group = append(t.Group, fk)
	}

	rules, ok := applyRaw.([]any)
	if !ok {
		return nil, invalidf("%s must be an array", keyApply)
	}
	for _, item := range rules {
		rule, err := p.applyRule(item)
		if err != nil {
			return nil, err
		}
		if i := t.applyIndex(rule.Name); i >= 0 {
			t.Apply[i] = rule
		} else {
			t.Apply = append(t.Apply, rule)
		}
	}
	return t, nil
}

func (p *parser) applyRule(item any) (ApplyRule, error) {
	name, body, err := singleEntry("APPLY rule", item)
	if err != nil {
		return ApplyRule{}, err
	}
	if name == "" || isScoped(name) {
		return ApplyRule{}, invalidf("invalid APPLY name %q", name)
	}
	tokenRaw, keyRaw, err := singleEntry("APPLY "+name, body)
	if err != nil {
		return ApplyRule{}, err
	}
	token, ok := parseToken(tokenRaw)
	if !ok {
		return ApplyRule{}, invalidf("invalid APPLY token %q", tokenRaw)
	}
	key, ok := keyRaw.(string)
	if !ok {
		return ApplyRule{}, invalidf("APPLY key for %q must be a string", name)
	}
	class := classNumeric
	if token == TokenCount {
		class = classAny
	}
	fk, err := p.b.resolve(key, class)
	if err != nil {
		return ApplyRule{}, err
	}
	return ApplyRule{Name: name, Token: token, Field: fk}, nil
}

// columns checks that every requested column is either a dataset field
// (no transform) or a GROUP key or APPLY name (with transform).
func (p *parser) columns(names []string, t *Transform) ([]Column, error) {
	out := make([]Column, 0, len(names))
	for _, name := range names {
		if t == nil {
			fk, err := p.b.resolve(name, classAny)
			if err != nil {
				return nil, err
			}
			out = append(out, Column{Name: name, Field: &fk})
			continue
		}
		if i := t.groupIndex(name); i >= 0 {
			fk := t.Group[i]
			out = append(out, Column{Name: name, Field: &fk})
			continue
		}
		if t.applyIndex(name) >= 0 {
			out = append(out, Column{Name: name, Apply: true})
			continue
		}
		return nil, invalidf("column %q must be a GROUP key or an APPLY name", name)
	}
	return out, nil
}

func stringList(what string, raw any) ([]string, error) {
	list, ok := raw.([]any)
	if !ok || len(list) == 0 {
		return nil, invalidf("%s must be a non-empty array", what)
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		s, ok := item.(string)
		if !ok {
			return nil, invalidf("%s must contain only strings", what)
		}
		out = append(out, s)
	}
	return out, nil
}

func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
