package query

import (
	"cmp"
	"slices"

	"github.com/basekick-labs/insight/internal/dataset"
)

// Row is one result row keyed by requested column name.
type Row map[string]any

func project(r dataset.Record, columns []Column) Row {
	row := make(Row, len(columns))
	for _, c := range columns {
		row[c.Name] = r[c.Field.Field.Internal]
	}
	return row
}

// sortRows orders rows in place. The sort is stable so rows that compare
// equal on every key keep discovery order.
func sortRows(rows []Row, o *Order) {
	if o == nil {
		return
	}
	slices.SortStableFunc(rows, func(a, b Row) int {
		for _, k := range o.Keys {
			if c := compareValues(a[k], b[k]); c != 0 {
				if o.Dir == Down {
					return -c
				}
				return c
			}
		}
		return 0
	})
}

// compareValues orders numbers numerically and strings lexicographically.
// When the types differ, numbers sort first.
func compareValues(a, b any) int {
	switch x := a.(type) {
	case float64:
		if y, ok := b.(float64); ok {
			return cmp.Compare(x, y)
		}
		return -1
	case string:
		switch y := b.(type) {
		case string:
			return cmp.Compare(x, y)
		case float64:
			return 1
		}
		return -1
	default:
		switch b.(type) {
		case float64, string:
			return 1
		}
		return 0
	}
}
