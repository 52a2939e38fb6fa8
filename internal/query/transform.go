package query

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/basekick-labs/insight/internal/dataset"
)

// aggregate is the running state of one APPLY rule within one group.
type aggregate struct {
	value float64         // MAX, MIN, SUM
	sum   decimal.Decimal // AVG
	count int64           // AVG, COUNT
}

type accumulator struct {
	values []any // group tuple, aligned with Transform.Group
	aggs   []aggregate
}

// grouper partitions records by their GROUP tuple. Groups are emitted in
// the order their first record was seen.
type grouper struct {
	t      *Transform
	index  map[string]int
	groups []*accumulator
}

func newGrouper(t *Transform) *grouper {
	return &grouper{t: t, index: make(map[string]int)}
}

func (g *grouper) add(r dataset.Record) {
	values := make([]any, len(g.t.Group))
	for i, fk := range g.t.Group {
		values[i] = r[fk.Field.Internal]
	}
	key := tupleKey(values)

	if i, ok := g.index[key]; ok {
		g.update(g.groups[i], r)
		return
	}

	acc := &accumulator{values: values, aggs: make([]aggregate, len(g.t.Apply))}
	for i, rule := range g.t.Apply {
		acc.aggs[i] = seed(rule, r)
	}
	g.index[key] = len(g.groups)
	g.groups = append(g.groups, acc)
}

func seed(rule ApplyRule, r dataset.Record) aggregate {
	v, _ := r.Number(rule.Field.Field.Internal)
	switch rule.Token {
	case TokenAvg:
		return aggregate{sum: decimal.NewFromFloat(v), count: 1}
	case TokenCount:
		return aggregate{count: 1}
	default:
		return aggregate{value: v}
	}
}

func (g *grouper) update(acc *accumulator, r dataset.Record) {
	for i, rule := range g.t.Apply {
		a := &acc.aggs[i]
		if rule.Token == TokenCount {
			a.count++
			continue
		}
		v, _ := r.Number(rule.Field.Field.Internal)
		switch rule.Token {
		case TokenMax:
			if v > a.value {
				a.value = v
			}
		case TokenMin:
			if v < a.value {
				a.value = v
			}
		case TokenSum:
			a.value += v
		case TokenAvg:
			a.sum = a.sum.Add(decimal.NewFromFloat(v))
			a.count++
		}
	}
}

// len returns the number of groups found so far.
func (g *grouper) len() int { return len(g.groups) }

// rows finalizes every group and restricts it to the requested columns.
func (g *grouper) rows(columns []Column) []Row {
	out := make([]Row, 0, len(g.groups))
	for _, acc := range g.groups {
		row := make(Row, len(columns))
		for _, c := range columns {
			if c.Apply {
				i := g.t.applyIndex(c.Name)
				row[c.Name] = finalize(g.t.Apply[i].Token, acc.aggs[i])
				continue
			}
			row[c.Name] = acc.values[g.t.groupIndex(c.Name)]
		}
		out = append(out, row)
	}
	return out
}

// finalize rounds AVG and SUM to two places, half away from zero.
func finalize(token Token, a aggregate) float64 {
	switch token {
	case TokenAvg:
		return a.sum.DivRound(decimal.NewFromInt(a.count), 2).InexactFloat64()
	case TokenSum:
		return decimal.NewFromFloat(a.value).Round(2).InexactFloat64()
	case TokenCount:
		return float64(a.count)
	default:
		return a.value
	}
}

// tupleKey encodes a group tuple so that values equal under == produce the
// same key and values of different types never collide.
func tupleKey(values []any) string {
	var sb strings.Builder
	for _, v := range values {
		switch x := v.(type) {
		case string:
			sb.WriteString("s")
			sb.WriteString(strconv.Itoa(len(x)))
			sb.WriteByte(':')
			sb.WriteString(x)
		case float64:
			if x == 0 {
				x = 0 // -0
			}
			sb.WriteString("n")
			sb.WriteString(strconv.FormatFloat(x, 'g', -1, 64))
			sb.WriteByte(';')
		default:
			sb.WriteString("x;")
		}
	}
	return sb.String()
}
