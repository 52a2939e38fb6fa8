package query

import (
	"time"

	"github.com/rs/zerolog"
)

// Executor validates and runs query documents. It holds no per-query
// state and is safe for concurrent use as long as each Registry it is
// handed stays unchanged for the duration of the call.
type Executor struct {
	logger zerolog.Logger
}

// NewExecutor creates an executor.
func NewExecutor(logger zerolog.Logger) *Executor {
	return &Executor{
		logger: logger.With().Str("component", "query-executor").Logger(),
	}
}

// Prepare parses doc against the datasets currently in reg.
func (e *Executor) Prepare(doc map[string]any, reg Registry) (*Query, error) {
	return Parse(doc, reg.Datasets())
}

// Run evaluates a prepared query: filter, optional group and aggregate,
// project, sort, and the MaxResultRows cap.
func (e *Executor) Run(q *Query, reg Registry) ([]Row, error) {
	start := time.Now()

	records, err := reg.Records(q.Dataset)
	if err != nil {
		return nil, err
	}

	var rows []Row
	if q.Transform == nil {
		for _, r := range records {
			if !q.Filter.Matches(r) {
				continue
			}
			rows = append(rows, project(r, q.Columns))
			if len(rows) > MaxResultRows {
				return nil, tooLarge(len(rows))
			}
		}
	} else {
		g := newGrouper(q.Transform)
		for _, r := range records {
			if q.Filter.Matches(r) {
				g.add(r)
			}
		}
		if g.len() > MaxResultRows {
			return nil, tooLarge(g.len())
		}
		rows = g.rows(q.Columns)
	}

	sortRows(rows, q.Order)
	if rows == nil {
		rows = []Row{}
	}

	e.logger.Debug().
		Str("dataset", q.Dataset).
		Int("scanned", len(records)).
		Int("rows", len(rows)).
		Bool("transform", q.Transform != nil).
		Dur("duration", time.Since(start)).
		Msg("Query executed")
	return rows, nil
}

// Execute is Prepare followed by Run.
func (e *Executor) Execute(doc map[string]any, reg Registry) ([]Row, error) {
	q, err := e.Prepare(doc, reg)
	if err != nil {
		return nil, err
	}
	return e.Run(q, reg)
}
