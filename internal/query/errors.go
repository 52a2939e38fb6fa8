package query

import (
	"errors"
	"fmt"
)

// MaxResultRows is the largest result a query may return.
const MaxResultRows = 5000

var (
	// ErrInvalidQuery covers every structural or semantic validation failure.
	ErrInvalidQuery = errors.New("invalid query")

	// ErrResultTooLarge is returned when a result exceeds MaxResultRows.
	ErrResultTooLarge = errors.New("result too large")
)

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalidQuery}, args...)...)
}

func tooLarge(rows int) error {
	return fmt.Errorf("%w: more than %d rows (got %d)", ErrResultTooLarge, MaxResultRows, rows)
}
