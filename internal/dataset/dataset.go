// Package dataset owns the in-memory dataset registry and its durable
// catalog. Records published here are never mutated afterwards, so a
// Snapshot can be read without holding the store lock.
package dataset

import (
	"errors"
	"fmt"
	"strings"

	"github.com/basekick-labs/insight/internal/schema"
)

var (
	// ErrInvalidID is returned for empty, whitespace-only or '_' containing ids.
	ErrInvalidID = errors.New("invalid dataset id")

	// ErrExists is returned when adding an id that is already registered.
	ErrExists = errors.New("dataset already exists")

	// ErrNotFound is returned when an id is not registered.
	ErrNotFound = errors.New("dataset not found")
)

// Record is one row of a dataset keyed by stored field name. Values are
// float64 for numeric fields and string for textual ones.
type Record map[string]any

// Number returns the numeric value of field.
func (r Record) Number(field string) (float64, bool) {
	v, ok := r[field].(float64)
	return v, ok
}

// Text returns the string value of field.
func (r Record) Text(field string) (string, bool) {
	v, ok := r[field].(string)
	return v, ok
}

// Info describes a registered dataset.
type Info struct {
	ID      string      `json:"id"`
	Kind    schema.Kind `json:"kind"`
	NumRows int         `json:"numRows"`
}

// Dataset is an identified, typed, ordered sequence of records.
type Dataset struct {
	Info
	Records []Record
}

// ValidateID checks the id rules shared by add and remove.
func ValidateID(id string) error {
	switch {
	case id == "":
		return fmt.Errorf("%w: id is empty", ErrInvalidID)
	case strings.TrimSpace(id) == "":
		return fmt.Errorf("%w: id is only whitespace", ErrInvalidID)
	case strings.Contains(id, "_"):
		return fmt.Errorf("%w: id %q contains an underscore", ErrInvalidID, id)
	}
	return nil
}
