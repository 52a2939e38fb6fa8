package service

import "errors"

var (
	// ErrInvalidDataset covers a bad id, an id already in use, an unknown
	// kind and archive content that yields no records.
	ErrInvalidDataset = errors.New("invalid dataset")

	// ErrDatasetNotFound is returned when removing an id that is not loaded.
	ErrDatasetNotFound = errors.New("dataset not found")
)
