package ingest

import "errors"

var (
	// ErrInvalidContent is returned when an archive holds no usable records.
	ErrInvalidContent = errors.New("invalid dataset content")

	// ErrGeolocation is returned by a Geolocator that could not place an address.
	ErrGeolocation = errors.New("geolocation failed")
)
