package tiles

import (
	"errors"
	"fmt"

	"tiler/internal/pyramid"
)

var (
	// ErrInvalidInput marks requests that can never succeed.
	ErrInvalidInput = pyramid.ErrInvalidInput
	// ErrInvalidSize is returned for tile sizes other than 256.
	ErrInvalidSize = fmt.Errorf("%w: tile size must be %d", ErrInvalidInput, pyramid.TileSize)
	// ErrNotFound is returned when the source upload does not exist.
	ErrNotFound = errors.New("source image not found")
)

// IsPermanent reports whether err will not go away on retry.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrInvalidInput) || errors.Is(err, ErrNotFound)
}
