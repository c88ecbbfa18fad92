package pyramid

import (
	"errors"
	"fmt"
)

// TileSize is the edge length of every tile in pixels.
const TileSize = 256

const (
	// DefaultMinZoom is the smallest zoom level of a pyramid.
	DefaultMinZoom = 2
	// DefaultMaxZoom is the largest zoom level of a pyramid.
	DefaultMaxZoom = 5
	// ZoomLimit is the largest zoom EdgePixels accepts. Its edge is
	// 256*2^16 pixels.
	ZoomLimit = 16
)

// ErrInvalidInput reports bad dimensions or zoom bounds.
var ErrInvalidInput = errors.New("invalid input")

// Policy decides when ComputeZoomRange stops adding zoom levels.
type Policy int

const (
	// AreaPolicy stops once the aspect-corrected area at a zoom exceeds
	// the image's pixel area.
	AreaPolicy Policy = iota
	// WidthPolicy stops once the zoom edge exceeds the image width.
	WidthPolicy
)

// String returns the policy name used in logs and CLI flags.
func (p Policy) String() string {
	switch p {
	case AreaPolicy:
		return "area"
	case WidthPolicy:
		return "width"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// ParsePolicy maps "area" or "width" to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "area", "":
		return AreaPolicy, nil
	case "width":
		return WidthPolicy, nil
	default:
		return 0, fmt.Errorf("%w: unknown zoom policy %q", ErrInvalidInput, s)
	}
}

// EdgePixels returns the raster edge length for a zoom level. It returns 0
// for zooms outside [0, ZoomLimit].
func EdgePixels(zoom int) int {
	if zoom < 0 || zoom > ZoomLimit {
		return 0
	}
	return TileSize << uint(zoom)
}

// CheckZoom reports whether zoom lies in [minZoom, maxZoom] and under
// ZoomLimit.
func CheckZoom(zoom, minZoom, maxZoom int) error {
	if zoom < minZoom || zoom > maxZoom || zoom < 0 || zoom > ZoomLimit {
		return fmt.Errorf("%w: zoom %d outside [%d, %d]", ErrInvalidInput, zoom, minZoom, maxZoom)
	}
	return nil
}

// CheckTile reports whether (row, col) lies on the grid at zoom.
func CheckTile(zoom, minZoom, row, col int) error {
	grid := GridSize(zoom, minZoom)
	if row < 0 || col < 0 || row >= grid || col >= grid {
		return fmt.Errorf("%w: tile %d,%d outside %dx%d grid at zoom %d", ErrInvalidInput, row, col, grid, grid, zoom)
	}
	return nil
}

// Extra returns the fencepost row/col added to the grid at zoom. The
// smallest zoom of the pyramid has none.
func Extra(zoom, minZoom int) int {
	if zoom == minZoom {
		return 0
	}
	return 1
}

// GridSize returns the number of tile rows (and columns) at zoom.
func GridSize(zoom, minZoom int) int {
	return Extra(zoom, minZoom) + EdgePixels(zoom)/TileSize
}

// ExpectedTiles returns the total number of tiles a full pyramid over zooms
// should contain.
func ExpectedTiles(zooms []int, minZoom int) int {
	total := 0
	for _, zoom := range zooms {
		grid := GridSize(zoom, minZoom)
		total += grid * grid
	}
	return total
}

// ComputeZoomRange returns the ordered zoom levels for a width x height
// image. The result always starts at minZoom and never goes past maxZoom.
func ComputeZoomRange(width, height, minZoom, maxZoom int, policy Policy) ([]int, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: image has zero area (%dx%d)", ErrInvalidInput, width, height)
	}
	if minZoom < 0 || minZoom > maxZoom || maxZoom > ZoomLimit {
		return nil, fmt.Errorf("%w: zoom bounds [%d, %d]", ErrInvalidInput, minZoom, maxZoom)
	}
	if policy != AreaPolicy && policy != WidthPolicy {
		return nil, fmt.Errorf("%w: unknown zoom %v", ErrInvalidInput, policy)
	}

	area := float64(width) * float64(height)
	ratio := float64(width) / float64(height)

	var zooms []int
	for zoom := minZoom; ; zoom++ {
		zooms = append(zooms, zoom)
		if zoom >= maxZoom {
			break
		}

		edge := float64(EdgePixels(zoom))
		var done bool
		switch policy {
		case WidthPolicy:
			done = edge > float64(width)
		default:
			done = edge*(edge/ratio) > area
		}
		if done {
			break
		}
	}
	return zooms, nil
}

// DefaultZoom returns the zoom a viewer shows first. It is the first entry
// of the range.
func DefaultZoom(zooms []int) (int, bool) {
	if len(zooms) == 0 {
		return 0, false
	}
	return zooms[0], true
}
