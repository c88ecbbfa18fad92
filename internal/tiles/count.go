package tiles

import (
	"context"
	"path/filepath"

	"tiler/internal/artifacts"
	"tiler/internal/pyramid"
)

// Counts reports the tiles present for an image.
type Counts struct {
	PerZoom  map[int]int `json:"per_zoom"`
	Found    int         `json:"found"`
	Expected int         `json:"expected"`
}

// Complete reports whether every expected tile exists.
func (c Counts) Complete() bool {
	return c.Expected > 0 && c.Found >= c.Expected
}

// ListTiles returns the tile paths present at zoom, sorted.
func ListTiles(ctx context.Context, store artifacts.Store, layout artifacts.Layout, fileid string, zoom int) ([]string, error) {
	dir, err := layout.TileDir(fileid, pyramid.TileSize, zoom)
	if err != nil {
		return nil, err
	}
	return store.Glob(ctx, filepath.Join(dir, "*,*.*"))
}

// CountTiles counts the tiles present for each zoom and compares the total
// with a full pyramid.
func CountTiles(ctx context.Context, store artifacts.Store, layout artifacts.Layout, fileid string, zooms []int, minZoom int) (Counts, error) {
	counts := Counts{PerZoom: make(map[int]int, len(zooms)), Expected: pyramid.ExpectedTiles(zooms, minZoom)}
	for _, zoom := range zooms {
		paths, err := ListTiles(ctx, store, layout, fileid, zoom)
		if err != nil {
			return Counts{}, err
		}
		counts.PerZoom[zoom] = len(paths)
		counts.Found += len(paths)
	}
	return counts, nil
}

// MissingTiles returns the (row, col) pairs of the grid at zoom that have no
// tile yet.
func MissingTiles(ctx context.Context, store artifacts.Store, layout artifacts.Layout, fileid string, zoom, minZoom int, ext string) ([][2]int, error) {
	grid := pyramid.GridSize(zoom, minZoom)
	var missing [][2]int
	for row := 0; row < grid; row++ {
		for col := 0; col < grid; col++ {
			path, err := layout.TilePath(fileid, pyramid.TileSize, zoom, row, col, ext)
			if err != nil {
				return nil, err
			}
			ok, err := store.Exists(ctx, path)
			if err != nil {
				return nil, err
			}
			if !ok {
				missing = append(missing, [2]int{row, col})
			}
		}
	}
	return missing, nil
}
