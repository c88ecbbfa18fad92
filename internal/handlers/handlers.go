package handlers

import (
	"context"
	"time"

	"tiler/internal/artifacts"
	"tiler/internal/pipeline"
	"tiler/internal/pyramid"
)

// Images is the part of pipeline.Service the handlers use.
type Images interface {
	Tile(ctx context.Context, fileid string, size, zoom, row, col int, ext string) (string, error)
	Prepare(ctx context.Context, fileid string) (pipeline.Outcome, error)
	Status(ctx context.Context, fileid string) (*pipeline.Status, error)
}

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Pyramid describes the tile pyramids this server produces.
type Pyramid struct {
	TileSize int    `json:"tileSize"`
	MinZoom  int    `json:"minZoom"`
	MaxZoom  int    `json:"maxZoom"`
	Scaler   string `json:"scaler,omitempty"`
	Queue    string `json:"queue,omitempty"`
}

type Handlers struct {
	images  Images
	store   artifacts.Store
	pingers []Pinger
	started time.Time

	// Pyramid is reported by /version.
	Pyramid Pyramid
}

// New returns handlers serving tiles from store. pingers gate readiness.
func New(images Images, store artifacts.Store, pingers ...Pinger) *Handlers {
	return &Handlers{
		images:  images,
		store:   store,
		pingers: pingers,
		started: time.Now(),
		Pyramid: Pyramid{
			TileSize: pyramid.TileSize,
			MinZoom:  pyramid.DefaultMinZoom,
			MaxZoom:  pyramid.DefaultMaxZoom,
		},
	}
}
