package database

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when no image has the requested fileid.
	ErrNotFound = errors.New("image not found")
	// ErrExists is returned when inserting a fileid that is already known.
	ErrExists = errors.New("image already exists")
	// ErrSizeAlreadySet is returned by SetSize once width and height are
	// recorded.
	ErrSizeAlreadySet = errors.New("image size already set")
)

// Image is the catalog document of one upload.
type Image struct {
	FileID      string    `json:"fileid"`
	ContentType string    `json:"contentType"`
	Width       int       `json:"width"`
	Height      int       `json:"height"`
	Ranges      []int     `json:"ranges,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// HasSize reports whether width and height are recorded.
func (i *Image) HasSize() bool {
	return i.Width > 0 && i.Height > 0
}
