package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind names the operation a job performs.
type Kind string

const (
	KindResize    Kind = "resize"
	KindTiles     Kind = "tiles"
	KindThumbnail Kind = "thumbnail"
	KindOptimize  Kind = "optimize"
)

// Priority selects a lane. Lower values run first.
type Priority int

const (
	PriorityHigh Priority = iota
	PriorityDefault
	PriorityLow

	numPriorities = 3
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityDefault:
		return "default"
	case PriorityLow:
		return "low"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// AMQP maps the lane to an AMQP message priority (0-9, higher first).
func (p Priority) AMQP() uint8 {
	switch p {
	case PriorityHigh:
		return 9
	case PriorityLow:
		return 1
	default:
		return 5
	}
}

// Spec describes one job. Fields unused by a kind are left zero.
type Spec struct {
	ID       string   `json:"id"`
	Kind     Kind     `json:"kind"`
	Priority Priority `json:"priority"`

	FileID string `json:"fileid"`
	Source string `json:"source,omitempty"`
	Ext    string `json:"ext"`
	Zoom   int    `json:"zoom"`

	// Tile batches: TileSize and the inclusive Rows x Cols upper bounds.
	TileSize int `json:"tile_size,omitempty"`
	Rows     int `json:"rows,omitempty"`
	Cols     int `json:"cols,omitempty"`

	// Thumbnails: the target width.
	Width int `json:"width,omitempty"`

	// Optimize: Thumbnails selects the thumbnail directory instead of a zoom.
	Thumbnails bool `json:"thumbnails,omitempty"`

	Timeout     time.Duration `json:"timeout,omitempty"`
	MaxAttempts int           `json:"max_attempts,omitempty"`
}

// withID assigns a random ID when s has none.
func (s Spec) withID() Spec {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return s
}

func (s Spec) String() string {
	switch s.Kind {
	case KindTiles:
		return fmt.Sprintf("%s %s z%d [0,%d]x[0,%d] %s", s.Kind, s.FileID, s.Zoom, s.Rows, s.Cols, s.Ext)
	case KindThumbnail:
		return fmt.Sprintf("%s %s w%d %s", s.Kind, s.FileID, s.Width, s.Ext)
	case KindOptimize:
		if s.Thumbnails {
			return fmt.Sprintf("%s %s thumbnails %s", s.Kind, s.FileID, s.Ext)
		}
		return fmt.Sprintf("%s %s z%d %s", s.Kind, s.FileID, s.Zoom, s.Ext)
	default:
		return fmt.Sprintf("%s %s z%d", s.Kind, s.FileID, s.Zoom)
	}
}

// Validate checks the fields a kind needs.
func (s Spec) Validate() error {
	if s.FileID == "" {
		return errors.New("job has no fileid")
	}
	if s.Priority < PriorityHigh || s.Priority > PriorityLow {
		return fmt.Errorf("job priority %d out of range", s.Priority)
	}
	switch s.Kind {
	case KindResize, KindTiles, KindThumbnail, KindOptimize:
		return nil
	default:
		return fmt.Errorf("unknown job kind %q", s.Kind)
	}
}

// EncodeSpec and DecodeSpec are the wire form of a Spec.
func EncodeSpec(s Spec) ([]byte, error) {
	return json.Marshal(s)
}

func DecodeSpec(data []byte) (Spec, error) {
	var s Spec
	if err := json.Unmarshal(data, &s); err != nil {
		return Spec{}, fmt.Errorf("decode job spec: %w", err)
	}
	return s, s.Validate()
}
