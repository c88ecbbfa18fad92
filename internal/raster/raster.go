package raster

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"io"
	"math"

	"tiler/internal/artifacts"
	"tiler/internal/logging"

	// Image format decoders
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// TileSize is the edge of a cropped tile.
const TileSize = 256

// DefaultJPEGQuality is used when a scaler or encoder has no quality set.
const DefaultJPEGQuality = 90

// Dimensions holds image width and height
type Dimensions struct {
	Width  int
	Height int
}

// Scaler writes a copy of src scaled so that its larger side equals edge.
type Scaler interface {
	Name() string
	Scale(ctx context.Context, src io.Reader, edge int, ext string, dst io.Writer) (Dimensions, error)
}

// ScaleFactor returns min(edge/width, edge/height).
func ScaleFactor(width, height, edge int) float64 {
	return math.Min(float64(edge)/float64(width), float64(edge)/float64(height))
}

// FitDimensions returns the dimensions of a width x height image scaled by
// ScaleFactor, rounded to whole pixels and never below 1.
func FitDimensions(width, height, edge int) Dimensions {
	factor := ScaleFactor(width, height, edge)
	w := int(math.Round(float64(width) * factor))
	h := int(math.Round(float64(height) * factor))
	return Dimensions{Width: max(w, 1), Height: max(h, 1)}
}

// ImagingScaler resizes in pure Go with a Lanczos filter.
type ImagingScaler struct {
	JPEGQuality int
}

func (s ImagingScaler) Name() string { return "imaging" }

func (s ImagingScaler) Scale(ctx context.Context, src io.Reader, edge int, ext string, dst io.Writer) (Dimensions, error) {
	img, err := Decode(src)
	if err != nil {
		return Dimensions{}, err
	}
	if err := ctx.Err(); err != nil {
		return Dimensions{}, err
	}

	b := img.Bounds()
	target := FitDimensions(b.Dx(), b.Dy(), edge)
	resized := imaging.Resize(img, target.Width, target.Height, imaging.Lanczos)

	if err := Encode(dst, resized, ext, s.JPEGQuality); err != nil {
		return Dimensions{}, err
	}
	return target, nil
}

// NewScaler returns the scaler named by SCALER. "vips" falls back to imaging
// when libvips is not initialized.
func NewScaler(name string, jpegQuality int) (Scaler, error) {
	switch name {
	case "vips", "":
		if !IsVipsAvailable() {
			logging.Warn("libvips not available, falling back to imaging scaler")
			return ImagingScaler{JPEGQuality: jpegQuality}, nil
		}
		return VipsScaler{JPEGQuality: jpegQuality}, nil
	case "imaging":
		return ImagingScaler{JPEGQuality: jpegQuality}, nil
	default:
		return nil, fmt.Errorf("unknown scaler %q", name)
	}
}

// Decode decodes any registered format, honouring EXIF orientation.
func Decode(r io.Reader) (image.Image, error) {
	img, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}

// DecodeDimensions reads only the image header.
func DecodeDimensions(r io.Reader) (Dimensions, error) {
	config, _, err := image.DecodeConfig(r)
	if err != nil {
		return Dimensions{}, fmt.Errorf("decode image config: %w", err)
	}
	return Dimensions{Width: config.Width, Height: config.Height}, nil
}

func quality(q int) int {
	if q <= 0 || q > 100 {
		return DefaultJPEGQuality
	}
	return q
}

// Encode writes img as jpg or png.
func Encode(w io.Writer, img image.Image, ext string, jpegQuality int) error {
	var err error
	switch ext {
	case artifacts.ExtJPG:
		err = imaging.Encode(w, img, imaging.JPEG, imaging.JPEGQuality(quality(jpegQuality)))
	case artifacts.ExtPNG:
		err = imaging.Encode(w, img, imaging.PNG)
	default:
		return fmt.Errorf("%w: %q", artifacts.ErrUnsupportedExt, ext)
	}
	if err != nil {
		return fmt.Errorf("encode %s: %w", ext, err)
	}
	return nil
}

// TileBox returns the crop rectangle of tile (row, col) in raster
// coordinates. row advances along x and col along y.
func TileBox(bounds image.Rectangle, row, col int) image.Rectangle {
	x := bounds.Min.X + TileSize*row
	y := bounds.Min.Y + TileSize*col
	return image.Rect(x, y, x+TileSize, y+TileSize)
}

// CropTile cuts tile (row, col) out of src. Parts of the box outside src are
// transparent; the result is always TileSize x TileSize.
func CropTile(src image.Image, row, col int) *image.NRGBA {
	box := TileBox(src.Bounds(), row, col)
	visible := box.Intersect(src.Bounds())

	if visible == box {
		return imaging.Crop(src, box)
	}

	tile := imaging.New(TileSize, TileSize, color.NRGBA{})
	if visible.Empty() {
		return tile
	}
	part := imaging.Crop(src, visible)
	return imaging.Paste(tile, part, visible.Min.Sub(box.Min))
}

// Thumbnail scales img to width, keeping the aspect ratio. Images narrower
// than width are left at their size.
func Thumbnail(img image.Image, width int) *image.NRGBA {
	if img.Bounds().Dx() <= width {
		return imaging.Clone(img)
	}
	return imaging.Resize(img, width, 0, imaging.Lanczos)
}
