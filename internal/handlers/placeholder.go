package handlers

import (
	"bytes"
	"image"
	"image/color"
	"sync"

	"github.com/disintegration/imaging"

	"tiler/internal/pyramid"
)

var (
	placeholderOnce sync.Once
	placeholderPNG  []byte
)

// placeholder returns a grey tile with a red cross, encoded once.
func placeholder() []byte {
	placeholderOnce.Do(func() {
		size := pyramid.TileSize
		img := imaging.New(size, size, color.NRGBA{R: 0xee, G: 0xee, B: 0xee, A: 0xff})
		cross := color.NRGBA{R: 0xcc, G: 0x33, B: 0x33, A: 0xff}
		for i := size / 4; i < size*3/4; i++ {
			for d := -1; d <= 1; d++ {
				setPixel(img, i, i+d, cross)
				setPixel(img, i, size-1-i+d, cross)
			}
		}

		var buf bytes.Buffer
		if err := imaging.Encode(&buf, img, imaging.PNG); err == nil {
			placeholderPNG = buf.Bytes()
		}
	})
	return placeholderPNG
}

func setPixel(img *image.NRGBA, x, y int, c color.NRGBA) {
	if image.Pt(x, y).In(img.Bounds()) {
		img.SetNRGBA(x, y, c)
	}
}
