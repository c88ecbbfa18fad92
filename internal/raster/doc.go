/*
Package raster decodes, scales, crops and encodes the rasters of a tile
pyramid.

Two Scaler implementations produce resized rasters: VipsScaler uses libvips
(Lanczos3, low memory, fast) and ImagingScaler uses the pure Go imaging
library. Both preserve the aspect ratio by scaling with
min(edge/width, edge/height); the result is never cropped.

CropTile cuts one 256x256 tile and pads it when the box runs past the raster
edge, so every tile has the same dimensions. The padding is transparent,
which the JPEG encoder renders as black.

JPEG, PNG, GIF, WebP, BMP and TIFF sources can be decoded.
*/
package raster
