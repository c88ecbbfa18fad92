// Package artifacts maps image identifiers to the on-disk layout shared with
// the tile server and CDN sync, and provides the stores artifacts are written
// through.
//
// A 9-character fileid "abcdefghi" fans out as a/bc/defghi:
//
//	uploads/a/bc/defghi.jpg
//	uploads/a/bc/defghi-3-2048.jpg       resized raster for zoom 3
//	tiles/a/bc/defghi/256/3/4,7.jpg      tile row 4, col 7
//	thumbnails/a/bc/defghi/300.jpg
//
// An artifact that exists is complete. Stores must never expose partial
// writes.
package artifacts
