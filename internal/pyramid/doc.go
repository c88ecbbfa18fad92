// Package pyramid holds the zoom arithmetic of the tile pyramid: which zoom
// levels an image gets, how large each level's raster is, and how many tiles
// its grid has.
//
// Two stopping policies exist because different callers need different
// answers. AreaPolicy is used when scheduling a full pyramid; WidthPolicy is
// used by the on-demand image view.
package pyramid
