// Package rastercache holds decoded resized rasters in memory so a batch of
// tile crops decodes its raster once.
//
// Entries are keyed by (source, zoom, width, height) and expire after they
// have been idle longer than the TTL. Expiry is checked on every access, so
// an idle cache holds its entries until the next call. MaxEntries adds an
// LRU bound on top of the TTL.
package rastercache
