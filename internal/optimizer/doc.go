// Package optimizer recompresses finished tiles and thumbnails in place with
// jpegoptim (jpg, --strip-all) or optipng (png) and reports the bytes saved.
//
// A missing optimizer binary is not an error: the files are left as they are
// and the report counts them as skipped.
package optimizer
