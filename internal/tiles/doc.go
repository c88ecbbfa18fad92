/*
Package tiles produces the artifacts of a tile pyramid: resized rasters,
256x256 tiles and thumbnails.

Every operation is idempotent and keyed on its output path. If the artifact
exists it is returned untouched; otherwise it is built and written
atomically through an artifacts.Store, so existence always means complete.
Concurrent calls in one process are collapsed with singleflight; across
processes the atomic rename makes duplicate work harmless.

	resizer := tiles.NewResizer(store, scaler)
	cropper := tiles.NewCropper(layout, store, resizer, cache)
	path, err := cropper.MakeTile(ctx, "abcdefghi", 256, 3, 4, 7, "jpg")

Failures fall into three classes: ErrInvalidInput (and ErrInvalidSize) for
requests that can never succeed, ErrNotFound when the upload is missing, and
everything else, which is transient and worth retrying.
*/
package tiles
