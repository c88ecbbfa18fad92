/*
Package filesystem wraps the filesystem operations the tile pipeline relies on
for correctness when several workers share one artifact tree.

# Completion markers

A resized raster or a tile is considered done as soon as its file exists. That
only holds if nobody can observe a half-written file, so every artifact is
written with WriteAtomic: the bytes go to a temporary file in the destination
directory which is then renamed over the final path.

# Directory races

MkdirAll tolerates another worker creating the same directory (or one of its
parents) at the same moment: on failure it re-checks whether the directory now
exists before returning the error.

# NFS retries

StatWithRetry and OpenWithRetry retry ESTALE (stale file handle) errors with
exponential backoff. All other errors are returned immediately.

	info, err := filesystem.StatWithRetry(path, filesystem.DefaultRetryConfig())

Metrics are recorded through an Observer installed with SetObserver; without
one, recording is skipped.
*/
package filesystem
