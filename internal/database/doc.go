// Package database provides the SQLite image catalog.
//
// Each uploaded image has one row keyed by its 9 character fileid holding
// the content type, the pixel size of the original and the computed zoom
// range. Width and height are written once when the upload is recorded;
// later changes go through the explicit override used by the admin
// "recalculate size" action.
//
// The database uses WAL mode for concurrent readers and creates its schema
// on open.
package database
