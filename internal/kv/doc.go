// Package kv provides the small key/value store used for per-image flags:
// the advisory upload lock ("uploading:<fileid>") and the cached tile count
// ("count_all_tiles:<fileid>").
//
// Two backends are available. MemoryStore keeps keys in process memory and
// is the default. BoltStore persists keys in a bbolt file so flags survive a
// restart and can be shared by the server and the admin CLI.
//
// Every value carries an optional TTL. Expired keys are reported as missing
// and removed lazily or by a background cleaner.
package kv
