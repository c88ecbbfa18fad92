// Package app assembles the tiler components from a startup.Config.
//
// The server, the AMQP worker and tilerctl share one wiring: [Open] builds
// the artifact store, catalog, flag store, raster cache, job runner and the
// queue the scheduler publishes to. [App.Close] releases them in reverse
// order.
package app
