// Package capture provides frame sources that publish into an
// ingest.Surface.
//
// Sources run their own goroutine (or GStreamer streaming thread) and call
// Surface.Publish for every frame. A source that fails after Start closes
// its Done channel and reports the cause through Err, the way a camera
// that is unplugged or a stream that ends would.
package capture
