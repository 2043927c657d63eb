// Package recording moves composited frames from the GPU to an encoder.
//
// A Bridge runs on its own goroutine, locked to an OS thread, with a
// context shared with the render context. For every snapshot of the
// composite handed over by the render goroutine it draws the snapshot into
// the download target, starts an asynchronous readback into one buffer of
// a two-buffer ring and maps the other one, filled on the previous frame,
// then releases the snapshot. The mapped pixels are passed to the encoder
// with their stride and row padding. The first frame after a
// (re)allocation has nothing to map and is skipped, so N frames yield N-1
// encoded buffers.
//
// Hand-offs are coalesced: a frame that arrives before the previous one
// was picked up replaces it, and the replaced snapshot is released.
//
// Buffers carry the orientation set with WithOrientation, none by
// default. A display composite is already upright.
package recording
