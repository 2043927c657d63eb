// Package ingest hands capture frames from the capture goroutine to the
// render goroutine.
//
// A Surface keeps the latest published frame in a single-slot mailbox and
// counts frames published since the last drain. The capture side calls
// Publish; the render side calls Drain once per draw tick, which resets
// the counter and uploads only the newest frame into the surface's
// external texture. Frames overwritten before they were drained are
// counted as dropped.
package ingest
