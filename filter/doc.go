// Package filter provides the GPU image stages of the compositing graph.
//
// A Stage is a GPU program plus fixed-function state: the output viewport,
// an optional secondary texture and, for offscreen stages, an owned
// render target. Every stage consumes one primary texture and produces
// exactly one texture, except the display stage which draws into the
// display surface.
//
// Stages are tagged variants of a single implementation, Pass:
//   - KindIdentity, KindRotate, KindDownload copy with texture coordinates
//   - KindExternal samples a capture frame through its sample transform
//   - KindColorMatrix applies a 4x5 matrix (sepia, invert, grayscale, beauty)
//   - KindMirror folds the right and top halves onto the left and bottom
//   - KindPIP composites a secondary source into a framed rectangle
//   - KindMix blends an overlay bitmap over the frame
//   - KindDisplay draws the composite into the display surface
//
// A Graph arranges stages in a fixed slot table and runs them in order:
// capture, rotate, picture-in-picture, user filter, mix, display. A stage
// whose program failed to link returns NoTexture from Apply and the graph
// skips it.
//
// Every method that issues GPU work must run on the goroutine that owns
// the gpucore.Context.
package filter
