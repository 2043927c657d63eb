// Package gpucore provides the GPU context abstraction used by the camrec
// compositing engine.
//
// This package defines the [Context] interface, which abstracts over the
// backends that can execute the filter graph:
//   - backend/wgpu (Pure Go WebGPU via gogpu/wgpu HAL)
//   - backend/software (CPU reference implementation, used by tests)
//
// # Architecture
//
// Core packages (filter, ingest, render, recording) only ever talk to a
// [Context]. Backends translate the small command set below into their
// native API:
//
//	               +-----------------+
//	               |     gpucore     |
//	               |    (Context)    |
//	               +--------+--------+
//	                        |
//	         +--------------+--------------+
//	         |                             |
//	+--------v--------+          +--------v--------+
//	|  wgpu backend   |          | software backend|
//	|  (hal.Device)   |          |  (RGBA slices)  |
//	+-----------------+          +-----------------+
//
// # Resource Management
//
// GPU resources are managed via opaque IDs ([TextureID], [ProgramID],
// [BufferID]). IDs are never reused within a share group, so a stale ID
// held past destruction is detected instead of aliasing a new resource.
//
// # Threading
//
// A Context is owned by exactly one goroutine, which must be locked to its
// OS thread. Objects may be shared between goroutines only at the context
// level: [Context.Share] creates a secondary context that sees the same
// textures and programs, and each context is driven by its own goroutine.
//
// # Readback
//
// [Context.ReadPixelsAsync] issues a texture-to-buffer copy without waiting
// for the GPU. The buffer can be mapped with [Context.MapRead] once a later
// submission has been issued; mapping earlier fails with
// [ErrReadbackPending]. Row strides are computed with [AlignedRowBytes]
// using the context's [Context.RowAlignment].
package gpucore
