// Package wgpu implements gpucore.Context on gogpu/wgpu HAL devices.
//
// Every stage program is a WGSL module made of a shared prelude (uniform
// layout, bindings, vertex stage) and one fragment stage per
// gpucore.ProgramKind. Sources are validated with gogpu/naga before the
// render pipeline is created; a validation failure is reported as
// gpucore.ErrLinkFailed so the caller can degrade the stage to a
// passthrough.
//
// Draws and readback copies are submitted without waiting. Transient
// buffers and bind groups are retired once Queue.PollCompleted reaches
// their submission index. MapRead polls a bounded time for the copy that
// filled the buffer, which in the steady state of a two-buffer readback
// ring has already completed, then reads it through Device.MapBuffer.
//
// Contexts created with Share use the same device and object tables; the
// device is released together with the last context of the group.
//
// # Device Sources
//
//   - New opens a Vulkan adapter
//   - NewFromDevice wraps an existing hal.Device and hal.Queue
//   - NewFromProvider adopts a gpucontext.DeviceProvider exposing HAL types
package wgpu
