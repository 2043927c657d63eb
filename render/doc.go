// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package render runs the render goroutine of the compositing engine.
//
// A Scheduler owns the primary gpucore.Context on one goroutine locked to
// an OS thread. Every other goroutine talks to it through a single FIFO
// task queue: Post enqueues a task, Invoke enqueues and waits for it, and
// RequestRender wakes the loop for a draw tick. Wake-ups are coalesced.
//
// A draw tick runs in a fixed order:
//
//  1. queued tasks, oldest first
//  2. drain the capture surface, latching only the newest frame
//  3. run the filter graph once
//  4. when recording, copy the composite into a free snapshot slot and
//     hand the snapshot to the downloader
//  5. present
//
// A tick with no new frame and recording disabled returns without
// drawing, so no capture frame is drawn twice.
//
// # States
//
//	Created -> SurfaceReady -> Drawing <-> Idle -> SurfaceLost -> Destroyed
//
// SurfaceDestroyed releases the graph and the context before it returns;
// a later SurfaceCreated creates a new context from the factory.
package render
