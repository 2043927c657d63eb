// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package render

import (
	"errors"
	"fmt"

	"github.com/gogpu/camrec/gpucore"
)

var (
	// ErrReentrant is returned by Invoke when called from a task running
	// on the render goroutine, which would deadlock.
	ErrReentrant = errors.New("render: blocking call from the render goroutine")

	// ErrStopped is returned once the scheduler has stopped.
	ErrStopped = errors.New("render: scheduler stopped")

	// ErrCanceled is delivered to waiters of tasks discarded by Stop.
	ErrCanceled = errors.New("render: task canceled")

	// ErrNotStarted is returned by calls that need the render goroutine
	// before Start.
	ErrNotStarted = errors.New("render: scheduler not started")
)

// State is the scheduler state.
type State int32

// Scheduler states.
const (
	StateCreated State = iota
	StateSurfaceReady
	StateDrawing
	StateIdle
	StateSurfaceLost
	StateDestroyed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "Created"
	case StateSurfaceReady:
		return "SurfaceReady"
	case StateDrawing:
		return "Drawing"
	case StateIdle:
		return "Idle"
	case StateSurfaceLost:
		return "SurfaceLost"
	case StateDestroyed:
		return "Destroyed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// EventKind identifies a scheduler notification.
type EventKind int

// Scheduler events.
const (
	EventSurfaceCreated EventKind = iota
	EventSurfaceChanged
	EventSurfaceDestroyed
	EventRendererStarted
	EventFrameAvailable
	EventError
)

// Event is a scheduler notification, delivered on the render goroutine.
type Event struct {
	Kind    EventKind
	Texture gpucore.TextureID
	Width   int
	Height  int
	Err     error
}
