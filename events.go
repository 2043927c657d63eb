package camrec

import (
	"fmt"
	"time"

	"github.com/gogpu/camrec/gpucore"
)

// State is the engine lifecycle state.
type State int32

// Engine states.
const (
	StateIdle State = iota
	StatePreviewOnly
	StateRecording
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StatePreviewOnly:
		return "PreviewOnly"
	case StateRecording:
		return "Recording"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// EventKind identifies an engine event.
type EventKind int

// Engine events.
const (
	EventPreviewStarted EventKind = iota
	EventPreviewStopped
	EventPreviewError
	EventRecorderPrepared
	EventRecorderStarted
	EventRecorderStopped
	EventRecorderError
	EventSurfaceCreated
	EventSurfaceChanged
	EventSurfaceDestroyed
	EventRendererStarted
	EventFrameAvailable
)

var eventNames = [...]string{
	EventPreviewStarted:   "PreviewStarted",
	EventPreviewStopped:   "PreviewStopped",
	EventPreviewError:     "PreviewError",
	EventRecorderPrepared: "RecorderPrepared",
	EventRecorderStarted:  "RecorderStarted",
	EventRecorderStopped:  "RecorderStopped",
	EventRecorderError:    "RecorderError",
	EventSurfaceCreated:   "SurfaceCreated",
	EventSurfaceChanged:   "SurfaceChanged",
	EventSurfaceDestroyed: "SurfaceDestroyed",
	EventRendererStarted:  "RendererStarted",
	EventFrameAvailable:   "FrameAvailable",
}

func (k EventKind) String() string {
	if k >= 0 && int(k) < len(eventNames) {
		return eventNames[k]
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// Event is delivered on Engine.Events.
type Event struct {
	Kind    EventKind
	Err     error
	Texture gpucore.TextureID
	Width   int
	Height  int
	// State is the engine state when the event was emitted.
	State State
	// Session is the capture or recording session the event belongs to.
	Session string
	Time    time.Time
}
