package camrec

import "errors"

var (
	// ErrAlreadyPreviewing is returned by OpenPreview outside Idle.
	ErrAlreadyPreviewing = errors.New("camrec: preview already open")

	// ErrNotPreviewing is returned by operations that need an open preview.
	ErrNotPreviewing = errors.New("camrec: preview not open")

	// ErrAlreadyRecording is returned by StartRecording while recording.
	ErrAlreadyRecording = errors.New("camrec: already recording")

	// ErrNotRecording is returned by StopRecording outside Recording.
	ErrNotRecording = errors.New("camrec: not recording")

	// ErrReleased is returned once Release has been called.
	ErrReleased = errors.New("camrec: engine released")

	// ErrNoSurface is returned by StartRecording without a display surface.
	ErrNoSurface = errors.New("camrec: no display surface")
)
