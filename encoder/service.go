package encoder

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotPrepared is returned by Start before a successful prepare.
	ErrNotPrepared = errors.New("encoder: not prepared")

	// ErrNotStarted is returned by Put outside Start and Stop.
	ErrNotStarted = errors.New("encoder: not started")

	// ErrBadBuffer is returned by Put for a buffer smaller than its layout.
	ErrBadBuffer = errors.New("encoder: malformed buffer")
)

// EventKind identifies an encoder event.
type EventKind int

// Encoder events.
const (
	EventPrepared EventKind = iota
	EventStarted
	EventStopped
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventPrepared:
		return "prepared"
	case EventStarted:
		return "started"
	case EventStopped:
		return "stopped"
	case EventError:
		return "error"
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// Event is reported to the listener of a Service.
type Event struct {
	Kind EventKind
	Err  error
}

// Buffer is one downloaded frame. Rows are Width*PixelStride bytes
// followed by RowPadding bytes, top row first.
type Buffer struct {
	Data        []byte
	Width       int
	Height      int
	PixelStride int
	RowPadding  int
	Rotation    int
	FlipH       bool
	FlipV       bool
	PTS         time.Duration
}

// Stride returns the distance in bytes between two rows.
func (b Buffer) Stride() int { return b.Width*b.PixelStride + b.RowPadding }

// Check reports whether Data holds the described rows.
func (b Buffer) Check() error {
	if b.Width <= 0 || b.Height <= 0 || b.PixelStride <= 0 || b.RowPadding < 0 {
		return fmt.Errorf("%w: %dx%d pixel stride %d padding %d",
			ErrBadBuffer, b.Width, b.Height, b.PixelStride, b.RowPadding)
	}
	if need := b.Stride()*(b.Height-1) + b.Width*b.PixelStride; len(b.Data) < need {
		return fmt.Errorf("%w: %d bytes, need %d", ErrBadBuffer, len(b.Data), need)
	}
	return nil
}

// Compact appends the rows of b without padding to dst.
func (b Buffer) Compact(dst []byte) []byte {
	row := b.Width * b.PixelStride
	if b.RowPadding == 0 {
		return append(dst, b.Data[:row*b.Height]...)
	}
	stride := b.Stride()
	for y := range b.Height {
		dst = append(dst, b.Data[y*stride:y*stride+row]...)
	}
	return dst
}

// Service is a video encoder.
//
// The listener is called from a goroutine owned by the service. Put is
// called from the recording goroutine and must not block on the listener.
type Service interface {
	SetListener(fn func(Event))
	// SetConfigParams stores the configuration. It reports false when the
	// parameters are invalid.
	SetConfigParams(p Params) bool
	// PrepareAsync starts preparing and returns. The outcome is reported
	// as EventPrepared or EventError.
	PrepareAsync() error
	Start() error
	// Put encodes b. b.Data is only valid during the call.
	Put(b Buffer) error
	Stop() error
}
