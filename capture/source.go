package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gogpu/camrec/filter"
	"github.com/gogpu/camrec/ingest"
)

var (
	// ErrRunning is returned by Start on a running source.
	ErrRunning = errors.New("capture: source already running")

	// ErrLost reports a source that stopped delivering frames.
	ErrLost = errors.New("capture: source lost")
)

// Facing is the direction a camera faces.
type Facing int

// Camera facings.
const (
	FacingBack Facing = iota
	FacingFront
	FacingExternal
)

func (f Facing) String() string {
	switch f {
	case FacingBack:
		return "back"
	case FacingFront:
		return "front"
	case FacingExternal:
		return "external"
	}
	return fmt.Sprintf("Facing(%d)", int(f))
}

// Source is a frame producer.
type Source interface {
	// ID identifies the capture session of the source.
	ID() string
	// Start begins publishing frames into surf. The source stops when ctx
	// is done.
	Start(ctx context.Context, surf *ingest.Surface) error
	// Stop stops publishing. It is idempotent.
	Stop() error
	// Size is the size of published frames.
	Size() filter.Size
	// Orientation is the clockwise rotation to apply for display.
	Orientation() filter.Rotation
	Facing() Facing
	// Done is closed when the source stops.
	Done() <-chan struct{}
	// Err returns the cause of a stop that Stop did not request.
	Err() error
}

// run tracks one start/stop cycle of a source.
type run struct {
	mu      sync.Mutex
	running bool
	done    chan struct{}
	err     error
}

func newRun() *run {
	r := &run{done: make(chan struct{})}
	close(r.done)
	return r
}

// begin marks the source running and returns its done channel.
func (r *run) begin() (chan struct{}, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return nil, ErrRunning
	}
	r.running = true
	r.err = nil
	r.done = make(chan struct{})
	return r.done, nil
}

// end marks the source stopped with cause err. It reports whether this
// call performed the transition.
func (r *run) end(err error) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return false
	}
	r.running = false
	r.err = err
	close(r.done)
	return true
}

func (r *run) Done() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done
}

func (r *run) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func (r *run) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}
