// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package render

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/gogpu/camrec/filter"
	"github.com/gogpu/camrec/gpucore"
	"github.com/gogpu/camrec/ingest"
)

// Task is a unit of work run on the render goroutine. ctx identifies the
// render goroutine: passing it to Invoke returns ErrReentrant.
type Task func(ctx context.Context)

// Func adapts a plain function to a Task.
func Func(f func()) Task { return func(context.Context) { f() } }

// Downloader receives a copy of the composite of every drawn frame while
// recording. FrameAvailable is called on the render goroutine and must
// not block. tex is not drawn again until release is called, and must
// not be read after that.
type Downloader interface {
	FrameAvailable(tex gpucore.TextureID, size filter.Size, release func())
}

type job struct {
	task Task
	done chan error
}

type renderKey struct{}

// Scheduler owns the render goroutine and the primary GPU context.
type Scheduler struct {
	factory gpucore.Factory
	opts    options

	main *ingest.Surface
	pip  *ingest.Surface

	mu      sync.Mutex
	queue   []job
	started bool
	stopped bool

	wake     chan struct{}
	quit     chan struct{}
	exited   chan struct{}
	stopOnce sync.Once

	state      atomic.Int32
	frames     atomic.Uint64
	outW, outH atomic.Int32

	// Render goroutine only.
	taskCtx    context.Context
	gctx       gpucore.Context
	graph      *filter.Graph
	geo        filter.Geometry
	surface    filter.Size
	user       filter.Type
	pipRect    [4]float32
	overlay    *filter.Overlay
	downloader Downloader
	snaps      *snapshots
	recording  bool
	firstFrame bool
}

// New returns a scheduler creating its context with factory. Start runs
// the render goroutine.
func New(factory gpucore.Factory, opts ...Option) *Scheduler {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	s := &Scheduler{
		factory: factory,
		opts:    o,
		wake:    make(chan struct{}, 1),
		quit:    make(chan struct{}),
		exited:  make(chan struct{}),
		user:    filter.TypeNone,
	}
	s.main = ingest.NewSurface(s.RequestRender)
	s.pip = ingest.NewSurface(s.RequestRender)
	return s
}

// Surface returns the capture surface sources publish into.
func (s *Scheduler) Surface() *ingest.Surface { return s.main }

// PIPSurface returns the surface of the picture-in-picture source.
func (s *Scheduler) PIPSurface() *ingest.Surface { return s.pip }

// State returns the current state.
func (s *Scheduler) State() State { return State(s.state.Load()) }

// Output returns the size of the display surface and of the composite.
// It is empty while there is no surface.
func (s *Scheduler) Output() filter.Size {
	return filter.Size{Width: int(s.outW.Load()), Height: int(s.outH.Load())}
}

// Frames returns the number of frames presented.
func (s *Scheduler) Frames() uint64 { return s.frames.Load() }

func (s *Scheduler) setState(st State) { s.state.Store(int32(st)) }

// Start launches the render goroutine and blocks until its context is
// created. Canceling ctx before that stops the scheduler.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrStopped
	}
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	ready := make(chan error, 1)
	go s.loop(ready)
	select {
	case err := <-ready:
		return err
	case <-ctx.Done():
		_ = s.Stop()
		return ctx.Err()
	}
}

func (s *Scheduler) loop(ready chan<- error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(s.exited)

	s.taskCtx = context.WithValue(context.Background(), renderKey{}, s)
	if err := s.createContext(); err != nil {
		s.mu.Lock()
		s.stopped = true
		s.mu.Unlock()
		s.discard()
		s.setState(StateDestroyed)
		ready <- err
		return
	}
	s.opts.log().Info("render: started", "backend", s.gctx.Name())
	ready <- nil

	for {
		select {
		case <-s.quit:
			s.discard()
			s.releaseContext()
			s.setState(StateDestroyed)
			s.opts.log().Info("render: stopped", "frames", s.frames.Load())
			return
		case <-s.wake:
			s.tick()
		}
	}
}

func (s *Scheduler) createContext() error {
	gctx, err := s.factory()
	if err != nil {
		return fmt.Errorf("render: create context: %w", err)
	}
	s.gctx = gctx
	s.graph = filter.NewGraph(gctx)
	for _, surf := range []*ingest.Surface{s.main, s.pip} {
		if err := surf.Bind(gctx, 1, 1); err != nil {
			s.releaseContext()
			return fmt.Errorf("render: bind surface: %w", err)
		}
	}
	s.graph.SetUserFilter(s.user)()
	if err := s.graph.SetPIP(s.pipRect); err != nil {
		s.opts.log().Warn("render: restore pip", "err", err)
	}
	if err := s.graph.SetOverlay(s.overlay); err != nil {
		s.opts.log().Warn("render: restore overlay", "err", err)
	}
	s.applyGeometry()
	return nil
}

func (s *Scheduler) releaseContext() {
	if s.snaps != nil {
		s.snaps.destroy()
		s.snaps = nil
	}
	if s.graph != nil {
		s.graph.Destroy()
		s.graph = nil
	}
	s.main.Unbind()
	s.pip.Unbind()
	if s.gctx != nil {
		s.gctx.Destroy()
		s.gctx = nil
	}
}

func (s *Scheduler) applyGeometry() {
	if s.graph == nil || s.geo.Input.Empty() || s.geo.Output.Empty() {
		return
	}
	if err := s.graph.SetGeometry(s.geo); err != nil {
		s.opts.log().Warn("render: set geometry", "err", err)
	}
}

func (s *Scheduler) emit(ev Event) { s.opts.sink(ev) }

// RequestRender wakes the render goroutine for a draw tick. Requests made
// before the tick starts are coalesced.
func (s *Scheduler) RequestRender() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) enqueue(j job) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrStopped
	}
	s.queue = append(s.queue, j)
	s.mu.Unlock()
	s.RequestRender()
	return nil
}

// Post enqueues a task without waiting. Tasks posted before Start run on
// the first tick.
func (s *Scheduler) Post(task Task) error {
	return s.enqueue(job{task: task})
}

// Invoke enqueues a task and waits until it has run. It returns
// ErrReentrant when ctx comes from a task, ErrCanceled when Stop
// discarded the task, and ctx.Err() when ctx is done first.
func (s *Scheduler) Invoke(ctx context.Context, task Task) error {
	if ctx.Value(renderKey{}) == s {
		return ErrReentrant
	}
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if !started {
		return ErrNotStarted
	}

	done := make(chan error, 1)
	if err := s.enqueue(job{task: task, done: done}); err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.exited:
		select {
		case err := <-done:
			return err
		default:
			return ErrStopped
		}
	}
}

// call runs fn on the render goroutine and returns its error.
func (s *Scheduler) call(fn func() error) error {
	var err error
	if ierr := s.Invoke(context.Background(), func(context.Context) { err = fn() }); ierr != nil {
		return ierr
	}
	return err
}

func (s *Scheduler) runTasks() {
	s.mu.Lock()
	q := s.queue
	s.queue = nil
	s.mu.Unlock()
	for _, j := range q {
		j.task(s.taskCtx)
		if j.done != nil {
			j.done <- nil
		}
	}
}

func (s *Scheduler) discard() {
	s.mu.Lock()
	q := s.queue
	s.queue = nil
	s.mu.Unlock()
	for _, j := range q {
		if j.done != nil {
			j.done <- ErrCanceled
		}
	}
	if len(q) > 0 {
		s.opts.log().Debug("render: discarded tasks", "count", len(q))
	}
}

// Stop stops the render goroutine, discards queued tasks and releases the
// graph and the context. It waits for the goroutine to exit.
func (s *Scheduler) Stop() error {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		started := s.started
		s.mu.Unlock()
		if !started {
			s.discard()
			s.setState(StateDestroyed)
			close(s.exited)
			return
		}
		close(s.quit)
		<-s.exited
	})
	return nil
}

// Context returns the primary context. Only valid on the render goroutine,
// inside a task.
func (s *Scheduler) Context() gpucore.Context { return s.gctx }

// Share creates a context sharing objects with the primary context, for
// use by another goroutine. A context created after ctx is done is
// destroyed.
func (s *Scheduler) Share(ctx context.Context) (gpucore.Context, error) {
	var (
		mu     sync.Mutex
		gone   bool
		shared gpucore.Context
		err    error
	)
	ierr := s.Invoke(ctx, func(context.Context) {
		if s.gctx == nil {
			mu.Lock()
			err = fmt.Errorf("render: share: %w", gpucore.ErrContextDestroyed)
			mu.Unlock()
			return
		}
		c, cerr := s.gctx.Share()
		mu.Lock()
		defer mu.Unlock()
		if gone {
			if c != nil {
				c.Destroy()
			}
			return
		}
		shared, err = c, cerr
	})
	mu.Lock()
	defer mu.Unlock()
	if ierr != nil {
		gone = true
		if shared != nil {
			shared.Destroy()
			shared = nil
		}
		return nil, ierr
	}
	return shared, err
}

// SurfaceCreated sizes the display surface, creating a new context if the
// previous surface was destroyed.
func (s *Scheduler) SurfaceCreated(width, height int) error {
	return s.call(func() error {
		if s.gctx == nil {
			if err := s.createContext(); err != nil {
				return err
			}
		}
		if err := s.resize(width, height); err != nil {
			return err
		}
		s.firstFrame = true
		s.setState(StateSurfaceReady)
		s.emit(Event{Kind: EventSurfaceCreated, Width: width, Height: height})
		return nil
	})
}

// SurfaceChanged resizes the display surface and the graph output.
func (s *Scheduler) SurfaceChanged(width, height int) error {
	return s.call(func() error {
		if s.gctx == nil {
			return fmt.Errorf("render: surface changed: %w", gpucore.ErrContextDestroyed)
		}
		if err := s.resize(width, height); err != nil {
			return err
		}
		s.emit(Event{Kind: EventSurfaceChanged, Width: width, Height: height})
		return nil
	})
}

func (s *Scheduler) resize(width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("render: surface %dx%d: %w", width, height, filter.ErrInvalidSize)
	}
	out := filter.Size{Width: filter.Align(width, 2), Height: filter.Align(height, 2)}
	if err := s.gctx.ResizeDisplay(out.Width, out.Height); err != nil {
		return fmt.Errorf("render: resize display: %w", err)
	}
	s.surface = out
	s.geo.Output = out
	s.outW.Store(int32(out.Width))
	s.outH.Store(int32(out.Height))
	s.applyGeometry()
	s.RequestRender()
	return nil
}

// SurfaceDestroyed stops handing frames to the downloader and releases
// the graph and the context. It returns once they are released.
func (s *Scheduler) SurfaceDestroyed() error {
	return s.call(func() error {
		s.recording = false
		s.releaseContext()
		s.surface = filter.Size{}
		s.outW.Store(0)
		s.outH.Store(0)
		s.setState(StateSurfaceLost)
		s.emit(Event{Kind: EventSurfaceDestroyed})
		return nil
	})
}

// SetDownloader sets the receiver of composites while recording.
func (s *Scheduler) SetDownloader(d Downloader) error {
	return s.call(func() error {
		s.downloader = d
		return nil
	})
}

// SetRecording enables or disables handing composites to the downloader.
// Once a call disabling it returns, no further frame is handed over.
func (s *Scheduler) SetRecording(on bool) error {
	return s.call(func() error {
		s.recording = on
		return nil
	})
}

// SetUserFilter replaces the user filter between two frames.
func (s *Scheduler) SetUserFilter(t filter.Type) error {
	return s.Post(Func(func() {
		s.user = t
		if s.graph != nil {
			s.graph.SetUserFilter(t)()
		}
	}))
}

// SetPIP sets the picture-in-picture rectangle; an empty rectangle
// removes the stage.
func (s *Scheduler) SetPIP(rect [4]float32) error {
	return s.Post(Func(func() {
		s.pipRect = rect
		if s.graph != nil {
			if err := s.graph.SetPIP(rect); err != nil {
				s.opts.log().Warn("render: set pip", "err", err)
			}
		}
	}))
}

// SetOverlay sets the bitmap blended over the frame; nil removes it.
func (s *Scheduler) SetOverlay(o *filter.Overlay) error {
	return s.Post(Func(func() {
		s.overlay = o
		if s.graph != nil {
			if err := s.graph.SetOverlay(o); err != nil {
				s.opts.log().Warn("render: set overlay", "err", err)
			}
		}
	}))
}

// SetOrientation sets the capture rotation and mirroring.
func (s *Scheduler) SetOrientation(rot filter.Rotation, flipH, flipV bool) error {
	return s.Post(Func(func() {
		s.geo.Rotation, s.geo.FlipH, s.geo.FlipV = rot, flipH, flipV
		s.applyGeometry()
	}))
}

// handoff copies comp into a snapshot slot for the downloader.
func (s *Scheduler) handoff(comp gpucore.TextureID, size filter.Size) {
	if s.snaps == nil {
		s.snaps = newSnapshots(s.gctx)
	}
	tex, release, err := s.snaps.take(comp, size)
	if err != nil {
		s.opts.log().Debug("render: frame not handed to downloader", "err", err)
		return
	}
	s.downloader.FrameAvailable(tex, size, release)
}

func (s *Scheduler) tick() {
	s.runTasks()
	if s.graph == nil || s.surface.Empty() {
		return
	}

	frame, fresh := s.main.Drain()
	var sec gpucore.TextureID
	if pf, _ := s.pip.Drain(); pf.Generation > 0 {
		sec = pf.Texture
	}
	if frame.Generation == 0 || (!fresh && !s.recording) {
		if s.State() == StateDrawing {
			s.setState(StateIdle)
		}
		return
	}

	if in := (filter.Size{Width: frame.Width, Height: frame.Height}); in != s.geo.Input {
		s.geo.Input = in
		s.applyGeometry()
	}

	s.setState(StateDrawing)
	comp := s.graph.Run(frame.Frame, sec)
	if comp == filter.NoTexture {
		s.setState(StateIdle)
		return
	}
	size := s.graph.Geometry().Output
	if s.recording && s.downloader != nil {
		s.handoff(comp, size)
	}
	if err := s.gctx.Present(); err != nil {
		s.opts.log().Warn("render: present", "err", err)
		s.emit(Event{Kind: EventError, Err: err})
	}
	s.frames.Add(1)
	if s.firstFrame {
		s.firstFrame = false
		s.emit(Event{Kind: EventRendererStarted, Width: size.Width, Height: size.Height})
	}
	s.emit(Event{Kind: EventFrameAvailable, Texture: comp, Width: size.Width, Height: size.Height})
	s.setState(StateIdle)
}
