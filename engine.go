package camrec

import (
	"context"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogpu/camrec/backend"
	_ "github.com/gogpu/camrec/backend/software" // always available
	"github.com/gogpu/camrec/capture"
	"github.com/gogpu/camrec/encoder"
	"github.com/gogpu/camrec/filter"
	"github.com/gogpu/camrec/ingest"
	"github.com/gogpu/camrec/recording"
	"github.com/gogpu/camrec/render"
)

// Stats is a snapshot of the engine counters.
type Stats struct {
	// Frames is the number of frames presented.
	Frames uint64
	// Ingest and PIP are the counters of the capture surfaces.
	Ingest, PIP ingest.Stats
	// Recording are the counters of the current or last recording.
	Recording recording.Stats
	// DroppedEvents counts FrameAvailable events dropped while the host
	// was not reading the event channel.
	DroppedEvents uint64
}

// Engine ties a render scheduler, capture sources and a recording bridge
// together behind the Idle, PreviewOnly and Recording lifecycle.
type Engine struct {
	opts  options
	sched *render.Scheduler
	enc   encoder.Service

	events        chan Event
	queue         *eventQueue
	quit          chan struct{}
	delivered     chan struct{}
	droppedEvents atomic.Uint64
	encEvents     chan encoder.Event

	state atomic.Int32

	// mu serializes lifecycle transitions.
	mu         sync.Mutex
	released   bool
	src        capture.Source
	srcStop    context.CancelFunc
	pip        capture.Source
	pipStop    context.CancelFunc
	bridge     *recording.Bridge
	lastBridge *recording.Bridge
	watchers   sync.WaitGroup
}

// New creates an engine and starts its render goroutine.
func New(opts ...Option) (*Engine, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	factory := o.factory
	if factory == nil {
		f, err := backend.Lookup(o.backend)
		if err != nil {
			return nil, fmt.Errorf("camrec: %w", err)
		}
		factory = f
	}
	enc := o.encoder
	if enc == nil {
		enc = encoder.NewMemory()
	}

	e := &Engine{
		opts:      o,
		enc:       enc,
		events:    make(chan Event, o.eventBuffer),
		queue:     newEventQueue(o.eventBuffer),
		quit:      make(chan struct{}),
		delivered: make(chan struct{}),
		encEvents: make(chan encoder.Event, 8),
	}
	enc.SetListener(e.onEncoderEvent)
	e.sched = render.New(factory, render.WithEventSink(e.onRenderEvent))
	if err := e.sched.Start(context.Background()); err != nil {
		return nil, fmt.Errorf("camrec: start renderer: %w", err)
	}
	go e.deliver()
	return e, nil
}

// Events returns the event channel. It is closed by Release.
func (e *Engine) Events() <-chan Event { return e.events }

// State returns the lifecycle state.
func (e *Engine) State() State { return State(e.state.Load()) }

func (e *Engine) setState(s State) { e.state.Store(int32(s)) }

// emit queues ev for delivery and never blocks. Lifecycle events are
// always queued; FrameAvailable is dropped once the event buffer's worth
// of them is waiting.
func (e *Engine) emit(ev Event) {
	ev.Time = time.Now()
	ev.State = e.State()
	if !e.queue.push(ev) && ev.Kind == EventFrameAvailable {
		e.droppedEvents.Add(1)
	}
}

func (e *Engine) onRenderEvent(ev render.Event) {
	out := Event{Texture: ev.Texture, Width: ev.Width, Height: ev.Height, Err: ev.Err}
	switch ev.Kind {
	case render.EventSurfaceCreated:
		out.Kind = EventSurfaceCreated
	case render.EventSurfaceChanged:
		out.Kind = EventSurfaceChanged
	case render.EventSurfaceDestroyed:
		out.Kind = EventSurfaceDestroyed
	case render.EventRendererStarted:
		out.Kind = EventRendererStarted
	case render.EventFrameAvailable:
		out.Kind = EventFrameAvailable
	case render.EventError:
		out.Kind = EventPreviewError
	default:
		return
	}
	e.emit(out)
}

// onEncoderEvent runs on an encoder goroutine. Negotiation events are
// queued for StartRecording; an error while recording ends the session.
func (e *Engine) onEncoderEvent(ev encoder.Event) {
	select {
	case e.encEvents <- ev:
	default:
	}
	if ev.Kind == encoder.EventError && e.State() == StateRecording {
		go e.encoderFailed(ev.Err)
	}
}

func (e *Engine) awaitEncoder(ctx context.Context, want encoder.EventKind) error {
	for {
		select {
		case ev := <-e.encEvents:
			switch ev.Kind {
			case want:
				return nil
			case encoder.EventError:
				return fmt.Errorf("camrec: encoder: %w", ev.Err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// watch waits for src to stop and reports a failure.
func (e *Engine) watch(src capture.Source) {
	e.watchers.Add(1)
	go func() {
		defer e.watchers.Done()
		<-src.Done()
		if err := src.Err(); err != nil {
			e.sourceLost(src, err)
		}
	}()
}

// OpenPreview starts src and moves the engine to PreviewOnly.
func (e *Engine) OpenPreview(ctx context.Context, src capture.Source) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.released {
		return ErrReleased
	}
	if e.State() != StateIdle {
		return ErrAlreadyPreviewing
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := e.startSource(src); err != nil {
		e.emit(Event{Kind: EventPreviewError, Err: err, Session: src.ID()})
		return err
	}
	e.setState(StatePreviewOnly)
	size := src.Size()
	Logger().Info("camrec: preview started", "session", src.ID(), "width", size.Width, "height", size.Height)
	e.emit(Event{Kind: EventPreviewStarted, Session: src.ID(), Width: size.Width, Height: size.Height})
	return nil
}

func (e *Engine) startSource(src capture.Source) error {
	if err := e.sched.SetOrientation(src.Orientation(), src.Facing() == capture.FacingFront, false); err != nil {
		return fmt.Errorf("camrec: set orientation: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	if err := src.Start(ctx, e.sched.Surface()); err != nil {
		cancel()
		return fmt.Errorf("camrec: start source: %w", err)
	}
	e.src, e.srcStop = src, cancel
	e.watch(src)
	return nil
}

func (e *Engine) stopSource() {
	if e.src == nil {
		return
	}
	e.srcStop()
	if err := e.src.Stop(); err != nil {
		Logger().Warn("camrec: stop source", "session", e.src.ID(), "err", err)
	}
	e.src, e.srcStop = nil, nil
}

// ClosePreview stops recording if needed, stops the source and moves the
// engine to Idle.
func (e *Engine) ClosePreview() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.released {
		return ErrReleased
	}
	if e.State() == StateIdle {
		return ErrNotPreviewing
	}
	var err error
	if e.State() == StateRecording {
		err = e.stopRecording()
	}
	e.stopPIP()
	session := e.src.ID()
	e.stopSource()
	e.setState(StateIdle)
	Logger().Info("camrec: preview stopped", "session", session)
	e.emit(Event{Kind: EventPreviewStopped, Session: session})
	return err
}

// SwitchSource replaces the capture source while previewing or recording.
// Only the ingest binding changes; the graph and a running recording are
// kept.
func (e *Engine) SwitchSource(ctx context.Context, src capture.Source) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.released {
		return ErrReleased
	}
	if e.State() == StateIdle {
		return ErrNotPreviewing
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	e.stopSource()
	if err := e.startSource(src); err != nil {
		e.fail(err)
		return err
	}
	size := src.Size()
	e.emit(Event{Kind: EventPreviewStarted, Session: src.ID(), Width: size.Width, Height: size.Height})
	return nil
}

// sourceLost handles a source that stopped on its own.
func (e *Engine) sourceLost(src capture.Source, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch src {
	case e.src:
		Logger().Error("camrec: capture source lost", "session", src.ID(), "err", err)
		e.fail(err)
	case e.pip:
		Logger().Warn("camrec: pip source lost", "session", src.ID(), "err", err)
		e.stopPIP()
		_ = e.sched.SetPIP([4]float32{})
	}
}

func (e *Engine) encoderFailed(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.State() != StateRecording {
		return
	}
	Logger().Error("camrec: encoder failed", "err", err)
	e.emit(Event{Kind: EventRecorderError, Err: err, Session: e.bridge.Session()})
	e.fail(err)
}

// fail releases the session resources after a hardware or session error
// and moves the engine to Idle. Called with mu held.
func (e *Engine) fail(err error) {
	if e.State() == StateRecording {
		_ = e.stopRecording()
	}
	e.stopPIP()
	var session string
	if e.src != nil {
		session = e.src.ID()
	}
	e.stopSource()
	e.setState(StateIdle)
	e.emit(Event{Kind: EventPreviewError, Err: err, Session: session})
}

// RecordingConfig returns the default encoder config for the current
// composite size. The composite is already in display orientation.
func (e *Engine) RecordingConfig(fps int) encoder.Config {
	out := e.sched.Output()
	return encoder.DefaultConfig(out.Width, out.Height, fps, 0)
}

// StartRecording negotiates the encoder and then enables the download of
// every drawn frame. Frames are recorded at the composite size; the size
// of cfg is replaced by it. On failure the engine stays in PreviewOnly
// and emits RecorderError.
func (e *Engine) StartRecording(ctx context.Context, cfg encoder.Config) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.released {
		return ErrReleased
	}
	switch e.State() {
	case StateRecording:
		return ErrAlreadyRecording
	case StateIdle:
		return ErrNotPreviewing
	}
	if err := e.startRecording(ctx, cfg); err != nil {
		Logger().Warn("camrec: start recording", "err", err)
		e.emit(Event{Kind: EventRecorderError, Err: err})
		return err
	}
	return nil
}

func (e *Engine) startRecording(ctx context.Context, cfg encoder.Config) error {
	out := e.sched.Output()
	if out.Empty() {
		return ErrNoSurface
	}
	if cfg.Width != out.Width || cfg.Height != out.Height {
		Logger().Debug("camrec: recording at composite size",
			"width", out.Width, "height", out.Height, "config_width", cfg.Width, "config_height", cfg.Height)
		cfg.Width, cfg.Height = out.Width, out.Height
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	for len(e.encEvents) > 0 {
		<-e.encEvents
	}
	if !e.enc.SetConfigParams(cfg.Params()) {
		return fmt.Errorf("camrec: encoder rejected config: %w", encoder.ErrInvalidConfig)
	}
	if err := e.enc.PrepareAsync(); err != nil {
		return fmt.Errorf("camrec: prepare encoder: %w", err)
	}
	if err := e.awaitEncoder(ctx, encoder.EventPrepared); err != nil {
		return err
	}
	e.emit(Event{Kind: EventRecorderPrepared, Width: cfg.Width, Height: cfg.Height})
	if err := e.enc.Start(); err != nil {
		return fmt.Errorf("camrec: start encoder: %w", err)
	}
	if err := e.awaitEncoder(ctx, encoder.EventStarted); err != nil {
		_ = e.enc.Stop()
		return err
	}

	shared, err := e.sched.Share(ctx)
	if err != nil {
		_ = e.enc.Stop()
		return fmt.Errorf("camrec: share context: %w", err)
	}
	// The composite is already rotated and mirrored for display.
	bridge := recording.NewBridge(e.enc)
	if err := bridge.Start(ctx, shared, out); err != nil {
		_ = e.enc.Stop()
		return err
	}
	if err := e.sched.SetDownloader(bridge); err == nil {
		err = e.sched.SetRecording(true)
	}
	if err != nil {
		_ = bridge.Stop()
		_ = e.enc.Stop()
		return fmt.Errorf("camrec: enable download: %w", err)
	}

	e.bridge, e.lastBridge = bridge, bridge
	e.setState(StateRecording)
	Logger().Info("camrec: recording started", "session", bridge.Session(),
		"width", cfg.Width, "height", cfg.Height, "bitrate", cfg.Bitrate, "fps", cfg.FPS)
	e.emit(Event{Kind: EventRecorderStarted, Session: bridge.Session(), Width: cfg.Width, Height: cfg.Height})
	return nil
}

// StopRecording disables the download, then stops the encoder.
func (e *Engine) StopRecording() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.released {
		return ErrReleased
	}
	if e.State() != StateRecording {
		return ErrNotRecording
	}
	return e.stopRecording()
}

func (e *Engine) stopRecording() error {
	if err := e.sched.SetRecording(false); err != nil {
		Logger().Debug("camrec: disable download", "err", err)
	}
	if err := e.sched.SetDownloader(nil); err != nil {
		Logger().Debug("camrec: clear downloader", "err", err)
	}
	b := e.bridge
	e.bridge = nil
	if err := b.Stop(); err != nil {
		Logger().Warn("camrec: stop bridge", "err", err)
	}
	err := e.enc.Stop()
	e.setState(StatePreviewOnly)
	Logger().Info("camrec: recording stopped", "session", b.Session(), "stats", b.Stats())
	e.emit(Event{Kind: EventRecorderStopped, Session: b.Session(), Err: err})
	return err
}

// SetFilter replaces the user filter between two frames.
func (e *Engine) SetFilter(t filter.Type) error {
	if e.isReleased() {
		return ErrReleased
	}
	return e.sched.SetUserFilter(t)
}

// SetPIP starts src as the picture-in-picture source drawn into rect, in
// normalized output coordinates (left, bottom, right, top).
func (e *Engine) SetPIP(ctx context.Context, src capture.Source, rect [4]float32) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.released {
		return ErrReleased
	}
	if e.State() == StateIdle {
		return ErrNotPreviewing
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	e.stopPIP()
	sctx, cancel := context.WithCancel(context.Background())
	if err := src.Start(sctx, e.sched.PIPSurface()); err != nil {
		cancel()
		return fmt.Errorf("camrec: start pip source: %w", err)
	}
	e.pip, e.pipStop = src, cancel
	e.watch(src)
	return e.sched.SetPIP(rect)
}

// ClearPIP stops the picture-in-picture source and removes its stage.
func (e *Engine) ClearPIP() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.released {
		return ErrReleased
	}
	e.stopPIP()
	return e.sched.SetPIP([4]float32{})
}

func (e *Engine) stopPIP() {
	if e.pip == nil {
		return
	}
	e.pipStop()
	if err := e.pip.Stop(); err != nil {
		Logger().Warn("camrec: stop pip source", "session", e.pip.ID(), "err", err)
	}
	e.pip, e.pipStop = nil, nil
}

// SetOverlay blends img over the frame inside rect, in output pixels. A
// nil img removes the overlay.
func (e *Engine) SetOverlay(img image.Image, rect image.Rectangle) error {
	if e.isReleased() {
		return ErrReleased
	}
	if img == nil {
		return e.sched.SetOverlay(nil)
	}
	return e.sched.SetOverlay(filter.NewOverlay(img, rect))
}

// SurfaceCreated sizes the display surface.
func (e *Engine) SurfaceCreated(width, height int) error {
	if e.isReleased() {
		return ErrReleased
	}
	return e.sched.SurfaceCreated(width, height)
}

// SurfaceChanged resizes the display surface.
func (e *Engine) SurfaceChanged(width, height int) error {
	if e.isReleased() {
		return ErrReleased
	}
	return e.sched.SurfaceChanged(width, height)
}

// SurfaceDestroyed stops a running recording and releases the GPU
// context. The preview resumes on the next SurfaceCreated.
func (e *Engine) SurfaceDestroyed() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.released {
		return ErrReleased
	}
	if e.State() == StateRecording {
		if err := e.stopRecording(); err != nil {
			Logger().Warn("camrec: stop recording on surface loss", "err", err)
		}
	}
	return e.sched.SurfaceDestroyed()
}

func (e *Engine) isReleased() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.released
}

// Stats returns a snapshot of the engine counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	b := e.lastBridge
	e.mu.Unlock()
	st := Stats{
		Frames:        e.sched.Frames(),
		Ingest:        e.sched.Surface().Stats(),
		PIP:           e.sched.PIPSurface().Stats(),
		DroppedEvents: e.droppedEvents.Load(),
	}
	if b != nil {
		st.Recording = b.Stats()
	}
	return st
}

// Release stops recording and preview, stops the render goroutine and
// closes the event channel. Events still queued then are delivered only
// if there is room in the channel.
func (e *Engine) Release() error {
	e.mu.Lock()
	if e.released {
		e.mu.Unlock()
		return nil
	}
	e.released = true
	if e.State() == StateRecording {
		_ = e.stopRecording()
	}
	e.stopPIP()
	e.stopSource()
	e.setState(StateIdle)
	e.mu.Unlock()

	e.watchers.Wait()
	err := e.sched.Stop()

	e.queue.close()
	close(e.quit)
	<-e.delivered
	Logger().Info("camrec: released", "frames", e.sched.Frames())
	return err
}
