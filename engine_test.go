package camrec

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/camrec/backend"
	"github.com/gogpu/camrec/backend/software"
	"github.com/gogpu/camrec/capture"
	"github.com/gogpu/camrec/encoder"
	"github.com/gogpu/camrec/filter"
	"github.com/gogpu/camrec/gpucore"
	"github.com/gogpu/camrec/ingest"
)

const waitTimeout = 5 * time.Second

type harness struct {
	e   *Engine
	enc *encoder.Memory

	mu     sync.Mutex
	ctxs   []*software.Context
	events []Event
	done   chan struct{}
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{enc: encoder.NewMemory(), done: make(chan struct{})}
	factory := func() (gpucore.Context, error) {
		c := software.New()
		h.mu.Lock()
		h.ctxs = append(h.ctxs, c)
		h.mu.Unlock()
		return c, nil
	}
	opts = append([]Option{WithFactory(factory), WithEncoder(h.enc)}, opts...)
	e, err := New(opts...)
	require.NoError(t, err)
	h.e = e
	go func() {
		defer close(h.done)
		for ev := range e.Events() {
			h.mu.Lock()
			h.events = append(h.events, ev)
			h.mu.Unlock()
		}
	}()
	t.Cleanup(func() { _ = e.Release() })
	return h
}

func (h *harness) release(t *testing.T) {
	t.Helper()
	require.NoError(t, h.e.Release())
	select {
	case <-h.done:
	case <-time.After(waitTimeout):
		t.Fatal("event channel not closed by Release")
	}
}

func (h *harness) has(kind EventKind) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ev := range h.events {
		if ev.Kind == kind {
			return true
		}
	}
	return false
}

func (h *harness) wait(t *testing.T, kind EventKind) {
	t.Helper()
	require.Eventually(t, func() bool { return h.has(kind) }, waitTimeout, time.Millisecond, "event %s", kind)
}

func (h *harness) first(kind EventKind) (Event, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ev := range h.events {
		if ev.Kind == kind {
			return ev, true
		}
	}
	return Event{}, false
}

func (h *harness) contexts() []*software.Context {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*software.Context(nil), h.ctxs...)
}

func synthetic() *capture.Ticker {
	return capture.NewSynthetic(capture.WithSize(8, 8), capture.WithFPS(500))
}

func (h *harness) preview(t *testing.T, src capture.Source) {
	t.Helper()
	require.NoError(t, h.e.SurfaceCreated(8, 8))
	require.NoError(t, h.e.OpenPreview(context.Background(), src))
	require.Equal(t, StatePreviewOnly, h.e.State())
}

func (h *harness) record(t *testing.T) {
	t.Helper()
	require.NoError(t, h.e.StartRecording(context.Background(), h.e.RecordingConfig(30)))
	require.Equal(t, StateRecording, h.e.State())
}

// lostSource is a source whose failure the test triggers.
type lostSource struct {
	once sync.Once
	mu   sync.Mutex
	done chan struct{}
	err  error
}

func newLostSource() *lostSource { return &lostSource{done: make(chan struct{})} }

func (s *lostSource) ID() string { return "lost" }
func (s *lostSource) Start(context.Context, *ingest.Surface) error { return nil }
func (s *lostSource) Size() filter.Size { return filter.Size{Width: 8, Height: 8} }
func (s *lostSource) Orientation() filter.Rotation { return filter.Rotation0 }
func (s *lostSource) Facing() capture.Facing { return capture.FacingExternal }
func (s *lostSource) Done() <-chan struct{} { return s.done }
func (s *lostSource) Stop() error { s.once.Do(func() { close(s.done) }); return nil }

func (s *lostSource) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *lostSource) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	_ = s.Stop()
}

// crashingEncoder reports an error after it started.
type crashingEncoder struct {
	*encoder.Memory
	mu sync.Mutex
	fn func(encoder.Event)
}

func (c *crashingEncoder) SetListener(fn func(encoder.Event)) {
	c.mu.Lock()
	c.fn = fn
	c.mu.Unlock()
	c.Memory.SetListener(fn)
}

func (c *crashingEncoder) crash(err error) {
	c.mu.Lock()
	fn := c.fn
	c.mu.Unlock()
	fn(encoder.Event{Kind: encoder.EventError, Err: err})
}

func TestPreviewLifecycle(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, StateIdle, h.e.State())
	assert.ErrorIs(t, h.e.ClosePreview(), ErrNotPreviewing)
	assert.ErrorIs(t, h.e.StartRecording(context.Background(), h.e.RecordingConfig(30)), ErrNotPreviewing)
	assert.ErrorIs(t, h.e.StopRecording(), ErrNotRecording)

	src := synthetic()
	h.preview(t, src)
	assert.ErrorIs(t, h.e.OpenPreview(context.Background(), synthetic()), ErrAlreadyPreviewing)
	h.wait(t, EventPreviewStarted)
	h.wait(t, EventRendererStarted)
	require.Eventually(t, func() bool { return h.e.Stats().Frames >= 3 }, waitTimeout, time.Millisecond)

	ev, ok := h.first(EventPreviewStarted)
	require.True(t, ok)
	assert.Equal(t, src.ID(), ev.Session)
	assert.Equal(t, 8, ev.Width)

	require.NoError(t, h.e.ClosePreview())
	assert.Equal(t, StateIdle, h.e.State())
	h.wait(t, EventPreviewStopped)
	h.release(t)
}

func TestRecordingForwardsFrames(t *testing.T) {
	h := newHarness(t)
	h.preview(t, synthetic())
	h.record(t)
	assert.ErrorIs(t, h.e.StartRecording(context.Background(), h.e.RecordingConfig(30)), ErrAlreadyRecording)
	assert.ErrorIs(t, h.e.OpenPreview(context.Background(), synthetic()), ErrAlreadyPreviewing)

	require.Eventually(t, func() bool { return h.enc.Len() >= 3 }, waitTimeout, time.Millisecond)
	require.NoError(t, h.e.StopRecording())
	assert.Equal(t, StatePreviewOnly, h.e.State())
	assert.False(t, h.enc.Started())

	for _, k := range []EventKind{EventRecorderPrepared, EventRecorderStarted, EventRecorderStopped} {
		h.wait(t, k)
	}
	cfg := h.enc.Config()
	assert.Equal(t, 8, cfg.Width)
	assert.Equal(t, 8, cfg.Height)
	for _, b := range h.enc.Frames() {
		assert.Equal(t, 8, b.Width)
		assert.Len(t, b.Data, 8*8*4)
	}
	st := h.e.Stats()
	assert.GreaterOrEqual(t, st.Recording.Forwarded, uint64(3))
	assert.Positive(t, st.Ingest.Published)

	n := h.enc.Len()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, n, h.enc.Len(), "no frames after StopRecording")
	h.release(t)
}

func TestRecordingOfRotatedSourceIsUpright(t *testing.T) {
	h := newHarness(t)
	src := capture.NewSynthetic(capture.WithSize(16, 8), capture.WithFPS(500),
		capture.WithOrientation(filter.Rotation90), capture.WithFacing(capture.FacingFront))
	require.NoError(t, h.e.SurfaceCreated(8, 16))
	require.NoError(t, h.e.OpenPreview(context.Background(), src))
	h.record(t)
	require.Eventually(t, func() bool { return h.enc.Len() >= 2 }, waitTimeout, time.Millisecond)
	require.NoError(t, h.e.StopRecording())

	for _, b := range h.enc.Frames() {
		assert.Equal(t, 8, b.Width)
		assert.Equal(t, 16, b.Height)
		assert.Zero(t, b.Rotation, "composite already rotated for display")
		assert.False(t, b.FlipH, "composite already mirrored for display")
		assert.False(t, b.FlipV)
	}
	h.release(t)
}

func TestRecordingSizeFollowsComposite(t *testing.T) {
	h := newHarness(t)
	h.preview(t, synthetic())
	cfg := encoder.DefaultConfig(640, 480, 30, 0)
	require.NoError(t, h.e.StartRecording(context.Background(), cfg))
	assert.Equal(t, 8, h.enc.Config().Width)
	assert.Equal(t, 8, h.enc.Config().Height)
}

func TestConcurrentStartRecording(t *testing.T) {
	h := newHarness(t)
	h.preview(t, synthetic())

	const n = 8
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = h.e.StartRecording(context.Background(), h.e.RecordingConfig(30))
		}()
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, ErrAlreadyRecording)
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, h.enc.Sessions())
	assert.Equal(t, StateRecording, h.e.State())
}

func TestPrepareFailureKeepsPreview(t *testing.T) {
	boom := errors.New("no codec")
	h := newHarness(t, WithEncoder(encoder.NewMemory(encoder.WithPrepareError(boom))))

	h.preview(t, synthetic())
	err := h.e.StartRecording(context.Background(), h.e.RecordingConfig(30))
	require.ErrorIs(t, err, boom)
	assert.Equal(t, StatePreviewOnly, h.e.State())
	h.wait(t, EventRecorderError)
	assert.False(t, h.has(EventRecorderStarted))

	frames := h.e.Stats().Frames
	require.Eventually(t, func() bool { return h.e.Stats().Frames > frames }, waitTimeout, time.Millisecond, "preview keeps running")
}

func TestInvalidConfigRejected(t *testing.T) {
	h := newHarness(t)
	h.preview(t, synthetic())
	cfg := h.e.RecordingConfig(30)
	cfg.CRF = 99
	assert.ErrorIs(t, h.e.StartRecording(context.Background(), cfg), encoder.ErrInvalidConfig)
	assert.Equal(t, StatePreviewOnly, h.e.State())
}

func TestStartRecordingWithoutSurface(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.e.OpenPreview(context.Background(), synthetic()))
	assert.ErrorIs(t, h.e.StartRecording(context.Background(), encoder.DefaultConfig(8, 8, 30, 0)), ErrNoSurface)
	assert.Equal(t, StatePreviewOnly, h.e.State())
}

func TestSourceLost(t *testing.T) {
	h := newHarness(t)
	src := newLostSource()
	h.preview(t, src)
	h.record(t)

	lost := errors.New("camera unplugged")
	src.fail(lost)
	require.Eventually(t, func() bool { return h.e.State() == StateIdle }, waitTimeout, time.Millisecond)
	h.wait(t, EventPreviewError)
	h.wait(t, EventRecorderStopped)
	ev, _ := h.first(EventPreviewError)
	assert.ErrorIs(t, ev.Err, lost)
	assert.False(t, h.enc.Started())

	require.NoError(t, h.e.OpenPreview(context.Background(), synthetic()), "reopen after loss")
}

func TestEncoderErrorEndsSession(t *testing.T) {
	enc := &crashingEncoder{Memory: encoder.NewMemory()}
	h := newHarness(t, WithEncoder(enc))
	h.preview(t, synthetic())
	require.NoError(t, h.e.StartRecording(context.Background(), h.e.RecordingConfig(30)))

	enc.crash(errors.New("disk full"))
	require.Eventually(t, func() bool { return h.e.State() == StateIdle }, waitTimeout, time.Millisecond)
	h.wait(t, EventRecorderError)
	h.wait(t, EventPreviewError)
}

func TestSwitchSourceKeepsRecording(t *testing.T) {
	h := newHarness(t)
	first := synthetic()
	h.preview(t, first)
	h.record(t)

	second := synthetic()
	require.NoError(t, h.e.SwitchSource(context.Background(), second))
	assert.Equal(t, StateRecording, h.e.State())
	select {
	case <-first.Done():
	default:
		t.Fatal("previous source still running")
	}
	published := second.Frames()
	require.Eventually(t, func() bool { return second.Frames() > published+2 }, waitTimeout, time.Millisecond)
	n := h.enc.Len()
	require.Eventually(t, func() bool { return h.enc.Len() > n }, waitTimeout, time.Millisecond)
}

func TestFilterPIPOverlay(t *testing.T) {
	h := newHarness(t)
	assert.ErrorIs(t, h.e.SetPIP(context.Background(), synthetic(), [4]float32{0, 0, 0.5, 0.5}), ErrNotPreviewing)
	h.preview(t, synthetic())

	require.NoError(t, h.e.SetFilter(filter.TypeInvert))
	pip := synthetic()
	require.NoError(t, h.e.SetPIP(context.Background(), pip, [4]float32{0, 0, 0.5, 0.5}))
	require.Eventually(t, func() bool { return h.e.Stats().PIP.Published > 0 }, waitTimeout, time.Millisecond)

	img := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.NRGBA{R: 255, A: 255})
	require.NoError(t, h.e.SetOverlay(img, image.Rect(0, 0, 2, 2)))
	frames := h.e.Stats().Frames
	require.Eventually(t, func() bool { return h.e.Stats().Frames > frames+2 }, waitTimeout, time.Millisecond)

	require.NoError(t, h.e.SetOverlay(nil, image.Rectangle{}))
	require.NoError(t, h.e.ClearPIP())
	select {
	case <-pip.Done():
	default:
		t.Fatal("pip source still running")
	}
}

func TestSurfaceDestroyedStopsRecording(t *testing.T) {
	h := newHarness(t)
	h.preview(t, synthetic())
	h.record(t)

	require.NoError(t, h.e.SurfaceDestroyed())
	assert.Equal(t, StatePreviewOnly, h.e.State())
	h.wait(t, EventRecorderStopped)
	h.wait(t, EventSurfaceDestroyed)

	require.NoError(t, h.e.SurfaceCreated(8, 8))
	h.record(t)
}

func TestCyclesReleaseEverything(t *testing.T) {
	for i := range 100 {
		h := newHarness(t)
		h.preview(t, synthetic())
		h.record(t)
		require.Eventually(t, func() bool { return h.enc.Len() >= 1 }, waitTimeout, time.Millisecond, "cycle %d", i)
		if i%2 == 0 {
			require.NoError(t, h.e.StopRecording())
			require.NoError(t, h.e.ClosePreview())
		}
		h.release(t)

		for _, c := range h.contexts() {
			assert.Zero(t, c.Stats().Contexts, "cycle %d", i)
			assert.False(t, c.Leaked().Live(), "cycle %d: leaked %+v", i, c.Leaked())
		}
	}
}

func TestRepeatedRecordingDoesNotGrow(t *testing.T) {
	h := newHarness(t)
	h.preview(t, synthetic())
	cycle := func() {
		h.record(t)
		n := h.e.Stats().Recording.Ticks
		require.Eventually(t, func() bool { return h.e.Stats().Recording.Ticks > n+1 }, waitTimeout, time.Millisecond)
		require.NoError(t, h.e.StopRecording())
	}

	cycle()
	ctxs := h.contexts()
	require.Len(t, ctxs, 1)
	base := ctxs[0].Stats()
	for range 20 {
		cycle()
	}
	st := ctxs[0].Stats()
	assert.Equal(t, base.Textures, st.Textures)
	assert.Equal(t, base.Buffers, st.Buffers)
	assert.Equal(t, base.Programs, st.Programs)
	assert.Equal(t, 1, st.Contexts, "shared contexts released")
	h.release(t)
}

func TestReleased(t *testing.T) {
	h := newHarness(t)
	h.preview(t, synthetic())
	h.release(t)
	require.NoError(t, h.e.Release(), "idempotent")

	assert.Equal(t, StateIdle, h.e.State())
	assert.ErrorIs(t, h.e.OpenPreview(context.Background(), synthetic()), ErrReleased)
	assert.ErrorIs(t, h.e.StartRecording(context.Background(), encoder.Config{}), ErrReleased)
	assert.ErrorIs(t, h.e.SetFilter(filter.TypeNone), ErrReleased)
	assert.ErrorIs(t, h.e.SurfaceCreated(8, 8), ErrReleased)
	assert.ErrorIs(t, h.e.ClosePreview(), ErrReleased)
}

func TestFrameEventsDropWhenFull(t *testing.T) {
	e := &Engine{
		events:    make(chan Event, 2),
		queue:     newEventQueue(2),
		quit:      make(chan struct{}),
		delivered: make(chan struct{}),
	}
	for range 5 {
		e.emit(Event{Kind: EventFrameAvailable})
	}
	assert.Equal(t, uint64(3), e.droppedEvents.Load())
	e.emit(Event{Kind: EventPreviewStopped})
	assert.Equal(t, uint64(3), e.droppedEvents.Load(), "lifecycle event dropped")

	go e.deliver()
	var kinds []EventKind
	for range 3 {
		select {
		case ev := <-e.events:
			kinds = append(kinds, ev.Kind)
		case <-time.After(waitTimeout):
			t.Fatal("event not delivered")
		}
	}
	assert.Equal(t, []EventKind{EventFrameAvailable, EventFrameAvailable, EventPreviewStopped}, kinds)

	e.queue.close()
	close(e.quit)
	<-e.delivered
	_, open := <-e.events
	assert.False(t, open, "event channel not closed")
}

// A host that never reads Events must not stall lifecycle calls or the
// render loop.
func TestUnreadEventsDoNotBlock(t *testing.T) {
	factory := func() (gpucore.Context, error) { return software.New(), nil }
	e, err := New(WithFactory(factory), WithEncoder(encoder.NewMemory()), WithEventBuffer(1))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		if err := e.SurfaceCreated(8, 8); err != nil {
			done <- err
			return
		}
		if err := e.OpenPreview(context.Background(), synthetic()); err != nil {
			done <- err
			return
		}
		for i := range 20 {
			if err := e.SurfaceChanged(8+i%2*8, 8); err != nil {
				done <- err
				return
			}
		}
		done <- nil
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(waitTimeout):
		t.Fatal("surface calls blocked on an unread event channel")
	}

	frames := e.Stats().Frames
	require.Eventually(t, func() bool { return e.Stats().Frames > frames+10 },
		waitTimeout, time.Millisecond, "render loop stalled")
	assert.NotZero(t, e.Stats().DroppedEvents)

	go func() { done <- e.ClosePreview() }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(waitTimeout):
		t.Fatal("ClosePreview blocked on an unread event channel")
	}

	go func() { done <- e.Release() }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(waitTimeout):
		t.Fatal("Release blocked on an unread event channel")
	}
	for range e.Events() {
	}
}

func TestUnknownBackend(t *testing.T) {
	_, err := New(WithBackend("no-such-backend"))
	assert.ErrorIs(t, err, backend.ErrBackendNotAvailable)
}
