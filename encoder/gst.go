//go:build !nogst

package encoder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/gogpu/camrec/internal/logging"
)

// eosTimeout bounds the wait for mp4mux to finalize the file on Stop.
const eosTimeout = 5 * time.Second

// GstEncoder is a Service encoding H.264 into an MP4 file with GStreamer.
//
// x264enc runs in bitrate mode with Bitrate/Multiple kbit/s. CRF is kept in
// the params for services that support it.
type GstEncoder struct {
	mu       sync.Mutex
	cfg      Config
	ok       bool
	listener func(Event)

	pipeline *gst.Pipeline
	src      *app.Source
	frameDur time.Duration
	frames   int64
	started  bool
	cancel   context.CancelFunc
	eos      chan struct{}
	done     chan struct{}
}

var _ Service = (*GstEncoder)(nil)

// NewGstEncoder returns an encoder writing to the output_filename param.
func NewGstEncoder() *GstEncoder {
	return &GstEncoder{listener: func(Event) {}}
}

// SetListener sets the event listener.
func (e *GstEncoder) SetListener(fn func(Event)) {
	if fn == nil {
		fn = func(Event) {}
	}
	e.mu.Lock()
	e.listener = fn
	e.mu.Unlock()
}

func (e *GstEncoder) emit(ev Event) {
	e.mu.Lock()
	fn := e.listener
	e.mu.Unlock()
	fn(ev)
}

// SetConfigParams stores p. An output file is required.
func (e *GstEncoder) SetConfigParams(p Params) bool {
	cfg, err := ParseParams(p)
	if err == nil && cfg.Output == "" {
		err = fmt.Errorf("%w: no output file", ErrInvalidConfig)
	}
	if err != nil {
		logging.Logger().Warn("encoder: rejected params", "err", err)
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return false
	}
	e.cfg, e.ok = cfg, true
	return true
}

// launch returns the description of the encoding bin between appsrc and
// filesink.
func launch(c Config) string {
	s := "videoconvert ! "
	if c.CFR {
		s = fmt.Sprintf("videorate ! video/x-raw,framerate=%d/1 ! ", c.FPS) + s
	}
	return s + fmt.Sprintf("x264enc bitrate=%d speed-preset=%s tune=%s key-int-max=%d bframes=%d ! mp4mux",
		max(c.Bitrate/c.Multiple, 1), c.Preset, c.Tune, c.GOPSize(), c.MaxBFrames)
}

func caps(c Config) string {
	return fmt.Sprintf("video/x-raw,format=RGBA,width=%d,height=%d,framerate=%d/1", c.Width, c.Height, c.FPS)
}

// PrepareAsync builds the pipeline on a new goroutine.
func (e *GstEncoder) PrepareAsync() error {
	e.mu.Lock()
	cfg, ok := e.cfg, e.ok
	busy := e.started || e.pipeline != nil
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: no config", ErrInvalidConfig)
	}
	if busy {
		return fmt.Errorf("encoder: prepare while running")
	}

	go func() {
		pipeline, src, err := buildPipeline(cfg)
		if err != nil {
			logging.Logger().Error("encoder: prepare failed", "output", cfg.Output, "err", err)
			e.emit(Event{Kind: EventError, Err: err})
			return
		}
		e.mu.Lock()
		e.pipeline, e.src = pipeline, src
		e.frameDur = time.Second / time.Duration(cfg.FPS)
		e.mu.Unlock()
		logging.Logger().Info("encoder: prepared",
			"output", cfg.Output, "width", cfg.Width, "height", cfg.Height, "bitrate", cfg.Bitrate)
		e.emit(Event{Kind: EventPrepared})
	}()
	return nil
}

func buildPipeline(cfg Config) (*gst.Pipeline, *app.Source, error) {
	gst.Init(nil)

	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return nil, nil, fmt.Errorf("encoder: create pipeline: %w", err)
	}
	src, err := app.NewAppSrc()
	if err != nil {
		return nil, nil, fmt.Errorf("encoder: create appsrc: %w", err)
	}
	src.SetCaps(gst.NewCapsFromString(caps(cfg)))
	src.SetProperty("is-live", true)

	bin, err := gst.NewBinFromString(launch(cfg), true)
	if err != nil {
		return nil, nil, fmt.Errorf("encoder: create encoding bin: %w", err)
	}
	sink, err := gst.NewElement("filesink")
	if err != nil {
		return nil, nil, fmt.Errorf("encoder: create filesink: %w", err)
	}
	sink.SetProperty("location", cfg.Output)

	if err := pipeline.AddMany(src.Element, bin.Element, sink); err != nil {
		return nil, nil, fmt.Errorf("encoder: add elements: %w", err)
	}
	if err := gst.ElementLinkMany(src.Element, bin.Element, sink); err != nil {
		return nil, nil, fmt.Errorf("encoder: link elements: %w", err)
	}
	return pipeline, src, nil
}

// Start sets the pipeline playing and starts watching its bus.
func (e *GstEncoder) Start() error {
	e.mu.Lock()
	if e.pipeline == nil {
		e.mu.Unlock()
		return ErrNotPrepared
	}
	if e.started {
		e.mu.Unlock()
		return nil
	}
	if err := e.pipeline.SetState(gst.StatePlaying); err != nil {
		e.mu.Unlock()
		return fmt.Errorf("encoder: play: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.eos = make(chan struct{})
	e.done = make(chan struct{})
	e.frames = 0
	e.started = true
	go e.watch(ctx, e.pipeline, e.eos, e.done)
	e.mu.Unlock()

	e.emit(Event{Kind: EventStarted})
	return nil
}

// watch polls the bus until ctx is done. EOS closes eos. An error is
// reported to the listener.
func (e *GstEncoder) watch(ctx context.Context, pipeline *gst.Pipeline, eos, done chan struct{}) {
	defer close(done)
	bus := pipeline.GetPipelineBus()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}
		switch msg.Type() {
		case gst.MessageEOS:
			logging.Logger().Debug("encoder: end of stream")
			close(eos)
			return
		case gst.MessageError:
			gerr := msg.ParseError()
			logging.Logger().Error("encoder: pipeline error", "err", gerr.Error(), "debug", gerr.DebugString())
			e.emit(Event{Kind: EventError, Err: fmt.Errorf("encoder: pipeline: %s", gerr.Error())})
			return
		}
	}
}

// Put pushes the rows of b without padding into appsrc.
func (e *GstEncoder) Put(b Buffer) error {
	if err := b.Check(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.started {
		return ErrNotStarted
	}
	if b.Width != e.cfg.Width || b.Height != e.cfg.Height {
		return fmt.Errorf("%w: frame %dx%d, config %dx%d", ErrBadBuffer, b.Width, b.Height, e.cfg.Width, e.cfg.Height)
	}
	buf := gst.NewBufferFromBytes(b.Compact(make([]byte, 0, b.Width*b.PixelStride*b.Height)))
	pts := b.PTS
	if pts == 0 {
		pts = time.Duration(e.frames) * e.frameDur
	}
	buf.SetPresentationTimestamp(pts)
	buf.SetDuration(e.frameDur)
	e.frames++
	if ret := e.src.PushBuffer(buf); ret != gst.FlowOK {
		return fmt.Errorf("encoder: push buffer: flow %v", ret)
	}
	return nil
}

// Stop ends the stream, waits for the file to be finalized and releases
// the pipeline.
func (e *GstEncoder) Stop() error {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return nil
	}
	e.started = false
	pipeline, src, eos, done, cancel := e.pipeline, e.src, e.eos, e.done, e.cancel
	e.pipeline, e.src = nil, nil
	e.mu.Unlock()

	var err error
	src.EndStream()
	select {
	case <-eos:
	case <-done:
		select {
		case <-eos:
		default:
			err = errors.New("encoder: pipeline failed before end of stream")
		}
	case <-time.After(eosTimeout):
		err = fmt.Errorf("encoder: no end of stream after %s", eosTimeout)
	}
	cancel()
	<-done
	if serr := pipeline.SetState(gst.StateNull); serr != nil && err == nil {
		err = fmt.Errorf("encoder: stop pipeline: %w", serr)
	}
	if err != nil {
		logging.Logger().Warn("encoder: stop", "err", err)
	}
	e.emit(Event{Kind: EventStopped})
	return err
}
