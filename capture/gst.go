//go:build !nogst

package capture

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/gogpu/camrec/filter"
	"github.com/gogpu/camrec/ingest"
)

// GstSource publishes the frames of a GStreamer source description, such
// as "v4l2src device=/dev/video0" or "videotestsrc is-live=true". The
// description must end in a static source pad; decoders with dynamic pads
// are followed by an element such as videoconvert.
//
// Frames are converted and scaled to RGBA at the source size:
//
//	source ! videoconvert ! videoscale ! videorate ! capsfilter ! appsink
type GstSource struct {
	*run
	desc string
	opts options

	mu       sync.Mutex
	id       string
	pipeline *gst.Pipeline
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	frames  atomic.Uint64
	dropped atomic.Uint64
}

var _ Source = (*GstSource)(nil)

// NewGstSource returns a source for the description desc.
func NewGstSource(desc string, opts ...Option) *GstSource {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &GstSource{run: newRun(), desc: desc, opts: o, id: uuid.New().String()}
}

// ID returns the capture session ID. A new one is assigned on Start.
func (s *GstSource) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Size returns the frame size.
func (s *GstSource) Size() filter.Size { return s.opts.size }

// Orientation returns the configured orientation.
func (s *GstSource) Orientation() filter.Rotation { return s.opts.orientation }

// Facing returns the configured facing.
func (s *GstSource) Facing() Facing { return s.opts.facing }

// Frames returns the number of frames published.
func (s *GstSource) Frames() uint64 { return s.frames.Load() }

func (s *GstSource) capsString() string {
	return fmt.Sprintf("video/x-raw,format=RGBA,width=%d,height=%d,framerate=%d/1",
		s.opts.size.Width, s.opts.size.Height, s.opts.fps)
}

func (s *GstSource) build(surf *ingest.Surface) (*gst.Pipeline, error) {
	gst.Init(nil)

	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return nil, fmt.Errorf("capture: create pipeline: %w", err)
	}
	src, err := gst.NewBinFromString(s.desc, true)
	if err != nil {
		return nil, fmt.Errorf("capture: parse source %q: %w", s.desc, err)
	}
	var elems []*gst.Element
	for _, name := range []string{"videoconvert", "videoscale", "videorate", "capsfilter"} {
		e, err := gst.NewElement(name)
		if err != nil {
			return nil, fmt.Errorf("capture: create %s: %w", name, err)
		}
		elems = append(elems, e)
	}
	elems[2].SetProperty("drop-only", true)
	elems[3].SetProperty("caps", gst.NewCapsFromString(s.capsString()))

	sink, err := app.NewAppSink()
	if err != nil {
		return nil, fmt.Errorf("capture: create appsink: %w", err)
	}
	sink.SetProperty("sync", false)
	sink.SetProperty("max-buffers", 1)
	sink.SetProperty("drop", true)

	w, h := s.opts.size.Width, s.opts.size.Height
	start := time.Now()
	sink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: func(sink *app.Sink) gst.FlowReturn {
			return s.onSample(sink, surf, w, h, start)
		},
	})

	all := append([]*gst.Element{src.Element}, elems...)
	all = append(all, sink.Element)
	if err := pipeline.AddMany(all...); err != nil {
		return nil, fmt.Errorf("capture: add elements: %w", err)
	}
	if err := gst.ElementLinkMany(all...); err != nil {
		return nil, fmt.Errorf("capture: link elements: %w", err)
	}
	return pipeline, nil
}

// onSample runs on the streaming thread. A sample that cannot be read is
// skipped.
func (s *GstSource) onSample(sink *app.Sink, surf *ingest.Surface, w, h int, start time.Time) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		s.dropped.Add(1)
		return gst.FlowOK
	}
	buffer := sample.GetBuffer()
	if buffer == nil {
		s.dropped.Add(1)
		return gst.FlowOK
	}
	data := buffer.Map(gst.MapRead).Bytes()
	defer buffer.Unmap()
	if err := surf.Publish(ingest.FrameBuffer{Pixels: data, Width: w, Height: h, Timestamp: time.Since(start)}); err != nil {
		s.dropped.Add(1)
		s.opts.log().Debug("capture: dropped sample", "session", s.ID(), "bytes", len(data), "err", err)
		return gst.FlowOK
	}
	s.frames.Add(1)
	return gst.FlowOK
}

// Start builds the pipeline, sets it playing and watches its bus. End of
// stream and pipeline errors stop the source with ErrLost.
func (s *GstSource) Start(ctx context.Context, surf *ingest.Surface) error {
	if _, err := s.begin(); err != nil {
		return err
	}
	pipeline, err := s.build(surf)
	if err != nil {
		s.end(err)
		return err
	}
	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		s.end(err)
		return fmt.Errorf("capture: start pipeline: %w", err)
	}

	wctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.id = uuid.New().String()
	s.pipeline, s.cancel = pipeline, cancel
	s.mu.Unlock()
	s.opts.log().Info("capture: started", "source", s.desc, "session", s.ID(), "caps", s.capsString())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		err := s.watch(wctx, pipeline)
		if err != nil || ctx.Err() != nil {
			_ = pipeline.SetState(gst.StateNull)
			s.end(err)
		}
	}()
	return nil
}

// watch polls the bus until ctx is done or the stream fails.
func (s *GstSource) watch(ctx context.Context, pipeline *gst.Pipeline) error {
	bus := pipeline.GetPipelineBus()
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}
		switch msg.Type() {
		case gst.MessageEOS:
			s.opts.log().Info("capture: end of stream", "session", s.ID(), "frames", s.frames.Load())
			return fmt.Errorf("%w: end of stream", ErrLost)
		case gst.MessageError:
			gerr := msg.ParseError()
			s.opts.log().Error("capture: pipeline error",
				"session", s.ID(), "err", gerr.Error(), "debug", gerr.DebugString(), "frames", s.frames.Load())
			return fmt.Errorf("%w: %s", ErrLost, gerr.Error())
		}
	}
}

// Stop stops the bus watcher and releases the pipeline.
func (s *GstSource) Stop() error {
	s.mu.Lock()
	pipeline, cancel := s.pipeline, s.cancel
	s.pipeline, s.cancel = nil, nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	var err error
	if pipeline != nil {
		if serr := pipeline.SetState(gst.StateNull); serr != nil {
			err = fmt.Errorf("capture: stop pipeline: %w", serr)
		}
	}
	if s.end(nil) {
		s.opts.log().Info("capture: stopped", "session", s.ID(), "frames", s.frames.Load(), "dropped", s.dropped.Load())
	}
	return err
}
