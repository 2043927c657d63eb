// Command camrec previews a capture source through the filter graph and
// records the composite for a fixed duration.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/gogpu/camrec"
	"github.com/gogpu/camrec/backend"
	"github.com/gogpu/camrec/capture"
	"github.com/gogpu/camrec/filter"

	_ "github.com/gogpu/camrec/backend/wgpu"
)

func main() {
	var (
		backendName = flag.String("backend", "", "GPU backend: "+strings.Join(backend.Available(), ", ")+" (default: best available)")
		source      = flag.String("source", "", "GStreamer source description (default: synthetic bars)")
		width       = flag.Int("width", 640, "capture and surface width")
		height      = flag.Int("height", 480, "capture and surface height")
		fps         = flag.Int("fps", 30, "frame rate")
		output      = flag.String("output", "camrec.mp4", "output file")
		duration    = flag.Duration("duration", 5*time.Second, "recording duration")
		filterName  = flag.String("filter", "", "user filter name")
		verbose     = flag.Bool("v", false, "log debug output")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	camrec.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	opts := []camrec.Option{camrec.WithEncoder(newEncoder(*output))}
	if *backendName != "" {
		opts = append(opts, camrec.WithBackend(*backendName))
	}
	e, err := camrec.New(opts...)
	if err != nil && *backendName == "" {
		log.Printf("default backend unavailable, using %s: %v", backend.NameSoftware, err)
		e, err = camrec.New(append(opts, camrec.WithBackend(backend.NameSoftware))...)
	}
	if err != nil {
		log.Fatalf("camrec: %v", err)
	}
	defer func() {
		if err := e.Release(); err != nil {
			log.Printf("release: %v", err)
		}
	}()
	go logEvents(e.Events())

	if *filterName != "" {
		t, err := filter.ParseType(*filterName)
		if err != nil {
			log.Fatalf("filter: %v", err)
		}
		if err := e.SetFilter(t); err != nil {
			log.Fatalf("filter: %v", err)
		}
	}

	if err := e.SurfaceCreated(*width, *height); err != nil {
		log.Fatalf("surface: %v", err)
	}
	srcOpts := []capture.Option{capture.WithSize(*width, *height), capture.WithFPS(*fps)}
	if err := e.OpenPreview(ctx, newSource(*source, srcOpts...)); err != nil {
		log.Fatalf("preview: %v", err)
	}
	cfg := e.RecordingConfig(*fps)
	cfg.Output = *output
	if err := e.StartRecording(ctx, cfg); err != nil {
		log.Fatalf("record: %v", err)
	}

	select {
	case <-time.After(*duration):
	case <-ctx.Done():
	}

	if err := e.StopRecording(); err != nil {
		log.Printf("stop recording: %v", err)
	}
	st := e.Stats()
	log.Printf("recorded %d frames to %s (%d presented, %d dropped)",
		st.Recording.Forwarded, *output, st.Frames, st.Recording.Dropped)
}

func logEvents(events <-chan camrec.Event) {
	for ev := range events {
		switch ev.Kind {
		case camrec.EventFrameAvailable:
		case camrec.EventPreviewError, camrec.EventRecorderError:
			slog.Error("event", "kind", ev.Kind, "state", ev.State, "err", ev.Err)
		default:
			slog.Debug("event", "kind", ev.Kind, "state", ev.State, "session", ev.Session)
		}
	}
}
