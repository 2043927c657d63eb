package capture

import (
	"log/slog"
	"time"

	"github.com/gogpu/camrec/filter"
	"github.com/gogpu/camrec/internal/logging"
)

// Option configures a source.
type Option func(*options)

type options struct {
	size        filter.Size
	fps         int
	orientation filter.Rotation
	facing      Facing
	logger      *slog.Logger
}

func defaultOptions() options {
	return options{size: filter.Size{Width: 640, Height: 480}, fps: 30}
}

// WithSize sets the frame size.
func WithSize(width, height int) Option {
	return func(o *options) {
		if width > 0 && height > 0 {
			o.size = filter.Size{Width: width, Height: height}
		}
	}
}

// WithFPS sets the frame rate.
func WithFPS(fps int) Option {
	return func(o *options) {
		if fps > 0 {
			o.fps = fps
		}
	}
}

// WithOrientation sets the sensor orientation reported by the source.
func WithOrientation(rot filter.Rotation) Option {
	return func(o *options) { o.orientation = rot }
}

// WithFacing sets the camera facing reported by the source.
func WithFacing(f Facing) Option {
	return func(o *options) { o.facing = f }
}

// WithLogger sets a logger for this source instead of the shared one.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

func (o *options) log() *slog.Logger {
	if o.logger != nil {
		return o.logger
	}
	return logging.Logger()
}

func (o *options) interval() time.Duration { return time.Second / time.Duration(o.fps) }
