package recording

import (
	"log/slog"

	"github.com/gogpu/camrec/internal/logging"
)

// Option configures a Bridge.
type Option func(*options)

type options struct {
	rotation     int
	flipH, flipV bool
	logger       *slog.Logger
}

// WithOrientation sets the orientation metadata attached to every buffer.
func WithOrientation(rotation int, flipH, flipV bool) Option {
	return func(o *options) {
		o.rotation, o.flipH, o.flipV = rotation, flipH, flipV
	}
}

// WithLogger sets a logger for this bridge instead of the shared one.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

func (o *options) log() *slog.Logger {
	if o.logger != nil {
		return o.logger
	}
	return logging.Logger()
}
