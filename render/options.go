// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package render

import (
	"log/slog"

	"github.com/gogpu/camrec/internal/logging"
)

// Option configures a Scheduler.
type Option func(*options)

type options struct {
	sink   func(Event)
	logger *slog.Logger
}

func defaultOptions() options {
	return options{sink: func(Event) {}}
}

// WithEventSink sets the function receiving scheduler events. It is
// called on the render goroutine and must not block for long.
func WithEventSink(fn func(Event)) Option {
	return func(o *options) {
		if fn != nil {
			o.sink = fn
		}
	}
}

// WithLogger sets a logger for this scheduler instead of the shared one.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

func (o *options) log() *slog.Logger {
	if o.logger != nil {
		return o.logger
	}
	return logging.Logger()
}
