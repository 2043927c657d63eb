package camrec

import (
	"github.com/gogpu/camrec/encoder"
	"github.com/gogpu/camrec/gpucore"
)

// Option configures an Engine.
type Option func(*options)

type options struct {
	backend     string
	factory     gpucore.Factory
	encoder     encoder.Service
	eventBuffer int
}

func defaultOptions() options {
	return options{eventBuffer: 64}
}

// WithBackend selects a registered backend by name. The default is the
// highest priority registered backend.
func WithBackend(name string) Option {
	return func(o *options) { o.backend = name }
}

// WithFactory sets the context factory directly, bypassing the registry.
func WithFactory(f gpucore.Factory) Option {
	return func(o *options) { o.factory = f }
}

// WithEncoder sets the encoder service. The default is an in-memory
// encoder, which records nothing to disk.
func WithEncoder(enc encoder.Service) Option {
	return func(o *options) { o.encoder = enc }
}

// WithEventBuffer sets the capacity of the event channel.
func WithEventBuffer(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.eventBuffer = n
		}
	}
}
