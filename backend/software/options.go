package software

import "github.com/gogpu/camrec/gpucore"

// defaultRowAlignment matches the 8-byte pack alignment used for
// pixel-buffer readback on GLES devices.
const defaultRowAlignment = 8

// Option configures a software Context during creation.
type Option func(*options)

type options struct {
	rowAlignment  int
	displayWidth  int
	displayHeight int
	linkFailures  map[gpucore.ProgramKind]bool
	bufferFailure func(size int) error
}

func defaultOptions() options {
	return options{
		rowAlignment: defaultRowAlignment,
		linkFailures: make(map[gpucore.ProgramKind]bool),
	}
}

// WithRowAlignment sets the readback row alignment in bytes.
// Values that are not a power of two are ignored.
func WithRowAlignment(align int) Option {
	return func(o *options) {
		if align > 0 && align&(align-1) == 0 {
			o.rowAlignment = align
		}
	}
}

// WithDisplaySize sets the initial display surface size.
func WithDisplaySize(width, height int) Option {
	return func(o *options) {
		o.displayWidth = width
		o.displayHeight = height
	}
}

// WithLinkFailure makes CreateProgram fail for the given kinds, as a
// driver that rejects those shaders would.
func WithLinkFailure(kinds ...gpucore.ProgramKind) Option {
	return func(o *options) {
		for _, k := range kinds {
			o.linkFailures[k] = true
		}
	}
}

// WithBufferFailure installs a hook consulted by CreateReadbackBuffer.
// A non-nil error from fn fails the allocation.
func WithBufferFailure(fn func(size int) error) Option {
	return func(o *options) {
		o.bufferFailure = fn
	}
}
