package encoder

import (
	"fmt"
	"sync"

	"github.com/gogpu/camrec/internal/logging"
)

type memState int

const (
	memIdle memState = iota
	memConfigured
	memPreparing
	memPrepared
	memStarted
)

// MemoryOption configures a Memory encoder.
type MemoryOption func(*Memory)

// WithPrepareError makes every prepare fail with err.
func WithPrepareError(err error) MemoryOption {
	return func(m *Memory) { m.prepareErr = err }
}

// WithPutHook calls fn with every accepted buffer, before it is stored.
func WithPutHook(fn func(Buffer)) MemoryOption {
	return func(m *Memory) { m.hook = fn }
}

// Memory is a Service keeping a compact copy of every frame.
type Memory struct {
	prepareErr error
	hook       func(Buffer)

	mu       sync.Mutex
	state    memState
	cfg      Config
	listener func(Event)
	frames   []Buffer
	sessions int
}

var _ Service = (*Memory)(nil)

// NewMemory returns an in-memory encoder.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{listener: func(Event) {}}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetListener sets the event listener.
func (m *Memory) SetListener(fn func(Event)) {
	if fn == nil {
		fn = func(Event) {}
	}
	m.mu.Lock()
	m.listener = fn
	m.mu.Unlock()
}

func (m *Memory) emit(ev Event) {
	m.mu.Lock()
	fn := m.listener
	m.mu.Unlock()
	fn(ev)
}

// SetConfigParams stores p. It is rejected while started.
func (m *Memory) SetConfigParams(p Params) bool {
	cfg, err := ParseParams(p)
	if err != nil {
		logging.Logger().Warn("encoder: rejected params", "err", err)
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == memStarted || m.state == memPreparing {
		return false
	}
	m.cfg = cfg
	m.state = memConfigured
	return true
}

// PrepareAsync reports EventPrepared from a new goroutine.
func (m *Memory) PrepareAsync() error {
	m.mu.Lock()
	if m.state != memConfigured && m.state != memPrepared {
		m.mu.Unlock()
		return fmt.Errorf("%w: no config", ErrInvalidConfig)
	}
	m.state = memPreparing
	m.mu.Unlock()

	go func() {
		m.mu.Lock()
		err := m.prepareErr
		if err != nil {
			m.state = memConfigured
		} else {
			m.state = memPrepared
		}
		m.mu.Unlock()
		if err != nil {
			m.emit(Event{Kind: EventError, Err: err})
			return
		}
		m.emit(Event{Kind: EventPrepared})
	}()
	return nil
}

// Start begins a session. Frames of a previous session are discarded.
func (m *Memory) Start() error {
	m.mu.Lock()
	if m.state != memPrepared {
		m.mu.Unlock()
		return ErrNotPrepared
	}
	m.state = memStarted
	m.frames = nil
	m.sessions++
	m.mu.Unlock()
	m.emit(Event{Kind: EventStarted})
	return nil
}

// Put stores a compact copy of b.
func (m *Memory) Put(b Buffer) error {
	if err := b.Check(); err != nil {
		return err
	}
	if m.hook != nil {
		m.hook(b)
	}
	c := b
	c.Data = b.Compact(nil)
	c.RowPadding = 0

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != memStarted {
		return ErrNotStarted
	}
	if b.Width != m.cfg.Width || b.Height != m.cfg.Height {
		logging.Logger().Debug("encoder: frame size differs from config",
			"width", b.Width, "height", b.Height, "config_width", m.cfg.Width, "config_height", m.cfg.Height)
	}
	m.frames = append(m.frames, c)
	return nil
}

// Stop ends the session. Stopping an idle encoder is a no-op.
func (m *Memory) Stop() error {
	m.mu.Lock()
	if m.state != memStarted {
		m.mu.Unlock()
		return nil
	}
	m.state = memIdle
	m.mu.Unlock()
	m.emit(Event{Kind: EventStopped})
	return nil
}

// Config returns the last accepted config.
func (m *Memory) Config() Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}

// Frames returns the frames of the current or last session.
func (m *Memory) Frames() []Buffer {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Buffer(nil), m.frames...)
}

// Len returns the number of frames of the current or last session.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.frames)
}

// Sessions returns the number of started sessions.
func (m *Memory) Sessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions
}

// Started reports whether a session is running.
func (m *Memory) Started() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == memStarted
}
