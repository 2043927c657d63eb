// Package software implements gpucore.Context on the CPU.
//
// Textures are tightly packed RGBA8 byte slices and programs are Go
// kernels, one per gpucore.ProgramKind. The backend is deterministic and
// keeps exact object counts, which makes it the backend of choice for
// tests and headless runs.
//
// Readback completes lazily: a copy issued by ReadPixelsAsync is only
// considered finished once a later submission (draw, present or another
// readback) has been issued on the share group. This models a GPU that
// runs one submission behind the CPU and makes premature mapping visible
// as gpucore.ErrReadbackPending.
package software

import (
	"fmt"
	"sync"

	"github.com/gogpu/camrec/backend"
	"github.com/gogpu/camrec/gpucore"
	"github.com/gogpu/camrec/internal/logging"
)

func init() {
	backend.Register(backend.NameSoftware, func() (gpucore.Context, error) {
		return New(), nil
	})
}

type texture struct {
	label    string
	width    int
	height   int
	pix      []byte
	external bool
}

type program struct {
	label string
	kind  gpucore.ProgramKind
}

type buffer struct {
	data []byte
	// filledAt is the submission sequence of the copy that filled data.
	filledAt uint64
	mapped   bool
}

// group is the set of objects shared by a primary context and every
// context created from it with Share.
type group struct {
	mu sync.Mutex

	opts     options
	nextID   uint64
	seq      uint64
	contexts int

	textures map[gpucore.TextureID]*texture
	programs map[gpucore.ProgramID]*program
	buffers  map[gpucore.BufferID]*buffer

	// leaked holds the objects still alive when the group was released.
	leaked gpucore.Stats
}

func (g *group) id() uint64 {
	g.nextID++
	return g.nextID
}

// release frees every object. Called with g.mu held when the last
// context is destroyed.
func (g *group) release() {
	g.leaked = gpucore.Stats{
		Textures: len(g.textures),
		Programs: len(g.programs),
		Buffers:  len(g.buffers),
	}
	g.textures = make(map[gpucore.TextureID]*texture)
	g.programs = make(map[gpucore.ProgramID]*program)
	g.buffers = make(map[gpucore.BufferID]*buffer)
}

// Context is a CPU implementation of gpucore.Context.
type Context struct {
	g *group

	display   *texture
	presented int
	lastFrame []byte
	destroyed bool
}

var _ gpucore.Context = (*Context)(nil)

// New creates a primary software context.
func New(opts ...Option) *Context {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	g := &group{
		opts:     o,
		contexts: 1,
	}
	g.release()
	c := &Context{g: g}
	if o.displayWidth > 0 && o.displayHeight > 0 {
		c.display = newTexture("display", o.displayWidth, o.displayHeight, false)
	}
	return c
}

func newTexture(label string, w, h int, external bool) *texture {
	return &texture{
		label:    label,
		width:    w,
		height:   h,
		pix:      make([]byte, w*h*4),
		external: external,
	}
}

// Name returns the backend name.
func (c *Context) Name() string { return backend.NameSoftware }

// Share creates a secondary context in the same share group.
func (c *Context) Share() (gpucore.Context, error) {
	c.g.mu.Lock()
	defer c.g.mu.Unlock()
	if c.destroyed {
		return nil, gpucore.ErrContextDestroyed
	}
	c.g.contexts++
	return &Context{g: c.g}, nil
}

// CreateTexture creates an RGBA8 texture.
func (c *Context) CreateTexture(desc *gpucore.TextureDescriptor) (gpucore.TextureID, error) {
	if desc == nil || desc.Width <= 0 || desc.Height <= 0 {
		return gpucore.InvalidID, gpucore.ErrInvalidSize
	}
	c.g.mu.Lock()
	defer c.g.mu.Unlock()
	if c.destroyed {
		return gpucore.InvalidID, gpucore.ErrContextDestroyed
	}
	id := gpucore.TextureID(c.g.id())
	c.g.textures[id] = newTexture(desc.Label, desc.Width, desc.Height, desc.External)
	return id, nil
}

// WriteTexture uploads RGBA8 rows into a texture.
func (c *Context) WriteTexture(id gpucore.TextureID, pixels []byte, bytesPerRow int) error {
	c.g.mu.Lock()
	defer c.g.mu.Unlock()
	if c.destroyed {
		return gpucore.ErrContextDestroyed
	}
	tex, ok := c.g.textures[id]
	if !ok {
		return fmt.Errorf("write texture %d: %w", id, gpucore.ErrUnknownTexture)
	}
	row := tex.width * 4
	if bytesPerRow < row {
		bytesPerRow = row
	}
	if len(pixels) < bytesPerRow*(tex.height-1)+row {
		return fmt.Errorf("write texture %d: %d bytes for %dx%d: %w",
			id, len(pixels), tex.width, tex.height, gpucore.ErrInvalidSize)
	}
	for y := 0; y < tex.height; y++ {
		copy(tex.pix[y*row:(y+1)*row], pixels[y*bytesPerRow:y*bytesPerRow+row])
	}
	return nil
}

// DestroyTexture releases a texture.
func (c *Context) DestroyTexture(id gpucore.TextureID) {
	c.g.mu.Lock()
	defer c.g.mu.Unlock()
	delete(c.g.textures, id)
}

// CreateProgram links a kernel program.
func (c *Context) CreateProgram(desc *gpucore.ProgramDescriptor) (gpucore.ProgramID, error) {
	if desc == nil {
		return gpucore.InvalidID, fmt.Errorf("program descriptor is nil")
	}
	c.g.mu.Lock()
	defer c.g.mu.Unlock()
	if c.destroyed {
		return gpucore.InvalidID, gpucore.ErrContextDestroyed
	}
	if c.g.opts.linkFailures[desc.Kind] || kernelFor(desc.Kind) == nil {
		logging.Logger().Debug("software: link failed", "program", desc.Label, "kind", desc.Kind)
		return gpucore.InvalidID, fmt.Errorf("%w: %s (%s)", gpucore.ErrLinkFailed, desc.Label, desc.Kind)
	}
	id := gpucore.ProgramID(c.g.id())
	c.g.programs[id] = &program{label: desc.Label, kind: desc.Kind}
	return id, nil
}

// DestroyProgram releases a program.
func (c *Context) DestroyProgram(id gpucore.ProgramID) {
	c.g.mu.Lock()
	defer c.g.mu.Unlock()
	delete(c.g.programs, id)
}

// Draw runs the program kernel over the quad.
func (c *Context) Draw(call *gpucore.DrawCall) error {
	if call == nil {
		return fmt.Errorf("draw call is nil")
	}
	c.g.mu.Lock()
	defer c.g.mu.Unlock()
	if c.destroyed {
		return gpucore.ErrContextDestroyed
	}
	prog, ok := c.g.programs[call.Program]
	if !ok {
		return fmt.Errorf("draw %q: %w", call.Label, gpucore.ErrUnknownProgram)
	}
	in, ok := c.g.textures[call.Input]
	if !ok {
		return fmt.Errorf("draw %q input %d: %w", call.Label, call.Input, gpucore.ErrUnknownTexture)
	}
	var sec *texture
	if call.Secondary != gpucore.InvalidID {
		if sec, ok = c.g.textures[call.Secondary]; !ok {
			return fmt.Errorf("draw %q secondary %d: %w", call.Label, call.Secondary, gpucore.ErrUnknownTexture)
		}
	}
	dst := c.display
	if call.Target != gpucore.InvalidID {
		if dst, ok = c.g.textures[call.Target]; !ok {
			return fmt.Errorf("draw %q target %d: %w", call.Label, call.Target, gpucore.ErrUnknownTexture)
		}
	}
	if dst == nil {
		return fmt.Errorf("draw %q: no display surface: %w", call.Label, gpucore.ErrInvalidSize)
	}

	if call.Clear {
		clear(dst.pix)
	}
	rasterize(dst, call, kernelFor(prog.kind), in, sec)
	c.g.seq++
	return nil
}

// ResizeDisplay reallocates the display surface.
func (c *Context) ResizeDisplay(width, height int) error {
	if width <= 0 || height <= 0 {
		return gpucore.ErrInvalidSize
	}
	c.g.mu.Lock()
	defer c.g.mu.Unlock()
	if c.destroyed {
		return gpucore.ErrContextDestroyed
	}
	if c.display == nil || c.display.width != width || c.display.height != height {
		c.display = newTexture("display", width, height, false)
	}
	return nil
}

// Present swaps the display surface.
func (c *Context) Present() error {
	c.g.mu.Lock()
	defer c.g.mu.Unlock()
	if c.destroyed {
		return gpucore.ErrContextDestroyed
	}
	if c.display == nil {
		return fmt.Errorf("present: no display surface: %w", gpucore.ErrInvalidSize)
	}
	c.lastFrame = append(c.lastFrame[:0], c.display.pix...)
	c.presented++
	c.g.seq++
	return nil
}

// RowAlignment returns the readback row alignment.
func (c *Context) RowAlignment() int { return c.g.opts.rowAlignment }

// CreateReadbackBuffer allocates a readback buffer.
func (c *Context) CreateReadbackBuffer(size int) (gpucore.BufferID, error) {
	if size <= 0 {
		return gpucore.InvalidID, gpucore.ErrInvalidSize
	}
	c.g.mu.Lock()
	defer c.g.mu.Unlock()
	if c.destroyed {
		return gpucore.InvalidID, gpucore.ErrContextDestroyed
	}
	if fn := c.g.opts.bufferFailure; fn != nil {
		if err := fn(size); err != nil {
			return gpucore.InvalidID, fmt.Errorf("create readback buffer (%d bytes): %w", size, err)
		}
	}
	id := gpucore.BufferID(c.g.id())
	c.g.buffers[id] = &buffer{data: make([]byte, size)}
	return id, nil
}

// DestroyBuffer releases a readback buffer.
func (c *Context) DestroyBuffer(id gpucore.BufferID) {
	c.g.mu.Lock()
	defer c.g.mu.Unlock()
	delete(c.g.buffers, id)
}

// ReadPixelsAsync copies src rows into dst at the layout stride. The copy
// counts as complete once a later submission is issued.
func (c *Context) ReadPixelsAsync(src gpucore.TextureID, dst gpucore.BufferID, layout gpucore.ReadbackLayout) error {
	c.g.mu.Lock()
	defer c.g.mu.Unlock()
	if c.destroyed {
		return gpucore.ErrContextDestroyed
	}
	tex, ok := c.g.textures[src]
	if !ok {
		return fmt.Errorf("read pixels from %d: %w", src, gpucore.ErrUnknownTexture)
	}
	buf, ok := c.g.buffers[dst]
	if !ok {
		return fmt.Errorf("read pixels into %d: %w", dst, gpucore.ErrUnknownBuffer)
	}
	w, h := min(layout.Width, tex.width), min(layout.Height, tex.height)
	row := w * 4
	if layout.BytesPerRow < row || len(buf.data) < layout.BytesPerRow*h {
		return fmt.Errorf("read pixels %dx%d stride %d into %d bytes: %w",
			w, h, layout.BytesPerRow, len(buf.data), gpucore.ErrInvalidSize)
	}
	// Each submission completes the ones before it.
	c.g.seq++
	for y := 0; y < h; y++ {
		copy(buf.data[y*layout.BytesPerRow:y*layout.BytesPerRow+row], tex.pix[y*tex.width*4:y*tex.width*4+row])
	}
	buf.filledAt = c.g.seq
	return nil
}

// MapRead maps a buffer whose copy has completed.
func (c *Context) MapRead(id gpucore.BufferID) ([]byte, error) {
	c.g.mu.Lock()
	defer c.g.mu.Unlock()
	if c.destroyed {
		return nil, gpucore.ErrContextDestroyed
	}
	buf, ok := c.g.buffers[id]
	if !ok {
		return nil, fmt.Errorf("map buffer %d: %w", id, gpucore.ErrUnknownBuffer)
	}
	if buf.filledAt != 0 && buf.filledAt >= c.g.seq {
		return nil, fmt.Errorf("map buffer %d: %w", id, gpucore.ErrReadbackPending)
	}
	buf.mapped = true
	return buf.data, nil
}

// Unmap releases a mapping.
func (c *Context) Unmap(id gpucore.BufferID) {
	c.g.mu.Lock()
	defer c.g.mu.Unlock()
	if buf, ok := c.g.buffers[id]; ok {
		buf.mapped = false
	}
}

// Stats reports the live objects of the share group.
func (c *Context) Stats() gpucore.Stats {
	c.g.mu.Lock()
	defer c.g.mu.Unlock()
	return gpucore.Stats{
		Textures: len(c.g.textures),
		Programs: len(c.g.programs),
		Buffers:  len(c.g.buffers),
		Contexts: c.g.contexts,
	}
}

// Leaked returns the objects that were never destroyed before the last
// context of the share group was. It is empty while the group is alive.
func (c *Context) Leaked() gpucore.Stats {
	c.g.mu.Lock()
	defer c.g.mu.Unlock()
	return c.g.leaked
}

// Destroy releases the context. The last context of a share group
// releases every shared object.
func (c *Context) Destroy() {
	c.g.mu.Lock()
	defer c.g.mu.Unlock()
	if c.destroyed {
		return
	}
	c.destroyed = true
	c.display = nil
	c.g.contexts--
	if c.g.contexts == 0 {
		c.g.release()
	}
}

// Presented returns the number of Present calls on this context.
func (c *Context) Presented() int {
	c.g.mu.Lock()
	defer c.g.mu.Unlock()
	return c.presented
}

// LastFrame returns a copy of the most recently presented display pixels.
func (c *Context) LastFrame() []byte {
	c.g.mu.Lock()
	defer c.g.mu.Unlock()
	return append([]byte(nil), c.lastFrame...)
}

// TexturePixels returns a copy of a texture's pixels and its size.
func (c *Context) TexturePixels(id gpucore.TextureID) ([]byte, int, int, error) {
	c.g.mu.Lock()
	defer c.g.mu.Unlock()
	tex, ok := c.g.textures[id]
	if !ok {
		return nil, 0, 0, fmt.Errorf("texture %d: %w", id, gpucore.ErrUnknownTexture)
	}
	return append([]byte(nil), tex.pix...), tex.width, tex.height, nil
}
