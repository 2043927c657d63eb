//go:build !nogpu

package wgpu

import (
	"fmt"
	"sync"
	"time"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	// Import Vulkan backend so it registers via init().
	_ "github.com/gogpu/wgpu/hal/vulkan"

	"github.com/gogpu/camrec/backend"
	"github.com/gogpu/camrec/gpucore"
	"github.com/gogpu/camrec/internal/logging"
)

// copyPitchAlignment is the WebGPU requirement for BytesPerRow in
// texture-to-buffer copies.
const copyPitchAlignment = 256

// completionTimeout bounds waits for GPU completion on teardown.
const completionTimeout = 5 * time.Second

// pollInterval is the sleep between completion polls.
const pollInterval = 500 * time.Microsecond

// defaultMapTimeout bounds how long MapRead waits for a readback copy.
const defaultMapTimeout = 50 * time.Millisecond

func init() {
	backend.Register(backend.NameWGPU, func() (gpucore.Context, error) {
		return New()
	})
}

type texture struct {
	label  string
	tex    hal.Texture
	view   hal.TextureView
	width  int
	height int
}

type program struct {
	label    string
	kind     gpucore.ProgramKind
	module   hal.ShaderModule
	pipeline hal.RenderPipeline
}

type buffer struct {
	buf    hal.Buffer
	size   int
	sub    *submission
	data   []byte
	mapped bool
}

// submission tracks a submitted command buffer and the transient
// resources it references until the queue reports its index completed.
type submission struct {
	cmdBuf    hal.CommandBuffer
	index     uint64
	buffers   []hal.Buffer
	bindGroup hal.BindGroup
	done      bool
}

// group holds the device and every object visible to the contexts
// created from it.
type group struct {
	mu sync.Mutex

	instance   hal.Instance
	device     hal.Device
	queue      hal.Queue
	ownsDevice bool
	mapTimeout time.Duration

	sampler    hal.Sampler
	bindLayout hal.BindGroupLayout
	pipeLayout hal.PipelineLayout

	nextID   uint64
	contexts int
	textures map[gpucore.TextureID]*texture
	programs map[gpucore.ProgramID]*program
	buffers  map[gpucore.BufferID]*buffer

	inFlight []*submission
}

// Context implements gpucore.Context on a gogpu/wgpu HAL device.
//
// The display surface is an offscreen texture owned by the context; a
// host that presents to a window composites DisplayView after Present.
type Context struct {
	g *group

	display   *texture
	presented int
	destroyed bool
}

var _ gpucore.Context = (*Context)(nil)

// New opens the first suitable Vulkan adapter and creates a primary context.
func New() (*Context, error) {
	b, ok := hal.GetBackend(gputypes.BackendVulkan)
	if !ok {
		return nil, fmt.Errorf("wgpu: vulkan backend not available")
	}
	instance, err := b.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create instance: %w", err)
	}
	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, fmt.Errorf("wgpu: no GPU adapters found")
	}
	var selected *hal.ExposedAdapter
	for i := range adapters {
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU ||
			adapters[i].Info.DeviceType == gputypes.DeviceTypeIntegratedGPU {
			selected = &adapters[i]
			break
		}
	}
	if selected == nil {
		selected = &adapters[0]
	}
	openDev, err := selected.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		return nil, fmt.Errorf("wgpu: open device: %w", err)
	}
	c, err := newContext(openDev.Device, openDev.Queue, true)
	if err != nil {
		openDev.Device.Destroy()
		instance.Destroy()
		return nil, err
	}
	c.g.instance = instance
	logging.Logger().Info("wgpu: context created", "adapter", selected.Info.Name)
	return c, nil
}

// NewFromDevice creates a primary context on an existing device. The
// device is not destroyed with the context.
func NewFromDevice(device hal.Device, queue hal.Queue) (*Context, error) {
	if device == nil || queue == nil {
		return nil, fmt.Errorf("wgpu: nil device or queue")
	}
	return newContext(device, queue, false)
}

// NewFromProvider adopts the device of a host application. The provider
// must expose HalDevice() any and HalQueue() any returning hal.Device and
// hal.Queue.
func NewFromProvider(provider gpucontext.DeviceProvider) (*Context, error) {
	type halProvider interface {
		HalDevice() any
		HalQueue() any
	}
	hp, ok := provider.(halProvider)
	if !ok {
		return nil, fmt.Errorf("wgpu: provider does not expose HAL types")
	}
	device, ok := hp.HalDevice().(hal.Device)
	if !ok || device == nil {
		return nil, fmt.Errorf("wgpu: provider HalDevice is not hal.Device")
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return nil, fmt.Errorf("wgpu: provider HalQueue is not hal.Queue")
	}
	return newContext(device, queue, false)
}

func newContext(device hal.Device, queue hal.Queue, owns bool) (*Context, error) {
	g := &group{
		device:     device,
		queue:      queue,
		ownsDevice: owns,
		mapTimeout: defaultMapTimeout,
		contexts:   1,
		textures:   make(map[gpucore.TextureID]*texture),
		programs:   make(map[gpucore.ProgramID]*program),
		buffers:    make(map[gpucore.BufferID]*buffer),
	}
	if err := g.createSharedState(); err != nil {
		g.destroySharedState()
		return nil, err
	}
	return &Context{g: g}, nil
}

// SetMapTimeout sets how long MapRead waits for an in-flight copy.
func (c *Context) SetMapTimeout(d time.Duration) {
	c.g.mu.Lock()
	defer c.g.mu.Unlock()
	c.g.mapTimeout = d
}

// createSharedState builds the sampler and the single bind group layout
// used by every stage program:
//
//	Binding 0: StageUniforms (uniform buffer, vertex+fragment)
//	Binding 1: primary texture (texture_2d, fragment)
//	Binding 2: secondary texture (texture_2d, fragment)
//	Binding 3: sampler (fragment)
func (g *group) createSharedState() error {
	sampler, err := g.device.CreateSampler(&hal.SamplerDescriptor{
		Label:        "camrec_stage_sampler",
		AddressModeU: gputypes.AddressModeClampToEdge,
		AddressModeV: gputypes.AddressModeClampToEdge,
		AddressModeW: gputypes.AddressModeClampToEdge,
		MagFilter:    gputypes.FilterModeLinear,
		MinFilter:    gputypes.FilterModeLinear,
		MipmapFilter: gputypes.FilterModeLinear,
	})
	if err != nil {
		return fmt.Errorf("wgpu: create sampler: %w", err)
	}
	g.sampler = sampler

	texLayout := &gputypes.TextureBindingLayout{
		SampleType:    gputypes.TextureSampleTypeFloat,
		ViewDimension: gputypes.TextureViewDimension2D,
	}
	layout, err := g.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label: "camrec_stage_layout",
		Entries: []gputypes.BindGroupLayoutEntry{
			{
				Binding:    0,
				Visibility: gputypes.ShaderStageVertex | gputypes.ShaderStageFragment,
				Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform},
			},
			{Binding: 1, Visibility: gputypes.ShaderStageFragment, Texture: texLayout},
			{Binding: 2, Visibility: gputypes.ShaderStageFragment, Texture: texLayout},
			{
				Binding:    3,
				Visibility: gputypes.ShaderStageFragment,
				Sampler:    &gputypes.SamplerBindingLayout{Type: gputypes.SamplerBindingTypeFiltering},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("wgpu: create bind group layout: %w", err)
	}
	g.bindLayout = layout

	pipeLayout, err := g.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            "camrec_stage_pipe_layout",
		BindGroupLayouts: []hal.BindGroupLayout{g.bindLayout},
	})
	if err != nil {
		return fmt.Errorf("wgpu: create pipeline layout: %w", err)
	}
	g.pipeLayout = pipeLayout
	return nil
}

func (g *group) destroySharedState() {
	if g.pipeLayout != nil {
		g.device.DestroyPipelineLayout(g.pipeLayout)
		g.pipeLayout = nil
	}
	if g.bindLayout != nil {
		g.device.DestroyBindGroupLayout(g.bindLayout)
		g.bindLayout = nil
	}
	if g.sampler != nil {
		g.device.DestroySampler(g.sampler)
		g.sampler = nil
	}
}

func (g *group) id() uint64 {
	g.nextID++
	return g.nextID
}

// Name returns the backend name.
func (c *Context) Name() string { return backend.NameWGPU }

// Share creates a secondary context on the same device.
func (c *Context) Share() (gpucore.Context, error) {
	c.g.mu.Lock()
	defer c.g.mu.Unlock()
	if c.destroyed {
		return nil, gpucore.ErrContextDestroyed
	}
	c.g.contexts++
	return &Context{g: c.g}, nil
}

func (g *group) newTexture(label string, w, h int) (*texture, error) {
	tex, err := g.device.CreateTexture(&hal.TextureDescriptor{
		Label:         label,
		Size:          hal.Extent3D{Width: uint32(w), Height: uint32(h), DepthOrArrayLayers: 1},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     gputypes.TextureDimension2D,
		Format:        gputypes.TextureFormatRGBA8Unorm,
		Usage: gputypes.TextureUsageRenderAttachment | gputypes.TextureUsageCopySrc |
			gputypes.TextureUsageTextureBinding | gputypes.TextureUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("create texture %q: %w", label, err)
	}
	view, err := g.device.CreateTextureView(tex, &hal.TextureViewDescriptor{
		Label:         label + "_view",
		Format:        gputypes.TextureFormatRGBA8Unorm,
		Dimension:     gputypes.TextureViewDimension2D,
		Aspect:        gputypes.TextureAspectAll,
		MipLevelCount: 1,
	})
	if err != nil {
		g.device.DestroyTexture(tex)
		return nil, fmt.Errorf("create texture view %q: %w", label, err)
	}
	return &texture{label: label, tex: tex, view: view, width: w, height: h}, nil
}

func (g *group) destroyTexture(t *texture) {
	g.device.DestroyTextureView(t.view)
	g.device.DestroyTexture(t.tex)
}

// CreateTexture creates an RGBA8 texture usable as input and target.
func (c *Context) CreateTexture(desc *gpucore.TextureDescriptor) (gpucore.TextureID, error) {
	if desc == nil || desc.Width <= 0 || desc.Height <= 0 {
		return gpucore.InvalidID, gpucore.ErrInvalidSize
	}
	c.g.mu.Lock()
	defer c.g.mu.Unlock()
	if c.destroyed {
		return gpucore.InvalidID, gpucore.ErrContextDestroyed
	}
	t, err := c.g.newTexture(desc.Label, desc.Width, desc.Height)
	if err != nil {
		return gpucore.InvalidID, err
	}
	id := gpucore.TextureID(c.g.id())
	c.g.textures[id] = t
	return id, nil
}

// WriteTexture uploads pixels through the queue.
func (c *Context) WriteTexture(id gpucore.TextureID, pixels []byte, bytesPerRow int) error {
	c.g.mu.Lock()
	defer c.g.mu.Unlock()
	if c.destroyed {
		return gpucore.ErrContextDestroyed
	}
	t, ok := c.g.textures[id]
	if !ok {
		return fmt.Errorf("write texture %d: %w", id, gpucore.ErrUnknownTexture)
	}
	if bytesPerRow < t.width*4 {
		bytesPerRow = t.width * 4
	}
	if len(pixels) < bytesPerRow*(t.height-1)+t.width*4 {
		return fmt.Errorf("write texture %d: %d bytes for %dx%d: %w",
			id, len(pixels), t.width, t.height, gpucore.ErrInvalidSize)
	}
	err := c.g.queue.WriteTexture(
		&hal.ImageCopyTexture{Texture: t.tex, MipLevel: 0},
		pixels,
		&hal.ImageDataLayout{Offset: 0, BytesPerRow: uint32(bytesPerRow), RowsPerImage: uint32(t.height)},
		&hal.Extent3D{Width: uint32(t.width), Height: uint32(t.height), DepthOrArrayLayers: 1},
	)
	if err != nil {
		return fmt.Errorf("write texture %d: %w", id, err)
	}
	return nil
}

// DestroyTexture releases a texture.
func (c *Context) DestroyTexture(id gpucore.TextureID) {
	c.g.mu.Lock()
	defer c.g.mu.Unlock()
	if t, ok := c.g.textures[id]; ok {
		delete(c.g.textures, id)
		c.g.destroyTexture(t)
	}
}

// ResizeDisplay reallocates the display texture.
func (c *Context) ResizeDisplay(width, height int) error {
	if width <= 0 || height <= 0 {
		return gpucore.ErrInvalidSize
	}
	c.g.mu.Lock()
	defer c.g.mu.Unlock()
	if c.destroyed {
		return gpucore.ErrContextDestroyed
	}
	if c.display != nil && c.display.width == width && c.display.height == height {
		return nil
	}
	d, err := c.g.newTexture("camrec_display", width, height)
	if err != nil {
		return err
	}
	if c.display != nil {
		c.g.waitAll()
		c.g.destroyTexture(c.display)
	}
	c.display = d
	return nil
}

// Present marks the display texture complete and retires finished work.
func (c *Context) Present() error {
	c.g.mu.Lock()
	defer c.g.mu.Unlock()
	if c.destroyed {
		return gpucore.ErrContextDestroyed
	}
	if c.display == nil {
		return fmt.Errorf("present: no display surface: %w", gpucore.ErrInvalidSize)
	}
	c.presented++
	c.g.retire()
	return nil
}

// DisplayView returns the display texture view, or nil before
// ResizeDisplay.
func (c *Context) DisplayView() hal.TextureView {
	c.g.mu.Lock()
	defer c.g.mu.Unlock()
	if c.display == nil {
		return nil
	}
	return c.display.view
}

// Presented returns the number of Present calls on this context.
func (c *Context) Presented() int {
	c.g.mu.Lock()
	defer c.g.mu.Unlock()
	return c.presented
}

// RowAlignment returns the WebGPU copy pitch alignment.
func (c *Context) RowAlignment() int { return copyPitchAlignment }

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

// Destroy releases the context. The last context waits for in-flight
// work and releases every object of the group.
func (c *Context) Destroy() {
	c.g.mu.Lock()
	defer c.g.mu.Unlock()
	if c.destroyed {
		return
	}
	c.destroyed = true
	c.g.waitAll()
	if c.display != nil {
		c.g.destroyTexture(c.display)
		c.display = nil
	}
	c.g.contexts--
	if c.g.contexts > 0 {
		return
	}

	g := c.g
	for id, b := range g.buffers {
		g.device.DestroyBuffer(b.buf)
		delete(g.buffers, id)
	}
	for id, p := range g.programs {
		g.destroyProgram(p)
		delete(g.programs, id)
	}
	for id, t := range g.textures {
		g.destroyTexture(t)
		delete(g.textures, id)
	}
	g.destroySharedState()
	if g.ownsDevice {
		g.device.Destroy()
		if g.instance != nil {
			g.instance.Destroy()
			g.instance = nil
		}
	}
	logging.Logger().Debug("wgpu: share group released")
}
