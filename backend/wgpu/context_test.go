//go:build !nogpu

package wgpu

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"

	"github.com/gogpu/camrec/gpucore"
)

// createNoopDevice creates a noop HAL device for testing.
func createNoopDevice(t *testing.T) (hal.Device, hal.Queue, func()) {
	t.Helper()
	api := noop.API{}
	instance, err := api.CreateInstance(nil)
	if err != nil {
		t.Fatalf("CreateInstance failed: %v", err)
	}
	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		t.Fatal("no noop adapters")
	}
	openDev, err := adapters[0].Adapter.Open(0, gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		t.Fatalf("Open failed: %v", err)
	}
	cleanup := func() {
		openDev.Device.Destroy()
		instance.Destroy()
	}
	return openDev.Device, openDev.Queue, cleanup
}

func newNoopContext(t *testing.T) *Context {
	t.Helper()
	device, queue, cleanup := createNoopDevice(t)
	t.Cleanup(cleanup)
	c, err := NewFromDevice(device, queue)
	if err != nil {
		t.Fatalf("NewFromDevice failed: %v", err)
	}
	return c
}

// mustProgram creates a program, skipping when naga cannot compile the
// shader on this toolchain.
func mustProgram(t *testing.T, c *Context, kind gpucore.ProgramKind) gpucore.ProgramID {
	t.Helper()
	id, err := c.CreateProgram(&gpucore.ProgramDescriptor{Label: kind.String(), Kind: kind})
	if errors.Is(err, gpucore.ErrLinkFailed) {
		t.Skipf("Skipping: naga feature not yet implemented: %v", err)
	}
	if err != nil {
		t.Fatalf("CreateProgram(%s) failed: %v", kind, err)
	}
	return id
}

func TestShaderSources(t *testing.T) {
	kinds := []gpucore.ProgramKind{
		gpucore.ProgramCopy, gpucore.ProgramExternal, gpucore.ProgramColorMatrix,
		gpucore.ProgramMirror, gpucore.ProgramPIP, gpucore.ProgramMix,
	}
	for _, kind := range kinds {
		t.Run(kind.String(), func(t *testing.T) {
			src, err := ShaderSource(kind)
			if err != nil {
				t.Fatalf("ShaderSource failed: %v", err)
			}
			for _, want := range []string{"@vertex", "@fragment", "vs_main", "fs_main", "textureSample", "StageUniforms"} {
				if !strings.Contains(src, want) {
					t.Errorf("source missing %q", want)
				}
			}
		})
	}
	if _, err := ShaderSource(gpucore.ProgramKind(99)); err == nil {
		t.Error("ShaderSource(99) should fail")
	}
}

func TestPackUniformsLayout(t *testing.T) {
	u := gpucore.Uniforms{
		Transform: gpucore.IdentityMatrix(),
		Rect:      [4]float32{0.1, 0.2, 0.3, 0.4},
		Border:    0.05,
	}
	u.ColorMatrix[4] = 255 // red bias
	buf := packUniforms(&u)
	if len(buf) != stageUniformSize {
		t.Fatalf("len = %d, want %d", len(buf), stageUniformSize)
	}
	f := func(off int) float32 { return math.Float32frombits(binary.LittleEndian.Uint32(buf[off:])) }
	if f(0) != 1 || f(20) != 1 {
		t.Errorf("transform diagonal = %v, %v, want 1", f(0), f(20))
	}
	// Bias vector follows the four matrix rows.
	if got := f(64 + 64); got != 1 {
		t.Errorf("bias.x = %v, want 1", got)
	}
	if got := f(144); got != float32(0.1) {
		t.Errorf("rect.x = %v, want 0.1", got)
	}
	if got := f(160); got != float32(0.05) {
		t.Errorf("border = %v, want 0.05", got)
	}
}

func TestPackQuadViewport(t *testing.T) {
	q := gpucore.Quad{
		Positions: [8]float32{-1, -1, 1, -1, -1, 1, 1, 1},
		TexCoords: [8]float32{0, 0, 1, 0, 0, 1, 1, 1},
	}
	// Right half of a 100x50 target.
	buf := packQuad(&q, gpucore.Viewport{X: 50, Y: 0, Width: 50, Height: 50}, 100, 50)
	if len(buf) != quadVertexSize {
		t.Fatalf("len = %d, want %d", len(buf), quadVertexSize)
	}
	f := func(off int) float32 { return math.Float32frombits(binary.LittleEndian.Uint32(buf[off:])) }
	if x := f(0); x != 0 {
		t.Errorf("first vertex x = %v, want 0", x)
	}
	// Vertex 5 is the top-right corner.
	if x, y := f(5*quadVertexStride), f(5*quadVertexStride+4); x != 1 || y != 1 {
		t.Errorf("last vertex = (%v, %v), want (1, 1)", x, y)
	}
}

func TestContextTextures(t *testing.T) {
	c := newNoopContext(t)
	defer c.Destroy()

	id, err := c.CreateTexture(&gpucore.TextureDescriptor{Label: "t", Width: 16, Height: 8})
	if err != nil {
		t.Fatalf("CreateTexture failed: %v", err)
	}
	if err := c.WriteTexture(id, make([]byte, 16*8*4), 16*4); err != nil {
		t.Errorf("WriteTexture failed: %v", err)
	}
	if err := c.WriteTexture(id, make([]byte, 10), 16*4); !errors.Is(err, gpucore.ErrInvalidSize) {
		t.Errorf("short WriteTexture error = %v, want ErrInvalidSize", err)
	}
	if got := c.Stats().Textures; got != 1 {
		t.Errorf("Textures = %d, want 1", got)
	}
	c.DestroyTexture(id)
	if got := c.Stats().Textures; got != 0 {
		t.Errorf("Textures after destroy = %d, want 0", got)
	}
	if _, err := c.CreateTexture(&gpucore.TextureDescriptor{Width: 0, Height: 1}); !errors.Is(err, gpucore.ErrInvalidSize) {
		t.Errorf("zero-size CreateTexture error = %v", err)
	}
}

func TestContextDrawAndReadback(t *testing.T) {
	c := newNoopContext(t)
	defer c.Destroy()

	src, err := c.CreateTexture(&gpucore.TextureDescriptor{Label: "src", Width: 32, Height: 16})
	if err != nil {
		t.Fatalf("CreateTexture failed: %v", err)
	}
	dst, err := c.CreateTexture(&gpucore.TextureDescriptor{Label: "dst", Width: 32, Height: 16})
	if err != nil {
		t.Fatalf("CreateTexture failed: %v", err)
	}
	prog := mustProgram(t, c, gpucore.ProgramCopy)

	err = c.Draw(&gpucore.DrawCall{
		Label: "copy", Program: prog, Input: src, Target: dst, Clear: true,
		Quad: gpucore.Quad{
			Positions: [8]float32{-1, -1, 1, -1, -1, 1, 1, 1},
			TexCoords: [8]float32{0, 0, 1, 0, 0, 1, 1, 1},
		},
	})
	if err != nil {
		t.Fatalf("Draw failed: %v", err)
	}

	stride := gpucore.AlignedRowBytes(32, 4, c.RowAlignment())
	if stride != 256 {
		t.Fatalf("stride = %d, want 256", stride)
	}
	buf, err := c.CreateReadbackBuffer(stride * 16)
	if err != nil {
		t.Fatalf("CreateReadbackBuffer failed: %v", err)
	}
	layout := gpucore.ReadbackLayout{Width: 32, Height: 16, BytesPerRow: stride}
	if err := c.ReadPixelsAsync(dst, buf, layout); err != nil {
		t.Fatalf("ReadPixelsAsync failed: %v", err)
	}
	data, err := c.MapRead(buf)
	if err != nil {
		t.Fatalf("MapRead failed: %v", err)
	}
	if len(data) != stride*16 {
		t.Errorf("mapped %d bytes, want %d", len(data), stride*16)
	}
	c.Unmap(buf)

	bad := gpucore.ReadbackLayout{Width: 32, Height: 16, BytesPerRow: 128}
	if err := c.ReadPixelsAsync(dst, buf, bad); !errors.Is(err, gpucore.ErrInvalidSize) {
		t.Errorf("unaligned stride error = %v, want ErrInvalidSize", err)
	}
}

func TestContextDrawErrors(t *testing.T) {
	c := newNoopContext(t)
	defer c.Destroy()

	if err := c.Draw(&gpucore.DrawCall{Program: 42}); !errors.Is(err, gpucore.ErrUnknownProgram) {
		t.Errorf("unknown program error = %v", err)
	}
	prog := mustProgram(t, c, gpucore.ProgramCopy)
	if err := c.Draw(&gpucore.DrawCall{Program: prog, Input: 42}); !errors.Is(err, gpucore.ErrUnknownTexture) {
		t.Errorf("unknown input error = %v", err)
	}
	src, err := c.CreateTexture(&gpucore.TextureDescriptor{Width: 4, Height: 4})
	if err != nil {
		t.Fatalf("CreateTexture failed: %v", err)
	}
	if err := c.Draw(&gpucore.DrawCall{Program: prog, Input: src}); !errors.Is(err, gpucore.ErrInvalidSize) {
		t.Errorf("draw to missing display error = %v, want ErrInvalidSize", err)
	}
	if err := c.ResizeDisplay(4, 4); err != nil {
		t.Fatalf("ResizeDisplay failed: %v", err)
	}
	if err := c.Draw(&gpucore.DrawCall{Program: prog, Input: src}); err != nil {
		t.Errorf("draw to display failed: %v", err)
	}
	if err := c.Present(); err != nil {
		t.Errorf("Present failed: %v", err)
	}
	if c.DisplayView() == nil {
		t.Error("DisplayView() = nil after ResizeDisplay")
	}
}

func TestContextShareAndDestroy(t *testing.T) {
	c := newNoopContext(t)

	shared, err := c.Share()
	if err != nil {
		t.Fatalf("Share failed: %v", err)
	}
	tex, err := shared.CreateTexture(&gpucore.TextureDescriptor{Width: 4, Height: 4})
	if err != nil {
		t.Fatalf("CreateTexture on shared context failed: %v", err)
	}
	if _, err := c.CreateReadbackBuffer(256 * 4); err != nil {
		t.Fatalf("CreateReadbackBuffer failed: %v", err)
	}
	if st := c.Stats(); st.Textures != 1 || st.Buffers != 1 || st.Contexts != 2 {
		t.Errorf("Stats = %+v, want 1 texture, 1 buffer, 2 contexts", st)
	}

	shared.Destroy()
	if err := c.WriteTexture(tex, make([]byte, 64), 16); err != nil {
		t.Errorf("texture released with secondary context: %v", err)
	}
	c.Destroy()
	if st := c.Stats(); st.Live() {
		t.Errorf("Stats after last destroy = %+v, want empty", st)
	}
	if _, err := c.Share(); !errors.Is(err, gpucore.ErrContextDestroyed) {
		t.Errorf("Share after destroy error = %v", err)
	}
}

// stalledQueue reports no completed submission until released.
type stalledQueue struct {
	hal.Queue
	stalled atomic.Bool
}

func (q *stalledQueue) PollCompleted() uint64 {
	if q.stalled.Load() {
		return 0
	}
	return q.Queue.PollCompleted()
}

func TestMapReadCopiesMappedContent(t *testing.T) {
	c := newNoopContext(t)
	defer c.Destroy()

	tex, err := c.CreateTexture(&gpucore.TextureDescriptor{Width: 4, Height: 2})
	if err != nil {
		t.Fatalf("CreateTexture failed: %v", err)
	}
	id, err := c.CreateReadbackBuffer(256 * 2)
	if err != nil {
		t.Fatalf("CreateReadbackBuffer failed: %v", err)
	}
	if err := c.ReadPixelsAsync(tex, id, gpucore.ReadbackLayout{Width: 4, Height: 2, BytesPerRow: 256}); err != nil {
		t.Fatalf("ReadPixelsAsync failed: %v", err)
	}
	want := make([]byte, 256*2)
	for i := range want {
		want[i] = byte(i)
	}
	if err := c.g.queue.WriteBuffer(c.g.buffers[id].buf, 0, want); err != nil {
		t.Fatalf("WriteBuffer failed: %v", err)
	}
	got, err := c.MapRead(id)
	if err != nil {
		t.Fatalf("MapRead failed: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("MapRead content differs from buffer: got[:8] = %v", got[:8])
	}
	c.Unmap(id)
}

func TestSubmissionsTrackQueueIndex(t *testing.T) {
	device, queue, cleanup := createNoopDevice(t)
	defer cleanup()
	q := &stalledQueue{Queue: queue}
	c, err := NewFromDevice(device, q)
	if err != nil {
		t.Fatalf("NewFromDevice failed: %v", err)
	}
	defer c.Destroy()
	c.SetMapTimeout(time.Millisecond)

	if err := c.ResizeDisplay(4, 4); err != nil {
		t.Fatalf("ResizeDisplay failed: %v", err)
	}
	tex, err := c.CreateTexture(&gpucore.TextureDescriptor{Width: 4, Height: 4})
	if err != nil {
		t.Fatalf("CreateTexture failed: %v", err)
	}
	id, err := c.CreateReadbackBuffer(256 * 4)
	if err != nil {
		t.Fatalf("CreateReadbackBuffer failed: %v", err)
	}

	q.stalled.Store(true)
	if err := c.ReadPixelsAsync(tex, id, gpucore.ReadbackLayout{Width: 4, Height: 4, BytesPerRow: 256}); err != nil {
		t.Fatalf("ReadPixelsAsync failed: %v", err)
	}
	if _, err := c.MapRead(id); !errors.Is(err, gpucore.ErrReadbackPending) {
		t.Fatalf("MapRead on stalled queue error = %v, want ErrReadbackPending", err)
	}
	if err := c.Present(); err != nil {
		t.Fatalf("Present failed: %v", err)
	}
	if n := len(c.g.inFlight); n != 1 {
		t.Errorf("in flight while stalled = %d, want 1", n)
	}

	q.stalled.Store(false)
	if _, err := c.MapRead(id); err != nil {
		t.Fatalf("MapRead after completion failed: %v", err)
	}
	c.Unmap(id)
	if err := c.Present(); err != nil {
		t.Fatalf("Present failed: %v", err)
	}
	if n := len(c.g.inFlight); n != 0 {
		t.Errorf("in flight after completion = %d, want 0", n)
	}
}
