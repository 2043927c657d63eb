//go:build !nogpu

package wgpu

import (
	"fmt"
	"time"
	"unsafe"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/camrec/gpucore"
	"github.com/gogpu/camrec/internal/logging"
)

// submit sends the command buffer and queues the submission for
// retirement under its submission index. Finished submissions are
// retired first.
func (g *group) submit(sub *submission) error {
	g.retire()
	index, err := g.queue.Submit([]hal.CommandBuffer{sub.cmdBuf})
	if err != nil {
		g.release(sub)
		return fmt.Errorf("submit: %w", err)
	}
	sub.index = index
	g.inFlight = append(g.inFlight, sub)
	return nil
}

// poll reports whether a submission has completed without blocking.
func (g *group) poll(sub *submission) bool {
	if !sub.done && g.queue.PollCompleted() >= sub.index {
		sub.done = true
	}
	return sub.done
}

// await polls a submission until it completes or the timeout elapses.
func (g *group) await(sub *submission, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for !g.poll(sub) {
		if !time.Now().Before(deadline) {
			return false
		}
		time.Sleep(pollInterval)
	}
	return true
}

// retire releases the transient resources of completed submissions,
// oldest first, stopping at the first one still running.
func (g *group) retire() {
	n := 0
	for _, sub := range g.inFlight {
		if !g.poll(sub) {
			break
		}
		g.release(sub)
		n++
	}
	g.inFlight = g.inFlight[n:]
}

// waitAll blocks until every submission has completed and releases them.
// Submissions complete in index order, so waiting for the newest one
// covers the rest.
func (g *group) waitAll() {
	if n := len(g.inFlight); n > 0 {
		last := g.inFlight[n-1]
		if !g.await(last, completionTimeout) {
			logging.Logger().Warn("wgpu: wait for GPU timed out",
				"index", last.index, "completed", g.queue.PollCompleted())
		}
	}
	for _, sub := range g.inFlight {
		sub.done = true
		g.release(sub)
	}
	g.inFlight = nil
}

func (g *group) release(sub *submission) {
	if sub.bindGroup != nil {
		g.device.DestroyBindGroup(sub.bindGroup)
		sub.bindGroup = nil
	}
	for _, b := range sub.buffers {
		g.device.DestroyBuffer(b)
	}
	sub.buffers = nil
	if sub.cmdBuf != nil {
		g.device.FreeCommandBuffer(sub.cmdBuf)
		sub.cmdBuf = nil
	}
}

// CreateReadbackBuffer allocates a MapRead|CopyDst staging buffer.
func (c *Context) CreateReadbackBuffer(size int) (gpucore.BufferID, error) {
	if size <= 0 {
		return gpucore.InvalidID, gpucore.ErrInvalidSize
	}
	c.g.mu.Lock()
	defer c.g.mu.Unlock()
	if c.destroyed {
		return gpucore.InvalidID, gpucore.ErrContextDestroyed
	}
	buf, err := c.g.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "camrec_readback",
		Size:  uint64(size),
		Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return gpucore.InvalidID, fmt.Errorf("create readback buffer (%d bytes): %w", size, err)
	}
	id := gpucore.BufferID(c.g.id())
	c.g.buffers[id] = &buffer{buf: buf, size: size, data: make([]byte, size)}
	return id, nil
}

// DestroyBuffer releases a readback buffer, waiting for a copy into it
// to finish first.
func (c *Context) DestroyBuffer(id gpucore.BufferID) {
	c.g.mu.Lock()
	defer c.g.mu.Unlock()
	b, ok := c.g.buffers[id]
	if !ok {
		return
	}
	delete(c.g.buffers, id)
	if b.sub != nil && !b.sub.done {
		c.g.waitAll()
	}
	c.g.device.DestroyBuffer(b.buf)
}

// ReadPixelsAsync encodes a texture-to-buffer copy and submits it
// without waiting.
func (c *Context) ReadPixelsAsync(src gpucore.TextureID, dst gpucore.BufferID, layout gpucore.ReadbackLayout) error {
	c.g.mu.Lock()
	defer c.g.mu.Unlock()
	if c.destroyed {
		return gpucore.ErrContextDestroyed
	}
	g := c.g
	t, ok := g.textures[src]
	if !ok {
		return fmt.Errorf("read pixels from %d: %w", src, gpucore.ErrUnknownTexture)
	}
	b, ok := g.buffers[dst]
	if !ok {
		return fmt.Errorf("read pixels into %d: %w", dst, gpucore.ErrUnknownBuffer)
	}
	w, h := min(layout.Width, t.width), min(layout.Height, t.height)
	if layout.BytesPerRow < w*4 || layout.BytesPerRow%copyPitchAlignment != 0 || b.size < layout.BytesPerRow*h {
		return fmt.Errorf("read pixels %dx%d stride %d into %d bytes: %w",
			w, h, layout.BytesPerRow, b.size, gpucore.ErrInvalidSize)
	}

	encoder, err := g.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "camrec_readback"})
	if err != nil {
		return fmt.Errorf("create command encoder: %w", err)
	}
	if err := encoder.BeginEncoding("camrec_readback"); err != nil {
		return fmt.Errorf("begin encoding: %w", err)
	}
	encoder.TransitionTextures([]hal.TextureBarrier{{
		Texture: t.tex,
		Usage: hal.TextureUsageTransition{
			OldUsage: gputypes.TextureUsageRenderAttachment,
			NewUsage: gputypes.TextureUsageCopySrc,
		},
	}})
	encoder.CopyTextureToBuffer(t.tex, b.buf, []hal.BufferTextureCopy{{
		BufferLayout: hal.ImageDataLayout{Offset: 0, BytesPerRow: uint32(layout.BytesPerRow), RowsPerImage: uint32(h)},
		TextureBase:  hal.ImageCopyTexture{Texture: t.tex, MipLevel: 0},
		Size:         hal.Extent3D{Width: uint32(w), Height: uint32(h), DepthOrArrayLayers: 1},
	}})
	encoder.TransitionTextures([]hal.TextureBarrier{{
		Texture: t.tex,
		Usage: hal.TextureUsageTransition{
			OldUsage: gputypes.TextureUsageCopySrc,
			NewUsage: gputypes.TextureUsageRenderAttachment,
		},
	}})
	cmdBuf, err := encoder.EndEncoding()
	if err != nil {
		return fmt.Errorf("end encoding: %w", err)
	}

	sub := &submission{cmdBuf: cmdBuf}
	if err := g.submit(sub); err != nil {
		return err
	}
	b.sub = sub
	return nil
}

// MapRead waits up to the map timeout for the copy into the buffer,
// maps it and copies its content out.
func (c *Context) MapRead(id gpucore.BufferID) ([]byte, error) {
	c.g.mu.Lock()
	defer c.g.mu.Unlock()
	if c.destroyed {
		return nil, gpucore.ErrContextDestroyed
	}
	g := c.g
	b, ok := g.buffers[id]
	if !ok {
		return nil, fmt.Errorf("map buffer %d: %w", id, gpucore.ErrUnknownBuffer)
	}
	if b.sub != nil && !g.await(b.sub, g.mapTimeout) {
		return nil, fmt.Errorf("map buffer %d: %w", id, gpucore.ErrReadbackPending)
	}
	m, err := g.device.MapBuffer(b.buf, 0, uint64(b.size))
	if err != nil {
		return nil, fmt.Errorf("map buffer %d: %w", id, err)
	}
	if m.Ptr == nil {
		_ = g.device.UnmapBuffer(b.buf)
		return nil, fmt.Errorf("map buffer %d: no host pointer", id)
	}
	copy(b.data, unsafe.Slice((*byte)(m.Ptr), b.size))
	if err := g.device.UnmapBuffer(b.buf); err != nil {
		return nil, fmt.Errorf("unmap buffer %d: %w", id, err)
	}
	b.mapped = true
	return b.data, nil
}

// Unmap releases a mapping made by MapRead.
func (c *Context) Unmap(id gpucore.BufferID) {
	c.g.mu.Lock()
	defer c.g.mu.Unlock()
	if b, ok := c.g.buffers[id]; ok {
		b.mapped = false
	}
}
