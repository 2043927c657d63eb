//go:build !nogpu

package wgpu

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/camrec/gpucore"
	"github.com/gogpu/camrec/internal/logging"
)

func quadVertexLayout() []gputypes.VertexBufferLayout {
	return []gputypes.VertexBufferLayout{
		{
			ArrayStride: quadVertexStride,
			StepMode:    gputypes.VertexStepModeVertex,
			Attributes: []gputypes.VertexAttribute{
				{Format: gputypes.VertexFormatFloat32x2, Offset: 0, ShaderLocation: 0}, // position
				{Format: gputypes.VertexFormatFloat32x2, Offset: 8, ShaderLocation: 1}, // uv
			},
		},
	}
}

// CreateProgram validates the WGSL source of the kind with naga and
// builds its render pipeline.
func (c *Context) CreateProgram(desc *gpucore.ProgramDescriptor) (gpucore.ProgramID, error) {
	if desc == nil {
		return gpucore.InvalidID, fmt.Errorf("program descriptor is nil")
	}
	source, err := ShaderSource(desc.Kind)
	if err != nil {
		return gpucore.InvalidID, fmt.Errorf("%w: %v", gpucore.ErrLinkFailed, err)
	}
	if err := validateShader(desc.Label, source); err != nil {
		logging.Logger().Warn("wgpu: shader validation failed", "program", desc.Label, "err", err)
		return gpucore.InvalidID, err
	}

	c.g.mu.Lock()
	defer c.g.mu.Unlock()
	if c.destroyed {
		return gpucore.InvalidID, gpucore.ErrContextDestroyed
	}
	g := c.g

	module, err := g.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  desc.Label,
		Source: hal.ShaderSource{WGSL: source},
	})
	if err != nil {
		return gpucore.InvalidID, fmt.Errorf("%w: compile %s: %v", gpucore.ErrLinkFailed, desc.Label, err)
	}

	pipeline, err := g.device.CreateRenderPipeline(&hal.RenderPipelineDescriptor{
		Label:  desc.Label,
		Layout: g.pipeLayout,
		Vertex: hal.VertexState{
			Module:     module,
			EntryPoint: "vs_main",
			Buffers:    quadVertexLayout(),
		},
		Fragment: &hal.FragmentState{
			Module:     module,
			EntryPoint: "fs_main",
			Targets: []gputypes.ColorTargetState{{
				Format:    gputypes.TextureFormatRGBA8Unorm,
				WriteMask: gputypes.ColorWriteMaskAll,
			}},
		},
		Primitive: gputypes.PrimitiveState{
			Topology: gputypes.PrimitiveTopologyTriangleList,
			CullMode: gputypes.CullModeNone,
		},
		Multisample: gputypes.MultisampleState{
			Count: 1,
			Mask:  0xFFFFFFFF,
		},
	})
	if err != nil {
		g.device.DestroyShaderModule(module)
		return gpucore.InvalidID, fmt.Errorf("%w: pipeline %s: %v", gpucore.ErrLinkFailed, desc.Label, err)
	}

	id := gpucore.ProgramID(g.id())
	g.programs[id] = &program{label: desc.Label, kind: desc.Kind, module: module, pipeline: pipeline}
	return id, nil
}

func (g *group) destroyProgram(p *program) {
	g.device.DestroyRenderPipeline(p.pipeline)
	g.device.DestroyShaderModule(p.module)
}

// DestroyProgram releases a program.
func (c *Context) DestroyProgram(id gpucore.ProgramID) {
	c.g.mu.Lock()
	defer c.g.mu.Unlock()
	if p, ok := c.g.programs[id]; ok {
		delete(c.g.programs, id)
		c.g.waitAll()
		c.g.destroyProgram(p)
	}
}

// Draw encodes one render pass drawing the quad, and submits it without
// waiting. Transient buffers and the bind group are released once the
// queue reports the submission completed.
func (c *Context) Draw(call *gpucore.DrawCall) error {
	if call == nil {
		return fmt.Errorf("draw call is nil")
	}
	c.g.mu.Lock()
	defer c.g.mu.Unlock()
	if c.destroyed {
		return gpucore.ErrContextDestroyed
	}
	g := c.g

	p, ok := g.programs[call.Program]
	if !ok {
		return fmt.Errorf("draw %q: %w", call.Label, gpucore.ErrUnknownProgram)
	}
	in, ok := g.textures[call.Input]
	if !ok {
		return fmt.Errorf("draw %q input %d: %w", call.Label, call.Input, gpucore.ErrUnknownTexture)
	}
	sec := in
	if call.Secondary != gpucore.InvalidID {
		if sec, ok = g.textures[call.Secondary]; !ok {
			return fmt.Errorf("draw %q secondary %d: %w", call.Label, call.Secondary, gpucore.ErrUnknownTexture)
		}
	}
	dst := c.display
	if call.Target != gpucore.InvalidID {
		if dst, ok = g.textures[call.Target]; !ok {
			return fmt.Errorf("draw %q target %d: %w", call.Label, call.Target, gpucore.ErrUnknownTexture)
		}
	}
	if dst == nil {
		return fmt.Errorf("draw %q: no display surface: %w", call.Label, gpucore.ErrInvalidSize)
	}

	sub := &submission{}
	uniformBuf, err := g.createAndUploadBuffer("camrec_uniforms", packUniforms(&call.Uniforms),
		gputypes.BufferUsageUniform|gputypes.BufferUsageCopyDst)
	if err != nil {
		return err
	}
	sub.buffers = append(sub.buffers, uniformBuf)
	vertexBuf, err := g.createAndUploadBuffer("camrec_quad", packQuad(&call.Quad, call.Viewport, dst.width, dst.height),
		gputypes.BufferUsageVertex|gputypes.BufferUsageCopyDst)
	if err != nil {
		g.release(sub)
		return err
	}
	sub.buffers = append(sub.buffers, vertexBuf)

	bg, err := g.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:  "camrec_stage_bind",
		Layout: g.bindLayout,
		Entries: []gputypes.BindGroupEntry{
			{Binding: 0, Resource: gputypes.BufferBinding{
				Buffer: uniformBuf.NativeHandle(), Offset: 0, Size: stageUniformSize,
			}},
			{Binding: 1, Resource: gputypes.TextureViewBinding{TextureView: in.view.NativeHandle()}},
			{Binding: 2, Resource: gputypes.TextureViewBinding{TextureView: sec.view.NativeHandle()}},
			{Binding: 3, Resource: gputypes.SamplerBinding{Sampler: g.sampler.NativeHandle()}},
		},
	})
	if err != nil {
		g.release(sub)
		return fmt.Errorf("create bind group: %w", err)
	}
	sub.bindGroup = bg

	encoder, err := g.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "camrec_draw"})
	if err != nil {
		g.release(sub)
		return fmt.Errorf("create command encoder: %w", err)
	}
	if err := encoder.BeginEncoding(call.Label); err != nil {
		g.release(sub)
		return fmt.Errorf("begin encoding: %w", err)
	}

	loadOp := gputypes.LoadOpLoad
	if call.Clear {
		loadOp = gputypes.LoadOpClear
	}
	rp := encoder.BeginRenderPass(&hal.RenderPassDescriptor{
		Label: call.Label,
		ColorAttachments: []hal.RenderPassColorAttachment{{
			View:       dst.view,
			LoadOp:     loadOp,
			StoreOp:    gputypes.StoreOpStore,
			ClearValue: gputypes.Color{R: 0, G: 0, B: 0, A: 0},
		}},
	})
	rp.SetPipeline(p.pipeline)
	rp.SetBindGroup(0, bg, nil)
	rp.SetVertexBuffer(0, vertexBuf, 0)
	rp.Draw(quadVertexCount, 1, 0, 0)
	rp.End()

	cmdBuf, err := encoder.EndEncoding()
	if err != nil {
		g.release(sub)
		return fmt.Errorf("end encoding: %w", err)
	}
	sub.cmdBuf = cmdBuf
	if err := g.submit(sub); err != nil {
		return err
	}
	return nil
}

// createAndUploadBuffer creates a GPU buffer and uploads data.
func (g *group) createAndUploadBuffer(label string, data []byte, usage gputypes.BufferUsage) (hal.Buffer, error) {
	buf, err := g.device.CreateBuffer(&hal.BufferDescriptor{
		Label: label,
		Size:  uint64(len(data)),
		Usage: usage,
	})
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", label, err)
	}
	if err := g.queue.WriteBuffer(buf, 0, data); err != nil {
		g.device.DestroyBuffer(buf)
		return nil, fmt.Errorf("upload %s: %w", label, err)
	}
	return buf, nil
}
