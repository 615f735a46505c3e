package soft

import (
	"github.com/cockroachdb/errors"

	"github.com/gogpu/gfx/driver"
)

type cbState int

const (
	stateInitial cbState = iota
	stateRecording
	stateExecutable
	statePending
	stateInvalid
)

func (s cbState) String() string {
	switch s {
	case stateInitial:
		return "initial"
	case stateRecording:
		return "recording"
	case stateExecutable:
		return "executable"
	case statePending:
		return "pending"
	case stateInvalid:
		return "invalid"
	}
	return "unknown"
}

// OpKind identifies a recorded command.
type OpKind int

// Recorded commands.
const (
	OpBeginRenderPass OpKind = iota
	OpEndRenderPass
	OpBindPipeline
	OpBindDescriptorSets
	OpBindVertexBuffer
	OpDraw
	OpCopyBuffer
	OpCopyBufferToImage
	OpPipelineBarrier
)

// Op is one recorded command. Only the fields relevant to Kind are set.
type Op struct {
	Kind OpKind

	RenderPass  driver.RenderPassBeginInfo
	Pipeline    driver.Pipeline
	Layout      driver.PipelineLayout
	FirstSet    uint32
	Sets        []driver.DescriptorSet
	Offsets     []uint32
	Binding     uint32
	Buffer      driver.Buffer
	BufferDst   driver.Buffer
	Offset      uint64
	Image       driver.Image
	ImageLayout driver.ImageLayout
	Copies      []driver.BufferCopy
	ImageCopies []driver.BufferImageCopy
	Barriers    []driver.ImageBarrier

	VertexCount, InstanceCount, FirstVertex, FirstInstance uint32
}

type commandPool struct {
	family  uint32
	flags   driver.CommandPoolFlags
	buffers []*CommandBuffer
}

// CommandBuffer records commands for later execution on a queue.
type CommandBuffer struct {
	dev   *Device
	pool  driver.CommandPool
	state cbState
	usage driver.CommandBufferUsage
	ops   []Op
}

func (d *Device) CreateCommandPool(family uint32, flags driver.CommandPoolFlags) (driver.CommandPool, error) {
	if int(family) >= len(d.adapter.QueueFamilies) {
		return 0, errors.Wrapf(driver.ErrInvalidHandle, "soft: command pool for family %d", family)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	h := driver.CommandPool(d.handle())
	d.cmdPools[h] = &commandPool{family: family, flags: flags}
	return h, nil
}

func (d *Device) DestroyCommandPool(p driver.CommandPool) {
	if p == 0 {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	pool, ok := d.cmdPools[p]
	if !ok {
		d.invalid("DestroyCommandPool: unknown pool %#x", p)
		return
	}
	for _, cb := range pool.buffers {
		if cb.state == statePending {
			d.invalid("DestroyCommandPool: pool %#x has a pending command buffer", p)
		}
		cb.state = stateInvalid
	}
	delete(d.cmdPools, p)
}

func (d *Device) ResetCommandPool(p driver.CommandPool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	pool, ok := d.cmdPools[p]
	if !ok {
		return errors.Wrapf(driver.ErrInvalidHandle, "soft: reset unknown command pool %#x", p)
	}
	for _, cb := range pool.buffers {
		if cb.state == statePending {
			d.invalid("ResetCommandPool: pool %#x has a pending command buffer", p)
		}
		cb.state = stateInitial
		cb.ops = nil
	}
	return nil
}

func (d *Device) AllocateCommandBuffers(p driver.CommandPool, count int) ([]driver.CommandBuffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	pool, ok := d.cmdPools[p]
	if !ok {
		return nil, errors.Wrapf(driver.ErrInvalidHandle, "soft: allocate from unknown command pool %#x", p)
	}
	out := make([]driver.CommandBuffer, count)
	for i := range out {
		cb := &CommandBuffer{dev: d, pool: p}
		pool.buffers = append(pool.buffers, cb)
		out[i] = cb
	}
	return out, nil
}

// Ops returns a copy of the recorded commands.
func (cb *CommandBuffer) Ops() []Op {
	cb.dev.mu.Lock()
	defer cb.dev.mu.Unlock()
	return append([]Op(nil), cb.ops...)
}

func (cb *CommandBuffer) resettable() bool {
	pool, ok := cb.dev.cmdPools[cb.pool]
	return ok && pool.flags&driver.CommandPoolResetCommandBuffer != 0
}

func (cb *CommandBuffer) Reset() error {
	d := cb.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	if cb.state == statePending {
		d.invalid("Reset: command buffer is pending execution")
		return errors.New("soft: reset of pending command buffer")
	}
	if !cb.resettable() {
		d.invalid("Reset: pool %#x was not created with CommandPoolResetCommandBuffer", cb.pool)
	}
	cb.state = stateInitial
	cb.ops = nil
	return nil
}

func (cb *CommandBuffer) Begin(usage driver.CommandBufferUsage) error {
	d := cb.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	switch cb.state {
	case stateInitial:
	case stateExecutable, stateInvalid:
		if !cb.resettable() {
			d.invalid("Begin: implicit reset needs CommandPoolResetCommandBuffer")
		}
	default:
		d.invalid("Begin: command buffer is %s", cb.state)
		return errors.Newf("soft: begin on %s command buffer", cb.state)
	}
	cb.state = stateRecording
	cb.usage = usage
	cb.ops = cb.ops[:0]
	return nil
}

func (cb *CommandBuffer) End() error {
	d := cb.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	if cb.state != stateRecording {
		d.invalid("End: command buffer is %s", cb.state)
		return errors.Newf("soft: end on %s command buffer", cb.state)
	}
	depth := 0
	for _, op := range cb.ops {
		switch op.Kind {
		case OpBeginRenderPass:
			depth++
		case OpEndRenderPass:
			depth--
		}
	}
	if depth != 0 {
		d.invalid("End: render pass still active")
	}
	cb.state = stateExecutable
	return nil
}

func (cb *CommandBuffer) record(op Op) {
	d := cb.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	if cb.state != stateRecording {
		d.invalid("record: command buffer is %s", cb.state)
		return
	}
	cb.ops = append(cb.ops, op)
}

func (cb *CommandBuffer) BeginRenderPass(info *driver.RenderPassBeginInfo) {
	rp := *info
	rp.ClearValues = append([]driver.ClearValue(nil), info.ClearValues...)
	cb.record(Op{Kind: OpBeginRenderPass, RenderPass: rp})
}

func (cb *CommandBuffer) EndRenderPass() {
	cb.record(Op{Kind: OpEndRenderPass})
}

func (cb *CommandBuffer) BindPipeline(p driver.Pipeline) {
	cb.record(Op{Kind: OpBindPipeline, Pipeline: p})
}

func (cb *CommandBuffer) BindDescriptorSets(layout driver.PipelineLayout, firstSet uint32, sets []driver.DescriptorSet, offsets []uint32) {
	cb.record(Op{
		Kind:     OpBindDescriptorSets,
		Layout:   layout,
		FirstSet: firstSet,
		Sets:     append([]driver.DescriptorSet(nil), sets...),
		Offsets:  append([]uint32(nil), offsets...),
	})
}

func (cb *CommandBuffer) BindVertexBuffer(binding uint32, b driver.Buffer, offset uint64) {
	cb.record(Op{Kind: OpBindVertexBuffer, Binding: binding, Buffer: b, Offset: offset})
}

func (cb *CommandBuffer) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	cb.record(Op{
		Kind:          OpDraw,
		VertexCount:   vertexCount,
		InstanceCount: instanceCount,
		FirstVertex:   firstVertex,
		FirstInstance: firstInstance,
	})
}

func (cb *CommandBuffer) CopyBuffer(src, dst driver.Buffer, regions []driver.BufferCopy) {
	cb.record(Op{Kind: OpCopyBuffer, Buffer: src, BufferDst: dst, Copies: append([]driver.BufferCopy(nil), regions...)})
}

func (cb *CommandBuffer) CopyBufferToImage(src driver.Buffer, dst driver.Image, layout driver.ImageLayout, regions []driver.BufferImageCopy) {
	cb.record(Op{
		Kind:        OpCopyBufferToImage,
		Buffer:      src,
		Image:       dst,
		ImageLayout: layout,
		ImageCopies: append([]driver.BufferImageCopy(nil), regions...),
	})
}

func (cb *CommandBuffer) PipelineBarrier(_, _ driver.PipelineStage, barriers []driver.ImageBarrier) {
	cb.record(Op{Kind: OpPipelineBarrier, Barriers: append([]driver.ImageBarrier(nil), barriers...)})
}

// executeAll runs command buffers on the queue goroutine.
func (d *Device) executeAll(cbs []*CommandBuffer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, cb := range cbs {
		d.execute(cb)
		if cb.state == statePending {
			if cb.usage&driver.CommandBufferUsageOneTimeSubmit != 0 {
				cb.state = stateInvalid
			} else {
				cb.state = stateExecutable
			}
		}
		d.stats.Executed++
	}
}

// execState is the bound state while executing one command buffer.
type execState struct {
	pass     *driver.RenderPassDescriptor
	fb       *driver.FramebufferDescriptor
	pipeline *pipeline
	sets     map[uint32]driver.DescriptorSet
	vertex   bool
}

// execute interprets the recorded commands. Callers hold d.mu.
func (d *Device) execute(cb *CommandBuffer) {
	st := execState{sets: make(map[uint32]driver.DescriptorSet)}
	for i := range cb.ops {
		op := &cb.ops[i]
		switch op.Kind {
		case OpBeginRenderPass:
			d.execBeginRenderPass(&st, op)
		case OpEndRenderPass:
			d.execEndRenderPass(&st)
		case OpBindPipeline:
			pl, ok := d.pipelines[op.Pipeline]
			if !ok {
				d.invalid("BindPipeline: unknown pipeline %#x", op.Pipeline)
				continue
			}
			st.pipeline = pl
		case OpBindDescriptorSets:
			d.execBindSets(&st, op)
		case OpBindVertexBuffer:
			buf, ok := d.buffers[op.Buffer]
			if !ok || buf.usage&driver.BufferUsageVertex == 0 {
				d.invalid("BindVertexBuffer: buffer %#x is not a vertex buffer", op.Buffer)
				continue
			}
			st.vertex = true
		case OpDraw:
			d.execDraw(&st, op)
		case OpCopyBuffer:
			d.execCopyBuffer(op)
		case OpCopyBufferToImage:
			d.execCopyBufferToImage(op)
		case OpPipelineBarrier:
			for _, b := range op.Barriers {
				im, ok := d.images[b.Image]
				if !ok {
					d.invalid("PipelineBarrier: unknown image %#x", b.Image)
					continue
				}
				if b.OldLayout != driver.ImageLayoutUndefined && b.OldLayout != im.layout {
					d.invalid("PipelineBarrier: image %#x is in layout %d, barrier expects %d", b.Image, im.layout, b.OldLayout)
				}
				im.layout = b.NewLayout
			}
		}
	}
	if st.pass != nil {
		d.invalid("execute: command buffer ended inside a render pass")
	}
}

func (d *Device) execBeginRenderPass(st *execState, op *Op) {
	rp, ok := d.renderPasses[op.RenderPass.RenderPass]
	if !ok {
		d.invalid("BeginRenderPass: unknown render pass %#x", op.RenderPass.RenderPass)
		return
	}
	fb, ok := d.framebuffers[op.RenderPass.Framebuffer]
	if !ok {
		d.invalid("BeginRenderPass: unknown framebuffer %#x", op.RenderPass.Framebuffer)
		return
	}
	if len(op.RenderPass.ClearValues) < len(rp.Attachments) {
		for _, a := range rp.Attachments {
			if a.LoadOp == driver.LoadOpClear {
				d.invalid("BeginRenderPass: %d clear values for %d attachments", len(op.RenderPass.ClearValues), len(rp.Attachments))
				break
			}
		}
	}
	for i, a := range rp.Attachments {
		v, ok := d.views[fb.Attachments[i]]
		if !ok {
			d.invalid("BeginRenderPass: framebuffer view %#x was destroyed", fb.Attachments[i])
			continue
		}
		im, ok := d.images[v.Image]
		if !ok {
			continue
		}
		if a.InitialLayout != driver.ImageLayoutUndefined && im.layout != a.InitialLayout {
			d.invalid("BeginRenderPass: attachment %d is in layout %d, want %d", i, im.layout, a.InitialLayout)
		}
	}
	st.pass, st.fb = rp, fb
}

func (d *Device) execEndRenderPass(st *execState) {
	if st.pass == nil {
		d.invalid("EndRenderPass: no active render pass")
		return
	}
	for i, a := range st.pass.Attachments {
		v, ok := d.views[st.fb.Attachments[i]]
		if !ok {
			continue
		}
		if im, ok := d.images[v.Image]; ok {
			im.layout = a.FinalLayout
		}
	}
	st.pass, st.fb = nil, nil
}

func (d *Device) execBindSets(st *execState, op *Op) {
	pl, ok := d.pipelineLayouts[op.Layout]
	if !ok {
		d.invalid("BindDescriptorSets: unknown pipeline layout %#x", op.Layout)
		return
	}
	offsets := op.Offsets
	for i, s := range op.Sets {
		index := op.FirstSet + uint32(i)
		if int(index) >= len(pl.SetLayouts) {
			d.invalid("BindDescriptorSets: set %d beyond pipeline layout", index)
			continue
		}
		set, ok := d.sets[s]
		if !ok {
			d.invalid("BindDescriptorSets: unknown descriptor set %#x", s)
			continue
		}
		if set.layout != pl.SetLayouts[index] {
			d.invalid("BindDescriptorSets: set %d layout %#x does not match pipeline layout %#x", index, set.layout, pl.SetLayouts[index])
		}
		offsets = d.checkDynamicOffsets(set, offsets)
		st.sets[index] = s
	}
	if len(offsets) != 0 {
		d.invalid("BindDescriptorSets: %d unused dynamic offsets", len(offsets))
	}
}

// checkDynamicOffsets consumes one offset per dynamic descriptor of set, in
// binding order, and checks the resulting range stays inside the buffer.
func (d *Device) checkDynamicOffsets(set *descriptorSet, offsets []uint32) []uint32 {
	layout, ok := d.setLayouts[set.layout]
	if !ok {
		return offsets
	}
	limits := d.adapter.Properties.Limits
	for _, b := range layout.sorted() {
		if !b.Type.IsDynamic() {
			continue
		}
		for n := uint32(0); n < b.Count; n++ {
			if len(offsets) == 0 {
				d.invalid("BindDescriptorSets: missing dynamic offset for binding %d", b.Binding)
				return nil
			}
			off := uint64(offsets[0])
			offsets = offsets[1:]
			align := limits.MinUniformBufferOffsetAlignment
			if b.Type == driver.DescriptorTypeStorageBufferDynamic {
				align = limits.MinStorageBufferOffsetAlignment
			}
			if align > 0 && off%align != 0 {
				d.invalid("BindDescriptorSets: dynamic offset %d is not a multiple of %d", off, align)
			}
			w, ok := set.writes[b.Binding]
			if !ok || int(n) >= len(w.Buffers) {
				d.invalid("BindDescriptorSets: binding %d was never written", b.Binding)
				continue
			}
			info := w.Buffers[n]
			buf, ok := d.buffers[info.Buffer]
			if !ok {
				d.invalid("BindDescriptorSets: binding %d buffer %#x was destroyed", b.Binding, info.Buffer)
				continue
			}
			if info.Offset+off+info.Range > buf.size {
				d.invalid("BindDescriptorSets: binding %d range [%d, %d) exceeds buffer size %d",
					b.Binding, info.Offset+off, info.Offset+off+info.Range, buf.size)
			}
		}
	}
	return offsets
}

func (d *Device) execDraw(st *execState, op *Op) {
	if st.pass == nil {
		d.invalid("Draw: outside a render pass")
		return
	}
	if st.pipeline == nil {
		d.invalid("Draw: no pipeline bound")
		return
	}
	if len(st.pipeline.desc.VertexBindings) > 0 && !st.vertex {
		d.invalid("Draw: no vertex buffer bound")
	}
	pl := d.pipelineLayouts[st.pipeline.layout]
	for i := range pl.SetLayouts {
		if _, ok := st.sets[uint32(i)]; !ok {
			d.invalid("Draw: descriptor set %d not bound", i)
		}
	}
	d.stats.Draws++
}

func (d *Device) execCopyBuffer(op *Op) {
	src, err := d.bufferBytes(op.Buffer)
	if err != nil {
		d.invalid("CopyBuffer: source: %v", err)
		return
	}
	dst, err := d.bufferBytes(op.BufferDst)
	if err != nil {
		d.invalid("CopyBuffer: destination: %v", err)
		return
	}
	for _, r := range op.Copies {
		if r.SrcOffset+r.Size > uint64(len(src)) || r.DstOffset+r.Size > uint64(len(dst)) {
			d.invalid("CopyBuffer: region of %d bytes out of range", r.Size)
			continue
		}
		copy(dst[r.DstOffset:r.DstOffset+r.Size], src[r.SrcOffset:r.SrcOffset+r.Size])
		d.stats.Copies++
	}
}

func (d *Device) execCopyBufferToImage(op *Op) {
	src, err := d.bufferBytes(op.Buffer)
	if err != nil {
		d.invalid("CopyBufferToImage: source: %v", err)
		return
	}
	im, ok := d.images[op.Image]
	if !ok || im.alloc == 0 {
		d.invalid("CopyBufferToImage: image %#x has no memory", op.Image)
		return
	}
	if op.ImageLayout != driver.ImageLayoutTransferDstOptimal && op.ImageLayout != driver.ImageLayoutGeneral {
		d.invalid("CopyBufferToImage: destination layout %d", op.ImageLayout)
	}
	if im.layout != op.ImageLayout {
		d.invalid("CopyBufferToImage: image is in layout %d, copy declares %d", im.layout, op.ImageLayout)
	}
	dst := d.allocs[im.alloc].data
	bpt := uint64(im.desc.Format.BytesPerTexel())
	for _, r := range op.ImageCopies {
		n := uint64(r.Extent.Width) * uint64(r.Extent.Height) * max(uint64(r.Extent.Depth), 1) * bpt
		if r.BufferOffset+n > uint64(len(src)) || n > uint64(len(dst)) {
			d.invalid("CopyBufferToImage: region of %d bytes out of range", n)
			continue
		}
		copy(dst[:n], src[r.BufferOffset:r.BufferOffset+n])
		d.stats.Copies++
	}
}
