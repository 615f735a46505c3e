//go:build !(js && wasm)

package vulkan

import (
	"runtime"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/gogpu/wgpu/hal/vulkan/vk"

	"github.com/gogpu/gfx/driver"
)

func (d *Device) CreatePipelineLayout(desc *driver.PipelineLayoutDescriptor) (driver.PipelineLayout, error) {
	sets := handles[vk.DescriptorSetLayout](desc.SetLayouts)
	ranges := make([]vk.PushConstantRange, len(desc.PushConstants))
	for i, r := range desc.PushConstants {
		ranges[i] = vk.PushConstantRange{StageFlags: vk.ShaderStageFlags(r.Stages), Offset: r.Offset, Size: r.Size}
	}
	info := vk.PipelineLayoutCreateInfo{
		SType:                  vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount:         uint32(len(sets)),
		PSetLayouts:            first(sets),
		PushConstantRangeCount: uint32(len(ranges)),
		PPushConstantRanges:    first(ranges),
	}
	var h vk.PipelineLayout
	if err := result(d.cmds.CreatePipelineLayout(d.handle, &info, nil, &h), "vkCreatePipelineLayout"); err != nil {
		return 0, err
	}
	return driver.PipelineLayout(h), nil
}

func (d *Device) DestroyPipelineLayout(l driver.PipelineLayout) {
	d.cmds.DestroyPipelineLayout(d.handle, vk.PipelineLayout(l), nil)
}

func (d *Device) CreateGraphicsPipeline(desc *driver.GraphicsPipelineDescriptor) (driver.Pipeline, error) {
	if len(desc.Stages) == 0 {
		return 0, errors.New("vulkan: graphics pipeline without shader stages")
	}
	names := make([][]byte, len(desc.Stages))
	stages := make([]vk.PipelineShaderStageCreateInfo, len(desc.Stages))
	for i, s := range desc.Stages {
		entry := s.Entry
		if entry == "" {
			entry = "main"
		}
		names[i] = cstring(entry)
		stages[i] = vk.PipelineShaderStageCreateInfo{
			SType:  vk.StructureTypePipelineShaderStageCreateInfo,
			Stage:  vk.ShaderStageFlagBits(s.Stage),
			Module: vk.ShaderModule(s.Module),
			PName:  uintptr(unsafe.Pointer(&names[i][0])),
		}
	}

	bindings := make([]vk.VertexInputBindingDescription, len(desc.VertexBindings))
	for i, b := range desc.VertexBindings {
		bindings[i] = vk.VertexInputBindingDescription{Binding: b.Binding, Stride: b.Stride, InputRate: vk.VertexInputRateVertex}
	}
	attrs := make([]vk.VertexInputAttributeDescription, len(desc.VertexAttributes))
	for i, a := range desc.VertexAttributes {
		attrs[i] = vk.VertexInputAttributeDescription{Location: a.Location, Binding: a.Binding, Format: vk.Format(a.Format), Offset: a.Offset}
	}
	vertexInput := vk.PipelineVertexInputStateCreateInfo{
		SType:                           vk.StructureTypePipelineVertexInputStateCreateInfo,
		VertexBindingDescriptionCount:   uint32(len(bindings)),
		PVertexBindingDescriptions:      first(bindings),
		VertexAttributeDescriptionCount: uint32(len(attrs)),
		PVertexAttributeDescriptions:    first(attrs),
	}
	inputAssembly := vk.PipelineInputAssemblyStateCreateInfo{
		SType:    vk.StructureTypePipelineInputAssemblyStateCreateInfo,
		Topology: vk.PrimitiveTopology(desc.Topology),
	}

	viewport := vk.Viewport{
		X: desc.Viewport.X, Y: desc.Viewport.Y,
		Width: desc.Viewport.Width, Height: desc.Viewport.Height,
		MinDepth: desc.Viewport.MinDepth, MaxDepth: desc.Viewport.MaxDepth,
	}
	scissor := rect(desc.Scissor)
	viewportState := vk.PipelineViewportStateCreateInfo{
		SType:         vk.StructureTypePipelineViewportStateCreateInfo,
		ViewportCount: 1,
		PViewports:    &viewport,
		ScissorCount:  1,
		PScissors:     &scissor,
	}
	raster := vk.PipelineRasterizationStateCreateInfo{
		SType:       vk.StructureTypePipelineRasterizationStateCreateInfo,
		PolygonMode: vk.PolygonMode(desc.PolygonMode),
		CullMode:    vk.CullModeFlags(desc.CullMode),
		FrontFace:   vk.FrontFace(desc.FrontFace),
		LineWidth:   1,
	}
	multisample := vk.PipelineMultisampleStateCreateInfo{
		SType:                vk.StructureTypePipelineMultisampleStateCreateInfo,
		RasterizationSamples: vk.SampleCountFlagBits(max(desc.Samples, driver.SampleCount1)),
		MinSampleShading:     1,
	}
	depth := vk.PipelineDepthStencilStateCreateInfo{
		SType:            vk.StructureTypePipelineDepthStencilStateCreateInfo,
		DepthTestEnable:  bool32(desc.DepthTest),
		DepthWriteEnable: bool32(desc.DepthWrite),
		DepthCompareOp:   vk.CompareOp(desc.DepthCompare),
		MaxDepthBounds:   1,
	}
	blendAttachment := vk.PipelineColorBlendAttachmentState{
		ColorWriteMask: vk.ColorComponentFlags(vk.ColorComponentRBit | vk.ColorComponentGBit | vk.ColorComponentBBit | vk.ColorComponentABit),
	}
	if desc.BlendEnable {
		blendAttachment.BlendEnable = 1
		blendAttachment.SrcColorBlendFactor = vk.BlendFactorSrcAlpha
		blendAttachment.DstColorBlendFactor = vk.BlendFactorOneMinusSrcAlpha
		blendAttachment.ColorBlendOp = vk.BlendOpAdd
		blendAttachment.SrcAlphaBlendFactor = vk.BlendFactorOne
		blendAttachment.DstAlphaBlendFactor = vk.BlendFactorZero
		blendAttachment.AlphaBlendOp = vk.BlendOpAdd
	}
	blend := vk.PipelineColorBlendStateCreateInfo{
		SType:           vk.StructureTypePipelineColorBlendStateCreateInfo,
		AttachmentCount: 1,
		PAttachments:    &blendAttachment,
	}

	info := vk.GraphicsPipelineCreateInfo{
		SType:               vk.StructureTypeGraphicsPipelineCreateInfo,
		StageCount:          uint32(len(stages)),
		PStages:             &stages[0],
		PVertexInputState:   &vertexInput,
		PInputAssemblyState: &inputAssembly,
		PViewportState:      &viewportState,
		PRasterizationState: &raster,
		PMultisampleState:   &multisample,
		PDepthStencilState:  &depth,
		PColorBlendState:    &blend,
		Layout:              vk.PipelineLayout(desc.Layout),
		RenderPass:          vk.RenderPass(desc.RenderPass),
		Subpass:             desc.Subpass,
		BasePipelineIndex:   -1,
	}
	var h vk.Pipeline
	r := d.cmds.CreateGraphicsPipelines(d.handle, 0, 1, &info, nil, &h)
	runtime.KeepAlive(names)
	if err := result(r, "vkCreateGraphicsPipelines"); err != nil {
		return 0, err
	}
	return driver.Pipeline(h), nil
}

func (d *Device) DestroyPipeline(p driver.Pipeline) {
	d.cmds.DestroyPipeline(d.handle, vk.Pipeline(p), nil)
}

func rect(r driver.Rect2D) vk.Rect2D {
	return vk.Rect2D{
		Offset: vk.Offset2D{X: r.X, Y: r.Y},
		Extent: vk.Extent2D{Width: r.Extent.Width, Height: r.Extent.Height},
	}
}

func isDepthFormat(f driver.Format) bool {
	return f == driver.FormatD32Sfloat || f.HasStencil()
}

func (d *Device) CreateRenderPass(desc *driver.RenderPassDescriptor) (driver.RenderPass, error) {
	attachments := make([]vk.AttachmentDescription, len(desc.Attachments))
	depth := make([]bool, len(desc.Attachments))
	for i, a := range desc.Attachments {
		attachments[i] = vk.AttachmentDescription{
			Format:         vk.Format(a.Format),
			Samples:        vk.SampleCountFlagBits(max(a.Samples, driver.SampleCount1)),
			LoadOp:         vk.AttachmentLoadOp(a.LoadOp),
			StoreOp:        vk.AttachmentStoreOp(a.StoreOp),
			StencilLoadOp:  vk.AttachmentLoadOp(a.StencilLoadOp),
			StencilStoreOp: vk.AttachmentStoreOp(a.StencilStoreOp),
			InitialLayout:  vk.ImageLayout(a.InitialLayout),
			FinalLayout:    vk.ImageLayout(a.FinalLayout),
		}
		depth[i] = isDepthFormat(a.Format)
	}

	colorRefs := make([][]vk.AttachmentReference, len(desc.Subpasses))
	depthRefs := make([]vk.AttachmentReference, len(desc.Subpasses))
	subpasses := make([]vk.SubpassDescription, len(desc.Subpasses))
	for i, s := range desc.Subpasses {
		for _, c := range s.ColorAttachments {
			colorRefs[i] = append(colorRefs[i], vk.AttachmentReference{Attachment: c.Attachment, Layout: vk.ImageLayout(c.Layout)})
		}
		subpasses[i] = vk.SubpassDescription{
			PipelineBindPoint:    vk.PipelineBindPointGraphics,
			ColorAttachmentCount: uint32(len(colorRefs[i])),
			PColorAttachments:    first(colorRefs[i]),
		}
		if s.DepthAttachment != nil {
			depthRefs[i] = vk.AttachmentReference{Attachment: s.DepthAttachment.Attachment, Layout: vk.ImageLayout(s.DepthAttachment.Layout)}
			subpasses[i].PDepthStencilAttachment = &depthRefs[i]
		}
	}

	deps := make([]vk.SubpassDependency, len(desc.Dependencies))
	for i, dep := range desc.Dependencies {
		deps[i] = vk.SubpassDependency{
			SrcSubpass:    dep.SrcSubpass,
			DstSubpass:    dep.DstSubpass,
			SrcStageMask:  vk.PipelineStageFlags(dep.SrcStages),
			DstStageMask:  vk.PipelineStageFlags(dep.DstStages),
			SrcAccessMask: vk.AccessFlags(dep.SrcAccess),
			DstAccessMask: vk.AccessFlags(dep.DstAccess),
		}
	}

	info := vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: uint32(len(attachments)),
		PAttachments:    first(attachments),
		SubpassCount:    uint32(len(subpasses)),
		PSubpasses:      first(subpasses),
		DependencyCount: uint32(len(deps)),
		PDependencies:   first(deps),
	}
	var h vk.RenderPass
	r := d.cmds.CreateRenderPass(d.handle, &info, nil, &h)
	runtime.KeepAlive(colorRefs)
	runtime.KeepAlive(depthRefs)
	if err := result(r, "vkCreateRenderPass"); err != nil {
		return 0, err
	}
	d.mu.Lock()
	d.passes[driver.RenderPass(h)] = depth
	d.mu.Unlock()
	return driver.RenderPass(h), nil
}

func (d *Device) DestroyRenderPass(p driver.RenderPass) {
	d.mu.Lock()
	delete(d.passes, p)
	d.mu.Unlock()
	d.cmds.DestroyRenderPass(d.handle, vk.RenderPass(p), nil)
}

// clearValues converts clears using the attachment kinds recorded when the
// render pass was created.
func (d *Device) clearValues(pass driver.RenderPass, in []driver.ClearValue) []vk.ClearValue {
	d.mu.Lock()
	depth := d.passes[pass]
	d.mu.Unlock()
	out := make([]vk.ClearValue, len(in))
	for i, c := range in {
		if i < len(depth) && depth[i] {
			out[i] = vk.ClearValueDepthStencil(c.Depth, c.Stencil)
			continue
		}
		out[i] = vk.ClearValueColor(c.Color[0], c.Color[1], c.Color[2], c.Color[3])
	}
	return out
}

func (d *Device) CreateFramebuffer(desc *driver.FramebufferDescriptor) (driver.Framebuffer, error) {
	views := handles[vk.ImageView](desc.Attachments)
	info := vk.FramebufferCreateInfo{
		SType:           vk.StructureTypeFramebufferCreateInfo,
		RenderPass:      vk.RenderPass(desc.RenderPass),
		AttachmentCount: uint32(len(views)),
		PAttachments:    first(views),
		Width:           desc.Extent.Width,
		Height:          desc.Extent.Height,
		Layers:          1,
	}
	var h vk.Framebuffer
	if err := result(d.cmds.CreateFramebuffer(d.handle, &info, nil, &h), "vkCreateFramebuffer"); err != nil {
		return 0, err
	}
	return driver.Framebuffer(h), nil
}

func (d *Device) DestroyFramebuffer(fb driver.Framebuffer) {
	d.cmds.DestroyFramebuffer(d.handle, vk.Framebuffer(fb), nil)
}
