package material

import (
	"github.com/gogpu/gfx/driver"
	"github.com/gogpu/gfx/geom"
	"github.com/gogpu/gfx/gpuerr"
)

// EntryPoint is the shader entry point of every stage.
const EntryPoint = "main"

// PipelineBuilder collects the fixed-function state of a graphics
// pipeline. NewPipelineBuilder fills in the engine defaults.
type PipelineBuilder struct {
	Stages           []driver.ShaderStageDescriptor
	VertexBindings   []driver.VertexBinding
	VertexAttributes []driver.VertexAttribute
	Topology         driver.Topology
	Viewport         driver.Viewport
	Scissor          driver.Rect2D
	PolygonMode      driver.PolygonMode
	CullMode         driver.CullMode
	FrontFace        driver.FrontFace
	Samples          driver.SampleCount
	BlendEnable      bool
	DepthTest        bool
	DepthWrite       bool
	DepthCompare     driver.CompareOp
	Layout           driver.PipelineLayout
}

// NewPipelineBuilder returns a builder for opaque, depth-tested triangle
// lists of geom.Vertex covering extent.
func NewPipelineBuilder(extent driver.Extent2D) *PipelineBuilder {
	bindings, attrs := geom.VertexInput()
	return &PipelineBuilder{
		VertexBindings:   bindings,
		VertexAttributes: attrs,
		Topology:         driver.TopologyTriangleList,
		Viewport: driver.Viewport{
			Width:    float32(extent.Width),
			Height:   float32(extent.Height),
			MaxDepth: 1,
		},
		Scissor:      driver.Rect2D{Extent: extent},
		PolygonMode:  driver.PolygonModeFill,
		CullMode:     driver.CullModeNone,
		FrontFace:    driver.FrontFaceClockwise,
		Samples:      driver.SampleCount1,
		DepthTest:    true,
		DepthWrite:   true,
		DepthCompare: driver.CompareOpLessOrEqual,
	}
}

// AddStage appends a shader stage using EntryPoint.
func (b *PipelineBuilder) AddStage(stage driver.ShaderStage, module driver.ShaderModule) *PipelineBuilder {
	b.Stages = append(b.Stages, driver.ShaderStageDescriptor{Stage: stage, Module: module, Entry: EntryPoint})
	return b
}

// Build creates the pipeline for subpass 0 of pass.
func (b *PipelineBuilder) Build(dev driver.Device, pass driver.RenderPass) (driver.Pipeline, error) {
	compare := b.DepthCompare
	if !b.DepthTest {
		compare = driver.CompareOpAlways
	}
	p, err := dev.CreateGraphicsPipeline(&driver.GraphicsPipelineDescriptor{
		Stages:           b.Stages,
		VertexBindings:   b.VertexBindings,
		VertexAttributes: b.VertexAttributes,
		Topology:         b.Topology,
		Viewport:         b.Viewport,
		Scissor:          b.Scissor,
		PolygonMode:      b.PolygonMode,
		CullMode:         b.CullMode,
		FrontFace:        b.FrontFace,
		Samples:          b.Samples,
		BlendEnable:      b.BlendEnable,
		DepthTest:        b.DepthTest,
		DepthWrite:       b.DepthWrite,
		DepthCompare:     compare,
		Layout:           b.Layout,
		RenderPass:       pass,
	})
	if err != nil {
		return 0, gpuerr.ResourceCreation(err, "create graphics pipeline")
	}
	return p, nil
}
