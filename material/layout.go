package material

import (
	"path/filepath"

	"github.com/cockroachdb/errors"

	"github.com/gogpu/gfx/deletion"
	"github.com/gogpu/gfx/descriptor"
	"github.com/gogpu/gfx/driver"
	"github.com/gogpu/gfx/gpuerr"
)

type binding struct {
	binding     uint32
	typ         driver.DescriptorType
	image       bool
	size        uint64
	rng         uint64
	imageLayout driver.ImageLayout
}

// Layout is a shader pair together with the descriptor bindings of its
// material set. Bindings are declared before Finalize builds the pipeline.
type Layout struct {
	sys      *System
	name     string
	vertex   string
	fragment string

	builder  *descriptor.LayoutBuilder
	bindings []binding

	setLayout      *descriptor.Layout
	pipelineLayout driver.PipelineLayout
	pipeline       driver.Pipeline
	finalized      bool
}

// Name returns the registry name.
func (l *Layout) Name() string { return l.name }

// AddDataBinding declares a buffer binding backed by a size byte buffer
// per material. A zero rng binds the whole buffer.
func (l *Layout) AddDataBinding(b uint32, typ driver.DescriptorType, stages driver.ShaderStage, size, rng uint64) *Layout {
	if rng == 0 {
		rng = size
	}
	l.builder.AddBinding(b, typ, stages, 1)
	l.bindings = append(l.bindings, binding{binding: b, typ: typ, size: size, rng: rng})
	return l
}

// AddImageBinding declares a sampled image binding. Materials supply the
// image view; the sampler is the system default.
func (l *Layout) AddImageBinding(b uint32, typ driver.DescriptorType, stages driver.ShaderStage, imageLayout driver.ImageLayout) *Layout {
	l.builder.AddBinding(b, typ, stages, 1)
	l.bindings = append(l.bindings, binding{binding: b, typ: typ, image: true, imageLayout: imageLayout})
	return l
}

func (l *Layout) lookup(b uint32) (binding, bool) {
	for _, x := range l.bindings {
		if x.binding == b {
			return x, true
		}
	}
	return binding{}, false
}

// Finalize creates the material set layout, the pipeline layout and the
// pipeline. A shader that cannot be loaded fails the layout; no pipeline
// is built without both stages.
func (l *Layout) Finalize() error {
	if l.finalized {
		return errors.Wrapf(ErrFinalized, "layout %q", l.name)
	}
	s := l.sys
	dev := s.dev

	vert, err := LoadShaderModule(dev, filepath.Join(s.shaderDir, l.vertex))
	if err != nil {
		return errors.Wrapf(err, "layout %q", l.name)
	}
	defer dev.DestroyShaderModule(vert)
	frag, err := LoadShaderModule(dev, filepath.Join(s.shaderDir, l.fragment))
	if err != nil {
		return errors.Wrapf(err, "layout %q", l.name)
	}
	defer dev.DestroyShaderModule(frag)

	// Nothing is registered for deletion until every object exists, so a
	// failed Finalize leaves no handles behind and can be retried.
	setLayout, err := l.builder.Build(dev, nil)
	if err != nil {
		return errors.Wrapf(err, "layout %q", l.name)
	}
	pipelineLayout, err := dev.CreatePipelineLayout(&driver.PipelineLayoutDescriptor{
		SetLayouts: []driver.DescriptorSetLayout{
			SetGlobal:   s.globalLayout.Handle(),
			SetMaterial: setLayout.Handle(),
			SetObject:   s.objectLayout.Handle(),
		},
	})
	if err != nil {
		setLayout.Destroy()
		return gpuerr.ResourceCreation(err, "create pipeline layout for %q", l.name)
	}

	pb := NewPipelineBuilder(s.extent).
		AddStage(driver.ShaderStageVertex, vert).
		AddStage(driver.ShaderStageFragment, frag)
	pb.Layout = pipelineLayout
	pipeline, err := pb.Build(dev, s.renderPass)
	if err != nil {
		dev.DestroyPipelineLayout(pipelineLayout)
		setLayout.Destroy()
		return errors.Wrapf(err, "layout %q", l.name)
	}

	s.queue.PushLabeled(deletion.KindDescriptorSetLayout, uint64(setLayout.Handle()), l.name)
	s.queue.PushLabeled(deletion.KindPipelineLayout, uint64(pipelineLayout), l.name)
	s.queue.PushLabeled(deletion.KindPipeline, uint64(pipeline), l.name)
	l.setLayout, l.pipelineLayout, l.pipeline = setLayout, pipelineLayout, pipeline

	l.finalized = true
	s.logger.Debug("material: layout finalized", "layout", l.name, "bindings", len(l.bindings))
	return nil
}

// Pipeline returns the pipeline built by Finalize.
func (l *Layout) Pipeline() driver.Pipeline { return l.pipeline }

// PipelineLayout returns the pipeline layout built by Finalize.
func (l *Layout) PipelineLayout() driver.PipelineLayout { return l.pipelineLayout }

// SetLayout returns the material set layout built by Finalize.
func (l *Layout) SetLayout() *descriptor.Layout { return l.setLayout }
