package material

import (
	"github.com/cockroachdb/errors"

	"github.com/gogpu/gfx/descriptor"
	"github.com/gogpu/gfx/driver"
	"github.com/gogpu/gfx/memory"
)

// Material is an instance of a Layout with its own resources.
type Material struct {
	sys    *System
	name   string
	layout *Layout

	buffers map[uint32]memory.AllocatedBuffer
	images  map[uint32]driver.DescriptorImageInfo

	set       driver.DescriptorSet
	finalized bool
}

// Name returns the registry name.
func (m *Material) Name() string { return m.name }

// Layout returns the layout the material was created from.
func (m *Material) Layout() *Layout { return m.layout }

// Finalized reports whether Finalize succeeded, which Bind requires.
func (m *Material) Finalized() bool { return m.finalized }

// Set returns the material descriptor set. It is zero until Finalize.
func (m *Material) Set() driver.DescriptorSet { return m.set }

// WriteBuffer copies data into the buffer of a data binding. It may be
// called before or after Finalize.
func (m *Material) WriteBuffer(b uint32, data []byte) error {
	buf, ok := m.buffers[b]
	if !ok {
		return errors.Wrapf(descriptor.ErrUnknownBinding, "material %q data binding %d", m.name, b)
	}
	return m.sys.alloc.Write(buf, 0, data)
}

// WriteImage sets the image view of an image binding, sampled with the
// system sampler. Images are fixed once the material is finalized.
func (m *Material) WriteImage(b uint32, view driver.ImageView) error {
	if m.finalized {
		return errors.Wrapf(ErrFinalized, "material %q", m.name)
	}
	bd, ok := m.layout.lookup(b)
	if !ok || !bd.image {
		return errors.Wrapf(descriptor.ErrUnknownBinding, "material %q image binding %d", m.name, b)
	}
	m.images[b] = driver.DescriptorImageInfo{
		Sampler: m.sys.sampler,
		View:    view,
		Layout:  bd.imageLayout,
	}
	return nil
}

// Finalize allocates the material set and writes every binding into it.
func (m *Material) Finalize() error {
	if m.finalized {
		return errors.Wrapf(ErrFinalized, "material %q", m.name)
	}
	w := descriptor.NewWriter(m.layout.setLayout, m.sys.pool)
	for _, b := range m.layout.bindings {
		if b.image {
			info, ok := m.images[b.binding]
			if !ok {
				return errors.Newf("material %q: image binding %d has no image", m.name, b.binding)
			}
			w.WriteImage(b.binding, info)
			continue
		}
		w.WriteBuffer(b.binding, driver.DescriptorBufferInfo{Buffer: m.buffers[b.binding].Buffer, Range: b.rng})
	}
	set, err := w.Build()
	if err != nil {
		return errors.Wrapf(err, "material %q", m.name)
	}
	m.set = set
	m.finalized = true
	return nil
}

// Bind binds the pipeline and all three sets for frame slot. The global
// and object sets are offset to the slot's region of the frame buffers.
func (m *Material) Bind(cb driver.CommandBuffer, slot int) {
	s := m.sys
	pl := m.layout.pipelineLayout
	cb.BindPipeline(m.layout.pipeline)
	cb.BindDescriptorSets(pl, SetGlobal, []driver.DescriptorSet{s.globalSet}, []uint32{s.GlobalOffset(slot)})
	cb.BindDescriptorSets(pl, SetMaterial, []driver.DescriptorSet{m.set}, nil)
	cb.BindDescriptorSets(pl, SetObject, []driver.DescriptorSet{s.objectSets[slot]}, []uint32{s.ObjectOffset(slot)})
}
