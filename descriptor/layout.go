// Package descriptor builds descriptor set layouts, allocates sets from
// growable pools and writes resources into them.
package descriptor

import (
	"slices"

	"github.com/cockroachdb/errors"

	"github.com/gogpu/gfx/deletion"
	"github.com/gogpu/gfx/driver"
	"github.com/gogpu/gfx/gpuerr"
)

// Layout and writer errors.
var (
	ErrDuplicateBinding = errors.New("descriptor: binding already declared")
	ErrUnknownBinding   = errors.New("descriptor: layout has no such binding")
	ErrArity            = errors.New("descriptor: binding expects multiple descriptors")
	ErrTypeMismatch     = errors.New("descriptor: write does not match binding type")
)

// LayoutBuilder collects bindings for a set layout. Errors are reported by
// Build.
type LayoutBuilder struct {
	bindings map[uint32]driver.DescriptorSetLayoutBinding
	err      error
}

// NewLayoutBuilder returns an empty builder.
func NewLayoutBuilder() *LayoutBuilder {
	return &LayoutBuilder{bindings: make(map[uint32]driver.DescriptorSetLayoutBinding)}
}

// AddBinding declares a binding. Declaring the same index twice is an
// error.
func (b *LayoutBuilder) AddBinding(binding uint32, typ driver.DescriptorType, stages driver.ShaderStage, count uint32) *LayoutBuilder {
	if _, dup := b.bindings[binding]; dup {
		b.err = errors.CombineErrors(b.err, errors.Wrapf(ErrDuplicateBinding, "binding %d", binding))
		return b
	}
	b.bindings[binding] = driver.DescriptorSetLayoutBinding{
		Binding: binding,
		Type:    typ,
		Count:   count,
		Stages:  stages,
	}
	return b
}

// Build creates the set layout and registers it in q when q is non-nil.
func (b *LayoutBuilder) Build(dev driver.Device, q *deletion.Queue) (*Layout, error) {
	if b.err != nil {
		return nil, b.err
	}
	l := &Layout{dev: dev, bindings: make(map[uint32]driver.DescriptorSetLayoutBinding, len(b.bindings))}
	for k, v := range b.bindings {
		l.bindings[k] = v
	}
	h, err := dev.CreateDescriptorSetLayout(l.Bindings())
	if err != nil {
		return nil, gpuerr.ResourceCreation(err, "create descriptor set layout with %d bindings", len(l.bindings))
	}
	l.handle = h
	if q != nil {
		q.Push(deletion.KindDescriptorSetLayout, uint64(h))
	}
	return l, nil
}

// Layout is an immutable descriptor set layout keyed by binding index.
type Layout struct {
	dev      driver.Device
	handle   driver.DescriptorSetLayout
	bindings map[uint32]driver.DescriptorSetLayoutBinding
}

// Handle returns the driver handle.
func (l *Layout) Handle() driver.DescriptorSetLayout { return l.handle }

// Device returns the device the layout was created on.
func (l *Layout) Device() driver.Device { return l.dev }

// Binding returns the declaration of binding.
func (l *Layout) Binding(binding uint32) (driver.DescriptorSetLayoutBinding, bool) {
	b, ok := l.bindings[binding]
	return b, ok
}

// Bindings returns all bindings ordered by index.
func (l *Layout) Bindings() []driver.DescriptorSetLayoutBinding {
	out := make([]driver.DescriptorSetLayoutBinding, 0, len(l.bindings))
	for _, b := range l.bindings {
		out = append(out, b)
	}
	slices.SortFunc(out, func(a, b driver.DescriptorSetLayoutBinding) int {
		return int(a.Binding) - int(b.Binding)
	})
	return out
}

// Destroy destroys a layout that was built without a deletion queue.
func (l *Layout) Destroy() {
	l.dev.DestroyDescriptorSetLayout(l.handle)
	l.handle = 0
}
