package descriptor

import (
	"github.com/cockroachdb/errors"

	"github.com/gogpu/gfx/driver"
)

// Writer collects resource writes for sets of one layout. Invalid writes
// are recorded and reported by Build and Overwrite.
type Writer struct {
	layout *Layout
	alloc  SetAllocator
	writes []driver.DescriptorWrite
	err    error
}

// NewWriter returns a writer for sets of layout allocated from alloc.
func NewWriter(layout *Layout, alloc SetAllocator) *Writer {
	return &Writer{layout: layout, alloc: alloc}
}

func (w *Writer) binding(binding uint32, image bool) (driver.DescriptorSetLayoutBinding, bool) {
	b, ok := w.layout.Binding(binding)
	switch {
	case !ok:
		w.err = errors.CombineErrors(w.err, errors.Wrapf(ErrUnknownBinding, "binding %d", binding))
		return b, false
	case b.Count != 1:
		w.err = errors.CombineErrors(w.err, errors.Wrapf(ErrArity, "binding %d declares %d descriptors", binding, b.Count))
		return b, false
	case b.Type.IsImage() != image:
		w.err = errors.CombineErrors(w.err, errors.Wrapf(ErrTypeMismatch, "binding %d", binding))
		return b, false
	}
	return b, true
}

// WriteBuffer writes a buffer range to a single-descriptor binding.
func (w *Writer) WriteBuffer(binding uint32, info driver.DescriptorBufferInfo) *Writer {
	if b, ok := w.binding(binding, false); ok {
		w.writes = append(w.writes, driver.DescriptorWrite{
			Binding: binding,
			Type:    b.Type,
			Buffers: []driver.DescriptorBufferInfo{info},
		})
	}
	return w
}

// WriteImage writes an image to a single-descriptor binding.
func (w *Writer) WriteImage(binding uint32, info driver.DescriptorImageInfo) *Writer {
	if b, ok := w.binding(binding, true); ok {
		w.writes = append(w.writes, driver.DescriptorWrite{
			Binding: binding,
			Type:    b.Type,
			Images:  []driver.DescriptorImageInfo{info},
		})
	}
	return w
}

// Build allocates a set and applies the collected writes to it.
func (w *Writer) Build() (driver.DescriptorSet, error) {
	if w.err != nil {
		return 0, w.err
	}
	set, err := w.alloc.AllocateSet(w.layout)
	if err != nil {
		return 0, err
	}
	return set, w.Overwrite(set)
}

// Overwrite applies the collected writes to an existing set in a single
// update.
func (w *Writer) Overwrite(set driver.DescriptorSet) error {
	if w.err != nil {
		return w.err
	}
	writes := make([]driver.DescriptorWrite, len(w.writes))
	for i, wr := range w.writes {
		wr.Set = set
		writes[i] = wr
	}
	w.layout.Device().UpdateDescriptorSets(writes)
	return nil
}
